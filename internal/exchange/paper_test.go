package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/order"
)

// stubVenue satisfies Exchange with canned market data.
type stubVenue struct {
	price    float64
	priceErr error
}

func (s *stubVenue) Name() string                                { return "stub" }
func (s *stubVenue) PortfolioID(context.Context) (string, error) { return "p-1", nil }

func (s *stubVenue) Balances(context.Context, string, float64) (map[string]market.Balance, error) {
	return map[string]market.Balance{"USD": {Asset: "USD", Available: 1000}}, nil
}

func (s *stubVenue) TradableProducts(context.Context, map[string]market.Balance) ([]market.Product, error) {
	return nil, nil
}

func (s *stubVenue) Product(ctx context.Context, productID string) (market.Product, error) {
	return market.Product{ProductID: productID, Price: s.price}, s.priceErr
}

func (s *stubVenue) Candles(context.Context, string, string, int) ([]candle.Candle, error) {
	return nil, nil
}

func (s *stubVenue) CandlesBetween(context.Context, string, string, time.Time, time.Time) ([]candle.Candle, error) {
	return nil, nil
}

func (s *stubVenue) BestBidAsk(context.Context, []string) (map[string]market.Quote, error) {
	return nil, nil
}

func (s *stubVenue) MarketTrades(context.Context, string, int) ([]market.Trade, error) {
	return nil, nil
}

func (s *stubVenue) LatestPrice(context.Context, string) (float64, error) {
	return s.price, s.priceErr
}

func (s *stubVenue) PreviewOrder(context.Context, OrderRequest) (Preview, error) {
	return Preview{}, nil
}

func (s *stubVenue) PlaceOrder(context.Context, OrderRequest) (Placed, error) {
	return Placed{}, nil
}

func (s *stubVenue) CancelOrder(context.Context, string) error { return nil }

func (s *stubVenue) OrderStatus(context.Context, string) (OrderState, error) {
	return OrderState{}, nil
}

func (s *stubVenue) Fills(context.Context, string) ([]order.Fill, error) { return nil, nil }

func (s *stubVenue) TransactionSummary(context.Context) (FeeSummary, error) {
	return FeeSummary{}, nil
}

func TestPaperPostOnlyEntryFillsAtLimitPrice(t *testing.T) {
	p := NewPaper(&stubVenue{price: 100}, 0.006)

	placed, err := p.PlaceOrder(context.Background(), OrderRequest{
		ProductID:  "BTC-USD",
		Side:       order.SideBuy,
		Type:       order.TypeLimitGTCPostOnly,
		BaseSize:   0.5,
		LimitPrice: 64000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, placed.OrderID)

	state, err := p.OrderStatus(context.Background(), placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, state.Status)
	assert.InDelta(t, 0.5, state.FilledSize, 1e-9)
	assert.InDelta(t, 64000.0, state.AvgFilledPrice, 1e-9)
	assert.InDelta(t, 192.0, state.TotalFees, 1e-9)

	fills, err := p.Fills(context.Background(), placed.OrderID)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "MAKER", fills[0].LiquidityIndicator)
	assert.Equal(t, placed.OrderID, fills[0].OrderID)

	err = p.CancelOrder(context.Background(), placed.OrderID)
	assert.ErrorContains(t, err, "already filled")
}

func TestPaperProtectiveOrdersRestOpen(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(&stubVenue{price: 100}, 0.006)

	stop, err := p.PlaceOrder(ctx, OrderRequest{
		ProductID:  "ETH-USD",
		Side:       order.SideSell,
		Type:       order.TypeStopLimit,
		BaseSize:   2,
		LimitPrice: 94.05,
		StopPrice:  95,
	})
	require.NoError(t, err)
	target, err := p.PlaceOrder(ctx, OrderRequest{
		ProductID:  "ETH-USD",
		Side:       order.SideSell,
		Type:       order.TypeLimitGTC,
		BaseSize:   2,
		LimitPrice: 110,
	})
	require.NoError(t, err)

	for _, id := range []string{stop.OrderID, target.OrderID} {
		state, err := p.OrderStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, order.StatusOpen, state.Status)

		fills, err := p.Fills(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, fills)
	}

	require.NoError(t, p.CancelOrder(ctx, stop.OrderID))
	state, err := p.OrderStatus(ctx, stop.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, state.Status)
}

func TestPaperMarketOrderFillsAtLatestPrice(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(&stubVenue{price: 101.5}, 0.006)

	placed, err := p.PlaceOrder(ctx, OrderRequest{
		ProductID: "ETH-USD",
		Side:      order.SideSell,
		Type:      order.TypeMarket,
		BaseSize:  2,
	})
	require.NoError(t, err)

	state, err := p.OrderStatus(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, state.Status)
	assert.InDelta(t, 101.5, state.AvgFilledPrice, 1e-9)

	fills, err := p.Fills(ctx, placed.OrderID)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "TAKER", fills[0].LiquidityIndicator)

	// Price lookup failures abort the order.
	broken := NewPaper(&stubVenue{priceErr: errors.New("feed down")}, 0.006)
	_, err = broken.PlaceOrder(ctx, OrderRequest{
		ProductID: "ETH-USD",
		Side:      order.SideSell,
		Type:      order.TypeMarket,
		BaseSize:  2,
	})
	assert.Error(t, err)
}

func TestPaperPreviewUsesFlatFee(t *testing.T) {
	p := NewPaper(&stubVenue{price: 100}, 0.006)

	preview, err := p.PreviewOrder(context.Background(), OrderRequest{
		ProductID:  "ETH-USD",
		Side:       order.SideBuy,
		Type:       order.TypeLimitGTCPostOnly,
		BaseSize:   2,
		LimitPrice: 50,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, preview.QuoteSize, 1e-9)
	assert.InDelta(t, 0.6, preview.CommissionTotal, 1e-9)
	assert.InDelta(t, 100.6, preview.OrderTotal, 1e-9)
	assert.InDelta(t, 50.0, preview.AvgFillPrice, 1e-9)
}

func TestPaperProxiesMarketData(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(&stubVenue{price: 123.45}, 0.006)

	assert.Equal(t, "paper-stub", p.Name())

	price, err := p.LatestPrice(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 123.45, price)

	id, err := p.PortfolioID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)

	summary, err := p.TransactionSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.006, summary.MakerFeeRate)
	assert.Equal(t, 0.006, summary.TakerFeeRate)
}

func TestPaperUnknownOrder(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(&stubVenue{}, 0.006)

	_, err := p.OrderStatus(ctx, "nope")
	assert.ErrorContains(t, err, "not found")
	assert.ErrorContains(t, p.CancelOrder(ctx, "nope"), "unknown order")
}
