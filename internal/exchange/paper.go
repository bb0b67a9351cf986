package exchange

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// Paper proxies market data to a real exchange and simulates order
// handling in memory. Post-only entries and market exits fill
// immediately at the requested price with a flat fee; protective limit
// and stop orders rest open until cancelled, leaving exit decisions to
// the position monitor.
type Paper struct {
	real    Exchange
	feeRate float64
	logger  *log.Logger

	mu      sync.Mutex
	counter int64
	orders  map[string]OrderState
	fills   map[string][]order.Fill
}

// NewPaper wraps a real exchange for paper trading. feeRate is the
// flat commission rate applied to every simulated fill, e.g. 0.006.
func NewPaper(real Exchange, feeRate float64) *Paper {
	return &Paper{
		real:    real,
		feeRate: feeRate,
		logger:  utils.GetLogger(),
		counter: 1000,
		orders:  make(map[string]OrderState),
		fills:   make(map[string][]order.Fill),
	}
}

func (p *Paper) Name() string {
	return "paper-" + p.real.Name()
}

// Market data passes straight through to the real exchange.

func (p *Paper) PortfolioID(ctx context.Context) (string, error) {
	return p.real.PortfolioID(ctx)
}

func (p *Paper) Balances(ctx context.Context, portfolioID string, minValue float64) (map[string]market.Balance, error) {
	return p.real.Balances(ctx, portfolioID, minValue)
}

func (p *Paper) TradableProducts(ctx context.Context, balances map[string]market.Balance) ([]market.Product, error) {
	return p.real.TradableProducts(ctx, balances)
}

func (p *Paper) Product(ctx context.Context, productID string) (market.Product, error) {
	return p.real.Product(ctx, productID)
}

func (p *Paper) Candles(ctx context.Context, productID, granularity string, count int) ([]candle.Candle, error) {
	return p.real.Candles(ctx, productID, granularity, count)
}

func (p *Paper) CandlesBetween(ctx context.Context, productID, granularity string, start, end time.Time) ([]candle.Candle, error) {
	return p.real.CandlesBetween(ctx, productID, granularity, start, end)
}

func (p *Paper) BestBidAsk(ctx context.Context, productIDs []string) (map[string]market.Quote, error) {
	return p.real.BestBidAsk(ctx, productIDs)
}

func (p *Paper) MarketTrades(ctx context.Context, productID string, limit int) ([]market.Trade, error) {
	return p.real.MarketTrades(ctx, productID, limit)
}

func (p *Paper) LatestPrice(ctx context.Context, productID string) (float64, error) {
	return p.real.LatestPrice(ctx, productID)
}

// PreviewOrder estimates cost locally from the flat fee rate so paper
// runs stay deterministic and need no account-bound endpoint.
func (p *Paper) PreviewOrder(ctx context.Context, req OrderRequest) (Preview, error) {
	if _, err := buildOrderConfiguration(req); err != nil {
		return Preview{}, err
	}
	price := req.LimitPrice
	if req.Type == order.TypeMarket {
		latest, err := p.real.LatestPrice(ctx, req.ProductID)
		if err != nil {
			return Preview{}, err
		}
		price = latest
	}
	notional := req.BaseSize * price
	return Preview{
		BaseSize:        req.BaseSize,
		QuoteSize:       notional,
		CommissionTotal: notional * p.feeRate,
		AvgFillPrice:    price,
		OrderTotal:      notional + notional*p.feeRate,
	}, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (Placed, error) {
	select {
	case <-ctx.Done():
		return Placed{}, ctx.Err()
	default:
	}
	if _, err := buildOrderConfiguration(req); err != nil {
		return Placed{}, err
	}

	now := time.Now().UTC()
	state := OrderState{
		ProductID: req.ProductID,
		Side:      req.Side,
		Status:    order.StatusOpen,
		RawStatus: "OPEN",
		CreatedAt: now,
	}
	var fill *order.Fill
	switch req.Type {
	case order.TypeLimitGTCPostOnly:
		// Assume the maker order fills at our price.
		f := p.simulateFill(&state, req.BaseSize, req.LimitPrice, "MAKER", now)
		fill = &f
	case order.TypeMarket:
		price, err := p.real.LatestPrice(ctx, req.ProductID)
		if err != nil {
			return Placed{}, fmt.Errorf("paper market order %s: %w", req.ProductID, err)
		}
		f := p.simulateFill(&state, req.BaseSize, price, "TAKER", now)
		fill = &f
	}

	p.mu.Lock()
	p.counter++
	orderID := fmt.Sprintf("paper_%d_%d", now.Unix(), p.counter)
	state.OrderID = orderID
	if fill != nil {
		fill.OrderID = orderID
		p.fills[orderID] = []order.Fill{*fill}
	}
	p.orders[orderID] = state
	p.mu.Unlock()

	p.logger.Printf("Exchange | Paper order %s: %s %s %s size %s, status %s", orderID, req.Side, req.Type, req.ProductID, formatNum(req.BaseSize), state.RawStatus)
	return Placed{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		ProductID:     req.ProductID,
		Side:          req.Side,
		CreatedAt:     now,
	}, nil
}

func (p *Paper) simulateFill(state *OrderState, size, price float64, liquidity string, at time.Time) order.Fill {
	state.Status = order.StatusFilled
	state.RawStatus = "FILLED"
	state.FilledSize = size
	state.AvgFilledPrice = price
	state.TotalFees = size * price * p.feeRate
	return order.Fill{
		TradeID:            uuid.NewString(),
		ProductID:          state.ProductID,
		Price:              price,
		Size:               size,
		Commission:         state.TotalFees,
		LiquidityIndicator: liquidity,
		Time:               at,
	}
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper cancel %s: unknown order", orderID)
	}
	if state.Status.IsTerminal() {
		return fmt.Errorf("paper cancel %s: order already %s", orderID, state.Status)
	}
	state.Status = order.StatusCancelled
	state.RawStatus = "CANCELLED"
	p.orders[orderID] = state
	return nil
}

func (p *Paper) OrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	select {
	case <-ctx.Done():
		return OrderState{}, ctx.Err()
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.orders[orderID]
	if !ok {
		return OrderState{}, fmt.Errorf("paper order %s not found", orderID)
	}
	return state, nil
}

func (p *Paper) Fills(ctx context.Context, orderID string) ([]order.Fill, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fills := p.fills[orderID]
	out := make([]order.Fill, len(fills))
	copy(out, fills)
	return out, nil
}

// TransactionSummary reports the flat paper fee rate rather than the
// live account's tier.
func (p *Paper) TransactionSummary(ctx context.Context) (FeeSummary, error) {
	return FeeSummary{MakerFeeRate: p.feeRate, TakerFeeRate: p.feeRate}, nil
}
