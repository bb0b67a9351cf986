package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psreek-ai/coinbase-trader/internal/db"
	"github.com/psreek-ai/coinbase-trader/internal/exchange"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/position"
	"github.com/psreek-ai/coinbase-trader/internal/risk"
	"github.com/psreek-ai/coinbase-trader/internal/strategy"
)

// fakeVenue scripts the exchange surface one test at a time. The
// defaults from newFakeVenue describe a clean, fillable market; each
// test turns the one dial it cares about.
type fakeVenue struct {
	mu sync.Mutex

	quotes     map[string]market.Quote
	prices     map[string]float64
	trades     []market.Trade
	preview    exchange.Preview
	previewErr error

	placeErr  map[string]error // keyed by order type
	status    order.Status     // reported for every order
	fills     []order.Fill
	cancelErr error

	placed    []exchange.OrderRequest
	cancelled []string
	seq       int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		quotes: map[string]market.Quote{
			"BTC-USD": {ProductID: "BTC-USD", Bid: 99.95, Ask: 100.01, Time: time.Now().UTC()},
		},
		prices:  map[string]float64{"BTC-USD": 100.0},
		trades:  tape(60, 40),
		preview: exchange.Preview{CommissionTotal: 1.2, SlippagePct: 0.1},
		status:  order.StatusFilled,
		fills: []order.Fill{
			{Price: 100.0, Size: 10, Commission: 1.1, LiquidityIndicator: "MAKER"},
		},
	}
}

func (f *fakeVenue) Name() string { return "fake" }

func (f *fakeVenue) BestBidAsk(ctx context.Context, productIDs []string) (map[string]market.Quote, error) {
	return f.quotes, nil
}

func (f *fakeVenue) LatestPrice(ctx context.Context, productID string) (float64, error) {
	if p, ok := f.prices[productID]; ok {
		return p, nil
	}
	return 0, errors.New("no price")
}

func (f *fakeVenue) MarketTrades(ctx context.Context, productID string, limit int) ([]market.Trade, error) {
	return f.trades, nil
}

func (f *fakeVenue) PreviewOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Preview, error) {
	if f.previewErr != nil {
		return exchange.Preview{}, f.previewErr
	}
	p := f.preview
	if p.BaseSize == 0 {
		p.BaseSize = req.BaseSize
	}
	return p, nil
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Placed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.placeErr[req.Type]; err != nil {
		return exchange.Placed{}, err
	}
	f.seq++
	f.placed = append(f.placed, req)
	return exchange.Placed{
		OrderID:       fmt.Sprintf("ex-%d", f.seq),
		ClientOrderID: req.ClientOrderID,
		ProductID:     req.ProductID,
		Side:          req.Side,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeVenue) OrderStatus(ctx context.Context, orderID string) (exchange.OrderState, error) {
	return exchange.OrderState{OrderID: orderID, Status: f.status}, nil
}

func (f *fakeVenue) Fills(ctx context.Context, orderID string) ([]order.Fill, error) {
	return f.fills, nil
}

// recordingNotifier captures alerts so tests can assert on escalation.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Send(msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) SendWithRetry(msg string) error { return n.Send(msg) }

func (n *recordingNotifier) RetryWithNotification(action func() error, description string) error {
	return action()
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

func tape(buys, sells int) []market.Trade {
	var out []market.Trade
	for i := 0; i < buys; i++ {
		out = append(out, market.Trade{ProductID: "BTC-USD", Price: 100, Size: 1, Side: "BUY"})
	}
	for i := 0; i < sells; i++ {
		out = append(out, market.Trade{ProductID: "BTC-USD", Price: 100, Size: 1, Side: "SELL"})
	}
	return out
}

func btcProduct() market.Product {
	return market.Product{
		ProductID:      "BTC-USD",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USD",
		Status:         "online",
		Price:          100.0,
		BaseMinSize:    0.0001,
		BaseIncrement:  0.00000001,
		QuoteIncrement: 0.01,
	}
}

func buySignal(confidence float64) strategy.Signal {
	return strategy.Signal{
		ProductID:  "BTC-USD",
		Action:     strategy.Buy,
		Confidence: confidence,
		Score:      3,
		Reasons:    []string{"ma crossover"},
		Price:      100.0,
		Strategy:   "momentum",
		Time:       time.Now().UTC(),
	}
}

func usdBalances(available float64) map[string]market.Balance {
	return map[string]market.Balance{
		"USD": {Asset: "USD", Available: available, Value: available},
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.EntryFillWait = 15 * time.Millisecond
	cfg.ExitFillWait = 15 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	return cfg
}

func TestExecuteBuyOpensBracketedPosition(t *testing.T) {
	venue := newFakeVenue()
	store := db.NewMemory()
	ex := New(fastConfig(), venue, store, risk.NewManager(risk.DefaultConfig()), nil, "momentum")

	traded, err := ex.ExecuteBuy(context.Background(), btcProduct(), buySignal(0.8), usdBalances(10000), 10000)
	require.NoError(t, err)
	assert.True(t, traded)

	// Entry limit, then the stop-limit and take-profit legs.
	require.Len(t, venue.placed, 3)
	entry, stop, tp := venue.placed[0], venue.placed[1], venue.placed[2]

	assert.Equal(t, order.SideBuy, entry.Side)
	assert.Equal(t, order.TypeLimitGTCPostOnly, entry.Type)
	assert.InDelta(t, 100.0, entry.LimitPrice, 1e-6) // one tick inside the 100.01 ask
	assert.InDelta(t, 10.0, entry.BaseSize, 1e-6)    // capped at 10% of equity

	assert.Equal(t, order.TypeStopLimit, stop.Type)
	assert.Equal(t, order.SideSell, stop.Side)
	assert.InDelta(t, 98.5, stop.StopPrice, 1e-6)
	assert.InDelta(t, 98.5*stopLimitSlip, stop.LimitPrice, 1e-6)

	assert.Equal(t, order.TypeLimitGTC, tp.Type)
	assert.Equal(t, order.SideSell, tp.Side)
	assert.InDelta(t, 103.0, tp.LimitPrice, 1e-6)

	open, err := store.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	pos := open[0]
	assert.Equal(t, "BTC-USD", pos.ProductID)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-6)
	assert.InDelta(t, 10.0, pos.BaseSize, 1e-6)
	assert.InDelta(t, 1.1, pos.FeesPaid, 1e-6)
	assert.Equal(t, "momentum", pos.Strategy)
	assert.Equal(t, position.ProtectiveOrderIDs{Stop: "ex-2", TakeProfit: "ex-3"}, pos.Protective)

	// Entry row is terminal; the two protective legs rest as open orders
	// for the reconciler to watch.
	openOrders, err := store.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, openOrders, 2)
	for _, o := range openOrders {
		assert.Equal(t, order.SideSell, o.Side)
		assert.Equal(t, order.StatusSubmitted, o.Status)
		assert.Equal(t, true, o.Metadata["protective"])
	}

	entryRow, err := store.GetOrderByExchangeID(context.Background(), "ex-1")
	require.NoError(t, err)
	require.NotNil(t, entryRow)
	assert.Equal(t, order.StatusFilled, entryRow.Status)
	assert.InDelta(t, 100.0, entryRow.FilledPrice, 1e-6)
	assert.InDelta(t, 1.1, entryRow.Commission, 1e-6)
}

func TestExecuteBuyGates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(v *fakeVenue)
	}{
		{
			name: "spread too wide",
			mutate: func(v *fakeVenue) {
				v.quotes["BTC-USD"] = market.Quote{ProductID: "BTC-USD", Bid: 98.0, Ask: 100.0}
			},
		},
		{
			name:   "weak buy pressure",
			mutate: func(v *fakeVenue) { v.trades = tape(30, 70) },
		},
		{
			name:   "preview fee above ceiling",
			mutate: func(v *fakeVenue) { v.preview.CommissionTotal = 15.0 },
		},
		{
			name:   "preview slippage above ceiling",
			mutate: func(v *fakeVenue) { v.preview.SlippagePct = 0.75 },
		},
		{
			name:   "preview rejected",
			mutate: func(v *fakeVenue) { v.preview.Errs = []string{"INSUFFICIENT_FUND"} },
		},
		{
			name:   "preview unavailable",
			mutate: func(v *fakeVenue) { v.previewErr = errors.New("rate limited") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			venue := newFakeVenue()
			tt.mutate(venue)
			store := db.NewMemory()
			ex := New(fastConfig(), venue, store, risk.NewManager(risk.DefaultConfig()), nil, "momentum")

			traded, err := ex.ExecuteBuy(context.Background(), btcProduct(), buySignal(0.8), usdBalances(10000), 10000)
			require.NoError(t, err)
			assert.False(t, traded)
			assert.Empty(t, venue.placed, "no order should reach the exchange")

			open, err := store.GetOpenPositions(context.Background())
			require.NoError(t, err)
			assert.Empty(t, open)
		})
	}
}

func TestExecuteBuySkipsWhenAlreadyHolding(t *testing.T) {
	venue := newFakeVenue()
	ex := New(fastConfig(), venue, db.NewMemory(), risk.NewManager(risk.DefaultConfig()), nil, "momentum")

	balances := usdBalances(10000)
	balances["BTC"] = market.Balance{Asset: "BTC", Available: 0.5, Value: 50}

	traded, err := ex.ExecuteBuy(context.Background(), btcProduct(), buySignal(0.8), balances, 10000)
	require.NoError(t, err)
	assert.False(t, traded)
	assert.Empty(t, venue.placed)
}

func TestExecuteBuySkipsWithoutQuoteBalance(t *testing.T) {
	venue := newFakeVenue()
	ex := New(fastConfig(), venue, db.NewMemory(), risk.NewManager(risk.DefaultConfig()), nil, "momentum")

	traded, err := ex.ExecuteBuy(context.Background(), btcProduct(), buySignal(0.8), map[string]market.Balance{}, 10000)
	require.NoError(t, err)
	assert.False(t, traded)
	assert.Empty(t, venue.placed)
}

func TestExecuteBuyRespectsExposureCeiling(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	opened := time.Now().UTC().Add(-time.Hour)
	for _, pid := range []string{"ETH-USD", "SOL-USD", "AVAX-USD", "LINK-USD"} {
		_, err := store.OpenPosition(ctx, position.Position{
			ProductID:    pid,
			BaseSize:     12,
			EntryPrice:   100,
			CurrentPrice: 100,
			Status:       position.StatusOpen,
			OpenedAt:     opened,
			UpdatedAt:    opened,
		})
		require.NoError(t, err)
	}

	// 4 x $1200 = 48% of equity already deployed; a $1000 entry would
	// push past the 50% ceiling.
	venue := newFakeVenue()
	ex := New(fastConfig(), venue, store, risk.NewManager(risk.DefaultConfig()), nil, "momentum")

	traded, err := ex.ExecuteBuy(ctx, btcProduct(), buySignal(0.8), usdBalances(10000), 10000)
	require.NoError(t, err)
	assert.False(t, traded)
	assert.Empty(t, venue.placed)
}

func TestExecuteBuyCancelsEntryOnTimeout(t *testing.T) {
	venue := newFakeVenue()
	venue.status = order.StatusOpen // never fills
	store := db.NewMemory()
	ex := New(fastConfig(), venue, store, risk.NewManager(risk.DefaultConfig()), nil, "momentum")

	traded, err := ex.ExecuteBuy(context.Background(), btcProduct(), buySignal(0.8), usdBalances(10000), 10000)
	require.NoError(t, err)
	assert.False(t, traded)

	assert.Equal(t, []string{"ex-1"}, venue.cancelled)
	require.Len(t, venue.placed, 1, "no bracket after a cancelled entry")

	row, err := store.GetOrderByExchangeID(context.Background(), "ex-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, order.StatusCancelled, row.Status)
	require.NotNil(t, row.CancelledAt)

	open, err := store.GetOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestExecuteBuyGhostOrderEscalation(t *testing.T) {
	venue := newFakeVenue()
	venue.status = order.StatusOpen
	venue.cancelErr = errors.New("cancel rejected")
	notify := &recordingNotifier{}
	store := db.NewMemory()
	ex := New(fastConfig(), venue, store, risk.NewManager(risk.DefaultConfig()), notify, "momentum")

	traded, err := ex.ExecuteBuy(context.Background(), btcProduct(), buySignal(0.8), usdBalances(10000), 10000)
	assert.False(t, traded)
	require.Error(t, err)

	var ghost *order.GhostOrderError
	require.ErrorAs(t, err, &ghost)
	assert.Equal(t, "ex-1", ghost.OrderID)
	assert.Equal(t, "BTC-USD", ghost.ProductID)

	msgs := notify.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "CRITICAL")
	assert.Contains(t, msgs[0], "ex-1")
}

func TestExecuteBuyOpensUnprotectedWhenBracketFails(t *testing.T) {
	venue := newFakeVenue()
	venue.placeErr = map[string]error{order.TypeStopLimit: errors.New("insufficient funds")}
	notify := &recordingNotifier{}
	store := db.NewMemory()
	ex := New(fastConfig(), venue, store, risk.NewManager(risk.DefaultConfig()), notify, "momentum")

	traded, err := ex.ExecuteBuy(context.Background(), btcProduct(), buySignal(0.8), usdBalances(10000), 10000)
	require.NoError(t, err)
	assert.True(t, traded, "the entry filled even though the bracket did not")

	open, err := store.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.False(t, open[0].Protective.Armed())

	msgs := notify.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "Bracket incomplete")
}

func TestBracketCancelsStopWhenTakeProfitFails(t *testing.T) {
	venue := newFakeVenue()
	venue.placeErr = map[string]error{order.TypeLimitGTC: errors.New("exchange down")}
	store := db.NewMemory()
	ex := New(fastConfig(), venue, store, risk.NewManager(risk.DefaultConfig()), nil, "momentum")

	traded, err := ex.ExecuteBuy(context.Background(), btcProduct(), buySignal(0.8), usdBalances(10000), 10000)
	require.NoError(t, err)
	assert.True(t, traded)

	// The lone stop leg was pulled so the pair stays both-or-neither.
	assert.Equal(t, []string{"ex-2"}, venue.cancelled)

	open, err := store.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.False(t, open[0].Protective.Armed())

	stopRow, err := store.GetOrderByExchangeID(context.Background(), "ex-2")
	require.NoError(t, err)
	require.NotNil(t, stopRow)
	assert.Equal(t, order.StatusCancelled, stopRow.Status)
}

func TestExecuteSellClosesPosition(t *testing.T) {
	ctx := context.Background()
	venue := newFakeVenue()
	venue.prices["BTC-USD"] = 105.0
	venue.fills = []order.Fill{{Price: 105.0, Size: 1, Commission: 0.5, LiquidityIndicator: "TAKER"}}

	store := db.NewMemory()
	opened := time.Now().UTC().Add(-time.Hour)
	pos := position.Position{
		ProductID:    "BTC-USD",
		BaseSize:     1,
		EntryPrice:   100,
		CurrentPrice: 100,
		StopLoss:     98.5,
		TakeProfit:   103,
		EntryOrderID: "entry-1",
		Protective:   position.ProtectiveOrderIDs{Stop: "stop-1", TakeProfit: "tp-1"},
		Strategy:     "momentum",
		FeesPaid:     0.25,
		Status:       position.StatusOpen,
		OpenedAt:     opened,
		UpdatedAt:    opened,
	}
	id, err := store.OpenPosition(ctx, pos)
	require.NoError(t, err)
	pos.ID = id

	ex := New(fastConfig(), venue, store, risk.NewManager(risk.DefaultConfig()), nil, "momentum")
	require.NoError(t, ex.ExecuteSell(ctx, &pos, position.ExitReasonSignal))

	assert.ElementsMatch(t, []string{"stop-1", "tp-1"}, venue.cancelled)
	require.Len(t, venue.placed, 1)
	assert.Equal(t, order.SideSell, venue.placed[0].Side)
	assert.Equal(t, order.TypeMarket, venue.placed[0].Type)
	assert.InDelta(t, 1.0, venue.placed[0].BaseSize, 1e-9)

	open, err := store.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	trades, err := store.GetTrades(ctx, time.Time{}, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.InDelta(t, 5.0, tr.PnL, 1e-6)
	assert.InDelta(t, 5.0, tr.PnLPercent, 1e-6)
	assert.InDelta(t, 0.75, tr.Fees, 1e-6) // entry fees carried plus exit commission
	assert.Equal(t, position.ExitReasonSignal, tr.ExitReason)
	assert.Equal(t, "momentum", tr.Strategy)
	assert.GreaterOrEqual(t, tr.HoldingTimeSeconds, int64(3599))
}

func TestExecuteSellTimeoutEscalates(t *testing.T) {
	ctx := context.Background()
	venue := newFakeVenue()
	venue.status = order.StatusOpen // sell never confirms
	notify := &recordingNotifier{}

	store := db.NewMemory()
	opened := time.Now().UTC().Add(-time.Hour)
	pos := position.Position{
		ProductID:    "BTC-USD",
		BaseSize:     1,
		EntryPrice:   100,
		CurrentPrice: 100,
		Status:       position.StatusOpen,
		OpenedAt:     opened,
		UpdatedAt:    opened,
	}
	id, err := store.OpenPosition(ctx, pos)
	require.NoError(t, err)
	pos.ID = id

	ex := New(fastConfig(), venue, store, risk.NewManager(risk.DefaultConfig()), notify, "momentum")
	err = ex.ExecuteSell(ctx, &pos, position.ExitReasonStopLoss)
	require.Error(t, err)

	var timeout *OrderTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "BTC-USD", timeout.ProductID)

	msgs := notify.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "CRITICAL")

	// Unconfirmed exit: the position must stay open for reconciliation.
	open, err := store.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
}
