package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/analytics"
	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/journal"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/position"
)

// Memory is an in-memory Storage for backtests and tests. It enforces
// the same rules as Postgres, including one open position per product.
type Memory struct {
	mu sync.RWMutex

	// Candles keyed by productID|granularity|start
	candles map[string]candle.Candle

	// Orders by client order id
	orders map[string]order.Order

	positions      map[int64]position.Position
	nextPositionID int64

	trades    []position.TradeRecord
	equity    []analytics.EquityPoint
	snapshots []analytics.Snapshot

	state map[string]json.RawMessage

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *Memory {
	return &Memory{
		candles:   make(map[string]candle.Candle),
		orders:    make(map[string]order.Order),
		positions: make(map[int64]position.Position),
		state:     make(map[string]json.RawMessage),
		events:    make([]journal.Event, 0, 1024),
	}
}

// GetDB returns nil for in-memory storage (no SQL database)
func (m *Memory) GetDB() *sql.DB { return nil }

// -------- Candles --------

func candleKey(productID, granularity string, start time.Time) string {
	return productID + "|" + granularity + "|" + start.UTC().Format(time.RFC3339Nano)
}

func (m *Memory) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return err
		}
		candles[i].Start = candles[i].Start.UTC()
		m.candles[candleKey(candles[i].ProductID, candles[i].Granularity, candles[i].Start)] = candles[i]
	}
	return nil
}

func (m *Memory) GetCandles(ctx context.Context, productID, granularity string, start, end time.Time) ([]candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []candle.Candle
	for _, c := range m.candles {
		if c.ProductID != productID || c.Granularity != granularity {
			continue
		}
		if (c.Start.Equal(start) || c.Start.After(start)) && c.Start.Before(end) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) GetLatestCandle(ctx context.Context, productID, granularity string) (*candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *candle.Candle
	for _, c := range m.candles {
		if c.ProductID != productID || c.Granularity != granularity {
			continue
		}
		if latest == nil || c.Start.After(latest.Start) {
			cc := c
			latest = &cc
		}
	}
	return latest, nil
}

func (m *Memory) GetCandleCount(ctx context.Context, productID, granularity string, start, end time.Time) (int, error) {
	cs, err := m.GetCandles(ctx, productID, granularity, start, end)
	if err != nil {
		return 0, err
	}
	return len(cs), nil
}

// -------- Orders --------

func (m *Memory) SaveOrder(ctx context.Context, o order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ClientOrderID] = o
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, clientOrderID string) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.orders[clientOrderID]; ok {
		oo := o
		return &oo, nil
	}
	return nil, nil
}

func (m *Memory) GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.ExchangeOrderID == exchangeOrderID {
			oo := o
			return &oo, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetOpenOrders(ctx context.Context) ([]order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []order.Order
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// -------- Positions --------

func (m *Memory) OpenPosition(ctx context.Context, pos position.Position) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.positions {
		if existing.ProductID == pos.ProductID && existing.Status == position.StatusOpen {
			return 0, fmt.Errorf("failed to open position for %s: position already open", pos.ProductID)
		}
	}
	m.nextPositionID++
	pos.ID = m.nextPositionID
	m.positions[pos.ID] = pos
	return pos.ID, nil
}

func (m *Memory) UpdatePosition(ctx context.Context, pos position.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.positions[pos.ID]
	if !ok {
		return fmt.Errorf("no position found to update with id %d", pos.ID)
	}
	pos.OpenedAt = stored.OpenedAt
	m.positions[pos.ID] = pos
	return nil
}

func (m *Memory) GetOpenPositions(ctx context.Context) ([]position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []position.Position
	for _, p := range m.positions {
		if p.Status == position.StatusOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *Memory) GetOpenPosition(ctx context.Context, productID string) (*position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.positions {
		if p.ProductID == productID && p.Status == position.StatusOpen {
			pp := p
			return &pp, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetPositionByID(ctx context.Context, id int64) (*position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.positions[id]; ok {
		pp := p
		return &pp, nil
	}
	return nil, nil
}

func (m *Memory) ClosePosition(ctx context.Context, positionID int64, trade position.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionID]
	if !ok || pos.Status != position.StatusOpen {
		return fmt.Errorf("no open position found to close with id %d", positionID)
	}
	closedAt := trade.ExitTime.UTC()
	pos.Status = position.StatusClosed
	pos.CurrentPrice = trade.ExitPrice
	pos.RealizedPnL = trade.PnL
	pos.FeesPaid = trade.Fees
	pos.UpdatedAt = closedAt
	pos.ClosedAt = &closedAt
	m.positions[positionID] = pos

	trade.ID = int64(len(m.trades) + 1)
	m.trades = append(m.trades, trade)
	return nil
}

// -------- Trades --------

func (m *Memory) GetTrades(ctx context.Context, start, end time.Time) ([]position.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []position.TradeRecord
	for _, t := range m.trades {
		if (t.ExitTime.Equal(start) || t.ExitTime.After(start)) && t.ExitTime.Before(end) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExitTime.Before(out[j].ExitTime) })
	return out, nil
}

// -------- Equity and performance --------

func (m *Memory) SaveEquityPoint(ctx context.Context, point analytics.EquityPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	point.Time = point.Time.UTC()
	m.equity = append(m.equity, point)
	return nil
}

func (m *Memory) GetEquityCurve(ctx context.Context, start, end time.Time) ([]analytics.EquityPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []analytics.EquityPoint
	for _, p := range m.equity {
		if (p.Time.Equal(start) || p.Time.After(start)) && p.Time.Before(end) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, s analytics.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

// Snapshots returns all saved performance snapshots, oldest first.
func (m *Memory) Snapshots() []analytics.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]analytics.Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// -------- Key-value state --------

func (m *Memory) SaveState(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[key] = encoded
	return nil
}

func (m *Memory) LoadState(ctx context.Context, key string, out any) (bool, error) {
	m.mu.RLock()
	encoded, ok := m.state[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return false, fmt.Errorf("failed to decode state %s: %w", key, err)
	}
	return true, nil
}

// -------- Journal --------

func (m *Memory) LogEvent(ctx context.Context, e journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Time = e.Time.UTC()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && (e.Time.Equal(start) || e.Time.After(start)) && e.Time.Before(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
