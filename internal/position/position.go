// Package position tracks open holdings and the trade records written
// when they close.
package position

import (
	"time"
)

// Position status values.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Exit reasons recorded on trade history rows.
const (
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonTakeProfit = "take_profit"
	ExitReasonSignal     = "signal"
	ExitReasonTimeLimit  = "time_limit"
	ExitReasonEndOfData  = "end_of_data"
	ExitReasonUnknown    = "unknown_exit"
)

// ProtectiveOrderIDs pairs the bracket orders guarding an open position.
// Either both are set or both are empty.
type ProtectiveOrderIDs struct {
	Stop       string `json:"stop_order_id,omitempty"`
	TakeProfit string `json:"tp_order_id,omitempty"`
}

// Armed reports whether protective orders are resting on the exchange.
func (p ProtectiveOrderIDs) Armed() bool {
	return p.Stop != "" || p.TakeProfit != ""
}

// Sibling returns the other bracket leg given one leg's order id.
func (p ProtectiveOrderIDs) Sibling(orderID string) string {
	switch orderID {
	case p.Stop:
		return p.TakeProfit
	case p.TakeProfit:
		return p.Stop
	default:
		return ""
	}
}

// Position is an open or closed holding in a single product.
type Position struct {
	ID           int64              `json:"id"`
	ProductID    string             `json:"product_id"`
	BaseSize     float64            `json:"base_size"`
	EntryPrice   float64            `json:"entry_price"`
	CurrentPrice float64            `json:"current_price"`
	StopLoss     float64            `json:"stop_loss"`
	TakeProfit   float64            `json:"take_profit"`
	RealizedPnL  float64            `json:"realized_pnl"`
	EntryOrderID string             `json:"entry_order_id"`
	Protective   ProtectiveOrderIDs `json:"protective_order_ids"`
	Strategy     string             `json:"strategy"`
	FeesPaid     float64            `json:"fees_paid"`
	Status       string             `json:"status"`
	OpenedAt     time.Time          `json:"opened_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ClosedAt     *time.Time         `json:"closed_at,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Value returns the position's notional value at the given price. A zero
// price falls back to the last marked price, then the entry price.
func (p *Position) Value(price float64) float64 {
	if price <= 0 {
		price = p.CurrentPrice
	}
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.BaseSize * price
}

// UnrealizedPnL returns the mark-to-market profit at the given price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.BaseSize
}

// PnLPercent returns the profit at the given price as a percentage of entry.
func (p *Position) PnLPercent(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// TradeRecord is one completed round trip, written at position close.
type TradeRecord struct {
	ID                 int64          `json:"id"`
	ProductID          string         `json:"product_id"`
	Side               string         `json:"side"` // entry side
	EntryPrice         float64        `json:"entry_price"`
	ExitPrice          float64        `json:"exit_price"`
	Size               float64        `json:"size"`
	PnL                float64        `json:"pnl"`
	PnLPercent         float64        `json:"pnl_percent"`
	Fees               float64        `json:"fees"`
	HoldingTimeSeconds int64          `json:"holding_time_seconds"`
	EntryTime          time.Time      `json:"entry_time"`
	ExitTime           time.Time      `json:"exit_time"`
	Strategy           string         `json:"strategy"`
	ExitReason         string         `json:"exit_reason"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// CloseTrade builds the trade-history record for a position exiting at the
// given fill price. Fees passed in are the exit-side fees; entry fees carried
// on the position are added on top. Entry confidence, when the position
// metadata has it, is carried onto the record so outcomes can be graded
// against signal strength later.
func CloseTrade(p *Position, exitPrice float64, exitTime time.Time, exitReason string, exitFees float64) TradeRecord {
	rec := TradeRecord{
		ProductID:          p.ProductID,
		Side:               "BUY",
		EntryPrice:         p.EntryPrice,
		ExitPrice:          exitPrice,
		Size:               p.BaseSize,
		PnL:                p.UnrealizedPnL(exitPrice),
		PnLPercent:         p.PnLPercent(exitPrice),
		Fees:               p.FeesPaid + exitFees,
		HoldingTimeSeconds: int64(exitTime.Sub(p.OpenedAt) / time.Second),
		EntryTime:          p.OpenedAt,
		ExitTime:           exitTime,
		Strategy:           p.Strategy,
		ExitReason:         exitReason,
	}
	if conf, ok := p.Metadata["confidence"]; ok {
		rec.Metadata = map[string]any{"confidence": conf}
	}
	return rec
}
