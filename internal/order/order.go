// Package order
package order

import (
	"fmt"
	"time"
)

// Side of an order.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types as stored and sent to the exchange.
const (
	TypeLimitGTCPostOnly = "limit_gtc_post_only"
	TypeLimitGTC         = "limit_gtc"
	TypeStopLimit        = "stop_limit"
	TypeMarket           = "market"
)

// Status is an order lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusSubmitted Status = "submitted"
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusError     Status = "error"
)

// transitions is the full set of legal lifecycle moves. Terminal states
// have no outgoing edges.
var transitions = map[Status][]Status{
	StatusCreated:   {StatusSubmitted, StatusError},
	StatusSubmitted: {StatusOpen, StatusFilled, StatusCancelled, StatusExpired, StatusError},
	StatusOpen:      {StatusFilled, StatusCancelled, StatusExpired, StatusError},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusError:
		return true
	default:
		return false
	}
}

// ParseExchangeStatus maps an Advanced Trade order status to the local
// lifecycle status. Unknown values map to the zero Status.
func ParseExchangeStatus(s string) Status {
	switch s {
	case "OPEN", "PENDING", "QUEUED":
		return StatusOpen
	case "FILLED":
		return StatusFilled
	case "CANCELLED":
		return StatusCancelled
	case "EXPIRED":
		return StatusExpired
	case "FAILED", "UNKNOWN_ORDER_STATUS":
		return StatusError
	default:
		return Status("")
	}
}

// Order is a single exchange order tracked through its lifecycle.
type Order struct {
	ID              int64          `json:"id"`
	ClientOrderID   string         `json:"client_order_id"`
	ExchangeOrderID string         `json:"exchange_order_id"`
	ProductID       string         `json:"product_id"`
	Side            string         `json:"side"`
	Type            string         `json:"order_type"`
	Status          Status         `json:"status"`
	BaseSize        float64        `json:"base_size"`
	LimitPrice      float64        `json:"limit_price"`
	StopPrice       float64        `json:"stop_price"`
	StopLoss        float64        `json:"stop_loss"`
	TakeProfit      float64        `json:"take_profit"`
	FilledPrice     float64        `json:"filled_price"`
	FilledSize      float64        `json:"filled_size"`
	Commission      float64        `json:"commission"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	FilledAt        *time.Time     `json:"filled_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Transition moves the order to a new status, rejecting illegal moves.
func (o *Order) Transition(to Status) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("invalid order transition from %s to %s for %s", o.Status, to, o.ClientOrderID)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Age returns how long the order has existed.
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// Fill is a single execution against an order.
type Fill struct {
	TradeID            string    `json:"trade_id"`
	OrderID            string    `json:"order_id"`
	ProductID          string    `json:"product_id"`
	Price              float64   `json:"price"`
	Size               float64   `json:"size"`
	Commission         float64   `json:"commission"`
	LiquidityIndicator string    `json:"liquidity_indicator"` // "MAKER" or "TAKER"
	Time               time.Time `json:"trade_time"`
}

// FillSummary aggregates the fills of one order.
type FillSummary struct {
	AvgPrice   float64
	TotalSize  float64
	Commission float64
	MakerFills int
	NumFills   int
}

// SummarizeFills computes the size-weighted average price and fee total
// across fills. An empty fill list yields a zero summary.
func SummarizeFills(fills []Fill) FillSummary {
	var s FillSummary
	var weighted float64
	for _, f := range fills {
		weighted += f.Price * f.Size
		s.TotalSize += f.Size
		s.Commission += f.Commission
		if f.LiquidityIndicator == "MAKER" {
			s.MakerFills++
		}
	}
	s.NumFills = len(fills)
	if s.TotalSize > 0 {
		s.AvgPrice = weighted / s.TotalSize
	}
	return s
}

// GhostOrderError reports an order that could not be cancelled after an
// entry timeout. The order may still fill on the exchange without the bot
// tracking it, so callers must escalate rather than swallow it.
type GhostOrderError struct {
	OrderID   string
	ProductID string
	Err       error
}

func (e *GhostOrderError) Error() string {
	msg := fmt.Sprintf("ghost order risk: order %s on %s could not be cancelled", e.OrderID, e.ProductID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GhostOrderError) Unwrap() error {
	return e.Err
}
