// Package reconcile drives submitted orders to their conclusion. Once
// per cycle, before any new entries are evaluated, every non-terminal
// order row is checked against the exchange: aged orders are cancelled,
// late entry fills become open positions, and protective or exit fills
// close positions and pull the sibling bracket leg. After submission
// this loop is the only writer of terminal order state.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/exchange"
	"github.com/psreek-ai/coinbase-trader/internal/journal"
	"github.com/psreek-ai/coinbase-trader/internal/metrics"
	"github.com/psreek-ai/coinbase-trader/internal/notifier"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/position"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// Config bounds one reconciliation pass.
type Config struct {
	// StaleOrderAge is how long a non-protective order may rest before
	// reconciliation cancels it. Protective legs are exempt: they rest
	// until their position exits.
	StaleOrderAge time.Duration `yaml:"stale_order_age" env:"RECONCILE_STALE_ORDER_AGE" envDefault:"5m"`
}

// DefaultConfig returns the stock reconciliation limits.
func DefaultConfig() Config {
	return Config{StaleOrderAge: 5 * time.Minute}
}

// Store is the persistence surface reconciliation needs.
type Store interface {
	GetOpenOrders(ctx context.Context) ([]order.Order, error)
	SaveOrder(ctx context.Context, o order.Order) error
	GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*order.Order, error)
	GetOpenPosition(ctx context.Context, productID string) (*position.Position, error)
	ClosePosition(ctx context.Context, positionID int64, trade position.TradeRecord) error
	LogEvent(ctx context.Context, e journal.Event) error
}

// Venue is the slice of the exchange surface reconciliation needs.
type Venue interface {
	OrderStatus(ctx context.Context, orderID string) (exchange.OrderState, error)
	Fills(ctx context.Context, orderID string) ([]order.Fill, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Finalizer turns a verified entry fill into an open, bracketed
// position. The executor provides it, so late fills take the same path
// as inline ones.
type Finalizer interface {
	FinalizeEntry(ctx context.Context, entryOrder order.Order, state exchange.OrderState) (int64, error)
}

// Stats summarizes one reconciliation pass.
type Stats struct {
	Checked   int // non-terminal rows examined
	Entries   int // entry fills finalized into positions
	Exits     int // sell fills that closed positions
	Cancelled int // rows that reached cancelled or expired, stale cancels included
	Errors    int // rows skipped this pass and retried next cycle
}

type Reconciler struct {
	cfg    Config
	venue  Venue
	store  Store
	fin    Finalizer
	notify notifier.Notifier
	logger *log.Logger
}

func New(cfg Config, v Venue, store Store, fin Finalizer, n notifier.Notifier) *Reconciler {
	if cfg.StaleOrderAge <= 0 {
		cfg.StaleOrderAge = 5 * time.Minute
	}
	if n == nil {
		n = notifier.Noop{}
	}
	return &Reconciler{
		cfg:    cfg,
		venue:  v,
		store:  store,
		fin:    fin,
		notify: n,
		logger: utils.GetLogger(),
	}
}

func (r *Reconciler) journal(ctx context.Context, eventType, description string, data map[string]any) {
	if err := journal.Log(ctx, r.store, eventType, description, data); err != nil {
		r.logger.Printf("Reconciler | Journal write failed: %v", err)
	}
}

// Run executes one pass over all non-terminal orders. A failure on one
// order is counted and skipped so the rest of the pass still happens;
// the row is retried next cycle. Terminal rows are never touched.
func (r *Reconciler) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	open, err := r.store.GetOpenOrders(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load open orders: %w", err)
	}
	if len(open) == 0 {
		return stats, nil
	}
	r.logger.Printf("Reconciler | Checking %d open orders", len(open))

	for i := range open {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++
		if err := r.reconcileOrder(ctx, open[i], &stats); err != nil {
			stats.Errors++
			r.logger.Printf("Reconciler | [%s] %v", open[i].ProductID, err)
		}
	}

	if stats.Entries+stats.Exits+stats.Cancelled+stats.Errors > 0 {
		r.logger.Printf("Reconciler | Pass complete: %d checked, %d entries filled, %d exits, %d cancelled, %d errors",
			stats.Checked, stats.Entries, stats.Exits, stats.Cancelled, stats.Errors)
	}
	return stats, nil
}

func (r *Reconciler) reconcileOrder(ctx context.Context, row order.Order, stats *Stats) error {
	// The pass iterates a snapshot. Re-read the row so one the pass has
	// already finished (a sibling cancelled moments ago, an entry the
	// executor finalized mid-pass) is left alone.
	if fresh, err := r.store.GetOrderByExchangeID(ctx, row.ExchangeOrderID); err == nil && fresh != nil {
		if fresh.Status.IsTerminal() {
			return nil
		}
		row = *fresh
	}

	if age := time.Since(row.CreatedAt); age > r.cfg.StaleOrderAge && !isProtective(row) {
		return r.cancelStale(ctx, row, age, stats)
	}

	state, err := r.venue.OrderStatus(ctx, row.ExchangeOrderID)
	if err != nil {
		// Never assume a terminal state from a failed query.
		return fmt.Errorf("status query for %s failed: %w", row.ExchangeOrderID, err)
	}

	switch {
	case state.Status == order.StatusFilled:
		return r.handleFill(ctx, row, state, stats)
	case state.Status.IsTerminal():
		r.recordTerminal(ctx, &row, state.Status)
		stats.Cancelled++
		return nil
	default:
		if state.Status != row.Status && order.CanTransition(row.Status, state.Status) {
			row.Status = state.Status
			row.UpdatedAt = time.Now().UTC()
			if serr := r.store.SaveOrder(ctx, row); serr != nil {
				return fmt.Errorf("failed to refresh order %s: %w", row.ClientOrderID, serr)
			}
		}
		return nil
	}
}

// cancelStale pulls an order that rested past the age ceiling. When the
// cancel is rejected the exchange is asked once more for status: a race
// with a fill is believed over the rejection, and only an order that is
// confirmed alive escalates as a ghost.
func (r *Reconciler) cancelStale(ctx context.Context, row order.Order, age time.Duration, stats *Stats) error {
	r.logger.Printf("Reconciler | [%s] Order %s is %s old, cancelling",
		row.ProductID, row.ExchangeOrderID, age.Round(time.Second))

	if err := r.venue.CancelOrder(ctx, row.ExchangeOrderID); err != nil {
		state, serr := r.venue.OrderStatus(ctx, row.ExchangeOrderID)
		if serr == nil && state.Status == order.StatusFilled {
			return r.handleFill(ctx, row, state, stats)
		}
		if serr == nil && state.Status.IsTerminal() {
			r.recordTerminal(ctx, &row, state.Status)
			stats.Cancelled++
			return nil
		}
		ghost := &order.GhostOrderError{OrderID: row.ExchangeOrderID, ProductID: row.ProductID, Err: err}
		r.logger.Printf("Reconciler | CRITICAL: %v", ghost)
		r.notify.SendWithRetry("CRITICAL: " + ghost.Error())
		metrics.RecordOrderFailure("stale_cancel")
		return ghost
	}

	r.recordTerminal(ctx, &row, order.StatusCancelled)
	r.journal(ctx, journal.TypeReconcile, "stale order cancelled", map[string]any{
		"order_id":   row.ExchangeOrderID,
		"product_id": row.ProductID,
		"age":        age.Round(time.Second).String(),
	})
	stats.Cancelled++
	return nil
}

func (r *Reconciler) handleFill(ctx context.Context, row order.Order, state exchange.OrderState, stats *Stats) error {
	if row.Side == order.SideBuy {
		posID, err := r.fin.FinalizeEntry(ctx, row, state)
		if err != nil {
			return fmt.Errorf("entry fill %s: %w", row.ExchangeOrderID, err)
		}
		r.logger.Printf("Reconciler | [%s] Late entry fill became position %d", row.ProductID, posID)
		r.journal(ctx, journal.TypeReconcile, "late entry fill finalized", map[string]any{
			"order_id":    row.ExchangeOrderID,
			"product_id":  row.ProductID,
			"position_id": posID,
		})
		stats.Entries++
		return nil
	}
	return r.handleExitFill(ctx, row, state, stats)
}

// handleExitFill closes the position behind a filled sell, whether the
// sell is a protective leg or a market exit that outlived the
// executor's bounded wait.
func (r *Reconciler) handleExitFill(ctx context.Context, row order.Order, state exchange.OrderState, stats *Stats) error {
	price, size, commission := r.fillDetails(ctx, row.ExchangeOrderID, state, row.LimitPrice)
	if size <= 0 {
		size = row.BaseSize
	}

	filledAt := time.Now().UTC()
	row.Status = order.StatusFilled
	row.FilledPrice = price
	row.FilledSize = size
	row.Commission = commission
	row.FilledAt = &filledAt
	row.UpdatedAt = filledAt
	if serr := r.store.SaveOrder(ctx, row); serr != nil {
		r.logger.Printf("Reconciler | Failed to record filled sell %s: %v", row.ClientOrderID, serr)
	}

	pos, err := r.store.GetOpenPosition(ctx, row.ProductID)
	if err != nil {
		return fmt.Errorf("failed to load position for %s: %w", row.ProductID, err)
	}
	if pos == nil {
		r.logger.Printf("Reconciler | [%s] Sell %s filled with no open position, nothing to close",
			row.ProductID, row.ExchangeOrderID)
		return nil
	}

	reason := exitReason(row, pos)
	trade := position.CloseTrade(pos, price, filledAt, reason, commission)
	if err := r.store.ClosePosition(ctx, pos.ID, trade); err != nil {
		r.logger.Printf("Reconciler | CRITICAL: [%s] exit filled but position %d not closed in store: %v",
			row.ProductID, pos.ID, err)
		r.notify.SendWithRetry(fmt.Sprintf("CRITICAL: %s exit filled but position %d not closed: %v",
			row.ProductID, pos.ID, err))
		return fmt.Errorf("failed to close position %d: %w", pos.ID, err)
	}

	metrics.RecordTrade(trade.PnL, reason)
	r.journal(ctx, journal.TypePosition, "position closed", map[string]any{
		"position_id": pos.ID,
		"product_id":  row.ProductID,
		"exit_price":  price,
		"pnl":         trade.PnL,
		"pnl_percent": trade.PnLPercent,
		"exit_reason": reason,
	})
	r.logger.Printf("Reconciler | [%s] Position %d closed @ %.8f: PnL $%.2f (%.2f%%), reason %s",
		row.ProductID, pos.ID, price, trade.PnL, trade.PnLPercent, reason)

	if sibling := pos.Protective.Sibling(row.ExchangeOrderID); sibling != "" {
		if cerr := r.venue.CancelOrder(ctx, sibling); cerr != nil {
			r.logger.Printf("Reconciler | [%s] Could not cancel sibling bracket order %s: %v",
				row.ProductID, sibling, cerr)
		} else if sibRow, serr := r.store.GetOrderByExchangeID(ctx, sibling); serr == nil && sibRow != nil {
			r.recordTerminal(ctx, sibRow, order.StatusCancelled)
		}
	}

	stats.Exits++
	return nil
}

// recordTerminal writes a terminal status onto the row. Failures are
// logged only: the exchange state already moved on, and the row will be
// re-observed next cycle.
func (r *Reconciler) recordTerminal(ctx context.Context, row *order.Order, status order.Status) {
	now := time.Now().UTC()
	row.Status = status
	if status == order.StatusCancelled {
		row.CancelledAt = &now
	}
	row.UpdatedAt = now
	if err := r.store.SaveOrder(ctx, *row); err != nil {
		r.logger.Printf("Reconciler | Failed to record %s order %s: %v", status, row.ClientOrderID, err)
		return
	}
	r.logger.Printf("Reconciler | [%s] Order %s is now %s", row.ProductID, row.ExchangeOrderID, status)
}

// fillDetails mirrors the executor's resolution order: reported fills
// first, then the order state, then the row's own limit price.
func (r *Reconciler) fillDetails(ctx context.Context, orderID string, state exchange.OrderState, fallbackPrice float64) (float64, float64, float64) {
	fills, err := r.venue.Fills(ctx, orderID)
	if err == nil && len(fills) > 0 {
		sum := order.SummarizeFills(fills)
		if sum.AvgPrice > 0 {
			return sum.AvgPrice, sum.TotalSize, sum.Commission
		}
	}
	if err != nil {
		r.logger.Printf("Reconciler | Fill lookup for %s failed: %v", orderID, err)
	}
	if state.AvgFilledPrice > 0 {
		return state.AvgFilledPrice, state.FilledSize, state.TotalFees
	}
	return fallbackPrice, 0, 0
}

// exitReason classifies a filled sell by matching it against the
// position's bracket pair, then the reason the executor stamped on a
// deliberate exit.
func exitReason(row order.Order, pos *position.Position) string {
	switch row.ExchangeOrderID {
	case pos.Protective.Stop:
		return position.ExitReasonStopLoss
	case pos.Protective.TakeProfit:
		return position.ExitReasonTakeProfit
	}
	if reason, ok := row.Metadata["exit_reason"].(string); ok && reason != "" {
		return reason
	}
	return position.ExitReasonUnknown
}

func isProtective(row order.Order) bool {
	prot, _ := row.Metadata["protective"].(bool)
	return prot
}
