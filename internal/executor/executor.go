// Package executor orchestrates single entries and exits. An entry runs
// a chain of gates (spread, tape pressure, sizing, exposure, preview
// cost), places a post-only limit order, waits a bounded time for the
// fill, and arms the protective bracket. An exit cancels the bracket,
// market-sells, and records the completed trade. Gate rejections abort
// only the candidate at hand; the engine moves on to the next one.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/psreek-ai/coinbase-trader/internal/exchange"
	"github.com/psreek-ai/coinbase-trader/internal/journal"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/metrics"
	"github.com/psreek-ai/coinbase-trader/internal/notifier"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/position"
	"github.com/psreek-ai/coinbase-trader/internal/risk"
	"github.com/psreek-ai/coinbase-trader/internal/strategy"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// stopLimitSlip places the stop-limit's executable price slightly under
// the trigger so the order can actually fill through a fast move.
const stopLimitSlip = 0.99

// Config bounds one execution attempt.
type Config struct {
	MaxSpreadPercent float64       `yaml:"max_spread_percent" env:"EXECUTOR_MAX_SPREAD_PERCENT" envDefault:"0.5"`
	TickSize         float64       `yaml:"tick_size" env:"EXECUTOR_TICK_SIZE" envDefault:"0.01"`
	TapeLookback     int           `yaml:"tape_lookback" env:"EXECUTOR_TAPE_LOOKBACK" envDefault:"100"`
	MinBuyPressure   float64       `yaml:"min_buy_pressure" env:"EXECUTOR_MIN_BUY_PRESSURE" envDefault:"0.45"`
	EntryFillWait    time.Duration `yaml:"entry_fill_wait" env:"EXECUTOR_ENTRY_FILL_WAIT" envDefault:"30s"`
	ExitFillWait     time.Duration `yaml:"exit_fill_wait" env:"EXECUTOR_EXIT_FILL_WAIT" envDefault:"10s"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"EXECUTOR_POLL_INTERVAL" envDefault:"1s"`
}

// DefaultConfig returns the stock execution limits.
func DefaultConfig() Config {
	return Config{
		MaxSpreadPercent: 0.5,
		TickSize:         0.01,
		TapeLookback:     100,
		MinBuyPressure:   0.45,
		EntryFillWait:    30 * time.Second,
		ExitFillWait:     10 * time.Second,
		PollInterval:     time.Second,
	}
}

// Store is the persistence surface the executor needs.
type Store interface {
	SaveOrder(ctx context.Context, o order.Order) error
	GetOpenPositions(ctx context.Context) ([]position.Position, error)
	OpenPosition(ctx context.Context, p position.Position) (int64, error)
	ClosePosition(ctx context.Context, positionID int64, trade position.TradeRecord) error
	LogEvent(ctx context.Context, e journal.Event) error
}

// Venue is the slice of the exchange surface the executor needs.
type Venue interface {
	Name() string
	BestBidAsk(ctx context.Context, productIDs []string) (map[string]market.Quote, error)
	LatestPrice(ctx context.Context, productID string) (float64, error)
	MarketTrades(ctx context.Context, productID string, limit int) ([]market.Trade, error)
	PreviewOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Preview, error)
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Placed, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (exchange.OrderState, error)
	Fills(ctx context.Context, orderID string) ([]order.Fill, error)
}

// OrderTimeoutError reports an order that did not reach a terminal state
// within its bounded wait. For exits this is critical: the position may
// still be live on the exchange without the bot having confirmation.
type OrderTimeoutError struct {
	OrderID   string
	ProductID string
	Wait      time.Duration
}

func (e *OrderTimeoutError) Error() string {
	return fmt.Sprintf("order %s on %s not filled within %s", e.OrderID, e.ProductID, e.Wait)
}

type Executor struct {
	cfg      Config
	exchange Venue
	store    Store
	risk     *risk.Manager
	notify   notifier.Notifier
	strategy string
	logger   *log.Logger
}

func New(cfg Config, ex Venue, store Store, rm *risk.Manager, n notifier.Notifier, strategyName string) *Executor {
	if cfg.TapeLookback <= 0 {
		cfg.TapeLookback = 100
	}
	if cfg.EntryFillWait <= 0 {
		cfg.EntryFillWait = 30 * time.Second
	}
	if cfg.ExitFillWait <= 0 {
		cfg.ExitFillWait = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if n == nil {
		n = notifier.Noop{}
	}
	return &Executor{
		cfg:      cfg,
		exchange: ex,
		store:    store,
		risk:     rm,
		notify:   n,
		strategy: strategyName,
		logger:   utils.GetLogger(),
	}
}

// journal writes an audit event, downgrading a failed write to a log
// line so bookkeeping never blocks trading.
func (e *Executor) journal(ctx context.Context, eventType, description string, data map[string]any) {
	if err := journal.Log(ctx, e.store, eventType, description, data); err != nil {
		e.logger.Printf("Executor | Journal write failed: %v", err)
	}
}

// ExecuteBuy attempts one entry. The bool reports whether an entry
// actually filled, so the engine can stop after the first trade of a
// cycle; it can be true alongside an error when a post-fill step failed
// and the bot now holds the asset.
func (e *Executor) ExecuteBuy(ctx context.Context, product market.Product, sig strategy.Signal, balances map[string]market.Balance, equity float64) (bool, error) {
	productID := product.ProductID

	if _, held := balances[product.BaseCurrency]; held {
		e.logger.Printf("Executor | [%s] Already holding %s, skipping buy", productID, product.BaseCurrency)
		return false, nil
	}
	quote, ok := balances[product.QuoteCurrency]
	if !ok || quote.Available <= 0 {
		e.logger.Printf("Executor | [%s] No %s balance to buy with", productID, product.QuoteCurrency)
		return false, nil
	}
	if equity <= 0 {
		e.logger.Printf("Executor | [%s] Equity unavailable, skipping buy", productID)
		return false, nil
	}

	entryPrice, ok, err := e.entryPrice(ctx, productID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	flow, err := e.tapePressure(ctx, productID)
	if err != nil {
		return false, err
	}
	e.logger.Printf("Executor | [%s] Volume flow: %.1f%% buy pressure (%s) over %d trades",
		productID, flow.BuyPressure*100, flow.NetPressure, flow.TradeCount)
	if flow.BuyPressure < e.cfg.MinBuyPressure {
		e.logger.Printf("Executor | [%s] Insufficient buy pressure (%.1f%% < %.1f%%), skipping entry",
			productID, flow.BuyPressure*100, e.cfg.MinBuyPressure*100)
		return false, nil
	}

	stop, target := e.risk.StopTarget(entryPrice, order.SideBuy)
	size, sizing, err := e.risk.SizePosition(equity, entryPrice, stop, product.BaseMinSize)
	if err != nil {
		e.logger.Printf("Executor | [%s] %v", productID, err)
		return false, nil
	}

	open, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load open positions: %w", err)
	}
	var exposure float64
	for i := range open {
		price := open[i].CurrentPrice
		if price <= 0 {
			price = open[i].EntryPrice
		}
		exposure += open[i].Value(price) / equity
	}
	value := size * entryPrice
	if ok, reason := e.risk.CanOpen(len(open), exposure, equity, value); !ok {
		e.logger.Printf("Executor | [%s] Cannot open position: %s", productID, reason)
		return false, nil
	}

	preview, err := e.exchange.PreviewOrder(ctx, exchange.OrderRequest{
		ProductID:  productID,
		Side:       order.SideBuy,
		Type:       order.TypeLimitGTCPostOnly,
		BaseSize:   size,
		LimitPrice: entryPrice,
	})
	if err != nil {
		e.logger.Printf("Executor | [%s] Order preview failed, aborting trade: %v", productID, err)
		return false, nil
	}
	if len(preview.Errs) > 0 {
		e.logger.Printf("Executor | [%s] Preview rejected the order: %v", productID, preview.Errs)
		return false, nil
	}
	feePct := 0.0
	if value > 0 {
		feePct = preview.CommissionTotal / value * 100
	}
	limits := e.risk.Config()
	if feePct > limits.MaxFeePercent {
		e.logger.Printf("Executor | [%s] Fee too high: %.2f%% > %.2f%%, aborting trade",
			productID, feePct, limits.MaxFeePercent)
		return false, nil
	}
	if preview.SlippagePct > limits.MaxSlippagePercent {
		e.logger.Printf("Executor | [%s] Slippage too high: %.2f%% > %.2f%%, aborting trade",
			productID, preview.SlippagePct, limits.MaxSlippagePercent)
		return false, nil
	}

	actualSize := preview.BaseSize
	if actualSize <= 0 {
		actualSize = size
	}
	actualSize = market.QuantizeToIncrement(actualSize, product.BaseIncrement)
	if actualSize <= 0 {
		e.logger.Printf("Executor | [%s] Size rounded away by base increment %.8f", productID, product.BaseIncrement)
		return false, nil
	}

	e.logger.Printf("Executor | [%s] BUY: size %.8f, entry %.8f, stop %.8f, target %.8f, value $%.2f, fee $%.4f (%.2f%%), slippage %.2f%%",
		productID, actualSize, entryPrice, stop, target, value, preview.CommissionTotal, feePct, preview.SlippagePct)

	clientOrderID := uuid.NewString()
	placed, err := e.exchange.PlaceOrder(ctx, exchange.OrderRequest{
		ClientOrderID: clientOrderID,
		ProductID:     productID,
		Side:          order.SideBuy,
		Type:          order.TypeLimitGTCPostOnly,
		BaseSize:      actualSize,
		LimitPrice:    entryPrice,
	})
	if err != nil {
		metrics.RecordOrderFailure("entry_place")
		return false, fmt.Errorf("failed to place entry order for %s: %w", productID, err)
	}
	metrics.RecordOrder(e.exchange.Name(), order.SideBuy)

	now := time.Now().UTC()
	entryOrder := order.Order{
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: placed.OrderID,
		ProductID:       productID,
		Side:            order.SideBuy,
		Type:            order.TypeLimitGTCPostOnly,
		Status:          order.StatusSubmitted,
		BaseSize:        actualSize,
		LimitPrice:      entryPrice,
		StopLoss:        stop,
		TakeProfit:      target,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata: map[string]any{
			"signal":     sig,
			"confidence": sig.Confidence,
			"sizing":     sizing,
			"preview": map[string]any{
				"commission":       preview.CommissionTotal,
				"slippage_percent": preview.SlippagePct,
				"fee_percent":      feePct,
			},
			"volume_flow": flow,
			"post_only":   true,
		},
	}
	if err := e.store.SaveOrder(ctx, entryOrder); err != nil {
		// The order is already live; losing the row means reconciliation
		// cannot see it, so shout before carrying on with the inline wait.
		e.logger.Printf("Executor | CRITICAL: entry order %s placed but not persisted: %v", clientOrderID, err)
		e.notify.SendWithRetry(fmt.Sprintf("CRITICAL: entry order %s on %s placed but not persisted: %v", placed.OrderID, productID, err))
	}

	state, err := e.awaitFill(ctx, placed.OrderID, productID, e.cfg.EntryFillWait)
	if err != nil {
		var timeout *OrderTimeoutError
		if !errors.As(err, &timeout) {
			return false, err
		}
		e.logger.Printf("Executor | [%s] Entry order %s unfilled after %s, cancelling to prevent a ghost order",
			productID, placed.OrderID, e.cfg.EntryFillWait)
		if cerr := e.exchange.CancelOrder(ctx, placed.OrderID); cerr != nil {
			ghost := &order.GhostOrderError{OrderID: placed.OrderID, ProductID: productID, Err: cerr}
			e.logger.Printf("Executor | CRITICAL: %v", ghost)
			e.notify.SendWithRetry("CRITICAL: " + ghost.Error())
			e.journal(ctx, journal.TypeError, "entry order cancel failed after timeout", map[string]any{
				"order_id":   placed.OrderID,
				"product_id": productID,
			})
			metrics.RecordOrderFailure("ghost_order")
			return false, ghost
		}
		cancelledAt := time.Now().UTC()
		entryOrder.Status = order.StatusCancelled
		entryOrder.CancelledAt = &cancelledAt
		entryOrder.UpdatedAt = cancelledAt
		if serr := e.store.SaveOrder(ctx, entryOrder); serr != nil {
			e.logger.Printf("Executor | Failed to record cancelled entry %s: %v", clientOrderID, serr)
		}
		e.journal(ctx, journal.TypeOrder, "entry order cancelled on fill timeout", map[string]any{
			"order_id":   placed.OrderID,
			"product_id": productID,
		})
		metrics.RecordOrderFailure("entry_timeout")
		return false, nil
	}
	if state.Status != order.StatusFilled {
		e.logger.Printf("Executor | [%s] Entry order %s ended %s without filling", productID, placed.OrderID, state.Status)
		entryOrder.Status = state.Status
		entryOrder.UpdatedAt = time.Now().UTC()
		if serr := e.store.SaveOrder(ctx, entryOrder); serr != nil {
			e.logger.Printf("Executor | Failed to record %s entry %s: %v", state.Status, clientOrderID, serr)
		}
		return false, nil
	}

	if _, err := e.FinalizeEntry(ctx, entryOrder, state); err != nil {
		return true, err
	}
	return true, nil
}

// FinalizeEntry completes a verified entry fill: record the fill, arm
// the protective bracket, and open the position. The reconciler drives
// entries that fill after the executor's bounded wait has moved on
// through the same path.
func (e *Executor) FinalizeEntry(ctx context.Context, entryOrder order.Order, state exchange.OrderState) (int64, error) {
	productID := entryOrder.ProductID
	fillPrice, fillSize, commission := e.fillDetails(ctx, entryOrder.ExchangeOrderID, state, entryOrder.LimitPrice)
	if fillSize <= 0 {
		fillSize = entryOrder.BaseSize
	}

	filledAt := time.Now().UTC()
	entryOrder.Status = order.StatusFilled
	entryOrder.FilledPrice = fillPrice
	entryOrder.FilledSize = fillSize
	entryOrder.Commission = commission
	entryOrder.FilledAt = &filledAt
	entryOrder.UpdatedAt = filledAt
	if serr := e.store.SaveOrder(ctx, entryOrder); serr != nil {
		e.logger.Printf("Executor | Failed to record filled entry %s: %v", entryOrder.ClientOrderID, serr)
	}

	protective, err := e.placeProtectives(ctx, productID, fillSize, entryOrder.StopLoss, entryOrder.TakeProfit)
	if err != nil {
		// The asset is held either way; an unprotected position still gets
		// opened so stop/target polling can defend it.
		e.logger.Printf("Executor | [%s] Bracket incomplete: %v", productID, err)
		e.notify.SendWithRetry(fmt.Sprintf("Bracket incomplete for %s: %v", productID, err))
	}

	meta := map[string]any{"post_only_entry": true}
	if sig, ok := entryOrder.Metadata["signal"]; ok {
		meta["signal"] = sig
	}
	if conf, ok := entryOrder.Metadata["confidence"]; ok {
		meta["confidence"] = conf
	}
	pos := position.Position{
		ProductID:    productID,
		BaseSize:     fillSize,
		EntryPrice:   fillPrice,
		CurrentPrice: fillPrice,
		StopLoss:     entryOrder.StopLoss,
		TakeProfit:   entryOrder.TakeProfit,
		EntryOrderID: entryOrder.ClientOrderID,
		Protective:   protective,
		Strategy:     e.strategy,
		FeesPaid:     commission,
		Status:       position.StatusOpen,
		OpenedAt:     filledAt,
		UpdatedAt:    filledAt,
		Metadata:     meta,
	}
	posID, err := e.store.OpenPosition(ctx, pos)
	if err != nil {
		e.logger.Printf("Executor | CRITICAL: [%s] filled entry has no position row: %v", productID, err)
		e.notify.SendWithRetry(fmt.Sprintf("CRITICAL: %s entry filled but position not persisted: %v", productID, err))
		return 0, fmt.Errorf("failed to open position for %s: %w", productID, err)
	}

	e.journal(ctx, journal.TypePosition, "position opened", map[string]any{
		"position_id": posID,
		"product_id":  productID,
		"entry_price": fillPrice,
		"size":        fillSize,
		"stop_loss":   entryOrder.StopLoss,
		"take_profit": entryOrder.TakeProfit,
		"strategy":    e.strategy,
	})
	e.logger.Printf("Executor | [%s] Position %d opened: %.8f @ %.8f, bracket stop=%s tp=%s",
		productID, posID, fillSize, fillPrice, protective.Stop, protective.TakeProfit)
	return posID, nil
}

// ExecuteSell closes an open position at market: cancel the bracket,
// sell, confirm the fill, and write the trade record.
func (e *Executor) ExecuteSell(ctx context.Context, pos *position.Position, exitReason string) error {
	productID := pos.ProductID

	currentPrice, err := e.exchange.LatestPrice(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to price exit for %s: %w", productID, err)
	}
	e.logger.Printf("Executor | [%s] SELL: size %.8f, entry %.8f, mark %.8f, unrealized $%.2f (%.2f%%), reason %s",
		productID, pos.BaseSize, pos.EntryPrice, currentPrice,
		pos.UnrealizedPnL(currentPrice), pos.PnLPercent(currentPrice), exitReason)

	for _, id := range []string{pos.Protective.Stop, pos.Protective.TakeProfit} {
		if id == "" {
			continue
		}
		if cerr := e.exchange.CancelOrder(ctx, id); cerr != nil {
			e.logger.Printf("Executor | [%s] Could not cancel protective order %s: %v", productID, id, cerr)
		}
	}

	clientOrderID := uuid.NewString()
	placed, err := e.exchange.PlaceOrder(ctx, exchange.OrderRequest{
		ClientOrderID: clientOrderID,
		ProductID:     productID,
		Side:          order.SideSell,
		Type:          order.TypeMarket,
		BaseSize:      pos.BaseSize,
	})
	if err != nil {
		metrics.RecordOrderFailure("exit_place")
		return fmt.Errorf("failed to place market sell for %s: %w", productID, err)
	}
	metrics.RecordOrder(e.exchange.Name(), order.SideSell)

	now := time.Now().UTC()
	sellOrder := order.Order{
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: placed.OrderID,
		ProductID:       productID,
		Side:            order.SideSell,
		Type:            order.TypeMarket,
		Status:          order.StatusSubmitted,
		BaseSize:        pos.BaseSize,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata: map[string]any{
			"exit_reason": exitReason,
			"position_id": pos.ID,
		},
	}
	if serr := e.store.SaveOrder(ctx, sellOrder); serr != nil {
		e.logger.Printf("Executor | Failed to record market sell %s: %v", clientOrderID, serr)
	}

	state, err := e.awaitFill(ctx, placed.OrderID, productID, e.cfg.ExitFillWait)
	if err != nil {
		var timeout *OrderTimeoutError
		if errors.As(err, &timeout) {
			msg := fmt.Sprintf("CRITICAL: market sell %s for %s unconfirmed after %s; position %d may still be open",
				placed.OrderID, productID, e.cfg.ExitFillWait, pos.ID)
			e.logger.Printf("Executor | %s", msg)
			e.notify.SendWithRetry(msg)
			e.journal(ctx, journal.TypeError, "market sell unconfirmed", map[string]any{
				"order_id":    placed.OrderID,
				"product_id":  productID,
				"position_id": pos.ID,
			})
			metrics.RecordOrderFailure("exit_timeout")
		}
		return err
	}
	if state.Status != order.StatusFilled {
		return fmt.Errorf("market sell %s for %s ended %s, not filled", placed.OrderID, productID, state.Status)
	}

	fillPrice, fillSize, exitFees := e.fillDetails(ctx, placed.OrderID, state, currentPrice)
	if fillSize <= 0 {
		fillSize = pos.BaseSize
	}

	filledAt := time.Now().UTC()
	sellOrder.Status = order.StatusFilled
	sellOrder.FilledPrice = fillPrice
	sellOrder.FilledSize = fillSize
	sellOrder.Commission = exitFees
	sellOrder.FilledAt = &filledAt
	sellOrder.UpdatedAt = filledAt
	if serr := e.store.SaveOrder(ctx, sellOrder); serr != nil {
		e.logger.Printf("Executor | Failed to record filled sell %s: %v", clientOrderID, serr)
	}

	trade := position.CloseTrade(pos, fillPrice, filledAt, exitReason, exitFees)
	if err := e.store.ClosePosition(ctx, pos.ID, trade); err != nil {
		e.logger.Printf("Executor | CRITICAL: [%s] exit filled but position %d not closed in store: %v", productID, pos.ID, err)
		e.notify.SendWithRetry(fmt.Sprintf("CRITICAL: %s exit filled but position %d not closed: %v", productID, pos.ID, err))
		return fmt.Errorf("failed to close position %d: %w", pos.ID, err)
	}

	metrics.RecordTrade(trade.PnL, exitReason)
	e.journal(ctx, journal.TypePosition, "position closed", map[string]any{
		"position_id": pos.ID,
		"product_id":  productID,
		"exit_price":  fillPrice,
		"pnl":         trade.PnL,
		"pnl_percent": trade.PnLPercent,
		"exit_reason": exitReason,
	})
	e.logger.Printf("Executor | [%s] Position %d closed @ %.8f: PnL $%.2f (%.2f%%), reason %s",
		productID, pos.ID, fillPrice, trade.PnL, trade.PnLPercent, exitReason)
	return nil
}

// entryPrice derives the limit price one tick inside the best ask, after
// rejecting a spread wider than the ceiling. It falls back to the latest
// traded price when the book is unavailable. The bool reports whether
// the candidate survived.
func (e *Executor) entryPrice(ctx context.Context, productID string) (float64, bool, error) {
	quotes, err := e.exchange.BestBidAsk(ctx, []string{productID})
	if err == nil {
		if q, ok := quotes[productID]; ok && q.Ask > 0 {
			if sp := q.SpreadPct(); sp > e.cfg.MaxSpreadPercent {
				e.logger.Printf("Executor | [%s] Spread too wide (%.2f%% > %.2f%%), skipping entry",
					productID, sp, e.cfg.MaxSpreadPercent)
				return 0, false, nil
			}
			price := q.Ask - e.cfg.TickSize
			if price <= 0 {
				price = q.Ask
			}
			e.logger.Printf("Executor | [%s] Spread analysis: best ask %.8f, spread %.3f%%, entry %.8f",
				productID, q.Ask, q.SpreadPct(), price)
			return price, true, nil
		}
	} else {
		e.logger.Printf("Executor | [%s] Best bid/ask unavailable: %v", productID, err)
	}

	price, err := e.exchange.LatestPrice(ctx, productID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to price entry for %s: %w", productID, err)
	}
	if price <= 0 {
		e.logger.Printf("Executor | [%s] No price available, skipping entry", productID)
		return 0, false, nil
	}
	return price, true, nil
}

// tapePressure reads the recent tape. A fetch failure degrades to the
// neutral reading rather than rejecting the candidate outright.
func (e *Executor) tapePressure(ctx context.Context, productID string) (market.VolumeFlow, error) {
	if ctx.Err() != nil {
		return market.VolumeFlow{}, ctx.Err()
	}
	trades, err := e.exchange.MarketTrades(ctx, productID, e.cfg.TapeLookback)
	if err != nil {
		e.logger.Printf("Executor | [%s] Tape fetch failed, assuming neutral pressure: %v", productID, err)
		return market.AnalyzeVolumeFlow(nil), nil
	}
	return market.AnalyzeVolumeFlow(trades), nil
}

// awaitFill polls order status until it turns terminal or the wait
// elapses. Transient status-check failures are logged and retried
// within the same wait.
func (e *Executor) awaitFill(ctx context.Context, orderID, productID string, wait time.Duration) (exchange.OrderState, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return exchange.OrderState{}, ctx.Err()
		case <-ticker.C:
		}

		state, err := e.exchange.OrderStatus(ctx, orderID)
		if err != nil {
			e.logger.Printf("Executor | [%s] Status check for %s failed: %v", productID, orderID, err)
		} else if state.Status.IsTerminal() {
			return state, nil
		}

		if time.Now().After(deadline) {
			return exchange.OrderState{}, &OrderTimeoutError{OrderID: orderID, ProductID: productID, Wait: wait}
		}
	}
}

// fillDetails resolves the effective fill price, size, and commission
// from the reported fills, falling back to the order state and finally
// the caller's reference price. A zero size means neither source knew.
func (e *Executor) fillDetails(ctx context.Context, orderID string, state exchange.OrderState, fallbackPrice float64) (float64, float64, float64) {
	fills, err := e.exchange.Fills(ctx, orderID)
	if err == nil && len(fills) > 0 {
		sum := order.SummarizeFills(fills)
		if sum.AvgPrice > 0 {
			e.logger.Printf("Executor | Order %s: %d/%d fills were maker, avg %.8f, commission %.4f",
				orderID, sum.MakerFills, sum.NumFills, sum.AvgPrice, sum.Commission)
			return sum.AvgPrice, sum.TotalSize, sum.Commission
		}
	}
	if err != nil {
		e.logger.Printf("Executor | Fill lookup for %s failed: %v", orderID, err)
	}
	if state.AvgFilledPrice > 0 {
		return state.AvgFilledPrice, state.FilledSize, state.TotalFees
	}
	return fallbackPrice, 0, 0
}

// placeProtectives arms the bracket: a stop-limit below the entry and a
// take-profit limit above it. Either both legs rest or neither does; a
// lone leg would break the pairing the reconciler relies on. Both legs
// are persisted as order rows so reconciliation can observe their
// fills.
func (e *Executor) placeProtectives(ctx context.Context, productID string, size, stop, target float64) (position.ProtectiveOrderIDs, error) {
	stopReq := exchange.OrderRequest{
		ClientOrderID: uuid.NewString(),
		ProductID:     productID,
		Side:          order.SideSell,
		Type:          order.TypeStopLimit,
		BaseSize:      size,
		LimitPrice:    stop * stopLimitSlip,
		StopPrice:     stop,
	}
	stopPlaced, err := e.exchange.PlaceOrder(ctx, stopReq)
	if err != nil {
		metrics.RecordOrderFailure("stop_place")
		return position.ProtectiveOrderIDs{}, fmt.Errorf("failed to place stop-loss order: %w", err)
	}
	stopRow := protectiveRow(stopReq, stopPlaced.OrderID)
	if serr := e.store.SaveOrder(ctx, stopRow); serr != nil {
		e.logger.Printf("Executor | Failed to record stop order %s: %v", stopPlaced.OrderID, serr)
	}

	tpReq := exchange.OrderRequest{
		ClientOrderID: uuid.NewString(),
		ProductID:     productID,
		Side:          order.SideSell,
		Type:          order.TypeLimitGTC,
		BaseSize:      size,
		LimitPrice:    target,
	}
	tpPlaced, err := e.exchange.PlaceOrder(ctx, tpReq)
	if err != nil {
		metrics.RecordOrderFailure("tp_place")
		if cerr := e.exchange.CancelOrder(ctx, stopPlaced.OrderID); cerr != nil {
			e.logger.Printf("Executor | CRITICAL: orphaned stop %s could not be cancelled: %v", stopPlaced.OrderID, cerr)
			e.notify.SendWithRetry(fmt.Sprintf("CRITICAL: orphaned stop order %s on %s could not be cancelled: %v",
				stopPlaced.OrderID, productID, cerr))
		} else {
			cancelledAt := time.Now().UTC()
			stopRow.Status = order.StatusCancelled
			stopRow.CancelledAt = &cancelledAt
			stopRow.UpdatedAt = cancelledAt
			if serr := e.store.SaveOrder(ctx, stopRow); serr != nil {
				e.logger.Printf("Executor | Failed to record cancelled stop %s: %v", stopPlaced.OrderID, serr)
			}
		}
		return position.ProtectiveOrderIDs{}, fmt.Errorf("failed to place take-profit order: %w", err)
	}
	if serr := e.store.SaveOrder(ctx, protectiveRow(tpReq, tpPlaced.OrderID)); serr != nil {
		e.logger.Printf("Executor | Failed to record take-profit order %s: %v", tpPlaced.OrderID, serr)
	}

	return position.ProtectiveOrderIDs{Stop: stopPlaced.OrderID, TakeProfit: tpPlaced.OrderID}, nil
}

// protectiveRow builds the order row for one bracket leg.
func protectiveRow(req exchange.OrderRequest, exchangeOrderID string) order.Order {
	now := time.Now().UTC()
	return order.Order{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: exchangeOrderID,
		ProductID:       req.ProductID,
		Side:            req.Side,
		Type:            req.Type,
		Status:          order.StatusSubmitted,
		BaseSize:        req.BaseSize,
		LimitPrice:      req.LimitPrice,
		StopPrice:       req.StopPrice,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        map[string]any{"protective": true},
	}
}
