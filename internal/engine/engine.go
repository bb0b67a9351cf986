// Package engine sequences the trading cycle: reconcile open orders,
// refresh balances and equity, enforce the drawdown halt, manage open
// positions, scan the market, rotate weak holdings into stronger
// candidates, and enter the best opportunity. One cycle runs at a time;
// the fan-out lives inside the scanner.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/psreek-ai/coinbase-trader/internal/analytics"
	"github.com/psreek-ai/coinbase-trader/internal/exchange"
	"github.com/psreek-ai/coinbase-trader/internal/journal"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/marketdata"
	"github.com/psreek-ai/coinbase-trader/internal/metrics"
	"github.com/psreek-ai/coinbase-trader/internal/notifier"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/position"
	"github.com/psreek-ai/coinbase-trader/internal/reconcile"
	"github.com/psreek-ai/coinbase-trader/internal/risk"
	"github.com/psreek-ai/coinbase-trader/internal/scanner"
	"github.com/psreek-ai/coinbase-trader/internal/state"
	"github.com/psreek-ai/coinbase-trader/internal/strategy"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// Config bounds the cycle.
type Config struct {
	CycleInterval time.Duration `yaml:"cycle_interval" env:"ENGINE_CYCLE_INTERVAL" envDefault:"60s"`
	MaxCandidates int           `yaml:"max_candidates" env:"ENGINE_MAX_CANDIDATES" envDefault:"10"`
	SnapshotEvery int           `yaml:"snapshot_every" env:"ENGINE_SNAPSHOT_EVERY" envDefault:"10"`
	StatsWindow   time.Duration `yaml:"stats_window" env:"ENGINE_STATS_WINDOW" envDefault:"720h"`

	// AutoConvert rotates capital out of holdings the strategy has gone
	// cold on, into this cycle's buy candidates. ConvertMinEdge is the
	// confidence gap a buy must hold over a HOLD verdict before the
	// rotation is worth the round-trip fees.
	AutoConvert    bool    `yaml:"auto_convert" env:"ENGINE_AUTO_CONVERT" envDefault:"true"`
	ConvertMinEdge float64 `yaml:"convert_min_edge" env:"ENGINE_CONVERT_MIN_EDGE" envDefault:"0.2"`

	// DustValue is the floor for the holdings-analysis balance fetch,
	// far below the tradable minimum so weak scraps still get rotated.
	DustValue float64 `yaml:"dust_value" env:"ENGINE_DUST_VALUE" envDefault:"0.01"`

	// PollExits evaluates stops, targets and trailing stops locally
	// each cycle and exits with market orders. Live runs leave exits to
	// the resting protective orders; the paper venue never fills those,
	// so paper runs need this on.
	PollExits bool `yaml:"poll_exits" env:"ENGINE_POLL_EXITS" envDefault:"false"`
}

// DefaultConfig returns the stock cycle settings.
func DefaultConfig() Config {
	return Config{
		CycleInterval:  time.Minute,
		MaxCandidates:  10,
		SnapshotEvery:  10,
		StatsWindow:    30 * 24 * time.Hour,
		AutoConvert:    true,
		ConvertMinEdge: 0.2,
		DustValue:      0.01,
	}
}

// Venue is the slice of the exchange surface the engine needs.
type Venue interface {
	Name() string
	PortfolioID(ctx context.Context) (string, error)
	Balances(ctx context.Context, portfolioID string, minValue float64) (map[string]market.Balance, error)
	TradableProducts(ctx context.Context, balances map[string]market.Balance) ([]market.Product, error)
	Product(ctx context.Context, productID string) (market.Product, error)
	LatestPrice(ctx context.Context, productID string) (float64, error)
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Placed, error)
	TransactionSummary(ctx context.Context) (exchange.FeeSummary, error)
}

// Store is the persistence surface the engine touches directly. Its
// collaborators own their own slices.
type Store interface {
	SaveOrder(ctx context.Context, o order.Order) error
	GetOpenPositions(ctx context.Context) ([]position.Position, error)
	UpdatePosition(ctx context.Context, pos position.Position) error
	GetTrades(ctx context.Context, start, end time.Time) ([]position.TradeRecord, error)
	SaveEquityPoint(ctx context.Context, p analytics.EquityPoint) error
	GetEquityCurve(ctx context.Context, start, end time.Time) ([]analytics.EquityPoint, error)
	SaveSnapshot(ctx context.Context, s analytics.Snapshot) error
	LogEvent(ctx context.Context, e journal.Event) error
}

// Trader executes entries and exits. *executor.Executor satisfies it.
type Trader interface {
	ExecuteBuy(ctx context.Context, product market.Product, sig strategy.Signal, balances map[string]market.Balance, equity float64) (bool, error)
	ExecuteSell(ctx context.Context, pos *position.Position, exitReason string) error
}

// Reconciler drives open orders to their conclusion ahead of each
// cycle's entries. *reconcile.Reconciler satisfies it.
type Reconciler interface {
	Run(ctx context.Context) (reconcile.Stats, error)
}

// MarketScanner grades the tradable universe and current holdings.
// *scanner.Scanner satisfies it.
type MarketScanner interface {
	Scan(ctx context.Context, products []market.Product) ([]scanner.Candidate, error)
	ScanHoldings(ctx context.Context, balances map[string]market.Balance, products []market.Product) (sells, holds []scanner.Holding, err error)
}

// Deps are the collaborators the engine sequences. Prices may be nil
// when no streaming feed is running; position marks then fall back to
// REST lookups.
type Deps struct {
	Venue  Venue
	Store  Store
	Trader Trader
	Rec    Reconciler
	Scan   MarketScanner
	Risk   *risk.Manager
	State  *state.Manager
	Prices *marketdata.Cache
	Notify notifier.Notifier
}

// Engine owns the control loop. It is not safe for concurrent use;
// exactly one Run drives it.
type Engine struct {
	cfg    Config
	venue  Venue
	store  Store
	trader Trader
	rec    Reconciler
	scan   MarketScanner
	rm     *risk.Manager
	state  *state.Manager
	prices *marketdata.Cache
	notify notifier.Notifier
	logger *log.Logger

	portfolioID   string
	initialEquity float64
	cycles        int
	feeDay        string
	haltNotified  bool
}

func New(cfg Config, d Deps) *Engine {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Minute
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 10
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 30 * 24 * time.Hour
	}
	if cfg.DustValue <= 0 {
		cfg.DustValue = 0.01
	}
	n := d.Notify
	if n == nil {
		n = notifier.Noop{}
	}
	return &Engine{
		cfg:    cfg,
		venue:  d.Venue,
		store:  d.Store,
		trader: d.Trader,
		rec:    d.Rec,
		scan:   d.Scan,
		rm:     d.Risk,
		state:  d.State,
		prices: d.Prices,
		notify: n,
		logger: utils.GetLogger(),
	}
}

// Run executes trading cycles until ctx is cancelled. The first cycle
// starts immediately; a panic inside a cycle is reported and the loop
// carries on at the next tick.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.start(ctx); err != nil {
		return err
	}

	e.logger.Printf("Engine | Trading loop started on %s: cycle %v, initial equity %.2f",
		e.venue.Name(), e.cfg.CycleInterval, e.initialEquity)
	e.notify.Send(fmt.Sprintf("Trading started on %s with equity %.2f", e.venue.Name(), e.initialEquity))

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		if err := e.runCycle(ctx); err != nil && ctx.Err() == nil {
			e.logger.Printf("Engine | Cycle %d failed: %v", e.cycles, err)
		}
		select {
		case <-ctx.Done():
			e.logger.Printf("Engine | Shutting down after %d cycles", e.cycles)
			e.notify.Send("Trading stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// start restores the previous run's risk state and establishes the
// equity baseline on a first run.
func (e *Engine) start(ctx context.Context) error {
	portfolioID, err := e.venue.PortfolioID(ctx)
	if err != nil {
		return fmt.Errorf("resolve portfolio: %w", err)
	}
	e.portfolioID = portfolioID

	snap, found, err := e.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if found {
		e.rm.Restore(snap.Risk)
		e.initialEquity = snap.InitialEquity
		e.logger.Printf("Engine | Restored state from %s: peak equity %.2f, halted %v",
			snap.UpdatedAt.Format(time.RFC3339), snap.Risk.PeakEquity, snap.Risk.Halted)
	}

	if e.initialEquity <= 0 {
		balances, err := e.venue.Balances(ctx, e.portfolioID, 0)
		if err != nil {
			return fmt.Errorf("initial balances: %w", err)
		}
		equity, _ := e.totalEquity(ctx, balances)
		e.initialEquity = equity
		e.saveState(ctx)
	}
	return nil
}

func (e *Engine) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			e.notify.SendWithRetry(fmt.Sprintf("CRITICAL: trading cycle panicked: %v", r))
		}
	}()
	return e.Cycle(ctx)
}

// Cycle runs one pass of the trading loop. Individual step failures
// degrade the cycle where the rest can still proceed safely; anything
// the remainder depends on aborts the cycle until the next tick.
func (e *Engine) Cycle(ctx context.Context) error {
	started := time.Now()
	defer func() { metrics.SetCycleDuration(time.Since(started).Seconds()) }()
	e.cycles++

	e.logFeeTier(ctx)

	// Reconciliation must finish before any new entries are evaluated.
	if _, err := e.rec.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		e.logger.Printf("Engine | Reconciliation failed: %v", err)
	}

	minValue := e.rm.Config().MinTradeValue
	balances, err := e.venue.Balances(ctx, e.portfolioID, minValue)
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}
	if len(balances) == 0 {
		e.logger.Printf("Engine | No balances worth at least %.2f, skipping cycle", minValue)
		return nil
	}

	equity, cash := e.totalEquity(ctx, balances)
	if equity <= 0 {
		return fmt.Errorf("non-positive equity %.2f", equity)
	}

	halted := e.rm.CheckDrawdown(equity)
	e.publishRiskMetrics(equity, halted)
	e.saveState(ctx)

	positions, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	metrics.SetOpenPositions(len(positions))

	e.managePositions(ctx, positions)

	// A halt blocks everything that opens new risk. Open positions were
	// still marked above and their exits still run.
	if halted {
		if !e.haltNotified {
			_, reason := e.rm.Halted()
			e.notify.SendWithRetry(fmt.Sprintf("CRITICAL: trading halted (%s): equity %.2f against peak %.2f",
				reason, equity, e.rm.PeakEquity()))
			e.haltNotified = true
		}
		e.logger.Printf("Engine | Trading halted, managing open positions only")
		e.recordPerformance(ctx, started, equity, cash, positions)
		return nil
	}
	e.haltNotified = false

	// The second, dust-level fetch widens the universe to everything
	// held, so weak scraps below the tradable minimum still rotate.
	holdings, err := e.venue.Balances(ctx, e.portfolioID, e.cfg.DustValue)
	if err != nil {
		e.logger.Printf("Engine | Holdings refresh failed, reusing tradable balances: %v", err)
		holdings = balances
	}

	products, err := e.venue.TradableProducts(ctx, holdings)
	if err != nil {
		return fmt.Errorf("list tradable products: %w", err)
	}
	if len(products) == 0 {
		e.logger.Printf("Engine | No tradable products, skipping cycle")
		e.recordPerformance(ctx, started, equity, cash, positions)
		return nil
	}

	sells, holds, err := e.scan.ScanHoldings(ctx, holdings, products)
	if err != nil {
		return fmt.Errorf("holdings analysis: %w", err)
	}

	scanStarted := time.Now()
	candidates, err := e.scan.Scan(ctx, products)
	if err != nil {
		return fmt.Errorf("market scan: %w", err)
	}
	actionable := aboveThreshold(candidates)
	metrics.SetScanStats(len(actionable), time.Since(scanStarted).Seconds())

	if e.cfg.AutoConvert {
		e.convertHoldings(ctx, sells, holds, actionable, holdings, positions)
	}

	e.enterBest(ctx, actionable, balances, equity)

	e.recordPerformance(ctx, started, equity, cash, positions)
	return nil
}

// logFeeTier reports the account's fee tier once per UTC day.
func (e *Engine) logFeeTier(ctx context.Context) {
	today := time.Now().UTC().Format("2006-01-02")
	if e.feeDay == today {
		return
	}
	fees, err := e.venue.TransactionSummary(ctx)
	if err != nil {
		e.logger.Printf("Engine | Fee summary failed: %v", err)
		return
	}
	e.feeDay = today
	e.logger.Printf("Engine | Fee tier: maker %.4f%%, taker %.4f%%, 30-day volume %.2f",
		fees.MakerFeeRate*100, fees.TakerFeeRate*100, fees.TotalVolume)
}

// totalEquity prices every holding: stablecoins at face value, the rest
// at the freshest mark available, falling back to the fiat value the
// exchange reported alongside the balance. Returns total equity and the
// cash component.
func (e *Engine) totalEquity(ctx context.Context, balances map[string]market.Balance) (equity, cash float64) {
	for asset, b := range balances {
		amount := b.Total()
		if amount <= 0 {
			continue
		}
		if market.IsStablecoin(asset) {
			equity += amount
			cash += amount
			continue
		}
		if price, err := e.assetPrice(ctx, asset); err == nil && price > 0 {
			equity += amount * price
			continue
		}
		equity += b.Value
	}
	return equity, cash
}

// assetPrice resolves a spot price for one asset, trying the USD pair
// first and the USDC pair when no USD book exists.
func (e *Engine) assetPrice(ctx context.Context, asset string) (float64, error) {
	price, err := e.markPrice(ctx, asset+"-USD")
	if err == nil && price > 0 {
		return price, nil
	}
	return e.markPrice(ctx, asset+"-USDC")
}

// markPrice prefers the streaming feed's cached price and falls back to
// a REST lookup when the cache is cold or absent.
func (e *Engine) markPrice(ctx context.Context, productID string) (float64, error) {
	if e.prices != nil {
		if p, ok := e.prices.Price(productID); ok {
			return p, nil
		}
	}
	return e.venue.LatestPrice(ctx, productID)
}

// managePositions refreshes each open position's mark and, when exit
// polling is on, closes positions whose stop or target has been hit and
// ratchets trailing stops. Failures skip the one position.
func (e *Engine) managePositions(ctx context.Context, positions []position.Position) {
	for i := range positions {
		pos := &positions[i]
		price, err := e.markPrice(ctx, pos.ProductID)
		if err != nil {
			e.logger.Printf("Engine | [%s] Price refresh failed: %v", pos.ProductID, err)
			continue
		}
		pos.CurrentPrice = price
		pos.UpdatedAt = time.Now().UTC()
		if err := e.store.UpdatePosition(ctx, *pos); err != nil {
			e.logger.Printf("Engine | [%s] Position update failed: %v", pos.ProductID, err)
		}

		if !e.cfg.PollExits {
			continue
		}
		if closeNow, reason := e.rm.ShouldClose(pos, price); closeNow {
			e.logger.Printf("Engine | [%s] Exit condition %s at %.8g", pos.ProductID, reason, price)
			if err := e.trader.ExecuteSell(ctx, pos, reason); err != nil {
				e.logger.Printf("Engine | [%s] Exit failed: %v", pos.ProductID, err)
			}
			continue
		}
		if newStop := e.rm.UpdateTrailingStop(pos, price); newStop > 0 {
			pos.StopLoss = newStop
			if err := e.store.UpdatePosition(ctx, *pos); err != nil {
				e.logger.Printf("Engine | [%s] Trailing stop update failed: %v", pos.ProductID, err)
			} else {
				e.logger.Printf("Engine | [%s] Trailing stop raised to %.8g", pos.ProductID, newStop)
			}
		}
	}
}

// convertHoldings rotates capital out of weak holdings. Sell verdicts
// always convert; HOLD verdicts convert only when the paired buy
// candidate out-scores them by ConvertMinEdge. Each attempt consumes
// one buy candidate so the bot never liquidates more holdings than it
// has targets for; the freed quote funds the entry step. Returns the
// number of completed conversions.
func (e *Engine) convertHoldings(ctx context.Context, sells, holds []scanner.Holding, buys []scanner.Candidate, balances map[string]market.Balance, positions []position.Position) int {
	if len(buys) == 0 || (len(sells) == 0 && len(holds) == 0) {
		return 0
	}

	// Assets backing a tracked position belong to its lifecycle; selling
	// them here would strand the position's protective orders.
	tracked := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		tracked[market.BaseAsset(p.ProductID)] = struct{}{}
	}

	// Strongest sell conviction converts first; the weakest hold is the
	// first rotation candidate.
	sort.SliceStable(sells, func(i, j int) bool { return sells[i].Signal.Confidence > sells[j].Signal.Confidence })
	sort.SliceStable(holds, func(i, j int) bool { return holds[i].Signal.Confidence < holds[j].Signal.Confidence })

	converted := 0
	buyIndex := 0

	attempt := func(h scanner.Holding, requireEdge bool) bool {
		if buyIndex >= len(buys) {
			return false
		}
		target := buys[buyIndex]
		if requireEdge && target.Signal.Confidence-h.Signal.Confidence < e.cfg.ConvertMinEdge {
			return true
		}
		if _, ok := tracked[h.Asset]; ok {
			return true
		}
		b, ok := balances[h.Asset]
		if !ok || b.Available <= 0 {
			return true
		}
		if market.BaseAsset(target.Product.ProductID) == h.Asset {
			buyIndex++
			return true
		}
		buyIndex++
		if e.convert(ctx, h, target, b.Available) {
			converted++
		}
		return true
	}

	for _, h := range sells {
		if ctx.Err() != nil {
			return converted
		}
		if !attempt(h, false) {
			break
		}
	}
	for _, h := range holds {
		if ctx.Err() != nil {
			return converted
		}
		if !attempt(h, true) {
			break
		}
	}

	if converted > 0 {
		e.logger.Printf("Engine | Converted %d weak holdings", converted)
	}
	return converted
}

// convert market-sells the full holding into USDC and records the
// order; the reconciler confirms the fill like any other exit.
func (e *Engine) convert(ctx context.Context, h scanner.Holding, target scanner.Candidate, available float64) bool {
	productID := h.Asset + "-USDC"
	product, err := e.venue.Product(ctx, productID)
	if err != nil {
		e.logger.Printf("Engine | [%s] Conversion product lookup failed: %v", productID, err)
		return false
	}

	size := market.QuantizeToIncrement(available, product.BaseIncrement)
	if size <= 0 || size < product.BaseMinSize {
		e.logger.Printf("Engine | [%s] Conversion size %.8f below venue minimum %.8f", productID, size, product.BaseMinSize)
		return false
	}

	e.logger.Printf("Engine | Converting %s (%s %.2f) toward %s (%.2f)",
		h.Asset, h.Signal.Action, h.Signal.Confidence, target.Product.ProductID, target.Signal.Confidence)

	req := exchange.OrderRequest{
		ClientOrderID: uuid.NewString(),
		ProductID:     productID,
		Side:          order.SideSell,
		Type:          order.TypeMarket,
		BaseSize:      size,
	}
	placed, err := e.venue.PlaceOrder(ctx, req)
	if err != nil {
		e.logger.Printf("Engine | [%s] Conversion sell failed: %v", productID, err)
		metrics.RecordOrderFailure("conversion")
		return false
	}
	metrics.RecordOrder("conversion", order.SideSell)

	now := time.Now().UTC()
	row := order.Order{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: placed.OrderID,
		ProductID:       productID,
		Side:            order.SideSell,
		Type:            order.TypeMarket,
		Status:          order.StatusSubmitted,
		BaseSize:        size,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata: map[string]any{
			"conversion": true,
			"target":     target.Product.ProductID,
		},
	}
	if err := e.store.SaveOrder(ctx, row); err != nil {
		e.logger.Printf("Engine | [%s] Conversion order %s not persisted: %v", productID, placed.OrderID, err)
	}
	e.journal(ctx, journal.TypeOrder, "holding converted", map[string]any{
		"asset":      h.Asset,
		"size":       size,
		"confidence": h.Signal.Confidence,
		"target":     target.Product.ProductID,
	})
	return true
}

// enterBest walks the ranked candidates and stops after the first
// filled entry, so later sizing always sees post-trade equity. Gate
// rejections and failures move on to the next candidate.
func (e *Engine) enterBest(ctx context.Context, candidates []scanner.Candidate, balances map[string]market.Balance, equity float64) {
	limit := min(e.cfg.MaxCandidates, len(candidates))
	for _, c := range candidates[:limit] {
		if ctx.Err() != nil {
			return
		}
		traded, err := e.trader.ExecuteBuy(ctx, c.Product, c.Signal, balances, equity)
		if err != nil {
			e.logger.Printf("Engine | [%s] Entry attempt failed: %v", c.Product.ProductID, err)
		}
		if traded {
			return
		}
	}
}

// recordPerformance appends the cycle's equity point and, every
// SnapshotEvery cycles, a trailing performance snapshot.
func (e *Engine) recordPerformance(ctx context.Context, now time.Time, equity, cash float64, positions []position.Position) {
	point := analytics.EquityPoint{
		Time:           now.UTC(),
		Equity:         equity,
		Cash:           cash,
		PositionsValue: equity - cash,
	}
	if err := e.store.SaveEquityPoint(ctx, point); err != nil {
		e.logger.Printf("Engine | Equity point save failed: %v", err)
	}

	if e.cfg.SnapshotEvery <= 0 || e.cycles%e.cfg.SnapshotEvery != 0 {
		return
	}

	pm := e.rm.CalculatePortfolioMetrics(equity, positions)
	e.logger.Printf("Engine | Portfolio: %d positions worth %.2f (%.1f%% exposure), unrealized PnL %.2f",
		pm.NumPositions, pm.PositionsValue, pm.TotalExposure*100, pm.TotalUnrealizedPnL)

	start := now.Add(-e.cfg.StatsWindow)
	end := now.Add(time.Minute)
	trades, err := e.store.GetTrades(ctx, start, end)
	if err != nil {
		e.logger.Printf("Engine | Trade history load failed: %v", err)
		return
	}
	curve, err := e.store.GetEquityCurve(ctx, start, end)
	if err != nil {
		e.logger.Printf("Engine | Equity curve load failed: %v", err)
		return
	}
	snap := analytics.Summarize(now.UTC(), trades, curve, analytics.DefaultRiskFreeRate)
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Printf("Engine | Performance snapshot save failed: %v", err)
		return
	}
	e.logger.Printf("Engine | Performance over %v: %d trades, win rate %.1f%%, PnL %.2f, sharpe %.2f, max drawdown %.1f%%",
		e.cfg.StatsWindow, snap.TotalTrades, snap.WinRate*100, snap.TotalPnL, snap.SharpeRatio, snap.MaxDrawdownPct)
}

func (e *Engine) publishRiskMetrics(equity float64, halted bool) {
	metrics.SetEquity(equity)
	metrics.SetHalted(halted)
	if peak := e.rm.PeakEquity(); peak > 0 {
		dd := (peak - equity) / peak * 100
		if dd < 0 {
			dd = 0
		}
		metrics.SetDrawdownPercent(dd)
	}
}

func (e *Engine) saveState(ctx context.Context) {
	snap := state.Snapshot{Risk: e.rm.Snapshot(), InitialEquity: e.initialEquity}
	if err := e.state.Save(ctx, snap); err != nil {
		e.logger.Printf("Engine | State save failed: %v", err)
	}
}

func (e *Engine) journal(ctx context.Context, eventType, description string, data map[string]any) {
	if err := journal.Log(ctx, e.store, eventType, description, data); err != nil {
		e.logger.Printf("Engine | Journal write failed: %v", err)
	}
}

func aboveThreshold(candidates []scanner.Candidate) []scanner.Candidate {
	var out []scanner.Candidate
	for _, c := range candidates {
		if c.AboveThreshold {
			out = append(out, c)
		}
	}
	return out
}
