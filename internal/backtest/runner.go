package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/risk"
	"github.com/psreek-ai/coinbase-trader/internal/strategy"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// DefaultProducts are the liquid pairs worth validating against when
// the caller has no watchlist of its own.
var DefaultProducts = []string{
	"BTC-USDC", "ETH-USDC", "SOL-USDC", "XRP-USDC",
	"ADA-USDC", "DOGE-USDC", "AVAX-USDC", "LINK-USDC",
}

// Summary is the outcome of simulating a product set.
type Summary struct {
	Strategy    string    `json:"strategy"`
	Granularity string    `json:"granularity"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`

	// Results is sorted by total return, best first.
	Results []Result `json:"results"`

	Failed    int       `json:"failed"`
	Aggregate Aggregate `json:"aggregate"`
}

// Aggregate rolls per-product results into one view.
type Aggregate struct {
	Products        int     `json:"products"`
	TotalTrades     int     `json:"total_trades"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"`
	TotalPnL        float64 `json:"total_pnl"`
	AvgReturn       float64 `json:"avg_return"`
	AvgSharpe       float64 `json:"avg_sharpe"`
	AvgPrecision    float64 `json:"avg_precision"`
	AvgF1           float64 `json:"avg_f1"`
	ProfitableCount int     `json:"profitable_count"`
}

// Runner fans simulated runs across products with a bounded worker
// pool, the same shape the scanner uses for live analysis. Workers page
// history concurrently; the loader's per-window delay keeps the
// aggregate request rate tame on a cold cache.
type Runner struct {
	cfg    Config
	ex     History
	store  candle.Storage
	rm     *risk.Manager
	strat  strategy.Strategy
	logger *log.Logger
}

// NewRunner wires a multi-product runner.
func NewRunner(cfg Config, ex History, store candle.Storage, rm *risk.Manager, strat strategy.Strategy) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Days <= 0 {
		cfg.Days = 30
	}
	if cfg.Granularity == "" {
		cfg.Granularity = candle.FifteenMinute
	}
	return &Runner{cfg: cfg, ex: ex, store: store, rm: rm, strat: strat, logger: utils.GetLogger()}
}

// RunAll loads history for every product and simulates each through the
// strategy. A product that fails to load or has too little history is
// skipped, not fatal; the error returns only on cancellation or when
// nothing at all ran.
func (r *Runner) RunAll(ctx context.Context, productIDs []string) (Summary, error) {
	if len(productIDs) == 0 {
		productIDs = DefaultProducts
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(r.cfg.Days) * 24 * time.Hour)
	sim := NewSimulator(r.cfg, r.rm, r.strat)

	r.logger.Printf("Backtest | Simulating %d products over %d days of %s candles",
		len(productIDs), r.cfg.Days, r.cfg.Granularity)

	workers := min(r.cfg.Workers, len(productIDs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	summary := Summary{Strategy: r.strat.Name(), Granularity: r.cfg.Granularity, Start: start, End: end}

	for _, pid := range productIDs {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			candles, err := LoadCandles(ctx, r.ex, r.store, pid, r.cfg.Granularity, start, end)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Printf("Backtest | [%s] History unavailable: %v", pid, err)
				}
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				return
			}

			res, err := sim.Run(ctx, pid, candles)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Printf("Backtest | [%s] Simulation failed: %v", pid, err)
				}
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				return
			}

			mu.Lock()
			summary.Results = append(summary.Results, res)
			mu.Unlock()
		}(pid)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	if len(summary.Results) == 0 {
		return Summary{}, fmt.Errorf("no products produced results (%d failed)", summary.Failed)
	}

	sort.SliceStable(summary.Results, func(i, j int) bool {
		return summary.Results[i].TotalReturn > summary.Results[j].TotalReturn
	})
	summary.Aggregate = aggregate(summary.Results)
	return summary, nil
}

func aggregate(results []Result) Aggregate {
	agg := Aggregate{Products: len(results)}
	if len(results) == 0 {
		return agg
	}
	var returnSum, sharpeSum, precisionSum, f1Sum float64
	for _, r := range results {
		agg.TotalTrades += r.Stats.TotalTrades
		agg.Wins += r.Stats.Wins
		agg.Losses += r.Stats.Losses
		agg.TotalPnL += r.FinalEquity - r.InitialEquity
		returnSum += r.TotalReturn
		sharpeSum += r.SharpeRatio
		precisionSum += r.Quality.Precision()
		f1Sum += r.Quality.F1()
		if r.FinalEquity > r.InitialEquity {
			agg.ProfitableCount++
		}
	}
	if agg.TotalTrades > 0 {
		agg.WinRate = float64(agg.Wins) / float64(agg.TotalTrades)
	}
	n := float64(len(results))
	agg.AvgReturn = returnSum / n
	agg.AvgSharpe = sharpeSum / n
	agg.AvgPrecision = precisionSum / n
	agg.AvgF1 = f1Sum / n
	return agg
}

// Log prints the summary through the standard logger, best performers
// first.
func (s Summary) Log() {
	logger := utils.GetLogger()
	logger.Printf("Backtest | %s on %d products, %s candles, %s to %s",
		s.Strategy, len(s.Results), s.Granularity, s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"))
	logger.Printf("Backtest | %d trades (%d wins, %d losses), win rate %.1f%%, total PnL %+.2f",
		s.Aggregate.TotalTrades, s.Aggregate.Wins, s.Aggregate.Losses, s.Aggregate.WinRate*100, s.Aggregate.TotalPnL)
	logger.Printf("Backtest | Avg return %+.2f%%, avg Sharpe %.2f, precision %.1f%%, F1 %.2f, %d/%d profitable",
		s.Aggregate.AvgReturn*100, s.Aggregate.AvgSharpe, s.Aggregate.AvgPrecision*100,
		s.Aggregate.AvgF1, s.Aggregate.ProfitableCount, s.Aggregate.Products)
	if s.Failed > 0 {
		logger.Printf("Backtest | %d products failed to run", s.Failed)
	}
	top := min(10, len(s.Results))
	for i := 0; i < top; i++ {
		r := s.Results[i]
		logger.Printf("Backtest | %2d. %-12s return %+.2f%%, %d trades, win rate %.1f%%, max drawdown %.2f%%",
			i+1, r.ProductID, r.TotalReturn*100, r.Stats.TotalTrades, r.Stats.WinRate*100, r.MaxDrawdownPct)
	}
}

// WriteJSON saves the summary with full trade logs and equity curves
// for offline inspection.
func (s Summary) WriteJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating results file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	utils.GetLogger().Printf("Backtest | Results saved to %s", path)
	return nil
}
