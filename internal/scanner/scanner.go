// Package scanner runs the market scan: fetch recent history for every
// tradable product concurrently, grade each with the active strategy,
// and rank buy candidates by confidence. It also re-grades currently
// held assets so the engine can rotate out of weak holdings.
package scanner

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/strategy"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// Config bounds the scan.
type Config struct {
	MaxWorkers      int     `yaml:"max_workers" env:"SCANNER_MAX_WORKERS" envDefault:"10"`
	CandleCount     int     `yaml:"candle_count" env:"SCANNER_CANDLE_COUNT" envDefault:"200"`
	Granularity     string  `yaml:"granularity" env:"SCANNER_GRANULARITY" envDefault:"FIFTEEN_MINUTE"`
	MinCandles      int     `yaml:"min_candles" env:"SCANNER_MIN_CANDLES" envDefault:"50"`
	MinConfidence   float64 `yaml:"min_confidence" env:"SCANNER_MIN_CONFIDENCE" envDefault:"0.6"`
	MinHoldingValue float64 `yaml:"min_holding_value" env:"SCANNER_MIN_HOLDING_VALUE" envDefault:"10.0"`
}

// DefaultConfig returns the stock scan limits.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      10,
		CandleCount:     200,
		Granularity:     candle.FifteenMinute,
		MinCandles:      50,
		MinConfidence:   0.6,
		MinHoldingValue: 10.0,
	}
}

// Candidate is one buy signal from the scan. Signals under the
// confidence bar are kept with AboveThreshold false so near misses can
// be inspected.
type Candidate struct {
	Product        market.Product
	Signal         strategy.Signal
	AboveThreshold bool
}

// Holding is the verdict on one held asset.
type Holding struct {
	Asset     string
	ProductID string
	Value     float64
	Signal    strategy.Signal
}

type Scanner struct {
	cfg     Config
	fetcher candle.Fetcher
	strat   strategy.Strategy
	logger  *log.Logger
}

func New(cfg Config, fetcher candle.Fetcher, strat strategy.Strategy) *Scanner {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = 200
	}
	if cfg.Granularity == "" {
		cfg.Granularity = candle.FifteenMinute
	}
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = 50
	}
	return &Scanner{
		cfg:     cfg,
		fetcher: fetcher,
		strat:   strat,
		logger:  utils.GetLogger(),
	}
}

// Scan analyzes every product and returns buy candidates sorted by
// confidence, best first. A failed fetch or analysis skips that product
// only; the scan itself fails only on context cancellation.
func (s *Scanner) Scan(ctx context.Context, products []market.Product) ([]Candidate, error) {
	if len(products) == 0 {
		return nil, nil
	}
	started := time.Now()

	// Use a semaphore to limit concurrent candle fetches
	workers := min(s.cfg.MaxWorkers, len(products))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var buys []Candidate
	var skipped int

	for _, p := range products {
		wg.Add(1)
		go func(p market.Product) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			candles, err := s.fetcher.Candles(ctx, p.ProductID, s.cfg.Granularity, s.cfg.CandleCount)
			if err != nil {
				s.logger.Printf("Scanner | [%s] Candle fetch failed: %v", p.ProductID, err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return
			}
			if len(candles) < s.cfg.MinCandles {
				mu.Lock()
				skipped++
				mu.Unlock()
				return
			}

			if ctx.Err() != nil {
				return
			}

			sig, err := s.strat.Analyze(ctx, p.ProductID, candles)
			if err != nil {
				s.logger.Printf("Scanner | [%s] Analysis failed: %v", p.ProductID, err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return
			}

			if sig.Action != strategy.Buy {
				return
			}
			mu.Lock()
			buys = append(buys, Candidate{
				Product:        p,
				Signal:         sig,
				AboveThreshold: sig.Confidence >= s.cfg.MinConfidence,
			})
			mu.Unlock()
		}(p)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].Signal.Confidence > buys[j].Signal.Confidence
	})

	above := 0
	for _, c := range buys {
		if c.AboveThreshold {
			above++
		}
	}
	s.logger.Printf("Scanner | Scanned %d products in %v: %d buy signals, %d above %.2f confidence, %d skipped",
		len(products), time.Since(started).Round(time.Millisecond), len(buys), above, s.cfg.MinConfidence, skipped)

	// Show the best three near misses for tuning the threshold.
	shown := 0
	for _, c := range buys {
		if c.AboveThreshold {
			continue
		}
		s.logger.Printf("Scanner | Near miss: %s confidence %.2f (%s)",
			c.Signal.ProductID, c.Signal.Confidence, strings.Join(c.Signal.Reasons, ", "))
		if shown++; shown == 3 {
			break
		}
	}

	return buys, nil
}

// ScanHoldings grades currently held assets. Stablecoins and holdings
// worth less than MinHoldingValue are skipped. Sell verdicts land in
// the first bucket; everything else, including buys, stays in the hold
// bucket since the position is already on.
func (s *Scanner) ScanHoldings(ctx context.Context, balances map[string]market.Balance, products []market.Product) (sells, holds []Holding, err error) {
	type task struct {
		asset   string
		value   float64
		product market.Product
	}

	byBase := make(map[string]market.Product)
	for _, p := range products {
		base := p.BaseCurrency
		existing, ok := byBase[base]
		if !ok || (market.QuoteAsset(existing.ProductID) != "USD" && market.QuoteAsset(p.ProductID) == "USD") {
			byBase[base] = p
		}
	}

	var tasks []task
	for asset, b := range balances {
		if market.IsStablecoin(asset) || b.Value < s.cfg.MinHoldingValue {
			continue
		}
		p, ok := byBase[asset]
		if !ok {
			continue
		}
		tasks = append(tasks, task{asset: asset, value: b.Value, product: p})
	}
	if len(tasks) == 0 {
		return nil, nil, nil
	}

	// Holdings are few; three workers keep this phase light.
	sem := make(chan struct{}, min(3, len(tasks)))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			candles, ferr := s.fetcher.Candles(ctx, t.product.ProductID, s.cfg.Granularity, s.cfg.CandleCount)
			if ferr != nil {
				s.logger.Printf("Scanner | [%s] Holding fetch failed: %v", t.product.ProductID, ferr)
				return
			}
			if len(candles) < s.cfg.MinCandles {
				return
			}

			sig, aerr := s.strat.Analyze(ctx, t.product.ProductID, candles)
			if aerr != nil {
				s.logger.Printf("Scanner | [%s] Holding analysis failed: %v", t.product.ProductID, aerr)
				return
			}

			h := Holding{Asset: t.asset, ProductID: t.product.ProductID, Value: t.value, Signal: sig}
			mu.Lock()
			if sig.Action == strategy.Sell {
				sells = append(sells, h)
			} else {
				holds = append(holds, h)
			}
			mu.Unlock()
		}(t)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(sells, func(i, j int) bool { return sells[i].Value > sells[j].Value })
	sort.Slice(holds, func(i, j int) bool { return holds[i].Value > holds[j].Value })

	if len(sells) > 0 || len(holds) > 0 {
		s.logger.Printf("Scanner | Holdings: %d sell, %d hold", len(sells), len(holds))
	}
	return sells, holds, nil
}
