// Package backtest replays candle history through a strategy and the
// live risk rules, recording the trades the bot would have taken. It
// answers two questions before real money moves: how would the strategy
// have performed, and do its confidence scores actually predict
// outcomes.
package backtest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/analytics"
	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/position"
	"github.com/psreek-ai/coinbase-trader/internal/risk"
	"github.com/psreek-ai/coinbase-trader/internal/strategy"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// Config bounds a simulated run.
type Config struct {
	Days          int     `yaml:"days" env:"BACKTEST_DAYS" envDefault:"30"`
	Granularity   string  `yaml:"granularity" env:"BACKTEST_GRANULARITY" envDefault:"FIFTEEN_MINUTE"`
	InitialEquity float64 `yaml:"initial_equity" env:"BACKTEST_INITIAL_EQUITY" envDefault:"10000"`
	MinConfidence float64 `yaml:"min_confidence" env:"BACKTEST_MIN_CONFIDENCE" envDefault:"0.5"`

	// HistoryWindow caps how many candles the strategy sees per
	// decision, matching the depth the live scanner feeds it.
	HistoryWindow int `yaml:"history_window" env:"BACKTEST_HISTORY_WINDOW" envDefault:"200"`

	// MaxHoldCandles forces an exit after this many candles in a
	// position. 192 fifteen-minute candles is two days.
	MaxHoldCandles int `yaml:"max_hold_candles" env:"BACKTEST_MAX_HOLD_CANDLES" envDefault:"192"`

	FeePercent      float64 `yaml:"fee_percent" env:"BACKTEST_FEE_PERCENT" envDefault:"0.6"`
	SlippagePercent float64 `yaml:"slippage_percent" env:"BACKTEST_SLIPPAGE_PERCENT" envDefault:"0.1"`

	// A skipped candle counts as a missed opportunity when price
	// rallies LookaheadGainPercent within the next LookaheadCandles.
	LookaheadCandles     int     `yaml:"lookahead_candles" env:"BACKTEST_LOOKAHEAD_CANDLES" envDefault:"20"`
	LookaheadGainPercent float64 `yaml:"lookahead_gain_percent" env:"BACKTEST_LOOKAHEAD_GAIN_PERCENT" envDefault:"3.0"`

	Workers    int    `yaml:"workers" env:"BACKTEST_WORKERS" envDefault:"4"`
	OutputPath string `yaml:"output_path" env:"BACKTEST_OUTPUT_PATH"`
}

// DefaultConfig returns the stock simulation parameters.
func DefaultConfig() Config {
	return Config{
		Days:                 30,
		Granularity:          candle.FifteenMinute,
		InitialEquity:        10000,
		MinConfidence:        0.5,
		HistoryWindow:        200,
		MaxHoldCandles:       192,
		FeePercent:           0.6,
		SlippagePercent:      0.1,
		LookaheadCandles:     20,
		LookaheadGainPercent: 3.0,
		Workers:              4,
	}
}

// minHistory is the fewest candles worth simulating; below this the
// metrics are noise.
const minHistory = 100

// SignalQuality is the confusion matrix of entry decisions: positives
// are entered trades graded by outcome, negatives are skipped candles
// graded by whether price rallied past the lookahead bar anyway.
type SignalQuality struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`
}

// Precision is the share of entered trades that won.
func (q SignalQuality) Precision() float64 {
	total := q.TruePositives + q.FalsePositives
	if total == 0 {
		return 0
	}
	return float64(q.TruePositives) / float64(total)
}

// Recall is the share of profitable opportunities the strategy caught.
func (q SignalQuality) Recall() float64 {
	total := q.TruePositives + q.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(q.TruePositives) / float64(total)
}

// F1 is the harmonic mean of precision and recall.
func (q SignalQuality) F1() float64 {
	p, r := q.Precision(), q.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Result is one product's simulated run.
type Result struct {
	ProductID     string    `json:"product_id"`
	Strategy      string    `json:"strategy"`
	Granularity   string    `json:"granularity"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Candles       int       `json:"candles"`
	InitialEquity float64   `json:"initial_equity"`
	FinalEquity   float64   `json:"final_equity"`

	// TotalReturn is the net change as a fraction of initial equity.
	TotalReturn float64 `json:"total_return"`

	Stats          analytics.Stats `json:"stats"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	SortinoRatio   float64         `json:"sortino_ratio"`
	MaxDrawdownPct float64         `json:"max_drawdown_percent"`

	MaxConsecWins    int     `json:"max_consec_wins"`
	MaxConsecLosses  int     `json:"max_consec_losses"`
	AvgHoldingHours  float64 `json:"avg_holding_hours"`
	AvgConfidence    float64 `json:"avg_confidence"`
	SizingRejections int     `json:"sizing_rejections"`

	Quality SignalQuality `json:"signal_quality"`

	Trades      []position.TradeRecord  `json:"trades,omitempty"`
	EquityCurve []analytics.EquityPoint `json:"equity_curve,omitempty"`
}

// Simulator replays history candle by candle, entering on buy signals
// sized by the risk manager and exiting on the same stop, target,
// trailing, and signal rules the live engine applies. Safe for
// concurrent Run calls; all run state lives on the stack.
type Simulator struct {
	cfg    Config
	rm     *risk.Manager
	strat  strategy.Strategy
	logger *log.Logger
}

// NewSimulator wires a simulator. The risk manager should carry the
// same limits the live bot trades with, so results transfer.
func NewSimulator(cfg Config, rm *risk.Manager, strat strategy.Strategy) *Simulator {
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = 10000
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 200
	}
	if cfg.MaxHoldCandles <= 0 {
		cfg.MaxHoldCandles = 192
	}
	if cfg.LookaheadCandles <= 0 {
		cfg.LookaheadCandles = 20
	}
	if cfg.LookaheadGainPercent <= 0 {
		cfg.LookaheadGainPercent = 3.0
	}
	return &Simulator{cfg: cfg, rm: rm, strat: strat, logger: utils.GetLogger()}
}

// Run simulates one product over the given candles, oldest first.
func (s *Simulator) Run(ctx context.Context, productID string, candles []candle.Candle) (Result, error) {
	warmup := s.strat.WarmupPeriod()
	if len(candles) < minHistory || len(candles) <= warmup {
		return Result{}, fmt.Errorf("backtest %s: %d candles, need at least %d",
			productID, len(candles), max(minHistory, warmup+1))
	}

	gran := candles[0].Granularity
	if gran == "" {
		gran = s.cfg.Granularity
	}
	res := Result{
		ProductID:     productID,
		Strategy:      s.strat.Name(),
		Granularity:   gran,
		Start:         candles[0].Start,
		End:           candles[len(candles)-1].Start,
		Candles:       len(candles),
		InitialEquity: s.cfg.InitialEquity,
	}

	feeRate := s.cfg.FeePercent / 100
	slip := s.cfg.SlippagePercent / 100

	cash := s.cfg.InitialEquity
	var pos *position.Position
	var entryIndex int
	var consecWins, consecLosses int

	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		var sig strategy.Signal
		if i >= warmup {
			first := i + 1 - s.cfg.HistoryWindow
			if first < 0 {
				first = 0
			}
			got, err := s.strat.Analyze(ctx, productID, candles[first:i+1])
			if err != nil {
				s.logger.Printf("Backtest | [%s] Analysis failed at %s: %v",
					productID, c.Start.Format(time.RFC3339), err)
			} else {
				sig = got
			}
		}

		if pos == nil {
			if sig.Action == strategy.Buy && sig.Confidence >= s.cfg.MinConfidence {
				entryPrice := c.Close * (1 + slip)
				stop, target := s.rm.StopTarget(entryPrice, order.SideBuy)
				size, _, err := s.rm.SizePosition(cash, entryPrice, stop, 0)
				if err != nil {
					res.SizingRejections++
				} else {
					entryFee := entryPrice * size * feeRate
					cash -= entryPrice*size + entryFee
					pos = &position.Position{
						ProductID:    productID,
						BaseSize:     size,
						EntryPrice:   entryPrice,
						CurrentPrice: entryPrice,
						StopLoss:     stop,
						TakeProfit:   target,
						Strategy:     s.strat.Name(),
						FeesPaid:     entryFee,
						Status:       position.StatusOpen,
						OpenedAt:     c.Start,
						UpdatedAt:    c.Start,
						Metadata:     map[string]any{"confidence": sig.Confidence},
					}
					entryIndex = i
				}
			} else if i >= warmup {
				s.gradeSkip(&res.Quality, candles, i)
			}
		} else {
			pos.CurrentPrice = c.Close

			exitPrice, reason := s.exitFor(pos, c, sig, i-entryIndex)
			if reason != "" {
				cash += s.closeOut(&res, pos, exitPrice, c.Start, reason, feeRate, &consecWins, &consecLosses)
				pos = nil
			} else if newStop := s.rm.UpdateTrailingStop(pos, c.Close); newStop > 0 {
				pos.StopLoss = newStop
			}
		}

		res.EquityCurve = append(res.EquityCurve, equityPoint(c.Start, cash, pos))
	}

	// Whatever is still open settles at the last close.
	if pos != nil {
		last := candles[len(candles)-1]
		exitPrice := last.Close * (1 - slip)
		cash += s.closeOut(&res, pos, exitPrice, last.Start, position.ExitReasonEndOfData, feeRate, &consecWins, &consecLosses)
		res.EquityCurve = append(res.EquityCurve, equityPoint(last.Start, cash, nil))
	}

	s.finish(&res, cash)
	s.logger.Printf("Backtest | [%s] %d candles, %d trades, %.1f%% win rate, %+.2f%% return, max drawdown %.2f%%",
		productID, len(candles), res.Stats.TotalTrades, res.Stats.WinRate*100, res.TotalReturn*100, res.MaxDrawdownPct)
	return res, nil
}

// exitFor decides whether the candle closes the position. Stops are
// checked against the candle low before targets against the high: when
// both trigger inside one candle the loss is taken, never the win.
func (s *Simulator) exitFor(pos *position.Position, c candle.Candle, sig strategy.Signal, held int) (float64, string) {
	slip := s.cfg.SlippagePercent / 100
	switch {
	case pos.StopLoss > 0 && c.Low <= pos.StopLoss:
		return pos.StopLoss * (1 - slip), position.ExitReasonStopLoss
	case pos.TakeProfit > 0 && c.High >= pos.TakeProfit:
		return pos.TakeProfit * (1 - slip), position.ExitReasonTakeProfit
	case sig.Action == strategy.Sell:
		return c.Close * (1 - slip), position.ExitReasonSignal
	case held >= s.cfg.MaxHoldCandles:
		return c.Close * (1 - slip), position.ExitReasonTimeLimit
	}
	return 0, ""
}

// closeOut books an exit: fees come off cash, while the trade record
// keeps gross PnL with fees itemized, matching how live fills are
// recorded. Returns the cash proceeds.
func (s *Simulator) closeOut(res *Result, pos *position.Position, exitPrice float64, at time.Time,
	reason string, feeRate float64, wins, losses *int,
) float64 {
	proceeds := exitPrice * pos.BaseSize
	exitFee := proceeds * feeRate

	rec := position.CloseTrade(pos, exitPrice, at, reason, exitFee)
	res.Trades = append(res.Trades, rec)

	if rec.PnL > 0 {
		res.Quality.TruePositives++
		*wins++
		*losses = 0
		if *wins > res.MaxConsecWins {
			res.MaxConsecWins = *wins
		}
	} else {
		res.Quality.FalsePositives++
		*losses++
		*wins = 0
		if *losses > res.MaxConsecLosses {
			res.MaxConsecLosses = *losses
		}
	}
	return proceeds - exitFee
}

// gradeSkip classifies a no-entry candle: a rally past the lookahead
// bar within the next few hours means an opportunity was missed.
// Candles too close to the end of history stay unclassified.
func (s *Simulator) gradeSkip(q *SignalQuality, candles []candle.Candle, i int) {
	if i+s.cfg.LookaheadCandles >= len(candles) {
		return
	}
	closePrice := candles[i].Close
	if closePrice <= 0 {
		return
	}
	var maxHigh float64
	for _, c := range candles[i : i+s.cfg.LookaheadCandles] {
		if c.High > maxHigh {
			maxHigh = c.High
		}
	}
	if (maxHigh-closePrice)/closePrice > s.cfg.LookaheadGainPercent/100 {
		q.FalseNegatives++
	} else {
		q.TrueNegatives++
	}
}

// finish derives the aggregate metrics. Returns are per-candle, so
// ratio annualization scales by the number of candle periods in a year.
func (s *Simulator) finish(res *Result, finalCash float64) {
	res.FinalEquity = finalCash
	if res.InitialEquity > 0 {
		res.TotalReturn = (finalCash - res.InitialEquity) / res.InitialEquity
	}
	res.Stats = analytics.TradeStats(res.Trades)

	equity := make([]float64, len(res.EquityCurve))
	for i, p := range res.EquityCurve {
		equity[i] = p.Equity
	}
	returns := analytics.Returns(equity)
	_, ddFrac := analytics.MaxDrawdown(equity)
	res.MaxDrawdownPct = ddFrac * 100

	if bucket := candle.GranularityDuration(res.Granularity); bucket > 0 {
		periodsPerYear := float64(365*24*time.Hour) / float64(bucket)
		res.SharpeRatio = analytics.Sharpe(returns, analytics.DefaultRiskFreeRate, periodsPerYear)
		res.SortinoRatio = analytics.Sortino(returns, analytics.DefaultRiskFreeRate, periodsPerYear)
	}

	if len(res.Trades) > 0 {
		var holdSum, confSum float64
		for _, t := range res.Trades {
			holdSum += float64(t.HoldingTimeSeconds)
			if conf, ok := t.Metadata["confidence"].(float64); ok {
				confSum += conf
			}
		}
		res.AvgHoldingHours = holdSum / float64(len(res.Trades)) / 3600
		res.AvgConfidence = confSum / float64(len(res.Trades))
	}
}

func equityPoint(at time.Time, cash float64, pos *position.Position) analytics.EquityPoint {
	var posValue float64
	if pos != nil {
		posValue = pos.Value(pos.CurrentPrice)
	}
	return analytics.EquityPoint{Time: at, Equity: cash + posValue, Cash: cash, PositionsValue: posValue}
}
