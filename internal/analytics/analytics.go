// Package analytics computes trading performance metrics from the
// equity curve and completed trade history: Sharpe and Sortino ratios,
// drawdown, win rate, profit factor, and expectancy.
package analytics

import (
	"math"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/position"
)

// DefaultRiskFreeRate is the annual risk-free rate used for
// risk-adjusted return ratios.
const DefaultRiskFreeRate = 0.04

// PeriodsPerYearDaily annualizes ratios computed from daily returns.
const PeriodsPerYearDaily = 365

// EquityPoint is one equity-curve sample.
type EquityPoint struct {
	Time           time.Time `json:"time"`
	Equity         float64   `json:"equity"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
}

// Stats summarizes completed trades.
type Stats struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	Breakevens   int     `json:"breakevens"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	TotalPnL     float64 `json:"total_pnl"`
	ProfitFactor float64 `json:"profit_factor"`
	Expectancy   float64 `json:"expectancy"`
}

// Snapshot is a point-in-time performance record, persisted alongside
// the equity curve.
type Snapshot struct {
	Time           time.Time `json:"time"`
	TotalTrades    int       `json:"total_trades"`
	WinningTrades  int       `json:"winning_trades"`
	LosingTrades   int       `json:"losing_trades"`
	WinRate        float64   `json:"win_rate"`
	TotalPnL       float64   `json:"total_pnl"`
	ProfitFactor   float64   `json:"profit_factor"`
	Expectancy     float64   `json:"expectancy"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	SortinoRatio   float64   `json:"sortino_ratio"`
	MaxDrawdownPct float64   `json:"max_drawdown_percent"`
}

// Returns converts an equity series into successive percentage changes.
// Samples following a zero equity value are skipped.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, (equity[i]-equity[i-1])/equity[i-1])
	}
	return out
}

// Sharpe computes the annualized Sharpe ratio over per-period returns.
// Fewer than two returns, or zero volatility, yields 0.
func Sharpe(returns []float64, riskFreeRate float64, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	excess := excessReturns(returns, riskFreeRate/periodsPerYear)
	sd := stddev(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(periodsPerYear)
}

// Sortino computes the annualized Sortino ratio, penalizing only
// downside volatility. No losing periods yields 0.
func Sortino(returns []float64, riskFreeRate float64, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	excess := excessReturns(returns, riskFreeRate/periodsPerYear)
	var downside []float64
	for _, r := range excess {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	dd := stddev(downside)
	if dd == 0 {
		return 0
	}
	return mean(excess) / dd * math.Sqrt(periodsPerYear)
}

// MaxDrawdown returns the deepest peak-to-trough fall of an equity
// series, both in absolute terms and as a fraction of the peak.
func MaxDrawdown(equity []float64) (maxDD float64, maxDDFrac float64) {
	if len(equity) < 2 {
		return 0, 0
	}
	peak := equity[0]
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		dd := peak - e
		if dd > maxDD {
			maxDD = dd
		}
		if peak > 0 {
			if frac := dd / peak; frac > maxDDFrac {
				maxDDFrac = frac
			}
		}
	}
	return maxDD, maxDDFrac
}

// TradeStats aggregates completed trades into win/loss statistics.
func TradeStats(trades []position.TradeRecord) Stats {
	s := Stats{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return s
	}
	var winSum, lossSum float64
	for _, t := range trades {
		s.TotalPnL += t.PnL
		switch {
		case t.PnL > 0:
			s.Wins++
			winSum += t.PnL
		case t.PnL < 0:
			s.Losses++
			lossSum += t.PnL
		default:
			s.Breakevens++
		}
	}
	s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
	if s.Wins > 0 {
		s.AvgWin = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = lossSum / float64(s.Losses)
	}
	if grossLoss := math.Abs(lossSum); grossLoss > 0 {
		s.ProfitFactor = winSum / grossLoss
	}
	s.Expectancy = s.WinRate*s.AvgWin - (1-s.WinRate)*math.Abs(s.AvgLoss)
	return s
}

// Summarize builds a performance snapshot from trade history and the
// equity curve. Returns are derived from successive equity samples and
// treated as daily for annualization.
func Summarize(now time.Time, trades []position.TradeRecord, curve []EquityPoint, riskFreeRate float64) Snapshot {
	equity := make([]float64, len(curve))
	for i, p := range curve {
		equity[i] = p.Equity
	}
	returns := Returns(equity)
	stats := TradeStats(trades)
	_, ddFrac := MaxDrawdown(equity)

	return Snapshot{
		Time:           now,
		TotalTrades:    stats.TotalTrades,
		WinningTrades:  stats.Wins,
		LosingTrades:   stats.Losses,
		WinRate:        stats.WinRate,
		TotalPnL:       stats.TotalPnL,
		ProfitFactor:   stats.ProfitFactor,
		Expectancy:     stats.Expectancy,
		SharpeRatio:    Sharpe(returns, riskFreeRate, PeriodsPerYearDaily),
		SortinoRatio:   Sortino(returns, riskFreeRate, PeriodsPerYearDaily),
		MaxDrawdownPct: ddFrac * 100,
	}
}

func excessReturns(returns []float64, perPeriodRate float64) []float64 {
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r - perPeriodRate
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
