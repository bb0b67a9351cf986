package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/position"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// TradeSource is the store slice live validation reads.
type TradeSource interface {
	GetTrades(ctx context.Context, start, end time.Time) ([]position.TradeRecord, error)
}

// ConfidenceBand aggregates the closed trades whose entry confidence
// fell inside one bin.
type ConfidenceBand struct {
	Label   string  `json:"label"`
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
	AvgPnL  float64 `json:"avg_pnl"`
}

// LiveReport grades the trades the bot actually took over a lookback
// window: overall outcome, plus whether confidence predicted it.
type LiveReport struct {
	Start                 time.Time        `json:"start"`
	End                   time.Time        `json:"end"`
	Trades                int              `json:"trades"`
	Wins                  int              `json:"wins"`
	WinRate               float64          `json:"win_rate"`
	TotalPnL              float64          `json:"total_pnl"`
	AvgPnL                float64          `json:"avg_pnl"`
	AvgConfidence         float64          `json:"avg_confidence"`
	HighConfidenceTrades  int              `json:"high_confidence_trades"`
	HighConfidenceWinRate float64          `json:"high_confidence_win_rate"`
	Bands                 []ConfidenceBand `json:"bands"`
	Verdict               string           `json:"verdict"`
}

// highConfidenceBar separates the trades the bot was most sure about.
const highConfidenceBar = 0.7

// bandEdges bound the confidence bins, lowest first.
var bandEdges = []float64{0.5, 0.6, 0.7, 0.8, 0.9}

// Verdict thresholds.
const (
	minTradesForVerdict = 10
	failingWinRate      = 0.40
	workingWinRate      = 0.50
	healthyWinRate      = 0.55
	healthyHighConfRate = 0.60
)

// ValidateLive bins the trades recorded over the lookback window by
// entry confidence and checks that stronger signals actually won more
// often. Trades recorded without a confidence land in the lowest band.
func ValidateLive(ctx context.Context, store TradeSource, lookback time.Duration) (LiveReport, error) {
	end := time.Now().UTC()
	start := end.Add(-lookback)
	trades, err := store.GetTrades(ctx, start, end)
	if err != nil {
		return LiveReport{}, fmt.Errorf("loading trades: %w", err)
	}

	report := LiveReport{Start: start, End: end, Trades: len(trades), Bands: emptyBands()}

	var confSum float64
	var highWins int
	for _, t := range trades {
		conf := tradeConfidence(t)
		confSum += conf
		report.TotalPnL += t.PnL

		win := t.PnL > 0
		if win {
			report.Wins++
		}
		if conf >= highConfidenceBar {
			report.HighConfidenceTrades++
			if win {
				highWins++
			}
		}

		band := &report.Bands[bandIndex(conf)]
		band.Trades++
		if win {
			band.Wins++
		}
		band.AvgPnL += t.PnL
	}

	if report.Trades > 0 {
		report.WinRate = float64(report.Wins) / float64(report.Trades)
		report.AvgPnL = report.TotalPnL / float64(report.Trades)
		report.AvgConfidence = confSum / float64(report.Trades)
	}
	if report.HighConfidenceTrades > 0 {
		report.HighConfidenceWinRate = float64(highWins) / float64(report.HighConfidenceTrades)
	}
	for i := range report.Bands {
		b := &report.Bands[i]
		if b.Trades > 0 {
			b.WinRate = float64(b.Wins) / float64(b.Trades)
			b.AvgPnL /= float64(b.Trades)
		}
	}

	report.Verdict = verdict(report)
	return report, nil
}

// tradeConfidence digs the entry confidence out of trade metadata. The
// value is a plain float in fresh records and a JSON number decoded to
// float64 after a database round trip; anything else counts as zero.
func tradeConfidence(t position.TradeRecord) float64 {
	if c, ok := t.Metadata["confidence"].(float64); ok {
		return c
	}
	return 0
}

func emptyBands() []ConfidenceBand {
	bands := make([]ConfidenceBand, 0, len(bandEdges)+1)
	bands = append(bands, ConfidenceBand{Label: fmt.Sprintf("<%.2f", bandEdges[0])})
	for i := 1; i < len(bandEdges); i++ {
		bands = append(bands, ConfidenceBand{Label: fmt.Sprintf("%.2f-%.2f", bandEdges[i-1], bandEdges[i])})
	}
	bands = append(bands, ConfidenceBand{Label: fmt.Sprintf("%.2f+", bandEdges[len(bandEdges)-1])})
	return bands
}

func bandIndex(conf float64) int {
	for i, edge := range bandEdges {
		if conf < edge {
			return i
		}
	}
	return len(bandEdges)
}

// verdict grades the report the way an operator would read it.
func verdict(r LiveReport) string {
	switch {
	case r.Trades == 0:
		return "no trades recorded; run the bot longer before judging"
	case r.Trades < minTradesForVerdict:
		return fmt.Sprintf("insufficient data: %d trades, need at least %d", r.Trades, minTradesForVerdict)
	case r.WinRate < failingWinRate:
		return fmt.Sprintf("underperforming: win rate %.1f%% is below %.0f%%", r.WinRate*100, failingWinRate*100)
	case r.HighConfidenceTrades > 0 && r.HighConfidenceWinRate < r.WinRate:
		return "confidence miscalibrated: strong signals win less often than average"
	case r.WinRate >= healthyWinRate && r.HighConfidenceWinRate >= healthyHighConfRate:
		return "healthy: good win rate and confidence tracks outcomes"
	case r.WinRate >= workingWinRate:
		return "acceptable: positive edge, keep monitoring"
	}
	return "marginal: edge unclear, review before scaling up"
}

// Log prints the report through the standard logger.
func (r LiveReport) Log() {
	logger := utils.GetLogger()
	logger.Printf("Backtest | Live validation %s to %s: %d trades, win rate %.1f%%, total PnL %+.2f, avg confidence %.2f",
		r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"),
		r.Trades, r.WinRate*100, r.TotalPnL, r.AvgConfidence)
	if r.HighConfidenceTrades > 0 {
		logger.Printf("Backtest | High confidence (>=%.2f): %d trades, win rate %.1f%%",
			highConfidenceBar, r.HighConfidenceTrades, r.HighConfidenceWinRate*100)
	}
	for _, b := range r.Bands {
		if b.Trades == 0 {
			continue
		}
		logger.Printf("Backtest | Confidence %-9s %d trades, win rate %.1f%%, avg PnL %+.2f",
			b.Label, b.Trades, b.WinRate*100, b.AvgPnL)
	}
	logger.Printf("Backtest | Verdict: %s", r.Verdict)
}
