// Package strategy turns candle history into scored buy/sell/hold signals.
// Each strategy grades a set of technical conditions into points and
// normalizes them to a confidence, so callers can rank products and gate
// execution on a single threshold.
package strategy

import (
	"context"
	"math"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

// Action is the trade direction a strategy recommends.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Signal is the outcome of analyzing one product's candle history.
type Signal struct {
	ProductID  string    `json:"product_id"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"` // 0.0 to 1.0
	Score      float64   `json:"score"`      // raw points before normalization
	Reasons    []string  `json:"reasons"`
	Price      float64   `json:"price"` // latest close at analysis time
	Strategy   string    `json:"strategy"`
	Time       time.Time `json:"time"`
}

// Actionable reports whether the signal clears the given confidence bar.
func (s Signal) Actionable(minConfidence float64) bool {
	return s.Action != Hold && s.Confidence >= minConfidence
}

// Strategy is the interface for all trading strategies.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, productID string, candles []candle.Candle) (Signal, error)
	WarmupPeriod() int // Number of candles needed before signals are meaningful
}

// minPeriods is the floor below which no strategy attempts analysis.
const minPeriods = 26

func hold(name, productID string, price, confidence float64, reasons []string) Signal {
	return Signal{
		ProductID:  productID,
		Action:     Hold,
		Confidence: confidence,
		Reasons:    reasons,
		Price:      price,
		Strategy:   name,
		Time:       time.Now().UTC(),
	}
}

// pick resolves the buy and sell scores into a signal. The higher confidence
// wins; a tie or two zero scores holds at holdConfidence.
func pick(name, productID string, price float64,
	buyScore, buyConfidence float64, buyReasons []string,
	sellScore, sellConfidence float64, sellReasons []string,
	holdConfidence float64,
) Signal {
	now := time.Now().UTC()
	switch {
	case buyConfidence > sellConfidence && buyConfidence > 0:
		return Signal{
			ProductID:  productID,
			Action:     Buy,
			Confidence: buyConfidence,
			Score:      buyScore,
			Reasons:    buyReasons,
			Price:      price,
			Strategy:   name,
			Time:       now,
		}
	case sellConfidence > buyConfidence && sellConfidence > 0:
		return Signal{
			ProductID:  productID,
			Action:     Sell,
			Confidence: sellConfidence,
			Score:      sellScore,
			Reasons:    sellReasons,
			Price:      price,
			Strategy:   name,
			Time:       now,
		}
	}
	return hold(name, productID, price, holdConfidence, nil)
}

// at reads series[i], yielding NaN when the series is missing or too short.
// Indicator helpers return nil for insufficient input, so a NaN read here
// folds both cases into the same "not available" answer.
func at(series []float64, i int) float64 {
	if i < 0 || i >= len(series) {
		return math.NaN()
	}
	return series[i]
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func lastClose(candles []candle.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Close
}
