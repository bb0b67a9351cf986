// Package pattern detects candlestick reversal patterns on candle series.
package pattern

import (
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

// Direction marks which way a pattern points.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Strength bands for detected patterns.
const (
	StrengthWeak   = 0.3
	StrengthMedium = 0.6
	StrengthStrong = 0.9
)

// Match is a single pattern occurrence within a candle series.
type Match struct {
	Index     int
	Name      string
	Direction Direction
	Strength  float64
	Time      time.Time
}

// Detector scans a candle series for one pattern family.
type Detector interface {
	Name() string
	Detect(candles []candle.Candle) []Match
}

// Reversals returns the detectors that mark trend reversals.
func Reversals() []Detector {
	return []Detector{NewHammer(), NewEngulfing(), NewStar()}
}

// LatestMatch runs the detectors and reports the strongest match in the given
// direction on the final candle of the series.
func LatestMatch(candles []candle.Candle, dir Direction, detectors ...Detector) (Match, bool) {
	if len(candles) == 0 {
		return Match{}, false
	}
	last := len(candles) - 1
	var best Match
	found := false
	for _, d := range detectors {
		for _, m := range d.Detect(candles) {
			if m.Index != last || m.Direction != dir {
				continue
			}
			if !found || m.Strength > best.Strength {
				best = m
				found = true
			}
		}
	}
	return best, found
}

// validShape reports whether the OHLC geometry is usable for pattern checks.
func validShape(c candle.Candle) bool {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	if c.High < c.Low {
		return false
	}
	if c.Open < c.Low || c.Open > c.High {
		return false
	}
	return c.Close >= c.Low && c.Close <= c.High
}

func bodySize(c candle.Candle) float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

func totalRange(c candle.Candle) float64 {
	return c.High - c.Low
}

func upperShadow(c candle.Candle) float64 {
	if c.Close >= c.Open {
		return c.High - c.Close
	}
	return c.High - c.Open
}

func lowerShadow(c candle.Candle) float64 {
	if c.Close >= c.Open {
		return c.Open - c.Low
	}
	return c.Close - c.Low
}

// bodyRatio is body size relative to the full range. A zero-range candle
// counts as all body.
func bodyRatio(c candle.Candle) float64 {
	r := totalRange(c)
	if r == 0 {
		return 1
	}
	return bodySize(c) / r
}

func upperShadowRatio(c candle.Candle) float64 {
	r := totalRange(c)
	if r == 0 {
		return 0
	}
	return upperShadow(c) / r
}

func lowerShadowRatio(c candle.Candle) float64 {
	r := totalRange(c)
	if r == 0 {
		return 0
	}
	return lowerShadow(c) / r
}

func isBullish(c candle.Candle) bool {
	return c.Close > c.Open
}

func isBearish(c candle.Candle) bool {
	return c.Close < c.Open
}

// isDojiBody reports a body small enough to count as indecision.
func isDojiBody(c candle.Candle) bool {
	return bodyRatio(c) < 0.1
}
