package pattern

import (
	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

// Hammer detects hammer (bullish) and hanging man (bearish) candles: small
// body, long lower shadow, little to no upper shadow.
type Hammer struct{}

func NewHammer() Hammer {
	return Hammer{}
}

func (Hammer) Name() string {
	return "hammer"
}

// Detect scans every candle for hammer and hanging man shapes.
func (h Hammer) Detect(candles []candle.Candle) []Match {
	var matches []Match
	for i, c := range candles {
		if !validShape(c) {
			continue
		}
		if !hammerShape(c) {
			continue
		}
		if closeNearHigh(c) {
			matches = append(matches, Match{
				Index:     i,
				Name:      "hammer",
				Direction: Bullish,
				Strength:  hammerStrength(c, closeNearHigh),
				Time:      c.Start,
			})
		} else if isBearish(c) {
			matches = append(matches, Match{
				Index:     i,
				Name:      "hanging_man",
				Direction: Bearish,
				Strength:  hammerStrength(c, nil),
				Time:      c.Start,
			})
		}
	}
	return matches
}

// hammerShape checks the shared geometry: body at most 30% of the range,
// lower shadow at least twice the body, upper shadow at most 10% of the range.
func hammerShape(c candle.Candle) bool {
	if bodyRatio(c) > 0.3 {
		return false
	}
	body := bodySize(c)
	if body == 0 {
		return false
	}
	if lowerShadow(c)/body < 2.0 {
		return false
	}
	return upperShadowRatio(c) <= 0.1
}

// closeNearHigh marks the bullish resolution of the shape.
func closeNearHigh(c candle.Candle) bool {
	return (c.High-c.Close)/totalRange(c) < 0.1
}

// hammerStrength grades the shape. extraBoost, when set and satisfied at the
// tighter 5% band, adds the final multiplier.
func hammerStrength(c candle.Candle, extraBoost func(candle.Candle) bool) float64 {
	strength := float64(StrengthWeak)

	switch lsr := lowerShadowRatio(c); {
	case lsr > 0.6:
		strength = StrengthStrong
	case lsr > 0.4:
		strength = StrengthMedium
	}

	if bodyRatio(c) < 0.1 {
		strength = minFloat(strength*1.2, 1.0)
	}
	if upperShadowRatio(c) < 0.05 {
		strength = minFloat(strength*1.1, 1.0)
	}
	if extraBoost != nil && (c.High-c.Close)/totalRange(c) < 0.05 {
		strength = minFloat(strength*1.1, 1.0)
	}

	return strength
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
