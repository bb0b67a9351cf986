package pattern

import (
	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

// Star detects three-candle morning star (bullish) and evening star (bearish)
// reversals: a strong move, a gapped indecision candle, then a reversal candle
// closing past the midpoint of the first body.
type Star struct{}

func NewStar() Star {
	return Star{}
}

func (Star) Name() string {
	return "star"
}

// Detect scans consecutive candle triples for star shapes.
func (s Star) Detect(candles []candle.Candle) []Match {
	var matches []Match
	for i := 2; i < len(candles); i++ {
		first, second, third := candles[i-2], candles[i-1], candles[i]
		if !validShape(first) || !validShape(second) || !validShape(third) {
			continue
		}
		if isMorningStar(first, second, third) {
			matches = append(matches, Match{
				Index:     i,
				Name:      "morning_star",
				Direction: Bullish,
				Strength:  starStrength(first, second, third),
				Time:      third.Start,
			})
		}
		if isEveningStar(first, second, third) {
			matches = append(matches, Match{
				Index:     i,
				Name:      "evening_star",
				Direction: Bearish,
				Strength:  starStrength(first, second, third),
				Time:      third.Start,
			})
		}
	}
	return matches
}

func isMorningStar(first, second, third candle.Candle) bool {
	if !isBearish(first) {
		return false
	}
	// Indecision candle, gapped below the first candle's low.
	if bodyRatio(second) > 0.3 {
		return false
	}
	if second.High >= first.Low {
		return false
	}
	if !isBullish(third) {
		return false
	}
	return third.Close > (first.Open+first.Close)/2
}

func isEveningStar(first, second, third candle.Candle) bool {
	if !isBullish(first) {
		return false
	}
	// Indecision candle, gapped above the first candle's high.
	if bodyRatio(second) > 0.3 {
		return false
	}
	if second.Low <= first.High {
		return false
	}
	if !isBearish(third) {
		return false
	}
	return third.Close < (first.Open+first.Close)/2
}

// starStrength grades the reversal: full retrace of the first body is strong,
// a doji-like middle candle tightens the signal further.
func starStrength(first, second, third candle.Candle) float64 {
	strength := float64(StrengthMedium)

	retraced := false
	if isBullish(third) {
		retraced = third.Close > maxFloat(first.Open, first.Close)
	} else {
		retraced = third.Close < minFloat(first.Open, first.Close)
	}
	if retraced {
		strength = StrengthStrong
	}

	if bodyRatio(second) < 0.1 {
		strength = minFloat(strength*1.1, 1.0)
	}
	if bodySize(third) > bodySize(first) {
		strength = minFloat(strength*1.1, 1.0)
	}

	return strength
}
