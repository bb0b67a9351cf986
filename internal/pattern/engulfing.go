package pattern

import (
	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

// Engulfing detects bullish and bearish engulfing pairs where the latest body
// fully covers the previous one.
type Engulfing struct{}

func NewEngulfing() Engulfing {
	return Engulfing{}
}

func (Engulfing) Name() string {
	return "engulfing"
}

// Detect scans consecutive candle pairs for engulfing shapes.
func (e Engulfing) Detect(candles []candle.Candle) []Match {
	var matches []Match
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		if !validShape(cur) || !validShape(prev) {
			continue
		}
		if isBullish(cur) && isBearish(prev) && bodyEngulfs(cur, prev) {
			matches = append(matches, Match{
				Index:     i,
				Name:      "bullish_engulfing",
				Direction: Bullish,
				Strength:  engulfingStrength(cur, prev),
				Time:      cur.Start,
			})
		}
		if isBearish(cur) && isBullish(prev) && bodyEngulfs(cur, prev) {
			matches = append(matches, Match{
				Index:     i,
				Name:      "bearish_engulfing",
				Direction: Bearish,
				Strength:  engulfingStrength(cur, prev),
				Time:      cur.Start,
			})
		}
	}
	return matches
}

func bodyEngulfs(cur, prev candle.Candle) bool {
	curHigh := maxFloat(cur.Open, cur.Close)
	curLow := minFloat(cur.Open, cur.Close)
	prevHigh := maxFloat(prev.Open, prev.Close)
	prevLow := minFloat(prev.Open, prev.Close)
	return curHigh >= prevHigh && curLow <= prevLow
}

// engulfingStrength grades by how much the new body dwarfs the old one, with
// boosts for a volume surge and an outsized engulfing ratio.
func engulfingStrength(cur, prev candle.Candle) float64 {
	prevBody := bodySize(prev)
	if prevBody == 0 {
		return StrengthWeak
	}

	ratio := bodySize(cur) / prevBody
	strength := minFloat(ratio/2.0, 1.0)

	if cur.Volume > prev.Volume*1.5 {
		strength = minFloat(strength*1.2, 1.0)
	}
	if ratio > 3.0 {
		strength = minFloat(strength*1.3, 1.0)
	}

	return maxFloat(strength, StrengthWeak)
}
