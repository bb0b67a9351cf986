package pattern

import (
	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

// Doji detects indecision candles and classifies them as dragonfly,
// gravestone, long-legged, or standard doji.
type Doji struct{}

func NewDoji() Doji {
	return Doji{}
}

func (Doji) Name() string {
	return "doji"
}

// Detect scans every candle with a doji body and classifies its shape. All
// doji variants are neutral: they flag indecision, not direction.
func (d Doji) Detect(candles []candle.Candle) []Match {
	var matches []Match
	for i, c := range candles {
		if !validShape(c) || !isDojiBody(c) {
			continue
		}
		name, ok := classifyDoji(c)
		if !ok {
			continue
		}
		matches = append(matches, Match{
			Index:     i,
			Name:      name,
			Direction: Neutral,
			Strength:  dojiStrength(c, name),
			Time:      c.Start,
		})
	}
	return matches
}

// classifyDoji assumes a doji body. Dragonfly and gravestone have one missing
// shadow and one long one, long-legged has two long shadows, and anything
// else with both shadows present is a standard doji.
func classifyDoji(c candle.Candle) (string, bool) {
	up := upperShadowRatio(c)
	low := lowerShadowRatio(c)
	switch {
	case up < 0.05 && low > 0.3:
		return "dragonfly_doji", true
	case low < 0.05 && up > 0.3:
		return "gravestone_doji", true
	case up > 0.4 && low > 0.4:
		return "long_legged_doji", true
	case up > 0.05 && low > 0.05:
		return "doji", true
	}
	return "", false
}

func dojiStrength(c candle.Candle, name string) float64 {
	strength := float64(StrengthWeak)
	if name != "doji" {
		strength = StrengthMedium
	}
	if bodyRatio(c) < 0.03 {
		strength = minFloat(strength*1.2, 1.0)
	}
	return strength
}
