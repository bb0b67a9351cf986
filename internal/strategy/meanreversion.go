package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/indicator"
	"github.com/psreek-ai/coinbase-trader/internal/pattern"
)

// MeanReversionConfig holds the tunables for the mean reversion strategy.
type MeanReversionConfig struct {
	BBPeriod          int     `yaml:"bb_period"`
	BBStd             float64 `yaml:"bb_std"`
	RSIPeriod         int     `yaml:"rsi_period"`
	RSIExtremeLow     float64 `yaml:"rsi_extreme_low"`
	RSIExtremeHigh    float64 `yaml:"rsi_extreme_high"`
	MeanLookback      int     `yaml:"mean_lookback"`
	StochPeriod       int     `yaml:"stoch_period"`
	EMALong           int     `yaml:"ema_long"`
	DistanceThreshold float64 `yaml:"distance_threshold"` // percent below mean that counts as stretched
}

// DefaultMeanReversionConfig returns the production defaults.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		BBPeriod:          20,
		BBStd:             2.0,
		RSIPeriod:         14,
		RSIExtremeLow:     20,
		RSIExtremeHigh:    80,
		MeanLookback:      50,
		StochPeriod:       14,
		EMALong:           200,
		DistanceThreshold: -5,
	}
}

// MeanReversion buys statistical stretches below the mean and sells stretches
// above it: Bollinger band touches, RSI and stochastic extremes, and distance
// from the rolling mean, vetoed when price trades below the long EMA.
// Candlestick reversal patterns at the bands count as bounce confirmation.
type MeanReversion struct {
	cfg       MeanReversionConfig
	reversals []pattern.Detector
}

func NewMeanReversion(cfg MeanReversionConfig) *MeanReversion {
	return &MeanReversion{cfg: cfg, reversals: pattern.Reversals()}
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) WarmupPeriod() int { return s.cfg.MeanLookback }

func (s *MeanReversion) Analyze(ctx context.Context, productID string, candles []candle.Candle) (Signal, error) {
	if len(candles) < s.cfg.MeanLookback {
		return hold(s.Name(), productID, lastClose(candles), 0, nil), nil
	}

	closes := candle.Closes(candles)
	highs := candle.Highs(candles)
	lows := candle.Lows(candles)

	bb := indicator.CalculateBollinger(closes, s.cfg.BBPeriod, s.cfg.BBStd)
	rsi := indicator.CalculateRSI(closes, s.cfg.RSIPeriod)
	sma := indicator.CalculateSMA(closes, s.cfg.MeanLookback)
	emaLong := indicator.CalculateEMA(closes, s.cfg.EMALong)

	var stochK, stochD []float64
	if stoch, err := indicator.CalculateStochastic(highs, lows, closes, s.cfg.StochPeriod, 3, 3); err == nil {
		stochK, stochD = stoch.K, stoch.D
	}

	n := len(closes)
	i, p := n-1, n-2
	if bb == nil {
		return hold(s.Name(), productID, closes[i], 0, nil), nil
	}

	mean := at(sma, i)
	distance := math.NaN()
	if !math.IsNaN(mean) && mean != 0 {
		distance = (closes[i] - mean) / mean * 100
	}
	if anyNaN(bb.Upper[i], bb.Lower[i], at(rsi, i), mean, distance) {
		return hold(s.Name(), productID, closes[i], 0, nil), nil
	}

	inUptrend := true
	if !math.IsNaN(at(emaLong, i)) {
		inUptrend = closes[i] > emaLong[i]
	}

	var buyScore float64
	var buyReasons []string

	if closes[i] <= bb.Lower[i] {
		buyScore += 2
		buyReasons = append(buyReasons, fmt.Sprintf("price at/below lower BB (%.2f <= %.2f)", closes[i], bb.Lower[i]))
	}
	switch {
	case rsi[i] < s.cfg.RSIExtremeLow:
		buyScore += 2
		buyReasons = append(buyReasons, fmt.Sprintf("RSI extremely oversold (%.1f)", rsi[i]))
	case rsi[i] < 30:
		buyScore++
		buyReasons = append(buyReasons, fmt.Sprintf("RSI oversold (%.1f)", rsi[i]))
	}
	if !anyNaN(at(stochK, i), at(stochD, i)) {
		oversold := stochK[i] < 20
		crossingUp := stochK[i] > stochD[i] && at(stochK, p) <= at(stochD, p)
		if oversold && crossingUp {
			buyScore += 2
			buyReasons = append(buyReasons, fmt.Sprintf("stochastic oversold + bullish cross (%.1f)", stochK[i]))
		} else if oversold {
			buyScore++
			buyReasons = append(buyReasons, "stochastic oversold")
		}
	}
	if distance < s.cfg.DistanceThreshold {
		buyScore++
		buyReasons = append(buyReasons, fmt.Sprintf("price %.1f%% below mean", distance))
	}
	// Bounce confirmation: price crossing back above the lower band, or a
	// bullish reversal candle printed at the band.
	bounced := at(closes, p) < at(bb.Lower, p) && closes[i] > bb.Lower[i]
	atLowerBand := closes[i] <= bb.Lower[i] || at(closes, p) < at(bb.Lower, p)
	if bounced {
		buyScore++
		buyReasons = append(buyReasons, "bouncing from lower BB")
	} else if atLowerBand {
		if m, ok := pattern.LatestMatch(candles, pattern.Bullish, s.reversals...); ok {
			buyScore++
			buyReasons = append(buyReasons, fmt.Sprintf("bullish reversal pattern (%s)", m.Name))
		}
	}
	if !inUptrend {
		buyScore = math.Max(0, buyScore-3)
		buyReasons = append(buyReasons, "below long EMA (downtrend)")
	}
	buyConfidence := math.Min(buyScore/7.0, 1.0)

	var sellScore float64
	var sellReasons []string

	if closes[i] >= bb.Upper[i] {
		sellScore += 2
		sellReasons = append(sellReasons, fmt.Sprintf("price at/above upper BB (%.2f >= %.2f)", closes[i], bb.Upper[i]))
	}
	switch {
	case rsi[i] > s.cfg.RSIExtremeHigh:
		sellScore += 2
		sellReasons = append(sellReasons, fmt.Sprintf("RSI extremely overbought (%.1f)", rsi[i]))
	case rsi[i] > 70:
		sellScore++
		sellReasons = append(sellReasons, fmt.Sprintf("RSI overbought (%.1f)", rsi[i]))
	}
	if !anyNaN(at(stochK, i), at(stochD, i)) {
		overbought := stochK[i] > 80
		crossingDown := stochK[i] < stochD[i] && at(stochK, p) >= at(stochD, p)
		if overbought && crossingDown {
			sellScore += 2
			sellReasons = append(sellReasons, fmt.Sprintf("stochastic overbought + bearish cross (%.1f)", stochK[i]))
		} else if overbought {
			sellScore++
			sellReasons = append(sellReasons, "stochastic overbought")
		}
	}
	if distance > math.Abs(s.cfg.DistanceThreshold) {
		sellScore++
		sellReasons = append(sellReasons, fmt.Sprintf("price %.1f%% above mean", distance))
	}
	rejected := at(closes, p) > at(bb.Upper, p) && closes[i] < bb.Upper[i]
	atUpperBand := closes[i] >= bb.Upper[i] || at(closes, p) > at(bb.Upper, p)
	if rejected {
		sellScore++
		sellReasons = append(sellReasons, "rejecting from upper BB")
	} else if atUpperBand {
		if m, ok := pattern.LatestMatch(candles, pattern.Bearish, s.reversals...); ok {
			sellScore++
			sellReasons = append(sellReasons, fmt.Sprintf("bearish reversal pattern (%s)", m.Name))
		}
	}
	sellConfidence := math.Min(sellScore/6.0, 1.0)

	return pick(s.Name(), productID, closes[i],
		buyScore, buyConfidence, buyReasons,
		sellScore, sellConfidence, sellReasons,
		0.5), nil
}
