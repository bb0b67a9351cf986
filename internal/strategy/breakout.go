package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/indicator"
)

// BreakoutConfig holds the tunables for the breakout strategy.
type BreakoutConfig struct {
	Lookback           int     `yaml:"lookback"`
	VolumeConfirmation bool    `yaml:"volume_confirmation"`
	VolumeMultiplier   float64 `yaml:"volume_multiplier"`
	ATRPeriod          int     `yaml:"atr_period"`
	ADXPeriod          int     `yaml:"adx_period"`
	BBPeriod           int     `yaml:"bb_period"`
	BBStd              float64 `yaml:"bb_std"`
	VolumeMAShort      int     `yaml:"volume_ma_short"`
	// ADX below the consolidation threshold marks a coiled range; above the
	// trending threshold the move has already left.
	ADXConsolidation float64 `yaml:"adx_consolidation"`
	ADXTrending      float64 `yaml:"adx_trending"`
	BBSqueezePct     float64 `yaml:"bb_squeeze_pct"`
	VolumeDryUpRatio float64 `yaml:"volume_dry_up_ratio"`
	ATRExpansion     float64 `yaml:"atr_expansion"`
	CloseStrengthBar float64 `yaml:"close_strength_bar"`
}

// DefaultBreakoutConfig returns the production defaults.
func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{
		Lookback:           50,
		VolumeConfirmation: true,
		VolumeMultiplier:   3.0,
		ATRPeriod:          14,
		ADXPeriod:          14,
		BBPeriod:           20,
		BBStd:              2.0,
		VolumeMAShort:      3,
		ADXConsolidation:   20,
		ADXTrending:        25,
		BBSqueezePct:       4.0,
		VolumeDryUpRatio:   0.8,
		ATRExpansion:       1.5,
		CloseStrengthBar:   0.75,
	}
}

// Breakout trades range escapes: a close beyond the prior rolling extreme
// out of a low-ADX consolidation, confirmed by a Bollinger squeeze, volume
// expansion, close strength, and ATR pickup.
type Breakout struct {
	cfg BreakoutConfig
}

func NewBreakout(cfg BreakoutConfig) *Breakout {
	return &Breakout{cfg: cfg}
}

func (s *Breakout) Name() string { return "breakout" }

func (s *Breakout) WarmupPeriod() int { return s.cfg.Lookback + 10 }

func (s *Breakout) Analyze(ctx context.Context, productID string, candles []candle.Candle) (Signal, error) {
	required := s.cfg.Lookback
	if s.cfg.ATRPeriod > required {
		required = s.cfg.ATRPeriod
	}
	if len(candles) < required || len(candles) < 10 {
		return hold(s.Name(), productID, lastClose(candles), 0, nil), nil
	}

	closes := candle.Closes(candles)
	highs := candle.Highs(candles)
	lows := candle.Lows(candles)
	volumes := candle.Volumes(candles)

	atr := indicator.CalculateATR(highs, lows, closes, s.cfg.ATRPeriod)
	adx := indicator.CalculateADX(highs, lows, closes, s.cfg.ADXPeriod)
	bb := indicator.CalculateBollinger(closes, s.cfg.BBPeriod, s.cfg.BBStd)
	volMA := indicator.CalculateSMA(volumes, s.cfg.BBPeriod)
	volMAShort := indicator.CalculateSMA(volumes, s.cfg.VolumeMAShort)
	rollingHigh := indicator.RollingMax(highs, s.cfg.Lookback)
	rollingLow := indicator.RollingMin(lows, s.cfg.Lookback)

	n := len(closes)
	i, p := n-1, n-2

	// The prior rolling extremes are the levels a breakout must clear: the
	// window ending one candle back, and the one before that for the
	// previous candle's own comparison.
	prevHigh := at(rollingHigh, p)
	prevLow := at(rollingLow, p)
	if anyNaN(at(atr, i), at(rollingHigh, i), at(rollingLow, i), prevHigh, prevLow) {
		return hold(s.Name(), productID, closes[i], 0, nil), nil
	}

	inConsolidation := false
	latestADX := at(adx, i)
	if !math.IsNaN(latestADX) {
		inConsolidation = latestADX < s.cfg.ADXConsolidation
		if latestADX > s.cfg.ADXTrending {
			return hold(s.Name(), productID, closes[i], 0, nil), nil
		}
	}

	bbWidth := math.NaN()
	if bb != nil && !anyNaN(bb.Upper[i], bb.Lower[i]) && closes[i] != 0 {
		bbWidth = (bb.Upper[i] - bb.Lower[i]) / closes[i] * 100
	}
	bbSqueeze := bbWidth < s.cfg.BBSqueezePct

	volumeDryingUp := at(volMAShort, i) < at(volMA, i)*s.cfg.VolumeDryUpRatio

	volumeHigh := true
	if s.cfg.VolumeConfirmation {
		volumeHigh = volumes[i] > at(volMA, i)*s.cfg.VolumeMultiplier
	}

	atrExpanding := false
	if n > 5 && !anyNaN(at(atr, n-5), at(atr, n-4), at(atr, n-3), at(atr, n-2)) {
		recentAvg := (atr[n-5] + atr[n-4] + atr[n-3] + atr[n-2]) / 4
		atrExpanding = atr[i] > recentAvg*s.cfg.ATRExpansion
	}

	var buyScore float64
	var buyReasons []string

	upwardBreakout := closes[i] > prevHigh && at(closes, p) <= at(rollingHigh, n-3)
	if upwardBreakout {
		buyScore += 3
		buyReasons = append(buyReasons, fmt.Sprintf("upward breakout above %.2f", prevHigh))
	}
	if inConsolidation {
		buyScore += 2
		buyReasons = append(buyReasons, fmt.Sprintf("breaking from consolidation (ADX %.1f)", latestADX))
	}
	if bbSqueeze {
		buyScore++
		buyReasons = append(buyReasons, fmt.Sprintf("BB squeeze (width %.2f%%)", bbWidth))
	}
	if volumeDryingUp && volumeHigh {
		buyScore += 2
		buyReasons = append(buyReasons, "volume dry-up + expansion")
	} else if volumeHigh {
		buyScore++
		buyReasons = append(buyReasons, fmt.Sprintf("high volume (%.0f)", volumes[i]))
	}
	candleRange := highs[i] - lows[i]
	closeStrength := 0.0
	if candleRange > 0 {
		closeStrength = (closes[i] - lows[i]) / candleRange
		if closeStrength > s.cfg.CloseStrengthBar {
			buyScore++
			buyReasons = append(buyReasons, fmt.Sprintf("strong close (%.0f%% of candle)", closeStrength*100))
		}
	}
	if atrExpanding {
		buyScore++
		buyReasons = append(buyReasons, "ATR expanding")
	}
	buyConfidence := math.Min(buyScore/9.0, 1.0)

	var sellScore float64
	var sellReasons []string

	downwardBreakout := closes[i] < prevLow && at(closes, p) >= at(rollingLow, n-3)
	if downwardBreakout {
		sellScore += 3
		sellReasons = append(sellReasons, fmt.Sprintf("downward breakout below %.2f", prevLow))
	}
	if candleRange > 0 && 1-closeStrength > s.cfg.CloseStrengthBar {
		sellScore++
		sellReasons = append(sellReasons, "weak close near low")
	}
	failedBreakout := highs[i] > prevHigh && closes[i] < prevHigh
	if failedBreakout {
		sellScore += 2
		sellReasons = append(sellReasons, "failed upward breakout")
	}
	sellConfidence := math.Min(sellScore/5.0, 1.0)

	return pick(s.Name(), productID, closes[i],
		buyScore, buyConfidence, buyReasons,
		sellScore, sellConfidence, sellReasons,
		0.5), nil
}
