package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/indicator"
)

// MomentumConfig holds the tunables for the momentum strategy.
type MomentumConfig struct {
	RSIPeriod        int     `yaml:"rsi_period"`
	MACDFast         int     `yaml:"macd_fast"`
	MACDSlow         int     `yaml:"macd_slow"`
	MACDSignal       int     `yaml:"macd_signal"`
	BBPeriod         int     `yaml:"bb_period"`
	BBStd            float64 `yaml:"bb_std"`
	ADXPeriod        int     `yaml:"adx_period"`
	ADXThreshold     float64 `yaml:"adx_threshold"`
	EMAFast          int     `yaml:"ema_fast"`
	EMASlow          int     `yaml:"ema_slow"`
	VolumeMAPeriod   int     `yaml:"volume_ma_period"`
	VolumeMultiplier float64 `yaml:"volume_multiplier"`
	// PullbackProximity is the max relative distance from the middle band
	// that still counts as a pullback entry.
	PullbackProximity float64 `yaml:"pullback_proximity"`
	RSIBuyLower       float64 `yaml:"rsi_buy_lower"`
	RSIBuyUpper       float64 `yaml:"rsi_buy_upper"`
	RSISellUpper      float64 `yaml:"rsi_sell_upper"`
}

// DefaultMomentumConfig returns the production defaults.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		RSIPeriod:         14,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
		BBPeriod:          20,
		BBStd:             2.0,
		ADXPeriod:         14,
		ADXThreshold:      15,
		EMAFast:           20,
		EMASlow:           50,
		VolumeMAPeriod:    20,
		VolumeMultiplier:  2.5,
		PullbackProximity: 0.015,
		RSIBuyLower:       50,
		RSIBuyUpper:       75,
		RSISellUpper:      40,
	}
}

// Momentum trades trend continuation: MACD crossovers confirmed by EMA
// alignment, RSI in the momentum zone, and volume surges. Signals are scored
// out of 100 points so confidence reflects how many factors line up.
type Momentum struct {
	cfg MomentumConfig
}

func NewMomentum(cfg MomentumConfig) *Momentum {
	return &Momentum{cfg: cfg}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) WarmupPeriod() int { return s.cfg.EMASlow + 10 }

func (s *Momentum) Analyze(ctx context.Context, productID string, candles []candle.Candle) (Signal, error) {
	if len(candles) < minPeriods {
		return hold(s.Name(), productID, lastClose(candles), 0, nil), nil
	}

	closes := candle.Closes(candles)
	highs := candle.Highs(candles)
	lows := candle.Lows(candles)
	volumes := candle.Volumes(candles)

	bb := indicator.CalculateBollinger(closes, s.cfg.BBPeriod, s.cfg.BBStd)
	macd := indicator.CalculateMACD(closes, s.cfg.MACDFast, s.cfg.MACDSlow, s.cfg.MACDSignal)
	rsi := indicator.CalculateRSI(closes, s.cfg.RSIPeriod)
	adx := indicator.CalculateADX(highs, lows, closes, s.cfg.ADXPeriod)
	emaFast := indicator.CalculateEMA(closes, s.cfg.EMAFast)
	emaSlow := indicator.CalculateEMA(closes, s.cfg.EMASlow)
	volMA := indicator.CalculateSMA(volumes, s.cfg.VolumeMAPeriod)

	n := len(closes)
	i, p := n-1, n-2
	if bb == nil || macd == nil {
		return hold(s.Name(), productID, closes[i], 0, nil), nil
	}
	if anyNaN(bb.Upper[i], bb.Middle[i], bb.Lower[i], macd.MACD[i], macd.Signal[i], at(rsi, i)) {
		return hold(s.Name(), productID, closes[i], 0, nil), nil
	}

	// Momentum needs an established trend; a weak ADX means chop.
	latestADX := at(adx, i)
	if !math.IsNaN(latestADX) && latestADX < s.cfg.ADXThreshold {
		return hold(s.Name(), productID, closes[i], 0, nil), nil
	}

	bullishTrend, bearishTrend := true, true
	if !anyNaN(at(emaFast, i), at(emaSlow, i)) {
		bullishTrend = emaFast[i] > emaSlow[i]
		bearishTrend = emaFast[i] < emaSlow[i]
	}

	crossedUp := macd.MACD[i] > macd.Signal[i] && macd.MACD[p] <= macd.Signal[p]
	crossedDown := macd.MACD[i] < macd.Signal[i] && macd.MACD[p] >= macd.Signal[p]

	volumeHigh := false
	if !math.IsNaN(at(volMA, i)) {
		volumeHigh = volumes[i] > volMA[i]*s.cfg.VolumeMultiplier
	}

	var buyScore float64
	var buyReasons []string

	if crossedUp {
		buyScore += 30
		buyReasons = append(buyReasons, "MACD bullish crossover")
	}
	pullback := math.Abs(closes[i]-bb.Middle[i])/closes[i] < s.cfg.PullbackProximity
	if pullback && bullishTrend {
		buyScore += 20
		buyReasons = append(buyReasons, "pullback to middle BB in uptrend")
	}
	if bullishTrend {
		buyScore += 20
		buyReasons = append(buyReasons, "EMA bullish alignment")
	}
	if s.cfg.RSIBuyLower < rsi[i] && rsi[i] < s.cfg.RSIBuyUpper {
		buyScore += 15
		buyReasons = append(buyReasons, fmt.Sprintf("RSI confirming momentum (%.1f)", rsi[i]))
	}
	if volumeHigh {
		buyScore += 15
		buyReasons = append(buyReasons, fmt.Sprintf("strong volume (>%.1fx average)", s.cfg.VolumeMultiplier))
	}
	buyConfidence := math.Min(buyScore/100.0, 1.0)

	var sellScore float64
	var sellReasons []string

	if crossedDown {
		sellScore += 35
		sellReasons = append(sellReasons, "MACD bearish crossover")
	}
	if bearishTrend {
		sellScore += 25
		sellReasons = append(sellReasons, "EMA bearish alignment")
	}
	if rsi[i] < s.cfg.RSISellUpper {
		sellScore += 20
		sellReasons = append(sellReasons, fmt.Sprintf("RSI momentum lost (%.1f)", rsi[i]))
	}
	if closes[i] < bb.Middle[i] {
		sellScore += 20
		sellReasons = append(sellReasons, "price below middle BB")
	}
	if n > 3 && !math.IsNaN(latestADX) && !math.IsNaN(at(adx, n-3)) && latestADX < adx[n-3] {
		sellScore += 20
		sellReasons = append(sellReasons, "ADX falling, trend weakening")
	}
	sellConfidence := math.Min(sellScore/100.0, 1.0)

	// A scoreless board holds at the best near-miss confidence rather than
	// zero, so callers can see how close the product was to a signal.
	return pick(s.Name(), productID, closes[i],
		buyScore, buyConfidence, buyReasons,
		sellScore, sellConfidence, sellReasons,
		math.Max(buyConfidence, sellConfidence)), nil
}
