package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// HybridConfig selects the sub-strategies and the vote threshold.
type HybridConfig struct {
	UseMomentum      bool                `yaml:"use_momentum"`
	UseMeanReversion bool                `yaml:"use_mean_reversion"`
	UseBreakout      bool                `yaml:"use_breakout"`
	MinAgreement     int                 `yaml:"min_agreement"`
	Momentum         MomentumConfig      `yaml:"momentum"`
	MeanReversion    MeanReversionConfig `yaml:"mean_reversion"`
	Breakout         BreakoutConfig      `yaml:"breakout"`
}

// DefaultHybridConfig pairs momentum with mean reversion and leaves breakout
// off; breakout fires on different market shapes and dilutes agreement.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		UseMomentum:      true,
		UseMeanReversion: true,
		UseBreakout:      false,
		MinAgreement:     2,
		Momentum:         DefaultMomentumConfig(),
		MeanReversion:    DefaultMeanReversionConfig(),
		Breakout:         DefaultBreakoutConfig(),
	}
}

// Hybrid runs several strategies over the same candles and only signals when
// enough of them agree, averaging the confidence of the agreeing votes.
type Hybrid struct {
	strategies   []Strategy
	minAgreement int
}

func NewHybrid(cfg HybridConfig) *Hybrid {
	h := &Hybrid{minAgreement: cfg.MinAgreement}
	if h.minAgreement <= 0 {
		h.minAgreement = 2
	}
	if cfg.UseMomentum {
		h.strategies = append(h.strategies, NewMomentum(cfg.Momentum))
	}
	if cfg.UseMeanReversion {
		h.strategies = append(h.strategies, NewMeanReversion(cfg.MeanReversion))
	}
	if cfg.UseBreakout {
		h.strategies = append(h.strategies, NewBreakout(cfg.Breakout))
	}
	return h
}

// newHybridFrom builds a hybrid over explicit sub-strategies.
func newHybridFrom(minAgreement int, strategies ...Strategy) *Hybrid {
	return &Hybrid{strategies: strategies, minAgreement: minAgreement}
}

func (s *Hybrid) Name() string { return "hybrid" }

func (s *Hybrid) WarmupPeriod() int {
	warmup := minPeriods
	for _, sub := range s.strategies {
		if w := sub.WarmupPeriod(); w > warmup {
			warmup = w
		}
	}
	return warmup
}

func (s *Hybrid) Analyze(ctx context.Context, productID string, candles []candle.Candle) (Signal, error) {
	if len(candles) < minPeriods || len(s.strategies) == 0 {
		return hold(s.Name(), productID, lastClose(candles), 0, nil), nil
	}

	var buyVotes, sellVotes int
	var buyConfSum, sellConfSum float64
	var buyReasons, sellReasons []string
	var votes []string
	for _, sub := range s.strategies {
		sig, err := sub.Analyze(ctx, productID, candles)
		if err != nil {
			utils.GetLogger().Printf("Strategy | [%s hybrid] %s failed: %v", productID, sub.Name(), err)
			continue
		}
		votes = append(votes, fmt.Sprintf("%s: %s (%.2f)", sub.Name(), sig.Action, sig.Confidence))
		switch sig.Action {
		case Buy:
			buyVotes++
			buyConfSum += sig.Confidence
			buyReasons = append(buyReasons, sig.Reasons...)
		case Sell:
			sellVotes++
			sellConfSum += sig.Confidence
			sellReasons = append(sellReasons, sig.Reasons...)
		}
	}
	if len(votes) == 0 {
		return hold(s.Name(), productID, lastClose(candles), 0, nil), nil
	}

	price := lastClose(candles)
	if buyVotes >= s.minAgreement && buyVotes > sellVotes {
		utils.GetLogger().Printf("Strategy | [%s hybrid] BUY consensus %d/%d", productID, buyVotes, len(votes))
		return Signal{
			ProductID:  productID,
			Action:     Buy,
			Confidence: buyConfSum / float64(buyVotes),
			Score:      float64(buyVotes),
			Reasons:    append(votes, buyReasons...),
			Price:      price,
			Strategy:   s.Name(),
			Time:       time.Now().UTC(),
		}, nil
	}
	if sellVotes >= s.minAgreement && sellVotes > buyVotes {
		utils.GetLogger().Printf("Strategy | [%s hybrid] SELL consensus %d/%d", productID, sellVotes, len(votes))
		return Signal{
			ProductID:  productID,
			Action:     Sell,
			Confidence: sellConfSum / float64(sellVotes),
			Score:      float64(sellVotes),
			Reasons:    append(votes, sellReasons...),
			Price:      price,
			Strategy:   s.Name(),
			Time:       time.Now().UTC(),
		}, nil
	}
	return hold(s.Name(), productID, price, 0.5, votes), nil
}
