package strategy

import (
	"fmt"
	"strings"
)

// Config selects and parameterizes the engine's strategy.
type Config struct {
	Name          string              `yaml:"name" env:"STRATEGY" envDefault:"momentum"`
	Momentum      MomentumConfig      `yaml:"momentum"`
	MeanReversion MeanReversionConfig `yaml:"mean_reversion"`
	Breakout      BreakoutConfig      `yaml:"breakout"`
	Hybrid        HybridConfig        `yaml:"hybrid"`
}

// DefaultConfig returns the momentum strategy with production defaults.
func DefaultConfig() Config {
	return Config{
		Name:          "momentum",
		Momentum:      DefaultMomentumConfig(),
		MeanReversion: DefaultMeanReversionConfig(),
		Breakout:      DefaultBreakoutConfig(),
		Hybrid:        DefaultHybridConfig(),
	}
}

// Available lists the strategy names New accepts.
func Available() []string {
	return []string{"momentum", "mean_reversion", "breakout", "hybrid"}
}

// New builds the named strategy from the config.
func New(cfg Config) (Strategy, error) {
	switch cfg.Name {
	case "momentum":
		return NewMomentum(cfg.Momentum), nil
	case "mean_reversion":
		return NewMeanReversion(cfg.MeanReversion), nil
	case "breakout":
		return NewBreakout(cfg.Breakout), nil
	case "hybrid":
		return NewHybrid(cfg.Hybrid), nil
	}
	return nil, fmt.Errorf("unknown strategy %q (available: %s)", cfg.Name, strings.Join(Available(), ", "))
}
