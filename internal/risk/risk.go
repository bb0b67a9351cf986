// Package risk
package risk

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/psreek-ai/coinbase-trader/internal/position"
)

// Sizing failure reason codes.
const (
	ReasonInvalidRiskPerUnit = "invalid_risk_per_unit"
	ReasonBelowMinimumSize   = "below_minimum_size"
	ReasonBelowMinimumValue  = "below_minimum_value"
)

// SizingError reports why a position could not be sized. The engine treats
// it as a per-candidate rejection, never a cycle failure.
type SizingError struct {
	Reason string
	Detail string
}

func (e *SizingError) Error() string {
	if e.Detail == "" {
		return "position sizing rejected: " + e.Reason
	}
	return fmt.Sprintf("position sizing rejected: %s (%s)", e.Reason, e.Detail)
}

// Config holds all risk limits. Percentages are fractions (0.01 = 1%),
// except the fee/slippage ceilings which follow the preview response and are
// expressed in percent.
type Config struct {
	RiskPercentPerTrade      float64 `yaml:"risk_percent_per_trade" env:"RISK_PERCENT_PER_TRADE" envDefault:"0.01"`
	MaxPositionSizePercent   float64 `yaml:"max_position_size_percent" env:"MAX_POSITION_SIZE_PERCENT" envDefault:"0.10"`
	MaxTotalExposurePercent  float64 `yaml:"max_total_exposure_percent" env:"MAX_TOTAL_EXPOSURE_PERCENT" envDefault:"0.50"`
	DefaultStopLossPercent   float64 `yaml:"default_stop_loss_percent" env:"DEFAULT_STOP_LOSS_PERCENT" envDefault:"0.015"`
	DefaultTakeProfitPercent float64 `yaml:"default_take_profit_percent" env:"DEFAULT_TAKE_PROFIT_PERCENT" envDefault:"0.03"`
	UseTrailingStop          bool    `yaml:"use_trailing_stop" env:"USE_TRAILING_STOP" envDefault:"true"`
	TrailingStopPercent      float64 `yaml:"trailing_stop_percent" env:"TRAILING_STOP_PERCENT" envDefault:"0.02"`
	MaxDrawdownPercent       float64 `yaml:"max_drawdown_percent" env:"MAX_DRAWDOWN_PERCENT" envDefault:"0.15"`
	MinTradeValue            float64 `yaml:"min_usd_trade_value" env:"MIN_USD_TRADE_VALUE" envDefault:"10.0"`
	MaxConcurrentPositions   int     `yaml:"max_concurrent_positions" env:"MAX_CONCURRENT_POSITIONS" envDefault:"5"`
	MaxFeePercent            float64 `yaml:"max_fee_percent" env:"MAX_FEE_PERCENT" envDefault:"1.0"`
	MaxSlippagePercent       float64 `yaml:"max_slippage_percent" env:"MAX_SLIPPAGE_PERCENT" envDefault:"0.5"`
}

// DefaultConfig returns the stock risk limits.
func DefaultConfig() Config {
	return Config{
		RiskPercentPerTrade:      0.01,
		MaxPositionSizePercent:   0.10,
		MaxTotalExposurePercent:  0.50,
		DefaultStopLossPercent:   0.015,
		DefaultTakeProfitPercent: 0.03,
		UseTrailingStop:          true,
		TrailingStopPercent:      0.02,
		MaxDrawdownPercent:       0.15,
		MinTradeValue:            10.0,
		MaxConcurrentPositions:   5,
		MaxFeePercent:            1.0,
		MaxSlippagePercent:       0.5,
	}
}

// State is the persistable slice of the manager, saved to bot state across
// restarts so a halt survives a process bounce.
type State struct {
	PeakEquity float64 `json:"peak_equity"`
	Halted     bool    `json:"halted"`
	HaltReason string  `json:"halt_reason,omitempty"`
}

// Manager enforces all pre-trade risk limits and the drawdown halt.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	peakEquity float64
	halted     bool
	haltReason string
}

// NewManager creates a risk manager with the given limits.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Config returns the limits the manager was built with.
func (m *Manager) Config() Config {
	return m.cfg
}

// Snapshot returns the current persistable state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{PeakEquity: m.peakEquity, Halted: m.halted, HaltReason: m.haltReason}
}

// Restore loads previously persisted state.
func (m *Manager) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peakEquity = s.PeakEquity
	m.halted = s.Halted
	m.haltReason = s.HaltReason
}

// Halted reports whether new entries are blocked, and why.
func (m *Manager) Halted() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted, m.haltReason
}

// PeakEquity returns the highest equity observed so far.
func (m *Manager) PeakEquity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakEquity
}

// Sizing carries the intermediate values of one sizing decision, persisted
// in order metadata for auditability.
type Sizing struct {
	RiskAmount     float64 `json:"risk_amount"`
	RiskPerUnit    float64 `json:"risk_per_unit"`
	CalculatedSize float64 `json:"calculated_size"`
	CappedBy       string  `json:"capped_by,omitempty"`
	FinalSize      float64 `json:"final_size"`
	PositionValue  float64 `json:"position_value"`
}

// SizePosition computes the order size risking RiskPercentPerTrade of equity
// between entry and stop, capped at MaxPositionSizePercent of equity. It
// rejects rather than rounding up past the instrument minimum size or the
// minimum notional.
func (m *Manager) SizePosition(equity, entryPrice, stopLoss, minSize float64) (float64, Sizing, error) {
	var s Sizing

	if entryPrice <= 0 {
		return 0, s, &SizingError{Reason: ReasonInvalidRiskPerUnit, Detail: "entry price must be positive"}
	}

	s.RiskAmount = quantize8(equity * m.cfg.RiskPercentPerTrade)
	s.RiskPerUnit = math.Abs(entryPrice - stopLoss)
	if s.RiskPerUnit <= 0 {
		return 0, s, &SizingError{Reason: ReasonInvalidRiskPerUnit, Detail: "stop equals entry"}
	}

	size := quantize8(s.RiskAmount / s.RiskPerUnit)
	s.CalculatedSize = size

	maxPositionValue := equity * m.cfg.MaxPositionSizePercent
	if size*entryPrice > maxPositionValue {
		size = quantize8(maxPositionValue / entryPrice)
		s.CappedBy = "max_position_size"
	}

	if minSize > 0 && size < minSize {
		return 0, s, &SizingError{
			Reason: ReasonBelowMinimumSize,
			Detail: fmt.Sprintf("size %.8f below instrument minimum %.8f", size, minSize),
		}
	}

	positionValue := size * entryPrice
	if positionValue < m.cfg.MinTradeValue {
		return 0, s, &SizingError{
			Reason: ReasonBelowMinimumValue,
			Detail: fmt.Sprintf("value %.2f below minimum %.2f", positionValue, m.cfg.MinTradeValue),
		}
	}

	s.FinalSize = size
	s.PositionValue = positionValue
	return size, s, nil
}

// StopTarget returns the protective stop and take-profit prices for an entry.
// BUY lowers the stop and raises the target; SELL is mirrored.
func (m *Manager) StopTarget(entryPrice float64, side string) (float64, float64) {
	if side == "SELL" {
		stop := quantize8(entryPrice * (1 + m.cfg.DefaultStopLossPercent))
		target := quantize8(entryPrice * (1 - m.cfg.DefaultTakeProfitPercent))
		return stop, target
	}
	stop := quantize8(entryPrice * (1 - m.cfg.DefaultStopLossPercent))
	target := quantize8(entryPrice * (1 + m.cfg.DefaultTakeProfitPercent))
	return stop, target
}

// CanOpen checks the halt flag, the concurrent-position ceiling, and the
// total exposure ceiling for a proposed new position.
func (m *Manager) CanOpen(openCount int, currentExposure, equity, newValue float64) (bool, string) {
	m.mu.Lock()
	halted, reason := m.halted, m.haltReason
	m.mu.Unlock()

	if halted {
		return false, "trading halted: " + reason
	}
	if openCount >= m.cfg.MaxConcurrentPositions {
		return false, fmt.Sprintf("maximum concurrent positions reached (%d)", m.cfg.MaxConcurrentPositions)
	}
	if equity <= 0 {
		return false, "equity unavailable"
	}
	newExposure := currentExposure + newValue/equity
	if newExposure > m.cfg.MaxTotalExposurePercent {
		return false, fmt.Sprintf("total exposure limit exceeded (%.2f%% > %.2f%%)",
			newExposure*100, m.cfg.MaxTotalExposurePercent*100)
	}
	return true, ""
}

// CheckDrawdown updates the equity peak and reports whether drawdown
// currently exceeds the ceiling. The halt it sets clears only once equity
// makes a strictly new peak, not on partial recovery.
func (m *Manager) CheckDrawdown(currentEquity float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if currentEquity > m.peakEquity {
		m.peakEquity = currentEquity
		if m.halted && m.haltReason == "max_drawdown" {
			m.halted = false
			m.haltReason = ""
			log.Printf("Risk | Trading resumed: equity made a new peak at %.2f", currentEquity)
		}
	}

	if m.peakEquity > 0 {
		drawdown := (m.peakEquity - currentEquity) / m.peakEquity
		if drawdown > m.cfg.MaxDrawdownPercent {
			if !m.halted {
				m.halted = true
				m.haltReason = "max_drawdown"
				log.Printf("Risk | TRADING HALTED: maximum drawdown exceeded (%.2f%% > %.2f%%)",
					drawdown*100, m.cfg.MaxDrawdownPercent*100)
			}
			return true
		}
	}
	return false
}

// UpdateTrailingStop proposes a new stop at currentPrice minus the trailing
// percentage. The stop only ratchets up: a proposal at or below the current
// stop, or at/above the current price, returns 0.
func (m *Manager) UpdateTrailingStop(pos *position.Position, currentPrice float64) float64 {
	if !m.cfg.UseTrailingStop {
		return 0
	}
	newStop := quantize8(currentPrice * (1 - m.cfg.TrailingStopPercent))
	if newStop > pos.StopLoss && newStop < currentPrice {
		log.Printf("Risk | [%s] Trailing stop updated: %.8f -> %.8f", pos.ProductID, pos.StopLoss, newStop)
		return newStop
	}
	return 0
}

// ShouldClose checks a position against its stop and target.
func (m *Manager) ShouldClose(pos *position.Position, currentPrice float64) (bool, string) {
	if pos.StopLoss > 0 && currentPrice <= pos.StopLoss {
		return true, position.ExitReasonStopLoss
	}
	if pos.TakeProfit > 0 && currentPrice >= pos.TakeProfit {
		return true, position.ExitReasonTakeProfit
	}
	return false, ""
}

// PortfolioMetrics summarizes open positions for snapshots.
type PortfolioMetrics struct {
	TotalEquity        float64 `json:"total_equity"`
	NumPositions       int     `json:"num_positions"`
	PositionsValue     float64 `json:"positions_value"`
	TotalExposure      float64 `json:"total_exposure"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`
}

// CalculatePortfolioMetrics computes aggregate exposure and unrealized PnL
// at each position's last marked price.
func (m *Manager) CalculatePortfolioMetrics(totalEquity float64, positions []position.Position) PortfolioMetrics {
	metrics := PortfolioMetrics{TotalEquity: totalEquity, NumPositions: len(positions)}
	if len(positions) == 0 || totalEquity <= 0 {
		return metrics
	}
	for i := range positions {
		pos := &positions[i]
		price := pos.CurrentPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		metrics.PositionsValue += pos.Value(price)
		metrics.TotalUnrealizedPnL += pos.UnrealizedPnL(price)
	}
	metrics.TotalExposure = metrics.PositionsValue / totalEquity
	return metrics
}

// quantize8 truncates to 8 decimal places, matching exchange size precision.
func quantize8(v float64) float64 {
	return math.Floor(v*1e8) / 1e8
}
