package indicator

import (
	"fmt"
	"math"
)

// StochasticResult holds the results of stochastic oscillator calculation
type StochasticResult struct {
	K []float64 // %K line values
	D []float64 // %D line values
}

// CalculateStochastic computes the Stochastic Oscillator from high/low/close
// series: raw %K over periodK, smoothed by an SMA of smoothK, and %D as an
// SMA of the smoothed %K over periodD. Warmup entries are NaN.
func CalculateStochastic(highs, lows, closes []float64, periodK, smoothK, periodD int) (*StochasticResult, error) {
	n := len(closes)
	if n == 0 {
		return nil, fmt.Errorf("series cannot be empty")
	}
	if len(highs) != n || len(lows) != n {
		return nil, fmt.Errorf("series length mismatch: highs=%d lows=%d closes=%d", len(highs), len(lows), n)
	}
	if periodK <= 0 || smoothK <= 0 || periodD <= 0 {
		return nil, fmt.Errorf("all periods must be positive integers")
	}
	if n < periodK+smoothK+periodD-2 {
		return nil, fmt.Errorf("insufficient data: need at least %d values", periodK+smoothK+periodD-2)
	}

	raw := make([]float64, n)
	for i := 0; i < periodK-1; i++ {
		raw[i] = math.NaN()
	}
	for i := periodK - 1; i < n; i++ {
		lowest, highest := lows[i-periodK+1], highs[i-periodK+1]
		for j := i - periodK + 2; j <= i; j++ {
			if lows[j] < lowest {
				lowest = lows[j]
			}
			if highs[j] > highest {
				highest = highs[j]
			}
		}
		if highest == lowest {
			// No range over the window, park in the middle.
			raw[i] = 50.0
		} else {
			raw[i] = 100.0 * (closes[i] - lowest) / (highest - lowest)
		}
	}

	res := &StochasticResult{K: nanRollingMean(raw, smoothK)}
	res.D = nanRollingMean(res.K, periodD)
	return res, nil
}

// nanRollingMean computes an SMA over a series whose head may be NaN; a
// window containing any NaN yields NaN.
func nanRollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		var sum float64
		valid := true
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				valid = false
				break
			}
			sum += values[j]
		}
		if !valid {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(window)
	}
	return out
}
