package indicator

import "math"

// MACDResult holds the MACD line, signal line, and histogram series.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// CalculateMACD computes Moving Average Convergence Divergence from
// SMA-seeded EMAs. The MACD line becomes valid at index slowPeriod-1, the
// signal and histogram at slowPeriod+signalPeriod-2.
func CalculateMACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	if fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 || fastPeriod >= slowPeriod {
		return nil
	}
	if len(values) < slowPeriod+signalPeriod {
		return nil
	}

	fast := CalculateEMA(values, fastPeriod)
	slow := CalculateEMA(values, slowPeriod)

	n := len(values)
	res := &MACDResult{
		MACD:      make([]float64, n),
		Signal:    make([]float64, n),
		Histogram: make([]float64, n),
	}

	for i := 0; i < n; i++ {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			res.MACD[i] = math.NaN()
		} else {
			res.MACD[i] = fast[i] - slow[i]
		}
		res.Signal[i] = math.NaN()
		res.Histogram[i] = math.NaN()
	}

	// Signal line: EMA over the valid segment of the MACD line.
	start := slowPeriod - 1
	signalStart := start + signalPeriod - 1
	if signalStart >= n {
		return res
	}
	var sum float64
	for i := start; i <= signalStart; i++ {
		sum += res.MACD[i]
	}
	res.Signal[signalStart] = sum / float64(signalPeriod)

	multiplier := 2.0 / float64(signalPeriod+1)
	for i := signalStart + 1; i < n; i++ {
		res.Signal[i] = (res.MACD[i]-res.Signal[i-1])*multiplier + res.Signal[i-1]
	}
	for i := signalStart; i < n; i++ {
		res.Histogram[i] = res.MACD[i] - res.Signal[i]
	}
	return res
}
