package indicator

import "math"

// CalculateEMA computes an exponential moving average over the given period.
// The seed at index period-1 is the SMA of the first period values; the first
// period-1 entries are NaN.
func CalculateEMA(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	ema := make([]float64, len(values))
	for i := 0; i < period-1; i++ {
		ema[i] = math.NaN()
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema[period-1] = sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema[i] = (values[i]-ema[i-1])*multiplier + ema[i-1]
	}
	return ema
}
