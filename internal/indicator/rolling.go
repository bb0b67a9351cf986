package indicator

import "math"

// RollingMax computes the highest value over a trailing window.
// The first window-1 entries are NaN.
func RollingMax(values []float64, window int) []float64 {
	if len(values) < window || window <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	for i := 0; i < window-1; i++ {
		out[i] = math.NaN()
	}
	for i := window - 1; i < len(values); i++ {
		max := values[i-window+1]
		for j := i - window + 2; j <= i; j++ {
			if values[j] > max {
				max = values[j]
			}
		}
		out[i] = max
	}
	return out
}

// RollingMin computes the lowest value over a trailing window.
// The first window-1 entries are NaN.
func RollingMin(values []float64, window int) []float64 {
	if len(values) < window || window <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	for i := 0; i < window-1; i++ {
		out[i] = math.NaN()
	}
	for i := window - 1; i < len(values); i++ {
		min := values[i-window+1]
		for j := i - window + 2; j <= i; j++ {
			if values[j] < min {
				min = values[j]
			}
		}
		out[i] = min
	}
	return out
}
