package indicator

import "math"

// CalculateATR computes the Average True Range with Wilder's smoothing.
// The first period-1 entries are NaN. The three input series must have equal
// length.
func CalculateATR(highs, lows, closes []float64, period int) []float64 {
	n := len(highs)
	if n != len(lows) || n != len(closes) {
		return nil
	}
	if n < period+1 || period <= 0 {
		return nil
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		tr[i] = trueRange(highs[i], lows[i], closes[i-1])
	}

	atr := make([]float64, n)
	for i := 0; i < period-1; i++ {
		atr[i] = math.NaN()
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return atr
}

func trueRange(high, low, prevClose float64) float64 {
	r := high - low
	if d := math.Abs(high - prevClose); d > r {
		r = d
	}
	if d := math.Abs(low - prevClose); d > r {
		r = d
	}
	return r
}
