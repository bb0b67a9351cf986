package indicator

import "math"

// BollingerResult holds the three Bollinger band series.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// CalculateBollinger computes Bollinger Bands: an SMA middle band with upper
// and lower bands stdDev sample standard deviations away. The first period-1
// entries are NaN.
func CalculateBollinger(values []float64, period int, stdDev float64) *BollingerResult {
	if len(values) < period || period <= 1 || stdDev <= 0 {
		return nil
	}
	n := len(values)
	res := &BollingerResult{
		Upper:  make([]float64, n),
		Middle: CalculateSMA(values, period),
		Lower:  make([]float64, n),
	}
	for i := 0; i < period-1; i++ {
		res.Upper[i] = math.NaN()
		res.Lower[i] = math.NaN()
	}
	for i := period - 1; i < n; i++ {
		mean := res.Middle[i]
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}
		// Sample variance, matching a rolling std with ddof=1.
		sd := math.Sqrt(variance / float64(period-1))
		res.Upper[i] = mean + stdDev*sd
		res.Lower[i] = mean - stdDev*sd
	}
	return res
}

// BandWidth returns (upper-lower)/middle at index i, or NaN when unavailable.
func (b *BollingerResult) BandWidth(i int) float64 {
	if b == nil || i < 0 || i >= len(b.Middle) {
		return math.NaN()
	}
	if math.IsNaN(b.Upper[i]) || math.IsNaN(b.Lower[i]) || b.Middle[i] == 0 {
		return math.NaN()
	}
	return (b.Upper[i] - b.Lower[i]) / b.Middle[i]
}
