package indicator

import "math"

// CalculateADX computes the Average Directional Index with Wilder's smoothing.
// ADX values become valid at index 2*period-1; everything before is NaN.
// The three input series must have equal length of at least 2*period.
func CalculateADX(highs, lows, closes []float64, period int) []float64 {
	n := len(highs)
	if n != len(lows) || n != len(closes) {
		return nil
	}
	if period <= 0 || n < 2*period {
		return nil
	}

	// Directional movement and true range, defined from the second bar.
	dmPlus := make([]float64, n)
	dmMinus := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			dmPlus[i] = up
		}
		if down > up && down > 0 {
			dmMinus[i] = down
		}
		tr[i] = trueRange(highs[i], lows[i], closes[i-1])
	}

	// Wilder-smoothed sums, seeded with plain sums over the first period.
	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += dmPlus[i]
		smMinus += dmMinus[i]
	}

	dx := make([]float64, n)
	for i := range dx {
		dx[i] = math.NaN()
	}
	dx[period] = dxValue(smPlus, smMinus, smTR)
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + dmPlus[i]
		smMinus = smMinus - smMinus/float64(period) + dmMinus[i]
		dx[i] = dxValue(smPlus, smMinus, smTR)
	}

	adx := make([]float64, n)
	for i := 0; i < 2*period-1; i++ {
		adx[i] = math.NaN()
	}
	var sum float64
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	adx[2*period-1] = sum / float64(period)
	for i := 2 * period; i < n; i++ {
		adx[i] = (adx[i-1]*float64(period-1) + dx[i]) / float64(period)
	}
	return adx
}

func dxValue(smPlus, smMinus, smTR float64) float64 {
	if smTR == 0 {
		return 0
	}
	diPlus := 100 * smPlus / smTR
	diMinus := 100 * smMinus / smTR
	if diPlus+diMinus == 0 {
		return 0
	}
	return 100 * math.Abs(diPlus-diMinus) / (diPlus + diMinus)
}
