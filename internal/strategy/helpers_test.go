package strategy

import (
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

var testStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func mkCandle(i int, o, h, l, c, v float64) candle.Candle {
	return candle.Candle{
		Start:       testStart.Add(time.Duration(i) * 15 * time.Minute),
		Open:        o,
		High:        h,
		Low:         l,
		Close:       c,
		Volume:      v,
		ProductID:   "TEST-USD",
		Granularity: candle.FifteenMinute,
	}
}

// risingSeries grows 1% per candle. Highs and lows never step backwards, so
// directional movement is one-sided.
func risingSeries(n int, volume float64) []candle.Candle {
	out := make([]candle.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		price *= 1.01
		out[i] = mkCandle(i, open, price*1.001, open*0.999, price, volume)
	}
	return out
}

// fallingSeries loses 1% per candle.
func fallingSeries(n int, volume float64) []candle.Candle {
	out := make([]candle.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		price *= 0.99
		out[i] = mkCandle(i, open, open*1.001, price*0.999, price, volume)
	}
	return out
}

// rangeSeries alternates closes between 100.5 and 99.5. Up candles print the
// higher high, down candles the lower low, in equal steps, so plus and minus
// directional movement cancel and ADX stays pinned near zero.
func rangeSeries(n int, volume float64) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		if i%2 == 0 {
			open := 99.5
			if i == 0 {
				open = 100.5
			}
			out[i] = mkCandle(i, open, 100.8, 99.4, 100.5, volume)
		} else {
			out[i] = mkCandle(i, 100.5, 100.6, 99.2, 99.5, volume)
		}
	}
	return out
}

// declineSeries drifts down 0.02 per candle, shallow enough that price never
// escapes the Bollinger bands or stretches far from the rolling mean.
func declineSeries(n int, volume float64) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		open := 100.0 - 0.02*float64(i-1)
		if i == 0 {
			open = 100.0
		}
		c := 100.0 - 0.02*float64(i)
		out[i] = mkCandle(i, open, open+0.05, c-0.05, c, volume)
	}
	return out
}

// flatSeries holds at the given price with fixed 0.4-wide wicks.
func flatSeries(n int, price, volume float64) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		out[i] = mkCandle(i, price, price+0.2, price-0.2, price, volume)
	}
	return out
}
