package pattern

import (
	"testing"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

func TestCandleGeometry(t *testing.T) {
	bullish := candle.Candle{Start: time.Now(), Open: 100, High: 106, Low: 98, Close: 104, Volume: 1000}
	bearish := candle.Candle{Start: time.Now(), Open: 104, High: 106, Low: 98, Close: 100, Volume: 1000}

	t.Run("body and shadows", func(t *testing.T) {
		if got := bodySize(bullish); got != 4 {
			t.Errorf("Expected body size 4, got %v", got)
		}
		if got := upperShadow(bullish); got != 2 {
			t.Errorf("Expected upper shadow 2, got %v", got)
		}
		if got := lowerShadow(bullish); got != 2 {
			t.Errorf("Expected lower shadow 2, got %v", got)
		}
		if got := upperShadow(bearish); got != 2 {
			t.Errorf("Expected bearish upper shadow 2, got %v", got)
		}
		if got := lowerShadow(bearish); got != 2 {
			t.Errorf("Expected bearish lower shadow 2, got %v", got)
		}
	})

	t.Run("ratios", func(t *testing.T) {
		if got := bodyRatio(bullish); got != 0.5 {
			t.Errorf("Expected body ratio 0.5, got %v", got)
		}
		if got := upperShadowRatio(bullish); got != 0.25 {
			t.Errorf("Expected upper shadow ratio 0.25, got %v", got)
		}
		if got := lowerShadowRatio(bullish); got != 0.25 {
			t.Errorf("Expected lower shadow ratio 0.25, got %v", got)
		}
	})

	t.Run("zero range counts as all body", func(t *testing.T) {
		flat := candle.Candle{Open: 100, High: 100, Low: 100, Close: 100}
		if got := bodyRatio(flat); got != 1 {
			t.Errorf("Expected body ratio 1 for flat candle, got %v", got)
		}
		if got := upperShadowRatio(flat); got != 0 {
			t.Errorf("Expected upper shadow ratio 0 for flat candle, got %v", got)
		}
	})

	t.Run("direction", func(t *testing.T) {
		if !isBullish(bullish) || isBearish(bullish) {
			t.Error("Expected bullish candle")
		}
		if !isBearish(bearish) || isBullish(bearish) {
			t.Error("Expected bearish candle")
		}
	})
}

func TestValidShape(t *testing.T) {
	tests := []struct {
		name  string
		c     candle.Candle
		valid bool
	}{
		{"valid", candle.Candle{Open: 100, High: 106, Low: 98, Close: 104}, true},
		{"zero price", candle.Candle{Open: 0, High: 106, Low: 98, Close: 104}, false},
		{"high below low", candle.Candle{Open: 100, High: 97, Low: 98, Close: 100}, false},
		{"open above high", candle.Candle{Open: 107, High: 106, Low: 98, Close: 104}, false},
		{"close below low", candle.Candle{Open: 100, High: 106, Low: 98, Close: 97}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validShape(tt.c); got != tt.valid {
				t.Errorf("validShape(%s) = %v, want %v", tt.name, got, tt.valid)
			}
		})
	}
}

func TestLatestMatch(t *testing.T) {
	series := []candle.Candle{
		{Start: time.Now().Add(-2 * time.Minute), Open: 100, High: 102, Low: 99, Close: 101, Volume: 500},
		{Start: time.Now().Add(-time.Minute), Open: 101, High: 103, Low: 100, Close: 102, Volume: 500},
		// Hammer on the final candle.
		{Start: time.Now(), Open: 100, High: 105, Low: 90, Close: 104, Volume: 900},
	}

	t.Run("finds reversal on final candle", func(t *testing.T) {
		m, ok := LatestMatch(series, Bullish, Reversals()...)
		if !ok {
			t.Fatal("Expected a bullish match on the final candle")
		}
		if m.Name != "hammer" {
			t.Errorf("Expected hammer, got %s", m.Name)
		}
		if m.Index != 2 {
			t.Errorf("Expected index 2, got %d", m.Index)
		}
	})

	t.Run("direction is respected", func(t *testing.T) {
		if _, ok := LatestMatch(series, Bearish, Reversals()...); ok {
			t.Error("Expected no bearish match")
		}
	})

	t.Run("earlier matches are ignored", func(t *testing.T) {
		extended := append(append([]candle.Candle{}, series...),
			candle.Candle{Start: time.Now().Add(time.Minute), Open: 104, High: 107, Low: 103, Close: 106, Volume: 500})
		if _, ok := LatestMatch(extended, Bullish, NewHammer()); ok {
			t.Error("Expected no match once the hammer is no longer the final candle")
		}
	})

	t.Run("empty series", func(t *testing.T) {
		if _, ok := LatestMatch(nil, Bullish, Reversals()...); ok {
			t.Error("Expected no match for empty series")
		}
	})
}

func TestReversals(t *testing.T) {
	names := map[string]bool{}
	for _, d := range Reversals() {
		names[d.Name()] = true
	}
	for _, want := range []string{"hammer", "engulfing", "star"} {
		if !names[want] {
			t.Errorf("Expected %s detector among reversals", want)
		}
	}
}
