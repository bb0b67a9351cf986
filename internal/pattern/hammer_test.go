package pattern

import (
	"testing"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

func TestHammerDetect(t *testing.T) {
	h := NewHammer()

	t.Run("hammer", func(t *testing.T) {
		// Small body, long lower shadow, close near the high.
		c := candle.Candle{Start: time.Now(), Open: 100, High: 105, Low: 90, Close: 104, Volume: 1000}

		matches := h.Detect([]candle.Candle{c})
		if len(matches) != 1 {
			t.Fatalf("Expected 1 match, got %d", len(matches))
		}
		m := matches[0]
		if m.Name != "hammer" {
			t.Errorf("Expected hammer, got %s", m.Name)
		}
		if m.Direction != Bullish {
			t.Errorf("Expected bullish direction, got %s", m.Direction)
		}
		if m.Index != 0 {
			t.Errorf("Expected index 0, got %d", m.Index)
		}
		// Lower shadow covers 2/3 of the range.
		if m.Strength != StrengthStrong {
			t.Errorf("Expected strength %v, got %v", StrengthStrong, m.Strength)
		}
	})

	t.Run("hanging man", func(t *testing.T) {
		// Same shape with a bearish close.
		c := candle.Candle{Start: time.Now(), Open: 104, High: 105, Low: 90, Close: 100, Volume: 1000}

		matches := h.Detect([]candle.Candle{c})
		if len(matches) != 1 {
			t.Fatalf("Expected 1 match, got %d", len(matches))
		}
		if matches[0].Name != "hanging_man" {
			t.Errorf("Expected hanging_man, got %s", matches[0].Name)
		}
		if matches[0].Direction != Bearish {
			t.Errorf("Expected bearish direction, got %s", matches[0].Direction)
		}
	})

	t.Run("large body is not a hammer", func(t *testing.T) {
		c := candle.Candle{Start: time.Now(), Open: 100, High: 110, Low: 99, Close: 109, Volume: 1000}
		if matches := h.Detect([]candle.Candle{c}); len(matches) != 0 {
			t.Errorf("Expected no matches, got %d", len(matches))
		}
	})

	t.Run("short lower shadow is not a hammer", func(t *testing.T) {
		c := candle.Candle{Start: time.Now(), Open: 100, High: 101, Low: 99.5, Close: 100.4, Volume: 1000}
		if matches := h.Detect([]candle.Candle{c}); len(matches) != 0 {
			t.Errorf("Expected no matches, got %d", len(matches))
		}
	})

	t.Run("long upper shadow is not a hammer", func(t *testing.T) {
		c := candle.Candle{Start: time.Now(), Open: 100, High: 104, Low: 94, Close: 100.5, Volume: 1000}
		if matches := h.Detect([]candle.Candle{c}); len(matches) != 0 {
			t.Errorf("Expected no matches, got %d", len(matches))
		}
	})

	t.Run("invalid shape is skipped", func(t *testing.T) {
		c := candle.Candle{Start: time.Now(), Open: 100, High: 90, Low: 105, Close: 104}
		if matches := h.Detect([]candle.Candle{c}); len(matches) != 0 {
			t.Errorf("Expected no matches for invalid shape, got %d", len(matches))
		}
	})

	t.Run("empty series", func(t *testing.T) {
		if matches := h.Detect(nil); matches != nil {
			t.Errorf("Expected nil matches for empty series, got %v", matches)
		}
	})
}

func TestHammerStrengthBoosts(t *testing.T) {
	h := NewHammer()

	// Tiny body and nearly no upper shadow push the grade to the cap.
	c := candle.Candle{Start: time.Now(), Open: 100, High: 100.65, Low: 90, Close: 100.6, Volume: 1000}
	matches := h.Detect([]candle.Candle{c})
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	if matches[0].Strength != 1.0 {
		t.Errorf("Expected capped strength 1.0, got %v", matches[0].Strength)
	}
}
