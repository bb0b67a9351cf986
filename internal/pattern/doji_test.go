package pattern

import (
	"testing"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

func TestDojiDetect(t *testing.T) {
	d := NewDoji()

	tests := []struct {
		name string
		c    candle.Candle
		want string
	}{
		{
			name: "dragonfly",
			c:    candle.Candle{Open: 100, High: 100.1, Low: 99, Close: 100.05},
			want: "dragonfly_doji",
		},
		{
			name: "gravestone",
			c:    candle.Candle{Open: 100, High: 101, Low: 99.9, Close: 99.95},
			want: "gravestone_doji",
		},
		{
			name: "long legged",
			c:    candle.Candle{Open: 100, High: 101, Low: 99, Close: 100.02},
			want: "long_legged_doji",
		},
		{
			name: "standard",
			c:    candle.Candle{Open: 100, High: 100.4, Low: 99.4, Close: 100.05},
			want: "doji",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.c.Start = time.Now()
			tt.c.Volume = 500

			matches := d.Detect([]candle.Candle{tt.c})
			if len(matches) != 1 {
				t.Fatalf("Expected 1 match, got %d", len(matches))
			}
			if matches[0].Name != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, matches[0].Name)
			}
			if matches[0].Direction != Neutral {
				t.Errorf("Expected neutral direction, got %s", matches[0].Direction)
			}
		})
	}

	t.Run("large body is not a doji", func(t *testing.T) {
		c := candle.Candle{Start: time.Now(), Open: 100, High: 104, Low: 99, Close: 103, Volume: 500}
		if matches := d.Detect([]candle.Candle{c}); len(matches) != 0 {
			t.Errorf("Expected no matches, got %d", len(matches))
		}
	})

	t.Run("tiny body boosts strength", func(t *testing.T) {
		// Dragonfly with a near-zero body.
		c := candle.Candle{Start: time.Now(), Open: 100, High: 100.02, Low: 99, Close: 100.01, Volume: 500}
		matches := d.Detect([]candle.Candle{c})
		if len(matches) != 1 {
			t.Fatalf("Expected 1 match, got %d", len(matches))
		}
		if matches[0].Strength <= StrengthMedium {
			t.Errorf("Expected strength above %v, got %v", StrengthMedium, matches[0].Strength)
		}
	})
}
