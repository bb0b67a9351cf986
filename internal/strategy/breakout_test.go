package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakoutInsufficientData(t *testing.T) {
	s := NewBreakout(DefaultBreakoutConfig())

	sig, err := s.Analyze(context.Background(), "BTC-USD", rangeSeries(20, 1000))
	require.NoError(t, err)
	assert.Equal(t, Hold, sig.Action)
	assert.Zero(t, sig.Confidence)
}

func TestBreakoutUpward(t *testing.T) {
	s := NewBreakout(DefaultBreakoutConfig())

	// A tight range, then a wide candle clearing the 50-period high on five
	// times average volume, closing near its top.
	candles := append(rangeSeries(59, 1000), mkCandle(59, 100.5, 103.2, 100.2, 103, 5000))

	sig, err := s.Analyze(context.Background(), "BTC-USD", candles)
	require.NoError(t, err)
	assert.Equal(t, Buy, sig.Action)
	assert.InDelta(t, 8, sig.Score, 1e-9)
	assert.InDelta(t, 8.0/9.0, sig.Confidence, 1e-9)
	assert.Contains(t, sig.Reasons, "upward breakout above 100.80")
	assert.Contains(t, sig.Reasons, "high volume (5000)")
	assert.Contains(t, sig.Reasons, "strong close (93% of candle)")
}

func TestBreakoutDownward(t *testing.T) {
	s := NewBreakout(DefaultBreakoutConfig())

	// A plunge through the 50-period low that closes near the bottom of its
	// range.
	candles := append(rangeSeries(59, 1000), mkCandle(59, 100.5, 100.6, 97, 97.2, 1000))

	sig, err := s.Analyze(context.Background(), "BTC-USD", candles)
	require.NoError(t, err)
	assert.Equal(t, Sell, sig.Action)
	assert.InDelta(t, 4, sig.Score, 1e-9)
	assert.InDelta(t, 0.8, sig.Confidence, 1e-9)
	assert.Contains(t, sig.Reasons, "downward breakout below 99.20")
	assert.Contains(t, sig.Reasons, "weak close near low")
}

func TestBreakoutFailed(t *testing.T) {
	s := NewBreakout(DefaultBreakoutConfig())

	// The wick pokes above the range high but the close falls back inside.
	// The failed attempt outweighs the consolidation points on the buy side.
	candles := append(rangeSeries(59, 1000), mkCandle(59, 100.5, 102, 100.3, 100.4, 1000))

	sig, err := s.Analyze(context.Background(), "BTC-USD", candles)
	require.NoError(t, err)
	assert.Equal(t, Sell, sig.Action)
	assert.InDelta(t, 3, sig.Score, 1e-9)
	assert.InDelta(t, 0.6, sig.Confidence, 1e-9)
	assert.Contains(t, sig.Reasons, "failed upward breakout")
}

func TestBreakoutTrendingGate(t *testing.T) {
	s := NewBreakout(DefaultBreakoutConfig())

	// An established trend is not a breakout setup. The ADX gate holds
	// before any scoring happens.
	sig, err := s.Analyze(context.Background(), "BTC-USD", risingSeries(60, 1000))
	require.NoError(t, err)
	assert.Equal(t, Hold, sig.Action)
	assert.Zero(t, sig.Confidence)
	assert.Empty(t, sig.Reasons)
}

func TestBreakoutMetadata(t *testing.T) {
	s := NewBreakout(DefaultBreakoutConfig())

	assert.Equal(t, "breakout", s.Name())
	assert.Equal(t, 60, s.WarmupPeriod())
}
