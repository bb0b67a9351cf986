package candle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCandle() Candle {
	return Candle{
		Start:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Open:        100,
		High:        105,
		Low:         99,
		Close:       103,
		Volume:      1250,
		ProductID:   "BTC-USD",
		Granularity: FifteenMinute,
	}
}

func TestCandleValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Candle)
		wantErr string
	}{
		{"valid", func(c *Candle) {}, ""},
		{"zero start", func(c *Candle) { c.Start = time.Time{} }, "candle start is zero"},
		{"non-positive open", func(c *Candle) { c.Open = 0 }, "candle prices must be positive"},
		{"negative close", func(c *Candle) { c.Close = -1 }, "candle prices must be positive"},
		{"high below low", func(c *Candle) { c.High = 98 }, "candle high cannot be less than low"},
		{"open above high", func(c *Candle) { c.Open = 106 }, "candle open price must be between high and low"},
		{"close below low", func(c *Candle) { c.Close, c.Low = 99, 99.5 }, "candle close price must be between high and low"},
		{"negative volume", func(c *Candle) { c.Volume = -5 }, "candle volume cannot be negative"},
		{"empty product", func(c *Candle) { c.ProductID = "" }, "candle product id cannot be empty"},
		{"bad granularity", func(c *Candle) { c.Granularity = "NINETY_MINUTE" }, "candle granularity is not supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandle()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
			}
		})
	}
}

func TestGranularityDuration(t *testing.T) {
	tests := []struct {
		granularity string
		want        time.Duration
	}{
		{OneMinute, time.Minute},
		{FiveMinute, 5 * time.Minute},
		{FifteenMinute, 15 * time.Minute},
		{ThirtyMinute, 30 * time.Minute},
		{OneHour, time.Hour},
		{TwoHour, 2 * time.Hour},
		{SixHour, 6 * time.Hour},
		{OneDay, 24 * time.Hour},
		{"WEEK", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GranularityDuration(tt.granularity), tt.granularity)
	}
}

func TestParseGranularity(t *testing.T) {
	d, err := ParseGranularity(FifteenMinute)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	_, err = ParseGranularity("THREE_MINUTE")
	assert.Error(t, err)
}

func TestGranularitySeconds(t *testing.T) {
	assert.Equal(t, 60, GranularitySeconds(OneMinute))
	assert.Equal(t, 900, GranularitySeconds(FifteenMinute))
	assert.Equal(t, 86400, GranularitySeconds(OneDay))
	assert.Equal(t, 0, GranularitySeconds("bogus"))
}

func TestSeriesHelpers(t *testing.T) {
	base := validCandle()
	second := base
	second.Start = base.Start.Add(15 * time.Minute)
	second.Open, second.High, second.Low, second.Close, second.Volume = 103, 110, 102, 108, 900

	candles := []Candle{base, second}
	assert.Equal(t, []float64{100, 103}, Opens(candles))
	assert.Equal(t, []float64{105, 110}, Highs(candles))
	assert.Equal(t, []float64{99, 102}, Lows(candles))
	assert.Equal(t, []float64{103, 108}, Closes(candles))
	assert.Equal(t, []float64{1250, 900}, Volumes(candles))

	last, ok := Last(candles)
	require.True(t, ok)
	assert.Equal(t, second, last)

	_, ok = Last(nil)
	assert.False(t, ok)
}

func TestSortByStart(t *testing.T) {
	a := validCandle()
	b := a
	b.Start = a.Start.Add(15 * time.Minute)
	c := a
	c.Start = a.Start.Add(30 * time.Minute)

	candles := []Candle{c, a, b}
	SortByStart(candles)
	assert.Equal(t, []Candle{a, b, c}, candles)
}

type fakeFetcher struct {
	candles []Candle
	err     error
	calls   int
}

func (f *fakeFetcher) Candles(ctx context.Context, productID, granularity string, count int) ([]Candle, error) {
	f.calls++
	return f.candles, f.err
}

type fakeCandleStore struct {
	saved []Candle
	err   error
}

func (s *fakeCandleStore) SaveCandles(ctx context.Context, candles []Candle) error {
	s.saved = append(s.saved, candles...)
	return s.err
}

func (s *fakeCandleStore) GetCandles(ctx context.Context, productID, granularity string, start, end time.Time) ([]Candle, error) {
	return nil, nil
}

func (s *fakeCandleStore) GetLatestCandle(ctx context.Context, productID, granularity string) (*Candle, error) {
	return nil, nil
}

func (s *fakeCandleStore) GetCandleCount(ctx context.Context, productID, granularity string, start, end time.Time) (int, error) {
	return len(s.saved), nil
}

func TestBackfillSkipsInvalidCandles(t *testing.T) {
	good := validCandle()
	bad := validCandle()
	bad.Open = -1

	fetcher := &fakeFetcher{candles: []Candle{good, bad}}
	store := &fakeCandleStore{}

	n, err := Backfill(context.Background(), fetcher, store, "BTC-USD", FifteenMinute, 200)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.saved, 1)
	assert.Equal(t, good, store.saved[0])
}

func TestBackfillFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("boom")}
	store := &fakeCandleStore{}

	_, err := Backfill(context.Background(), fetcher, store, "BTC-USD", FifteenMinute, 200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Empty(t, store.saved)
}

func TestBackfillRejectsUnknownGranularity(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := &fakeCandleStore{}

	_, err := Backfill(context.Background(), fetcher, store, "BTC-USD", "NINETY_MINUTE", 200)
	require.Error(t, err)
	assert.Zero(t, fetcher.calls)
}

func TestBackfillHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{candles: []Candle{validCandle()}}
	store := &fakeCandleStore{}

	_, err := Backfill(ctx, fetcher, store, "BTC-USD", FifteenMinute, 200)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fetcher.calls)
}
