// Package candle
package candle

import (
	"context"
	"errors"
	"sort"
	"time"
)

type Candle struct {
	Start       time.Time `json:"start"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	ProductID   string    `json:"product_id"`
	Granularity string    `json:"granularity"`
}

// IsComplete checks if a candle interval has fully elapsed (not the live bucket).
func (c *Candle) IsComplete() bool {
	now := time.Now().UTC()
	end := c.Start.Add(GranularityDuration(c.Granularity))
	return now.After(end)
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Start.IsZero() {
		return errors.New("candle start is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.ProductID == "" {
		return errors.New("candle product id cannot be empty")
	}
	if !IsValidGranularity(c.Granularity) {
		return errors.New("candle granularity is not supported")
	}
	return nil
}

// Storage is the persistence surface candles need.
type Storage interface {
	SaveCandles(ctx context.Context, candles []Candle) error
	GetCandles(ctx context.Context, productID, granularity string, start, end time.Time) ([]Candle, error)
	GetLatestCandle(ctx context.Context, productID, granularity string) (*Candle, error)
	GetCandleCount(ctx context.Context, productID, granularity string, start, end time.Time) (int, error)
}

// Fetcher is the slice of the exchange surface backfill needs.
type Fetcher interface {
	Candles(ctx context.Context, productID, granularity string, count int) ([]Candle, error)
}

// SortByStart sorts candles oldest-first in place.
func SortByStart(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Start.Before(candles[j].Start)
	})
}

// Closes extracts the close series, oldest-first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Opens extracts the open series, oldest-first.
func Opens(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Open
	}
	return out
}

// Highs extracts the high series, oldest-first.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low series, oldest-first.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts the volume series, oldest-first.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// Last returns the most recent candle, assuming oldest-first order.
func Last(candles []Candle) (Candle, bool) {
	if len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}
