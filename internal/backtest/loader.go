package backtest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
)

// History is the exchange slice the loader pages ranged candles from.
type History interface {
	CandlesBetween(ctx context.Context, productID, granularity string, start, end time.Time) ([]candle.Candle, error)
}

// maxCandlesPerWindow matches the exchange's per-request candle cap.
const maxCandlesPerWindow = 300

// pageInterval paces downloads so a cold multi-product run stays inside
// the public rate limits.
const pageInterval = 500 * time.Millisecond

// LoadCandles returns the candles covering [start, end) for a product.
// Storage is checked first and serves whatever it has for the range;
// only an empty range goes to the exchange, window by window, with the
// download persisted for the next run.
func LoadCandles(ctx context.Context, ex History, store candle.Storage, productID, granularity string, start, end time.Time) ([]candle.Candle, error) {
	bucket := candle.GranularityDuration(granularity)
	if bucket == 0 {
		return nil, fmt.Errorf("unsupported granularity %q", granularity)
	}

	stored, err := store.GetCandles(ctx, productID, granularity, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading %s candles from store: %w", productID, err)
	}
	if len(stored) > 0 {
		log.Printf("Backtest | [%s] %d candles served from storage", productID, len(stored))
		return stored, nil
	}

	window := time.Duration(maxCandlesPerWindow) * bucket
	var fetched []candle.Candle
	var pages int

	ticker := time.NewTicker(pageInterval)
	defer ticker.Stop()

	for cur := start; cur.Before(end); cur = cur.Add(window) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		next := cur.Add(window)
		if next.After(end) {
			next = end
		}
		page, err := ex.CandlesBetween(ctx, productID, granularity, cur, next)
		if err != nil {
			return nil, fmt.Errorf("downloading %s candles [%s, %s): %w",
				productID, cur.Format(time.RFC3339), next.Format(time.RFC3339), err)
		}
		pages++
		for _, c := range page {
			if err := c.Validate(); err != nil {
				log.Printf("Backtest | [%s] Skipping invalid candle at %s: %v",
					productID, c.Start.Format(time.RFC3339), err)
				continue
			}
			fetched = append(fetched, c)
		}
	}

	if len(fetched) == 0 {
		return nil, fmt.Errorf("no %s candles available for [%s, %s)",
			productID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	candle.SortByStart(fetched)
	if err := store.SaveCandles(ctx, fetched); err != nil {
		// The run can proceed on the in-memory copy; only the cache is lost.
		log.Printf("Backtest | [%s] Downloaded candles not persisted: %v", productID, err)
	}
	log.Printf("Backtest | [%s] Downloaded %d candles in %d pages", productID, len(fetched), pages)
	return fetched, nil
}
