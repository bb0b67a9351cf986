package candle

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Backfill pulls up to count historical candles for a product from the
// exchange and persists the valid ones. Invalid candles are skipped, not
// fatal. Returns the number of candles stored.
func Backfill(ctx context.Context, fetcher Fetcher, storage Storage, productID, granularity string, count int) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	if !IsValidGranularity(granularity) {
		return 0, fmt.Errorf("backfill %s: unsupported granularity %q", productID, granularity)
	}

	fetched, err := fetcher.Candles(ctx, productID, granularity, count)
	if err != nil {
		return 0, fmt.Errorf("backfill %s: %w", productID, err)
	}

	valid := make([]Candle, 0, len(fetched))
	for _, c := range fetched {
		if err := c.Validate(); err != nil {
			log.Printf("Backfill | [%s %s] skipping invalid candle at %s: %v", productID, granularity, c.Start.Format(time.RFC3339), err)
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	SortByStart(valid)
	if err := storage.SaveCandles(ctx, valid); err != nil {
		return 0, fmt.Errorf("backfill %s: saving candles: %w", productID, err)
	}

	log.Printf("Backfill | [%s %s] stored %d candles (%d fetched)", productID, granularity, len(valid), len(fetched))
	return len(valid), nil
}
