// Package marketdata owns the shared price and quote cache fed by the
// websocket stream and read by the engine, executor, and scanner.
package marketdata

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/psreek-ai/coinbase-trader/internal/market"
)

// DefaultTTL bounds how long a streamed price is trusted before readers
// fall back to REST.
const DefaultTTL = 30 * time.Second

// Cache is the process-wide market data cache. The websocket feed is its
// only writer; everything else reads.
type Cache struct {
	store *ristretto.Cache
	ttl   time.Duration
}

// NewCache builds a cache whose entries expire after ttl. A non-positive
// ttl uses DefaultTTL.
func NewCache(ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{store: store, ttl: ttl}, nil
}

// SetPrice records the latest trade price for a product. The write is
// flushed before returning so an immediate read sees it.
func (c *Cache) SetPrice(productID string, price float64) {
	c.store.SetWithTTL("price:"+productID, price, 1, c.ttl)
	c.store.Wait()
}

// Price returns the latest cached price, if still fresh.
func (c *Cache) Price(productID string) (float64, bool) {
	v, ok := c.store.Get("price:" + productID)
	if !ok {
		return 0, false
	}
	price, ok := v.(float64)
	return price, ok
}

// SetQuote records the latest top of book for a product.
func (c *Cache) SetQuote(q market.Quote) {
	c.store.SetWithTTL("quote:"+q.ProductID, q, 1, c.ttl)
	c.store.Wait()
}

// Quote returns the latest cached top of book, if still fresh.
func (c *Cache) Quote(productID string) (market.Quote, bool) {
	v, ok := c.store.Get("quote:" + productID)
	if !ok {
		return market.Quote{}, false
	}
	q, ok := v.(market.Quote)
	return q, ok
}

// Close releases the cache's internal buffers.
func (c *Cache) Close() {
	c.store.Close()
}
