// Package exchange implements the Coinbase Advanced Trade REST and
// websocket adapters behind one venue-neutral interface. All response
// shapes are normalized at this boundary; callers never see raw API
// payloads or branch on field-name variants.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

// Exchange is the surface the engine trades through.
type Exchange interface {
	Name() string
	PortfolioID(ctx context.Context) (string, error)
	// Balances returns asset balances worth at least minValue in quote
	// fiat terms. Dust below 1e-8 is dropped regardless of value.
	Balances(ctx context.Context, portfolioID string, minValue float64) (map[string]market.Balance, error)
	// TradableProducts returns the online products whose quote currency
	// the account holds.
	TradableProducts(ctx context.Context, balances map[string]market.Balance) ([]market.Product, error)
	Product(ctx context.Context, productID string) (market.Product, error)
	Candles(ctx context.Context, productID, granularity string, count int) ([]candle.Candle, error)
	// CandlesBetween fetches [start, end); a single window may span at
	// most 300 buckets.
	CandlesBetween(ctx context.Context, productID, granularity string, start, end time.Time) ([]candle.Candle, error)
	BestBidAsk(ctx context.Context, productIDs []string) (map[string]market.Quote, error)
	// MarketTrades returns the most recent tape prints, newest first.
	MarketTrades(ctx context.Context, productID string, limit int) ([]market.Trade, error)
	LatestPrice(ctx context.Context, productID string) (float64, error)
	PreviewOrder(ctx context.Context, req OrderRequest) (Preview, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Placed, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)
	Fills(ctx context.Context, orderID string) ([]order.Fill, error)
	TransactionSummary(ctx context.Context) (FeeSummary, error)
}

// OrderRequest describes an order to preview or place.
type OrderRequest struct {
	ClientOrderID string
	ProductID     string
	Side          string // order.SideBuy or order.SideSell
	Type          string // one of the order.Type* constants
	BaseSize      float64
	LimitPrice    float64
	StopPrice     float64
}

// Placed is the exchange's acknowledgement of a submitted order.
type Placed struct {
	OrderID       string
	ClientOrderID string
	ProductID     string
	Side          string
	CreatedAt     time.Time
}

// OrderState is the authoritative order status reported by the exchange.
type OrderState struct {
	OrderID        string
	ProductID      string
	Side           string
	Status         order.Status
	RawStatus      string
	FilledSize     float64
	AvgFilledPrice float64
	TotalFees      float64
	CreatedAt      time.Time
}

// Preview is the non-binding cost estimate for an order.
type Preview struct {
	BaseSize        float64
	QuoteSize       float64
	CommissionTotal float64
	SlippagePct     float64
	BestBid         float64
	BestAsk         float64
	AvgFillPrice    float64
	OrderTotal      float64
	Errs            []string
}

// FeeSummary reports traded volume and fees for the current period.
type FeeSummary struct {
	TotalVolume    float64
	TotalFees      float64
	MakerFeeRate   float64
	TakerFeeRate   float64
	AdvancedVolume float64
	AdvancedFees   float64
}

// APIError is a non-2xx response from the exchange REST API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("exchange api status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange api status %d: %s", e.Status, e.Message)
}

// Temporary reports whether the request may succeed if repeated: rate
// limits and server-side failures, not client errors.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// retryable reports whether an error is worth another attempt.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// Network-level failures without a status are assumed transient.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// retry wraps a function with retry logic for transient errors, using
// exponential backoff capped at 5 minutes.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || i == attempts {
			return lastErr
		}
		utils.GetLogger().Printf("Exchange | Retry attempt %d/%d failed: %v. Backing off for %v", i, attempts, lastErr, backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff < 5*time.Minute {
			backoff *= 2
			if backoff > 5*time.Minute {
				backoff = 5 * time.Minute
			}
		}
	}
	return lastErr
}
