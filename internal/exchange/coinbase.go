package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/marketdata"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

const (
	defaultBaseURL = "https://api.coinbase.com/api/v3/brokerage"

	// maxCandlesPerRequest is the API's hard cap on candles per call.
	maxCandlesPerRequest = 300

	requestTimeout = 30 * time.Second
	retryAttempts  = 3
	retryDelay     = time.Second
)

// Coinbase is the live Advanced Trade client.
type Coinbase struct {
	signer  *signer
	http    *http.Client
	limiter *rateLimiter
	baseURL string
	cache   *marketdata.Cache
	logger  *log.Logger

	mu          sync.Mutex
	portfolioID string
}

// NewCoinbase builds a client from CDP API credentials.
func NewCoinbase(creds Credentials) (*Coinbase, error) {
	s, err := newSigner(creds)
	if err != nil {
		return nil, err
	}
	return &Coinbase{
		signer:  s,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: newRateLimiter(),
		baseURL: defaultBaseURL,
		logger:  utils.GetLogger(),
	}, nil
}

func (c *Coinbase) Name() string {
	return "coinbase"
}

// UseMarketData puts the websocket price cache in front of REST price
// lookups. Call before the engine starts; the field is not guarded.
func (c *Coinbase) UseMarketData(cache *marketdata.Cache) {
	c.cache = cache
}

// PortfolioID resolves the default portfolio UUID, caching it for the
// life of the client.
func (c *Coinbase) PortfolioID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.portfolioID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var resp portfoliosResponse
	if err := c.get(ctx, "/portfolios", nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Portfolios) == 0 {
		return "", fmt.Errorf("account has no portfolios")
	}
	id := resp.Portfolios[0].UUID
	for _, p := range resp.Portfolios {
		if p.Type == "DEFAULT" {
			id = p.UUID
			break
		}
	}

	c.mu.Lock()
	c.portfolioID = id
	c.mu.Unlock()
	return id, nil
}

func (c *Coinbase) Balances(ctx context.Context, portfolioID string, minValue float64) (map[string]market.Balance, error) {
	var resp portfolioBreakdownResponse
	if err := c.get(ctx, "/portfolios/"+portfolioID, nil, &resp); err != nil {
		return nil, err
	}
	balances := make(map[string]market.Balance)
	for _, pos := range resp.Breakdown.SpotPositions {
		b := pos.toBalance()
		if b.Total() <= 1e-8 || b.Value < minValue {
			continue
		}
		balances[b.Asset] = b
	}
	return balances, nil
}

func (c *Coinbase) TradableProducts(ctx context.Context, balances map[string]market.Balance) ([]market.Product, error) {
	var resp productsResponse
	if err := c.get(ctx, "/products", nil, &resp); err != nil {
		return nil, err
	}
	products := make([]market.Product, 0, len(resp.Products))
	for _, dto := range resp.Products {
		p := dto.toProduct()
		if !p.Tradable() || p.BaseCurrency == p.QuoteCurrency {
			continue
		}
		if _, held := balances[p.QuoteCurrency]; !held {
			continue
		}
		products = append(products, p)
	}
	c.logger.Printf("Exchange | %d of %d products tradable with current balances", len(products), len(resp.Products))
	return products, nil
}

func (c *Coinbase) Product(ctx context.Context, productID string) (market.Product, error) {
	var dto productDTO
	if err := c.get(ctx, "/products/"+productID, nil, &dto); err != nil {
		return market.Product{}, err
	}
	return dto.toProduct(), nil
}

// Candles fetches up to count recent candles, oldest first. The API
// caps a single window at 300 candles.
func (c *Coinbase) Candles(ctx context.Context, productID, granularity string, count int) ([]candle.Candle, error) {
	bucket := candle.GranularityDuration(granularity)
	if bucket == 0 {
		return nil, fmt.Errorf("unsupported granularity %q", granularity)
	}
	if count <= 0 || count > maxCandlesPerRequest {
		count = maxCandlesPerRequest
	}
	end := time.Now().UTC()
	return c.CandlesBetween(ctx, productID, granularity, end.Add(-time.Duration(count)*bucket), end)
}

// CandlesBetween fetches the candles covering [start, end), oldest first.
// The window must span at most 300 buckets; callers page wider ranges
// themselves.
func (c *Coinbase) CandlesBetween(ctx context.Context, productID, granularity string, start, end time.Time) ([]candle.Candle, error) {
	if candle.GranularityDuration(granularity) == 0 {
		return nil, fmt.Errorf("unsupported granularity %q", granularity)
	}
	query := url.Values{
		"start":       {strconv.FormatInt(start.Unix(), 10)},
		"end":         {strconv.FormatInt(end.Unix(), 10)},
		"granularity": {granularity},
	}
	var resp candlesResponse
	if err := c.get(ctx, "/products/"+productID+"/candles", query, &resp); err != nil {
		return nil, err
	}
	candles := make([]candle.Candle, 0, len(resp.Candles))
	for _, dto := range resp.Candles {
		cdl, err := dto.toCandle(productID, granularity)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", productID, err)
		}
		candles = append(candles, cdl)
	}
	// The API returns newest first.
	candle.SortByStart(candles)
	return candles, nil
}

func (c *Coinbase) BestBidAsk(ctx context.Context, productIDs []string) (map[string]market.Quote, error) {
	var resp bestBidAskResponse
	if err := c.get(ctx, "/best_bid_ask", url.Values{"product_ids": productIDs}, &resp); err != nil {
		return nil, err
	}
	quotes := make(map[string]market.Quote, len(resp.Pricebooks))
	for _, book := range resp.Pricebooks {
		quotes[book.ProductID] = book.toQuote()
	}
	return quotes, nil
}

func (c *Coinbase) MarketTrades(ctx context.Context, productID string, limit int) ([]market.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	var resp marketTradesResponse
	if err := c.get(ctx, "/products/"+productID+"/ticker", query, &resp); err != nil {
		return nil, err
	}
	trades := make([]market.Trade, 0, len(resp.Trades))
	for _, dto := range resp.Trades {
		trades = append(trades, dto.toTrade())
	}
	return trades, nil
}

// LatestPrice prefers the websocket cache and falls back to a REST
// product lookup when the stream has no fresh print.
func (c *Coinbase) LatestPrice(ctx context.Context, productID string) (float64, error) {
	if c.cache != nil {
		if price, ok := c.cache.Price(productID); ok {
			return price, nil
		}
	}
	p, err := c.Product(ctx, productID)
	if err != nil {
		return 0, err
	}
	if p.Price <= 0 {
		return 0, fmt.Errorf("no price available for %s", productID)
	}
	return p.Price, nil
}

func (c *Coinbase) PreviewOrder(ctx context.Context, req OrderRequest) (Preview, error) {
	cfg, err := buildOrderConfiguration(req)
	if err != nil {
		return Preview{}, err
	}
	body := previewOrderRequest{
		ProductID:          req.ProductID,
		Side:               req.Side,
		OrderConfiguration: cfg,
	}
	var resp previewOrderResponse
	err = retry(ctx, retryAttempts, retryDelay, func() error {
		return c.do(ctx, http.MethodPost, "/orders/preview", nil, body, &resp)
	})
	if err != nil {
		return Preview{}, err
	}
	return resp.toPreview(), nil
}

// PlaceOrder submits an order. Placement is never retried: a timeout
// after the exchange accepted the order would double it.
func (c *Coinbase) PlaceOrder(ctx context.Context, req OrderRequest) (Placed, error) {
	cfg, err := buildOrderConfiguration(req)
	if err != nil {
		return Placed{}, err
	}
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}
	body := createOrderRequest{
		ClientOrderID:      clientOrderID,
		ProductID:          req.ProductID,
		Side:               req.Side,
		OrderConfiguration: cfg,
	}
	var resp createOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", nil, body, &resp); err != nil {
		return Placed{}, err
	}
	if !resp.Success {
		e := resp.ErrorResponse
		reason := e.Message
		if reason == "" {
			reason = e.ErrorDetails
		}
		if reason == "" {
			reason = e.PreviewFailureReason
		}
		return Placed{}, fmt.Errorf("order rejected for %s: %s %s", req.ProductID, e.Error, reason)
	}
	c.logger.Printf("Exchange | Placed %s %s %s, order id %s", req.Side, req.Type, req.ProductID, resp.SuccessResponse.OrderID)
	return Placed{
		OrderID:       resp.SuccessResponse.OrderID,
		ClientOrderID: resp.SuccessResponse.ClientOrderID,
		ProductID:     resp.SuccessResponse.ProductID,
		Side:          resp.SuccessResponse.Side,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (c *Coinbase) CancelOrder(ctx context.Context, orderID string) error {
	body := batchCancelRequest{OrderIDs: []string{orderID}}
	var resp batchCancelResponse
	err := retry(ctx, retryAttempts, retryDelay, func() error {
		return c.do(ctx, http.MethodPost, "/orders/batch_cancel", nil, body, &resp)
	})
	if err != nil {
		return err
	}
	if len(resp.Results) == 0 {
		return fmt.Errorf("cancel %s: empty response", orderID)
	}
	if r := resp.Results[0]; !r.Success {
		return fmt.Errorf("cancel %s: %s", orderID, r.FailureReason)
	}
	c.logger.Printf("Exchange | Cancelled order %s", orderID)
	return nil
}

func (c *Coinbase) OrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	var resp historicalOrderResponse
	if err := c.get(ctx, "/orders/historical/"+orderID, nil, &resp); err != nil {
		return OrderState{}, err
	}
	return resp.toOrderState(), nil
}

func (c *Coinbase) Fills(ctx context.Context, orderID string) ([]order.Fill, error) {
	var resp fillsResponse
	if err := c.get(ctx, "/orders/historical/fills", url.Values{"order_id": {orderID}}, &resp); err != nil {
		return nil, err
	}
	fills := make([]order.Fill, 0, len(resp.Fills))
	for _, dto := range resp.Fills {
		fills = append(fills, dto.toFill())
	}
	return fills, nil
}

func (c *Coinbase) TransactionSummary(ctx context.Context) (FeeSummary, error) {
	var resp transactionSummaryResponse
	if err := c.get(ctx, "/transaction_summary", nil, &resp); err != nil {
		return FeeSummary{}, err
	}
	return resp.toFeeSummary(), nil
}

// get wraps a read-only call with transient-error retries. Mutating
// calls go through do directly and decide retry policy per endpoint.
func (c *Coinbase) get(ctx context.Context, path string, query url.Values, out any) error {
	return retry(ctx, retryAttempts, retryDelay, func() error {
		return c.do(ctx, http.MethodGet, path, query, nil, out)
	})
}

func (c *Coinbase) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	// The uri claim binds the token to method, host, and path; the
	// query string stays out of it.
	token, err := c.signer.SignRequest(method, req.URL.Host, req.URL.Path)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.limiter.UpdateFromHeaders(resp.Header)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
		var eb apiErrorBody
		if json.Unmarshal(raw, &eb) == nil && (eb.Error != "" || eb.Message != "") {
			apiErr.Code = eb.Error
			apiErr.Message = eb.Message
			if apiErr.Message == "" {
				apiErr.Message = eb.ErrorDetails
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
