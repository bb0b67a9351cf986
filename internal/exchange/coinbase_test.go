package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/order"
)

func newTestClient(t *testing.T, handler http.Handler) *Coinbase {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds, _ := testCredentials(t)
	client, err := NewCoinbase(creds)
	require.NoError(t, err)
	client.baseURL = srv.URL
	client.http = srv.Client()
	return client
}

func TestCoinbasePortfolioIDPrefersDefaultAndCaches(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/portfolios", func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"portfolios": [
			{"name": "consumer", "uuid": "c-1", "type": "CONSUMER"},
			{"name": "default", "uuid": "d-1", "type": "DEFAULT"}
		]}`)
	})
	client := newTestClient(t, mux)

	id, err := client.PortfolioID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "d-1", id)

	id, err = client.PortfolioID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "d-1", id)
	assert.Equal(t, 1, hits)
}

func TestCoinbaseBalancesFiltersDustAndSmallValue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/portfolios/d-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"breakdown": {"spot_positions": [
			{"asset": "BTC", "total_balance_crypto": 0.5, "total_balance_fiat": 32500.0, "available_to_trade_crypto": 0.4, "is_cash": false},
			{"asset": "USD", "total_balance_crypto": 1200.0, "total_balance_fiat": 1200.0, "available_to_trade_crypto": 1200.0, "is_cash": true},
			{"asset": "ATOM", "total_balance_crypto": 1e-9, "total_balance_fiat": 0.0, "available_to_trade_crypto": 1e-9, "is_cash": false},
			{"asset": "SHIB", "total_balance_crypto": 100000.0, "total_balance_fiat": 2.5, "available_to_trade_crypto": 100000.0, "is_cash": false}
		]}}`)
	})
	client := newTestClient(t, mux)

	balances, err := client.Balances(context.Background(), "d-1", 5)
	require.NoError(t, err)
	require.Len(t, balances, 2)

	btc := balances["BTC"]
	assert.InDelta(t, 0.4, btc.Available, 1e-9)
	assert.InDelta(t, 0.1, btc.Hold, 1e-9)
	assert.InDelta(t, 32500.0, btc.Value, 1e-9)

	usd := balances["USD"]
	assert.InDelta(t, 1200.0, usd.Available, 1e-9)
	assert.InDelta(t, 0.0, usd.Hold, 1e-9)
}

func TestCoinbaseTradableProductsNeedsQuoteBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"products": [
			{"product_id": "BTC-USD", "price": "65000", "base_currency_id": "BTC", "quote_currency_id": "USD", "status": "online"},
			{"product_id": "ETH-BTC", "price": "0.05", "base_currency_id": "ETH", "quote_currency_id": "BTC", "status": "online"},
			{"product_id": "DOGE-USD", "price": "0.1", "base_currency_id": "DOGE", "quote_currency_id": "USD", "status": "offline"},
			{"product_id": "SOL-USD", "price": "150", "base_currency_id": "SOL", "quote_currency_id": "USD", "status": "online", "trading_disabled": true}
		]}`)
	})
	client := newTestClient(t, mux)

	balances := map[string]market.Balance{"USD": {Asset: "USD", Available: 1000}}
	products, err := client.TradableProducts(context.Background(), balances)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "BTC-USD", products[0].ProductID)
	assert.Equal(t, 65000.0, products[0].Price)
}

func TestCoinbaseCandlesSortedOldestFirst(t *testing.T) {
	var gotQuery url.Values
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/products/BTC-USD/candles", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		// The API returns newest first.
		fmt.Fprint(w, `{"candles": [
			{"start": "1750000900", "low": "99", "high": "103", "open": "100", "close": "102", "volume": "12.5"},
			{"start": "1750000000", "low": "98", "high": "101", "open": "99", "close": "100", "volume": "7.25"}
		]}`)
	})
	client := newTestClient(t, mux)

	candles, err := client.Candles(context.Background(), "BTC-USD", candle.FifteenMinute, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	assert.Equal(t, candle.FifteenMinute, gotQuery.Get("granularity"))
	assert.NotEmpty(t, gotQuery.Get("start"))
	assert.NotEmpty(t, gotQuery.Get("end"))

	assert.Equal(t, int64(1750000000), candles[0].Start.Unix())
	assert.Equal(t, int64(1750000900), candles[1].Start.Unix())
	assert.Equal(t, 100.0, candles[0].Close)
	assert.Equal(t, 7.25, candles[0].Volume)
	assert.Equal(t, "BTC-USD", candles[0].ProductID)
	assert.Equal(t, candle.FifteenMinute, candles[0].Granularity)
}

func TestCoinbaseBestBidAskTakesTopOfBook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/best_bid_ask", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pricebooks": [
			{"product_id": "BTC-USD", "bids": [{"price": "64990.10", "size": "0.5"}, {"price": "64980", "size": "1"}], "asks": [{"price": "65010.20", "size": "0.25"}], "time": "2025-06-01T10:00:00Z"}
		]}`)
	})
	client := newTestClient(t, mux)

	quotes, err := client.BestBidAsk(context.Background(), []string{"BTC-USD"})
	require.NoError(t, err)
	require.Contains(t, quotes, "BTC-USD")

	q := quotes["BTC-USD"]
	assert.Equal(t, 64990.10, q.Bid)
	assert.Equal(t, 65010.20, q.Ask)
	assert.False(t, q.Time.IsZero())
}

func TestCoinbasePlaceLimitOrder(t *testing.T) {
	var got createOrderRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"success": true, "success_response": {"order_id": "ord-1", "product_id": "BTC-USD", "side": "BUY", "client_order_id": "client-1"}}`)
	})
	client := newTestClient(t, mux)

	placed, err := client.PlaceOrder(context.Background(), OrderRequest{
		ClientOrderID: "client-1",
		ProductID:     "BTC-USD",
		Side:          order.SideBuy,
		Type:          order.TypeLimitGTCPostOnly,
		BaseSize:      0.005,
		LimitPrice:    64999.99,
	})
	require.NoError(t, err)

	assert.Equal(t, "ord-1", placed.OrderID)
	assert.Equal(t, "client-1", placed.ClientOrderID)
	require.NotNil(t, got.OrderConfiguration.LimitGTC)
	assert.Equal(t, "0.005", got.OrderConfiguration.LimitGTC.BaseSize)
	assert.Equal(t, "64999.99", got.OrderConfiguration.LimitGTC.LimitPrice)
	assert.True(t, got.OrderConfiguration.LimitGTC.PostOnly)
	assert.Equal(t, "client-1", got.ClientOrderID)
}

func TestCoinbasePlaceOrderRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "error_response": {"error": "INSUFFICIENT_FUND", "message": "Insufficient balance in source account"}}`)
	})
	client := newTestClient(t, mux)

	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		ProductID:  "BTC-USD",
		Side:       order.SideBuy,
		Type:       order.TypeLimitGTC,
		BaseSize:   1,
		LimitPrice: 100,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSUFFICIENT_FUND")
	assert.Contains(t, err.Error(), "Insufficient balance")
}

func TestCoinbaseCancelOrderReportsFailureReason(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders/batch_cancel", func(w http.ResponseWriter, r *http.Request) {
		var req batchCancelRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.OrderIDs) > 0 && req.OrderIDs[0] == "good" {
			fmt.Fprint(w, `{"results": [{"success": true, "order_id": "good"}]}`)
			return
		}
		fmt.Fprint(w, `{"results": [{"success": false, "failure_reason": "UNKNOWN_CANCEL_ORDER", "order_id": "bad"}]}`)
	})
	client := newTestClient(t, mux)

	require.NoError(t, client.CancelOrder(context.Background(), "good"))

	err := client.CancelOrder(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNKNOWN_CANCEL_ORDER")
}

func TestCoinbaseOrderStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders/historical/ord-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"order": {"order_id": "ord-1", "product_id": "BTC-USD", "side": "BUY", "status": "FILLED", "filled_size": "0.005", "average_filled_price": "64999.10", "total_fees": "1.17", "created_time": "2025-06-01T10:00:00Z"}}`)
	})
	client := newTestClient(t, mux)

	state, err := client.OrderStatus(context.Background(), "ord-1")
	require.NoError(t, err)

	assert.Equal(t, order.StatusFilled, state.Status)
	assert.Equal(t, "FILLED", state.RawStatus)
	assert.InDelta(t, 0.005, state.FilledSize, 1e-9)
	assert.InDelta(t, 64999.10, state.AvgFilledPrice, 1e-9)
	assert.InDelta(t, 1.17, state.TotalFees, 1e-9)
}

func TestCoinbaseFills(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders/historical/fills", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ord-1", r.URL.Query().Get("order_id"))
		fmt.Fprint(w, `{"fills": [
			{"trade_id": "t-1", "order_id": "ord-1", "product_id": "BTC-USD", "price": "64999.00", "size": "0.003", "commission": "0.70", "liquidity_indicator": "MAKER", "trade_time": "2025-06-01T10:00:01Z"},
			{"trade_id": "t-2", "order_id": "ord-1", "product_id": "BTC-USD", "price": "64999.50", "size": "0.002", "commission": "0.47", "liquidity_indicator": "MAKER", "trade_time": "2025-06-01T10:00:02Z"}
		]}`)
	})
	client := newTestClient(t, mux)

	fills, err := client.Fills(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Len(t, fills, 2)

	summary := order.SummarizeFills(fills)
	assert.InDelta(t, 0.005, summary.TotalSize, 1e-9)
	assert.InDelta(t, 1.17, summary.Commission, 1e-9)
	assert.Equal(t, 2, summary.MakerFills)
}

func TestCoinbaseAPIErrorCarriesStatusAndCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/products/NOPE-USD", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "NOT_FOUND", "message": "Product not found"}`)
	})
	client := newTestClient(t, mux)

	_, err := client.Product(context.Background(), "NOPE-USD")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.False(t, apiErr.Temporary())

	assert.True(t, (&APIError{Status: http.StatusBadGateway}).Temporary())
	assert.True(t, (&APIError{Status: http.StatusTooManyRequests}).Temporary())
}
