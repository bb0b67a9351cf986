package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/strategy"
)

type fakeFetcher struct {
	mu      sync.Mutex
	candles map[string]int // product id -> how many candles to return
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) Candles(ctx context.Context, productID, granularity string, count int) ([]candle.Candle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, productID)
	f.mu.Unlock()

	if err := f.errs[productID]; err != nil {
		return nil, err
	}
	n, ok := f.candles[productID]
	if !ok {
		n = count
	}
	out := make([]candle.Candle, n)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = candle.Candle{
			ProductID:   productID,
			Granularity: granularity,
			Start:       start.Add(time.Duration(i) * 15 * time.Minute),
			Open:        100, High: 101, Low: 99, Close: 100, Volume: 1,
		}
	}
	return out, nil
}

type fakeStrategy struct {
	mu      sync.Mutex
	signals map[string]strategy.Signal
	errs    map[string]error
	calls   []string
}

func (s *fakeStrategy) Name() string      { return "fake" }
func (s *fakeStrategy) WarmupPeriod() int { return 26 }

func (s *fakeStrategy) Analyze(ctx context.Context, productID string, candles []candle.Candle) (strategy.Signal, error) {
	s.mu.Lock()
	s.calls = append(s.calls, productID)
	s.mu.Unlock()

	if err := s.errs[productID]; err != nil {
		return strategy.Signal{}, err
	}
	sig, ok := s.signals[productID]
	if !ok {
		sig = strategy.Signal{ProductID: productID, Action: strategy.Hold}
	}
	return sig, nil
}

func buySignal(productID string, confidence float64) strategy.Signal {
	return strategy.Signal{
		ProductID:  productID,
		Action:     strategy.Buy,
		Confidence: confidence,
		Reasons:    []string{"test"},
		Price:      100,
		Strategy:   "fake",
		Time:       time.Now().UTC(),
	}
}

func usdProduct(base string) market.Product {
	return market.Product{
		ProductID:     base + "-USD",
		BaseCurrency:  base,
		QuoteCurrency: "USD",
		Status:        "online",
	}
}

func TestScanRanksCandidatesByConfidence(t *testing.T) {
	fetcher := &fakeFetcher{}
	strat := &fakeStrategy{signals: map[string]strategy.Signal{
		"BTC-USD": buySignal("BTC-USD", 0.55),
		"ETH-USD": buySignal("ETH-USD", 0.80),
		"SOL-USD": buySignal("SOL-USD", 0.65),
		"ADA-USD": {ProductID: "ADA-USD", Action: strategy.Hold, Confidence: 0.9},
	}}
	s := New(DefaultConfig(), fetcher, strat)

	products := []market.Product{
		usdProduct("BTC"), usdProduct("ETH"), usdProduct("SOL"), usdProduct("ADA"),
	}
	got, err := s.Scan(context.Background(), products)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "ETH-USD", got[0].Signal.ProductID)
	assert.Equal(t, "SOL-USD", got[1].Signal.ProductID)
	assert.Equal(t, "BTC-USD", got[2].Signal.ProductID)

	assert.True(t, got[0].AboveThreshold)
	assert.True(t, got[1].AboveThreshold)
	assert.False(t, got[2].AboveThreshold, "0.55 is under the 0.6 bar")
}

func TestScanSkipsThinHistory(t *testing.T) {
	fetcher := &fakeFetcher{candles: map[string]int{"NEW-USD": 10}}
	strat := &fakeStrategy{signals: map[string]strategy.Signal{
		"NEW-USD": buySignal("NEW-USD", 0.9),
		"BTC-USD": buySignal("BTC-USD", 0.7),
	}}
	s := New(DefaultConfig(), fetcher, strat)

	got, err := s.Scan(context.Background(), []market.Product{usdProduct("NEW"), usdProduct("BTC")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC-USD", got[0].Signal.ProductID)
	assert.NotContains(t, strat.calls, "NEW-USD", "thin history must not reach the strategy")
}

func TestScanToleratesPerProductFailures(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{"BAD-USD": errors.New("rate limited")}}
	strat := &fakeStrategy{
		signals: map[string]strategy.Signal{"BTC-USD": buySignal("BTC-USD", 0.7)},
		errs:    map[string]error{"UGLY-USD": errors.New("nan in series")},
	}
	s := New(DefaultConfig(), fetcher, strat)

	got, err := s.Scan(context.Background(), []market.Product{
		usdProduct("BAD"), usdProduct("UGLY"), usdProduct("BTC"),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC-USD", got[0].Signal.ProductID)
}

func TestScanCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{}
	strat := &fakeStrategy{}
	s := New(DefaultConfig(), fetcher, strat)

	_, err := s.Scan(ctx, []market.Product{usdProduct("BTC")})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, strat.calls)
}

func TestScanEmptyProductList(t *testing.T) {
	s := New(DefaultConfig(), &fakeFetcher{}, &fakeStrategy{})
	got, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScanHoldingsBuckets(t *testing.T) {
	fetcher := &fakeFetcher{}
	strat := &fakeStrategy{signals: map[string]strategy.Signal{
		"BTC-USD": {ProductID: "BTC-USD", Action: strategy.Sell, Confidence: 0.7},
		"ETH-USD": {ProductID: "ETH-USD", Action: strategy.Hold, Confidence: 0.5},
		"SOL-USD": buySignal("SOL-USD", 0.8),
	}}
	s := New(DefaultConfig(), fetcher, strat)

	balances := map[string]market.Balance{
		"BTC":  {Asset: "BTC", Available: 0.1, Value: 5000},
		"ETH":  {Asset: "ETH", Available: 1, Value: 2000},
		"SOL":  {Asset: "SOL", Available: 10, Value: 1500},
		"USDC": {Asset: "USDC", Available: 900, Value: 900},
		"DOGE": {Asset: "DOGE", Available: 4, Value: 1.2},
	}
	products := []market.Product{
		usdProduct("BTC"), usdProduct("ETH"), usdProduct("SOL"), usdProduct("DOGE"),
	}

	sells, holds, err := s.ScanHoldings(context.Background(), balances, products)
	require.NoError(t, err)

	require.Len(t, sells, 1)
	assert.Equal(t, "BTC", sells[0].Asset)
	assert.Equal(t, strategy.Sell, sells[0].Signal.Action)

	// A buy verdict on something already held stays a hold.
	require.Len(t, holds, 2)
	assert.Equal(t, "ETH", holds[0].Asset, "holds sorted by value, largest first")
	assert.Equal(t, "SOL", holds[1].Asset)

	assert.NotContains(t, fetcher.calls, "DOGE-USD", "dust below the value floor is skipped")
}

func TestScanHoldingsPrefersUSDQuote(t *testing.T) {
	fetcher := &fakeFetcher{}
	strat := &fakeStrategy{signals: map[string]strategy.Signal{
		"BTC-USD": {ProductID: "BTC-USD", Action: strategy.Sell, Confidence: 0.7},
	}}
	s := New(DefaultConfig(), fetcher, strat)

	products := []market.Product{
		{ProductID: "BTC-USDC", BaseCurrency: "BTC", QuoteCurrency: "USDC", Status: "online"},
		usdProduct("BTC"),
	}
	balances := map[string]market.Balance{
		"BTC": {Asset: "BTC", Available: 0.1, Value: 5000},
	}

	sells, _, err := s.ScanHoldings(context.Background(), balances, products)
	require.NoError(t, err)
	require.Len(t, sells, 1)
	assert.Equal(t, "BTC-USD", sells[0].ProductID)
}

func TestScanHoldingsNoEligibleAssets(t *testing.T) {
	s := New(DefaultConfig(), &fakeFetcher{}, &fakeStrategy{})
	balances := map[string]market.Balance{
		"USD":  {Asset: "USD", Available: 1000, Value: 1000},
		"USDC": {Asset: "USDC", Available: 500, Value: 500},
	}
	sells, holds, err := s.ScanHoldings(context.Background(), balances, []market.Product{usdProduct("BTC")})
	require.NoError(t, err)
	assert.Empty(t, sells)
	assert.Empty(t, holds)
}
