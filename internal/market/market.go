// Package market holds the exchange-facing data types shared across the
// bot: products, quotes, balances, and the public trade tape.
package market

import (
	"math"
	"strings"
	"time"
)

// Product represents an exchange trading pair and its trading rules.
type Product struct {
	ProductID       string  `json:"product_id"`
	BaseCurrency    string  `json:"base_currency_id"`
	QuoteCurrency   string  `json:"quote_currency_id"`
	Status          string  `json:"status"`
	Price           float64 `json:"price"`
	BaseMinSize     float64 `json:"base_min_size"`
	BaseIncrement   float64 `json:"base_increment"`
	QuoteIncrement  float64 `json:"quote_increment"`
	TradingDisabled bool    `json:"trading_disabled"`
	IsDisabled      bool    `json:"is_disabled"`
	ViewOnly        bool    `json:"view_only"`
}

// Tradable reports whether the product is eligible for scanning: a USD or
// USDC quote, online, and not disabled or view-only.
func (p *Product) Tradable() bool {
	if p.QuoteCurrency != "USD" && p.QuoteCurrency != "USDC" {
		return false
	}
	return p.Status == "online" && !p.TradingDisabled && !p.IsDisabled && !p.ViewOnly
}

// BaseAsset extracts the base currency from a product id like "BTC-USD".
func BaseAsset(productID string) string {
	if i := strings.Index(productID, "-"); i > 0 {
		return productID[:i]
	}
	return productID
}

// QuoteAsset extracts the quote currency from a product id like "BTC-USD".
func QuoteAsset(productID string) string {
	if i := strings.Index(productID, "-"); i >= 0 && i+1 < len(productID) {
		return productID[i+1:]
	}
	return ""
}

// QuantizeToIncrement rounds size down to a multiple of the venue's base
// increment. The epsilon keeps float division from shaving a whole
// increment off an exact multiple.
func QuantizeToIncrement(size, increment float64) float64 {
	if increment <= 0 {
		return size
	}
	return math.Floor(size/increment+1e-9) * increment
}

// Quote represents the top of book for a product.
type Quote struct {
	ProductID string    `json:"product_id"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Time      time.Time `json:"time"`
}

// Spread returns the absolute bid/ask spread.
func (q *Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// SpreadPct returns the spread as a percentage of the mid price, or 0 when
// the book is empty.
func (q *Quote) SpreadPct() float64 {
	mid := (q.Ask + q.Bid) / 2
	if mid <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid * 100
}

// Trade is a single print from the public market tape.
type Trade struct {
	TradeID   string    `json:"trade_id"`
	ProductID string    `json:"product_id"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      string    `json:"side"` // "BUY" or "SELL" (taker side)
	Time      time.Time `json:"time"`
}

// VolumeFlow aggregates recent tape prints into a buy-pressure reading.
type VolumeFlow struct {
	BuyVolume   float64 `json:"buy_volume"`
	SellVolume  float64 `json:"sell_volume"`
	BuyPressure float64 `json:"buy_pressure"` // buy volume / total volume, 0.5 when empty
	NetPressure string  `json:"net_pressure"` // "buy", "sell", or "neutral"
	TradeCount  int     `json:"trade_count"`
}

// AnalyzeVolumeFlow computes buy pressure from the taker side of each trade.
// With no volume it reports a neutral 0.5 so callers need no special case.
func AnalyzeVolumeFlow(trades []Trade) VolumeFlow {
	flow := VolumeFlow{BuyPressure: 0.5, NetPressure: "neutral", TradeCount: len(trades)}
	for _, t := range trades {
		if strings.EqualFold(t.Side, "BUY") {
			flow.BuyVolume += t.Size
		} else {
			flow.SellVolume += t.Size
		}
	}
	total := flow.BuyVolume + flow.SellVolume
	if total <= 0 {
		return flow
	}
	flow.BuyPressure = flow.BuyVolume / total
	switch {
	case flow.BuyPressure > 0.55:
		flow.NetPressure = "buy"
	case flow.BuyPressure < 0.45:
		flow.NetPressure = "sell"
	}
	return flow
}

// Balance represents an asset balance from the exchange.
type Balance struct {
	Asset     string  `json:"asset"`     // Asset symbol (e.g., "BTC", "USDC")
	Available float64 `json:"available"` // Available balance for trading
	Hold      float64 `json:"hold"`      // Balance locked in open orders
	Value     float64 `json:"value"`     // Fiat value as reported by the exchange
}

// Total returns available plus held balance.
func (b *Balance) Total() float64 {
	return b.Available + b.Hold
}

// stablecoins are quote/cash assets excluded from holdings analysis.
var stablecoins = map[string]struct{}{
	"USD": {}, "USDC": {}, "DAI": {}, "USDT": {},
	"BUSD": {}, "EURC": {}, "TUSD": {}, "PYUSD": {},
}

// IsStablecoin reports whether the asset counts as cash rather than a holding.
func IsStablecoin(asset string) bool {
	_, ok := stablecoins[strings.ToUpper(asset)]
	return ok
}
