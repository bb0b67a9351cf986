package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/order"
)

// Advanced Trade serializes most numeric fields as JSON strings.
// flexFloat accepts either form so one DTO covers both.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse numeric field %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// formatNum renders a size or price the way the API expects: a decimal
// string with no exponent and no trailing zeros.
func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type portfolioDTO struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
	Type string `json:"type"`
}

type portfoliosResponse struct {
	Portfolios []portfolioDTO `json:"portfolios"`
}

type spotPositionDTO struct {
	Asset                  string    `json:"asset"`
	TotalBalanceCrypto     flexFloat `json:"total_balance_crypto"`
	TotalBalanceFiat       flexFloat `json:"total_balance_fiat"`
	AvailableToTradeCrypto flexFloat `json:"available_to_trade_crypto"`
	IsCash                 bool      `json:"is_cash"`
}

type portfolioBreakdownResponse struct {
	Breakdown struct {
		SpotPositions []spotPositionDTO `json:"spot_positions"`
	} `json:"breakdown"`
}

func (p spotPositionDTO) toBalance() market.Balance {
	total := float64(p.TotalBalanceCrypto)
	available := float64(p.AvailableToTradeCrypto)
	hold := total - available
	if hold < 0 {
		hold = 0
	}
	return market.Balance{
		Asset:     p.Asset,
		Available: available,
		Hold:      hold,
		Value:     float64(p.TotalBalanceFiat),
	}
}

type productDTO struct {
	ProductID       string    `json:"product_id"`
	Price           flexFloat `json:"price"`
	BaseCurrencyID  string    `json:"base_currency_id"`
	QuoteCurrencyID string    `json:"quote_currency_id"`
	Status          string    `json:"status"`
	BaseMinSize     flexFloat `json:"base_min_size"`
	BaseIncrement   flexFloat `json:"base_increment"`
	QuoteIncrement  flexFloat `json:"quote_increment"`
	TradingDisabled bool      `json:"trading_disabled"`
	IsDisabled      bool      `json:"is_disabled"`
	ViewOnly        bool      `json:"view_only"`
}

type productsResponse struct {
	Products []productDTO `json:"products"`
}

func (p productDTO) toProduct() market.Product {
	return market.Product{
		ProductID:       p.ProductID,
		BaseCurrency:    p.BaseCurrencyID,
		QuoteCurrency:   p.QuoteCurrencyID,
		Status:          p.Status,
		Price:           float64(p.Price),
		BaseMinSize:     float64(p.BaseMinSize),
		BaseIncrement:   float64(p.BaseIncrement),
		QuoteIncrement:  float64(p.QuoteIncrement),
		TradingDisabled: p.TradingDisabled,
		IsDisabled:      p.IsDisabled,
		ViewOnly:        p.ViewOnly,
	}
}

type candleDTO struct {
	Start  string    `json:"start"`
	Low    flexFloat `json:"low"`
	High   flexFloat `json:"high"`
	Open   flexFloat `json:"open"`
	Close  flexFloat `json:"close"`
	Volume flexFloat `json:"volume"`
}

type candlesResponse struct {
	Candles []candleDTO `json:"candles"`
}

func (c candleDTO) toCandle(productID, granularity string) (candle.Candle, error) {
	sec, err := strconv.ParseInt(c.Start, 10, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("candle start %q: %w", c.Start, err)
	}
	return candle.Candle{
		Start:       time.Unix(sec, 0).UTC(),
		Open:        float64(c.Open),
		High:        float64(c.High),
		Low:         float64(c.Low),
		Close:       float64(c.Close),
		Volume:      float64(c.Volume),
		ProductID:   productID,
		Granularity: granularity,
	}, nil
}

type marketTradeDTO struct {
	TradeID   string    `json:"trade_id"`
	ProductID string    `json:"product_id"`
	Price     flexFloat `json:"price"`
	Size      flexFloat `json:"size"`
	Side      string    `json:"side"`
	Time      time.Time `json:"time"`
}

type marketTradesResponse struct {
	Trades  []marketTradeDTO `json:"trades"`
	BestBid flexFloat        `json:"best_bid"`
	BestAsk flexFloat        `json:"best_ask"`
}

func (t marketTradeDTO) toTrade() market.Trade {
	return market.Trade{
		TradeID:   t.TradeID,
		ProductID: t.ProductID,
		Price:     float64(t.Price),
		Size:      float64(t.Size),
		Side:      t.Side,
		Time:      t.Time,
	}
}

type priceLevelDTO struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

type pricebookDTO struct {
	ProductID string          `json:"product_id"`
	Bids      []priceLevelDTO `json:"bids"`
	Asks      []priceLevelDTO `json:"asks"`
	Time      time.Time       `json:"time"`
}

type bestBidAskResponse struct {
	Pricebooks []pricebookDTO `json:"pricebooks"`
}

func (p pricebookDTO) toQuote() market.Quote {
	q := market.Quote{ProductID: p.ProductID, Time: p.Time}
	if len(p.Bids) > 0 {
		q.Bid = float64(p.Bids[0].Price)
	}
	if len(p.Asks) > 0 {
		q.Ask = float64(p.Asks[0].Price)
	}
	return q
}

type limitGTCConfig struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	PostOnly   bool   `json:"post_only"`
}

type marketIOCConfig struct {
	BaseSize  string `json:"base_size,omitempty"`
	QuoteSize string `json:"quote_size,omitempty"`
}

type stopLimitGTCConfig struct {
	BaseSize      string `json:"base_size"`
	LimitPrice    string `json:"limit_price"`
	StopPrice     string `json:"stop_price"`
	StopDirection string `json:"stop_direction"`
}

type orderConfiguration struct {
	LimitGTC  *limitGTCConfig     `json:"limit_limit_gtc,omitempty"`
	MarketIOC *marketIOCConfig    `json:"market_market_ioc,omitempty"`
	StopLimit *stopLimitGTCConfig `json:"stop_limit_stop_limit_gtc,omitempty"`
}

func buildOrderConfiguration(req OrderRequest) (orderConfiguration, error) {
	if req.BaseSize <= 0 {
		return orderConfiguration{}, fmt.Errorf("order %s %s: base size must be positive", req.Side, req.ProductID)
	}
	switch req.Type {
	case order.TypeLimitGTC, order.TypeLimitGTCPostOnly:
		if req.LimitPrice <= 0 {
			return orderConfiguration{}, fmt.Errorf("limit order %s: limit price must be positive", req.ProductID)
		}
		return orderConfiguration{LimitGTC: &limitGTCConfig{
			BaseSize:   formatNum(req.BaseSize),
			LimitPrice: formatNum(req.LimitPrice),
			PostOnly:   req.Type == order.TypeLimitGTCPostOnly,
		}}, nil
	case order.TypeMarket:
		return orderConfiguration{MarketIOC: &marketIOCConfig{
			BaseSize: formatNum(req.BaseSize),
		}}, nil
	case order.TypeStopLimit:
		if req.LimitPrice <= 0 || req.StopPrice <= 0 {
			return orderConfiguration{}, fmt.Errorf("stop-limit order %s: stop and limit prices must be positive", req.ProductID)
		}
		direction := "STOP_DIRECTION_STOP_DOWN"
		if req.Side == order.SideBuy {
			direction = "STOP_DIRECTION_STOP_UP"
		}
		return orderConfiguration{StopLimit: &stopLimitGTCConfig{
			BaseSize:      formatNum(req.BaseSize),
			LimitPrice:    formatNum(req.LimitPrice),
			StopPrice:     formatNum(req.StopPrice),
			StopDirection: direction,
		}}, nil
	default:
		return orderConfiguration{}, fmt.Errorf("unsupported order type %q", req.Type)
	}
}

type createOrderRequest struct {
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	OrderConfiguration orderConfiguration `json:"order_configuration"`
}

type createOrderResponse struct {
	Success         bool `json:"success"`
	SuccessResponse struct {
		OrderID       string `json:"order_id"`
		ProductID     string `json:"product_id"`
		Side          string `json:"side"`
		ClientOrderID string `json:"client_order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error                string `json:"error"`
		Message              string `json:"message"`
		ErrorDetails         string `json:"error_details"`
		PreviewFailureReason string `json:"preview_failure_reason"`
	} `json:"error_response"`
}

type previewOrderRequest struct {
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	OrderConfiguration orderConfiguration `json:"order_configuration"`
}

type previewOrderResponse struct {
	OrderTotal         flexFloat `json:"order_total"`
	CommissionTotal    flexFloat `json:"commission_total"`
	Errs               []string  `json:"errs"`
	QuoteSize          flexFloat `json:"quote_size"`
	BaseSize           flexFloat `json:"base_size"`
	BestBid            flexFloat `json:"best_bid"`
	BestAsk            flexFloat `json:"best_ask"`
	AverageFilledPrice flexFloat `json:"average_filled_price"`
	Slippage           flexFloat `json:"slippage"`
}

func (p previewOrderResponse) toPreview() Preview {
	return Preview{
		BaseSize:        float64(p.BaseSize),
		QuoteSize:       float64(p.QuoteSize),
		CommissionTotal: float64(p.CommissionTotal),
		SlippagePct:     float64(p.Slippage),
		BestBid:         float64(p.BestBid),
		BestAsk:         float64(p.BestAsk),
		AvgFillPrice:    float64(p.AverageFilledPrice),
		OrderTotal:      float64(p.OrderTotal),
		Errs:            p.Errs,
	}
}

type batchCancelRequest struct {
	OrderIDs []string `json:"order_ids"`
}

type batchCancelResponse struct {
	Results []struct {
		Success       bool   `json:"success"`
		FailureReason string `json:"failure_reason"`
		OrderID       string `json:"order_id"`
	} `json:"results"`
}

type historicalOrderResponse struct {
	Order struct {
		OrderID            string    `json:"order_id"`
		ProductID          string    `json:"product_id"`
		Side               string    `json:"side"`
		Status             string    `json:"status"`
		FilledSize         flexFloat `json:"filled_size"`
		AverageFilledPrice flexFloat `json:"average_filled_price"`
		TotalFees          flexFloat `json:"total_fees"`
		CreatedTime        time.Time `json:"created_time"`
	} `json:"order"`
}

func (h historicalOrderResponse) toOrderState() OrderState {
	o := h.Order
	return OrderState{
		OrderID:        o.OrderID,
		ProductID:      o.ProductID,
		Side:           o.Side,
		Status:         order.ParseExchangeStatus(o.Status),
		RawStatus:      o.Status,
		FilledSize:     float64(o.FilledSize),
		AvgFilledPrice: float64(o.AverageFilledPrice),
		TotalFees:      float64(o.TotalFees),
		CreatedAt:      o.CreatedTime,
	}
}

type fillDTO struct {
	TradeID            string    `json:"trade_id"`
	OrderID            string    `json:"order_id"`
	ProductID          string    `json:"product_id"`
	Price              flexFloat `json:"price"`
	Size               flexFloat `json:"size"`
	Commission         flexFloat `json:"commission"`
	LiquidityIndicator string    `json:"liquidity_indicator"`
	TradeTime          time.Time `json:"trade_time"`
}

type fillsResponse struct {
	Fills []fillDTO `json:"fills"`
}

func (f fillDTO) toFill() order.Fill {
	return order.Fill{
		TradeID:            f.TradeID,
		OrderID:            f.OrderID,
		ProductID:          f.ProductID,
		Price:              float64(f.Price),
		Size:               float64(f.Size),
		Commission:         float64(f.Commission),
		LiquidityIndicator: f.LiquidityIndicator,
		Time:               f.TradeTime,
	}
}

type transactionSummaryResponse struct {
	TotalVolume             flexFloat `json:"total_volume"`
	TotalFees               flexFloat `json:"total_fees"`
	AdvancedTradeOnlyVolume flexFloat `json:"advanced_trade_only_volume"`
	AdvancedTradeOnlyFees   flexFloat `json:"advanced_trade_only_fees"`
	FeeTier                 struct {
		MakerFeeRate flexFloat `json:"maker_fee_rate"`
		TakerFeeRate flexFloat `json:"taker_fee_rate"`
	} `json:"fee_tier"`
}

func (t transactionSummaryResponse) toFeeSummary() FeeSummary {
	return FeeSummary{
		TotalVolume:    float64(t.TotalVolume),
		TotalFees:      float64(t.TotalFees),
		MakerFeeRate:   float64(t.FeeTier.MakerFeeRate),
		TakerFeeRate:   float64(t.FeeTier.TakerFeeRate),
		AdvancedVolume: float64(t.AdvancedTradeOnlyVolume),
		AdvancedFees:   float64(t.AdvancedTradeOnlyFees),
	}
}

type apiErrorBody struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	ErrorDetails string `json:"error_details"`
}
