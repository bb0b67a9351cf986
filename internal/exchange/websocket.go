package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psreek-ai/coinbase-trader/internal/market"
	"github.com/psreek-ai/coinbase-trader/internal/marketdata"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/utils"
)

const feedURL = "wss://advanced-trade-ws.coinbase.com"

// ConnectionState represents the state of the websocket connection
// (for health checks and monitoring).
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

// OrderUpdate is an order event from the authenticated user channel.
type OrderUpdate struct {
	OrderID        string
	ClientOrderID  string
	ProductID      string
	Side           string
	Status         order.Status
	RawStatus      string
	FilledSize     float64
	AvgFilledPrice float64
	Time           time.Time
}

// Feed streams ticker prints into the shared market-data cache and
// order events to an optional callback. It reconnects with exponential
// backoff when the stream drops.
type Feed struct {
	cache    *marketdata.Cache
	products []string
	signer   *signer
	url      string
	logger   *log.Logger
	onOrder  func(OrderUpdate)

	mu         sync.RWMutex
	closed     bool
	state      ConnectionState
	conn       *websocket.Conn
	healthErr  error
	lastPing   time.Time
	lastPong   time.Time
	cancelFunc context.CancelFunc

	orderUpdates map[string]OrderUpdate
}

// NewFeed builds a public feed for the given products. Quote and price
// updates land in cache.
func NewFeed(cache *marketdata.Cache, productIDs []string) *Feed {
	return &Feed{
		cache:        cache,
		products:     productIDs,
		url:          feedURL,
		logger:       utils.GetLogger(),
		state:        Disconnected,
		orderUpdates: make(map[string]OrderUpdate),
	}
}

// UseCredentials enables the authenticated user channel so own-order
// events stream in alongside market data. Call before Start.
func (f *Feed) UseCredentials(creds Credentials) error {
	s, err := newSigner(creds)
	if err != nil {
		return err
	}
	f.signer = s
	return nil
}

// OnOrderUpdate registers a callback invoked for every user-channel
// order event. Call before Start; the field is not guarded.
func (f *Feed) OnOrderUpdate(fn func(OrderUpdate)) {
	f.onOrder = fn
}

// Start connects and streams until the context is cancelled or Close is
// called, reconnecting with backoff after failures.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state = Connecting
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	f.cancelFunc = cancel

	go func() {
		defer f.Close()
		retryDelay := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := f.connectAndStream(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					f.mu.Lock()
					f.state = Reconnecting
					f.healthErr = err
					f.mu.Unlock()
					f.logger.Printf("Feed | Disconnected, retrying in %v: %v", retryDelay, err)
					time.Sleep(retryDelay)
					if retryDelay < 60*time.Second {
						retryDelay *= 2
					} else {
						retryDelay = 60 * time.Second
					}
					continue
				}
				return
			}
		}
	}()
}

// Close shuts the feed down and drops the connection.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	if f.cancelFunc != nil {
		f.cancelFunc()
	}
	if f.conn != nil {
		f.conn.Close()
	}
	f.logger.Printf("Feed | Closed")
}

// IsConnected returns true if the websocket is connected.
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state == Connected && f.conn != nil
}

// Health returns the last connection error, if any.
func (f *Feed) Health() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.healthErr
}

// LastOrderUpdate returns the most recent user-channel event for an
// exchange order id.
func (f *Feed) LastOrderUpdate(orderID string) (OrderUpdate, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.orderUpdates[orderID]
	return u, ok
}

type wsSubscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids,omitempty"`
	Channel    string   `json:"channel"`
	JWT        string   `json:"jwt,omitempty"`
}

type wsMessage struct {
	Channel string    `json:"channel"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Events  []wsEvent `json:"events"`
}

type wsEvent struct {
	Type    string         `json:"type"`
	Tickers []wsTicker     `json:"tickers"`
	Orders  []wsOrderEvent `json:"orders"`
}

type wsTicker struct {
	ProductID string    `json:"product_id"`
	Price     flexFloat `json:"price"`
	BestBid   flexFloat `json:"best_bid"`
	BestAsk   flexFloat `json:"best_ask"`
}

type wsOrderEvent struct {
	OrderID            string    `json:"order_id"`
	ClientOrderID      string    `json:"client_order_id"`
	ProductID          string    `json:"product_id"`
	OrderSide          string    `json:"order_side"`
	Status             string    `json:"status"`
	CumulativeQuantity flexFloat `json:"cumulative_quantity"`
	AvgPrice           flexFloat `json:"avg_price"`
}

// connectAndStream handles a single websocket session.
func (f *Feed) connectAndStream(ctx context.Context) error {
	f.mu.Lock()
	f.state = Connecting
	f.healthErr = nil
	f.mu.Unlock()

	c, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = c
	f.state = Connected
	f.lastPing = time.Now()
	f.lastPong = time.Now()
	f.mu.Unlock()

	f.logger.Printf("Feed | Connection established for %d products", len(f.products))
	defer func() {
		c.Close()
		f.mu.Lock()
		f.conn = nil
		f.state = Disconnected
		f.mu.Unlock()
	}()

	if err := f.subscribe(c); err != nil {
		return err
	}

	c.SetPongHandler(func(appData string) error {
		f.mu.Lock()
		f.lastPong = time.Now()
		f.mu.Unlock()
		return nil
	})

	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pingTicker.C:
			f.mu.Lock()
			if f.conn != nil {
				f.conn.WriteMessage(websocket.PingMessage, nil)
				f.lastPing = time.Now()
			}
			f.mu.Unlock()
		default:
			c.SetReadDeadline(time.Now().Add(30 * time.Second))
			_, message, err := c.ReadMessage()
			if err != nil {
				return err
			}
			var msg wsMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				continue
			}
			if msg.Type == "error" {
				return fmt.Errorf("feed error: %s", msg.Message)
			}
			f.handleMessage(msg)
		}
	}
}

// subscribe requests the heartbeats, ticker, and (when credentials are
// set) user channels.
func (f *Feed) subscribe(c *websocket.Conn) error {
	subs := []wsSubscribeMessage{
		{Type: "subscribe", Channel: "heartbeats"},
	}
	// The ticker channel rejects a subscribe without product ids.
	if len(f.products) > 0 {
		subs = append(subs, wsSubscribeMessage{Type: "subscribe", Channel: "ticker", ProductIDs: f.products})
	}
	if f.signer != nil {
		token, err := f.signer.SignChannel()
		if err != nil {
			return err
		}
		subs = append(subs, wsSubscribeMessage{Type: "subscribe", Channel: "user", JWT: token})
	}
	for _, sub := range subs {
		if err := c.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.Channel, err)
		}
		f.logger.Printf("Feed | Subscribed to %s channel", sub.Channel)
	}
	return nil
}

func (f *Feed) handleMessage(msg wsMessage) {
	switch msg.Channel {
	case "ticker":
		now := time.Now().UTC()
		for _, event := range msg.Events {
			for _, t := range event.Tickers {
				if t.ProductID == "" || t.Price <= 0 {
					continue
				}
				f.cache.SetPrice(t.ProductID, float64(t.Price))
				if t.BestBid > 0 && t.BestAsk > 0 {
					f.cache.SetQuote(market.Quote{
						ProductID: t.ProductID,
						Bid:       float64(t.BestBid),
						Ask:       float64(t.BestAsk),
						Time:      now,
					})
				}
			}
		}
	case "user":
		now := time.Now().UTC()
		for _, event := range msg.Events {
			for _, o := range event.Orders {
				if o.OrderID == "" {
					continue
				}
				update := OrderUpdate{
					OrderID:        o.OrderID,
					ClientOrderID:  o.ClientOrderID,
					ProductID:      o.ProductID,
					Side:           o.OrderSide,
					Status:         order.ParseExchangeStatus(o.Status),
					RawStatus:      o.Status,
					FilledSize:     float64(o.CumulativeQuantity),
					AvgFilledPrice: float64(o.AvgPrice),
					Time:           now,
				}
				f.mu.Lock()
				f.orderUpdates[o.OrderID] = update
				f.mu.Unlock()
				if f.onOrder != nil {
					f.onOrder(update)
				}
			}
		}
	}
}
