// Package db persists bot state: candles, the order and position
// ledgers, completed trades, the equity curve, performance snapshots,
// restart state, and the event journal. Postgres backs live trading;
// Memory backs backtests and tests.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/analytics"
	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/journal"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/position"
)

// Storage is the persistence surface the trading engine depends on.
type Storage interface {
	GetDB() *sql.DB
	candle.Storage
	journal.Journaler

	SaveOrder(ctx context.Context, o order.Order) error
	GetOrder(ctx context.Context, clientOrderID string) (*order.Order, error)
	GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*order.Order, error)
	GetOpenOrders(ctx context.Context) ([]order.Order, error)

	OpenPosition(ctx context.Context, pos position.Position) (int64, error)
	UpdatePosition(ctx context.Context, pos position.Position) error
	GetOpenPositions(ctx context.Context) ([]position.Position, error)
	GetOpenPosition(ctx context.Context, productID string) (*position.Position, error)
	GetPositionByID(ctx context.Context, id int64) (*position.Position, error)
	ClosePosition(ctx context.Context, positionID int64, trade position.TradeRecord) error

	GetTrades(ctx context.Context, start, end time.Time) ([]position.TradeRecord, error)

	SaveEquityPoint(ctx context.Context, p analytics.EquityPoint) error
	GetEquityCurve(ctx context.Context, start, end time.Time) ([]analytics.EquityPoint, error)
	SaveSnapshot(ctx context.Context, s analytics.Snapshot) error

	SaveState(ctx context.Context, key string, value any) error
	LoadState(ctx context.Context, key string, out any) (bool, error)
}
