package db

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/psreek-ai/coinbase-trader/internal/analytics"
	"github.com/psreek-ai/coinbase-trader/internal/candle"
	"github.com/psreek-ai/coinbase-trader/internal/db/conf"
	"github.com/psreek-ai/coinbase-trader/internal/journal"
	"github.com/psreek-ai/coinbase-trader/internal/order"
	"github.com/psreek-ai/coinbase-trader/internal/position"
)

//go:embed schema.sql
var schemaSQL string

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using the transaction from context if available
func (p *Postgres) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// Postgres is the production Storage implementation.
type Postgres struct {
	db *sql.DB
}

func New(c conf.Config) (*Postgres, error) {
	return &Postgres{db: c.DB}, nil
}

func (p *Postgres) GetDB() *sql.DB {
	return p.db
}

// Init applies the embedded schema. Statements are idempotent, so Init
// is safe to run on every startup.
func (p *Postgres) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, such as opening a second position in a product.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// -------- Candles --------

// SaveCandles upserts a batch of candles in one transaction.
func (p *Postgres) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d for %s %s at %s: %w",
				i, c.ProductID, c.Granularity, c.Start, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (product_id, granularity, start_time, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (product_id, granularity, start_time) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare candle insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range candles {
			if _, err := stmt.ExecContext(ctx, c.ProductID, c.Granularity, c.Start,
				c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
				return fmt.Errorf("failed to save candle for %s %s at %s: %w",
					c.ProductID, c.Granularity, c.Start, err)
			}
		}
		return nil
	})
}

func (p *Postgres) GetCandles(ctx context.Context, productID, granularity string, start, end time.Time) ([]candle.Candle, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT product_id, granularity, start_time, open, high, low, close, volume
		FROM candles
		WHERE product_id=$1 AND granularity=$2 AND start_time >= $3 AND start_time < $4
		ORDER BY start_time ASC`,
		productID, granularity, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var candles []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.ProductID, &c.Granularity, &c.Start, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Start = c.Start.UTC()
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candle rows: %w", err)
	}

	return candles, nil
}

func (p *Postgres) GetLatestCandle(ctx context.Context, productID, granularity string) (*candle.Candle, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT product_id, granularity, start_time, open, high, low, close, volume
		FROM candles
		WHERE product_id=$1 AND granularity=$2
		ORDER BY start_time DESC LIMIT 1`,
		productID, granularity)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest candle: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	if rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.ProductID, &c.Granularity, &c.Start, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan latest candle: %w", err)
		}
		c.Start = c.Start.UTC()
		return &c, nil
	}

	return nil, nil
}

func (p *Postgres) GetCandleCount(ctx context.Context, productID, granularity string, start, end time.Time) (int, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT COUNT(*) FROM candles
		WHERE product_id=$1 AND granularity=$2 AND start_time >= $3 AND start_time < $4`,
		productID, granularity, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to get candle count: %w", err)
	}
	if rows == nil {
		return 0, nil
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan candle count: %w", err)
		}
	}
	return count, nil
}

// -------- Orders --------

const orderColumns = `id, client_order_id, exchange_order_id, product_id, side, order_type, status,
	base_size, limit_price, stop_price, stop_loss, take_profit,
	filled_price, filled_size, commission, created_at, updated_at, filled_at, cancelled_at, metadata`

// SaveOrder upserts an order keyed by client order id. Lifecycle fields
// win on conflict so repeated saves track the order through its states.
func (p *Postgres) SaveOrder(ctx context.Context, o order.Order) error {
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal order metadata: %w", err)
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (client_order_id, exchange_order_id, product_id, side, order_type, status,
				base_size, limit_price, stop_price, stop_loss, take_profit,
				filled_price, filled_size, commission, created_at, updated_at, filled_at, cancelled_at, metadata)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
			ON CONFLICT (client_order_id) DO UPDATE SET
				exchange_order_id=EXCLUDED.exchange_order_id, status=EXCLUDED.status,
				filled_price=EXCLUDED.filled_price, filled_size=EXCLUDED.filled_size,
				commission=EXCLUDED.commission, updated_at=EXCLUDED.updated_at,
				filled_at=EXCLUDED.filled_at, cancelled_at=EXCLUDED.cancelled_at,
				metadata=EXCLUDED.metadata`,
			o.ClientOrderID, o.ExchangeOrderID, o.ProductID, o.Side, o.Type, string(o.Status),
			o.BaseSize, o.LimitPrice, o.StopPrice, o.StopLoss, o.TakeProfit,
			o.FilledPrice, o.FilledSize, o.Commission, o.CreatedAt, o.UpdatedAt,
			nullTime(o.FilledAt), nullTime(o.CancelledAt), meta)
		if err != nil {
			return fmt.Errorf("failed to save order %s: %w", o.ClientOrderID, err)
		}
		return nil
	})
}

func (p *Postgres) GetOrder(ctx context.Context, clientOrderID string) (*order.Order, error) {
	return p.getOrderWhere(ctx, "client_order_id=$1", clientOrderID)
}

func (p *Postgres) GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*order.Order, error) {
	return p.getOrderWhere(ctx, "exchange_order_id=$1", exchangeOrderID)
}

func (p *Postgres) getOrderWhere(ctx context.Context, where string, arg any) (*order.Order, error) {
	rows, err := p.queryWithTransaction(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	if rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		return &o, nil
	}

	return nil, nil
}

// GetOpenOrders returns orders not yet in a terminal state, oldest first.
func (p *Postgres) GetOpenOrders(ctx context.Context) ([]order.Order, error) {
	active := pq.Array([]string{
		string(order.StatusCreated), string(order.StatusSubmitted), string(order.StatusOpen),
	})
	rows, err := p.queryWithTransaction(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ANY($1) ORDER BY created_at ASC`, active)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}

	return orders, nil
}

func scanOrder(rows *sql.Rows) (order.Order, error) {
	var (
		o           order.Order
		status      string
		filledAt    sql.NullTime
		cancelledAt sql.NullTime
		meta        []byte
	)
	if err := rows.Scan(&o.ID, &o.ClientOrderID, &o.ExchangeOrderID, &o.ProductID, &o.Side, &o.Type,
		&status, &o.BaseSize, &o.LimitPrice, &o.StopPrice, &o.StopLoss, &o.TakeProfit,
		&o.FilledPrice, &o.FilledSize, &o.Commission, &o.CreatedAt, &o.UpdatedAt,
		&filledAt, &cancelledAt, &meta); err != nil {
		return order.Order{}, fmt.Errorf("failed to scan order: %w", err)
	}
	o.Status = order.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.FilledAt = timePtr(filledAt)
	o.CancelledAt = timePtr(cancelledAt)
	if err := unmarshalMeta(meta, &o.Metadata); err != nil {
		return order.Order{}, fmt.Errorf("failed to decode order metadata: %w", err)
	}
	return o, nil
}

// -------- Positions --------

const positionColumns = `id, product_id, base_size, entry_price, current_price, stop_loss, take_profit,
	realized_pnl, entry_order_id, stop_order_id, tp_order_id, strategy, fees_paid,
	status, opened_at, updated_at, closed_at, metadata`

// OpenPosition inserts a new position and returns its id. A partial
// unique index rejects a second open position in the same product;
// check IsUniqueViolation to detect that case.
func (p *Postgres) OpenPosition(ctx context.Context, pos position.Position) (int64, error) {
	meta, err := json.Marshal(pos.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal position metadata: %w", err)
	}

	var id int64
	err = p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO positions (product_id, base_size, entry_price, current_price, stop_loss, take_profit,
				realized_pnl, entry_order_id, stop_order_id, tp_order_id, strategy, fees_paid,
				status, opened_at, updated_at, closed_at, metadata)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			RETURNING id`,
			pos.ProductID, pos.BaseSize, pos.EntryPrice, pos.CurrentPrice, pos.StopLoss, pos.TakeProfit,
			pos.RealizedPnL, pos.EntryOrderID, pos.Protective.Stop, pos.Protective.TakeProfit,
			pos.Strategy, pos.FeesPaid, pos.Status, pos.OpenedAt, pos.UpdatedAt,
			nullTime(pos.ClosedAt), meta).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to open position for %s: %w", pos.ProductID, err)
	}
	return id, nil
}

func (p *Postgres) UpdatePosition(ctx context.Context, pos position.Position) error {
	meta, err := json.Marshal(pos.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal position metadata: %w", err)
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE positions SET current_price=$1, stop_loss=$2, take_profit=$3, realized_pnl=$4,
				stop_order_id=$5, tp_order_id=$6, fees_paid=$7, status=$8, updated_at=$9,
				closed_at=$10, metadata=$11
			WHERE id=$12`,
			pos.CurrentPrice, pos.StopLoss, pos.TakeProfit, pos.RealizedPnL,
			pos.Protective.Stop, pos.Protective.TakeProfit, pos.FeesPaid, pos.Status,
			pos.UpdatedAt, nullTime(pos.ClosedAt), meta, pos.ID)
		if err != nil {
			return fmt.Errorf("failed to update position %d: %w", pos.ID, err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return fmt.Errorf("no position found to update with id %d", pos.ID)
		}

		return nil
	})
}

func (p *Postgres) GetOpenPositions(ctx context.Context) ([]position.Position, error) {
	rows, err := p.queryWithTransaction(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status=$1 ORDER BY opened_at ASC`,
		position.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var positions []position.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}

	return positions, nil
}

func (p *Postgres) GetOpenPosition(ctx context.Context, productID string) (*position.Position, error) {
	return p.getPositionWhere(ctx, "product_id=$1 AND status=$2", productID, position.StatusOpen)
}

func (p *Postgres) GetPositionByID(ctx context.Context, id int64) (*position.Position, error) {
	return p.getPositionWhere(ctx, "id=$1", id)
}

func (p *Postgres) getPositionWhere(ctx context.Context, where string, args ...any) (*position.Position, error) {
	rows, err := p.queryWithTransaction(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	if rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		return &pos, nil
	}

	return nil, nil
}

// ClosePosition marks the position closed and records the completed
// trade in one transaction, so a crash cannot leave a closed position
// without its trade-history row.
func (p *Postgres) ClosePosition(ctx context.Context, positionID int64, trade position.TradeRecord) error {
	meta, err := json.Marshal(trade.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal trade metadata: %w", err)
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE positions SET status=$1, current_price=$2, realized_pnl=$3, fees_paid=$4,
				updated_at=$5, closed_at=$5
			WHERE id=$6 AND status=$7`,
			position.StatusClosed, trade.ExitPrice, trade.PnL, trade.Fees,
			trade.ExitTime, positionID, position.StatusOpen)
		if err != nil {
			return fmt.Errorf("failed to close position %d: %w", positionID, err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return fmt.Errorf("no open position found to close with id %d", positionID)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO trade_history (product_id, side, entry_price, exit_price, size, pnl, pnl_percent,
				fees, holding_time_seconds, entry_time, exit_time, strategy, exit_reason, metadata)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			trade.ProductID, trade.Side, trade.EntryPrice, trade.ExitPrice, trade.Size,
			trade.PnL, trade.PnLPercent, trade.Fees, trade.HoldingTimeSeconds,
			trade.EntryTime, trade.ExitTime, trade.Strategy, trade.ExitReason, meta)
		if err != nil {
			return fmt.Errorf("failed to save trade for %s: %w", trade.ProductID, err)
		}

		return nil
	})
}

func scanPosition(rows *sql.Rows) (position.Position, error) {
	var (
		pos      position.Position
		closedAt sql.NullTime
		meta     []byte
	)
	if err := rows.Scan(&pos.ID, &pos.ProductID, &pos.BaseSize, &pos.EntryPrice, &pos.CurrentPrice,
		&pos.StopLoss, &pos.TakeProfit, &pos.RealizedPnL, &pos.EntryOrderID,
		&pos.Protective.Stop, &pos.Protective.TakeProfit, &pos.Strategy, &pos.FeesPaid,
		&pos.Status, &pos.OpenedAt, &pos.UpdatedAt, &closedAt, &meta); err != nil {
		return position.Position{}, fmt.Errorf("failed to scan position: %w", err)
	}
	pos.OpenedAt = pos.OpenedAt.UTC()
	pos.UpdatedAt = pos.UpdatedAt.UTC()
	pos.ClosedAt = timePtr(closedAt)
	if err := unmarshalMeta(meta, &pos.Metadata); err != nil {
		return position.Position{}, fmt.Errorf("failed to decode position metadata: %w", err)
	}
	return pos, nil
}

// -------- Trades --------

func (p *Postgres) GetTrades(ctx context.Context, start, end time.Time) ([]position.TradeRecord, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT id, product_id, side, entry_price, exit_price, size, pnl, pnl_percent,
			fees, holding_time_seconds, entry_time, exit_time, strategy, exit_reason, metadata
		FROM trade_history
		WHERE exit_time >= $1 AND exit_time < $2
		ORDER BY exit_time ASC`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var trades []position.TradeRecord
	for rows.Next() {
		var (
			t    position.TradeRecord
			meta []byte
		)
		if err := rows.Scan(&t.ID, &t.ProductID, &t.Side, &t.EntryPrice, &t.ExitPrice, &t.Size,
			&t.PnL, &t.PnLPercent, &t.Fees, &t.HoldingTimeSeconds,
			&t.EntryTime, &t.ExitTime, &t.Strategy, &t.ExitReason, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.EntryTime = t.EntryTime.UTC()
		t.ExitTime = t.ExitTime.UTC()
		if err := unmarshalMeta(meta, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode trade metadata: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}

	return trades, nil
}

// -------- Equity and performance --------

func (p *Postgres) SaveEquityPoint(ctx context.Context, point analytics.EquityPoint) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO equity_curve (time, equity, cash, positions_value)
			VALUES ($1,$2,$3,$4)`,
			point.Time, point.Equity, point.Cash, point.PositionsValue)
		if err != nil {
			return fmt.Errorf("failed to save equity point: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetEquityCurve(ctx context.Context, start, end time.Time) ([]analytics.EquityPoint, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT time, equity, cash, positions_value
		FROM equity_curve
		WHERE time >= $1 AND time < $2
		ORDER BY time ASC`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity curve: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var points []analytics.EquityPoint
	for rows.Next() {
		var pt analytics.EquityPoint
		if err := rows.Scan(&pt.Time, &pt.Equity, &pt.Cash, &pt.PositionsValue); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		pt.Time = pt.Time.UTC()
		points = append(points, pt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity rows: %w", err)
	}

	return points, nil
}

func (p *Postgres) SaveSnapshot(ctx context.Context, s analytics.Snapshot) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO performance_metrics (time, total_trades, winning_trades, losing_trades,
				win_rate, total_pnl, profit_factor, expectancy, sharpe_ratio, sortino_ratio, max_drawdown_percent)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			s.Time, s.TotalTrades, s.WinningTrades, s.LosingTrades,
			s.WinRate, s.TotalPnL, s.ProfitFactor, s.Expectancy,
			s.SharpeRatio, s.SortinoRatio, s.MaxDrawdownPct)
		if err != nil {
			return fmt.Errorf("failed to save performance snapshot: %w", err)
		}
		return nil
	})
}

// -------- Key-value state --------

// SaveState upserts a JSON-encoded value under the given key.
func (p *Postgres) SaveState(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state %s: %w", key, err)
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bot_state (key, value, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`,
			key, encoded)
		if err != nil {
			return fmt.Errorf("failed to save state %s: %w", key, err)
		}
		return nil
	})
}

// LoadState decodes the value stored under key into out. It returns
// false with no error when the key is absent.
func (p *Postgres) LoadState(ctx context.Context, key string, out any) (bool, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT value FROM bot_state WHERE key=$1`, key)
	if err != nil {
		return false, fmt.Errorf("failed to query state %s: %w", key, err)
	}
	if rows == nil {
		return false, nil
	}
	defer rows.Close()

	if rows.Next() {
		var encoded []byte
		if err := rows.Scan(&encoded); err != nil {
			return false, fmt.Errorf("failed to scan state %s: %w", key, err)
		}
		if err := json.Unmarshal(encoded, out); err != nil {
			return false, fmt.Errorf("failed to decode state %s: %w", key, err)
		}
		return true, nil
	}

	return false, nil
}

// -------- Journal --------

func (p *Postgres) LogEvent(ctx context.Context, e journal.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (time, type, description, data)
			VALUES ($1,$2,$3,$4)`,
			e.Time, e.Type, e.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT time, type, description, data
		FROM events
		WHERE type=$1 AND time >= $2 AND time < $3
		ORDER BY time ASC`,
		eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var (
			e    journal.Event
			data []byte
		)
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Time = e.Time.UTC()
		if err := unmarshalMeta(data, &e.Data); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

// -------- Helpers --------

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func unmarshalMeta(raw []byte, out *map[string]any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}
