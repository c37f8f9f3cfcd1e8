package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/uberdeveloper/omspy/internal/journal"
	"github.com/uberdeveloper/omspy/internal/order"
)

// Postgres persists orders and journal events in a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool for dsn. The connection is lazy;
// call Bootstrap to create the schema and verify reachability.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return &Postgres{db: db}, nil
}

// DB exposes the underlying pool, mainly for transaction control.
func (p *Postgres) DB() *sql.DB { return p.db }

// Close closes the underlying pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Bootstrap creates the orders and events tables when missing.
func (p *Postgres) Bootstrap(ctx context.Context) error {
	return runInTx(ctx, p.db, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`CREATE TABLE IF NOT EXISTS orders (
				id TEXT PRIMARY KEY,
				parent_id TEXT,
				symbol TEXT,
				side TEXT,
				quantity DOUBLE PRECISION,
				order_type TEXT,
				price DOUBLE PRECISION,
				trigger_price DOUBLE PRECISION,
				average_price DOUBLE PRECISION,
				filled_quantity DOUBLE PRECISION,
				pending_quantity DOUBLE PRECISION,
				canceled_quantity DOUBLE PRECISION,
				disclosed_quantity DOUBLE PRECISION,
				product TEXT,
				exchange TEXT,
				validity TEXT,
				tag TEXT,
				status TEXT,
				order_id TEXT,
				exchange_order_id TEXT,
				timestamp TIMESTAMPTZ,
				exchange_timestamp TIMESTAMPTZ,
				last_updated_at TIMESTAMPTZ,
				expires_at TIMESTAMPTZ,
				max_modifications INTEGER,
				modifications INTEGER,
				extra JSONB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_parent_id ON orders (parent_id)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_order_id ON orders (order_id)`,
			`CREATE TABLE IF NOT EXISTS events (
				id BIGSERIAL PRIMARY KEY,
				time TIMESTAMPTZ,
				type TEXT,
				description TEXT,
				data JSONB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (type, time)`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}
		return nil
	})
}

// SaveOrder upserts the snapshot under its internal id.
func (p *Postgres) SaveOrder(ctx context.Context, snap order.Snapshot) error {
	if snap.ID == "" {
		return errors.New("db: cannot save an order without an id")
	}
	extra, err := json.Marshal(snap.Extra)
	if err != nil {
		return fmt.Errorf("failed to marshal order extra: %w", err)
	}

	return runInTx(ctx, p.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
			ON CONFLICT (id) DO UPDATE SET
				parent_id=EXCLUDED.parent_id, symbol=EXCLUDED.symbol, side=EXCLUDED.side,
				quantity=EXCLUDED.quantity, order_type=EXCLUDED.order_type, price=EXCLUDED.price,
				trigger_price=EXCLUDED.trigger_price, average_price=EXCLUDED.average_price,
				filled_quantity=EXCLUDED.filled_quantity, pending_quantity=EXCLUDED.pending_quantity,
				canceled_quantity=EXCLUDED.canceled_quantity, disclosed_quantity=EXCLUDED.disclosed_quantity,
				product=EXCLUDED.product, exchange=EXCLUDED.exchange, validity=EXCLUDED.validity,
				tag=EXCLUDED.tag, status=EXCLUDED.status, order_id=EXCLUDED.order_id,
				exchange_order_id=EXCLUDED.exchange_order_id, timestamp=EXCLUDED.timestamp,
				exchange_timestamp=EXCLUDED.exchange_timestamp, last_updated_at=EXCLUDED.last_updated_at,
				expires_at=EXCLUDED.expires_at, max_modifications=EXCLUDED.max_modifications,
				modifications=EXCLUDED.modifications, extra=EXCLUDED.extra`,
			snap.ID, snap.ParentID, snap.Symbol, snap.Side, snap.Quantity, snap.OrderType,
			snap.Price, snap.TriggerPrice, snap.AveragePrice, snap.FilledQuantity,
			snap.PendingQuantity, snap.CanceledQuantity, snap.DisclosedQuantity,
			snap.Product, snap.Exchange, snap.Validity, snap.Tag, snap.Status,
			snap.OrderID, snap.ExchangeOrderID, snap.Timestamp, snap.ExchangeTimestamp,
			snap.LastUpdatedAt, snap.ExpiresAt, snap.MaxModifications, snap.Modifications, extra)
		if err != nil {
			return fmt.Errorf("failed to save order %s: %w", snap.ID, err)
		}
		return nil
	})
}

// SaveOrders upserts each snapshot independently and reports the outcome
// per order id.
func (p *Postgres) SaveOrders(ctx context.Context, snaps []order.Snapshot) map[string]error {
	results := make(map[string]error, len(snaps))
	for _, snap := range snaps {
		results[snap.ID] = p.SaveOrder(ctx, snap)
	}
	return results
}

// GetOrder returns the snapshot stored under id, ErrNotFound when absent.
func (p *Postgres) GetOrder(ctx context.Context, id string) (order.Snapshot, error) {
	rows, err := queryInTx(ctx, p.db, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	if err != nil {
		return order.Snapshot{}, fmt.Errorf("failed to query order: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return order.Snapshot{}, fmt.Errorf("failed to query order: %w", err)
		}
		return order.Snapshot{}, ErrNotFound
	}
	return scanSnapshot(rows)
}

// ListOrders returns every stored snapshot, oldest placement first.
func (p *Postgres) ListOrders(ctx context.Context) ([]order.Snapshot, error) {
	rows, err := queryInTx(ctx, p.db, `SELECT `+orderColumns+` FROM orders ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var snaps []order.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return snaps, nil
}

// LogEvent appends the event to the events table.
func (p *Postgres) LogEvent(ctx context.Context, e journal.Event) error {
	return runInTx(ctx, p.db, func(tx *sql.Tx) error {
		data, _ := json.Marshal(e.Data)
		_, err := tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			e.Time, e.Type, e.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

// Events returns journaled events matching eventType (empty matches all)
// whose timestamps fall within [start, end]; zero bounds are open-ended.
func (p *Postgres) Events(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	query := `SELECT time, type, description, data FROM events`
	var conds []string
	var args []any
	if eventType != "" {
		args = append(args, eventType)
		conds = append(conds, fmt.Sprintf("type=$%d", len(args)))
	}
	if !start.IsZero() {
		args = append(args, start)
		conds = append(conds, fmt.Sprintf("time >= $%d", len(args)))
	}
	if !end.IsZero() {
		args = append(args, end)
		conds = append(conds, fmt.Sprintf("time <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY time ASC"

	rows, err := queryInTx(ctx, p.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(data) > 0 {
			json.Unmarshal(data, &e.Data)
		}
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}
