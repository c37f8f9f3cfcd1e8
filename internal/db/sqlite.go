package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/uberdeveloper/omspy/internal/journal"
	"github.com/uberdeveloper/omspy/internal/order"
)

// SQLite persists orders and journal events in a single-file database.
// It mirrors the Postgres store for setups without a database server.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database file at path, creating it when missing.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &SQLite{db: db}, nil
}

// DB exposes the underlying pool, mainly for transaction control.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close closes the database file.
func (s *SQLite) Close() error { return s.db.Close() }

// Bootstrap creates the orders and events tables when missing.
func (s *SQLite) Bootstrap(ctx context.Context) error {
	return runInTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`CREATE TABLE IF NOT EXISTS orders (
				id TEXT PRIMARY KEY,
				parent_id TEXT,
				symbol TEXT,
				side TEXT,
				quantity REAL,
				order_type TEXT,
				price REAL,
				trigger_price REAL,
				average_price REAL,
				filled_quantity REAL,
				pending_quantity REAL,
				canceled_quantity REAL,
				disclosed_quantity REAL,
				product TEXT,
				exchange TEXT,
				validity TEXT,
				tag TEXT,
				status TEXT,
				order_id TEXT,
				exchange_order_id TEXT,
				timestamp TIMESTAMP,
				exchange_timestamp TIMESTAMP,
				last_updated_at TIMESTAMP,
				expires_at TIMESTAMP,
				max_modifications INTEGER,
				modifications INTEGER,
				extra TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_parent_id ON orders (parent_id)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_order_id ON orders (order_id)`,
			`CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				time TIMESTAMP,
				type TEXT,
				description TEXT,
				data TEXT
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
func (s *SQLite) SaveOrder(ctx context.Context, snap order.Snapshot) error {
	if snap.ID == "" {
		return errors.New("db: cannot save an order without an id")
	}
	extra, err := json.Marshal(snap.Extra)
	if err != nil {
		return fmt.Errorf("failed to marshal order extra: %w", err)
	}

	return runInTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				parent_id=excluded.parent_id, symbol=excluded.symbol, side=excluded.side,
				quantity=excluded.quantity, order_type=excluded.order_type, price=excluded.price,
				trigger_price=excluded.trigger_price, average_price=excluded.average_price,
				filled_quantity=excluded.filled_quantity, pending_quantity=excluded.pending_quantity,
				canceled_quantity=excluded.canceled_quantity, disclosed_quantity=excluded.disclosed_quantity,
				product=excluded.product, exchange=excluded.exchange, validity=excluded.validity,
				tag=excluded.tag, status=excluded.status, order_id=excluded.order_id,
				exchange_order_id=excluded.exchange_order_id, timestamp=excluded.timestamp,
				exchange_timestamp=excluded.exchange_timestamp, last_updated_at=excluded.last_updated_at,
				expires_at=excluded.expires_at, max_modifications=excluded.max_modifications,
				modifications=excluded.modifications, extra=excluded.extra`,
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
func (s *SQLite) SaveOrders(ctx context.Context, snaps []order.Snapshot) map[string]error {
	results := make(map[string]error, len(snaps))
	for _, snap := range snaps {
		results[snap.ID] = s.SaveOrder(ctx, snap)
	}
	return results
}

// GetOrder returns the snapshot stored under id, ErrNotFound when absent.
func (s *SQLite) GetOrder(ctx context.Context, id string) (order.Snapshot, error) {
	rows, err := queryInTx(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
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
func (s *SQLite) ListOrders(ctx context.Context) ([]order.Snapshot, error) {
	rows, err := queryInTx(ctx, s.db, `SELECT `+orderColumns+` FROM orders ORDER BY timestamp ASC, id ASC`)
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
func (s *SQLite) LogEvent(ctx context.Context, e journal.Event) error {
	return runInTx(ctx, s.db, func(tx *sql.Tx) error {
		data, _ := json.Marshal(e.Data)
		_, err := tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES (?,?,?,?)`,
			e.Time, e.Type, e.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

// Events returns journaled events matching eventType (empty matches all)
// whose timestamps fall within [start, end]; zero bounds are open-ended.
func (s *SQLite) Events(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	query := `SELECT time, type, description, data FROM events`
	var conds []string
	var args []any
	if eventType != "" {
		conds = append(conds, "type = ?")
		args = append(args, eventType)
	}
	if !start.IsZero() {
		conds = append(conds, "time >= ?")
		args = append(args, start)
	}
	if !end.IsZero() {
		conds = append(conds, "time <= ?")
		args = append(args, end)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY time ASC"

	rows, err := queryInTx(ctx, s.db, query, args...)
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
