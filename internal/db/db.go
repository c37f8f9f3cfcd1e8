// Package db provides the persistent order stores: an in-memory store
// for tests and demos, and Postgres and SQLite stores sharing the same
// surface. All three implement order.Store, upserting snapshots by order
// id and appending journal events.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uberdeveloper/omspy/internal/order"
)

// ErrNotFound is returned when no order exists under the requested id.
var ErrNotFound = errors.New("db: order not found")

type txKey struct{}

// WithTransaction carries an open transaction in the context; store calls
// made with it join that transaction instead of opening their own.
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction returns the transaction carried by ctx, nil when absent.
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// runInTx executes fn inside the context transaction when one is carried,
// otherwise inside a fresh transaction committed on success.
func runInTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := db.BeginTx(ctx, nil)
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

// queryInTx runs the query on the context transaction when one is carried,
// otherwise on the pool.
func queryInTx(ctx context.Context, db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return db.QueryContext(ctx, query, args...)
}

// orderColumns lists the orders table columns in the order scanSnapshot
// reads them. The Postgres and SQLite stores share the same layout.
const orderColumns = `id, parent_id, symbol, side, quantity, order_type, price, trigger_price,
	average_price, filled_quantity, pending_quantity, canceled_quantity, disclosed_quantity,
	product, exchange, validity, tag, status, order_id, exchange_order_id, timestamp,
	exchange_timestamp, last_updated_at, expires_at, max_modifications, modifications, extra`

func scanSnapshot(rows *sql.Rows) (order.Snapshot, error) {
	var snap order.Snapshot
	var extra []byte
	if err := rows.Scan(&snap.ID, &snap.ParentID, &snap.Symbol, &snap.Side, &snap.Quantity,
		&snap.OrderType, &snap.Price, &snap.TriggerPrice, &snap.AveragePrice,
		&snap.FilledQuantity, &snap.PendingQuantity, &snap.CanceledQuantity,
		&snap.DisclosedQuantity, &snap.Product, &snap.Exchange, &snap.Validity,
		&snap.Tag, &snap.Status, &snap.OrderID, &snap.ExchangeOrderID,
		&snap.Timestamp, &snap.ExchangeTimestamp, &snap.LastUpdatedAt, &snap.ExpiresAt,
		&snap.MaxModifications, &snap.Modifications, &extra); err != nil {
		return order.Snapshot{}, fmt.Errorf("failed to scan order: %w", err)
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &snap.Extra); err != nil {
			return order.Snapshot{}, fmt.Errorf("failed to unmarshal order extra: %w", err)
		}
	}
	snap.Timestamp = snap.Timestamp.UTC()
	snap.ExchangeTimestamp = snap.ExchangeTimestamp.UTC()
	snap.LastUpdatedAt = snap.LastUpdatedAt.UTC()
	snap.ExpiresAt = snap.ExpiresAt.UTC()
	return snap, nil
}
