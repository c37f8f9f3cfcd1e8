package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uberdeveloper/omspy/internal/journal"
	"github.com/uberdeveloper/omspy/internal/order"
)

// Memory is an in-process order store. Orders are listed in insertion
// order and events are append-only. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]order.Snapshot
	ids    []string
	events []journal.Event
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]order.Snapshot),
	}
}

// cloneSnapshot copies snap so the store and its callers never share the
// Extra map.
func cloneSnapshot(snap order.Snapshot) order.Snapshot {
	if len(snap.Extra) > 0 {
		extra := make(map[string]any, len(snap.Extra))
		for k, v := range snap.Extra {
			extra[k] = v
		}
		snap.Extra = extra
	}
	return snap
}

// SaveOrder upserts the snapshot under its internal id.
func (m *Memory) SaveOrder(ctx context.Context, snap order.Snapshot) error {
	if snap.ID == "" {
		return errors.New("db: cannot save an order without an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[snap.ID]; !ok {
		m.ids = append(m.ids, snap.ID)
	}
	m.orders[snap.ID] = cloneSnapshot(snap)
	return nil
}

// SaveOrders upserts each snapshot independently and reports the outcome
// per order id.
func (m *Memory) SaveOrders(ctx context.Context, snaps []order.Snapshot) map[string]error {
	results := make(map[string]error, len(snaps))
	for _, snap := range snaps {
		results[snap.ID] = m.SaveOrder(ctx, snap)
	}
	return results
}

// GetOrder returns the snapshot stored under id, ErrNotFound when absent.
func (m *Memory) GetOrder(ctx context.Context, id string) (order.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.orders[id]
	if !ok {
		return order.Snapshot{}, ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

// ListOrders returns every stored snapshot in insertion order.
func (m *Memory) ListOrders(ctx context.Context) ([]order.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]order.Snapshot, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, cloneSnapshot(m.orders[id]))
	}
	return out, nil
}

// LogEvent appends the event to the in-memory journal.
func (m *Memory) LogEvent(ctx context.Context, e journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns journaled events matching eventType (empty matches all)
// whose timestamps fall within [start, end]; zero bounds are open-ended.
func (m *Memory) Events(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if !start.IsZero() && e.Time.Before(start) {
			continue
		}
		if !end.IsZero() && e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
