package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uberdeveloper/omspy/internal/journal"
	"github.com/uberdeveloper/omspy/internal/order"
)

// sampleSnapshot builds a deterministic snapshot shared by the store
// tests. Extra holds only strings so it survives a JSON roundtrip intact.
func sampleSnapshot(id string) order.Snapshot {
	ts := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	return order.Snapshot{
		ID:               id,
		Symbol:           "aapl",
		Side:             "buy",
		Quantity:         10,
		OrderType:        "LIMIT",
		Price:            650,
		PendingQuantity:  10,
		Exchange:         "nse",
		Status:           "PENDING",
		Timestamp:        ts,
		LastUpdatedAt:    ts,
		ExpiresAt:        ts.Add(6 * time.Hour),
		MaxModifications: 10,
		Extra:            map[string]any{"product": "mis"},
	}
}

func sampleEvents() []journal.Event {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return []journal.Event{
		{Time: base, Type: "order", Description: "placed", Data: map[string]any{"symbol": "aapl"}},
		{Time: base.Add(time.Minute), Type: "peg", Description: "price chased"},
		{Time: base.Add(2 * time.Minute), Type: "order", Description: "canceled"},
	}
}

func TestMemorySaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	snap := sampleSnapshot("ord-1")
	require.NoError(t, store.SaveOrder(ctx, snap))

	got, err := store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	t.Run("missing order", func(t *testing.T) {
		_, err := store.GetOrder(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		assert.Error(t, store.SaveOrder(ctx, order.Snapshot{}))
	})

	t.Run("extra map is not shared", func(t *testing.T) {
		snap.Extra["product"] = "nrml"
		got.Extra["product"] = "cnc"
		again, err := store.GetOrder(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, "mis", again.Extra["product"])
	})
}

func TestMemoryUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	snap := sampleSnapshot("ord-1")
	require.NoError(t, store.SaveOrder(ctx, snap))

	snap.Status = "COMPLETE"
	snap.FilledQuantity = 10
	snap.PendingQuantity = 0
	snap.Modifications = 2
	require.NoError(t, store.SaveOrder(ctx, snap))

	got, err := store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", got.Status)
	assert.EqualValues(t, 10, got.FilledQuantity)
	assert.Equal(t, 2, got.Modifications)

	snaps, err := store.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestMemorySaveOrders(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	results := store.SaveOrders(ctx, []order.Snapshot{
		sampleSnapshot("ord-1"),
		sampleSnapshot("ord-2"),
		{},
	})
	require.Len(t, results, 3)
	assert.NoError(t, results["ord-1"])
	assert.NoError(t, results["ord-2"])
	assert.Error(t, results[""])

	snaps, err := store.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "ord-1", snaps[0].ID)
	assert.Equal(t, "ord-2", snaps[1].ID)
}

func TestMemoryListInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.SaveOrder(ctx, sampleSnapshot(id)))
	}
	// Re-saving must not move an order to the back.
	require.NoError(t, store.SaveOrder(ctx, sampleSnapshot("c")))

	snaps, err := store.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "c", snaps[0].ID)
	assert.Equal(t, "a", snaps[1].ID)
	assert.Equal(t, "b", snaps[2].ID)
}

func TestMemoryEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	events := sampleEvents()
	for _, e := range events {
		require.NoError(t, store.LogEvent(ctx, e))
	}

	t.Run("filter by type", func(t *testing.T) {
		got, err := store.Events(ctx, "order", time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "placed", got[0].Description)
		assert.Equal(t, "canceled", got[1].Description)
	})

	t.Run("empty type matches all", func(t *testing.T) {
		got, err := store.Events(ctx, "", time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("time window", func(t *testing.T) {
		got, err := store.Events(ctx, "", events[0].Time.Add(30*time.Second), events[1].Time)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "peg", got[0].Type)
	})
}
