package peg

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uberdeveloper/omspy/internal/journal"
	"github.com/uberdeveloper/omspy/internal/lock"
	"github.com/uberdeveloper/omspy/internal/order"
)

type modifyCall struct {
	orderID string
	attrs   map[string]any
}

type fakeBroker struct {
	placeErr  error
	modifyErr error

	placed   []map[string]any
	modified []modifyCall
	canceled []string
}

func (f *fakeBroker) OrderPlace(_ context.Context, attrs map[string]any) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.placed = append(f.placed, attrs)
	return fmt.Sprintf("fake-%d", len(f.placed)), nil
}

func (f *fakeBroker) OrderModify(_ context.Context, orderID string, attrs map[string]any) error {
	if f.modifyErr != nil {
		return f.modifyErr
	}
	f.modified = append(f.modified, modifyCall{orderID: orderID, attrs: attrs})
	return nil
}

func (f *fakeBroker) OrderCancel(_ context.Context, orderID string, _ map[string]any) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}

type stubClock struct {
	t time.Time
}

func (c *stubClock) now() time.Time { return c.t }

func workingLeg(t *testing.T, cfg order.Config) *order.Order {
	t.Helper()
	if cfg.OrderID == "" {
		cfg.OrderID = "p1"
	}
	if cfg.Status == "" {
		cfg.Status = order.StatusOpen
	}
	o, err := order.New(cfg)
	require.NoError(t, err)
	return o
}

func TestExistingPegChase(t *testing.T) {
	fb := &fakeBroker{}
	leg := workingLeg(t, order.Config{
		Symbol: "aapl", Side: order.SideBuy, Quantity: 10, OrderType: "LIMIT", Price: 100.00,
	})
	p, err := NewExisting(ExistingConfig{
		Order: leg, Broker: fb, StepSize: 0.05, TickSize: 0.05, Duration: time.Minute,
	})
	require.NoError(t, err)
	clock := &stubClock{t: time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)}
	p.now = clock.now
	p.expiresAt = clock.t.Add(time.Minute)

	ctx := context.Background()
	for _, ref := range []float64{100.05, 100.10, 100.15, 100.20, 100.25, 100.30} {
		clock.t = clock.t.Add(5 * time.Second)
		ok, err := p.Tick(ctx, ref)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 100.30, leg.Price)
	assert.Equal(t, 6, leg.Modifications())
	assert.Len(t, fb.modified, 6)

	// Past expiry the leg is canceled instead of re-priced.
	clock.t = clock.t.Add(2 * time.Minute)
	ok, err := p.Tick(ctx, 100.35)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, fb.modified, 6)
	assert.Equal(t, []string{"p1"}, fb.canceled)
	assert.True(t, p.Done())

	ok, err = p.Tick(ctx, 100.40)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"p1"}, fb.canceled)
}

func TestExistingPeg(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an order", func(t *testing.T) {
		_, err := NewExisting(ExistingConfig{})
		assert.Error(t, err)
	})

	t.Run("zero step jumps to the reference", func(t *testing.T) {
		fb := &fakeBroker{}
		leg := workingLeg(t, order.Config{Symbol: "aapl", Side: order.SideBuy, OrderType: "LIMIT", Price: 100.00})
		p, err := NewExisting(ExistingConfig{Order: leg, Broker: fb, TickSize: 0.05})
		require.NoError(t, err)

		ok, err := p.Tick(ctx, 105.75)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 105.75, leg.Price)
		assert.Equal(t, 1, leg.Modifications())
	})

	t.Run("walks down toward a lower reference", func(t *testing.T) {
		fb := &fakeBroker{}
		leg := workingLeg(t, order.Config{Symbol: "aapl", Side: order.SideSell, OrderType: "LIMIT", Price: 100.00})
		p, err := NewExisting(ExistingConfig{Order: leg, Broker: fb, StepSize: 0.05, TickSize: 0.05})
		require.NoError(t, err)

		ok, err := p.Tick(ctx, 99.80)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 99.95, leg.Price)
	})

	t.Run("unchanged reference sends nothing", func(t *testing.T) {
		fb := &fakeBroker{}
		leg := workingLeg(t, order.Config{Symbol: "aapl", Side: order.SideBuy, OrderType: "LIMIT", Price: 100.00})
		p, err := NewExisting(ExistingConfig{Order: leg, Broker: fb, StepSize: 0.05, TickSize: 0.05})
		require.NoError(t, err)

		ok, err := p.Tick(ctx, 100.00)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, fb.modified)
	})

	t.Run("respects the order lock", func(t *testing.T) {
		fb := &fakeBroker{}
		leg := workingLeg(t, order.Config{Symbol: "aapl", Side: order.SideBuy, OrderType: "LIMIT", Price: 100.00})
		p, err := NewExisting(ExistingConfig{Order: leg, Broker: fb, StepSize: 0.05, TickSize: 0.05})
		require.NoError(t, err)

		leg.AddLock(lock.Modify, time.Hour)
		ok, err := p.Tick(ctx, 100.05)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, fb.modified)

		leg.AddLock(lock.Modify, 0)
		ok, err = p.Tick(ctx, 100.05)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("arms the lock between re-prices", func(t *testing.T) {
		fb := &fakeBroker{}
		leg := workingLeg(t, order.Config{Symbol: "aapl", Side: order.SideBuy, OrderType: "LIMIT", Price: 100.00})
		p, err := NewExisting(ExistingConfig{
			Order: leg, Broker: fb, StepSize: 0.05, TickSize: 0.05, LockFor: time.Hour,
		})
		require.NoError(t, err)

		ok, err := p.Tick(ctx, 100.05)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = p.Tick(ctx, 100.10)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Len(t, fb.modified, 1)
	})

	t.Run("stops against the modification cap", func(t *testing.T) {
		fb := &fakeBroker{}
		leg := workingLeg(t, order.Config{
			Symbol: "aapl", Side: order.SideBuy, OrderType: "LIMIT", Price: 100.00, MaxModifications: 2,
		})
		p, err := NewExisting(ExistingConfig{Order: leg, Broker: fb, StepSize: 0.05, TickSize: 0.05})
		require.NoError(t, err)

		for _, ref := range []float64{100.05, 100.10} {
			ok, err := p.Tick(ctx, ref)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, err := p.Tick(ctx, 100.15)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Len(t, fb.modified, 2)
	})

	t.Run("stops once the leg is done", func(t *testing.T) {
		fb := &fakeBroker{}
		leg := workingLeg(t, order.Config{Symbol: "aapl", Side: order.SideBuy, Quantity: 10, OrderType: "LIMIT", Price: 100.00})
		p, err := NewExisting(ExistingConfig{Order: leg, Broker: fb, StepSize: 0.05, TickSize: 0.05})
		require.NoError(t, err)

		require.True(t, leg.Update(map[string]any{"filled_quantity": 10.0, "status": "COMPLETE"}))
		assert.True(t, p.Done())
		ok, err := p.Tick(ctx, 100.05)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, fb.modified)
	})

	t.Run("converts to market on expiry", func(t *testing.T) {
		fb := &fakeBroker{}
		leg := workingLeg(t, order.Config{Symbol: "aapl", Side: order.SideBuy, OrderType: "LIMIT", Price: 100.00})
		p, err := NewExisting(ExistingConfig{
			Order: leg, Broker: fb, StepSize: 0.05, TickSize: 0.05,
			OnExpiry: order.ExpiryConvertToMarket,
		})
		require.NoError(t, err)
		clock := &stubClock{t: time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)}
		p.now = clock.now
		p.expiresAt = clock.t.Add(time.Minute)

		clock.t = clock.t.Add(2 * time.Minute)
		ok, err := p.Tick(ctx, 100.05)
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, fb.modified, 1)
		assert.Equal(t, "MARKET", fb.modified[0].attrs["order_type"])
		assert.Equal(t, "MARKET", leg.OrderType)
		assert.Empty(t, fb.canceled)
	})

	t.Run("journals re-prices", func(t *testing.T) {
		fb := &fakeBroker{}
		mem := journal.NewMemory(16)
		leg := workingLeg(t, order.Config{Symbol: "aapl", Side: order.SideBuy, OrderType: "LIMIT", Price: 100.00})
		p, err := NewExisting(ExistingConfig{
			Order: leg, Broker: fb, StepSize: 0.05, TickSize: 0.05, Journal: mem,
		})
		require.NoError(t, err)

		_, err = p.Tick(ctx, 100.05)
		require.NoError(t, err)
		events, err := mem.GetEvents("peg", time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "repriced leg", events[0].Description)
	})
}

func newChain(t *testing.T, fb *fakeBroker, opts ...func(*SequentialConfig)) *SequentialPeg {
	t.Helper()
	cfg := SequentialConfig{
		Broker: fb,
		Legs: []order.Config{
			{Symbol: "aapl", Side: order.SideBuy, Quantity: 10, OrderType: "MARKET"},
			{Symbol: "aapl", Side: order.SideSell, Quantity: 10, OrderType: "LIMIT", Price: 105},
			{Symbol: "aapl", Side: order.SideSell, Quantity: 10, OrderType: "SL-M", TriggerPrice: 95},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := NewSequential(cfg)
	require.NoError(t, err)
	return p
}

func TestSequentialPegAbort(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBroker{}
	p := newChain(t, fb)

	ok, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, p.At(0).OrderID)
	assert.Same(t, p.At(0), p.Active())

	// Leg one is still working, so nothing moves.
	ok, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, fb.placed, 1)

	require.True(t, p.At(0).Update(map[string]any{"status": "COMPLETE", "filled_quantity": 10.0}))
	ok, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, p.At(1).OrderID)
	assert.Same(t, p.At(1), p.Active())

	require.True(t, p.At(1).Update(map[string]any{"status": "REJECTED"}))
	ok, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, p.Aborted())
	assert.True(t, p.Done())
	assert.Nil(t, p.Active())
	assert.Empty(t, p.At(2).OrderID)
	assert.Len(t, fb.placed, 2)

	// The chain stays quiet afterwards.
	ok, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, fb.placed, 2)
}

func TestSequentialPeg(t *testing.T) {
	ctx := context.Background()

	t.Run("completes the whole chain", func(t *testing.T) {
		fb := &fakeBroker{}
		p := newChain(t, fb)
		for i := 0; i < 3; i++ {
			ok, err := p.Tick(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			require.True(t, p.At(i).Update(map[string]any{"status": "COMPLETE", "filled_quantity": 10.0}))
		}
		ok, err := p.Tick(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, p.Done())
		assert.False(t, p.Aborted())
		assert.Len(t, fb.placed, 3)
	})

	t.Run("merges order args into placements", func(t *testing.T) {
		fb := &fakeBroker{}
		p := newChain(t, fb, func(c *SequentialConfig) {
			c.OrderArgs = map[string]any{"product": "mis"}
		})
		_, err := p.Tick(ctx)
		require.NoError(t, err)
		require.Len(t, fb.placed, 1)
		assert.Equal(t, "mis", fb.placed[0]["product"])
	})

	t.Run("placement failure aborts the chain", func(t *testing.T) {
		fb := &fakeBroker{placeErr: errors.New("rejected")}
		p := newChain(t, fb)
		ok, err := p.Tick(ctx)
		require.Error(t, err)
		assert.False(t, ok)
		assert.True(t, p.Aborted())
		assert.True(t, p.Done())
	})

	t.Run("expiry cancels the working leg", func(t *testing.T) {
		fb := &fakeBroker{}
		p := newChain(t, fb)
		clock := &stubClock{t: time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)}
		p.now = clock.now
		p.expiresAt = clock.t.Add(time.Minute)

		ok, err := p.Tick(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		placedID := p.At(0).OrderID

		clock.t = clock.t.Add(2 * time.Minute)
		ok, err = p.Tick(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{placedID}, fb.canceled)
		assert.True(t, p.Done())
		assert.False(t, p.Aborted())
	})

	t.Run("journals chain progress", func(t *testing.T) {
		fb := &fakeBroker{}
		mem := journal.NewMemory(16)
		p := newChain(t, fb, func(c *SequentialConfig) { c.Journal = mem })

		_, err := p.Tick(ctx)
		require.NoError(t, err)
		require.True(t, p.At(0).Update(map[string]any{"status": "CANCELLED"}))
		_, err = p.Tick(ctx)
		require.NoError(t, err)

		events, err := mem.GetEvents("peg", time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "placed leg", events[0].Description)
		assert.Equal(t, "chain aborted", events[1].Description)
	})

	t.Run("config validation", func(t *testing.T) {
		_, err := NewSequential(SequentialConfig{})
		assert.Error(t, err)
		_, err = NewSequential(SequentialConfig{Broker: &fakeBroker{}})
		assert.Error(t, err)
		_, err = NewSequential(SequentialConfig{
			Broker: &fakeBroker{},
			Legs:   []order.Config{{Side: order.SideBuy}},
		})
		assert.Error(t, err)
	})
}
