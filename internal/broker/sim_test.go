package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSim() *Sim {
	n := 0
	return NewSimSeeded(100, 110, 42, func() string {
		n++
		return fmt.Sprintf("sim-%d", n)
	})
}

func TestSimOrderPlace(t *testing.T) {
	ctx := context.Background()

	t.Run("Market order fills immediately", func(t *testing.T) {
		s := newTestSim()
		id, err := s.OrderPlace(ctx, map[string]any{
			"symbol":     "aapl",
			"side":       "buy",
			"quantity":   10,
			"order_type": "MARKET",
		})
		require.NoError(t, err)
		assert.Equal(t, "sim-1", id)

		o, ok := s.Get(id)
		require.True(t, ok)
		assert.Equal(t, "COMPLETE", o.Status())
		assert.Equal(t, 10.0, o.FilledQuantity)
		assert.Equal(t, 0.0, o.PendingQuantity)
		assert.GreaterOrEqual(t, o.AveragePrice, 100.0)
		assert.Less(t, o.AveragePrice, 110.0)
	})

	t.Run("Limit order rests open", func(t *testing.T) {
		s := newTestSim()
		id, err := s.OrderPlace(ctx, map[string]any{
			"symbol":     "aapl",
			"side":       "sell",
			"quantity":   10,
			"price":      104.5,
			"order_type": "LIMIT",
		})
		require.NoError(t, err)

		o, _ := s.Get(id)
		assert.Equal(t, "OPEN", o.Status())
		assert.Equal(t, 10.0, o.PendingQuantity)
	})

	t.Run("Missing symbol rejected", func(t *testing.T) {
		s := newTestSim()
		_, err := s.OrderPlace(ctx, map[string]any{"side": "buy", "quantity": 1})
		assert.Error(t, err)
	})

	t.Run("FailNext fails exactly one placement", func(t *testing.T) {
		s := newTestSim()
		boom := errors.New("insufficient margin")
		s.FailNext(boom)

		_, err := s.OrderPlace(ctx, map[string]any{"symbol": "aapl", "side": "buy", "quantity": 1})
		assert.ErrorIs(t, err, boom)

		_, err = s.OrderPlace(ctx, map[string]any{"symbol": "aapl", "side": "buy", "quantity": 1})
		assert.NoError(t, err)
	})
}

func TestSimOrderLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Fill completes a resting order", func(t *testing.T) {
		s := newTestSim()
		id, err := s.OrderPlace(ctx, map[string]any{
			"symbol": "aapl", "side": "buy", "quantity": 10, "price": 101.0, "order_type": "LIMIT",
		})
		require.NoError(t, err)

		require.NoError(t, s.Fill(id, 101.0))
		o, _ := s.Get(id)
		assert.Equal(t, "COMPLETE", o.Status())
		assert.Equal(t, 101.0, o.AveragePrice)

		assert.Error(t, s.Fill(id, 101.0), "filling a done order should fail")
	})

	t.Run("Cancel empties pending quantity", func(t *testing.T) {
		s := newTestSim()
		id, _ := s.OrderPlace(ctx, map[string]any{
			"symbol": "aapl", "side": "buy", "quantity": 10, "price": 101.0, "order_type": "LIMIT",
		})
		require.NoError(t, s.OrderCancel(ctx, id, nil))

		o, _ := s.Get(id)
		assert.Equal(t, "CANCELED", o.Status())
		assert.Error(t, s.OrderCancel(ctx, id, nil), "double cancel should fail")
	})

	t.Run("Reject reads as REJECTED", func(t *testing.T) {
		s := newTestSim()
		id, _ := s.OrderPlace(ctx, map[string]any{
			"symbol": "aapl", "side": "buy", "quantity": 10, "price": 101.0, "order_type": "LIMIT",
		})
		require.NoError(t, s.Reject(id, "REJECTED: insufficient funds"))

		o, _ := s.Get(id)
		assert.Equal(t, "REJECTED", o.Status())
	})

	t.Run("Modify to market fills", func(t *testing.T) {
		s := newTestSim()
		id, _ := s.OrderPlace(ctx, map[string]any{
			"symbol": "aapl", "side": "buy", "quantity": 10, "price": 101.0, "order_type": "LIMIT",
		})
		require.NoError(t, s.OrderModify(ctx, id, map[string]any{"order_type": "MARKET", "price": 0.0}))

		o, _ := s.Get(id)
		assert.Equal(t, "COMPLETE", o.Status())
	})

	t.Run("Modify price on resting order", func(t *testing.T) {
		s := newTestSim()
		id, _ := s.OrderPlace(ctx, map[string]any{
			"symbol": "aapl", "side": "buy", "quantity": 10, "price": 101.0, "order_type": "LIMIT",
		})
		require.NoError(t, s.OrderModify(ctx, id, map[string]any{"price": 102.5}))

		o, _ := s.Get(id)
		assert.Equal(t, 102.5, o.Price)
		assert.Equal(t, "OPEN", o.Status())
	})

	t.Run("Unknown order id", func(t *testing.T) {
		s := newTestSim()
		assert.Error(t, s.OrderModify(ctx, "nope", nil))
		assert.Error(t, s.OrderCancel(ctx, "nope", nil))
		_, err := s.OrderStatus(ctx, "nope")
		assert.Error(t, err)
	})
}

func TestSimOrderStatusSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestSim()
	id, err := s.OrderPlace(ctx, map[string]any{
		"symbol": "goog", "side": "sell", "quantity": 5, "order_type": "MARKET",
	})
	require.NoError(t, err)

	snap, err := s.OrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", snap["status"])
	assert.Equal(t, 5.0, snap["filled_quantity"])
	assert.Equal(t, id, snap["exchange_order_id"])
}

func TestGeneratePrice(t *testing.T) {
	t.Run("Within band", func(t *testing.T) {
		s := newTestSim()
		for i := 0; i < 100; i++ {
			p := s.GeneratePrice()
			assert.GreaterOrEqual(t, p, 100.0)
			assert.Less(t, p, 110.0)
		}
	})

	t.Run("Swapped band", func(t *testing.T) {
		s := NewSimSeeded(110, 100, 1, nil)
		p := s.GeneratePrice()
		assert.GreaterOrEqual(t, p, 100.0)
		assert.Less(t, p, 110.0)
	})

	t.Run("Degenerate band", func(t *testing.T) {
		s := NewSimSeeded(100, 100, 1, nil)
		assert.Equal(t, 100.0, s.GeneratePrice())
	})
}

func TestPaper(t *testing.T) {
	ctx := context.Background()
	p := NewPaper()

	id, err := p.OrderPlace(ctx, map[string]any{"symbol": "aapl", "side": "buy", "quantity": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.NoError(t, p.OrderModify(ctx, id, map[string]any{"price": 100.0}))
	assert.NoError(t, p.OrderCancel(ctx, id, nil))
}

func TestWallexNormalization(t *testing.T) {
	t.Run("Statuses", func(t *testing.T) {
		cases := map[string]string{
			"NEW":              "OPEN",
			"Active":           "OPEN",
			"PARTIALLY_FILLED": "OPEN",
			"filled":           "COMPLETE",
			"CANCELLED":        "CANCELED",
			"CANCELED":         "CANCELED",
			"EXPIRED":          "CANCELED",
			"REJECTED":         "REJECTED",
			"weird":            "WEIRD",
		}
		for in, want := range cases {
			assert.Equal(t, want, normalizeStatus(in), in)
		}
	})

	t.Run("Symbols", func(t *testing.T) {
		assert.Equal(t, "BTCUSDT", normalizeSymbol("btc-usdt"))
		assert.Equal(t, "BTCUSDT", normalizeSymbol("BTCUSDT"))
	})
}
