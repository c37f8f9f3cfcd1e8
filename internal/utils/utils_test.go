package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTick(t *testing.T) {
	t.Run("Default tick size", func(t *testing.T) {
		assert.Equal(t, 100.05, Tick(100.03, DefaultTickSize))
		assert.Equal(t, 100.0, Tick(100.02, DefaultTickSize))
		assert.Equal(t, 100.3, Tick(100.28, DefaultTickSize))
	})

	t.Run("Already on tick", func(t *testing.T) {
		assert.Equal(t, 100.3, Tick(100.3, 0.05))
		assert.Equal(t, 100.0, Tick(100.0, 0.05))
	})

	t.Run("Coarse tick", func(t *testing.T) {
		assert.Equal(t, 100.52, Tick(100.5, 0.07))
		assert.Equal(t, 101.0, Tick(100.9, 0.5))
	})

	t.Run("No drift across repeated steps", func(t *testing.T) {
		price := 100.0
		for i := 0; i < 6; i++ {
			price = Tick(price+0.05, 0.05)
		}
		assert.Equal(t, 100.30, price)
	})

	t.Run("Zero tick size returns price unchanged", func(t *testing.T) {
		assert.Equal(t, 100.037, Tick(100.037, 0))
	})
}

func TestRound(t *testing.T) {
	assert.Equal(t, 100.52, Round(100.52000000000001, 2))
	assert.Equal(t, 100.5, Round(100.5, 2))
}

func TestStopLossStep(t *testing.T) {
	t.Run("Buy side", func(t *testing.T) {
		// 101.3 truncates to 100, offset below the boundary plus dec
		assert.Equal(t, 99.45, StopLossStep(101.3, "B", 0.45, 2))
	})

	t.Run("Sell side", func(t *testing.T) {
		// 101.3 steps up to 102, offset above the boundary minus dec
		assert.Equal(t, 102.55, StopLossStep(101.3, "S", 0.45, 2))
	})

	t.Run("Negative step treated as positive", func(t *testing.T) {
		assert.Equal(t, StopLossStep(101.3, "B", 0.45, 2), StopLossStep(101.3, "B", 0.45, -2))
	})
}

func TestUpdateQuantity(t *testing.T) {
	t.Run("Canceled takes precedence", func(t *testing.T) {
		got := UpdateQuantity(100, 80, 50, 30)
		assert.Equal(t, UQty{Quantity: 100, Filled: 70, Pending: 0, Canceled: 30}, got)
	})

	t.Run("Canceled clamped to quantity", func(t *testing.T) {
		got := UpdateQuantity(100, 0, 0, 150)
		assert.Equal(t, UQty{Quantity: 100, Filled: 0, Pending: 0, Canceled: 100}, got)
	})

	t.Run("Filled over pending", func(t *testing.T) {
		got := UpdateQuantity(100, 40, 90, 0)
		assert.Equal(t, UQty{Quantity: 100, Filled: 40, Pending: 60, Canceled: 0}, got)
	})

	t.Run("Filled clamped to quantity", func(t *testing.T) {
		got := UpdateQuantity(100, 120, 0, 0)
		assert.Equal(t, UQty{Quantity: 100, Filled: 100, Pending: 0, Canceled: 0}, got)
	})

	t.Run("Pending only", func(t *testing.T) {
		got := UpdateQuantity(100, 0, 60, 0)
		assert.Equal(t, UQty{Quantity: 100, Filled: 40, Pending: 60, Canceled: 0}, got)
	})

	t.Run("All zero means everything pending", func(t *testing.T) {
		got := UpdateQuantity(100, 0, 0, 0)
		assert.Equal(t, UQty{Quantity: 100, Filled: 0, Pending: 100, Canceled: 0}, got)
	})
}
