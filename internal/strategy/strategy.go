// Package strategy groups compound orders and peg chains under a single
// named strategy. The strategy is a thin aggregation layer: positions,
// MTM and order updates are computed by the baskets it holds, the
// strategy only fans operations out and merges the results.
package strategy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/uberdeveloper/omspy/internal/broker"
	"github.com/uberdeveloper/omspy/internal/order"
	"github.com/uberdeveloper/omspy/internal/peg"
	"github.com/uberdeveloper/omspy/internal/utils"
)

// Runner is a unit of strategy work invoked on every Run cycle with the
// latest known prices. Peg chains and custom polling loops plug in here.
type Runner interface {
	Run(ctx context.Context, ltp map[string]float64) error
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, ltp map[string]float64) error

func (f RunnerFunc) Run(ctx context.Context, ltp map[string]float64) error {
	return f(ctx, ltp)
}

// PegExistingRunner drives a single-leg peg from the tracked price of its
// symbol. Ticks are skipped while no price for the symbol is known.
func PegExistingRunner(p *peg.ExistingPeg) Runner {
	return RunnerFunc(func(ctx context.Context, ltp map[string]float64) error {
		ref, ok := ltp[p.Order().Symbol]
		if !ok {
			return nil
		}
		_, err := p.Tick(ctx, ref)
		return err
	})
}

// PegSequentialRunner drives a sequential chain; the chain advances on
// fills alone and needs no reference price.
func PegSequentialRunner(p *peg.SequentialPeg) Runner {
	return RunnerFunc(func(ctx context.Context, ltp map[string]float64) error {
		_, err := p.Tick(ctx)
		return err
	})
}

// OrderStrategy owns a set of compound orders executed toward a common
// goal. Baskets keep their own brokers and stores; the strategy supplies
// defaults for baskets added without one.
type OrderStrategy struct {
	ID     string
	Name   string
	Broker broker.Broker
	Store  order.Store

	ltp     map[string]float64
	baskets []*order.CompoundOrder
	runners []Runner
}

// New builds an empty strategy bound to a broker connection.
func New(name string, b broker.Broker) *OrderStrategy {
	return &OrderStrategy{
		ID:     uuid.New().String(),
		Name:   name,
		Broker: b,
		ltp:    make(map[string]float64),
	}
}

// Add attaches a basket to the strategy. A basket without a broker or
// store inherits the strategy's; a basket carrying a different broker is
// kept as-is and flagged in the log since mixed connections are usually
// a wiring mistake.
func (s *OrderStrategy) Add(co *order.CompoundOrder) error {
	if co == nil {
		return fmt.Errorf("strategy %s: cannot add nil basket", s.Name)
	}
	if co.Broker == nil {
		co.Broker = s.Broker
	} else if s.Broker != nil && co.Broker != s.Broker {
		utils.GetLogger().Printf("Strategy | Basket %s uses a different broker connection than strategy %s", co.ID, s.Name)
	}
	if co.Store == nil {
		co.Store = s.Store
	}
	s.baskets = append(s.baskets, co)
	return nil
}

// AddRunner registers work to execute on each Run cycle.
func (s *OrderStrategy) AddRunner(r Runner) {
	if r == nil {
		return
	}
	s.runners = append(s.runners, r)
}

// Baskets returns the attached compound orders in insertion order.
func (s *OrderStrategy) Baskets() []*order.CompoundOrder {
	out := make([]*order.CompoundOrder, len(s.baskets))
	copy(out, s.baskets)
	return out
}

// Positions sums net filled quantity per symbol across every basket.
func (s *OrderStrategy) Positions() map[string]float64 {
	positions := make(map[string]float64)
	for _, co := range s.baskets {
		for symbol, qty := range co.Positions() {
			positions[symbol] += qty
		}
	}
	return positions
}

// MTM sums per-symbol mark to market across every basket.
func (s *OrderStrategy) MTM() map[string]float64 {
	mtm := make(map[string]float64)
	for _, co := range s.baskets {
		for symbol, value := range co.MTM() {
			mtm[symbol] += value
		}
	}
	return mtm
}

// TotalMTM returns the strategy-wide mark to market.
func (s *OrderStrategy) TotalMTM() float64 {
	var total float64
	for _, co := range s.baskets {
		total += co.TotalMTM()
	}
	return total
}

// UpdateLTP merges prices into the strategy map and propagates them to
// every basket so their MTM stays in sync.
func (s *OrderStrategy) UpdateLTP(prices map[string]float64) map[string]float64 {
	for symbol, price := range prices {
		s.ltp[symbol] = price
	}
	for _, co := range s.baskets {
		co.UpdateLTP(prices)
	}
	return s.ltp
}

// LTP returns the last known prices.
func (s *OrderStrategy) LTP() map[string]float64 {
	return s.ltp
}

// UpdateOrders pushes broker order data to every basket and merges the
// per-order outcomes. Broker order ids are unique per connection so
// entries from different baskets never collide.
func (s *OrderStrategy) UpdateOrders(ctx context.Context, data map[string]map[string]any) map[string]bool {
	updated := make(map[string]bool)
	for _, co := range s.baskets {
		for orderID, ok := range co.UpdateOrders(ctx, data) {
			updated[orderID] = ok
		}
	}
	return updated
}

// CheckFlags applies expiry policies on every basket.
func (s *OrderStrategy) CheckFlags(ctx context.Context) {
	for _, co := range s.baskets {
		co.CheckFlags(ctx)
	}
}

// Run executes every registered runner once with the current price map.
// A failing runner never stops the others; failures are combined into
// the returned error.
func (s *OrderStrategy) Run(ctx context.Context) error {
	var err error
	for _, r := range s.runners {
		if runErr := r.Run(ctx, s.ltp); runErr != nil {
			utils.GetLogger().Printf("Strategy | Runner failed in %s: %v", s.Name, runErr)
			err = multierr.Append(err, runErr)
		}
	}
	return err
}

// Save persists every basket, combining failures.
func (s *OrderStrategy) Save(ctx context.Context) error {
	var err error
	for _, co := range s.baskets {
		err = multierr.Append(err, co.Save(ctx))
	}
	return err
}
