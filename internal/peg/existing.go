// Package peg implements price-chasing order strategies: ExistingPeg walks
// one working order's price toward a moving reference, SequentialPeg places
// an ordered chain of legs one completion at a time. Neither runs its own
// timer; the owning strategy ticks them.
package peg

import (
	"context"
	"fmt"
	"time"

	"github.com/uberdeveloper/omspy/internal/broker"
	"github.com/uberdeveloper/omspy/internal/journal"
	"github.com/uberdeveloper/omspy/internal/lock"
	"github.com/uberdeveloper/omspy/internal/order"
	"github.com/uberdeveloper/omspy/internal/utils"
)

// DefaultDuration is a peg's lifetime when the config leaves it unset.
const DefaultDuration = time.Minute

// ExistingConfig attaches a peg to an already constructed order.
type ExistingConfig struct {
	Order  *order.Order
	Broker broker.Broker

	// StepSize caps how far a single tick may move the price toward the
	// reference. Zero jumps straight to the reference.
	StepSize float64

	// TickSize rounds every re-price onto the instrument grid,
	// utils.DefaultTickSize when zero.
	TickSize float64

	// Duration is the peg lifetime from construction.
	Duration time.Duration

	// LockFor arms the order's modify lock after each accepted re-price,
	// spacing out re-prices when the caller ticks faster than intended.
	LockFor time.Duration

	// OnExpiry picks what happens to a still-working leg on the first tick
	// past expiry. The zero value cancels it.
	OnExpiry order.ExpiryAction

	// Journal, when set, receives an audit event per peg action.
	Journal journal.Journaler
}

// ExistingPeg nudges one working order's price toward a moving reference on
// every tick until the order fills or the peg expires.
type ExistingPeg struct {
	order    *order.Order
	broker   broker.Broker
	step     float64
	tickSize float64
	lockFor  time.Duration
	onExpiry order.ExpiryAction
	journal  journal.Journaler

	expiresAt time.Time
	done      bool
	now       func() time.Time
}

// NewExisting builds a peg around cfg.Order. The peg's clock starts now.
func NewExisting(cfg ExistingConfig) (*ExistingPeg, error) {
	if cfg.Order == nil {
		return nil, fmt.Errorf("peg: an order to peg is required")
	}
	tick := cfg.TickSize
	if tick <= 0 {
		tick = utils.DefaultTickSize
	}
	d := cfg.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	p := &ExistingPeg{
		order:    cfg.Order,
		broker:   cfg.Broker,
		step:     cfg.StepSize,
		tickSize: tick,
		lockFor:  cfg.LockFor,
		onExpiry: cfg.OnExpiry,
		journal:  cfg.Journal,
		now:      time.Now,
	}
	p.expiresAt = p.now().Add(d)
	return p, nil
}

// Order returns the pegged leg.
func (p *ExistingPeg) Order() *order.Order {
	return p.order
}

// Done reports whether the peg has stopped ticking, either because it
// expired or because the leg reached a terminal state.
func (p *ExistingPeg) Done() bool {
	return p.done || p.order.IsDone()
}

// HasExpired reports whether the peg's lifetime has passed.
func (p *ExistingPeg) HasExpired() bool {
	return !p.now().Before(p.expiresAt)
}

// Tick re-evaluates the peg against the reference price. Before expiry it
// re-prices the leg toward ref, tick-rounded and capped by the step size;
// every accepted re-price counts against the order's modification cap and
// respects its lock. The first tick past expiry applies the expiry action
// instead and the peg goes quiet. The bool reports whether a broker call
// was sent and accepted.
func (p *ExistingPeg) Tick(ctx context.Context, ref float64) (bool, error) {
	if p.Done() {
		return false, nil
	}
	if p.HasExpired() {
		p.done = true
		return p.expire(ctx)
	}

	target := p.nextPrice(p.order.Price, ref)
	if target == p.order.Price {
		return false, nil
	}
	ok, err := p.order.Modify(ctx, p.broker, map[string]any{broker.AttrPrice: target})
	if err != nil {
		return false, err
	}
	if ok {
		if p.lockFor > 0 {
			p.order.AddLock(lock.Modify, p.lockFor)
		}
		p.log("repriced leg", map[string]any{
			"order_id": p.order.OrderID,
			"price":    target,
			"ref":      ref,
		})
	}
	return ok, nil
}

// nextPrice moves current toward ref by at most one step, rounded onto the
// tick grid.
func (p *ExistingPeg) nextPrice(current, ref float64) float64 {
	if p.step <= 0 {
		return utils.Tick(ref, p.tickSize)
	}
	diff := ref - current
	if diff > p.step {
		diff = p.step
	} else if diff < -p.step {
		diff = -p.step
	}
	return utils.Tick(current+diff, p.tickSize)
}

func (p *ExistingPeg) expire(ctx context.Context) (bool, error) {
	if !p.order.IsPending() {
		return false, nil
	}
	switch p.onExpiry {
	case order.ExpiryConvertToMarket:
		ok, err := p.order.Modify(ctx, p.broker, map[string]any{
			broker.AttrOrderType:    "MARKET",
			broker.AttrPrice:        0.0,
			broker.AttrTriggerPrice: 0.0,
		})
		if ok {
			p.log("expired, converted leg to market", map[string]any{"order_id": p.order.OrderID})
		}
		return ok, err
	case order.ExpiryCancel:
		ok, err := p.order.Cancel(ctx, p.broker)
		if ok {
			p.log("expired, canceled leg", map[string]any{"order_id": p.order.OrderID})
		}
		return ok, err
	default:
		p.log("expired, leg left working", map[string]any{"order_id": p.order.OrderID})
		return false, nil
	}
}

func (p *ExistingPeg) log(description string, data map[string]any) {
	if p.journal == nil {
		return
	}
	if err := p.journal.LogEvent(journal.PegEvent(description, data)); err != nil {
		utils.GetLogger().Printf("Peg | Failed to journal %q: %v", description, err)
	}
}
