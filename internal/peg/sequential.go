package peg

import (
	"context"
	"fmt"
	"time"

	"github.com/uberdeveloper/omspy/internal/broker"
	"github.com/uberdeveloper/omspy/internal/journal"
	"github.com/uberdeveloper/omspy/internal/order"
	"github.com/uberdeveloper/omspy/internal/utils"
)

// SequentialConfig describes an ordered chain of legs placed one at a time.
type SequentialConfig struct {
	Broker broker.Broker
	Legs   []order.Config

	// Duration is the chain lifetime from construction.
	Duration time.Duration

	// OrderArgs are merged into every leg placement; the chain's
	// sequencing does not depend on them.
	OrderArgs map[string]any

	// Journal, when set, receives an audit event per chain action.
	Journal journal.Journaler

	Store order.Store
}

// SequentialPeg walks an ordered chain of legs: the next leg is placed only
// once the previous one completes, and a canceled or rejected leg aborts
// every leg not yet sent.
type SequentialPeg struct {
	*order.CompoundOrder

	active    int
	aborted   bool
	done      bool
	orderArgs map[string]any
	journal   journal.Journaler
	expiresAt time.Time
	now       func() time.Time
}

// NewSequential builds the chain's basket and prepares every leg unplaced.
func NewSequential(cfg SequentialConfig) (*SequentialPeg, error) {
	if cfg.Broker == nil {
		return nil, fmt.Errorf("peg: a broker is required")
	}
	if len(cfg.Legs) == 0 {
		return nil, fmt.Errorf("peg: at least one leg is required")
	}
	co := order.NewCompound(cfg.Broker)
	co.Store = cfg.Store
	for _, leg := range cfg.Legs {
		if _, err := co.AddOrder(leg); err != nil {
			return nil, err
		}
	}
	d := cfg.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	p := &SequentialPeg{
		CompoundOrder: co,
		orderArgs:     cfg.OrderArgs,
		journal:       cfg.Journal,
		now:           time.Now,
	}
	p.expiresAt = p.now().Add(d)
	return p, nil
}

// Active returns the leg the chain is currently working, nil once the chain
// has finished or aborted.
func (p *SequentialPeg) Active() *order.Order {
	if p.done || p.active >= p.Count() {
		return nil
	}
	return p.At(p.active)
}

// Aborted reports whether a failed leg stopped the chain.
func (p *SequentialPeg) Aborted() bool {
	return p.aborted
}

// Done reports whether the chain has finished, aborted or expired.
func (p *SequentialPeg) Done() bool {
	return p.done
}

// HasExpired reports whether the chain's lifetime has passed.
func (p *SequentialPeg) HasExpired() bool {
	return !p.now().Before(p.expiresAt)
}

// Tick advances the chain one step: it places the first leg, moves past each
// completed leg to place its successor, and aborts on a canceled or rejected
// leg so that unplaced legs are never sent. At most one placement goes out
// per tick. The first tick past expiry cancels the working leg and the chain
// goes quiet. The bool reports whether a broker call was sent.
func (p *SequentialPeg) Tick(ctx context.Context) (bool, error) {
	if p.done {
		return false, nil
	}
	if p.HasExpired() {
		p.done = true
		return p.expire(ctx)
	}

	for p.active < p.Count() {
		leg := p.At(p.active)
		if leg.IsComplete() {
			p.active++
			continue
		}
		if leg.IsDone() {
			p.abort(leg)
			return false, nil
		}
		if leg.OrderID == "" {
			id, err := leg.Execute(ctx, p.Broker, p.orderArgs)
			if err != nil {
				p.abort(leg)
				return false, err
			}
			p.log("placed leg", map[string]any{"leg": p.active, "order_id": id})
			return true, nil
		}
		// Working at the venue; nothing to do until an update lands.
		return false, nil
	}

	p.done = true
	p.log("chain complete", map[string]any{"legs": p.Count()})
	return false, nil
}

func (p *SequentialPeg) abort(leg *order.Order) {
	p.aborted = true
	p.done = true
	p.log("chain aborted", map[string]any{"leg_id": leg.ID, "status": string(leg.Status)})
	utils.GetLogger().Printf("Peg | Chain %s aborted at leg %s (%s)", p.ID, leg.ID, leg.Status)
}

func (p *SequentialPeg) expire(ctx context.Context) (bool, error) {
	p.log("chain expired", map[string]any{"active": p.active})
	if p.active >= p.Count() {
		return false, nil
	}
	leg := p.At(p.active)
	if leg.OrderID == "" || !leg.IsPending() {
		return false, nil
	}
	ok, err := leg.Cancel(ctx, p.Broker)
	if ok {
		p.log("canceled working leg", map[string]any{"order_id": leg.OrderID})
	}
	return ok, err
}

func (p *SequentialPeg) log(description string, data map[string]any) {
	if p.journal == nil {
		return
	}
	if err := p.journal.LogEvent(journal.PegEvent(description, data)); err != nil {
		utils.GetLogger().Printf("Peg | Failed to journal %q: %v", description, err)
	}
}
