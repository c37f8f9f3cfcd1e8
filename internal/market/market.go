// Package market holds the small market-data records the rest of the
// module consumes: trade ticks from a feed and level-2 depth snapshots.
package market

import (
	"sort"
	"time"

	"github.com/uberdeveloper/omspy/internal/utils"
)

// Tick is one trade print from a feed.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Side      string    `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// Quote is one level of market depth.
type Quote struct {
	Price       float64
	Quantity    float64
	OrdersCount int
}

// Value is the notional resting at this level.
func (q Quote) Value() float64 {
	return q.Price * q.Quantity
}

// Depth is a level-2 snapshot. Bids are expected best-first (highest
// price), asks best-first (lowest price); Sort restores that order after
// in-place edits. Tick is the instrument's price grid,
// utils.DefaultTickSize when zero.
type Depth struct {
	Bids []Quote
	Asks []Quote
	Tick float64
}

func (d *Depth) tickSize() float64 {
	if d.Tick <= 0 {
		return utils.DefaultTickSize
	}
	return d.Tick
}

// Midpoint returns the price halfway between the best bid and best ask,
// snapped to the instrument tick and rounded to two decimals. An empty
// side yields zero.
func (d *Depth) Midpoint() float64 {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return 0
	}
	a, b := d.Bids[0].Price, d.Asks[0].Price
	mp := b - a
	if mp < 0 {
		mp = -mp
	}
	mp /= 2
	lo := a
	if b < lo {
		lo = b
	}
	return utils.Round(utils.Tick(lo+mp, d.tickSize()), 2)
}

// Bid returns the bid price at depth n. Negative n counts from the end,
// so Bid(-1) is the worst level. Out of range yields zero.
func (d *Depth) Bid(n int) float64 {
	return levelPrice(d.Bids, n)
}

// Ask returns the ask price at depth n, with the same indexing as Bid.
func (d *Depth) Ask(n int) float64 {
	return levelPrice(d.Asks, n)
}

func levelPrice(levels []Quote, n int) float64 {
	if n < 0 {
		n += len(levels)
	}
	if n < 0 || n >= len(levels) {
		return 0
	}
	return levels[n].Price
}

// Sort restores price order in place: bids descending, asks ascending.
func (d *Depth) Sort() {
	sort.Slice(d.Bids, func(i, j int) bool { return d.Bids[i].Price > d.Bids[j].Price })
	sort.Slice(d.Asks, func(i, j int) bool { return d.Asks[i].Price < d.Asks[j].Price })
}
