package order

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/uberdeveloper/omspy/internal/broker"
	"github.com/uberdeveloper/omspy/internal/utils"
)

// CompoundOrder is an ordered, key-addressable basket of orders sharing one
// broker and store. Orders added without their own broker or store inherit
// the basket's, resolved once at add time. Aggregates are recomputed on
// every call, never cached.
type CompoundOrder struct {
	ID     string
	Broker broker.Broker
	Store  Store

	// DefaultArgs are extra attributes applied to every ExecuteAll
	// placement; per-call extras override them.
	DefaultArgs map[string]any

	// LTP holds the last traded price per symbol, fed by UpdateLTP.
	LTP map[string]float64

	orders []*Order
	keys   map[string]int
}

// NewCompound creates an empty basket driven through b.
func NewCompound(b broker.Broker) *CompoundOrder {
	return &CompoundOrder{
		ID:     uuid.New().String(),
		Broker: b,
		LTP:    make(map[string]float64),
		keys:   make(map[string]int),
	}
}

// AddOption configures how an order is added to a basket.
type AddOption func(*addConfig)

type addConfig struct {
	key string
}

// WithKey registers the order under a caller-chosen key instead of its
// positional index.
func WithKey(key string) AddOption {
	return func(c *addConfig) { c.key = key }
}

// AddOrder builds an order from cfg and appends it to the basket. The order
// gets the basket as parent and inherits the basket's broker and store when
// it carries none. Reusing a key is an error and leaves the basket unchanged.
func (co *CompoundOrder) AddOrder(cfg Config, opts ...AddOption) (*Order, error) {
	cfg.ParentID = co.ID
	if cfg.Broker == nil {
		cfg.Broker = co.Broker
	}
	if cfg.Store == nil {
		cfg.Store = co.Store
	}
	o, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := co.attach(o, opts...); err != nil {
		return nil, err
	}
	return o, nil
}

// Add appends an existing order to the basket under the same rules as
// AddOrder.
func (co *CompoundOrder) Add(o *Order, opts ...AddOption) error {
	if o == nil {
		return fmt.Errorf("basket %s: cannot add nil order", co.ID)
	}
	o.ParentID = co.ID
	if o.Broker == nil {
		o.Broker = co.Broker
	}
	if o.Store == nil {
		o.Store = co.Store
	}
	return co.attach(o, opts...)
}

func (co *CompoundOrder) attach(o *Order, opts ...AddOption) error {
	var c addConfig
	for _, opt := range opts {
		opt(&c)
	}
	key := c.key
	if key == "" {
		key = strconv.Itoa(len(co.orders))
	}
	if _, exists := co.keys[key]; exists {
		return fmt.Errorf("basket %s: key %q already in use", co.ID, key)
	}
	co.orders = append(co.orders, o)
	co.keys[key] = len(co.orders) - 1
	if err := o.Save(context.Background()); err != nil {
		utils.GetLogger().Printf("Basket | Failed to save order %s on add: %v", o.ID, err)
	}
	return nil
}

// Get returns the order registered under key, nil when absent.
func (co *CompoundOrder) Get(key string) *Order {
	if i, ok := co.keys[key]; ok {
		return co.orders[i]
	}
	return nil
}

// At returns the order at positional index i, nil when out of range.
func (co *CompoundOrder) At(i int) *Order {
	if i < 0 || i >= len(co.orders) {
		return nil
	}
	return co.orders[i]
}

// Orders returns the basket's orders in insertion order.
func (co *CompoundOrder) Orders() []*Order {
	out := make([]*Order, len(co.orders))
	copy(out, co.orders)
	return out
}

// Count returns the number of orders in the basket.
func (co *CompoundOrder) Count() int {
	return len(co.orders)
}

// keyOf returns the registered key for an order position.
func (co *CompoundOrder) keyOf(idx int) string {
	for k, i := range co.keys {
		if i == idx {
			return k
		}
	}
	return strconv.Itoa(idx)
}

// Positions folds filled quantities into a net position per symbol, buys
// positive, sells negative.
func (co *CompoundOrder) Positions() map[string]float64 {
	out := make(map[string]float64)
	for _, o := range co.orders {
		qty := o.FilledQuantity
		if o.Side == SideSell {
			qty = -qty
		}
		out[o.Symbol] += qty
	}
	return out
}

// BuyQuantity returns the total filled buy quantity per symbol.
func (co *CompoundOrder) BuyQuantity() map[string]float64 {
	return co.totalQuantity(SideBuy)
}

// SellQuantity returns the total filled sell quantity per symbol.
func (co *CompoundOrder) SellQuantity() map[string]float64 {
	return co.totalQuantity(SideSell)
}

func (co *CompoundOrder) totalQuantity(side Side) map[string]float64 {
	out := make(map[string]float64)
	for _, o := range co.orders {
		qty := o.FilledQuantity
		if qty < 0 {
			qty = -qty
		}
		if o.Side == side && qty > 0 {
			out[o.Symbol] += qty
		}
	}
	return out
}

// AverageBuyPrice returns the fill-value-weighted mean buy price per symbol.
// Symbols without buy fills are absent from the map.
func (co *CompoundOrder) AverageBuyPrice() map[string]float64 {
	return co.averagePrice(SideBuy)
}

// AverageSellPrice returns the fill-value-weighted mean sell price per
// symbol. Symbols without sell fills are absent from the map.
func (co *CompoundOrder) AverageSellPrice() map[string]float64 {
	return co.averagePrice(SideSell)
}

func (co *CompoundOrder) averagePrice(side Side) map[string]float64 {
	values := make(map[string]float64)
	quantities := make(map[string]float64)
	for _, o := range co.orders {
		if o.Side != side || o.FilledQuantity <= 0 {
			continue
		}
		values[o.Symbol] += o.AveragePrice * o.FilledQuantity
		quantities[o.Symbol] += o.FilledQuantity
	}
	out := make(map[string]float64)
	for symbol, value := range values {
		if q := quantities[symbol]; q > 0 {
			out[symbol] = value / q
		}
	}
	return out
}

// NetValue returns the signed traded value per symbol: filled quantity times
// average fill price, sells negative.
func (co *CompoundOrder) NetValue() map[string]float64 {
	out := make(map[string]float64)
	for _, o := range co.orders {
		if o.FilledQuantity <= 0 {
			continue
		}
		value := o.FilledQuantity * o.AveragePrice
		if o.Side == SideSell {
			value = -value
		}
		out[o.Symbol] += value
	}
	return out
}

// UpdateLTP merges last traded prices into the basket.
func (co *CompoundOrder) UpdateLTP(prices map[string]float64) map[string]float64 {
	if co.LTP == nil {
		co.LTP = make(map[string]float64)
	}
	for symbol, price := range prices {
		co.LTP[symbol] = price
	}
	return co.LTP
}

// MTM returns the unrealized profit and loss per symbol: position marked at
// the last traded price minus the net traded value. A symbol without an LTP
// contributes only its traded value leg.
func (co *CompoundOrder) MTM() map[string]float64 {
	out := make(map[string]float64)
	for symbol, value := range co.NetValue() {
		out[symbol] -= value
	}
	for symbol, qty := range co.Positions() {
		if ltp, ok := co.LTP[symbol]; ok {
			out[symbol] += qty * ltp
		}
	}
	return out
}

// TotalMTM sums MTM across symbols.
func (co *CompoundOrder) TotalMTM() float64 {
	var total float64
	for _, v := range co.MTM() {
		total += v
	}
	return total
}

// CompletedOrders returns the orders that are complete.
func (co *CompoundOrder) CompletedOrders() []*Order {
	var out []*Order
	for _, o := range co.orders {
		if o.IsComplete() {
			out = append(out, o)
		}
	}
	return out
}

// PendingOrders returns the orders still working.
func (co *CompoundOrder) PendingOrders() []*Order {
	var out []*Order
	for _, o := range co.orders {
		if o.IsPending() {
			out = append(out, o)
		}
	}
	return out
}

// ExecuteAll places every order that is not already done. The result map is
// keyed by basket key; one order's failure does not stop the rest. Basket
// default args apply to every placement, per-call extras override them.
func (co *CompoundOrder) ExecuteAll(ctx context.Context, extras ...map[string]any) map[string]error {
	results := make(map[string]error)
	for idx, o := range co.orders {
		if o.IsDone() {
			continue
		}
		args := make(map[string]any, len(co.DefaultArgs))
		for k, v := range co.DefaultArgs {
			args[k] = v
		}
		for _, extra := range extras {
			for k, v := range extra {
				args[k] = v
			}
		}
		_, err := o.Execute(ctx, o.Broker, args)
		results[co.keyOf(idx)] = err
	}
	return results
}

// ModifyAll applies the same changes to every order that is not done,
// keyed by basket key. Local refusals surface as nil entries, the same as
// successes; broker failures carry the error.
func (co *CompoundOrder) ModifyAll(ctx context.Context, changes map[string]any) map[string]error {
	results := make(map[string]error)
	for idx, o := range co.orders {
		if o.IsDone() {
			continue
		}
		_, err := o.Modify(ctx, o.Broker, changes)
		results[co.keyOf(idx)] = err
	}
	return results
}

// CancelAll cancels every order that is not done, keyed by basket key.
func (co *CompoundOrder) CancelAll(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for idx, o := range co.orders {
		if o.IsDone() {
			continue
		}
		_, err := o.Cancel(ctx, o.Broker)
		results[co.keyOf(idx)] = err
	}
	return results
}

// UpdateOrders applies broker snapshots, keyed by broker order id, onto the
// basket's pending orders. Each pending order reports true only when a
// snapshot was present and applied cleanly; malformed or missing entries
// mark that order false without disturbing the rest.
func (co *CompoundOrder) UpdateOrders(ctx context.Context, data map[string]map[string]any) map[string]bool {
	results := make(map[string]bool)
	for _, o := range co.PendingOrders() {
		snapshot, ok := data[o.OrderID]
		if !ok || snapshot == nil {
			results[o.OrderID] = false
			continue
		}
		updated := o.Update(snapshot)
		results[o.OrderID] = updated
		if updated {
			if err := o.Save(ctx); err != nil {
				utils.GetLogger().Printf("Basket | Failed to save order %s after update: %v", o.ID, err)
			}
		}
	}
	return results
}

// CheckFlags sweeps the basket for expired pending orders and applies each
// order's expiry action: convert to a market order, cancel, or leave alone.
func (co *CompoundOrder) CheckFlags(ctx context.Context) {
	for _, o := range co.orders {
		if !o.IsPending() || !o.HasExpired() {
			continue
		}
		switch o.ExpiryAction {
		case ExpiryConvertToMarket:
			ok, err := o.Modify(ctx, o.Broker, map[string]any{
				broker.AttrOrderType:    "MARKET",
				broker.AttrPrice:        0.0,
				broker.AttrTriggerPrice: 0.0,
			})
			if err != nil {
				utils.GetLogger().Printf("Basket | Failed to convert expired order %s to market: %v", o.ID, err)
			} else if ok {
				utils.GetLogger().Printf("Basket | Converted expired order %s to market", o.ID)
			}
		case ExpiryCancel:
			ok, err := o.Cancel(ctx, o.Broker)
			if err != nil {
				utils.GetLogger().Printf("Basket | Failed to cancel expired order %s: %v", o.ID, err)
			} else if ok {
				utils.GetLogger().Printf("Basket | Canceled expired order %s", o.ID)
			}
		}
	}
}

// Save upserts every order in the basket, aggregating the individual
// failures; a failed row does not stop the others.
func (co *CompoundOrder) Save(ctx context.Context) error {
	var err error
	for _, o := range co.orders {
		err = multierr.Append(err, o.Save(ctx))
	}
	return err
}
