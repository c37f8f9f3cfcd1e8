// Package broker defines the contract between the order layer and a
// brokerage backend, along with the adapters shipped with the module.
package broker

import "context"

// Attribute keys recognized across adapters. Anything else in an attribute
// map is broker-specific and forwarded verbatim.
const (
	AttrSymbol       = "symbol"
	AttrSide         = "side"
	AttrQuantity     = "quantity"
	AttrOrderType    = "order_type"
	AttrPrice        = "price"
	AttrTriggerPrice = "trigger_price"
)

// Broker places, modifies and cancels orders on a backend. Calls are
// synchronous round-trips; retry and backoff policy belongs to the caller.
type Broker interface {
	OrderPlace(ctx context.Context, attrs map[string]any) (string, error)
	OrderModify(ctx context.Context, orderID string, attrs map[string]any) error
	OrderCancel(ctx context.Context, orderID string, attrs map[string]any) error
}

// Defaulter is implemented by brokers that declare default attributes to
// merge into every placement. Explicit caller values win over defaults.
type Defaulter interface {
	OrderDefaults() map[string]any
}

// PropertyProvider is implemented by brokers that declare extra properties
// to copy onto an order after successful placement.
type PropertyProvider interface {
	OrderProperties() map[string]any
}

// StatusReader is implemented by brokers that can report an order snapshot
// for polling. The snapshot uses the same keys Order.Update consumes.
type StatusReader interface {
	OrderStatus(ctx context.Context, orderID string) (map[string]any, error)
}
