// Package order implements the broker-agnostic order state engine: the
// single-order lifecycle, the basket aggregation layer and the compound
// order variants built on top of them.
package order

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/uberdeveloper/omspy/internal/broker"
	"github.com/uberdeveloper/omspy/internal/lock"
	"github.com/uberdeveloper/omspy/internal/utils"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the covering side for s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status is the canonical lifecycle status of an order.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusOpen     Status = "OPEN"
	StatusComplete Status = "COMPLETE"
	StatusCanceled Status = "CANCELED"
	StatusRejected Status = "REJECTED"
)

// ExpiryAction selects what CheckFlags does with an expired pending order.
type ExpiryAction int

const (
	ExpiryCancel ExpiryAction = iota
	ExpiryConvertToMarket
	ExpiryNone
)

// NormalizeStatus maps a broker status string onto the canonical set,
// folding case and the CANCELLED spelling.
func NormalizeStatus(s string) Status {
	up := strings.ToUpper(strings.TrimSpace(s))
	if up == "CANCELLED" {
		up = "CANCELED"
	}
	return Status(up)
}

// NormalizeSide folds an order side to its canonical lowercase form.
func NormalizeSide(s string) Side {
	return Side(strings.ToLower(strings.TrimSpace(s)))
}

// Config is the construction surface of an Order. Zero values get the usual
// defaults: quantity 1, order type MARKET, validity DAY, expiry at end of
// day, modification cap 10.
type Config struct {
	Symbol            string
	Side              Side
	Quantity          float64
	OrderType         string
	Price             float64
	TriggerPrice      float64
	DisclosedQuantity float64
	Product           string
	Exchange          string
	Validity          string
	Tag               string

	// ExpiresIn is relative to the creation timestamp; zero means end of
	// the creation day. The sign is ignored.
	ExpiresIn    time.Duration
	ExpiryAction ExpiryAction

	MaxModifications int

	// Extra carries broker-specific attributes, forwarded verbatim.
	Extra map[string]any

	// Pre-seeded identity and execution state, for orders reconstructed
	// from a broker feed or a store.
	ID               string
	ParentID         string
	Timestamp        time.Time
	OrderID          string
	ExchangeOrderID  string
	Status           Status
	FilledQuantity   float64
	CanceledQuantity float64
	AveragePrice     float64

	Broker broker.Broker
	Store  Store
}

// Order is a single order's state and lifecycle. Mutating methods are meant
// to be called from one logical thread; the embedded lock is a cooperative
// time-gate, not a mutex.
type Order struct {
	ID       string
	ParentID string

	Symbol            string
	Side              Side
	Quantity          float64
	OrderType         string
	Price             float64
	TriggerPrice      float64
	DisclosedQuantity float64
	Product           string
	Exchange          string
	Validity          string
	Tag               string
	Extra             map[string]any

	Status            Status
	OrderID           string
	ExchangeOrderID   string
	FilledQuantity    float64
	PendingQuantity   float64
	CanceledQuantity  float64
	AveragePrice      float64
	Timestamp         time.Time
	ExchangeTimestamp time.Time
	LastUpdatedAt     time.Time

	ExpiresAt        time.Time
	ExpiryAction     ExpiryAction
	MaxModifications int

	Broker broker.Broker
	Store  Store

	expiresIn     time.Duration
	modifications int
	lock          *lock.OrderLock
	now           func() time.Time
}

// New validates cfg and builds an order in its initial pending state.
func New(cfg Config) (*Order, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("order: symbol is required")
	}
	side := NormalizeSide(string(cfg.Side))
	if side != SideBuy && side != SideSell {
		return nil, fmt.Errorf("order: side must be buy or sell, got %q", cfg.Side)
	}
	if cfg.Quantity < 0 {
		return nil, fmt.Errorf("order: quantity must not be negative")
	}

	o := &Order{
		ID:                cfg.ID,
		ParentID:          cfg.ParentID,
		Symbol:            cfg.Symbol,
		Side:              side,
		Quantity:          cfg.Quantity,
		OrderType:         strings.ToUpper(cfg.OrderType),
		Price:             cfg.Price,
		TriggerPrice:      cfg.TriggerPrice,
		DisclosedQuantity: cfg.DisclosedQuantity,
		Product:           cfg.Product,
		Exchange:          cfg.Exchange,
		Validity:          cfg.Validity,
		Tag:               cfg.Tag,
		Extra:             cfg.Extra,
		OrderID:           cfg.OrderID,
		ExchangeOrderID:   cfg.ExchangeOrderID,
		FilledQuantity:    cfg.FilledQuantity,
		CanceledQuantity:  cfg.CanceledQuantity,
		AveragePrice:      cfg.AveragePrice,
		Timestamp:         cfg.Timestamp,
		ExpiryAction:      cfg.ExpiryAction,
		MaxModifications:  cfg.MaxModifications,
		Broker:            cfg.Broker,
		Store:             cfg.Store,
		expiresIn:         cfg.ExpiresIn,
		now:               time.Now,
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Quantity == 0 {
		o.Quantity = 1
	}
	if o.OrderType == "" {
		o.OrderType = "MARKET"
	}
	if o.Validity == "" {
		o.Validity = "DAY"
	}
	if o.MaxModifications == 0 {
		o.MaxModifications = 10
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = o.now()
	}
	if cfg.Status != "" {
		o.Status = NormalizeStatus(string(cfg.Status))
	} else {
		o.Status = StatusPending
	}
	o.PendingQuantity = o.Quantity - o.FilledQuantity
	if o.expiresIn < 0 {
		o.expiresIn = -o.expiresIn
	}
	if o.expiresIn == 0 {
		o.ExpiresAt = endOfDay(o.Timestamp)
	} else {
		o.ExpiresAt = o.Timestamp.Add(o.expiresIn)
	}
	o.lock = lock.New()
	return o, nil
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

// IsComplete reports whether the order is fully filled, either by quantity
// or by a COMPLETE status, or has no quantity left outstanding.
func (o *Order) IsComplete() bool {
	switch {
	case o.Quantity == o.FilledQuantity:
		return true
	case o.Status == StatusComplete:
		return true
	case o.FilledQuantity+o.CanceledQuantity == o.Quantity:
		return true
	default:
		return false
	}
}

// IsPending reports whether the order still has quantity working at the
// exchange. A terminal status makes it not pending regardless of quantity.
func (o *Order) IsPending() bool {
	switch o.Status {
	case StatusComplete, StatusCanceled, StatusRejected:
		return false
	}
	return o.FilledQuantity+o.CanceledQuantity < o.Quantity
}

// IsDone reports whether the order has reached a terminal state.
func (o *Order) IsDone() bool {
	if o.IsComplete() {
		return true
	}
	switch o.Status {
	case StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// TimeToExpiry returns the remaining time until expiry, zero once expired.
func (o *Order) TimeToExpiry() time.Duration {
	d := o.ExpiresAt.Sub(o.now())
	if d < 0 {
		return 0
	}
	return d
}

// TimeAfterExpiry returns the time elapsed since expiry, zero before it.
func (o *Order) TimeAfterExpiry() time.Duration {
	d := o.now().Sub(o.ExpiresAt)
	if d < 0 {
		return 0
	}
	return d
}

// HasExpired reports whether the expiry instant has passed.
func (o *Order) HasExpired() bool {
	return o.TimeToExpiry() == 0
}

// HasParent reports whether the order was spawned by a basket, clone or peg.
func (o *Order) HasParent() bool {
	return o.ParentID != ""
}

// Lock exposes the order's time-gate.
func (o *Order) Lock() *lock.OrderLock {
	if o.lock == nil {
		o.lock = lock.New()
	}
	return o.lock
}

// AddLock arms the modify or cancel window for d from now.
func (o *Order) AddLock(kind lock.Kind, d time.Duration) {
	o.Lock().For(kind, d)
}

// Modifications returns how many successful modifications have been sent.
func (o *Order) Modifications() int {
	return o.modifications
}

// Execute places the order through b, or through the order's own broker when
// b is nil. Placement is skipped and the existing id returned when the order
// is complete or already has a broker order id. The attribute map sent to
// the broker is built from the order's attributes, overlaid with the order's
// extra attributes and any call extras, then topped up with the broker's
// declared defaults for keys still unset.
func (o *Order) Execute(ctx context.Context, b broker.Broker, extras ...map[string]any) (string, error) {
	if o.IsComplete() || o.OrderID != "" {
		return o.OrderID, nil
	}
	if b == nil {
		b = o.Broker
	}
	if b == nil {
		return "", fmt.Errorf("order %s: no broker to execute against", o.ID)
	}

	attrs := o.placeAttrs()
	for k, v := range o.Extra {
		attrs[k] = v
	}
	for _, extra := range extras {
		for k, v := range extra {
			attrs[k] = v
		}
	}
	if d, ok := b.(broker.Defaulter); ok {
		for k, v := range d.OrderDefaults() {
			if _, set := attrs[k]; !set {
				attrs[k] = v
			}
		}
	}

	orderID, err := b.OrderPlace(ctx, attrs)
	if err != nil {
		return "", fmt.Errorf("order %s: place: %w", o.ID, err)
	}
	o.OrderID = orderID
	o.Status = StatusOpen
	if p, ok := b.(broker.PropertyProvider); ok {
		o.applyProperties(p.OrderProperties())
	}
	if err := o.Save(ctx); err != nil {
		utils.GetLogger().Printf("Order | Failed to save order %s after placement: %v", o.ID, err)
	}
	return orderID, nil
}

// Modify asks the broker to modify the working order. It returns false with
// a nil error when refused locally: the order is done, the modify lock is
// held, the modification cap is reached, or the order was never placed.
// Frozen attributes (symbol, side) in changes are ignored. Local state picks
// up the changes only after the broker accepts them.
func (o *Order) Modify(ctx context.Context, b broker.Broker, changes map[string]any) (bool, error) {
	if o.IsDone() {
		return false, nil
	}
	if !o.Lock().CanModify() {
		utils.GetLogger().Printf("Order | Not modifying %s, modify lock held", o.ID)
		return false, nil
	}
	if o.modifications >= o.MaxModifications {
		utils.GetLogger().Printf("Order | Not modifying %s, cap of %d reached", o.ID, o.MaxModifications)
		return false, nil
	}
	if o.OrderID == "" {
		utils.GetLogger().Printf("Order | Not modifying %s, never placed", o.ID)
		return false, nil
	}
	if b == nil {
		b = o.Broker
	}
	if b == nil {
		return false, fmt.Errorf("order %s: no broker to modify against", o.ID)
	}

	attrs := o.modifyAttrs()
	for k, v := range changes {
		switch k {
		case broker.AttrSymbol, broker.AttrSide:
			continue
		}
		attrs[k] = v
	}

	if err := b.OrderModify(ctx, o.OrderID, attrs); err != nil {
		return false, fmt.Errorf("order %s: modify: %w", o.ID, err)
	}
	o.applyChanges(changes)
	o.modifications++
	if err := o.Save(ctx); err != nil {
		utils.GetLogger().Printf("Order | Failed to save order %s after modify: %v", o.ID, err)
	}
	return true, nil
}

// Cancel asks the broker to cancel the working order. It returns false with
// a nil error when refused locally: the order is done, was never placed, or
// the cancel lock is held. The status changes only once an update confirms
// the cancellation.
func (o *Order) Cancel(ctx context.Context, b broker.Broker) (bool, error) {
	if o.IsDone() {
		return false, nil
	}
	if o.OrderID == "" {
		utils.GetLogger().Printf("Order | Not canceling %s, never placed", o.ID)
		return false, nil
	}
	if !o.Lock().CanCancel() {
		utils.GetLogger().Printf("Order | Not canceling %s, cancel lock held", o.ID)
		return false, nil
	}
	if b == nil {
		b = o.Broker
	}
	if b == nil {
		return false, fmt.Errorf("order %s: no broker to cancel against", o.ID)
	}
	if err := b.OrderCancel(ctx, o.OrderID, nil); err != nil {
		return false, fmt.Errorf("order %s: cancel: %w", o.ID, err)
	}
	return true, nil
}

// updatable is the whitelist of keys Update accepts from a broker snapshot.
var updatable = map[string]struct{}{
	"exchange_timestamp": {},
	"exchange_order_id":  {},
	"status":             {},
	"filled_quantity":    {},
	"pending_quantity":   {},
	"disclosed_quantity": {},
	"average_price":      {},
}

// Update applies a broker snapshot onto the order. Terminal orders ignore
// updates and report false. Keys outside the whitelist are ignored; a
// malformed value rejects the whole snapshot without touching any state.
// Pending quantity is recomputed unless the snapshot carries it.
func (o *Order) Update(data map[string]any) bool {
	if o.IsDone() {
		return false
	}

	var stages []func()
	for key := range updatable {
		v, ok := data[key]
		if !ok || v == nil {
			continue
		}
		switch key {
		case "status":
			s, ok := v.(string)
			if !ok {
				return false
			}
			stages = append(stages, func() { o.Status = NormalizeStatus(s) })
		case "exchange_order_id":
			s, ok := v.(string)
			if !ok {
				return false
			}
			stages = append(stages, func() { o.ExchangeOrderID = s })
		case "exchange_timestamp":
			ts, ok := coerceTime(v)
			if !ok {
				return false
			}
			stages = append(stages, func() { o.ExchangeTimestamp = ts })
		default:
			f, ok := coerceFloat(v)
			if !ok {
				return false
			}
			key := key
			stages = append(stages, func() {
				switch key {
				case "filled_quantity":
					o.FilledQuantity = f
				case "pending_quantity":
					o.PendingQuantity = f
				case "disclosed_quantity":
					o.DisclosedQuantity = f
				case "average_price":
					o.AveragePrice = f
				}
			})
		}
	}

	for _, apply := range stages {
		apply()
	}
	if _, ok := data["pending_quantity"]; !ok {
		o.PendingQuantity = o.Quantity - o.FilledQuantity
	}
	o.LastUpdatedAt = o.now()
	return true
}

// Clone returns a fresh, unplaced copy of the order: trade attributes and
// policy carry over, identity and execution state do not. The clone's parent
// id points back at this order.
func (o *Order) Clone() *Order {
	var extra map[string]any
	if o.Extra != nil {
		extra = make(map[string]any, len(o.Extra))
		for k, v := range o.Extra {
			extra[k] = v
		}
	}
	clone, _ := New(Config{
		Symbol:            o.Symbol,
		Side:              o.Side,
		Quantity:          o.Quantity,
		OrderType:         o.OrderType,
		Price:             o.Price,
		TriggerPrice:      o.TriggerPrice,
		DisclosedQuantity: o.DisclosedQuantity,
		Product:           o.Product,
		Exchange:          o.Exchange,
		Validity:          o.Validity,
		Tag:               o.Tag,
		ExpiresIn:         o.expiresIn,
		ExpiryAction:      o.ExpiryAction,
		MaxModifications:  o.MaxModifications,
		Extra:             extra,
		ParentID:          o.ID,
		Broker:            o.Broker,
		Store:             o.Store,
	})
	return clone
}

// Save upserts the order into its store. Without a store it is a no-op.
func (o *Order) Save(ctx context.Context) error {
	if o.Store == nil {
		return nil
	}
	if err := o.Store.SaveOrder(ctx, o.Snapshot()); err != nil {
		return fmt.Errorf("order %s: save: %w", o.ID, err)
	}
	return nil
}

// placeAttrs builds the base attribute map for a placement call.
func (o *Order) placeAttrs() map[string]any {
	attrs := map[string]any{
		broker.AttrSymbol:    strings.ToUpper(o.Symbol),
		broker.AttrSide:      strings.ToUpper(string(o.Side)),
		broker.AttrOrderType: strings.ToUpper(o.OrderType),
		broker.AttrQuantity:  o.Quantity,
		broker.AttrPrice:     o.Price,
		"trigger_price":      o.TriggerPrice,
		"disclosed_quantity": o.DisclosedQuantity,
	}
	if o.Product != "" {
		attrs["product"] = o.Product
	}
	if o.Exchange != "" {
		attrs["exchange"] = o.Exchange
	}
	if o.Validity != "" {
		attrs["validity"] = o.Validity
	}
	if o.Tag != "" {
		attrs["tag"] = o.Tag
	}
	return attrs
}

// modifyAttrs builds the base attribute map for a modification call.
func (o *Order) modifyAttrs() map[string]any {
	return map[string]any{
		broker.AttrQuantity:  o.Quantity,
		broker.AttrPrice:     o.Price,
		"trigger_price":      o.TriggerPrice,
		broker.AttrOrderType: strings.ToUpper(o.OrderType),
		"disclosed_quantity": o.DisclosedQuantity,
	}
}

// applyChanges folds accepted modification values into the order. Known
// attribute keys land on their fields, frozen ones are skipped, and keys
// already present in Extra are refreshed there; anything else was a one-off
// argument for the broker and is not retained.
func (o *Order) applyChanges(changes map[string]any) {
	for k, v := range changes {
		switch k {
		case broker.AttrSymbol, broker.AttrSide:
			continue
		case broker.AttrQuantity:
			if f, ok := coerceFloat(v); ok {
				o.Quantity = f
				o.PendingQuantity = o.Quantity - o.FilledQuantity
			}
		case broker.AttrPrice:
			if f, ok := coerceFloat(v); ok {
				o.Price = f
			}
		case broker.AttrTriggerPrice:
			if f, ok := coerceFloat(v); ok {
				o.TriggerPrice = f
			}
		case broker.AttrOrderType:
			if s, ok := v.(string); ok {
				o.OrderType = strings.ToUpper(s)
			}
		case "disclosed_quantity":
			if f, ok := coerceFloat(v); ok {
				o.DisclosedQuantity = f
			}
		case "validity":
			if s, ok := v.(string); ok {
				o.Validity = s
			}
		case "tag":
			if s, ok := v.(string); ok {
				o.Tag = s
			}
		default:
			if o.Extra != nil {
				if _, exists := o.Extra[k]; exists {
					o.Extra[k] = v
				}
			}
		}
	}
}

// applyProperties copies broker-declared properties onto the order after
// placement. Known keys land on their fields, the rest go into Extra.
func (o *Order) applyProperties(props map[string]any) {
	if len(props) == 0 {
		return
	}
	for k, v := range props {
		switch k {
		case "exchange":
			if s, ok := v.(string); ok {
				o.Exchange = s
			}
		case "product":
			if s, ok := v.(string); ok {
				o.Product = s
			}
		case "validity":
			if s, ok := v.(string); ok {
				o.Validity = s
			}
		case "exchange_order_id":
			if s, ok := v.(string); ok {
				o.ExchangeOrderID = s
			}
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]any)
			}
			o.Extra[k] = v
		}
	}
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		ts, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	default:
		return time.Time{}, false
	}
}
