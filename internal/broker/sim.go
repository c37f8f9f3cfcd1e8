package broker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uberdeveloper/omspy/internal/utils"
)

// SimOrder is the virtual exchange's record of one placed order.
type SimOrder struct {
	OrderID          string
	Symbol           string
	Side             string
	Quantity         float64
	Price            float64
	TriggerPrice     float64
	OrderType        string
	FilledQuantity   float64
	PendingQuantity  float64
	CanceledQuantity float64
	AveragePrice     float64
	StatusMessage    string
	PlacedAt         time.Time
}

// Status derives the order status from its quantities. Canceled quantity
// with a status message starting with REJ reads as a rejection.
func (o *SimOrder) Status() string {
	switch {
	case o.Quantity == o.FilledQuantity:
		return "COMPLETE"
	case o.Quantity == o.CanceledQuantity:
		if strings.HasPrefix(strings.ToUpper(o.StatusMessage), "REJ") {
			return "REJECTED"
		}
		return "CANCELED"
	case o.FilledQuantity > 0:
		return "PENDING"
	default:
		return "OPEN"
	}
}

// Sim is a virtual exchange. Market orders fill immediately at a price drawn
// from the configured band; limit orders rest until Fill is called. Intended
// for demos and tests, so both the price source and the id source can be
// pinned down.
type Sim struct {
	mu     sync.Mutex
	orders map[string]*SimOrder

	priceLow  int
	priceHigh int
	rng       *rand.Rand
	newID     func() string

	failNext error
}

// NewSim creates a virtual exchange filling market orders within the given
// price band.
func NewSim(priceLow, priceHigh int) *Sim {
	return &Sim{
		orders:    make(map[string]*SimOrder),
		priceLow:  priceLow,
		priceHigh: priceHigh,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		newID:     func() string { return uuid.New().String() },
	}
}

// NewSimSeeded creates a deterministic virtual exchange: prices come from the
// seeded generator and order ids from newID when supplied.
func NewSimSeeded(priceLow, priceHigh int, seed int64, newID func() string) *Sim {
	s := NewSim(priceLow, priceHigh)
	s.rng = rand.New(rand.NewSource(seed))
	if newID != nil {
		s.newID = newID
	}
	return s
}

// FailNext makes the next OrderPlace return err instead of placing.
func (s *Sim) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// GeneratePrice returns a random price within the configured band.
func (s *Sim) GeneratePrice() float64 {
	low, high := s.priceLow, s.priceHigh
	if low > high {
		low, high = high, low
	}
	if low == high {
		return float64(low)
	}
	return float64(low + s.rng.Intn(high-low))
}

func (s *Sim) OrderPlace(ctx context.Context, attrs map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return "", err
	}

	o := &SimOrder{
		OrderID:      s.newID(),
		Symbol:       attrString(attrs, AttrSymbol),
		Side:         strings.ToLower(attrString(attrs, AttrSide)),
		Quantity:     attrFloat(attrs, AttrQuantity),
		Price:        attrFloat(attrs, AttrPrice),
		TriggerPrice: attrFloat(attrs, AttrTriggerPrice),
		OrderType:    strings.ToUpper(attrString(attrs, AttrOrderType)),
		PlacedAt:     time.Now(),
	}
	if o.Symbol == "" {
		return "", fmt.Errorf("sim: order without symbol")
	}
	o.PendingQuantity = o.Quantity
	if o.OrderType == "MARKET" {
		s.fill(o, s.GeneratePrice())
	}
	s.orders[o.OrderID] = o

	utils.GetLogger().Printf("Sim | Placed order %s %s %s qty=%v type=%s status=%s",
		o.OrderID, o.Side, o.Symbol, o.Quantity, o.OrderType, o.Status())
	return o.OrderID, nil
}

func (s *Sim) OrderModify(ctx context.Context, orderID string, attrs map[string]any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", orderID)
	}
	if done(o) {
		return fmt.Errorf("sim: order %s is %s", orderID, o.Status())
	}

	if v, ok := attrs[AttrPrice]; ok {
		o.Price = toFloat(v)
	}
	if v, ok := attrs[AttrTriggerPrice]; ok {
		o.TriggerPrice = toFloat(v)
	}
	if v, ok := attrs[AttrQuantity]; ok {
		o.Quantity = toFloat(v)
		o.PendingQuantity = o.Quantity - o.FilledQuantity
	}
	if v, ok := attrs[AttrOrderType]; ok {
		o.OrderType = strings.ToUpper(toString(v))
		if o.OrderType == "MARKET" {
			s.fill(o, s.GeneratePrice())
		}
	}
	return nil
}

func (s *Sim) OrderCancel(ctx context.Context, orderID string, attrs map[string]any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", orderID)
	}
	if done(o) {
		return fmt.Errorf("sim: order %s is %s", orderID, o.Status())
	}
	o.CanceledQuantity = o.Quantity - o.FilledQuantity
	o.PendingQuantity = 0
	return nil
}

// OrderStatus reports an order snapshot keyed the way Order.Update expects.
func (s *Sim) OrderStatus(ctx context.Context, orderID string) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("sim: unknown order %s", orderID)
	}
	return map[string]any{
		"status":             o.Status(),
		"filled_quantity":    o.FilledQuantity,
		"pending_quantity":   o.PendingQuantity,
		"average_price":      o.AveragePrice,
		"exchange_order_id":  o.OrderID,
		"exchange_timestamp": o.PlacedAt,
	}, nil
}

// Fill completes the outstanding quantity of a resting order at price.
func (s *Sim) Fill(orderID string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", orderID)
	}
	if done(o) {
		return fmt.Errorf("sim: order %s is %s", orderID, o.Status())
	}
	s.fill(o, price)
	return nil
}

// Reject marks a resting order rejected with the given message.
func (s *Sim) Reject(orderID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", orderID)
	}
	o.CanceledQuantity = o.Quantity - o.FilledQuantity
	o.PendingQuantity = 0
	if message == "" {
		message = "REJECTED"
	}
	o.StatusMessage = message
	return nil
}

// Get returns a copy of the order record, for inspection.
func (s *Sim) Get(orderID string) (SimOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return SimOrder{}, false
	}
	return *o, true
}

func (s *Sim) fill(o *SimOrder, price float64) {
	q := utils.UpdateQuantity(o.Quantity, o.Quantity, 0, o.CanceledQuantity)
	o.FilledQuantity = q.Filled
	o.PendingQuantity = q.Pending
	o.CanceledQuantity = q.Canceled
	if price <= 0 {
		price = o.Price
	}
	o.AveragePrice = price
}

func done(o *SimOrder) bool {
	st := o.Status()
	return st == "COMPLETE" || st == "CANCELED" || st == "REJECTED"
}

func attrString(attrs map[string]any, key string) string {
	if v, ok := attrs[key]; ok {
		return toString(v)
	}
	return ""
}

func attrFloat(attrs map[string]any, key string) float64 {
	if v, ok := attrs[key]; ok {
		return toFloat(v)
	}
	return 0
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
