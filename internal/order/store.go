package order

import (
	"context"
	"time"

	"github.com/uberdeveloper/omspy/internal/journal"
)

// Snapshot is the persisted form of an order, one row per order id.
type Snapshot struct {
	ID                string
	ParentID          string
	Symbol            string
	Side              string
	Quantity          float64
	OrderType         string
	Price             float64
	TriggerPrice      float64
	AveragePrice      float64
	FilledQuantity    float64
	PendingQuantity   float64
	CanceledQuantity  float64
	DisclosedQuantity float64
	Product           string
	Exchange          string
	Validity          string
	Tag               string
	Status            string
	OrderID           string
	ExchangeOrderID   string
	Timestamp         time.Time
	ExchangeTimestamp time.Time
	LastUpdatedAt     time.Time
	ExpiresAt         time.Time
	MaxModifications  int
	Modifications     int
	Extra             map[string]any
}

// Snapshot captures the order's current persisted state.
func (o *Order) Snapshot() Snapshot {
	var extra map[string]any
	if len(o.Extra) > 0 {
		extra = make(map[string]any, len(o.Extra))
		for k, v := range o.Extra {
			extra[k] = v
		}
	}
	return Snapshot{
		ID:                o.ID,
		ParentID:          o.ParentID,
		Symbol:            o.Symbol,
		Side:              string(o.Side),
		Quantity:          o.Quantity,
		OrderType:         o.OrderType,
		Price:             o.Price,
		TriggerPrice:      o.TriggerPrice,
		AveragePrice:      o.AveragePrice,
		FilledQuantity:    o.FilledQuantity,
		PendingQuantity:   o.PendingQuantity,
		CanceledQuantity:  o.CanceledQuantity,
		DisclosedQuantity: o.DisclosedQuantity,
		Product:           o.Product,
		Exchange:          o.Exchange,
		Validity:          o.Validity,
		Tag:               o.Tag,
		Status:            string(o.Status),
		OrderID:           o.OrderID,
		ExchangeOrderID:   o.ExchangeOrderID,
		Timestamp:         o.Timestamp,
		ExchangeTimestamp: o.ExchangeTimestamp,
		LastUpdatedAt:     o.LastUpdatedAt,
		ExpiresAt:         o.ExpiresAt,
		MaxModifications:  o.MaxModifications,
		Modifications:     o.modifications,
		Extra:             extra,
	}
}

// Store persists order snapshots, upserting by order id, and keeps the
// order event journal. Bulk saves report their outcome per order id.
type Store interface {
	SaveOrder(ctx context.Context, snap Snapshot) error
	SaveOrders(ctx context.Context, snaps []Snapshot) map[string]error
	GetOrder(ctx context.Context, id string) (Snapshot, error)
	ListOrders(ctx context.Context) ([]Snapshot, error)
	LogEvent(ctx context.Context, e journal.Event) error
}
