package broker

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Paper is a no-op broker for dry runs. Every call succeeds, placements get
// a fabricated order id, and nothing ever fills.
type Paper struct{}

// NewPaper creates a paper trading broker.
func NewPaper() *Paper {
	return &Paper{}
}

func (p *Paper) OrderPlace(ctx context.Context, attrs map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		orderID := uuid.New().String()
		log.Printf("Paper | Placed order %s %v", orderID, attrs)
		return orderID, nil
	}
}

func (p *Paper) OrderModify(ctx context.Context, orderID string, attrs map[string]any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		log.Printf("Paper | Modified order %s %v", orderID, attrs)
		return nil
	}
}

func (p *Paper) OrderCancel(ctx context.Context, orderID string, attrs map[string]any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		log.Printf("Paper | Canceled order %s", orderID)
		return nil
	}
}
