package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	wallex "github.com/wallexchange/wallex-go"

	"github.com/uberdeveloper/omspy/internal/utils"
)

// Wallex adapts the Wallex spot exchange to the Broker contract.
type Wallex struct {
	client *wallex.Client
}

// NewWallex creates a live Wallex broker for the given API key.
func NewWallex(apiKey string) *Wallex {
	return &Wallex{client: wallex.New(wallex.ClientOptions{APIKey: apiKey})}
}

// OrderDefaults declares attributes merged into every placement unless the
// caller set them explicitly.
func (w *Wallex) OrderDefaults() map[string]any {
	return map[string]any{
		AttrOrderType: "LIMIT",
		"exchange":    "wallex",
	}
}

func (w *Wallex) OrderPlace(ctx context.Context, attrs map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	symbol := normalizeSymbol(attrString(attrs, AttrSymbol))
	if symbol == "" {
		return "", fmt.Errorf("wallex: order without symbol")
	}
	price := strconv.FormatFloat(attrFloat(attrs, AttrPrice), 'f', 8, 64)
	qty := strconv.FormatFloat(attrFloat(attrs, AttrQuantity), 'f', 8, 64)

	params := &wallex.OrderParams{
		Symbol:   symbol,
		Type:     strings.ToUpper(attrString(attrs, AttrOrderType)),
		Side:     strings.ToUpper(attrString(attrs, AttrSide)),
		Price:    wallex.Number(price),
		Quantity: wallex.Number(qty),
	}
	resp, err := w.client.PlaceOrder(params)
	if err != nil {
		return "", fmt.Errorf("wallex: place order: %w", err)
	}

	utils.GetLogger().Printf("Wallex | Placed order %s %s %s", resp.ClientOrderID, params.Side, params.Symbol)
	return resp.ClientOrderID, nil
}

// OrderModify emulates modification by cancel and re-place, since the venue
// has no native modify. The replacement trades under a new venue order id.
func (w *Wallex) OrderModify(ctx context.Context, orderID string, attrs map[string]any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	prev, err := w.client.Order(orderID)
	if err != nil {
		return fmt.Errorf("wallex: fetch order %s: %w", orderID, err)
	}
	if err := w.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("wallex: cancel order %s: %w", orderID, err)
	}

	replaced := map[string]any{
		AttrSymbol:    prev.Symbol,
		AttrSide:      prev.Side,
		AttrOrderType: prev.Type,
	}
	for k, v := range attrs {
		replaced[k] = v
	}
	newID, err := w.OrderPlace(ctx, replaced)
	if err != nil {
		return fmt.Errorf("wallex: replace order %s: %w", orderID, err)
	}

	utils.GetLogger().Printf("Wallex | Replaced order %s with %s", orderID, newID)
	return nil
}

func (w *Wallex) OrderCancel(ctx context.Context, orderID string, attrs map[string]any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if err := w.client.CancelOrder(orderID); err != nil {
			return fmt.Errorf("wallex: cancel order %s: %w", orderID, err)
		}
		return nil
	}
}

// OrderStatus polls the venue and reports a snapshot keyed the way
// Order.Update expects, with the venue status normalized.
func (w *Wallex) OrderStatus(ctx context.Context, orderID string) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	resp, err := w.client.Order(orderID)
	if err != nil {
		return nil, fmt.Errorf("wallex: fetch order %s: %w", orderID, err)
	}
	return map[string]any{
		"status":            normalizeStatus(resp.Status),
		"filled_quantity":   wallexNumber(resp.ExecutedQty),
		"average_price":     wallexNumber(resp.ExecutedPrice),
		"exchange_order_id": resp.ClientOrderID,
	}, nil
}

// normalizeStatus maps venue statuses onto the canonical lifecycle set.
func normalizeStatus(status string) string {
	switch strings.ToUpper(status) {
	case "NEW", "ACTIVE", "PARTIALLY_FILLED":
		return "OPEN"
	case "FILLED", "DONE":
		return "COMPLETE"
	case "CANCELED", "CANCELLED", "EXPIRED":
		return "CANCELED"
	case "REJECTED":
		return "REJECTED"
	default:
		return strings.ToUpper(status)
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// wallexNumber safely dereferences a *wallex.Number.
func wallexNumber(n *wallex.Number) float64 {
	if n == nil {
		return 0
	}
	out, _ := strconv.ParseFloat(string(*n), 64)
	return out
}
