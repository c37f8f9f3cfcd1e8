// Package position tracks per-symbol traded quantity and value, built
// from raw order data as brokers report it.
package position

import (
	"strconv"
	"strings"
)

// QuantityMatch pairs bought and sold quantity for one symbol.
type QuantityMatch struct {
	Buy  float64
	Sell float64
}

// IsEqual reports whether buys and sells square off.
func (q QuantityMatch) IsEqual() bool {
	return q.Buy == q.Sell
}

// NotMatched returns the surplus buy quantity, negative when net short.
func (q QuantityMatch) NotMatched() float64 {
	return q.Buy - q.Sell
}

// Position accumulates traded quantity and value for one symbol, buys and
// sells kept apart.
type Position struct {
	Symbol       string
	BuyQuantity  float64
	SellQuantity float64
	BuyValue     float64
	SellValue    float64
}

// NetQuantity returns bought minus sold quantity.
func (p Position) NetQuantity() float64 {
	return p.BuyQuantity - p.SellQuantity
}

// AverageBuyValue returns the mean buy price, zero without buys.
func (p Position) AverageBuyValue() float64 {
	if p.BuyQuantity > 0 {
		return p.BuyValue / p.BuyQuantity
	}
	return 0
}

// AverageSellValue returns the mean sell price, zero without sells.
func (p Position) AverageSellValue() float64 {
	if p.SellQuantity > 0 {
		return p.SellValue / p.SellQuantity
	}
	return 0
}

// Match returns the buy and sell quantities as a QuantityMatch.
func (p Position) Match() QuantityMatch {
	return QuantityMatch{Buy: p.BuyQuantity, Sell: p.SellQuantity}
}

// FromOrders folds raw broker order records into positions keyed by
// symbol. Each record is valued at the best available price: the highest
// of average price, order price and trigger price. Records without a
// symbol or with a side other than buy or sell are skipped; quantities
// count as absolute values.
func FromOrders(orders []map[string]any) map[string]*Position {
	positions := make(map[string]*Position)
	for _, o := range orders {
		symbol := asString(o["symbol"])
		if symbol == "" {
			continue
		}
		price := asFloat(o["average_price"])
		if p := asFloat(o["price"]); p > price {
			price = p
		}
		if p := asFloat(o["trigger_price"]); p > price {
			price = p
		}
		quantity := asFloat(o["quantity"])
		if quantity < 0 {
			quantity = -quantity
		}

		pos, ok := positions[symbol]
		if !ok {
			pos = &Position{Symbol: symbol}
			positions[symbol] = pos
		}
		switch strings.ToLower(asString(o["side"])) {
		case "buy":
			pos.BuyQuantity += quantity
			pos.BuyValue += price * quantity
		case "sell":
			pos.SellQuantity += quantity
			pos.SellValue += price * quantity
		}
	}
	return positions
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
