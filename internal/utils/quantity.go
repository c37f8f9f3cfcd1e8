package utils

// UQty holds a reconciled set of order quantities.
type UQty struct {
	Quantity float64
	Filled   float64
	Pending  float64
	Canceled float64
}

// UpdateQuantity reconciles filled, pending and canceled quantities against
// the order quantity so that quantity = filled + pending and canceled never
// exceeds quantity. Canceled quantity takes precedence over filled, filled
// over pending; values larger than the order quantity are clamped to it.
func UpdateQuantity(q, f, p, c float64) UQty {
	switch {
	case c > 0:
		c = min(c, q)
		f = q - c
		p = 0
	case f > 0:
		f = min(f, q)
		p = q - f
	case p > 0:
		p = min(p, q)
		f = q - p
	default:
		p = q
	}
	return UQty{Quantity: q, Filled: f, Pending: p, Canceled: c}
}
