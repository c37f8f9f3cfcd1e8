package utils

import "github.com/shopspring/decimal"

// DefaultTickSize is the tick applied when an instrument does not declare one.
const DefaultTickSize = 0.05

// Tick rounds price to the nearest multiple of tickSize, half to even.
// Computed in decimal so repeated re-pricing does not accumulate float drift.
func Tick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tickSize)
	v, _ := p.Div(t).RoundBank(0).Mul(t).Float64()
	return v
}

// Round rounds price to the given number of decimal places, half to even.
func Round(price float64, places int32) float64 {
	v, _ := decimal.NewFromFloat(price).RoundBank(places).Float64()
	return v
}

// StopLossStep truncates price down to the given step and offsets it by dec.
// side is the side the stop-loss order is placed on, "B" for buy or "S" for
// sell; the offset moves the stop away from the step boundary accordingly.
func StopLossStep(price float64, side string, dec float64, step int) float64 {
	if step < 0 {
		step = -step
	}
	m := float64(int(price / float64(step)))
	if side == "S" {
		return (m+1)*float64(step) + 1 - dec
	}
	return m*float64(step) - 1 + dec
}
