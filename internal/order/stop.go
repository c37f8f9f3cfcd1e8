package order

import (
	"context"
	"fmt"

	"github.com/uberdeveloper/omspy/internal/broker"
)

// StopConfig describes the entry leg of a stop basket; the covering leg is
// derived from it.
type StopConfig struct {
	Symbol            string
	Side              Side
	Quantity          float64
	Price             float64
	TriggerPrice      float64
	OrderType         string
	DisclosedQuantity float64
}

// StopOrder is a two-leg basket: the entry order plus a stop-market order on
// the opposite side at the trigger price.
type StopOrder struct {
	*CompoundOrder
}

// NewStop builds a stop basket driven through b. The entry leg defaults to a
// market order; the covering leg is always SL-M at cfg.TriggerPrice.
func NewStop(b broker.Broker, cfg StopConfig) (*StopOrder, error) {
	co := NewCompound(b)
	if _, err := co.AddOrder(Config{
		Symbol:            cfg.Symbol,
		Side:              cfg.Side,
		Quantity:          cfg.Quantity,
		Price:             cfg.Price,
		OrderType:         cfg.OrderType,
		DisclosedQuantity: cfg.DisclosedQuantity,
	}); err != nil {
		return nil, err
	}
	if _, err := co.AddOrder(Config{
		Symbol:            cfg.Symbol,
		Side:              cfg.Side.Opposite(),
		Quantity:          cfg.Quantity,
		TriggerPrice:      cfg.TriggerPrice,
		OrderType:         "SL-M",
		DisclosedQuantity: cfg.DisclosedQuantity,
	}); err != nil {
		return nil, err
	}
	return &StopOrder{CompoundOrder: co}, nil
}

// StopLimitConfig extends StopConfig with the limit price of the covering
// leg. A zero StopLimitPrice falls back to the trigger price.
type StopLimitConfig struct {
	StopConfig
	StopLimitPrice float64
}

// StopLimitOrder is a stop basket whose covering leg is a stop-limit order
// instead of a stop-market one.
type StopLimitOrder struct {
	*CompoundOrder
}

// NewStopLimit builds a stop-limit basket driven through b.
func NewStopLimit(b broker.Broker, cfg StopLimitConfig) (*StopLimitOrder, error) {
	limit := cfg.StopLimitPrice
	if limit == 0 {
		limit = cfg.TriggerPrice
	}
	co := NewCompound(b)
	if _, err := co.AddOrder(Config{
		Symbol:            cfg.Symbol,
		Side:              cfg.Side,
		Quantity:          cfg.Quantity,
		Price:             cfg.Price,
		OrderType:         cfg.OrderType,
		DisclosedQuantity: cfg.DisclosedQuantity,
	}); err != nil {
		return nil, err
	}
	if _, err := co.AddOrder(Config{
		Symbol:            cfg.Symbol,
		Side:              cfg.Side.Opposite(),
		Quantity:          cfg.Quantity,
		Price:             limit,
		TriggerPrice:      cfg.TriggerPrice,
		OrderType:         "SL",
		DisclosedQuantity: cfg.DisclosedQuantity,
	}); err != nil {
		return nil, err
	}
	return &StopLimitOrder{CompoundOrder: co}, nil
}

// BracketOrder is a stop basket with a profit target. When the last traded
// price crosses the target, DoTarget exits by converting the covering leg to
// a market order.
type BracketOrder struct {
	*StopOrder
	symbol string
	target float64
}

// NewBracket builds a bracket basket driven through b.
func NewBracket(b broker.Broker, target float64, cfg StopConfig) (*BracketOrder, error) {
	so, err := NewStop(b, cfg)
	if err != nil {
		return nil, err
	}
	return &BracketOrder{StopOrder: so, symbol: cfg.Symbol, target: target}, nil
}

// Target returns the profit target price.
func (bo *BracketOrder) Target() float64 {
	return bo.target
}

// IsTargetHit reports whether the last traded price has crossed the target.
// Without a price it reports false.
func (bo *BracketOrder) IsTargetHit() bool {
	ltp, ok := bo.LTP[bo.symbol]
	if !ok {
		return false
	}
	return ltp > bo.target
}

// DoTarget exits the position when the target is hit by converting the
// covering leg to a market order. It reports whether the exit was sent.
func (bo *BracketOrder) DoTarget(ctx context.Context) (bool, error) {
	if !bo.IsTargetHit() {
		return false, nil
	}
	cover := bo.At(bo.Count() - 1)
	return cover.Modify(ctx, bo.Broker, map[string]any{
		broker.AttrOrderType: "MARKET",
	})
}

// TrailingStopOrder is a stop-limit basket whose stop price trails the
// high-water unrealized profit. For every TrailBig of profit per unit the
// stop rises by TrailSmall.
type TrailingStopOrder struct {
	*StopLimitOrder
	symbol      string
	quantity    float64
	trailBig    float64
	trailSmall  float64
	initialStop float64
	stop        float64
	maxMTM      float64
}

// NewTrailingStop builds a trailing stop basket driven through b.
func NewTrailingStop(b broker.Broker, trailBig, trailSmall float64, cfg StopLimitConfig) (*TrailingStopOrder, error) {
	if trailBig <= 0 {
		return nil, fmt.Errorf("trailing stop: trail step must be positive, got %v", trailBig)
	}
	so, err := NewStopLimit(b, cfg)
	if err != nil {
		return nil, err
	}
	ts := &TrailingStopOrder{
		StopLimitOrder: so,
		symbol:         cfg.Symbol,
		quantity:       so.At(0).Quantity,
		trailBig:       trailBig,
		trailSmall:     trailSmall,
		initialStop:    cfg.TriggerPrice,
		stop:           cfg.TriggerPrice,
	}
	return ts, nil
}

// Stop returns the current trailing stop price.
func (ts *TrailingStopOrder) Stop() float64 {
	return ts.stop
}

// MaxMTM returns the high-water unrealized profit seen so far.
func (ts *TrailingStopOrder) MaxMTM() float64 {
	return ts.maxMTM
}

// Watch recomputes the trailing stop from the latest prices and exits by
// converting the covering leg to a market order once the last traded price
// falls below the stop. It reports whether the exit was sent.
func (ts *TrailingStopOrder) Watch(ctx context.Context) (bool, error) {
	if mtm := ts.TotalMTM(); mtm > ts.maxMTM {
		ts.maxMTM = mtm
	}
	perUnit := ts.maxMTM / ts.quantity
	ts.stop = ts.initialStop + perUnit*(ts.trailSmall/ts.trailBig)

	ltp, ok := ts.LTP[ts.symbol]
	if !ok || ltp == 0 {
		return false, nil
	}
	if ltp >= ts.stop {
		return false, nil
	}
	cover := ts.At(ts.Count() - 1)
	return cover.Modify(ctx, ts.Broker, map[string]any{
		broker.AttrOrderType: "MARKET",
	})
}
