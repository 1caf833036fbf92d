// Package broker defines the daemon's outbound broker capability (§6.1):
// order submission, cancellation, status queries, and an inbound fill
// callback with exception-isolated multi-handler dispatch.
package broker

import (
	"context"
	"time"

	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

// OrderSide mirrors §6.1's BUY/SELL alphabet.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the translated, broker-agnostic order state (§6.1: the
// broker-native numerics, e.g. status=56 for "filled", are opaque to the
// core — a small per-adapter table maps them onto this alphabet).
type OrderStatus string

const (
	StatusSubmitted OrderStatus = "submitted"
	StatusPartial   OrderStatus = "partial"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// AccountPosition is one row returned by query_positions.
type AccountPosition struct {
	StockCode string
	Volume    int64
	Available int64
	CostPrice float64
}

// Account is the balance/asset snapshot returned by query_account.
type Account struct {
	Cash       float64
	TotalAsset float64
}

// FillEvent is delivered to every registered callback on a confirmed fill.
type FillEvent struct {
	OrderID       string
	StockCode     string
	Side          OrderSide
	TradedVolume  int64
	TradedPrice   float64
	TradedAmount  float64
	AccountID     string
	StrategyTag   string
	Timestamp     time.Time
}

// FillHandler observes fills; it must tolerate being invoked on any goroutine.
type FillHandler func(FillEvent)

// Broker is the abstract capability the daemon's core consumes — every
// concrete exchange adapter (live or simulated) implements this (§6.1).
type Broker interface {
	// OrderStock submits an order and returns an opaque order id. A
	// synchronous adapter returns the final order id directly; an
	// asynchronous one may return a sequence number that is later
	// resolved to an order id via a fill or status callback — both call
	// modes satisfy this signature from the core's point of view.
	OrderStock(ctx context.Context, account, stockCode string, side OrderSide, price float64, volume int64, strategyTag string) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	QueryOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	QueryPositions(ctx context.Context, account string) ([]AccountPosition, error)
	QueryAccount(ctx context.Context, account string) (Account, error)

	// RegisterFillHandler adds an independent fill observer. Handlers are
	// invoked under an exception-isolating harness: a panic or error in
	// one must never suppress delivery to the others (§4.5).
	RegisterFillHandler(h FillHandler)
}

// Dispatcher runs registered handlers under the exception-isolating
// harness every Broker implementation can embed, grounding the teacher's
// callback-registration pattern in §4.5's "a single shim registers
// callbacks" requirement.
type Dispatcher struct {
	handlers []FillHandler
	onPanic  func(recovered interface{})
}

func NewDispatcher(onPanic func(recovered interface{})) *Dispatcher {
	return &Dispatcher{onPanic: onPanic}
}

func (d *Dispatcher) Register(h FillHandler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch invokes every handler, isolating panics so one broken handler
// cannot suppress delivery to the rest.
func (d *Dispatcher) Dispatch(evt FillEvent) {
	for _, h := range d.handlers {
		d.callSafely(h, evt)
	}
}

func (d *Dispatcher) callSafely(h FillHandler, evt FillEvent) {
	defer func() {
		if r := recover(); r != nil && d.onPanic != nil {
			d.onPanic(r)
		}
	}()
	h(evt)
}

// ResolveSide adapts a types.TradeSide into the broker alphabet.
func ResolveSide(side types.TradeSide) OrderSide {
	if side == types.SideBuy {
		return SideBuy
	}
	return SideSell
}
