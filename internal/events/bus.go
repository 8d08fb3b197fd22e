// Package events implements the backtest loop's typed, in-process event
// bus (spec §4.4): a single-producer-many-enqueuers, single-consumer FIFO
// of tagged {Market, Signal, Order, Fill} events with strict insertion
// order. No priority reordering — unlike a virtual-dispatch event
// hierarchy, the bus holds one tagged variant value per slot and the
// consumer switches on Kind, avoiding boxing on the hot path.
package events

import (
	"time"

	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// Kind tags which payload field of Event is populated.
type Kind int

const (
	KindMarket Kind = iota
	KindSignal
	KindOrder
	KindFill
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindSignal:
		return "signal"
	case KindOrder:
		return "order"
	case KindFill:
		return "fill"
	default:
		return "unknown"
	}
}

// MarketEvent carries one newly-advanced bar for one symbol.
type MarketEvent struct {
	Symbol    string
	Bar       types.Bar
	Timestamp time.Time
}

// Event is the tagged variant held by the bus. Exactly one payload field
// is meaningful, selected by Kind.
type Event struct {
	Kind   Kind
	Market MarketEvent
	Signal types.Signal
	Order  types.Order
	Fill   types.Fill
}

// Bus is a strict FIFO queue. It is created per trial, drained to
// exhaustion each tick, and destroyed at trial end (spec §3 Lifecycles).
// Not safe for concurrent use — a trial's event loop is single-threaded
// by contract (spec §5).
type Bus struct {
	buf  []Event
	head int
}

// NewBus returns an empty bus with capacity hint preallocated.
func NewBus(capacityHint int) *Bus {
	return &Bus{buf: make([]Event, 0, capacityHint)}
}

// PushMarket enqueues a MARKET event.
func (b *Bus) PushMarket(e MarketEvent) {
	b.buf = append(b.buf, Event{Kind: KindMarket, Market: e})
}

// PushSignal enqueues a SIGNAL event.
func (b *Bus) PushSignal(s types.Signal) {
	b.buf = append(b.buf, Event{Kind: KindSignal, Signal: s})
}

// PushOrder enqueues an ORDER event.
func (b *Bus) PushOrder(o types.Order) {
	b.buf = append(b.buf, Event{Kind: KindOrder, Order: o})
}

// PushFill enqueues a FILL event.
func (b *Bus) PushFill(f types.Fill) {
	b.buf = append(b.buf, Event{Kind: KindFill, Fill: f})
}

// Pop removes and returns the oldest enqueued event, in exact enqueue
// order. ok is false once the bus is empty.
func (b *Bus) Pop() (Event, bool) {
	if b.head >= len(b.buf) {
		b.Clear()
		return Event{}, false
	}
	e := b.buf[b.head]
	b.head++
	return e, true
}

// Len reports how many events remain to be drained.
func (b *Bus) Len() int { return len(b.buf) - b.head }

// Clear resets the bus to empty, reusing its backing array.
func (b *Bus) Clear() {
	b.buf = b.buf[:0]
	b.head = 0
}
