package types

import "time"

// SignalName enumerates the strategy-plugin signal vocabulary.
type SignalName string

const (
	SignalLong  SignalName = "LONG"
	SignalShort SignalName = "SHORT"
	SignalExit  SignalName = "EXIT"
)

// OrderType is the execution style requested by a signal/order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MKT"
	OrderTypeLimit  OrderType = "LMT"
)

// MarginCallType tags a synthetic exit signal raised by the margin-call
// monitor (see internal/portfolio).
type MarginCallType string

// CloseDeal is the only margin-call type the monitor currently emits.
const CloseDeal MarginCallType = "close_deal"

// Signal is the payload a strategy plugin enqueues on the event bus in
// response to a MARKET tick.
type Signal struct {
	Timestamp      time.Time
	Symbol         string
	Name           SignalName
	OrderType      OrderType
	Quantity       *float64
	LimitPrice     *float64
	MarginCallType MarginCallType
}
