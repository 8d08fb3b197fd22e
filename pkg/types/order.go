package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderDirection is the side of an order, derived from the originating
// signal.
type OrderDirection string

const (
	Buy  OrderDirection = "BUY"
	Sell OrderDirection = "SELL"
)

// Order is emitted by the portfolio & risk engine once a signal has
// cleared sizing and margin checks.
type Order struct {
	ID         string
	Timestamp  time.Time
	Symbol     string
	Direction  OrderDirection
	Quantity   decimal.Decimal
	OrderType  OrderType
	LimitPrice decimal.Decimal
}
