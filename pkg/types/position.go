package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is derived from a Position's signed quantity.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"
)

// Position is the per-symbol open-position state. Quantity is signed:
// positive is long, negative is short, zero is flat. EntryPrice is the
// weighted-average cost and is meaningless while flat.
type Position struct {
	Symbol       string
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	LastFillTime time.Time
}

// Direction reports the position's side derived from the sign of Quantity.
func (p Position) Direction() Direction {
	switch {
	case p.Quantity.IsPositive():
		return DirectionLong
	case p.Quantity.IsNegative():
		return DirectionShort
	default:
		return DirectionFlat
	}
}

// Holdings is the strategy-level cash/margin/accounting state, mutated
// only by fill application or margin-call liquidation.
type Holdings struct {
	Cash            decimal.Decimal
	BlockedMargin   decimal.Decimal
	RealizedPnL     decimal.Decimal
	CommissionsPaid decimal.Decimal
	SlippagePaid    decimal.Decimal
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time    time.Time
	Capital decimal.Decimal
	Cash    decimal.Decimal
	Blocked decimal.Decimal
}
