package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is the realized execution of an order produced by the execution
// simulator.
type Fill struct {
	ID           string
	Timestamp    time.Time
	Symbol       string
	Direction    OrderDirection
	Quantity     decimal.Decimal
	FillPrice    decimal.Decimal
	Commission   decimal.Decimal
	SlippageCost decimal.Decimal
	Exchange     string
}

// Trade is a closed round trip, recorded when a fill reduces or flattens
// a position, for the trade log / Deals_count metric.
type Trade struct {
	ID          string
	Symbol      string
	EntryTime   time.Time
	ExitTime    time.Time
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Quantity    decimal.Decimal
	PnL         decimal.Decimal
	Commissions decimal.Decimal
}
