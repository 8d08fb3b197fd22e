package portfolio

import (
	"time"

	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// MarginMonitor watches a strategy's equity ratio after each MARKET
// closure and raises synthetic EXIT signals when the account falls
// below the configured margin fraction. Per spec §4.7, the triggered
// signals are processed on the NEXT tick against the then-current bar
// — never the bar that tripped the check — so Triggered only flags the
// condition; the caller is responsible for deferring enqueue by one
// tick.
type MarginMonitor struct {
	initialCapital float64
	minMargin      float64
}

func NewMarginMonitor(initialCapital, minMargin float64) *MarginMonitor {
	return &MarginMonitor{initialCapital: initialCapital, minMargin: minMargin}
}

// Triggered reports whether equity has fallen below minMargin fraction
// of the strategy's initial capital.
func (m *MarginMonitor) Triggered(equity float64) bool {
	if m.initialCapital == 0 {
		return false
	}
	return equity/m.initialCapital < m.minMargin
}

// ExitSignalsFor builds one synthetic close_deal EXIT signal per symbol
// in symbols, each timestamped at. The runner passes the time of the bar
// that tripped the check and enqueues the signals on the following tick.
func ExitSignalsFor(symbols []string, at time.Time) []types.Signal {
	signals := make([]types.Signal, 0, len(symbols))
	for _, sym := range symbols {
		signals = append(signals, types.Signal{
			Timestamp:      at,
			Symbol:         sym,
			Name:           types.SignalExit,
			OrderType:      types.OrderTypeMarket,
			MarginCallType: types.CloseDeal,
		})
	}
	return signals
}
