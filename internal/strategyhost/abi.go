// Package strategyhost loads a strategy plugin artifact and invokes its
// signal callback once per tick (C5). The plugin ABI (spec §6, §9) is
// expressed here as a stable Go calling convention over borrowed, read-only
// views plus an opaque Instance handle — never an owning container crosses
// the host/artifact boundary.
package strategyhost

import (
	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// SettingsView is the read-only, parsed strategy_params plus pos-sizer
// settings a strategy instance is constructed with. It stands in
// for the ABI's "settings_view" pointer+length tuple.
type SettingsView struct {
	StrategyParams map[string]float64
	PosSizerName   string
	PosSizerParams map[string]interface{}
}

// DataView is the borrowed, read-only surface over C3's data handler that
// a strategy callback may query. It stands in for the ABI's
// "data_handler_view".
type DataView interface {
	GetLatestBarValue(symbol, field string) (float64, error)
	GetLatestBars(symbol string, n int) (LatestBars, error)
	Symbols() []string
}

// LatestBars is a read-only, reverse-time-order view of recent bars —
// whatever concrete type internal/data produces, reduced to the two
// accessors a strategy needs.
type LatestBars interface {
	Len() int
	At(i int) types.Bar
}

// EventSink is the host-provided handle a strategy instance calls to
// enqueue SIGNAL events — the ABI's "event_sink". The plugin never touches
// the bus directly, only this narrow interface.
type EventSink interface {
	EmitSignal(types.Signal)
}

// Instance is the opaque per-trial strategy handle the ABI's create entry
// point returns. CalculateSignals realizes calculate_signals; Destroy
// realizes destroy and must be called exactly once, before the owning
// artifact is considered unloadable.
type Instance interface {
	CalculateSignals(data DataView, positions map[string]types.Position, equity types.EquityPoint, symbols []string, sink EventSink) error
	Destroy()
}

// Factory is the ABI's create entry point: constructs one strategy
// instance for one trial. mode is the run mode tag (Debug/Optimize/
// Visual); instruments is the read-only per-symbol metadata view.
type Factory func(mode types.Mode, settings SettingsView, instruments map[string]types.InstrumentMeta, sink EventSink) (Instance, error)

// EntrySymbol is the exported symbol name every strategy plugin .so must
// expose, of type Factory.
const EntrySymbol = "CreateStrategy"
