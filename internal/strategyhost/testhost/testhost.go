// Package testhost provides small in-process strategy implementations of
// the strategyhost ABI, used by package tests that cannot build a real
// .so plugin artifact in this environment. Each exposes a
// strategyhost.Factory so it can be wrapped with strategyhost.NewFromFactory
// exactly like a loaded plugin would be.
package testhost

import (
	"github.com/atlas-quant/backtest-engine/internal/strategyhost"
	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// Flat never emits a signal — scenario S1.
func Flat() strategyhost.Factory {
	return func(mode types.Mode, settings strategyhost.SettingsView, instruments map[string]types.InstrumentMeta, sink strategyhost.EventSink) (strategyhost.Instance, error) {
		return &flatInstance{}, nil
	}
}

type flatInstance struct{}

func (flatInstance) CalculateSignals(strategyhost.DataView, map[string]types.Position, types.EquityPoint, []string, strategyhost.EventSink) error {
	return nil
}
func (flatInstance) Destroy() {}

// FixedSchedule emits a LONG market order for symbol on the entryTick-th
// tick it observes (0-based) and an EXIT on the exitTick-th tick —
// scenario S2.
func FixedSchedule(symbol string, entryTick, exitTick int, quantity float64) strategyhost.Factory {
	return func(mode types.Mode, settings strategyhost.SettingsView, instruments map[string]types.InstrumentMeta, sink strategyhost.EventSink) (strategyhost.Instance, error) {
		return &fixedScheduleInstance{symbol: symbol, entryTick: entryTick, exitTick: exitTick, quantity: quantity}, nil
	}
}

type fixedScheduleInstance struct {
	symbol              string
	entryTick, exitTick int
	quantity            float64
	tick                int
}

func (f *fixedScheduleInstance) CalculateSignals(data strategyhost.DataView, positions map[string]types.Position, equity types.EquityPoint, symbols []string, sink strategyhost.EventSink) error {
	defer func() { f.tick++ }()
	ts, err := data.GetLatestBarValue(f.symbol, "close")
	if err != nil {
		return nil // symbol hasn't ticked yet this round
	}
	_ = ts
	switch f.tick {
	case f.entryTick:
		q := f.quantity
		sink.EmitSignal(types.Signal{Symbol: f.symbol, Name: types.SignalLong, OrderType: types.OrderTypeMarket, Quantity: &q})
	case f.exitTick:
		sink.EmitSignal(types.Signal{Symbol: f.symbol, Name: types.SignalExit, OrderType: types.OrderTypeMarket})
	}
	return nil
}
func (f *fixedScheduleInstance) Destroy() {}

// LimitOnce posts a single LIMIT BUY at limitPrice on the first tick and
// never again — scenario S3.
func LimitOnce(symbol string, limitPrice, quantity float64) strategyhost.Factory {
	return func(mode types.Mode, settings strategyhost.SettingsView, instruments map[string]types.InstrumentMeta, sink strategyhost.EventSink) (strategyhost.Instance, error) {
		return &limitOnceInstance{symbol: symbol, limitPrice: limitPrice, quantity: quantity}, nil
	}
}

type limitOnceInstance struct {
	symbol             string
	limitPrice, quantity float64
	fired              bool
}

func (l *limitOnceInstance) CalculateSignals(data strategyhost.DataView, positions map[string]types.Position, equity types.EquityPoint, symbols []string, sink strategyhost.EventSink) error {
	if l.fired {
		return nil
	}
	l.fired = true
	price := l.limitPrice
	q := l.quantity
	sink.EmitSignal(types.Signal{Symbol: l.symbol, Name: types.SignalLong, OrderType: types.OrderTypeLimit, LimitPrice: &price, Quantity: &q})
	return nil
}
func (l *limitOnceInstance) Destroy() {}
