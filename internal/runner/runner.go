// Package runner implements the sequential per-trial driver (C9): for
// one concrete parameter vector it owns C3-C7 exclusively, drains the
// MARKET->SIGNAL->ORDER->FILL event bus to exhaustion, invokes C8 at
// trial end, and returns the equity curve, metrics and trade count.
// Grounded on the shape of the teacher's internal/backtester/engine.go
// Run/processEvent dispatch loop, restructured around the new
// single-consumer FIFO bus (internal/events) and the plugin strategy
// host (internal/strategyhost) in place of the teacher's in-process
// Strategy interface.
package runner

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/backtest-engine/internal/barstore"
	"github.com/atlas-quant/backtest-engine/internal/data"
	"github.com/atlas-quant/backtest-engine/internal/events"
	"github.com/atlas-quant/backtest-engine/internal/execsim"
	"github.com/atlas-quant/backtest-engine/internal/metrics"
	"github.com/atlas-quant/backtest-engine/internal/portfolio"
	"github.com/atlas-quant/backtest-engine/internal/strategyhost"
	"github.com/atlas-quant/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Config parameterizes one trial: the exact parameter vector (slippage,
// strategy params, pos-sizer value) plus the shared, read-only resources
// every trial borrows (spec §5 "shared-resource policy").
type Config struct {
	InitialCapital decimal.Decimal
	Timeframe      types.Timeframe
	Instruments    map[string]types.InstrumentMeta
	Commissions    types.CommissionPlan
	Slippage       float64
	Sizer          portfolio.Sizer
	SizerValue     float64
	ReferenceValue float64
	MinMargin      float64
	Mode           types.Mode
	Settings       strategyhost.SettingsView
}

// Result is one trial's outcome, per spec §5.
type Result struct {
	EquityCurve []types.EquityPoint
	Metrics     metrics.Result
	TradeCount  int
}

// Trial owns one exclusive set of C3-C7 state for the duration of Run.
type Trial struct {
	logger   *zap.Logger
	data     *data.Handler
	bus      *events.Bus
	sim      *execsim.Simulator
	pf       *portfolio.Portfolio
	margin   *portfolio.MarginMonitor
	strategy strategyhost.Instance
	cfg      Config

	pendingMarginExits []types.Signal
	equityCurve        []types.EquityPoint
}

// New constructs one trial, creating a fresh strategy instance from
// artifact. The caller retains ownership of artifact and stores across
// trials (they are shared, read-only resources); data.Handler, the event
// bus, the execution simulator and the portfolio are this trial's alone.
func New(logger *zap.Logger, symbols []string, stores map[string]*barstore.Store, artifact *strategyhost.Artifact, cfg Config) (*Trial, error) {
	dh, err := data.NewHandler(logger, symbols, stores, cfg.Timeframe)
	if err != nil {
		return nil, err
	}

	t := &Trial{
		logger: logger,
		data:   dh,
		bus:    events.NewBus(256),
		sim:    execsim.New(logger, execsim.Config{Slippage: cfg.Slippage}, cfg.Instruments, cfg.Commissions),
		pf:     portfolio.New(logger, cfg.InitialCapital, cfg.Instruments),
		margin: portfolio.NewMarginMonitor(mustFloat(cfg.InitialCapital), cfg.MinMargin),
		cfg:    cfg,
	}

	sink := sinkAdapter{bus: t.bus}
	inst, err := artifact.NewInstance(cfg.Mode, cfg.Settings, cfg.Instruments, sink)
	if err != nil {
		return nil, err
	}
	t.strategy = inst
	return t, nil
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// sinkAdapter realizes strategyhost.EventSink by pushing directly onto
// the trial's bus.
type sinkAdapter struct {
	bus *events.Bus
}

func (s sinkAdapter) EmitSignal(sig types.Signal) { s.bus.PushSignal(sig) }

// dataViewAdapter realizes strategyhost.DataView over *data.Handler,
// narrowing its concrete BarsView return to the strategyhost.LatestBars
// interface (Go requires an exact method signature for interface
// satisfaction, so a covariant-return wrapper is needed here).
type dataViewAdapter struct {
	h *data.Handler
}

func (d dataViewAdapter) GetLatestBarValue(symbol, field string) (float64, error) {
	return d.h.GetLatestBarValue(symbol, field)
}

func (d dataViewAdapter) GetLatestBars(symbol string, n int) (strategyhost.LatestBars, error) {
	return d.h.GetLatestBars(symbol, n)
}

func (d dataViewAdapter) Symbols() []string { return d.h.Symbols() }

// Run drains the event loop to exhaustion and returns the trial's
// outcome. Errors from the strategy callback are wrapped as TrialError;
// errors from the data handler, portfolio and execution simulator are
// returned as they are. Any of them terminates only this trial (spec §7
// propagation policy), never the calling optimizer.
func (t *Trial) Run() (Result, error) {
	defer t.strategy.Destroy()
	view := dataViewAdapter{h: t.data}

	for t.data.ContinueBacktest() {
		if _, err := t.data.UpdateBars(t.bus); err != nil {
			return Result{}, err
		}

		for _, sig := range t.pendingMarginExits {
			t.bus.PushSignal(sig)
		}
		t.pendingMarginExits = t.pendingMarginExits[:0]

		if err := t.drainBus(view); err != nil {
			return Result{}, err
		}
	}

	res := metrics.Calculate(t.equityCurve, t.pf.Trades(), t.cfg.InitialCapital, metrics.DefaultFitnessSpec)
	return Result{EquityCurve: t.equityCurve, Metrics: res, TradeCount: len(t.pf.Trades())}, nil
}

func (t *Trial) drainBus(view dataViewAdapter) error {
	for {
		ev, ok := t.bus.Pop()
		if !ok {
			return nil
		}
		switch ev.Kind {
		case events.KindMarket:
			if err := t.handleMarket(ev.Market, view); err != nil {
				return err
			}
		case events.KindSignal:
			if err := t.handleSignal(ev.Signal); err != nil {
				return err
			}
		case events.KindOrder:
			if err := t.handleOrder(ev.Order); err != nil {
				return err
			}
		case events.KindFill:
			if err := t.pf.ApplyFill(ev.Fill); err != nil {
				return err
			}
		default:
			return &types.TrialError{Detail: fmt.Sprintf("unknown event kind %v", ev.Kind)}
		}
	}
}

func (t *Trial) handleMarket(mkt events.MarketEvent, view dataViewAdapter) error {
	t.pf.UpdatePrice(mkt.Symbol, mkt.Bar.Close)
	eq := t.pf.EquityPointAt(mkt.Timestamp)
	t.equityCurve = append(t.equityCurve, eq)

	sink := sinkAdapter{bus: t.bus}
	if err := t.strategy.CalculateSignals(view, t.pf.Positions(), eq, t.data.Symbols(), sink); err != nil {
		return &types.TrialError{Detail: fmt.Sprintf("strategy callback failed: %v", err)}
	}

	equityFloat, _ := eq.Capital.Float64()
	if t.margin.Triggered(equityFloat) {
		open := t.pf.CloseAll()
		if len(open) > 0 {
			t.pendingMarginExits = append(t.pendingMarginExits, portfolio.ExitSignalsFor(open, mkt.Timestamp)...)
		}
	}
	return nil
}

func (t *Trial) handleSignal(sig types.Signal) error {
	inst, ok := t.cfg.Instruments[sig.Symbol]
	if !ok {
		return &types.MetadataError{Symbol: sig.Symbol, Reason: "no instrument metadata for signal's symbol"}
	}
	close, err := t.data.GetLatestBarValue(sig.Symbol, "close")
	if err != nil {
		return err
	}
	order, err := t.pf.SignalToOrder(sig, inst, t.cfg.Sizer, close, t.cfg.ReferenceValue, t.cfg.SizerValue)
	if err != nil {
		return err
	}
	if order != nil {
		t.bus.PushOrder(*order)
	}
	return nil
}

func (t *Trial) handleOrder(order types.Order) error {
	bar, err := t.data.LatestBar(order.Symbol)
	if err != nil {
		return err
	}
	fill, err := t.sim.Simulate(order, bar)
	if err != nil {
		return err
	}
	if fill != nil {
		t.bus.PushFill(*fill)
	}
	return nil
}
