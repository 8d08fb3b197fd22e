package portfolio_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/backtest-engine/internal/portfolio"
	"github.com/atlas-quant/backtest-engine/pkg/types"
)

func testInstruments() map[string]types.InstrumentMeta {
	return map[string]types.InstrumentMeta{
		"ES": {Symbol: "ES", Exchange: "CME", MarginPerContract: 1000, PriceStep: 0.25, StepPrice: 12.5},
	}
}

func fill(symbol string, dir types.OrderDirection, qty, price, commission, slippage float64, at time.Time) types.Fill {
	return types.Fill{
		ID: "f", Symbol: symbol, Timestamp: at, Direction: dir,
		Quantity: decimal.NewFromFloat(qty), FillPrice: decimal.NewFromFloat(price),
		Commission: decimal.NewFromFloat(commission), SlippageCost: decimal.NewFromFloat(slippage),
	}
}

// TestConservationInvariant implements spec §8 invariant 1: for every
// FILL, delta(cash + position_notional + blocked_margin) = -(commission +
// slippage_cost).
func TestConservationInvariant(t *testing.T) {
	p := portfolio.New(nil, decimal.NewFromInt(100000), testInstruments())
	before := p.Holdings().Cash.Add(p.Holdings().BlockedMargin)

	f := fill("ES", types.Buy, 1, 100, 2.5, 1.0, time.Unix(0, 0))
	if err := p.ApplyFill(f); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	p.UpdatePrice("ES", 100)

	after := p.Holdings().Cash.Add(p.Holdings().BlockedMargin)
	pos := p.Position("ES")
	notional := pos.Quantity.Mul(decimal.NewFromFloat(100)).Mul(decimal.NewFromFloat(12.5 / 0.25))

	delta := after.Sub(before).Add(notional)
	wantFees := f.Commission.Add(f.SlippageCost).Neg()
	if !delta.Equal(wantFees) {
		t.Errorf("conservation: delta=%s, want %s", delta, wantFees)
	}
}

// TestSingleRoundTrip implements scenario S2: one LONG entry, one EXIT,
// weighted-average-cost accounting reduces cleanly to a single closed
// trade with the expected realized P&L.
func TestSingleRoundTrip(t *testing.T) {
	p := portfolio.New(nil, decimal.NewFromInt(100000), testInstruments())
	instWithUnitMultiplier := testInstruments()
	instWithUnitMultiplier["ES"] = types.InstrumentMeta{Symbol: "ES", Exchange: "CME", MarginPerContract: 1000}
	p = portfolio.New(nil, decimal.NewFromInt(100000), instWithUnitMultiplier)

	entry := fill("ES", types.Buy, 1, 110, 0, 0, time.Unix(0, 0))
	if err := p.ApplyFill(entry); err != nil {
		t.Fatalf("entry ApplyFill: %v", err)
	}
	exit := fill("ES", types.Sell, 1, 190, 0, 0, time.Unix(1, 0))
	if err := p.ApplyFill(exit); err != nil {
		t.Fatalf("exit ApplyFill: %v", err)
	}

	if !p.Position("ES").Quantity.IsZero() {
		t.Fatalf("position not flat after round trip: %+v", p.Position("ES"))
	}
	trades := p.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	wantPnL := decimal.NewFromFloat(80)
	if !trades[0].PnL.Equal(wantPnL) {
		t.Errorf("realized P&L = %s, want %s", trades[0].PnL, wantPnL)
	}
	if !p.Holdings().RealizedPnL.Equal(wantPnL) {
		t.Errorf("holdings.RealizedPnL = %s, want %s", p.Holdings().RealizedPnL, wantPnL)
	}
}

// TestSignalToOrderDropsOnInsufficientMargin implements spec §8 invariant
// 5: no order is emitted that would exceed available margin.
func TestSignalToOrderDropsOnInsufficientMargin(t *testing.T) {
	insts := testInstruments()
	p := portfolio.New(nil, decimal.NewFromInt(500), insts)

	sig := types.Signal{Timestamp: time.Unix(0, 0), Symbol: "ES", Name: types.SignalLong, OrderType: types.OrderTypeMarket}
	order, err := p.SignalToOrder(sig, insts["ES"], portfolio.One, 100, 1, 1)
	if err != nil {
		t.Fatalf("SignalToOrder: %v", err)
	}
	if order != nil {
		t.Fatalf("expected dropped signal (margin 1000 > cash 500), got order %+v", order)
	}
}

func TestSignalToOrderAppliesSizerAndMargin(t *testing.T) {
	insts := testInstruments()
	p := portfolio.New(nil, decimal.NewFromInt(100000), insts)

	sig := types.Signal{Timestamp: time.Unix(0, 0), Symbol: "ES", Name: types.SignalLong, OrderType: types.OrderTypeMarket}
	order, err := p.SignalToOrder(sig, insts["ES"], portfolio.One, 100, 1, 1)
	if err != nil || order == nil {
		t.Fatalf("SignalToOrder: order=%v err=%v", order, err)
	}
	if order.Direction != types.Buy {
		t.Errorf("direction = %s, want BUY", order.Direction)
	}
	if !order.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("quantity = %s, want 1", order.Quantity)
	}
}

// TestExitSignalClosesExistingPosition exercises the EXIT-signal branch:
// direction is derived from the current position side and quantity
// closes it exactly. The signal carries margin_call_type close_deal, as
// the margin-call monitor's synthetic exits do, so the margin check is
// skipped.
func TestExitSignalClosesExistingPosition(t *testing.T) {
	insts := testInstruments()
	p := portfolio.New(nil, decimal.NewFromInt(100000), insts)
	if err := p.ApplyFill(fill("ES", types.Buy, 2, 100, 0, 0, time.Unix(0, 0))); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	sig := types.Signal{Timestamp: time.Unix(1, 0), Symbol: "ES", Name: types.SignalExit, MarginCallType: types.CloseDeal, OrderType: types.OrderTypeMarket}
	order, err := p.SignalToOrder(sig, insts["ES"], portfolio.One, 100, 1, 1)
	if err != nil || order == nil {
		t.Fatalf("SignalToOrder: order=%v err=%v", order, err)
	}
	if order.Direction != types.Sell {
		t.Errorf("direction = %s, want SELL to close a long", order.Direction)
	}
	if !order.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("quantity = %s, want 2 (full close)", order.Quantity)
	}
}

// TestMarginMonitorTriggersBelowFraction implements scenario S4: equity
// dropping below min_margin * initial_capital raises the condition.
func TestMarginMonitorTriggersBelowFraction(t *testing.T) {
	mon := portfolio.NewMarginMonitor(10000, 0.5)
	if mon.Triggered(5001) {
		t.Errorf("5001/10000 = 0.5001, should not trigger at threshold 0.5")
	}
	if !mon.Triggered(4999) {
		t.Errorf("4999/10000 = 0.4999, should trigger below 0.5")
	}

	signals := portfolio.ExitSignalsFor([]string{"ES"}, time.Unix(2, 0))
	if len(signals) != 1 || signals[0].Name != types.SignalExit || signals[0].MarginCallType != types.CloseDeal {
		t.Fatalf("unexpected synthetic exit signals: %+v", signals)
	}
}
