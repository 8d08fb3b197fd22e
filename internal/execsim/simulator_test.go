package execsim_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/backtest-engine/internal/execsim"
	"github.com/atlas-quant/backtest-engine/pkg/types"
)

func testInstruments() map[string]types.InstrumentMeta {
	return map[string]types.InstrumentMeta{
		"ES": {Symbol: "ES", Exchange: "CME", CommissionType: "per_contract"},
	}
}

func testCommissions() types.CommissionPlan {
	return types.CommissionPlan{"CME": {"per_contract": 2.5}}
}

func TestMarketOrderAppliesSlippageBySide(t *testing.T) {
	sim := execsim.New(nil, execsim.Config{Slippage: 0.01}, testInstruments(), testCommissions())
	bar := types.Bar{Timestamp: time.Unix(0, 0), Close: 100, Low: 99, High: 101}

	buy := types.Order{Symbol: "ES", Direction: types.Buy, Quantity: decimal.NewFromInt(1), OrderType: types.OrderTypeMarket}
	fill, err := sim.Simulate(buy, bar)
	if err != nil || fill == nil {
		t.Fatalf("Simulate(buy): fill=%v err=%v", fill, err)
	}
	if got, _ := fill.FillPrice.Float64(); got != 101 {
		t.Errorf("buy fill price = %v, want 101 (close * 1.01)", got)
	}

	sell := types.Order{Symbol: "ES", Direction: types.Sell, Quantity: decimal.NewFromInt(1), OrderType: types.OrderTypeMarket}
	fill, err = sim.Simulate(sell, bar)
	if err != nil || fill == nil {
		t.Fatalf("Simulate(sell): fill=%v err=%v", fill, err)
	}
	if got, _ := fill.FillPrice.Float64(); got != 99 {
		t.Errorf("sell fill price = %v, want 99 (close * 0.99)", got)
	}
	if !fill.Commission.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("commission = %v, want 2.5", fill.Commission)
	}
}

// TestLimitOrderRejection implements scenario S3 from spec §8.
func TestLimitOrderRejection(t *testing.T) {
	sim := execsim.New(nil, execsim.Config{Slippage: 0}, testInstruments(), testCommissions())
	bar := types.Bar{Timestamp: time.Unix(0, 0), Close: 105, Low: 100, High: 110}

	order := types.Order{Symbol: "ES", Direction: types.Buy, Quantity: decimal.NewFromInt(1), OrderType: types.OrderTypeLimit, LimitPrice: decimal.NewFromFloat(99)}
	fill, err := sim.Simulate(order, bar)
	if err != nil {
		t.Fatalf("Simulate: unexpected error %v", err)
	}
	if fill != nil {
		t.Fatalf("expected no fill for a limit price outside [low,high], got %+v", fill)
	}
	if sim.Stats().OrdersDropped != 1 {
		t.Fatalf("OrdersDropped = %d, want 1", sim.Stats().OrdersDropped)
	}
}

func TestLimitOrderFillsWithinRange(t *testing.T) {
	sim := execsim.New(nil, execsim.Config{Slippage: 0}, testInstruments(), testCommissions())
	bar := types.Bar{Timestamp: time.Unix(0, 0), Close: 105, Low: 100, High: 110}

	order := types.Order{Symbol: "ES", Direction: types.Buy, Quantity: decimal.NewFromInt(1), OrderType: types.OrderTypeLimit, LimitPrice: decimal.NewFromFloat(102)}
	fill, err := sim.Simulate(order, bar)
	if err != nil || fill == nil {
		t.Fatalf("Simulate: fill=%v err=%v", fill, err)
	}
	if got, _ := fill.FillPrice.Float64(); got != 102 {
		t.Errorf("fill price = %v, want 102 (exact limit)", got)
	}
}
