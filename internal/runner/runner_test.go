package runner_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/backtest-engine/internal/barstore"
	"github.com/atlas-quant/backtest-engine/internal/portfolio"
	"github.com/atlas-quant/backtest-engine/internal/runner"
	"github.com/atlas-quant/backtest-engine/internal/strategyhost"
	"github.com/atlas-quant/backtest-engine/internal/strategyhost/testhost"
	"github.com/atlas-quant/backtest-engine/pkg/types"
)

func openStore(t *testing.T, dir, symbol string, bars []types.Bar) *barstore.Store {
	t.Helper()
	path := filepath.Join(dir, symbol+".bin")
	if err := barstore.WriteBarFile(path, bars); err != nil {
		t.Fatalf("WriteBarFile(%s): %v", symbol, err)
	}
	store, err := barstore.Open(nil, symbol, path)
	if err != nil {
		t.Fatalf("Open(%s): %v", symbol, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func constClose(n int, start time.Time, close float64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = types.Bar{Timestamp: start.Add(time.Duration(i) * time.Minute), Open: close, High: close, Low: close, Close: close, Volume: 100}
	}
	return bars
}

func linearRise(n int, start time.Time, from, to float64) []types.Bar {
	bars := make([]types.Bar, n)
	step := (to - from) / float64(n-1)
	for i := 0; i < n; i++ {
		price := from + step*float64(i)
		bars[i] = types.Bar{Timestamp: start.Add(time.Duration(i) * 24 * time.Hour), Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: 100}
	}
	return bars
}

func baseConfig(instruments map[string]types.InstrumentMeta) runner.Config {
	return runner.Config{
		InitialCapital: decimal.NewFromInt(100000),
		Timeframe:      types.Timeframe1Min,
		Instruments:    instruments,
		Commissions:    types.CommissionPlan{"CME": {"per_contract": 0}},
		Sizer:          portfolio.One,
		MinMargin:      0.5,
		Mode:           types.ModeDebug,
	}
}

// TestFlatStrategyProducesConstantEquity implements scenario S1.
func TestFlatStrategyProducesConstantEquity(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	store := openStore(t, dir, "ES", constClose(100, start, 100.0))

	instruments := map[string]types.InstrumentMeta{"ES": {Symbol: "ES", Exchange: "CME", MarginPerContract: 1000}}
	artifact := strategyhost.NewFromFactory(nil, "flat", testhost.Flat())

	tr, err := runner.New(nil, []string{"ES"}, map[string]*barstore.Store{"ES": store}, artifact, baseConfig(instruments))
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	res, err := tr.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.EquityCurve) != 100 {
		t.Fatalf("equity curve length = %d, want 100", len(res.EquityCurve))
	}
	for _, pt := range res.EquityCurve {
		if !pt.Capital.Equal(decimal.NewFromInt(100000)) {
			t.Fatalf("equity point = %s, want constant 100000", pt.Capital)
		}
	}
	if !res.Metrics.TotalReturn.IsZero() || !res.Metrics.MaxDrawdown.IsZero() {
		t.Errorf("flat strategy metrics = %+v, want all zero", res.Metrics)
	}
	if res.Metrics.DealsCount != 0 {
		t.Errorf("DealsCount = %d, want 0", res.Metrics.DealsCount)
	}
}

// TestSingleRoundTripEndToEnd implements scenario S2: one LONG entry, one
// EXIT, zero slippage/commission, quantity 1.
func TestSingleRoundTripEndToEnd(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	store := openStore(t, dir, "ES", linearRise(100, start, 100, 200))

	instruments := map[string]types.InstrumentMeta{"ES": {Symbol: "ES", Exchange: "CME", MarginPerContract: 1000}}
	artifact := strategyhost.NewFromFactory(nil, "fixed", testhost.FixedSchedule("ES", 10, 90, 1))

	cfg := baseConfig(instruments)
	tr, err := runner.New(nil, []string{"ES"}, map[string]*barstore.Store{"ES": store}, artifact, cfg)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	res, err := tr.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Metrics.DealsCount != 1 {
		t.Fatalf("DealsCount = %d, want 1", res.Metrics.DealsCount)
	}
	last := res.EquityCurve[len(res.EquityCurve)-1]
	if !last.Capital.GreaterThan(decimal.NewFromInt(100000)) {
		t.Errorf("final equity = %s, want > initial capital after a profitable round trip", last.Capital)
	}
}

// TestLimitOrderRejectionLeavesNoTrade implements scenario S3 at the
// trial level: a limit order posted outside the bar's range never fills
// and the trial ends flat.
func TestLimitOrderRejectionLeavesNoTrade(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	store := openStore(t, dir, "ES", constClose(10, start, 100.0))

	instruments := map[string]types.InstrumentMeta{"ES": {Symbol: "ES", Exchange: "CME", MarginPerContract: 1000}}
	artifact := strategyhost.NewFromFactory(nil, "limit", testhost.LimitOnce("ES", 50, 1))

	tr, err := runner.New(nil, []string{"ES"}, map[string]*barstore.Store{"ES": store}, artifact, baseConfig(instruments))
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	res, err := tr.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Metrics.DealsCount != 0 {
		t.Fatalf("DealsCount = %d, want 0 (limit never fills)", res.Metrics.DealsCount)
	}
}
