package data_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-quant/backtest-engine/internal/barstore"
	"github.com/atlas-quant/backtest-engine/internal/data"
	"github.com/atlas-quant/backtest-engine/internal/events"
	"github.com/atlas-quant/backtest-engine/pkg/types"
)

func writeStore(t *testing.T, dir, symbol string, bars []types.Bar) *barstore.Store {
	t.Helper()
	path := filepath.Join(dir, symbol+".bin")
	if err := barstore.WriteBarFile(path, bars); err != nil {
		t.Fatalf("WriteBarFile(%s): %v", symbol, err)
	}
	s, err := barstore.Open(nil, symbol, path)
	if err != nil {
		t.Fatalf("Open(%s): %v", symbol, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMergedTimestampTieBreak(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	// ES and NQ share every timestamp; CL starts one minute later.
	esBars := []types.Bar{
		{Timestamp: start, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
		{Timestamp: start.Add(time.Minute), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
	}
	nqBars := []types.Bar{
		{Timestamp: start, Open: 200, High: 201, Low: 199, Close: 200, Volume: 1},
		{Timestamp: start.Add(time.Minute), Open: 200, High: 201, Low: 199, Close: 200, Volume: 1},
	}
	clBars := []types.Bar{
		{Timestamp: start.Add(time.Minute), Open: 300, High: 301, Low: 299, Close: 300, Volume: 1},
	}

	stores := map[string]*barstore.Store{
		"ES": writeStore(t, dir, "ES", esBars),
		"NQ": writeStore(t, dir, "NQ", nqBars),
		"CL": writeStore(t, dir, "CL", clBars),
	}

	h, err := data.NewHandler(nil, []string{"ES", "NQ", "CL"}, stores, types.Timeframe1Min)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	bus := events.NewBus(8)

	// Tick 1: only ES and NQ have a bar at `start`; CL's first bar is one
	// minute later and must not be published yet.
	n, err := h.UpdateBars(bus)
	if err != nil {
		t.Fatalf("UpdateBars: %v", err)
	}
	if n != 2 {
		t.Fatalf("tick 1 advanced %d symbols, want 2", n)
	}
	first, _ := bus.Pop()
	second, _ := bus.Pop()
	if first.Market.Symbol != "ES" || second.Market.Symbol != "NQ" {
		t.Fatalf("tick 1 publish order = %s,%s want ES,NQ (declared order)", first.Market.Symbol, second.Market.Symbol)
	}
	if _, ok := bus.Pop(); ok {
		t.Fatalf("expected only 2 events on tick 1")
	}

	// Tick 2: all three symbols share `start+1m`.
	n, err = h.UpdateBars(bus)
	if err != nil {
		t.Fatalf("UpdateBars: %v", err)
	}
	if n != 3 {
		t.Fatalf("tick 2 advanced %d symbols, want 3", n)
	}
	order := []string{}
	for {
		e, ok := bus.Pop()
		if !ok {
			break
		}
		order = append(order, e.Market.Symbol)
	}
	want := []string{"ES", "NQ", "CL"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("tick 2 publish order = %v, want %v", order, want)
		}
	}

	if h.ContinueBacktest() {
		t.Fatalf("expected all streams exhausted")
	}
}

func TestGetLatestBarsReverseOrder(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := []types.Bar{
		{Timestamp: start, Close: 1},
		{Timestamp: start.Add(time.Minute), Close: 2},
		{Timestamp: start.Add(2 * time.Minute), Close: 3},
	}
	stores := map[string]*barstore.Store{"ES": writeStore(t, dir, "ES", bars)}
	h, err := data.NewHandler(nil, []string{"ES"}, stores, types.Timeframe1Min)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	bus := events.NewBus(4)
	for h.ContinueBacktest() {
		if _, err := h.UpdateBars(bus); err != nil {
			t.Fatalf("UpdateBars: %v", err)
		}
		for bus.Len() > 0 {
			bus.Pop()
		}
	}

	view, err := h.GetLatestBars("ES", 2)
	if err != nil {
		t.Fatalf("GetLatestBars: %v", err)
	}
	if view.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", view.Len())
	}
	if view.At(0).Close != 3 || view.At(1).Close != 2 {
		t.Fatalf("reverse-time order wrong: At(0)=%v At(1)=%v", view.At(0).Close, view.At(1).Close)
	}

	// Requesting more than available returns fewer, not an error.
	view, err = h.GetLatestBars("ES", 10)
	if err != nil {
		t.Fatalf("GetLatestBars(10): %v", err)
	}
	if view.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (all available)", view.Len())
	}
}
