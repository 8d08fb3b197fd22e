package resample_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-quant/backtest-engine/internal/barstore"
	"github.com/atlas-quant/backtest-engine/internal/resample"
	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// TestFiveMinuteCollapse implements scenario S5 from spec §8: five base
// 1-minute bars aggregated to one 5-minute bar.
func TestFiveMinuteCollapse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ESZ4.bin")

	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := []types.Bar{
		{Timestamp: start, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
		{Timestamp: start.Add(1 * time.Minute), Open: 100.5, High: 102, Low: 100, Close: 101, Volume: 20},
		{Timestamp: start.Add(2 * time.Minute), Open: 101, High: 103, Low: 100.5, Close: 102, Volume: 30},
		{Timestamp: start.Add(3 * time.Minute), Open: 102, High: 102.5, Low: 98, Close: 99, Volume: 40},
		{Timestamp: start.Add(4 * time.Minute), Open: 99, High: 100, Low: 97, Close: 98, Volume: 50},
	}
	if err := barstore.WriteBarFile(path, bars); err != nil {
		t.Fatalf("WriteBarFile: %v", err)
	}

	store, err := barstore.Open(nil, "ES", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	it := resample.NewIterator(store, types.Timeframe5Min)
	if it.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", it.Len())
	}
	got, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = (_, %v, %v)", ok, err)
	}

	if got.Open != 100 {
		t.Errorf("Open = %v, want bar0.open = 100", got.Open)
	}
	if got.High != 103 {
		t.Errorf("High = %v, want max = 103", got.High)
	}
	if got.Low != 97 {
		t.Errorf("Low = %v, want min = 97", got.Low)
	}
	if got.Close != 98 {
		t.Errorf("Close = %v, want bar4.close = 98", got.Close)
	}
	if got.Volume != 150 {
		t.Errorf("Volume = %v, want sum = 150", got.Volume)
	}
	if !got.Timestamp.Equal(start) {
		t.Errorf("Timestamp = %v, want bar0.timestamp = %v", got.Timestamp, start)
	}

	if _, ok, _ := it.Next(); ok {
		t.Fatalf("expected iterator exhausted after one output bar")
	}
}

// TestResamplingCompleteness implements invariant 3 from spec §8: summed
// volume and open/close boundaries are preserved across a resampling.
func TestResamplingCompleteness(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ESZ4.bin")
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]types.Bar, 15)
	var totalVolume uint64
	for i := range bars {
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      100 + float64(i),
			High:      105 + float64(i),
			Low:       95 + float64(i),
			Close:     101 + float64(i),
			Volume:    uint64(100 + i*7),
		}
		totalVolume += bars[i].Volume
	}
	if err := barstore.WriteBarFile(path, bars); err != nil {
		t.Fatalf("WriteBarFile: %v", err)
	}
	store, err := barstore.Open(nil, "ES", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	it := resample.NewIterator(store, types.Timeframe5Min)
	var sumVolume uint64
	var firstOpen, lastClose float64
	count := 0
	for {
		b, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if count == 0 {
			firstOpen = b.Open
		}
		lastClose = b.Close
		sumVolume += b.Volume
		count++
	}

	if sumVolume != totalVolume {
		t.Errorf("sum(resampled volumes) = %d, want %d", sumVolume, totalVolume)
	}
	if firstOpen != bars[0].Open {
		t.Errorf("first resampled open = %v, want %v", firstOpen, bars[0].Open)
	}
	if lastClose != bars[len(bars)-1].Close {
		t.Errorf("last resampled close = %v, want %v", lastClose, bars[len(bars)-1].Close)
	}
}
