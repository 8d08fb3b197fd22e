// Package resample collapses base bars into target-timeframe bars on
// demand, per spec §4.2: deterministic, restartable by ordinal, O(1)
// extra memory per output bar.
package resample

import (
	"github.com/atlas-quant/backtest-engine/internal/barstore"
	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// Iterator yields aggregated bars for one target timeframe over one bar
// store, walking the store's precomputed timeframe index.
type Iterator struct {
	store *barstore.Store
	tf    types.Timeframe
	next  int // index into the timeframe's OrdinalRange slice
}

// NewIterator builds an iterator over store's precomputed ranges for tf. tf must
// be one of types.SupportedTimeframes; base (1-minute-or-finer source
// data collapsing to itself) is handled the same way as any other
// timeframe by the index builder.
func NewIterator(store *barstore.Store, tf types.Timeframe) *Iterator {
	return &Iterator{store: store, tf: tf}
}

// Len reports how many resampled bars this iterator will produce in
// total.
func (it *Iterator) Len() int {
	return len(it.store.Index().TimeframeRanges[it.tf])
}

// Seek restarts the iterator at the resampled-bar ordinal n (0-based),
// satisfying the "restartable by ordinal" requirement.
func (it *Iterator) Seek(n int) {
	it.next = n
}

// Next returns the next aggregated bar and true, or a zero Bar and false
// once every range has been consumed.
func (it *Iterator) Next() (types.Bar, bool, error) {
	ranges := it.store.Index().TimeframeRanges[it.tf]
	if it.next >= len(ranges) {
		return types.Bar{}, false, nil
	}
	r := ranges[it.next]
	it.next++
	bar, err := Collapse(it.store, r)
	return bar, true, err
}

// Collapse aggregates the base bars in the inclusive ordinal range
// [r.First, r.Last] into one left-labeled OHLCV bar: open = first.open,
// high = max(high), low = min(low), close = last.close,
// volume = sum(volume), timestamp = first.timestamp.
func Collapse(store *barstore.Store, r barstore.OrdinalRange) (types.Bar, error) {
	first, err := store.BarAt(r.First)
	if err != nil {
		return types.Bar{}, err
	}
	out := types.Bar{
		Timestamp: first.Timestamp,
		Open:      first.Open,
		High:      first.High,
		Low:       first.Low,
		Close:     first.Close,
		Volume:    first.Volume,
	}
	for ord := r.First + 1; ord <= r.Last; ord++ {
		b, err := store.BarAt(ord)
		if err != nil {
			return types.Bar{}, err
		}
		if b.High > out.High {
			out.High = b.High
		}
		if b.Low < out.Low {
			out.Low = b.Low
		}
		out.Close = b.Close
		out.Volume += b.Volume
	}
	return out, nil
}
