// Package data implements the per-strategy multi-symbol cursor (C3):
// the component that drives the timeline by advancing N symbol streams in
// merged-timestamp order and publishing MARKET events onto the bus.
package data

import (
	"fmt"
	"time"

	"github.com/atlas-quant/backtest-engine/internal/barstore"
	"github.com/atlas-quant/backtest-engine/internal/events"
	"github.com/atlas-quant/backtest-engine/internal/resample"
	"github.com/atlas-quant/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// symbolStream is one symbol's resampled cursor plus its accumulated
// history.
type symbolStream struct {
	store    *barstore.Store
	iterator *resample.Iterator
	peeked   *types.Bar // next unconsumed bar, nil once exhausted
	history  []types.Bar
	latest   types.Bar
	have     bool // whether `latest` has ever been set
}

// Handler owns one cursor per symbol, sharing the symbols' declared order
// as the tie-break contract for equal timestamps (spec §4.3).
type Handler struct {
	logger  *zap.Logger
	symbols []string // declared order, authoritative tie-break
	streams map[string]*symbolStream
}

// NewHandler builds a data handler over one resampled iterator per
// symbol. symbols gives the declared (tie-break) order; stores must have
// an entry for every symbol, and every symbol is resampled to tf.
func NewHandler(logger *zap.Logger, symbols []string, stores map[string]*barstore.Store, tf types.Timeframe) (*Handler, error) {
	h := &Handler{logger: logger, symbols: append([]string(nil), symbols...), streams: make(map[string]*symbolStream, len(symbols))}

	for _, sym := range symbols {
		store, ok := stores[sym]
		if !ok {
			return nil, &types.MetadataError{Symbol: sym, Reason: "no bar store provided for symbol"}
		}
		it := resample.NewIterator(store, tf)
		s := &symbolStream{store: store, iterator: it, history: make([]types.Bar, 0, it.Len())}
		if err := s.advancePeek(); err != nil {
			return nil, err
		}
		h.streams[sym] = s
	}
	return h, nil
}

func (s *symbolStream) advancePeek() error {
	bar, ok, err := s.iterator.Next()
	if err != nil {
		return &types.RuntimeError{Detail: fmt.Sprintf("resampling failure: %v", err)}
	}
	if !ok {
		s.peeked = nil
		return nil
	}
	if s.have && !bar.Timestamp.After(s.latest.Timestamp) {
		return &types.RuntimeError{Detail: "non-monotonic timestamp while advancing data handler"}
	}
	b := bar
	s.peeked = &b
	return nil
}

// ContinueBacktest reports whether any symbol stream still has unconsumed
// bars.
func (h *Handler) ContinueBacktest() bool {
	for _, sym := range h.symbols {
		if h.streams[sym].peeked != nil {
			return true
		}
	}
	return false
}

// UpdateBars advances the timeline by one tick: every symbol whose peeked
// bar carries the minimum pending timestamp is consumed and published as
// a MARKET event, in declared symbol-list order, before the caller may run
// strategies on the resulting state. Returns the number of symbols
// advanced (0 once exhausted).
func (h *Handler) UpdateBars(bus *events.Bus) (int, error) {
	minTS, any := h.minPendingTimestamp()
	if !any {
		return 0, nil
	}

	advanced := 0
	for _, sym := range h.symbols {
		s := h.streams[sym]
		if s.peeked == nil || !s.peeked.Timestamp.Equal(minTS) {
			continue
		}
		bar := *s.peeked
		s.history = append(s.history, bar)
		s.latest = bar
		s.have = true
		bus.PushMarket(events.MarketEvent{Symbol: sym, Bar: bar, Timestamp: bar.Timestamp})
		advanced++

		if err := s.advancePeek(); err != nil {
			return advanced, err
		}
	}
	return advanced, nil
}

func (h *Handler) minPendingTimestamp() (bestTS time.Time, any bool) {
	for _, sym := range h.symbols {
		s := h.streams[sym]
		if s.peeked == nil {
			continue
		}
		if !any || s.peeked.Timestamp.Before(bestTS) {
			bestTS = s.peeked.Timestamp
			any = true
		}
	}
	return bestTS, any
}

// GetLatestBarValue returns one OHLCV field of the most recently
// published bar for symbol.
func (h *Handler) GetLatestBarValue(symbol, field string) (float64, error) {
	s, ok := h.streams[symbol]
	if !ok || !s.have {
		return 0, &types.RuntimeError{Detail: fmt.Sprintf("no bar published yet for %s", symbol)}
	}
	switch field {
	case "open":
		return s.latest.Open, nil
	case "high":
		return s.latest.High, nil
	case "low":
		return s.latest.Low, nil
	case "close":
		return s.latest.Close, nil
	case "volume":
		return float64(s.latest.Volume), nil
	default:
		return 0, &types.RuntimeError{Detail: fmt.Sprintf("unknown bar field %q", field)}
	}
}

// GetLatestBarDatetime returns the timestamp of the most recently
// published bar for symbol.
func (h *Handler) GetLatestBarDatetime(symbol string) (time.Time, error) {
	s, ok := h.streams[symbol]
	if !ok || !s.have {
		return time.Time{}, &types.RuntimeError{Detail: fmt.Sprintf("no bar published yet for %s", symbol)}
	}
	return s.latest.Timestamp, nil
}

// LatestBar returns the most recently published bar for symbol in full
// (used by the execution simulator to fill orders against the bar that
// triggered them).
func (h *Handler) LatestBar(symbol string) (types.Bar, error) {
	s, ok := h.streams[symbol]
	if !ok || !s.have {
		return types.Bar{}, &types.RuntimeError{Detail: fmt.Sprintf("no bar published yet for %s", symbol)}
	}
	return s.latest, nil
}

// BarsView is a cheap, allocation-free view over a symbol's accumulated
// history in reverse-time order (At(0) is most recent).
type BarsView struct {
	hist []types.Bar
	n    int
}

func (v BarsView) Len() int { return v.n }

func (v BarsView) At(i int) types.Bar {
	return v.hist[len(v.hist)-1-i]
}

// GetLatestBars returns the last n bars for symbol in reverse-time order.
// Returns fewer than n if the stream hasn't produced n bars yet.
func (h *Handler) GetLatestBars(symbol string, n int) (BarsView, error) {
	s, ok := h.streams[symbol]
	if !ok {
		return BarsView{}, &types.MetadataError{Symbol: symbol, Reason: "unknown symbol"}
	}
	count := n
	if count > len(s.history) {
		count = len(s.history)
	}
	return BarsView{hist: s.history, n: count}, nil
}

// Symbols returns the declared symbol order.
func (h *Handler) Symbols() []string { return h.symbols }
