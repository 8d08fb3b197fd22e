package portfolio

import (
	"math"

	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// Sizer is a pure function of (capital, close, reference_value,
// instrument, value) returning a contract count, per spec §4.7's
// enumerated position sizers.
type Sizer func(capital, close, referenceValue float64, instrument types.InstrumentMeta, value float64) float64

// SizerByName resolves one of the four sizers spec.md §4.7 enumerates.
func SizerByName(name string) (Sizer, bool) {
	switch name {
	case "mpr":
		return MPR, true
	case "poe":
		return POE, true
	case "fixed_ratio":
		return FixedRatio, true
	case "1":
		return One, true
	default:
		return nil, false
	}
}

// MPR (Maximum Possible Risk) allocates capital*value to the margin
// requirement: floor(capital * value / (margin + marginal_costs)).
func MPR(capital, close, referenceValue float64, instrument types.InstrumentMeta, value float64) float64 {
	denom := instrument.MarginPerContract + instrument.MarginalCosts
	if denom <= 0 {
		return 0
	}
	return math.Floor(capital * value / denom)
}

// POE (Percent of Equity) allocates capital*value to notional at the
// current close: floor(capital * value / close).
func POE(capital, close, referenceValue float64, instrument types.InstrumentMeta, value float64) float64 {
	if close <= 0 {
		return 0
	}
	return math.Floor(capital * value / close)
}

// FixedRatio buckets capital into fixed value increments (pos_sizer_value
// doubles as the "delta" per additional contract), adding one contract
// per increment of capital beyond the base unit (the classic fixed-ratio
// sizing idea, simplified to a single delta parameter since the source
// spec names the sizer without giving its exact formula — see DESIGN.md
// Open Question decisions).
func FixedRatio(capital, close, referenceValue float64, instrument types.InstrumentMeta, value float64) float64 {
	if value <= 0 {
		return 1
	}
	return math.Floor(capital/value) + 1
}

// One always allocates exactly one contract, regardless of inputs —
// the literal "1" sizer.
func One(capital, close, referenceValue float64, instrument types.InstrumentMeta, value float64) float64 {
	return 1
}
