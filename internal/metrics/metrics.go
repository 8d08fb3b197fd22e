// Package metrics computes end-of-trial performance statistics (C8):
// total return, APR, max drawdown, recovery factor, deals count and a
// configurable composite fitness. Grounded on the scalar-math style of
// the teacher's internal/backtester/metrics.go (mean/stdDev/drawdown
// walkers over an equity series), replacing its Sharpe/Sortino/VaR
// battery — unused by any SPEC_FULL component — with the exact
// calendar-span APR and recovery-factor formulas this engine specifies.
package metrics

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// Result holds one trial's computed performance record.
type Result struct {
	TotalReturn    decimal.Decimal
	APR            decimal.Decimal
	MaxDrawdown    decimal.Decimal
	RecoveryFactor decimal.Decimal
	DealsCount     int
	Fitness        decimal.Decimal
}

// RecoveryFactorInfinite is the sentinel recovery-factor value returned
// when max drawdown is zero (a non-degenerate win with no retracement);
// the ranker treats it as a very large, finite-comparable value.
var RecoveryFactorInfinite = decimal.NewFromInt(1 << 32)

// Calculate computes the full performance record for one trial's equity
// curve and trade log. Tolerates degenerate series (zero-length,
// constant, monotonic) without faulting, per spec §4.8.
func Calculate(equityCurve []types.EquityPoint, trades []types.Trade, initialCapital decimal.Decimal, fitnessSpec FitnessSpec) Result {
	var res Result
	res.DealsCount = len(trades)

	if len(equityCurve) == 0 || initialCapital.IsZero() {
		res.RecoveryFactor = decimal.Zero
		res.Fitness = fitnessSpec.evaluate(res)
		return res
	}

	first := equityCurve[0]
	last := equityCurve[len(equityCurve)-1]

	res.TotalReturn = last.Capital.Sub(initialCapital).Div(initialCapital)
	res.APR = apr(initialCapital, last.Capital, first.Time, last.Time)
	res.MaxDrawdown = maxDrawdown(equityCurve)

	if res.MaxDrawdown.IsZero() {
		if res.TotalReturn.IsZero() {
			res.RecoveryFactor = decimal.Zero
		} else {
			res.RecoveryFactor = RecoveryFactorInfinite
		}
	} else {
		res.RecoveryFactor = res.TotalReturn.Div(res.MaxDrawdown)
	}

	res.Fitness = fitnessSpec.evaluate(res)
	return res
}

// apr computes (E[n]/K)^(365/span_days) - 1, undefined (0 by contract)
// when the calendar span between the first and last equity point is
// under one day.
func apr(k, enD decimal.Decimal, start, end interface{ Unix() int64 }) decimal.Decimal {
	spanSeconds := end.Unix() - start.Unix()
	spanDays := float64(spanSeconds) / 86400.0
	if spanDays < 1 || k.IsZero() {
		return decimal.Zero
	}
	ratio, _ := enD.Div(k).Float64()
	if ratio <= 0 {
		return decimal.Zero
	}
	exponent := 365.0 / spanDays
	value := math.Pow(ratio, exponent) - 1
	return decimal.NewFromFloat(value)
}

// maxDrawdown is max_i (1 - E[i]/running_max(E[0..i])).
func maxDrawdown(equityCurve []types.EquityPoint) decimal.Decimal {
	maxDD := decimal.Zero
	peak := equityCurve[0].Capital
	for _, pt := range equityCurve {
		if pt.Capital.GreaterThan(peak) {
			peak = pt.Capital
		}
		if peak.IsZero() {
			continue
		}
		dd := decimal.NewFromInt(1).Sub(pt.Capital.Div(peak))
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// FitnessSpec names the metrics combined into a composite fitness score
// and how they combine. The default, matching spec §4.8's sample
// composite, is APR divided by DD_factor, times recovery factor, times
// deals count, where DD_factor = 1 - max drawdown (0.0001 when that is
// zero). It is 0 when there are no deals.
type FitnessSpec struct {
	Metric    string // e.g. "default", or a single metric name for direct ranking.
	Direction string // "max" or "min"
}

// DefaultFitnessSpec is the sample composite from spec §4.8:
// APR/DD_factor x RecoveryFactor x DealsCount.
var DefaultFitnessSpec = FitnessSpec{Metric: "default", Direction: "max"}

func (f FitnessSpec) evaluate(r Result) decimal.Decimal {
	switch strings.ToLower(f.Metric) {
	case "", "default":
		ddFactor := decimal.NewFromInt(1).Sub(r.MaxDrawdown)
		if ddFactor.IsZero() {
			ddFactor = decimal.NewFromFloat(0.0001)
		}
		dealsFactor := decimal.NewFromInt(int64(r.DealsCount))
		if dealsFactor.IsZero() {
			return decimal.Zero
		}
		return r.APR.Div(ddFactor).Mul(r.RecoveryFactor).Mul(dealsFactor)
	case "total_return":
		return r.TotalReturn
	case "apr":
		return r.APR
	case "max_drawdown":
		return r.MaxDrawdown
	case "recovery_factor":
		return r.RecoveryFactor
	case "deals_count":
		return decimal.NewFromInt(int64(r.DealsCount))
	default:
		return decimal.Zero
	}
}
