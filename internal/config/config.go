// Package config loads the JSON run configuration, instrument metadata
// and commission plan that parameterize every trial. Decoded with plain
// encoding/json rather than the example pack's viper+mapstructure idiom:
// RootConfig's ValueSpec and OptimizerTypeConfig fields carry custom
// UnmarshalJSON methods (range-spec vs literal list, "Grid_Search" vs
// {"Genetic": {...}}) that a mapstructure-based decode never invokes —
// only encoding/json does (see DESIGN.md for the full rationale behind
// dropping viper here). DisallowUnknownFields stands in for viper's
// ErrorUnused, rejecting any key RootConfig doesn't name.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// dateLayout is the wire format for instrument metadata dates, UTC-normalized.
const dateLayout = "2006-01-02 15:04:05"

// Load decodes path as the top-level run configuration. Any key not
// recognized by types.RootConfig's json tags fails the load, and every
// invariant from RootConfig.Validate is checked before returning.
func Load(path string) (*types.RootConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.IoError{Path: path, Err: err}
	}

	var cfg types.RootConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, &types.ConfigError{Field: "(root)", Reason: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// rawInstrument mirrors the wire shape of one entry in the instrument
// metadata JSON: base -> contract -> {...}, per spec §6's field names
// (which diverge from types.InstrumentMeta's Go names: "margin" not
// "margin_per_contract", "step" not "price_step").
type rawInstrument struct {
	Exchange          string  `json:"exchange"`
	Type              string  `json:"type"`
	ContractPrecision int     `json:"contract_precision"`
	Margin            float64 `json:"margin"`
	CommissionType    string  `json:"commission_type"`
	TradeFromDate     string  `json:"trade_from_date"`
	ExpirationDate    string  `json:"expiration_date"`
	MarginalCosts     float64 `json:"marginal_costs"`
	Step              float64 `json:"step"`
	StepPrice         float64 `json:"step_price"`
}

// LoadInstruments decodes the base/contract-nested instrument metadata
// JSON at path into a flat map keyed by the contract symbol a strategy
// actually trades (the contract key alone, e.g. "ESH24"; if a base
// carries a single unnamed contract the base itself is the key).
func LoadInstruments(path string) (map[string]types.InstrumentMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.IoError{Path: path, Err: err}
	}

	var raw map[string]map[string]rawInstrument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, &types.ConfigError{Field: "instruments", Reason: err.Error()}
	}

	out := make(map[string]types.InstrumentMeta)
	for base, contracts := range raw {
		for contract, ri := range contracts {
			meta, err := ri.toMeta(base)
			if err != nil {
				return nil, err
			}
			key := contract
			if key == "" {
				key = base
			}
			meta.Symbol = key
			out[key] = meta
		}
	}
	return out, nil
}

func (ri rawInstrument) toMeta(base string) (types.InstrumentMeta, error) {
	instType := types.InstrumentType(ri.Type)
	switch instType {
	case types.InstrumentFutures, types.InstrumentIndex, types.InstrumentCurrency:
	default:
		return types.InstrumentMeta{}, &types.MetadataError{Symbol: base, Reason: fmt.Sprintf("unknown instrument type %q", ri.Type)}
	}

	tradeFrom, err := time.Parse(dateLayout, ri.TradeFromDate)
	if err != nil {
		return types.InstrumentMeta{}, &types.MetadataError{Symbol: base, Reason: "trade_from_date: " + err.Error()}
	}
	expiration, err := time.Parse(dateLayout, ri.ExpirationDate)
	if err != nil {
		return types.InstrumentMeta{}, &types.MetadataError{Symbol: base, Reason: "expiration_date: " + err.Error()}
	}

	return types.InstrumentMeta{
		Exchange:          ri.Exchange,
		Type:              instType,
		ContractPrecision: ri.ContractPrecision,
		MarginPerContract: ri.Margin,
		CommissionType:    ri.CommissionType,
		TradeFromDate:     tradeFrom.UTC(),
		ExpirationDate:    expiration.UTC(),
		MarginalCosts:     ri.MarginalCosts,
		PriceStep:         ri.Step,
		StepPrice:         ri.StepPrice,
	}, nil
}

// LoadCommissionPlan decodes the exchange -> commission_type -> rate
// JSON at path.
func LoadCommissionPlan(path string) (types.CommissionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.IoError{Path: path, Err: err}
	}
	var plan types.CommissionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, &types.ConfigError{Field: "commission_plan", Reason: err.Error()}
	}
	return plan, nil
}

// ValidateCrossReferences checks the invariants spec §3/§6 state across
// the three loaded documents: every symbol a strategy declares must
// resolve in instruments, and every instrument's exchange must resolve
// in the commission plan.
func ValidateCrossReferences(cfg *types.RootConfig, instruments map[string]types.InstrumentMeta, commissions types.CommissionPlan) error {
	for id, strat := range cfg.Portfolio {
		for _, symbol := range strat.Symbols {
			meta, ok := instruments[symbol]
			if !ok {
				return &types.MetadataError{Symbol: symbol, Reason: fmt.Sprintf("portfolio.%s references unknown symbol", id)}
			}
			if _, ok := commissions[meta.Exchange]; !ok {
				return &types.MetadataError{Symbol: symbol, Reason: fmt.Sprintf("instrument exchange %q has no commission plan entry", meta.Exchange)}
			}
			if _, ok := commissions[meta.Exchange][meta.CommissionType]; !ok {
				return &types.MetadataError{Symbol: symbol, Reason: fmt.Sprintf("commission plan for exchange %q has no rate for type %q", meta.Exchange, meta.CommissionType)}
			}
		}
	}
	return nil
}
