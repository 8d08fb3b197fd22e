package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Mode is the top-level run mode.
type Mode string

const (
	ModeDebug    Mode = "Debug"
	ModeOptimize Mode = "Optimize"
	ModeVisual   Mode = "Visual"
)

// MetricsMode selects offline (end-of-trial) vs realtime (incremental)
// equity/metric computation.
type MetricsMode string

const (
	MetricsOffline  MetricsMode = "offline"
	MetricsRealtime MetricsMode = "realtime"
)

// CommonConfig is the config's "common" block.
type CommonConfig struct {
	Mode                   Mode    `json:"mode"`
	InitialCapital         float64 `json:"initial_capital"`
	InstrumentMetadataPath string  `json:"instrument_metadata_path"`
	CommissionPlanPath     string  `json:"commission_plan_path"`
}

// RootConfig is the full top-level JSON configuration:
// {common: {...}, portfolio: {<strategy_id>: <StrategySettings>}}.
type RootConfig struct {
	Common    CommonConfig                 `json:"common"`
	Portfolio map[string]StrategySettings `json:"portfolio"`
}

// DataSettings names the bar data a strategy reads.
type DataSettings struct {
	DataPath  string `json:"data_path"`
	Timeframe string `json:"timeframe"`
}

// PosSizerParams configures C7's position sizer.
type PosSizerParams struct {
	PosSizerName   string                 `json:"pos_sizer_name"`
	PosSizerParams map[string]interface{} `json:"pos_sizer_params"`
	PosSizerValue  ValueSpec              `json:"pos_sizer_value"`
}

// MarginParams configures the margin-call monitor.
type MarginParams struct {
	MinMargin      float64 `json:"min_margin"`
	MarginCallType string  `json:"margin_call_type"`
}

// PortfolioSettingsForStrategy carries per-strategy portfolio behavior
// switches.
type PortfolioSettingsForStrategy struct {
	MetricsCalculationMode MetricsMode `json:"metrics_calculation_mode"`
}

// GAParams configures the genetic-algorithm optimizer.
type GAParams struct {
	PopulationSize   int     `json:"population_size"`
	MaxGenerations   int     `json:"max_generations"`
	PCrossover       float64 `json:"p_crossover"`
	PMutation        float64 `json:"p_mutation"`
	Seed             int64   `json:"seed"`
	FitnessMetric    string  `json:"fitness_metric"`
	FitnessDirection string  `json:"fitness_direction"` // "max" | "min"
}

// OptimizerMethod distinguishes grid search from genetic search.
type OptimizerMethod string

const (
	OptimizerGrid    OptimizerMethod = "Grid_Search"
	OptimizerGenetic OptimizerMethod = "Genetic"
)

// OptimizerTypeConfig decodes either the literal string "Grid_Search" or
// an object {"Genetic": {...ga params...}}.
type OptimizerTypeConfig struct {
	Method OptimizerMethod
	GA     GAParams
}

func (o *OptimizerTypeConfig) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != string(OptimizerGrid) {
			return &ConfigError{Field: "optimizer_type", Reason: fmt.Sprintf("unknown optimizer_type literal %q", asString)}
		}
		o.Method = OptimizerGrid
		return nil
	}

	var asObject struct {
		Genetic *GAParams `json:"Genetic"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&asObject); err != nil {
		return &ConfigError{Field: "optimizer_type", Reason: err.Error()}
	}
	if asObject.Genetic == nil {
		return &ConfigError{Field: "optimizer_type", Reason: "object form must carry a Genetic key"}
	}
	o.Method = OptimizerGenetic
	o.GA = *asObject.Genetic
	return nil
}

func (o OptimizerTypeConfig) MarshalJSON() ([]byte, error) {
	if o.Method == OptimizerGrid {
		return json.Marshal(string(OptimizerGrid))
	}
	return json.Marshal(struct {
		Genetic GAParams `json:"Genetic"`
	}{o.GA})
}

// StrategySettings is one entry of the config's "portfolio" map.
type StrategySettings struct {
	Threads                      int                          `json:"threads,omitempty"`
	StrategyName                 string                       `json:"strategy_name"`
	StrategyPath                 string                       `json:"strategy_path"`
	StrategyWeight               float64                      `json:"strategy_weight"`
	Slippage                     ValueSpec                    `json:"slippage"`
	Data                         DataSettings                 `json:"data"`
	SymbolBaseName               string                       `json:"symbol_base_name"`
	Symbols                      []string                     `json:"symbols"`
	StrategyParams               map[string]ValueSpec         `json:"strategy_params"`
	PosSizerParams               PosSizerParams               `json:"pos_sizer_params"`
	MarginParams                 MarginParams                 `json:"margin_params"`
	PortfolioSettingsForStrategy PortfolioSettingsForStrategy  `json:"portfolio_settings_for_strategy"`
	OptimizerType                OptimizerTypeConfig          `json:"optimizer_type"`
}

// Validate enforces the config invariants spec.md §6 calls out explicitly:
// required fields present, enums known. Unknown-field rejection is done at
// the encoding/json decode layer (internal/config), not here.
func (s StrategySettings) Validate(id string) error {
	if s.StrategyName == "" {
		return &ConfigError{Field: "portfolio." + id + ".strategy_name", Reason: "required"}
	}
	if s.StrategyPath == "" {
		return &ConfigError{Field: "portfolio." + id + ".strategy_path", Reason: "required"}
	}
	if len(s.Symbols) == 0 {
		return &ConfigError{Field: "portfolio." + id + ".symbols", Reason: "must list at least one symbol"}
	}
	if s.Data.DataPath == "" {
		return &ConfigError{Field: "portfolio." + id + ".data.data_path", Reason: "required"}
	}
	switch s.PortfolioSettingsForStrategy.MetricsCalculationMode {
	case MetricsOffline, MetricsRealtime:
	default:
		return &ConfigError{Field: "portfolio." + id + ".portfolio_settings_for_strategy.metrics_calculation_mode", Reason: "must be offline or realtime"}
	}
	switch s.PosSizerParams.PosSizerName {
	case "mpr", "poe", "fixed_ratio", "1":
	default:
		return &ConfigError{Field: "portfolio." + id + ".pos_sizer_params.pos_sizer_name", Reason: "unknown sizer"}
	}
	if s.MarginParams.MinMargin <= 0 || s.MarginParams.MinMargin > 1 {
		return &ConfigError{Field: "portfolio." + id + ".margin_params.min_margin", Reason: "must be in (0, 1]"}
	}
	return nil
}

func (c RootConfig) Validate() error {
	switch c.Common.Mode {
	case ModeDebug, ModeOptimize, ModeVisual:
	default:
		return &ConfigError{Field: "common.mode", Reason: "must be Debug, Optimize or Visual"}
	}
	if c.Common.InitialCapital <= 0 {
		return &ConfigError{Field: "common.initial_capital", Reason: "must be positive"}
	}
	if c.Common.InstrumentMetadataPath == "" {
		return &ConfigError{Field: "common.instrument_metadata_path", Reason: "required"}
	}
	if c.Common.CommissionPlanPath == "" {
		return &ConfigError{Field: "common.commission_plan_path", Reason: "required"}
	}
	if len(c.Portfolio) == 0 {
		return &ConfigError{Field: "portfolio", Reason: "must declare at least one strategy"}
	}
	for id, s := range c.Portfolio {
		if err := s.Validate(id); err != nil {
			return err
		}
	}
	return nil
}
