// Package main provides the entry point for the backtesting and
// hyperparameter-optimization engine. Grounded on the teacher's
// cmd/server/main.go flag-parsing and setupLogger idioms (stdlib flag,
// a zap.Config with a console encoder), replacing its live-trading
// service wiring with a load-config -> load-metadata -> open-bar-stores
// -> dispatch-optimizer -> write-results pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-quant/backtest-engine/internal/barstore"
	"github.com/atlas-quant/backtest-engine/internal/config"
	"github.com/atlas-quant/backtest-engine/internal/optimizer"
	"github.com/atlas-quant/backtest-engine/internal/portfolio"
	"github.com/atlas-quant/backtest-engine/internal/runner"
	"github.com/atlas-quant/backtest-engine/internal/strategyhost"
	"github.com/atlas-quant/backtest-engine/internal/telemetry"
	"github.com/atlas-quant/backtest-engine/internal/workers"
	"github.com/atlas-quant/backtest-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// Exit codes per the configuration/CLI contract: success, then one code
// per class of fatal error. ConfigError and MetadataError share
// exitConfig, and fail maps an error of any other type to exitConfig too.
const (
	exitSuccess = 0
	exitConfig  = 1
	exitIO      = 2
	exitPlugin  = 3
)

func main() {
	configPath := flag.String("config", "", "Path to the JSON run configuration (required)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	metricsAddr := flag.String("metrics-addr", "", "If set, serve Prometheus metrics at this address")
	outPath := flag.String("out", "./results.json", "Path to write the ranked result table")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if *configPath == "" {
		logger.Error("missing required flag", zap.String("flag", "--config"))
		os.Exit(exitConfig)
	}

	os.Exit(run(logger, *configPath, *metricsAddr, *outPath))
}

func run(logger *zap.Logger, configPath, metricsAddr, outPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fail(logger, err)
	}

	instruments, err := config.LoadInstruments(cfg.Common.InstrumentMetadataPath)
	if err != nil {
		return fail(logger, err)
	}
	commissions, err := config.LoadCommissionPlan(cfg.Common.CommissionPlanPath)
	if err != nil {
		return fail(logger, err)
	}
	if err := config.ValidateCrossReferences(cfg, instruments, commissions); err != nil {
		return fail(logger, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	recorder := telemetry.New()
	if metricsAddr != "" {
		go func() {
			if err := recorder.Serve(ctx, logger, metricsAddr); err != nil {
				logger.Warn("telemetry server stopped", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", metricsAddr))
	}

	initialCapital := decimal.NewFromFloat(cfg.Common.InitialCapital)

	report := make(map[string][]resultRow)
	for id, strat := range cfg.Portfolio {
		rows, err := runStrategy(logger, recorder, id, strat, instruments, commissions, initialCapital)
		if err != nil {
			return fail(logger, err)
		}
		report[id] = rows
	}

	if err := writeReport(outPath, report); err != nil {
		return fail(logger, &types.IoError{Path: outPath, Err: err})
	}
	logger.Info("run complete", zap.String("out", outPath))
	return exitSuccess
}

// resultRow is one ranked trial's row in the output table.
type resultRow struct {
	Vector  optimizer.Vector `json:"vector"`
	Fitness float64          `json:"fitness"`
	Failed  bool             `json:"failed"`
	Error   string           `json:"error,omitempty"`
}

func runStrategy(logger *zap.Logger, recorder *telemetry.Recorder, id string, strat types.StrategySettings, instruments map[string]types.InstrumentMeta, commissions types.CommissionPlan, initialCapital decimal.Decimal) ([]resultRow, error) {
	if err := strat.Validate(id); err != nil {
		return nil, err
	}

	artifact, err := strategyhost.Open(logger, strat.StrategyPath)
	if err != nil {
		return nil, err
	}

	tf := types.Timeframe(strat.Data.Timeframe)
	stores := make(map[string]*barstore.Store)
	for _, symbol := range strat.Symbols {
		path := filepath.Join(strat.Data.DataPath, symbol+".bin")
		store, err := barstore.Open(logger, symbol, path)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		stores[symbol] = store
	}

	sizer, ok := portfolio.SizerByName(strat.PosSizerParams.PosSizerName)
	if !ok {
		return nil, &types.ConfigError{Field: "portfolio." + id + ".pos_sizer_params.pos_sizer_name", Reason: "unknown sizer"}
	}

	strategyInstruments := make(map[string]types.InstrumentMeta, len(strat.Symbols))
	for _, symbol := range strat.Symbols {
		strategyInstruments[symbol] = instruments[symbol]
	}

	dims := optimizer.Dimensions(strat.StrategyParams, strat.PosSizerParams.PosSizerValue, strat.Slippage)

	eval := func(v optimizer.Vector) (fitness float64, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = &types.TrialError{TrialID: id, Detail: fmt.Sprintf("panic: %v", r)}
			}
			recorder.Observe(time.Since(start), err)
		}()

		settings := strategyhost.SettingsView{
			StrategyParams: strategyParamsFor(v),
			PosSizerName:   strat.PosSizerParams.PosSizerName,
			PosSizerParams: strat.PosSizerParams.PosSizerParams,
		}
		runCfg := runner.Config{
			InitialCapital: initialCapital,
			Timeframe:      tf,
			Instruments:    strategyInstruments,
			Commissions:    commissions,
			Slippage:       v["slippage"],
			Sizer:          sizer,
			SizerValue:     v["pos_sizer_value"],
			MinMargin:      strat.MarginParams.MinMargin,
			Mode:           types.ModeOptimize,
			Settings:       settings,
		}

		trial, err := runner.New(logger, strat.Symbols, stores, artifact, runCfg)
		if err != nil {
			return 0, err
		}
		res, err := trial.Run()
		if err != nil {
			return 0, err
		}
		fit, _ := res.Metrics.Fitness.Float64()
		return fit, nil
	}

	direction := "max"
	if strat.OptimizerType.Method == types.OptimizerGenetic {
		direction = strat.OptimizerType.GA.FitnessDirection
	}

	pool := workerPoolFor(logger, strat.Threads)
	pool.Start()
	defer pool.Stop()

	outcomes := optimizer.Optimize(logger, pool, dims, strat.OptimizerType, direction, eval)

	rows := make([]resultRow, len(outcomes))
	for i, o := range outcomes {
		row := resultRow{Vector: o.Vector, Fitness: o.Fitness, Failed: o.Failed}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		rows[i] = row
	}
	return rows, nil
}

// strategyParamsFor strips the "strategy_params." prefix optimizer.Dimensions
// adds, back into the flat map a strategy plugin expects.
func strategyParamsFor(v optimizer.Vector) map[string]float64 {
	const prefix = "strategy_params."
	out := make(map[string]float64)
	for k, val := range v {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = val
		}
	}
	return out
}

// workerPoolFor sizes the dispatch pool at min(threads, available cores),
// per spec §4.10/§5; threads <= 0 means "use every available core".
func workerPoolFor(logger *zap.Logger, threads int) *workers.Pool {
	return workers.NewPool(logger, workers.DefaultPoolConfig("optimizer", threads))
}

func writeReport(path string, report map[string][]resultRow) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fail(logger *zap.Logger, err error) int {
	logger.Error("run failed", zap.Error(err))
	switch err.(type) {
	case *types.ConfigError, *types.MetadataError:
		return exitConfig
	case *types.IoError:
		return exitIO
	case *types.PluginError:
		return exitPlugin
	default:
		return exitConfig
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
