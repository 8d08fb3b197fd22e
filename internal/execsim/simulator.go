// Package execsim converts ORDERs into FILLs using the current bar and
// order type (C6): next-bar-less, single-bar market/limit rules with
// slippage and a commission-plan lookup. Grounded on the shape of the
// teacher's execution.ExecutionModel (config struct + Simulate method +
// running stats), trimmed to exactly the model spec §4.6 documents — no
// market-impact, spread or latency simulation, which model live-market
// microstructure effects out of scope for a historical-bar backtester.
package execsim

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-quant/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Config parameterizes one trial's execution simulator. Slippage is the
// fractional penalty applied to market-order fills (0.001 = 10 bps).
type Config struct {
	Slippage float64
}

// Stats accumulates running totals for a trial's fills. Each trial owns
// one Simulator exclusively (spec §5), so no locking is needed here,
// unlike the teacher's shared ExecutionModel.
type Stats struct {
	FillsProduced      int
	OrdersDropped      int
	TotalCommission    decimal.Decimal
	TotalSlippageCost  decimal.Decimal
}

// Simulator is the per-trial execution model.
type Simulator struct {
	logger      *zap.Logger
	cfg         Config
	instruments map[string]types.InstrumentMeta
	commissions types.CommissionPlan
	stats       Stats
}

func New(logger *zap.Logger, cfg Config, instruments map[string]types.InstrumentMeta, commissions types.CommissionPlan) *Simulator {
	return &Simulator{logger: logger, cfg: cfg, instruments: instruments, commissions: commissions}
}

// Stats returns a copy of the simulator's running totals.
func (s *Simulator) Stats() Stats { return s.stats }

// Simulate converts order into a Fill against bar. A nil Fill with a nil
// error means the order was silently dropped (e.g. an unfilled limit),
// which is a normal, documented outcome, not a failure.
func (s *Simulator) Simulate(order types.Order, bar types.Bar) (*types.Fill, error) {
	inst, ok := s.instruments[order.Symbol]
	if !ok {
		return nil, &types.MetadataError{Symbol: order.Symbol, Reason: "no instrument metadata for order's symbol"}
	}

	var fillPrice float64
	var slippageCost decimal.Decimal

	switch order.OrderType {
	case types.OrderTypeMarket:
		sign := 1.0
		if order.Direction == types.Sell {
			sign = -1.0
		}
		fillPrice = bar.Close * (1 + sign*s.cfg.Slippage)
		perUnit := fillPrice - bar.Close
		if perUnit < 0 {
			perUnit = -perUnit
		}
		slippageCost = decimal.NewFromFloat(perUnit).Mul(order.Quantity).Mul(tickMultiplier(inst))

	case types.OrderTypeLimit:
		limit, _ := order.LimitPrice.Float64()
		if limit < bar.Low || limit > bar.High {
			s.stats.OrdersDropped++
			if s.logger != nil {
				s.logger.Debug("limit order dropped: outside bar range", zap.String("symbol", order.Symbol), zap.Float64("limit", limit), zap.Float64("low", bar.Low), zap.Float64("high", bar.High))
			}
			return nil, nil
		}
		fillPrice = limit
		slippageCost = decimal.Zero

	default:
		return nil, &types.TrialError{Detail: fmt.Sprintf("unknown order type %q", order.OrderType)}
	}

	commission := s.commission(inst, order.Quantity, fillPrice)

	fill := &types.Fill{
		ID:           uuid.New().String(),
		Timestamp:    bar.Timestamp,
		Symbol:       order.Symbol,
		Direction:    order.Direction,
		Quantity:     order.Quantity,
		FillPrice:    decimal.NewFromFloat(fillPrice),
		Commission:   commission,
		SlippageCost: slippageCost,
		Exchange:     inst.Exchange,
	}
	s.stats.FillsProduced++
	s.stats.TotalCommission = s.stats.TotalCommission.Add(commission)
	s.stats.TotalSlippageCost = s.stats.TotalSlippageCost.Add(slippageCost)
	return fill, nil
}

// commission looks up the instrument's commission plan entry and applies
// it either per-contract or as a percentage of trade notional, selected
// by the instrument's CommissionType convention ("_pct" suffix = percent
// of notional, anything else = currency per contract).
func (s *Simulator) commission(inst types.InstrumentMeta, quantity decimal.Decimal, fillPrice float64) decimal.Decimal {
	rate, ok := s.commissions.Rate(inst.Exchange, inst.CommissionType)
	if !ok {
		return decimal.Zero
	}
	qtyAbs := quantity.Abs()
	if isPercentType(inst.CommissionType) {
		notional := qtyAbs.Mul(decimal.NewFromFloat(fillPrice))
		return notional.Mul(decimal.NewFromFloat(rate))
	}
	return qtyAbs.Mul(decimal.NewFromFloat(rate))
}

func isPercentType(commissionType string) bool {
	return len(commissionType) >= 4 && commissionType[len(commissionType)-4:] == "_pct"
}

// tickMultiplier is the per-unit-price-move cash value of one contract:
// step_price / price_step. Falls back to 1 when the instrument doesn't
// define a step (e.g. a plain equity-style quantity instrument). Mirrors
// portfolio.tickMultiplier so slippage cost is denominated the same way
// as the cash-side trade notional in portfolio.ApplyFill.
func tickMultiplier(inst types.InstrumentMeta) decimal.Decimal {
	if inst.PriceStep == 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(inst.StepPrice).Div(decimal.NewFromFloat(inst.PriceStep))
}
