package portfolio

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-quant/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// SignalToOrder resolves target quantity (explicit or via sizer), checks
// available margin and converts the signal into an order, per spec §4.7
// steps 1-3. A nil Order with a nil error means the signal was dropped
// (flat EXIT, zero-sized entry, or insufficient margin) — a normal
// outcome, not a failure. Only the insufficient-margin drop is logged.
func (p *Portfolio) SignalToOrder(sig types.Signal, inst types.InstrumentMeta, sizer Sizer, close, referenceValue, sizerValue float64) (*types.Order, error) {
	pos := p.Position(sig.Symbol)

	var direction types.OrderDirection
	var quantity decimal.Decimal

	switch sig.Name {
	case types.SignalExit:
		if pos.Quantity.IsZero() {
			return nil, nil
		}
		if pos.Quantity.IsPositive() {
			direction = types.Sell
		} else {
			direction = types.Buy
		}
		quantity = pos.Quantity.Abs()

	case types.SignalLong, types.SignalShort:
		if sig.Name == types.SignalLong {
			direction = types.Buy
		} else {
			direction = types.Sell
		}
		if sig.Quantity != nil {
			quantity = decimal.NewFromFloat(*sig.Quantity)
		} else {
			capital, _ := p.Equity().Float64()
			n := sizer(capital, close, referenceValue, inst, sizerValue)
			if n <= 0 {
				return nil, nil
			}
			quantity = decimal.NewFromFloat(n)
		}

	default:
		return nil, &types.TrialError{Detail: "unknown signal name: " + string(sig.Name)}
	}

	if sig.MarginCallType != types.CloseDeal {
		requiredMargin := quantity.Mul(decimal.NewFromFloat(inst.MarginPerContract))
		available := p.holdings.Cash.Sub(p.holdings.BlockedMargin)
		if available.LessThan(requiredMargin) {
			if p.logger != nil {
				p.logger.Debug("signal dropped: insufficient margin",
					zap.String("symbol", sig.Symbol),
					zap.String("required", requiredMargin.String()),
					zap.String("available", available.String()),
				)
			}
			return nil, nil
		}
	}

	order := &types.Order{
		ID:        uuid.New().String(),
		Timestamp: sig.Timestamp,
		Symbol:    sig.Symbol,
		Direction: direction,
		Quantity:  quantity,
		OrderType: sig.OrderType,
	}
	if sig.LimitPrice != nil {
		order.LimitPrice = decimal.NewFromFloat(*sig.LimitPrice)
	}
	return order, nil
}
