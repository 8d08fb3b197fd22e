// Package portfolio implements the portfolio & risk engine (C7):
// position/holdings accounting, signal-to-order sizing, margin checks and
// the forced-liquidation margin-call monitor. Grounded on the teacher's
// internal/backtester/portfolio.go (weighted-average cost, equity/peak
// tracking) generalized to signed long/short quantities and the spec's
// explicit holdings field set.
package portfolio

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Portfolio is a single trial's exclusively-owned mutable accounting
// state: positions, holdings, trade log and last-seen prices.
type Portfolio struct {
	logger         *zap.Logger
	initialCapital decimal.Decimal
	instruments    map[string]types.InstrumentMeta

	holdings   types.Holdings
	positions  map[string]*types.Position
	lastPrices map[string]float64

	peakEquity decimal.Decimal
	trades     []types.Trade
}

// New creates a trial's portfolio, zeroed, cash set to the allocated
// strategy capital.
func New(logger *zap.Logger, initialCapital decimal.Decimal, instruments map[string]types.InstrumentMeta) *Portfolio {
	return &Portfolio{
		logger:         logger,
		initialCapital: initialCapital,
		instruments:    instruments,
		holdings:       types.Holdings{Cash: initialCapital},
		positions:      make(map[string]*types.Position),
		lastPrices:     make(map[string]float64),
		peakEquity:     initialCapital,
	}
}

// UpdatePrice records symbol's latest mark-to-market price.
func (p *Portfolio) UpdatePrice(symbol string, price float64) {
	p.lastPrices[symbol] = price
}

// Position returns a copy of symbol's position (zero value if none).
func (p *Portfolio) Position(symbol string) types.Position {
	if pos, ok := p.positions[symbol]; ok {
		return *pos
	}
	return types.Position{Symbol: symbol}
}

// Positions returns a read-only snapshot of every open position.
func (p *Portfolio) Positions() map[string]types.Position {
	out := make(map[string]types.Position, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = *pos
	}
	return out
}

// Holdings returns a copy of the current holdings state.
func (p *Portfolio) Holdings() types.Holdings { return p.holdings }

// Trades returns the closed-trade log accumulated so far.
func (p *Portfolio) Trades() []types.Trade { return p.trades }

// tickMultiplier is the per-unit-price-move cash value of one contract:
// step_price / price_step. Falls back to 1 when the instrument doesn't
// define a step (e.g. a plain equity-style quantity instrument).
func tickMultiplier(inst types.InstrumentMeta) decimal.Decimal {
	if inst.PriceStep == 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(inst.StepPrice).Div(decimal.NewFromFloat(inst.PriceStep))
}

// Equity is the current account value: cash + blocked margin (it still
// belongs to the account) + the full mark-to-market notional of every
// open position. Cash is debited the position's full notional plus its
// blocked margin on entry (ApplyFill), so equity must add the full
// mark-to-market value back — not just the unrealized P&L delta from
// entry — or opening a position at its own fill price would spuriously
// move equity.
func (p *Portfolio) Equity() decimal.Decimal {
	equity := p.holdings.Cash.Add(p.holdings.BlockedMargin)
	for sym, pos := range p.positions {
		price, ok := p.lastPrices[sym]
		if !ok || pos.Quantity.IsZero() {
			continue
		}
		inst := p.instruments[sym]
		markToMarket := pos.Quantity.Mul(decimal.NewFromFloat(price)).Mul(tickMultiplier(inst))
		equity = equity.Add(markToMarket)
	}
	return equity
}

// Drawdown is the current fractional retracement from the running peak
// equity.
func (p *Portfolio) Drawdown() decimal.Decimal {
	equity := p.Equity()
	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}
	if p.peakEquity.IsZero() {
		return decimal.Zero
	}
	return p.peakEquity.Sub(equity).Div(p.peakEquity)
}

// EquityPointAt samples the current equity/cash/blocked state at time t,
// for the equity curve (one point per MARKET closure, spec §4.7 "Equity
// sampling").
func (p *Portfolio) EquityPointAt(t time.Time) types.EquityPoint {
	return types.EquityPoint{
		Time:    t,
		Capital: p.Equity(),
		Cash:    p.holdings.Cash,
		Blocked: p.holdings.BlockedMargin,
	}
}

// ApplyFill mutates positions and holdings for one realized fill,
// maintaining the weighted-average-cost / realized-P&L / sign-flip
// invariants from spec §4.7 and §8 invariant 1 (conservation).
func (p *Portfolio) ApplyFill(fill types.Fill) error {
	inst, ok := p.instruments[fill.Symbol]
	if !ok {
		return &types.MetadataError{Symbol: fill.Symbol, Reason: "no instrument metadata for fill's symbol"}
	}
	mult := tickMultiplier(inst)

	sign := decimal.NewFromInt(1)
	if fill.Direction == types.Sell {
		sign = decimal.NewFromInt(-1)
	}
	deltaQty := fill.Quantity.Mul(sign)

	tradeValue := fill.FillPrice.Mul(fill.Quantity).Mul(mult)
	p.holdings.Cash = p.holdings.Cash.Sub(tradeValue.Mul(sign)).Sub(fill.Commission).Sub(fill.SlippageCost)
	p.holdings.CommissionsPaid = p.holdings.CommissionsPaid.Add(fill.Commission)
	p.holdings.SlippagePaid = p.holdings.SlippagePaid.Add(fill.SlippageCost)

	pos, ok := p.positions[fill.Symbol]
	if !ok {
		pos = &types.Position{Symbol: fill.Symbol}
		p.positions[fill.Symbol] = pos
	}
	oldQty := pos.Quantity
	oldEntry := pos.EntryPrice

	switch {
	case oldQty.IsZero():
		pos.Quantity = deltaQty
		pos.EntryPrice = fill.FillPrice

	case sameSign(oldQty, deltaQty):
		newQty := oldQty.Add(deltaQty)
		weighted := oldQty.Abs().Mul(oldEntry).Add(deltaQty.Abs().Mul(fill.FillPrice))
		pos.EntryPrice = weighted.Div(newQty.Abs())
		pos.Quantity = newQty

	default:
		closedQty := decimal.Min(oldQty.Abs(), deltaQty.Abs())
		oldSign := decimal.NewFromInt(1)
		if oldQty.IsNegative() {
			oldSign = decimal.NewFromInt(-1)
		}
		realized := closedQty.Mul(fill.FillPrice.Sub(oldEntry)).Mul(oldSign).Mul(mult)
		p.holdings.RealizedPnL = p.holdings.RealizedPnL.Add(realized)

		p.trades = append(p.trades, types.Trade{
			ID:          fill.ID,
			Symbol:      fill.Symbol,
			EntryTime:   pos.LastFillTime,
			ExitTime:    fill.Timestamp,
			EntryPrice:  oldEntry,
			ExitPrice:   fill.FillPrice,
			Quantity:    closedQty,
			PnL:         realized,
			Commissions: fill.Commission,
		})

		newQty := oldQty.Add(deltaQty)
		switch {
		case newQty.IsZero():
			pos.Quantity = decimal.Zero
			pos.EntryPrice = decimal.Zero
		case sameSign(newQty, oldQty):
			pos.Quantity = newQty
			// entry price unchanged: partial reduction of the same side.
		default:
			// crossed through flat: the excess opens a fresh position.
			pos.Quantity = newQty
			pos.EntryPrice = fill.FillPrice
		}
	}
	pos.LastFillTime = fill.Timestamp
	if pos.Quantity.IsZero() {
		delete(p.positions, fill.Symbol)
	}

	// Blocked margin is reserved out of cash, not conjured alongside it:
	// moving Δmargin from cash to the blocked bucket keeps cash+blocked
	// conserved across the transfer (spec §8 invariant 1). A shrinking
	// position frees margin back into cash; a growing one locks more away.
	oldBlocked := p.holdings.BlockedMargin
	newBlocked := p.totalBlockedMargin()
	p.holdings.Cash = p.holdings.Cash.Sub(newBlocked.Sub(oldBlocked))
	p.holdings.BlockedMargin = newBlocked
	return nil
}

func (p *Portfolio) totalBlockedMargin() decimal.Decimal {
	total := decimal.Zero
	for sym, pos := range p.positions {
		inst := p.instruments[sym]
		total = total.Add(pos.Quantity.Abs().Mul(decimal.NewFromFloat(inst.MarginPerContract)))
	}
	return total
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}

// CloseAll returns the symbols of every open position; it changes no
// position itself. The runner's margin-call path turns these symbols into
// synthetic EXIT signals (ExitSignalsFor), which SignalToOrder then sizes
// to close each position.
func (p *Portfolio) CloseAll() []string {
	symbols := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		symbols = append(symbols, sym)
	}
	return symbols
}

func (p *Portfolio) String() string {
	return fmt.Sprintf("cash=%s blocked=%s equity=%s positions=%d", p.holdings.Cash, p.holdings.BlockedMargin, p.Equity(), len(p.positions))
}
