// Package portfolio tracks simulated positions, holdings, and the resulting
// performance curve. It consumes market and fill events from the simulation
// loop and is the single source of truth for point-in-time accounting.
package portfolio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantfold/backtester/internal/event"
	"github.com/quantfold/backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrMissingPrice is returned when a market event names a symbol without
// carrying a price for it. Holdings must never silently default to zero.
var ErrMissingPrice = errors.New("portfolio: missing price data")

// ErrInsufficientCash is returned by UpdateFill when margin is disabled and
// the fill would drive held cash negative.
var ErrInsufficientCash = errors.New("portfolio: insufficient cash")

// Snapshot is one historical record of positions and holdings.
type Snapshot struct {
	Timestamp time.Time
	Positions map[string]int64
	Holdings  map[string]decimal.Decimal
}

// Portfolio manages simulated portfolio state. The symbol list is fixed at
// construction; holdings carry one market-value row per symbol plus the
// pseudo-fields for cash, costs, and the performance curve.
type Portfolio struct {
	mu             sync.RWMutex
	logger         *zap.Logger
	symbols        []string
	initialCapital decimal.Decimal
	startDate      time.Time
	allowMargin    bool

	currentPositions map[string]int64
	currentHoldings  map[string]decimal.Decimal
	history          []Snapshot
}

// New creates a portfolio for the given symbols and seeds it with the
// initial capital at the start date. Margin (negative cash) is allowed by
// default, matching the historical behavior; disable it with SetAllowMargin.
func New(logger *zap.Logger, symbols []string, initialCapital decimal.Decimal, start time.Time) *Portfolio {
	p := &Portfolio{
		logger:      logger,
		symbols:     append([]string(nil), symbols...),
		allowMargin: true,
	}
	p.Reset(initialCapital, start)
	return p
}

// SetAllowMargin configures the leverage policy. When disabled, fills that
// would drive held cash negative are rejected.
func (p *Portfolio) SetAllowMargin(allow bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowMargin = allow
}

// Reset reinitializes positions and holdings with a new capital amount and
// start date, discarding all history and writing the initial snapshot.
func (p *Portfolio) Reset(initialCapital decimal.Decimal, start time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.initialCapital = initialCapital
	p.startDate = start
	p.history = p.history[:0]

	p.currentPositions = make(map[string]int64, len(p.symbols))
	p.currentHoldings = make(map[string]decimal.Decimal, len(p.symbols)+6)
	for _, symbol := range p.symbols {
		p.currentPositions[symbol] = 0
		p.currentHoldings[symbol] = decimal.Zero
	}
	p.currentHoldings[types.FieldHeldCash] = initialCapital
	p.currentHoldings[types.FieldCommission] = decimal.Zero
	p.currentHoldings[types.FieldSlippage] = decimal.Zero
	p.currentHoldings[types.FieldTotalHoldings] = initialCapital
	p.currentHoldings[types.FieldReturns] = decimal.Zero
	p.currentHoldings[types.FieldEquityCurve] = decimal.Zero

	p.snapshot(start)
}

// UpdateMarket revalues every symbol named by the event at its new price,
// recomputes the performance fields, and snapshots the state at the event's
// timestamp. A named symbol without a price fails with ErrMissingPrice.
func (p *Portfolio) UpdateMarket(ev *event.MarketEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, symbol := range ev.Symbols {
		price, ok := ev.Prices[symbol]
		if !ok {
			return fmt.Errorf("%w: %s at %s", ErrMissingPrice, symbol, ev.When.Format(time.RFC3339))
		}
		if _, tracked := p.currentPositions[symbol]; !tracked {
			p.currentPositions[symbol] = 0
			p.symbols = append(p.symbols, symbol)
		}
		p.currentHoldings[symbol] = price.Mul(decimal.NewFromInt(p.currentPositions[symbol]))
	}

	p.calculateReturns()
	p.snapshot(ev.When)
	return nil
}

// UpdateFill applies a fill: position and holdings move by the filled
// quantity and cost, transaction costs accumulate, and held cash is debited
// by cost plus slippage plus commission.
func (p *Portfolio) UpdateFill(ev *event.FillEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	debit := ev.Cost.Add(ev.Slippage).Add(ev.Commission)
	cash := p.currentHoldings[types.FieldHeldCash]
	if !p.allowMargin && cash.Sub(debit).IsNegative() {
		return fmt.Errorf("%w: %s fill needs %s, have %s", ErrInsufficientCash, ev.Symbol, debit, cash)
	}

	if _, tracked := p.currentPositions[ev.Symbol]; !tracked {
		p.currentPositions[ev.Symbol] = 0
		p.symbols = append(p.symbols, ev.Symbol)
	}
	p.currentPositions[ev.Symbol] += ev.Quantity
	p.currentHoldings[ev.Symbol] = p.currentHoldings[ev.Symbol].Add(ev.Cost)
	p.currentHoldings[types.FieldCommission] = p.currentHoldings[types.FieldCommission].Add(ev.Commission)
	p.currentHoldings[types.FieldSlippage] = p.currentHoldings[types.FieldSlippage].Add(ev.Slippage)
	p.currentHoldings[types.FieldHeldCash] = cash.Sub(debit)

	p.calculateReturns()
	p.snapshot(ev.When)
	return nil
}

// calculateReturns recomputes total holdings, the period return, and the
// compounded equity curve. Must hold the lock.
func (p *Portfolio) calculateReturns() {
	oldTotal := p.currentHoldings[types.FieldTotalHoldings]

	total := p.currentHoldings[types.FieldHeldCash]
	for _, symbol := range p.symbols {
		total = total.Add(p.currentHoldings[symbol])
	}
	p.currentHoldings[types.FieldTotalHoldings] = total

	ret := decimal.Zero
	if !oldTotal.IsZero() {
		ret = total.Div(oldTotal).Sub(decimal.NewFromInt(1))
	}
	p.currentHoldings[types.FieldReturns] = ret

	one := decimal.NewFromInt(1)
	prevEquity := p.currentHoldings[types.FieldEquityCurve]
	p.currentHoldings[types.FieldEquityCurve] = prevEquity.Add(one).Mul(ret.Add(one)).Sub(one)
}

// snapshot appends a deep copy of the current state at the given timestamp.
// Must hold the lock.
func (p *Portfolio) snapshot(ts time.Time) {
	positions := make(map[string]int64, len(p.currentPositions))
	for k, v := range p.currentPositions {
		positions[k] = v
	}
	holdings := make(map[string]decimal.Decimal, len(p.currentHoldings))
	for k, v := range p.currentHoldings {
		holdings[k] = v
	}
	p.history = append(p.history, Snapshot{Timestamp: ts, Positions: positions, Holdings: holdings})
}

// Holding returns one current holdings row.
func (p *Portfolio) Holding(field string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentHoldings[field]
}

// Position returns the current signed share count for a symbol.
func (p *Portfolio) Position(symbol string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentPositions[symbol]
}

// CurrentHoldings returns a copy of the holdings map.
func (p *Portfolio) CurrentHoldings() map[string]decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(p.currentHoldings))
	for k, v := range p.currentHoldings {
		out[k] = v
	}
	return out
}

// CurrentPositions returns a copy of the positions map.
func (p *Portfolio) CurrentPositions() map[string]int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int64, len(p.currentPositions))
	for k, v := range p.currentPositions {
		out[k] = v
	}
	return out
}

// HoldingsAt returns the historical holdings snapshot recorded at the exact
// timestamp, if any.
func (p *Portfolio) HoldingsAt(ts time.Time) (map[string]decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].Timestamp.Equal(ts) {
			return p.history[i].Holdings, true
		}
	}
	return nil, false
}

// History returns the append-only snapshot series.
func (p *Portfolio) History() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Snapshot(nil), p.history...)
}

// EquityCurve renders the snapshot series as equity-curve points.
func (p *Portfolio) EquityCurve() []types.EquityCurvePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.EquityCurvePoint, 0, len(p.history))
	for _, snap := range p.history {
		out = append(out, types.EquityCurvePoint{
			Timestamp: snap.Timestamp,
			Equity:    snap.Holdings[types.FieldEquityCurve],
			Cash:      snap.Holdings[types.FieldHeldCash],
			Total:     snap.Holdings[types.FieldTotalHoldings],
		})
	}
	return out
}

// Symbols returns the tracked symbol list.
func (p *Portfolio) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.symbols...)
}
