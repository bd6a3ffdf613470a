package portfolio_test

import (
	"errors"
	"testing"
	"time"

	"github.com/quantfold/backtester/internal/event"
	"github.com/quantfold/backtester/internal/portfolio"
	"github.com/quantfold/backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var day0 = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)

func newTestPortfolio() *portfolio.Portfolio {
	return portfolio.New(zap.NewNop(), []string{"IBM"}, decimal.NewFromInt(100000), day0)
}

// totalInvariant checks TotalHoldings == HeldCash + sum of symbol holdings.
func totalInvariant(t *testing.T, p *portfolio.Portfolio) {
	t.Helper()
	holdings := p.CurrentHoldings()
	sum := holdings[types.FieldHeldCash]
	for _, symbol := range p.Symbols() {
		sum = sum.Add(holdings[symbol])
	}
	diff := holdings[types.FieldTotalHoldings].Sub(sum).Abs()
	if diff.GreaterThan(decimal.New(1, -9)) {
		t.Errorf("total holdings invariant broken: total=%s sum=%s", holdings[types.FieldTotalHoldings], sum)
	}
}

func TestBuildsEmptyPortfolio(t *testing.T) {
	p := newTestPortfolio()

	if got := len(p.History()); got != 1 {
		t.Fatalf("expected 1 historical entry, got %d", got)
	}
	holdings, ok := p.HoldingsAt(day0)
	if !ok {
		t.Fatal("expected snapshot at start date")
	}
	if !holdings["IBM"].IsZero() {
		t.Errorf("expected zero IBM holdings, got %s", holdings["IBM"])
	}
	if !p.Holding(types.FieldTotalHoldings).Equal(decimal.NewFromInt(100000)) {
		t.Errorf("expected 100000 total holdings, got %s", p.Holding(types.FieldTotalHoldings))
	}
	totalInvariant(t, p)
}

func TestUpdateFill(t *testing.T) {
	p := newTestPortfolio()

	err := p.UpdateFill(&event.FillEvent{
		When:       day0.AddDate(0, 0, 3),
		Symbol:     "IBM",
		Quantity:   10,
		Cost:       decimal.NewFromInt(1000),
		Slippage:   decimal.NewFromInt(1),
		Commission: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("UpdateFill: %v", err)
	}

	if !p.Holding(types.FieldHeldCash).Equal(decimal.NewFromInt(98998)) {
		t.Errorf("expected 98998 held cash, got %s", p.Holding(types.FieldHeldCash))
	}
	if !p.Holding("IBM").Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected 1000 IBM holdings, got %s", p.Holding("IBM"))
	}
	if p.Position("IBM") != 10 {
		t.Errorf("expected position 10, got %d", p.Position("IBM"))
	}
	totalInvariant(t, p)
}

func TestUpdateMarket(t *testing.T) {
	p := newTestPortfolio()

	fill := &event.FillEvent{
		When: day0.AddDate(0, 0, 1), Symbol: "IBM", Quantity: 10,
		Cost: decimal.NewFromInt(1000), Slippage: decimal.Zero, Commission: decimal.Zero,
	}
	if err := p.UpdateFill(fill); err != nil {
		t.Fatalf("UpdateFill: %v", err)
	}

	when := day0.AddDate(0, 0, 2)
	market := event.NewMarketEvent(when, map[string]decimal.Decimal{"IBM": decimal.NewFromInt(110)})
	if err := p.UpdateMarket(market); err != nil {
		t.Fatalf("UpdateMarket: %v", err)
	}

	if !p.Holding("IBM").Equal(decimal.NewFromInt(1100)) {
		t.Errorf("expected 1100 IBM holdings, got %s", p.Holding("IBM"))
	}
	if _, ok := p.HoldingsAt(when); !ok {
		t.Error("expected snapshot at market event time")
	}
	totalInvariant(t, p)
}

func TestUpdateMarketMissingPrice(t *testing.T) {
	p := newTestPortfolio()

	market := &event.MarketEvent{
		When:    day0.AddDate(0, 0, 1),
		Symbols: []string{"IBM"},
		Prices:  map[string]decimal.Decimal{},
	}
	err := p.UpdateMarket(market)
	if !errors.Is(err, portfolio.ErrMissingPrice) {
		t.Errorf("expected ErrMissingPrice, got %v", err)
	}
}

func TestMarginPolicy(t *testing.T) {
	p := newTestPortfolio()
	p.SetAllowMargin(false)

	err := p.UpdateFill(&event.FillEvent{
		When: day0.AddDate(0, 0, 1), Symbol: "IBM", Quantity: 2000,
		Cost: decimal.NewFromInt(200000), Slippage: decimal.Zero, Commission: decimal.Zero,
	})
	if !errors.Is(err, portfolio.ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
	// The rejected fill must leave state untouched.
	if !p.Holding(types.FieldHeldCash).Equal(decimal.NewFromInt(100000)) {
		t.Errorf("cash mutated by rejected fill: %s", p.Holding(types.FieldHeldCash))
	}
	if p.Position("IBM") != 0 {
		t.Errorf("position mutated by rejected fill: %d", p.Position("IBM"))
	}
}

func TestReplayIdempotence(t *testing.T) {
	events := []event.Event{
		&event.FillEvent{When: day0.AddDate(0, 0, 1), Symbol: "IBM", Quantity: 10,
			Cost: decimal.NewFromInt(1000), Slippage: decimal.NewFromInt(1), Commission: decimal.NewFromInt(1)},
		event.NewMarketEvent(day0.AddDate(0, 0, 2), map[string]decimal.Decimal{"IBM": decimal.NewFromInt(105)}),
		&event.FillEvent{When: day0.AddDate(0, 0, 3), Symbol: "IBM", Quantity: -5,
			Cost: decimal.NewFromInt(-525), Slippage: decimal.NewFromInt(1), Commission: decimal.NewFromInt(1)},
		event.NewMarketEvent(day0.AddDate(0, 0, 4), map[string]decimal.Decimal{"IBM": decimal.NewFromInt(98)}),
	}

	replay := func(p *portfolio.Portfolio) {
		for _, ev := range events {
			var err error
			switch e := ev.(type) {
			case *event.FillEvent:
				err = p.UpdateFill(e)
			case *event.MarketEvent:
				err = p.UpdateMarket(e)
			}
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			totalInvariant(t, p)
		}
	}

	p := newTestPortfolio()
	replay(p)
	first := p.CurrentHoldings()

	p.Reset(decimal.NewFromInt(100000), day0)
	replay(p)
	second := p.CurrentHoldings()

	for field, v := range first {
		if !second[field].Equal(v) {
			t.Errorf("field %s differs after replay: %s vs %s", field, v, second[field])
		}
	}
}

func TestEquityCurveCompounds(t *testing.T) {
	p := newTestPortfolio()

	if err := p.UpdateFill(&event.FillEvent{
		When: day0.AddDate(0, 0, 1), Symbol: "IBM", Quantity: 100,
		Cost: decimal.NewFromInt(10000), Slippage: decimal.Zero, Commission: decimal.Zero,
	}); err != nil {
		t.Fatalf("UpdateFill: %v", err)
	}

	// Price doubles: holdings 10000 -> 20000, total 100000 -> 110000.
	market := event.NewMarketEvent(day0.AddDate(0, 0, 2), map[string]decimal.Decimal{"IBM": decimal.NewFromInt(200)})
	if err := p.UpdateMarket(market); err != nil {
		t.Fatalf("UpdateMarket: %v", err)
	}

	wantReturn := decimal.NewFromFloat(0.1)
	if diff := p.Holding(types.FieldReturns).Sub(wantReturn).Abs(); diff.GreaterThan(decimal.New(1, -9)) {
		t.Errorf("expected return 0.1, got %s", p.Holding(types.FieldReturns))
	}
	if diff := p.Holding(types.FieldEquityCurve).Sub(wantReturn).Abs(); diff.GreaterThan(decimal.New(1, -9)) {
		t.Errorf("expected equity curve 0.1, got %s", p.Holding(types.FieldEquityCurve))
	}
}
