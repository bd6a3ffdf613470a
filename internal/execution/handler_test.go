package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/quantfold/backtester/internal/data"
	"github.com/quantfold/backtester/internal/event"
	"github.com/quantfold/backtester/internal/execution"
	"github.com/quantfold/backtester/internal/portfolio"
	"github.com/quantfold/backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var day0 = time.Date(2018, time.March, 1, 0, 0, 0, 0, time.UTC)

// fixedSource serves one constant last price for every symbol.
type fixedSource struct {
	price decimal.Decimal
}

func (s *fixedSource) History(ctx context.Context, asOf time.Time, symbols, fields []string, lookback int, freq types.Frequency) (map[string]*data.SymbolHistory, error) {
	out := make(map[string]*data.SymbolHistory, len(symbols))
	for _, symbol := range symbols {
		series := data.NewSymbolHistory(symbol)
		series.Add(asOf, map[string]decimal.Decimal{types.FieldLast: s.price})
		out[symbol] = series
	}
	return out, nil
}

func newFixture(price int64) (*execution.Handler, *event.Stack, *portfolio.Portfolio) {
	stack := event.NewStack()
	pf := portfolio.New(zap.NewNop(), []string{"IBM"}, decimal.NewFromInt(100000), day0)
	handler := execution.NewHandler(
		zap.NewNop(),
		stack,
		&fixedSource{price: decimal.NewFromInt(price)},
		pf,
		execution.NewFixedSlippage(decimal.NewFromInt(10)),
		execution.NewPerShareCommission(decimal.NewFromFloat(0.001), decimal.NewFromInt(1)),
	)
	return handler, stack, pf
}

func TestProcessSignalSizesOrder(t *testing.T) {
	handler, stack, _ := newFixture(100)

	signal := &event.SignalEvent{When: day0, Symbol: "IBM", TargetPercent: 0.2}
	if err := handler.ProcessSignal(context.Background(), signal); err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}

	if stack.Len() != 1 {
		t.Fatalf("expected 1 stacked event, got %d", stack.Len())
	}
	order, ok := stack.Pop().(*event.OrderEvent)
	if !ok {
		t.Fatal("expected an order event")
	}
	// 20% of 100000 at price 100 is exactly 200 shares.
	if order.Quantity != 200 {
		t.Errorf("expected quantity 200, got %d", order.Quantity)
	}
	if !order.When.Equal(day0) {
		t.Errorf("order not stamped with signal time: %s", order.When)
	}
}

func TestProcessSignalTruncatesTowardZero(t *testing.T) {
	handler, stack, _ := newFixture(3)

	signal := &event.SignalEvent{When: day0, Symbol: "IBM", TargetPercent: 0.0001}
	if err := handler.ProcessSignal(context.Background(), signal); err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}

	order := stack.Pop().(*event.OrderEvent)
	// 0.01% of 100000 = 10 dollars at price 3 = 3.33 shares, floored to 3.
	if order.Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", order.Quantity)
	}
}

func TestProcessSignalFlattenLiquidatesExactly(t *testing.T) {
	handler, stack, pf := newFixture(100)

	// Seed an existing long position of 7 shares.
	if err := pf.UpdateFill(&event.FillEvent{
		When: day0, Symbol: "IBM", Quantity: 7,
		Cost: decimal.NewFromInt(700), Slippage: decimal.Zero, Commission: decimal.Zero,
	}); err != nil {
		t.Fatalf("UpdateFill: %v", err)
	}

	signal := &event.SignalEvent{When: day0, Symbol: "IBM", TargetPercent: 0}
	if err := handler.ProcessSignal(context.Background(), signal); err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}

	order := stack.Pop().(*event.OrderEvent)
	if order.Quantity != -7 {
		t.Errorf("expected quantity -7, got %d", order.Quantity)
	}
}

func TestProcessSignalNoOrderWhenSatisfied(t *testing.T) {
	handler, stack, _ := newFixture(100)

	signal := &event.SignalEvent{When: day0, Symbol: "IBM", TargetPercent: 0}
	if err := handler.ProcessSignal(context.Background(), signal); err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if stack.Len() != 0 {
		t.Errorf("expected no order for an already-flat symbol, got %d events", stack.Len())
	}
}

func TestProcessOrderBuildsFill(t *testing.T) {
	handler, stack, _ := newFixture(100)

	order := &event.OrderEvent{When: day0, ID: "o-1", Symbol: "IBM", Quantity: 200}
	if err := handler.ProcessOrder(context.Background(), order); err != nil {
		t.Fatalf("ProcessOrder: %v", err)
	}

	fill, ok := stack.Pop().(*event.FillEvent)
	if !ok {
		t.Fatal("expected a fill event")
	}
	if !fill.Cost.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("expected cost 20000, got %s", fill.Cost)
	}
	// 10 bps of 20000.
	if !fill.Slippage.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected slippage 20, got %s", fill.Slippage)
	}
	// 200 shares at 0.001 is 0.20, floored to the 1.00 minimum.
	if !fill.Commission.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected commission 1, got %s", fill.Commission)
	}
	if fill.OrderID != "o-1" {
		t.Errorf("fill not linked to order: %s", fill.OrderID)
	}
}

func TestPerShareCommissionFloor(t *testing.T) {
	model := execution.NewPerShareCommission(decimal.NewFromFloat(0.001), decimal.NewFromInt(1))

	if got := model.Commission(100); !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected minimum 1, got %s", got)
	}
	if got := model.Commission(-2000); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected 2 for 2000 shares, got %s", got)
	}
}

func TestLogNormalSlippageReproducible(t *testing.T) {
	cost := decimal.NewFromInt(10000)

	a := execution.NewLogNormalSlippage(0, 1, 42)
	b := execution.NewLogNormalSlippage(0, 1, 42)
	for i := 0; i < 10; i++ {
		sa := a.Slippage(cost)
		sb := b.Slippage(cost)
		if !sa.Equal(sb) {
			t.Fatalf("sample %d differs between identically seeded models: %s vs %s", i, sa, sb)
		}
		if sa.IsNegative() {
			t.Fatalf("slippage must never be negative, got %s", sa)
		}
	}

	// Sells cost slippage too.
	if got := a.Slippage(decimal.NewFromInt(-10000)); got.IsNegative() {
		t.Errorf("negative cost produced negative slippage: %s", got)
	}
}
