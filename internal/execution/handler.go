package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quantfold/backtester/internal/data"
	"github.com/quantfold/backtester/internal/event"
	"github.com/quantfold/backtester/internal/portfolio"
	"github.com/quantfold/backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler turns signal events into sized orders and orders into fills,
// pushing each result onto the immediate-priority stack so a cascade
// resolves before the simulation clock advances.
type Handler struct {
	logger     *zap.Logger
	stack      *event.Stack
	source     data.Source
	portfolio  *portfolio.Portfolio
	slippage   SlippageModel
	commission CommissionModel
}

// NewHandler creates an execution handler.
func NewHandler(logger *zap.Logger, stack *event.Stack, source data.Source, pf *portfolio.Portfolio, slippage SlippageModel, commission CommissionModel) *Handler {
	return &Handler{
		logger:     logger,
		stack:      stack,
		source:     source,
		portfolio:  pf,
		slippage:   slippage,
		commission: commission,
	}
}

// ProcessSignal converts a target-percentage signal into an order. The
// portfolio is first revalued at the most recent price so the sizing works
// from current holdings; the order lands on the stack at the signal's
// timestamp.
func (h *Handler) ProcessSignal(ctx context.Context, ev *event.SignalEvent) error {
	price, barTime, err := h.lastPrice(ctx, ev.Symbol, ev.When)
	if err != nil {
		return err
	}

	market := event.NewMarketEvent(barTime, map[string]decimal.Decimal{ev.Symbol: price})
	if err := h.portfolio.UpdateMarket(market); err != nil {
		return err
	}

	total := h.portfolio.Holding(types.FieldTotalHoldings)
	if total.IsZero() {
		return fmt.Errorf("execution: cannot size %s signal against zero total holdings", ev.Symbol)
	}
	currentPct := h.portfolio.Holding(ev.Symbol).Div(total)
	needed := decimal.NewFromFloat(ev.TargetPercent).Sub(currentPct)

	// Truncate toward zero so the order never overshoots the requested
	// percentage.
	quantity := needed.Mul(total).Div(price).IntPart()
	if ev.TargetPercent == 0 {
		quantity = -h.portfolio.Position(ev.Symbol)
	}
	if quantity == 0 {
		h.logger.Debug("signal already satisfied",
			zap.String("symbol", ev.Symbol),
			zap.Float64("target", ev.TargetPercent),
		)
		return nil
	}

	h.stack.Push(&event.OrderEvent{
		When:     ev.When,
		ID:       uuid.NewString(),
		Symbol:   ev.Symbol,
		Quantity: quantity,
	})
	return nil
}

// ProcessOrder converts an order into a fill at the most recent price,
// charging slippage and commission. Order-size versus market-volume
// limiting is a future extension point; orders currently fill whole.
func (h *Handler) ProcessOrder(ctx context.Context, ev *event.OrderEvent) error {
	price, _, err := h.lastPrice(ctx, ev.Symbol, ev.When)
	if err != nil {
		return err
	}

	cost := price.Mul(decimal.NewFromInt(ev.Quantity))
	slippage := h.slippage.Slippage(cost)
	commission := h.commission.Commission(ev.Quantity)

	h.logger.Debug("order filled",
		zap.String("id", ev.ID),
		zap.String("symbol", ev.Symbol),
		zap.Int64("quantity", ev.Quantity),
		zap.String("cost", cost.String()),
		zap.String("slippage", slippage.String()),
		zap.String("commission", commission.String()),
	)

	h.stack.Push(&event.FillEvent{
		When:       ev.When,
		OrderID:    ev.ID,
		Symbol:     ev.Symbol,
		Quantity:   ev.Quantity,
		Cost:       cost,
		Slippage:   slippage,
		Commission: commission,
	})
	return nil
}

// lastPrice fetches the one-bar-lookback last price for a symbol.
func (h *Handler) lastPrice(ctx context.Context, symbol string, asOf time.Time) (decimal.Decimal, time.Time, error) {
	hist, err := h.source.History(ctx, asOf, []string{symbol}, []string{types.FieldLast}, 1, types.FrequencyRecent)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("execution: fetch %s price: %w", symbol, err)
	}
	series, ok := hist[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: no series for %s", data.ErrDataUnavailable, symbol)
	}
	latest, ok := series.Latest()
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: empty series for %s", data.ErrDataUnavailable, symbol)
	}
	price, ok := latest.Fields[types.FieldLast]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: no last price for %s", data.ErrDataUnavailable, symbol)
	}
	return price, latest.Timestamp, nil
}
