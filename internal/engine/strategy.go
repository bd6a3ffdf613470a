// Package engine runs the event-driven simulation loop. A Strategy replays
// historical market events through a time-ordered heap, draining an immediate
// stack between heap events so that signal, order and fill cascades complete
// before simulated time advances.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/backtester/internal/calendar"
	"github.com/quantfold/backtester/internal/data"
	"github.com/quantfold/backtester/internal/event"
	"github.com/quantfold/backtester/internal/execution"
	"github.com/quantfold/backtester/internal/notify"
	"github.com/quantfold/backtester/internal/portfolio"
	"github.com/quantfold/backtester/pkg/types"
)

// ErrAlreadyRun is returned when Run is called on a strategy that has
// already started.
var ErrAlreadyRun = errors.New("engine: strategy already run")

// ErrNotSchedulable is returned when ScheduleFunc is called after Run.
var ErrNotSchedulable = errors.New("engine: cannot schedule after run has started")

// State tracks the lifecycle of a strategy run.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateFinished
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Strategy is a historical simulation run. The heap is seeded with one market
// event per trading day at construction; user callbacks registered through
// ScheduleFunc are merged into it by timestamp before the run starts.
type Strategy struct {
	logger    *zap.Logger
	cfg       types.BacktestConfig
	source    data.Source
	holidays  calendar.Holidays
	portfolio *portfolio.Portfolio
	execution *execution.Handler
	notifier  notify.Notifier
	metrics   *Metrics
	now       func() time.Time

	heap  *event.Queue
	stack *event.Stack

	mu          sync.Mutex
	state       State
	currentTime time.Time
}

// Option configures optional strategy collaborators.
type Option func(*Strategy)

// WithNotifier routes strategy log lines and completion messages.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Strategy) { s.notifier = n }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Strategy) { s.metrics = m }
}

// WithClock overrides the wall clock. Live runs use it to decide event
// eligibility; tests inject a fake.
func WithClock(now func() time.Time) Option {
	return func(s *Strategy) { s.now = now }
}

// New builds a historical strategy and seeds its heap from the source's
// market history for the configured date range.
func New(ctx context.Context, logger *zap.Logger, cfg types.BacktestConfig, source data.HistoricalSource, holidays calendar.Holidays, opts ...Option) (*Strategy, error) {
	s, err := newCore(logger, cfg, source, holidays, opts...)
	if err != nil {
		return nil, err
	}
	history, err := source.FillHistory(ctx, cfg.Symbols, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("engine: seeding market history: %w", err)
	}
	// FillHistory returns events in ascending order, so append skips the
	// insertion search.
	for _, ev := range history {
		s.heap.Append(ev)
	}
	logger.Info("seeded market history",
		zap.Int("events", len(history)),
		zap.Strings("symbols", cfg.Symbols),
		zap.Time("start", cfg.StartDate),
		zap.Time("end", cfg.EndDate))
	return s, nil
}

func newCore(logger *zap.Logger, cfg types.BacktestConfig, source data.Source, holidays calendar.Holidays, opts ...Option) (*Strategy, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("engine: no symbols configured")
	}
	if !cfg.StartDate.Before(cfg.EndDate) {
		return nil, errors.New("engine: start date must precede end date")
	}
	s := &Strategy{
		logger:      logger,
		cfg:         cfg,
		source:      source,
		holidays:    holidays,
		now:         time.Now,
		heap:        event.NewQueue(),
		stack:       event.NewStack(),
		state:       StateNotStarted,
		currentTime: cfg.StartDate,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.NewConsole(logger)
	}
	s.portfolio = portfolio.New(logger, cfg.Symbols, cfg.InitialCapital, cfg.StartDate)
	s.portfolio.SetAllowMargin(cfg.AllowMargin)
	s.execution = execution.NewHandler(logger, s.stack, source, s.portfolio,
		execution.NewSlippageModel(cfg.Slippage),
		execution.NewCommissionModel(cfg.Commission))
	return s, nil
}

// DateRules returns date rules spanning the configured run window, for use
// with ScheduleFunc.
func (s *Strategy) DateRules() calendar.DateRules {
	return calendar.NewDateRules(s.cfg.StartDate, s.cfg.EndDate, s.holidays)
}

// ScheduleFunc registers fn at every session time the rules produce,
// merging the callbacks into the heap by timestamp. Scheduling is only
// permitted before the run starts. Dates before the run window are dropped.
func (s *Strategy) ScheduleFunc(fn func(), dr calendar.DateRules, tr calendar.TimeRules) error {
	if fn == nil {
		return errors.New("engine: schedule callback must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotStarted {
		return ErrNotSchedulable
	}
	scheduled := 0
	for _, when := range dr.GetDateTimes(tr) {
		if when.Before(s.cfg.StartDate) {
			continue
		}
		ev, err := event.NewScheduledEvent(when, fn)
		if err != nil {
			return err
		}
		s.heap.Push(ev)
		scheduled++
	}
	if s.metrics != nil {
		s.metrics.ScheduledDates.Add(float64(scheduled))
	}
	s.logger.Debug("scheduled callback", zap.Int("dates", scheduled))
	return nil
}

// OrderTargetPercent pushes a signal to rebalance the symbol to the given
// fraction of total portfolio value. The signal lands on the immediate stack
// and is processed before simulated time advances.
func (s *Strategy) OrderTargetPercent(symbol string, target float64) {
	s.stack.Push(&event.SignalEvent{
		When:          s.CurrentTime(),
		Symbol:        symbol,
		TargetPercent: target,
	})
}

// Stop requests the run to halt after in-flight stack events finish.
func (s *Strategy) Stop(reason string) {
	s.stack.Push(&event.StopEvent{When: s.CurrentTime(), Reason: reason})
}

// Log writes a strategy line stamped with the current simulated time.
func (s *Strategy) Log(message string) {
	s.notifier.Log(fmt.Sprintf("%s  %s", s.CurrentTime().Format("2006-01-02 15:04"), message))
}

// Run replays every event until the heap and stack are empty, a stop event
// is seen, or the context is cancelled. Stack events always drain before the
// next heap event, and the simulated clock is set to each event's timestamp
// before it is dispatched.
func (s *Strategy) Run(ctx context.Context) error {
	if err := s.transition(StateNotStarted, StateRunning); err != nil {
		return err
	}
	s.logger.Info("starting backtest",
		zap.Strings("symbols", s.cfg.Symbols),
		zap.String("capital", s.cfg.InitialCapital.String()),
		zap.Time("start", s.cfg.StartDate),
		zap.Time("end", s.cfg.EndDate))

	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateStopped)
			return err
		}
		ev := s.nextEvent()
		if ev == nil {
			break
		}
		s.setCurrentTime(ev.Timestamp())
		stop, err := s.dispatch(ctx, ev)
		if err != nil {
			s.setState(StateStopped)
			return fmt.Errorf("engine: %s event at %s: %w", ev.Kind(), ev.Timestamp().Format(time.RFC3339), err)
		}
		if stop {
			s.setState(StateStopped)
			s.finish("stopped")
			return nil
		}
	}
	s.setState(StateFinished)
	s.finish("finished")
	return nil
}

// nextEvent pops the immediate stack first; the heap only advances once the
// stack is empty.
func (s *Strategy) nextEvent() event.Event {
	if s.stack.Len() > 0 {
		return s.stack.Pop()
	}
	return s.heap.Pop()
}

func (s *Strategy) dispatch(ctx context.Context, ev event.Event) (halt bool, err error) {
	if s.metrics != nil {
		s.metrics.EventsProcessed.WithLabelValues(string(ev.Kind())).Inc()
		s.metrics.HeapDepth.Set(float64(s.heap.Len()))
	}
	switch e := ev.(type) {
	case *event.MarketEvent:
		return false, s.portfolio.UpdateMarket(e)
	case *event.SignalEvent:
		return false, s.execution.ProcessSignal(ctx, e)
	case *event.OrderEvent:
		return false, s.execution.ProcessOrder(ctx, e)
	case *event.FillEvent:
		if s.metrics != nil {
			s.metrics.FillsExecuted.Inc()
		}
		return false, s.portfolio.UpdateFill(e)
	case *event.ScheduledEvent:
		e.Callback()
		return false, nil
	case *event.StopEvent:
		s.logger.Info("stop requested", zap.String("reason", e.Reason))
		return true, nil
	default:
		return false, fmt.Errorf("engine: unhandled event kind %q", ev.Kind())
	}
}

func (s *Strategy) finish(how string) {
	ret := s.portfolio.Holding(types.FieldEquityCurve)
	pct := ret.Mul(decimal.NewFromInt(100)).Round(4)
	if s.metrics != nil {
		s.metrics.EquityReturn.Set(ret.InexactFloat64())
	}
	s.logger.Info("backtest "+how,
		zap.String("return_pct", pct.String()),
		zap.String("held_cash", s.portfolio.Holding(types.FieldHeldCash).String()),
		zap.String("total_holdings", s.portfolio.Holding(types.FieldTotalHoldings).String()))
	s.notifier.Message(fmt.Sprintf("Backtest %s. Total return: %s%%", how, pct))
}

// Portfolio exposes the book for inspection and reporting.
func (s *Strategy) Portfolio() *portfolio.Portfolio { return s.portfolio }

// State returns the current lifecycle state.
func (s *Strategy) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentTime returns the simulated clock, which holds the timestamp of the
// event being processed.
func (s *Strategy) CurrentTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTime
}

func (s *Strategy) setCurrentTime(t time.Time) {
	s.mu.Lock()
	s.currentTime = t
	s.mu.Unlock()
}

func (s *Strategy) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Strategy) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return ErrAlreadyRun
	}
	s.state = to
	return nil
}

type savedState struct {
	SavedAt     time.Time                `json:"savedAt"`
	CurrentTime time.Time                `json:"currentTime"`
	State       string                   `json:"state"`
	Positions   map[string]int64         `json:"positions"`
	Holdings    map[string]string        `json:"holdings"`
	EquityCurve []types.EquityCurvePoint `json:"equityCurve"`
}

// SaveState writes the current book and equity curve to a JSON file.
func (s *Strategy) SaveState(path string) error {
	holdings := make(map[string]string)
	for field, value := range s.portfolio.CurrentHoldings() {
		holdings[field] = value.String()
	}
	out := savedState{
		SavedAt:     s.now(),
		CurrentTime: s.CurrentTime(),
		State:       s.State().String(),
		Positions:   s.portfolio.CurrentPositions(),
		Holdings:    holdings,
		EquityCurve: s.portfolio.EquityCurve(),
	}
	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: encoding state: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("engine: writing state: %w", err)
	}
	s.logger.Info("saved strategy state", zap.String("path", path))
	return nil
}
