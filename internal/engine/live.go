package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/backtester/internal/calendar"
	"github.com/quantfold/backtester/internal/data"
	"github.com/quantfold/backtester/internal/event"
	"github.com/quantfold/backtester/pkg/types"
)

const defaultPollInterval = 250 * time.Millisecond

// LiveStrategy drives the same dispatch loop against a streaming feed. Feed
// events are merged into the heap as they arrive, and a heap event is only
// dispatched once the wall clock has reached its timestamp. The clock tracks
// wall time rather than event time.
type LiveStrategy struct {
	*Strategy
	feed data.LiveSource
	poll time.Duration
}

// NewLive builds a live strategy. The run window starts at the current wall
// clock; cfg.EndDate bounds the session. Scheduled dates already in the past
// are dropped.
func NewLive(logger *zap.Logger, cfg types.BacktestConfig, source data.Source, feed data.LiveSource, holidays calendar.Holidays, opts ...Option) (*LiveStrategy, error) {
	s, err := newCore(logger, cfg, source, holidays, opts...)
	if err != nil {
		return nil, err
	}
	start := s.now()
	if !start.Before(cfg.EndDate) {
		return nil, errors.New("engine: session end already passed")
	}
	s.cfg.StartDate = start
	s.setCurrentTime(start)
	s.portfolio.Reset(cfg.InitialCapital, start)
	return &LiveStrategy{
		Strategy: s,
		feed:     feed,
		poll:     defaultPollInterval,
	}, nil
}

// Run subscribes to the feed and dispatches events until the session end is
// reached, the feed closes with no work left, a stop event is seen, or the
// context is cancelled.
func (s *LiveStrategy) Run(ctx context.Context) error {
	if err := s.transition(StateNotStarted, StateRunning); err != nil {
		return err
	}
	feedCh, err := s.feed.Subscribe(ctx, s.cfg.Symbols)
	if err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("engine: subscribing to live feed: %w", err)
	}
	defer s.feed.Close()

	s.logger.Info("starting live session",
		zap.Strings("symbols", s.cfg.Symbols),
		zap.Time("start", s.cfg.StartDate),
		zap.Time("end", s.cfg.EndDate))

	for {
		now := s.now()
		s.setCurrentTime(now)
		if now.After(s.cfg.EndDate) {
			break
		}
		if err := ctx.Err(); err != nil {
			s.setState(StateStopped)
			return err
		}
		closed := s.drainFeed(feedCh)
		if closed {
			feedCh = nil
		}

		ev := s.eligibleEvent(now)
		if ev == nil {
			if feedCh == nil && s.heap.Len() == 0 && s.stack.Len() == 0 {
				break
			}
			if !s.waitForWork(ctx, feedCh) {
				feedCh = nil
			}
			continue
		}
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

// drainFeed merges every buffered feed event into the heap without blocking.
// Reports whether the feed channel has closed.
func (s *LiveStrategy) drainFeed(ch <-chan *event.MarketEvent) bool {
	if ch == nil {
		return true
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return true
			}
			s.heap.Push(ev)
		default:
			return false
		}
	}
}

// eligibleEvent pops the next dispatchable event: the stack always wins, and
// a heap event is only eligible once its timestamp has passed.
func (s *LiveStrategy) eligibleEvent(now time.Time) event.Event {
	if s.stack.Len() > 0 {
		return s.stack.Pop()
	}
	if ts, ok := s.heap.PeekTime(); ok && !ts.After(now) {
		return s.heap.Pop()
	}
	return nil
}

// waitForWork blocks until a feed event arrives, the poll interval elapses,
// or the context is cancelled. Returns false once the feed has closed.
func (s *LiveStrategy) waitForWork(ctx context.Context, ch <-chan *event.MarketEvent) bool {
	if ch == nil {
		timer := time.NewTimer(s.poll)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		return false
	}
	timer := time.NewTimer(s.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case ev, ok := <-ch:
		if !ok {
			return false
		}
		s.heap.Push(ev)
		return true
	case <-timer.C:
		return true
	}
}
