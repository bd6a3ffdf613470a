// Package event provides the event model for the simulation loop: the closed
// set of event kinds plus the two containers that drive the loop, the
// time-ordered Queue (the "heap") and the immediate-priority Stack.
package event

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies an event variant.
type Kind string

const (
	KindMarket    Kind = "market"
	KindSignal    Kind = "signal"
	KindOrder     Kind = "order"
	KindFill      Kind = "fill"
	KindScheduled Kind = "scheduled"
	KindStop      Kind = "stop"
)

// Event is the closed interface over the six event kinds. Events carry a
// simulated timestamp, are created by producers and consumed exactly once by
// the simulation loop.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
	String() string
}

// MarketEvent is a price update for a set of symbols.
type MarketEvent struct {
	When    time.Time
	Symbols []string
	Prices  map[string]decimal.Decimal
}

func (e *MarketEvent) Kind() Kind           { return KindMarket }
func (e *MarketEvent) Timestamp() time.Time { return e.When }
func (e *MarketEvent) String() string {
	return fmt.Sprintf("MARKET %s [%s]", e.When.Format(time.RFC3339), strings.Join(e.Symbols, ","))
}

// NewMarketEvent builds a market event with a stable symbol ordering.
func NewMarketEvent(when time.Time, prices map[string]decimal.Decimal) *MarketEvent {
	symbols := make([]string, 0, len(prices))
	for s := range prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return &MarketEvent{When: when, Symbols: symbols, Prices: prices}
}

// SignalEvent is a strategy's declared target allocation for a symbol.
// A TargetPercent of 0 means flatten the position exactly.
type SignalEvent struct {
	When          time.Time
	Symbol        string
	TargetPercent float64
}

func (e *SignalEvent) Kind() Kind           { return KindSignal }
func (e *SignalEvent) Timestamp() time.Time { return e.When }
func (e *SignalEvent) String() string {
	return fmt.Sprintf("SIGNAL %s %s target=%.4f", e.When.Format(time.RFC3339), e.Symbol, e.TargetPercent)
}

// OrderEvent is a sized order derived from a signal. Quantity is signed and
// mutable so the execution handler can split partial fills.
type OrderEvent struct {
	When     time.Time
	ID       string
	Symbol   string
	Quantity int64
}

func (e *OrderEvent) Kind() Kind           { return KindOrder }
func (e *OrderEvent) Timestamp() time.Time { return e.When }
func (e *OrderEvent) String() string {
	return fmt.Sprintf("ORDER %s %s qty=%d", e.When.Format(time.RFC3339), e.Symbol, e.Quantity)
}

// FillEvent is the realized outcome of an order after transaction costs.
type FillEvent struct {
	When       time.Time
	OrderID    string
	Symbol     string
	Quantity   int64
	Cost       decimal.Decimal
	Slippage   decimal.Decimal
	Commission decimal.Decimal
}

func (e *FillEvent) Kind() Kind           { return KindFill }
func (e *FillEvent) Timestamp() time.Time { return e.When }
func (e *FillEvent) String() string {
	return fmt.Sprintf("FILL %s %s qty=%d cost=%s slip=%s comm=%s",
		e.When.Format(time.RFC3339), e.Symbol, e.Quantity, e.Cost, e.Slippage, e.Commission)
}

// ScheduledEvent invokes a strategy-bound callback at a calendar-computed
// instant.
type ScheduledEvent struct {
	When     time.Time
	Callback func()
}

func (e *ScheduledEvent) Kind() Kind           { return KindScheduled }
func (e *ScheduledEvent) Timestamp() time.Time { return e.When }
func (e *ScheduledEvent) String() string {
	return fmt.Sprintf("SCHEDULED %s", e.When.Format(time.RFC3339))
}

// NewScheduledEvent builds a scheduled event. The callback must be non-nil.
func NewScheduledEvent(when time.Time, callback func()) (*ScheduledEvent, error) {
	if callback == nil {
		return nil, fmt.Errorf("event: scheduled event requires a callback")
	}
	return &ScheduledEvent{When: when, Callback: callback}, nil
}

// StopEvent signals loop shutdown.
type StopEvent struct {
	When   time.Time
	Reason string
}

func (e *StopEvent) Kind() Kind           { return KindStop }
func (e *StopEvent) Timestamp() time.Time { return e.When }
func (e *StopEvent) String() string {
	return fmt.Sprintf("STOP %s %s", e.When.Format(time.RFC3339), e.Reason)
}
