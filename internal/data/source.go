// Package data provides the market-data contracts consumed by the simulation
// core, plus the bundled historical file store and live websocket feed that
// implement them.
package data

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/quantfold/backtester/internal/event"
	"github.com/quantfold/backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrDataUnavailable is returned when the upstream feed has no data for a
// request. Callers must surface it, never treat it as a zero price.
var ErrDataUnavailable = errors.New("data: unavailable")

// ErrSession is returned when the upstream feed cannot be reached.
var ErrSession = errors.New("data: session error")

// ErrSymbolMismatch is returned when series for different symbols are merged.
var ErrSymbolMismatch = errors.New("data: symbol mismatch")

// Source pulls historical field data on demand.
type Source interface {
	// History returns up to lookback bars per symbol ending at asOf, carrying
	// the requested fields, ordered ascending by timestamp.
	History(ctx context.Context, asOf time.Time, symbols, fields []string, lookback int, freq types.Frequency) (map[string]*SymbolHistory, error)
}

// HistoricalSource also pre-builds the market events that seed a historical
// run, one per trading day per configured symbol set, in ascending order.
type HistoricalSource interface {
	Source
	FillHistory(ctx context.Context, symbols []string, start, end time.Time) ([]*event.MarketEvent, error)
}

// LiveSource streams market events from a subscription feed. The returned
// channel is owned by the source and closed when the subscription ends.
type LiveSource interface {
	Subscribe(ctx context.Context, symbols []string) (<-chan *event.MarketEvent, error)
	Close() error
}

// HistoryBar is one timestamped set of field values.
type HistoryBar struct {
	Timestamp time.Time
	Fields    map[string]decimal.Decimal
}

// SymbolHistory is a single symbol's field series ordered ascending by
// timestamp.
type SymbolHistory struct {
	Symbol string
	bars   []HistoryBar
}

// NewSymbolHistory creates an empty series for a symbol.
func NewSymbolHistory(symbol string) *SymbolHistory {
	return &SymbolHistory{Symbol: symbol}
}

// Add inserts one bar, keeping ascending timestamp order.
func (h *SymbolHistory) Add(ts time.Time, fields map[string]decimal.Decimal) {
	bar := HistoryBar{Timestamp: ts, Fields: fields}
	i := sort.Search(len(h.bars), func(i int) bool {
		return h.bars[i].Timestamp.After(ts)
	})
	h.bars = append(h.bars, HistoryBar{})
	copy(h.bars[i+1:], h.bars[i:])
	h.bars[i] = bar
}

// Append merges another same-symbol series into this one.
func (h *SymbolHistory) Append(other *SymbolHistory) error {
	if other.Symbol != h.Symbol {
		return fmt.Errorf("%w: cannot append %s series to %s", ErrSymbolMismatch, other.Symbol, h.Symbol)
	}
	for _, bar := range other.bars {
		h.Add(bar.Timestamp, bar.Fields)
	}
	return nil
}

// Latest returns the most recent bar.
func (h *SymbolHistory) Latest() (HistoryBar, bool) {
	if len(h.bars) == 0 {
		return HistoryBar{}, false
	}
	return h.bars[len(h.bars)-1], true
}

// Bars returns the full ascending series.
func (h *SymbolHistory) Bars() []HistoryBar {
	return h.bars
}

// Len returns the number of bars.
func (h *SymbolHistory) Len() int { return len(h.bars) }
