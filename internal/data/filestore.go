package data

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/quantfold/backtester/internal/calendar"
	"github.com/quantfold/backtester/internal/event"
	"github.com/quantfold/backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FileStore is a JSON-file-backed historical source. Bars live in
// <dataDir>/<SYMBOL>_daily.json; symbols without a file get deterministic
// synthetic bars so a backtest can run without vendor data.
type FileStore struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	cache   map[string][]types.Bar
}

// NewFileStore creates a file store rooted at dataDir, creating the
// directory if needed.
func NewFileStore(logger *zap.Logger, dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data: create data directory: %w", err)
	}
	return &FileStore{
		logger:  logger,
		dataDir: dataDir,
		cache:   make(map[string][]types.Bar),
	}, nil
}

// History implements Source. Bars strictly after asOf are excluded.
func (s *FileStore) History(ctx context.Context, asOf time.Time, symbols, fields []string, lookback int, freq types.Frequency) (map[string]*SymbolHistory, error) {
	out := make(map[string]*SymbolHistory, len(symbols))
	for _, symbol := range symbols {
		bars, err := s.load(ctx, symbol, asOf.AddDate(0, 0, -lookback-7), asOf)
		if err != nil {
			return nil, err
		}
		// Keep the lookback most recent bars at or before asOf.
		eligible := bars[:0:0]
		for _, bar := range bars {
			if !bar.Timestamp.After(asOf) {
				eligible = append(eligible, bar)
			}
		}
		if len(eligible) == 0 {
			return nil, fmt.Errorf("%w: no bars for %s at or before %s", ErrDataUnavailable, symbol, asOf.Format(time.RFC3339))
		}
		if len(eligible) > lookback {
			eligible = eligible[len(eligible)-lookback:]
		}

		series := NewSymbolHistory(symbol)
		for _, bar := range eligible {
			series.Add(bar.Timestamp, barFields(bar, fields))
		}
		out[symbol] = series
	}
	return out, nil
}

// FillHistory implements HistoricalSource: one market event per trading day
// carrying every symbol's closing price, in ascending order.
func (s *FileStore) FillHistory(ctx context.Context, symbols []string, start, end time.Time) ([]*event.MarketEvent, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	closes := make(map[string]map[time.Time]decimal.Decimal, len(symbols))
	var days []time.Time
	seen := make(map[time.Time]bool)
	for _, symbol := range symbols {
		bars, err := s.load(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		bySymbol := make(map[time.Time]decimal.Decimal, len(bars))
		for _, bar := range bars {
			bySymbol[bar.Timestamp] = bar.Close
			if !seen[bar.Timestamp] {
				seen[bar.Timestamp] = true
				days = append(days, bar.Timestamp)
			}
		}
		closes[symbol] = bySymbol
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	events := make([]*event.MarketEvent, 0, len(days))
	for _, day := range days {
		prices := make(map[string]decimal.Decimal, len(symbols))
		complete := true
		for _, symbol := range symbols {
			price, ok := closes[symbol][day]
			if !ok {
				complete = false
				break
			}
			prices[symbol] = price
		}
		if !complete {
			// A symbol with no bar that day would poison the portfolio
			// revaluation; skip the whole day.
			s.logger.Debug("skipping incomplete market day", zap.Time("day", day))
			continue
		}
		events = append(events, event.NewMarketEvent(day, prices))
	}
	return events, nil
}

// load returns the symbol's daily bars covering [start, end], reading the
// backing file once and caching it, or generating synthetic bars when no
// file exists.
func (s *FileStore) load(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSession, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bars, ok := s.cache[symbol]
	if !ok {
		filename := filepath.Join(s.dataDir, fmt.Sprintf("%s_daily.json", symbol))
		raw, err := os.ReadFile(filename)
		switch {
		case err == nil:
			if err := json.Unmarshal(raw, &bars); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", ErrDataUnavailable, filename, err)
			}
			sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
			s.cache[symbol] = bars
		case os.IsNotExist(err):
			bars = nil
		default:
			return nil, fmt.Errorf("%w: read %s: %v", ErrSession, filename, err)
		}
	}

	if len(bars) == 0 {
		s.logger.Info("generating synthetic bars", zap.String("symbol", symbol))
		bars = syntheticBars(symbol, start.AddDate(-1, 0, 0), end)
		s.cache[symbol] = bars
	}

	filtered := make([]types.Bar, 0, len(bars))
	for _, bar := range bars {
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			continue
		}
		filtered = append(filtered, bar)
	}
	return filtered, nil
}

func barFields(bar types.Bar, fields []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(fields))
	for _, field := range fields {
		switch field {
		case types.FieldLast:
			out[field] = bar.Close
		case "open":
			out[field] = bar.Open
		case "high":
			out[field] = bar.High
		case "low":
			out[field] = bar.Low
		case "volume":
			out[field] = bar.Volume
		}
	}
	return out
}

// syntheticBars builds a deterministic daily price series for a symbol. The
// price of a given day depends only on the symbol and the date, so the same
// request always produces the same bars regardless of the range asked for.
func syntheticBars(symbol string, start, end time.Time) []types.Bar {
	base := 20 + float64(hashString(symbol)%200)
	var bars []types.Bar
	for day := dateOnly(start); !day.After(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		t := float64(day.Unix()) / 86400
		wave := math.Sin(t/17) + 0.5*math.Sin(t/5)
		noise := float64(hashString(symbol+calendar.FormatDate(day))%1000)/1000 - 0.5
		price := base * (1 + 0.05*wave + 0.01*noise)

		closeAt := time.Date(day.Year(), day.Month(), day.Day(), 16, 0, 0, 0, time.UTC)
		px := decimal.NewFromFloat(price).Round(2)
		bars = append(bars, types.Bar{
			Timestamp: closeAt,
			Open:      px.Mul(decimal.NewFromFloat(0.998)).Round(2),
			High:      px.Mul(decimal.NewFromFloat(1.004)).Round(2),
			Low:       px.Mul(decimal.NewFromFloat(0.994)).Round(2),
			Close:     px,
			Volume:    decimal.NewFromInt(int64(1000000 + hashString(symbol+"v"+calendar.FormatDate(day))%500000)),
		})
	}
	return bars
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
