// Package execution converts trading signals into orders and orders into
// simulated fills, applying slippage and commission models.
package execution

import (
	"math"
	"math/rand"
	"sync"

	"github.com/quantfold/backtester/pkg/types"
	"github.com/shopspring/decimal"
)

var tenThousand = decimal.NewFromInt(10000)

// SlippageModel prices the simulated bid/ask cost of an order.
type SlippageModel interface {
	// Slippage returns the dollar slippage for an order of the given cost.
	Slippage(orderCost decimal.Decimal) decimal.Decimal
}

// LogNormalSlippage samples a log-normal basis-point charge per order. The
// generator is seeded at construction so backtests are reproducible.
type LogNormalSlippage struct {
	mu     sync.Mutex
	mean   float64
	stdDev float64
	rng    *rand.Rand
}

// NewLogNormalSlippage creates a log-normal slippage model with the given
// distribution parameters and seed.
func NewLogNormalSlippage(mean, stdDev float64, seed int64) *LogNormalSlippage {
	return &LogNormalSlippage{
		mean:   mean,
		stdDev: stdDev,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Slippage samples a basis-point value and applies it to the order cost
// magnitude. Slippage is always a cost, never a credit.
func (m *LogNormalSlippage) Slippage(orderCost decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	sample := math.Exp(m.mean + m.stdDev*m.rng.NormFloat64())
	m.mu.Unlock()
	return orderCost.Abs().Mul(decimal.NewFromFloat(sample)).Div(tenThousand)
}

// FixedSlippage charges a fixed number of basis points per order.
type FixedSlippage struct {
	BasisPoints decimal.Decimal
}

// NewFixedSlippage creates a fixed slippage model.
func NewFixedSlippage(bps decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{BasisPoints: bps}
}

// Slippage returns the fixed basis-point charge on the cost magnitude.
func (m *FixedSlippage) Slippage(orderCost decimal.Decimal) decimal.Decimal {
	return orderCost.Abs().Mul(m.BasisPoints).Div(tenThousand)
}

// NewSlippageModel creates a slippage model from config.
func NewSlippageModel(config types.SlippageConfig) SlippageModel {
	switch config.Model {
	case "fixed":
		return NewFixedSlippage(config.FixedBps)
	case "lognormal":
		return NewLogNormalSlippage(config.Mean, config.StdDev, config.Seed)
	default:
		return NewLogNormalSlippage(0, 1, config.Seed)
	}
}
