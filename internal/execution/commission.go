package execution

import (
	"github.com/quantfold/backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// CommissionModel prices the simulated broker fee for an order.
type CommissionModel interface {
	// Commission returns the dollar fee for filling the given signed
	// share quantity.
	Commission(quantity int64) decimal.Decimal
}

// PerShareCommission charges a flat per-share fee with a minimum floor,
// the interactive-broker style schedule.
type PerShareCommission struct {
	PerShare decimal.Decimal
	Minimum  decimal.Decimal
}

// NewPerShareCommission creates a per-share commission model.
func NewPerShareCommission(perShare, minimum decimal.Decimal) *PerShareCommission {
	return &PerShareCommission{PerShare: perShare, Minimum: minimum}
}

// Commission returns max(minimum, |quantity| * perShare).
func (c *PerShareCommission) Commission(quantity int64) decimal.Decimal {
	if quantity < 0 {
		quantity = -quantity
	}
	fee := c.PerShare.Mul(decimal.NewFromInt(quantity))
	if fee.LessThan(c.Minimum) {
		return c.Minimum
	}
	return fee
}

// NewCommissionModel creates a commission model from config.
func NewCommissionModel(config types.CommissionConfig) CommissionModel {
	return NewPerShareCommission(config.PerShare, config.Minimum)
}
