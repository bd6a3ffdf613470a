// Package types provides shared value types for the backtesting engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio holdings pseudo-fields. Symbol market values live in the same map
// under their own symbol keys.
const (
	FieldHeldCash      = "heldcash"
	FieldCommission    = "commission"
	FieldSlippage      = "slippage"
	FieldTotalHoldings = "totalholdings"
	FieldReturns       = "returns"
	FieldEquityCurve   = "equitycurve"
)

// FieldLast is the data-source field name for the most recent traded price.
const FieldLast = "last"

// Frequency identifies the bar spacing of a history request.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyRecent Frequency = "recent"
)

// Bar is a single OHLCV observation.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// EquityCurvePoint is one sample of the compounded return series.
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Total     decimal.Decimal `json:"total"`
}
