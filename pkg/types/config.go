// Package types provides configuration types for the backtesting engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig represents the configuration for a backtest run
type BacktestConfig struct {
	ID             string          `json:"id" mapstructure:"id"`
	Symbols        []string        `json:"symbols" mapstructure:"symbols"`
	StartDate      time.Time       `json:"startDate" mapstructure:"start_date"`
	EndDate        time.Time       `json:"endDate" mapstructure:"end_date"`
	InitialCapital decimal.Decimal `json:"initialCapital" mapstructure:"initial_capital"`
	Slippage       SlippageConfig  `json:"slippage" mapstructure:"slippage"`
	Commission     CommissionConfig `json:"commission" mapstructure:"commission"`
	AllowMargin    bool            `json:"allowMargin" mapstructure:"allow_margin"`
}

// SlippageConfig represents slippage model configuration
type SlippageConfig struct {
	Model  string  `json:"model" mapstructure:"model"` // "lognormal", "fixed"
	Mean   float64 `json:"mean" mapstructure:"mean"`
	StdDev float64 `json:"stdDev" mapstructure:"std_dev"`
	Seed   int64   `json:"seed" mapstructure:"seed"`
	// FixedBps is used by the fixed model only.
	FixedBps decimal.Decimal `json:"fixedBps,omitempty" mapstructure:"fixed_bps"`
}

// CommissionConfig represents broker commission configuration
type CommissionConfig struct {
	PerShare decimal.Decimal `json:"perShare" mapstructure:"per_share"`
	Minimum  decimal.Decimal `json:"minimum" mapstructure:"minimum"`
}

// ServerConfig represents the status API server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// DefaultBacktestConfig returns a config with the standard simulation defaults.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital: decimal.NewFromInt(100000),
		Slippage: SlippageConfig{
			Model:  "lognormal",
			Mean:   0,
			StdDev: 1,
			Seed:   1,
		},
		Commission: CommissionConfig{
			PerShare: decimal.NewFromFloat(0.001),
			Minimum:  decimal.NewFromInt(1),
		},
		AllowMargin: true,
	}
}
