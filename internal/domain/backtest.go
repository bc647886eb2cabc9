package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CostModel holds the market's fee, tax and slippage parameters.
type CostModel struct {
	CommissionRate decimal.Decimal `json:"commission_rate"`
	MinCommission  decimal.Decimal `json:"min_commission"`
	StampDutyRate  decimal.Decimal `json:"stamp_duty_rate"`
	Slippage       decimal.Decimal `json:"slippage"`
	SlippagePolicy SlippagePolicy  `json:"slippage_policy"`
	LotSize        int64           `json:"lot_size"`
}

// DefaultCostModel returns A-share defaults.
func DefaultCostModel() CostModel {
	return CostModel{
		CommissionRate: decimal.RequireFromString("0.0003"),
		MinCommission:  decimal.NewFromInt(5),
		StampDutyRate:  decimal.RequireFromString("0.001"),
		Slippage:       decimal.RequireFromString("0.001"),
		SlippagePolicy: SlippageSymmetric,
		LotSize:        100,
	}
}

// Validate checks the cost model for impossible values.
func (c CostModel) Validate() error {
	if c.LotSize <= 0 {
		return fmt.Errorf("lot_size must be positive, got %d", c.LotSize)
	}
	if c.CommissionRate.IsNegative() || c.MinCommission.IsNegative() || c.StampDutyRate.IsNegative() {
		return fmt.Errorf("commission and stamp duty must not be negative")
	}
	if c.Slippage.IsNegative() || c.Slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("slippage must be in [0, 1), got %s", c.Slippage)
	}
	switch c.SlippagePolicy {
	case SlippageSymmetric, SlippageSellOnly:
	default:
		return fmt.Errorf("invalid slippage_policy: %q (must be symmetric or sell_only)", c.SlippagePolicy)
	}
	return nil
}

// BacktestConfig holds the parameters of one backtest run.
type BacktestConfig struct {
	Name           string                 `json:"name,omitempty"`
	StartDate      time.Time              `json:"start_date"`
	EndDate        time.Time              `json:"end_date"`
	InitialCapital decimal.Decimal        `json:"initial_capital"`
	Symbols        []string               `json:"symbols"`
	Strategy       string                 `json:"strategy"`
	Params         map[string]interface{} `json:"params,omitempty"`
	CostModel
}

// Validate checks that the run parameters are usable.
func (c *BacktestConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.StartDate.IsZero() {
		return fmt.Errorf("start date is required")
	}
	if c.EndDate.IsZero() {
		return fmt.Errorf("end date is required")
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end date must not be before start date")
	}
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive")
	}
	return c.CostModel.Validate()
}

// RunStatus is the state of a backtest run.
type RunStatus string

const (
	RunInitialized RunStatus = "initialized"
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
)

// BacktestResult holds the outputs of a backtest run.
type BacktestResult struct {
	RunID           string          `json:"run_id"`
	Name            string          `json:"name,omitempty"`
	Strategy        string          `json:"strategy"`
	Status          RunStatus       `json:"status"`
	Error           string          `json:"error,omitempty"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	InitialCapital  decimal.Decimal `json:"initial_capital"`
	FinalEquity     decimal.Decimal `json:"final_equity"`
	TotalReturnPct  float64         `json:"total_return_pct"`
	AnnualReturnPct float64         `json:"annual_return_pct"`
	SharpeRatio     float64         `json:"sharpe_ratio"`
	MaxDrawdown     float64         `json:"max_drawdown"`
	WinRate         float64         `json:"win_rate"`
	NumTrades       int             `json:"num_trades"`
	TradingDays     int             `json:"trading_days"`
	RejectedOrders  int             `json:"rejected_orders"`
	SkippedBars     int             `json:"skipped_bars"`
	EquityCurve     []EquityPoint   `json:"equity_curve,omitempty"`
	Trades          []Trade         `json:"trades,omitempty"`
	Diagnostics     []Mutation      `json:"diagnostics,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
