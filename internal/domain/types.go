package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the order/trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// ExitReason records why a position was reduced or closed.
type ExitReason string

const (
	ExitStopLoss         ExitReason = "stop_loss"
	ExitTakeProfit       ExitReason = "take_profit"
	ExitStrategy         ExitReason = "strategy_exit"
	ExitMaxHoldingPeriod ExitReason = "max_holding_period"
	ExitManual           ExitReason = "manual"
)

// ValidExitReason reports whether r is one of the known exit reasons.
func ValidExitReason(r ExitReason) bool {
	switch r {
	case ExitStopLoss, ExitTakeProfit, ExitStrategy, ExitMaxHoldingPeriod, ExitManual:
		return true
	}
	return false
}

// SlippagePolicy selects which fills receive adverse slippage.
type SlippagePolicy string

const (
	SlippageSymmetric SlippagePolicy = "symmetric"
	SlippageSellOnly  SlippagePolicy = "sell_only"
)

// Position represents the current holding in one symbol.
type Position struct {
	Symbol          string           `json:"symbol"`
	Quantity        int64            `json:"quantity"`
	AvgCost         decimal.Decimal  `json:"avg_cost"`
	CostBasis       decimal.Decimal  `json:"cost_basis"`
	CurrentPrice    decimal.Decimal  `json:"current_price"`
	EntryDate       time.Time        `json:"entry_date"`
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
	RealizedPnL     decimal.Decimal  `json:"realized_pnl"`
}

// MarketValue is current_price × quantity.
func (p *Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL is (current_price − avg_cost) × quantity.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.AvgCost).Mul(decimal.NewFromInt(p.Quantity))
}

// PositionSummary is the read model served to API consumers.
type PositionSummary struct {
	Symbol          string           `json:"symbol"`
	Quantity        int64            `json:"quantity"`
	AvgCost         decimal.Decimal  `json:"avg_cost"`
	CurrentPrice    decimal.Decimal  `json:"current_price"`
	MarketValue     decimal.Decimal  `json:"market_value"`
	UnrealizedPnL   decimal.Decimal  `json:"unrealized_pnl"`
	RealizedPnL     decimal.Decimal  `json:"realized_pnl"`
	EntryDate       time.Time        `json:"entry_date"`
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
}

// Summary builds the API read model for the position.
func (p *Position) Summary() PositionSummary {
	return PositionSummary{
		Symbol:          p.Symbol,
		Quantity:        p.Quantity,
		AvgCost:         p.AvgCost,
		CurrentPrice:    p.CurrentPrice,
		MarketValue:     p.MarketValue(),
		UnrealizedPnL:   p.UnrealizedPnL(),
		RealizedPnL:     p.RealizedPnL,
		EntryDate:       p.EntryDate,
		StopLossPrice:   p.StopLossPrice,
		TakeProfitPrice: p.TakeProfitPrice,
	}
}

// Trade is a closed (or partially closed) round-trip record.
type Trade struct {
	TradeID    string          `json:"trade_id"`
	AccountID  string          `json:"account_id,omitempty"`
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	EntryDate  time.Time       `json:"entry_date"`
	ExitDate   time.Time       `json:"exit_date"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Quantity   int64           `json:"quantity"`
	Commission decimal.Decimal `json:"commission"`
	StampDuty  decimal.Decimal `json:"stamp_duty"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPct     decimal.Decimal `json:"pnl_pct"`
	ExitReason ExitReason      `json:"exit_reason"`
}

// Bar is one daily OHLCV record.
type Bar struct {
	Symbol string          `json:"symbol"`
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// EquityPoint is one entry of the equity curve.
type EquityPoint struct {
	Date   time.Time       `json:"date"`
	Equity decimal.Decimal `json:"equity"`
}

// Signal is a buy/sell intent produced by a strategy.
type Signal struct {
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Confidence float64          `json:"confidence"`
	Reason     string           `json:"reason,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

// FillReport describes the outcome of a single executed order.
type FillReport struct {
	OrderID        string          `json:"order_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Quantity       int64           `json:"quantity"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Price          decimal.Decimal `json:"price"`
	Gross          decimal.Decimal `json:"gross"`
	Commission     decimal.Decimal `json:"commission"`
	StampDuty      decimal.Decimal `json:"stamp_duty"`
	NetCash        decimal.Decimal `json:"net_cash"`
	FilledAt       time.Time       `json:"filled_at"`
	Trade          *Trade          `json:"trade,omitempty"`
}

// Balance is the account balance read model.
type Balance struct {
	Cash        decimal.Decimal `json:"cash"`
	MarketValue decimal.Decimal `json:"market_value"`
	TotalAssets decimal.Decimal `json:"total_assets"`
	Profit      decimal.Decimal `json:"profit"`
	ProfitPct   decimal.Decimal `json:"profit_pct"`
}

// DailyPnL is the change in equity since the previous recorded date.
type DailyPnL struct {
	DailyPnL    decimal.Decimal `json:"daily_pnl"`
	DailyPnLPct decimal.Decimal `json:"daily_pnl_pct"`
}

// Snapshot is the persisted account state.
// Positions may be empty for snapshots that only carry cash.
type Snapshot struct {
	AccountID   string          `json:"account_id"`
	Cash        decimal.Decimal `json:"cash"`
	InitialCash decimal.Decimal `json:"initial_cash"`
	SavedAt     time.Time       `json:"saved_at"`
	Positions   []Position      `json:"positions,omitempty"`
}

// Mutation is one entry of the ledger's diagnostic journal.
type Mutation struct {
	Seq         int64           `json:"seq"`
	Kind        string          `json:"kind"`
	Symbol      string          `json:"symbol,omitempty"`
	Side        Side            `json:"side,omitempty"`
	Quantity    int64           `json:"quantity,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	StampDuty   decimal.Decimal `json:"stamp_duty"`
	CashAfter   decimal.Decimal `json:"cash_after"`
	EquityAfter decimal.Decimal `json:"equity_after"`
	At          time.Time       `json:"at"`
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
