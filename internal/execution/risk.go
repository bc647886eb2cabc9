package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// RiskExit is a position whose stop-loss or take-profit level was reached.
type RiskExit struct {
	Position domain.Position
	// Price is the protective level, used as the exit's reference price.
	Price  decimal.Decimal
	Reason domain.ExitReason
}

// Reasoning is the order note for the exit.
func (x RiskExit) Reasoning() string {
	if x.Reason == domain.ExitStopLoss {
		return "stop loss hit"
	}
	return "take profit hit"
}

// Order builds the full-size SELL that closes the position.
func (x RiskExit) Order(strategyName string, now time.Time) *domain.Order {
	order := domain.NewOrder(x.Position.Symbol, domain.SideSell, domain.OrderTypeMarket, x.Position.Quantity, now)
	order.StrategyName = strategyName
	order.Reasoning = x.Reasoning()
	order.ExitReason = x.Reason
	return order
}

// RiskExits checks marked positions against their protective levels. Only
// symbols present in prices are considered. A stop-loss at or above the mark
// wins over a take-profit; each position exits at most once. The result is in
// the order of positions, which the ledger returns sorted by symbol.
func RiskExits(positions []domain.Position, prices map[string]decimal.Decimal) []RiskExit {
	var out []RiskExit
	for _, pos := range positions {
		if _, ok := prices[pos.Symbol]; !ok {
			continue
		}
		switch {
		case pos.StopLossPrice != nil && pos.CurrentPrice.LessThanOrEqual(*pos.StopLossPrice):
			out = append(out, RiskExit{Position: pos, Price: *pos.StopLossPrice, Reason: domain.ExitStopLoss})
		case pos.TakeProfitPrice != nil && pos.CurrentPrice.GreaterThanOrEqual(*pos.TakeProfitPrice):
			out = append(out, RiskExit{Position: pos, Price: *pos.TakeProfitPrice, Reason: domain.ExitTakeProfit})
		}
	}
	return out
}
