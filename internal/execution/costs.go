package execution

import (
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

var one = decimal.NewFromInt(1)

// EffectivePrice applies adverse slippage to the reference price: SELL fills
// lower, BUY fills higher unless the policy is sell_only.
func EffectivePrice(costs domain.CostModel, side domain.Side, ref decimal.Decimal) decimal.Decimal {
	if costs.Slippage.IsZero() {
		return ref
	}
	switch side {
	case domain.SideSell:
		return ref.Mul(one.Sub(costs.Slippage))
	case domain.SideBuy:
		if costs.SlippagePolicy == domain.SlippageSellOnly {
			return ref
		}
		return ref.Mul(one.Add(costs.Slippage))
	}
	return ref
}

// Commission is max(gross × commission_rate, min_commission).
func Commission(costs domain.CostModel, gross decimal.Decimal) decimal.Decimal {
	return decimal.Max(gross.Mul(costs.CommissionRate), costs.MinCommission)
}

// StampDuty is charged on SELL only.
func StampDuty(costs domain.CostModel, side domain.Side, gross decimal.Decimal) decimal.Decimal {
	if side != domain.SideSell {
		return decimal.Zero
	}
	return gross.Mul(costs.StampDutyRate)
}

// BuyCost is the cash a BUY of qty at ref would consume after slippage and commission.
func BuyCost(costs domain.CostModel, qty int64, ref decimal.Decimal) decimal.Decimal {
	gross := EffectivePrice(costs, domain.SideBuy, ref).Mul(decimal.NewFromInt(qty))
	return gross.Add(Commission(costs, gross))
}

// MaxAffordableQty returns the largest lot multiple whose BuyCost fits in budget.
func MaxAffordableQty(costs domain.CostModel, budget, ref decimal.Decimal) int64 {
	if !budget.IsPositive() || !ref.IsPositive() || costs.LotSize <= 0 {
		return 0
	}
	unit := EffectivePrice(costs, domain.SideBuy, ref).Mul(one.Add(costs.CommissionRate))
	lots := budget.Div(unit).Div(decimal.NewFromInt(costs.LotSize)).Floor().IntPart()
	qty := lots * costs.LotSize
	for qty > 0 && BuyCost(costs, qty, ref).GreaterThan(budget) {
		qty -= costs.LotSize
	}
	return qty
}
