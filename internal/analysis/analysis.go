// Package analysis reduces an equity curve and trade list to summary metrics.
package analysis

import (
	"math"

	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// TradingDaysPerYear annualizes the daily Sharpe ratio.
const TradingDaysPerYear = 252

// Metrics are the performance figures of one run. Percentages are fractions
// (0.1 means 10%).
type Metrics struct {
	FinalEquity     decimal.Decimal
	TotalReturnPct  float64
	AnnualReturnPct float64
	SharpeRatio     float64
	MaxDrawdown     float64
	WinRate         float64
	NumTrades       int
}

// Analyze computes metrics for a run that started with initialCapital. The
// curve must be date-ordered; an empty curve means final equity equals the
// initial capital.
func Analyze(initialCapital decimal.Decimal, curve []domain.EquityPoint, trades []domain.Trade) Metrics {
	m := Metrics{FinalEquity: initialCapital, NumTrades: len(trades)}
	if len(curve) > 0 {
		m.FinalEquity = curve[len(curve)-1].Equity
	}
	if initialCapital.IsPositive() {
		m.TotalReturnPct = m.FinalEquity.Sub(initialCapital).Div(initialCapital).InexactFloat64()
	}
	m.AnnualReturnPct = AnnualReturn(m.TotalReturnPct, curve)
	m.SharpeRatio = SharpeRatio(curve)
	m.MaxDrawdown = MaxDrawdown(curve)
	m.WinRate = WinRate(trades)
	return m
}

// AnnualReturn compounds totalReturn over the curve's elapsed calendar years.
// Same-day curves return 0.
func AnnualReturn(totalReturn float64, curve []domain.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	days := curve[len(curve)-1].Date.Sub(curve[0].Date).Hours() / 24
	years := days / 365
	if years <= 0 || totalReturn <= -1 {
		return 0
	}
	return math.Pow(1+totalReturn, 1/years) - 1
}

// SharpeRatio is mean(daily return) / stddev(daily return) × sqrt(252), with
// population standard deviation and no risk-free rate. Zero variance yields 0.
func SharpeRatio(curve []domain.EquityPoint) float64 {
	returns := DailyReturns(curve)
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return 0
	}
	return mean / stdDev * math.Sqrt(TradingDaysPerYear)
}

// DailyReturns returns (e[i] − e[i−1]) / e[i−1] for consecutive curve points.
func DailyReturns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if !prev.IsPositive() {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, curve[i].Equity.Sub(prev).Div(prev).InexactFloat64())
	}
	return returns
}

// MaxDrawdown scans the curve keeping a running peak and returns the largest
// (peak − equity) / peak observed.
func MaxDrawdown(curve []domain.EquityPoint) float64 {
	var peak decimal.Decimal
	maxDD := decimal.Zero
	for i, p := range curve {
		if i == 0 || p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if !peak.IsPositive() {
			continue
		}
		if dd := peak.Sub(p.Equity).Div(peak); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD.InexactFloat64()
}

// WinRate is the share of trades with positive P&L, 0 without trades.
func WinRate(trades []domain.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL.IsPositive() {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}
