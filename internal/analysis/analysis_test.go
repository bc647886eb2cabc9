package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"simtrader/internal/domain"
)

func curveOf(values ...int64) []domain.EquityPoint {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	curve := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		curve[i] = domain.EquityPoint{Date: start.AddDate(0, 0, i), Equity: decimal.NewFromInt(v)}
	}
	return curve
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name  string
		curve []domain.EquityPoint
		want  float64
	}{
		{"peak to trough", curveOf(100, 110, 90, 95, 120), 20.0 / 110.0},
		{"monotonic up", curveOf(100, 101, 102), 0},
		{"empty", nil, 0},
		{"later deeper drop", curveOf(100, 80, 150, 90), 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MaxDrawdown(tt.curve), 1e-9)
		})
	}
}

func TestSharpeRatio_ConstantCurve(t *testing.T) {
	assert.Equal(t, 0.0, SharpeRatio(curveOf(100, 100, 100, 100)))
	assert.Equal(t, 0.0, SharpeRatio(curveOf(100)))
	assert.Equal(t, 0.0, SharpeRatio(nil))
}

func TestSharpeRatio(t *testing.T) {
	// returns +10%, -10%: mean 0
	assert.InDelta(t, 0, SharpeRatio(curveOf(100, 110, 99)), 1e-9)

	// returns 0.1, 0: mean 0.05, population stddev 0.05
	got := SharpeRatio(curveOf(100, 110, 110))
	assert.InDelta(t, math.Sqrt(252), got, 1e-9)
}

func TestAnnualReturn(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []domain.EquityPoint{
		{Date: start, Equity: decimal.NewFromInt(100)},
		{Date: start.AddDate(0, 0, 730), Equity: decimal.NewFromInt(121)},
	}
	assert.InDelta(t, 0.1, AnnualReturn(0.21, curve), 1e-9)

	sameDay := []domain.EquityPoint{{Date: start, Equity: decimal.NewFromInt(100)}, {Date: start, Equity: decimal.NewFromInt(120)}}
	assert.Equal(t, 0.0, AnnualReturn(0.2, sameDay))
}

func TestAnalyze(t *testing.T) {
	trades := []domain.Trade{
		{PnL: decimal.NewFromInt(10)},
		{PnL: decimal.NewFromInt(-5)},
		{PnL: decimal.Zero},
		{PnL: decimal.NewFromInt(3)},
	}
	m := Analyze(decimal.NewFromInt(100), curveOf(100, 110, 90, 95, 120), trades)
	assert.True(t, m.FinalEquity.Equal(decimal.NewFromInt(120)))
	assert.InDelta(t, 0.2, m.TotalReturnPct, 1e-12)
	assert.InDelta(t, 0.5, m.WinRate, 1e-12)
	assert.Equal(t, 4, m.NumTrades)
	assert.Greater(t, m.AnnualReturnPct, m.TotalReturnPct)
}

func TestAnalyze_NoActivity(t *testing.T) {
	m := Analyze(decimal.NewFromInt(1000000), curveOf(1000000, 1000000, 1000000), nil)
	assert.Equal(t, 0.0, m.TotalReturnPct)
	assert.Equal(t, 0.0, m.SharpeRatio)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 0.0, m.WinRate)
	assert.Equal(t, 0, m.NumTrades)
}
