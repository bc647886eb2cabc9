package strategy

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// maCrossover enters when the fast SMA crosses above the slow SMA and exits
// on the opposite cross or after max_holding_days.
type maCrossover struct {
	sizing
	fast, slow     int
	maxHoldingDays int
}

func newMACrossover(params map[string]any) (Strategy, error) {
	s, err := parseSizing(params)
	if err != nil {
		return nil, err
	}
	m := &maCrossover{sizing: s}
	if m.fast, err = intParam(params, "fast", 5); err != nil {
		return nil, err
	}
	if m.slow, err = intParam(params, "slow", 20); err != nil {
		return nil, err
	}
	if m.maxHoldingDays, err = intParam(params, "max_holding_days", 0); err != nil {
		return nil, err
	}
	if m.fast < 2 || m.slow <= m.fast {
		return nil, fmt.Errorf("need 2 <= fast < slow, got fast=%d slow=%d", m.fast, m.slow)
	}
	return m, nil
}

func (m *maCrossover) Name() string { return "ma_crossover" }

func (m *maCrossover) GenerateSignals(symbols []string, data MarketData) []domain.Signal {
	var signals []domain.Signal
	for _, sym := range symbols {
		bars := data[sym]
		price, ok := lastClose(bars)
		if !ok {
			continue
		}
		enter, confidence := m.ShouldEnter(sym, price, Context{Date: bars[len(bars)-1].Date, Bars: bars})
		if !enter {
			continue
		}
		sl, tp := m.riskLevels(price)
		signals = append(signals, domain.Signal{
			Symbol:     sym,
			Side:       domain.SideBuy,
			Confidence: confidence,
			Reason:     fmt.Sprintf("SMA%d crossed above SMA%d", m.fast, m.slow),
			StopLoss:   sl,
			TakeProfit: tp,
		})
	}
	return signals
}

func (m *maCrossover) ShouldEnter(_ string, _ decimal.Decimal, ctx Context) (bool, float64) {
	prevFast, prevSlow, fast, slow, ok := m.averages(ctx.Bars)
	if !ok || prevFast > prevSlow || fast <= slow {
		return false, 0
	}
	// confidence grows with the spread, saturating at 5%
	return true, math.Min(1, (fast-slow)/slow*20)
}

func (m *maCrossover) ShouldExit(position domain.Position, _ decimal.Decimal, ctx Context) (bool, domain.ExitReason) {
	if m.maxHoldingDays > 0 && !position.EntryDate.IsZero() {
		held := int(ctx.Date.Sub(domain.DateOf(position.EntryDate)).Hours() / 24)
		if held >= m.maxHoldingDays {
			return true, domain.ExitMaxHoldingPeriod
		}
	}
	prevFast, prevSlow, fast, slow, ok := m.averages(ctx.Bars)
	if ok && prevFast >= prevSlow && fast < slow {
		return true, domain.ExitStrategy
	}
	return false, ""
}

// averages returns the fast and slow SMA on the last two bars.
func (m *maCrossover) averages(bars []domain.Bar) (prevFast, prevSlow, fast, slow float64, ok bool) {
	if len(bars) < m.slow+1 {
		return 0, 0, 0, 0, false
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}
	fastArr := talib.Sma(closes, m.fast)
	slowArr := talib.Sma(closes, m.slow)
	n := len(closes)
	return fastArr[n-2], slowArr[n-2], fastArr[n-1], slowArr[n-1], true
}
