package strategy

import (
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// noop never trades.
type noop struct{ sizing }

func newNoop(params map[string]any) (Strategy, error) {
	s, err := parseSizing(params)
	if err != nil {
		return nil, err
	}
	return &noop{s}, nil
}

func (n *noop) Name() string { return "noop" }

func (n *noop) GenerateSignals([]string, MarketData) []domain.Signal { return nil }

func (n *noop) ShouldEnter(string, decimal.Decimal, Context) (bool, float64) { return false, 0 }

func (n *noop) ShouldExit(domain.Position, decimal.Decimal, Context) (bool, domain.ExitReason) {
	return false, ""
}

// buyHold enters every symbol it sees once and only leaves through its
// stop-loss or take-profit levels.
type buyHold struct{ sizing }

func newBuyHold(params map[string]any) (Strategy, error) {
	s, err := parseSizing(params)
	if err != nil {
		return nil, err
	}
	return &buyHold{s}, nil
}

func (b *buyHold) Name() string { return "buy_hold" }

func (b *buyHold) GenerateSignals(symbols []string, data MarketData) []domain.Signal {
	var signals []domain.Signal
	for _, sym := range symbols {
		price, ok := lastClose(data[sym])
		if !ok {
			continue
		}
		sl, tp := b.riskLevels(price)
		signals = append(signals, domain.Signal{
			Symbol:     sym,
			Side:       domain.SideBuy,
			Confidence: 1,
			Reason:     "buy and hold",
			StopLoss:   sl,
			TakeProfit: tp,
		})
	}
	return signals
}

func (b *buyHold) ShouldEnter(_ string, price decimal.Decimal, _ Context) (bool, float64) {
	return price.IsPositive(), 1
}

func (b *buyHold) ShouldExit(domain.Position, decimal.Decimal, Context) (bool, domain.ExitReason) {
	return false, ""
}
