// Package strategy defines the signal capability consumed by the backtest
// runner and the concrete strategies selectable by name.
package strategy

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// MarketData holds, per symbol, the bars up to and including the current date,
// sorted ascending.
type MarketData map[string][]domain.Bar

// Context is what a strategy may look at when deciding on one symbol.
type Context struct {
	Date time.Time
	Bars []domain.Bar
}

// Strategy turns market data into entry and exit intents. Implementations
// must be deterministic for a given input and must not retain the slices
// they are handed.
type Strategy interface {
	Name() string
	GenerateSignals(symbols []string, data MarketData) []domain.Signal
	ShouldEnter(symbol string, price decimal.Decimal, ctx Context) (bool, float64)
	ShouldExit(position domain.Position, price decimal.Decimal, ctx Context) (bool, domain.ExitReason)
	MaxPositions() int
	PositionSizePct() decimal.Decimal
}

// Factory builds a strategy from its run parameters.
type Factory func(params map[string]any) (Strategy, error)

var registry = map[string]Factory{
	"noop":         newNoop,
	"buy_hold":     newBuyHold,
	"ma_crossover": newMACrossover,
}

// New returns the strategy registered under name.
func New(name string, params map[string]any) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	s, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", name, err)
	}
	return s, nil
}

// Names lists the registered strategies.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// sizing holds the parameters every strategy shares.
type sizing struct {
	maxPositions  int
	sizePct       decimal.Decimal
	stopLossPct   decimal.Decimal
	takeProfitPct decimal.Decimal
}

func parseSizing(params map[string]any) (sizing, error) {
	s := sizing{maxPositions: 5, sizePct: decimal.NewFromFloat(0.2)}
	var err error
	if s.maxPositions, err = intParam(params, "max_positions", s.maxPositions); err != nil {
		return s, err
	}
	if s.sizePct, err = decimalParam(params, "position_size_pct", s.sizePct); err != nil {
		return s, err
	}
	if s.stopLossPct, err = decimalParam(params, "stop_loss_pct", decimal.Zero); err != nil {
		return s, err
	}
	if s.takeProfitPct, err = decimalParam(params, "take_profit_pct", decimal.Zero); err != nil {
		return s, err
	}
	if s.maxPositions <= 0 {
		return s, fmt.Errorf("max_positions must be positive")
	}
	if !s.sizePct.IsPositive() || s.sizePct.GreaterThan(decimal.NewFromInt(1)) {
		return s, fmt.Errorf("position_size_pct must be in (0, 1]")
	}
	return s, nil
}

func (s sizing) MaxPositions() int                { return s.maxPositions }
func (s sizing) PositionSizePct() decimal.Decimal { return s.sizePct }

// riskLevels derives stop-loss and take-profit prices for an entry at price.
func (s sizing) riskLevels(price decimal.Decimal) (stopLoss, takeProfit *decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if s.stopLossPct.IsPositive() {
		sl := price.Mul(one.Sub(s.stopLossPct))
		stopLoss = &sl
	}
	if s.takeProfitPct.IsPositive() {
		tp := price.Mul(one.Add(s.takeProfitPct))
		takeProfit = &tp
	}
	return stopLoss, takeProfit
}

func lastClose(bars []domain.Bar) (decimal.Decimal, bool) {
	if len(bars) == 0 {
		return decimal.Zero, false
	}
	return bars[len(bars)-1].Close, true
}

func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return def, fmt.Errorf("param %s: %w", key, err)
		}
		return i, nil
	}
	return def, fmt.Errorf("param %s: unsupported type %T", key, v)
}

func decimalParam(params map[string]any, key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return def, fmt.Errorf("param %s: %w", key, err)
		}
		return d, nil
	}
	return def, fmt.Errorf("param %s: unsupported type %T", key, v)
}
