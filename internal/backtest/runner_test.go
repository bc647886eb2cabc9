package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simtrader/internal/domain"
	"simtrader/internal/ledger"
	"simtrader/internal/strategy"
)

type fakeSource struct {
	bars  map[string][]domain.Bar
	delay map[string]time.Duration
	err   map[string]error
}

func (f *fakeSource) GetDailyBars(ctx context.Context, symbol string, _, _ time.Time) ([]domain.Bar, error) {
	if d := f.delay[symbol]; d > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.err[symbol]; err != nil {
		return nil, err
	}
	return f.bars[symbol], nil
}

func day(n int) time.Time {
	return time.Date(2024, 1, 1+n, 0, 0, 0, 0, time.UTC)
}

// series builds bars on consecutive days starting at day(1).
func series(symbol string, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = bar(symbol, i+1, c)
	}
	return bars
}

func bar(symbol string, n int, price float64) domain.Bar {
	p := decimal.NewFromFloat(price)
	return domain.Bar{Symbol: symbol, Date: day(n), Open: p, High: p, Low: p, Close: p, Volume: 1000}
}

func freeCosts() domain.CostModel {
	return domain.CostModel{SlippagePolicy: domain.SlippageSymmetric, LotSize: 100}
}

func config(symbols ...string) domain.BacktestConfig {
	return domain.BacktestConfig{
		StartDate:      day(0),
		EndDate:        day(30),
		InitialCapital: decimal.NewFromInt(100000),
		Symbols:        symbols,
		CostModel:      freeCosts(),
	}
}

func mustStrategy(t *testing.T, name string, params map[string]any) strategy.Strategy {
	t.Helper()
	s, err := strategy.New(name, params)
	require.NoError(t, err)
	return s
}

func TestRun_FlatMarketNoSignals(t *testing.T) {
	src := &fakeSource{bars: map[string][]domain.Bar{
		"A": series("A", 10, 11, 9, 12),
		"B": series("B", 5, 5, 6, 4),
	}}
	cfg := config("A", "B")
	cfg.CostModel = domain.DefaultCostModel()

	res, err := NewRunner(src, DefaultOptions()).Run(context.Background(), cfg, mustStrategy(t, "noop", nil))
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 0, res.NumTrades)
	assert.Equal(t, 0.0, res.TotalReturnPct)
	assert.Equal(t, 0.0, res.MaxDrawdown)
	assert.Equal(t, 0.0, res.SharpeRatio)
	assert.Equal(t, 4, res.TradingDays)
	assert.Len(t, res.EquityCurve, 4)
	assert.True(t, res.FinalEquity.Equal(decimal.NewFromInt(100000)))
}

func TestRun_TradingDatesAreUnionOfSeries(t *testing.T) {
	src := &fakeSource{bars: map[string][]domain.Bar{
		"A": {bar("A", 1, 10), bar("A", 2, 10), bar("A", 4, 10)},
		"B": {bar("B", 1, 10), bar("B", 3, 10)},
	}}
	res, err := NewRunner(src, DefaultOptions()).Run(context.Background(), config("A", "B"), mustStrategy(t, "noop", nil))
	require.NoError(t, err)

	assert.Equal(t, 4, res.TradingDays)
	assert.Equal(t, 3, res.SkippedBars)
	for i := 1; i < len(res.EquityCurve); i++ {
		assert.True(t, res.EquityCurve[i].Date.After(res.EquityCurve[i-1].Date))
	}
}

func TestRun_StopLossBeforeEntries(t *testing.T) {
	src := &fakeSource{bars: map[string][]domain.Bar{"A": series("A", 10, 8.5)}}
	strat := mustStrategy(t, "buy_hold", map[string]any{"position_size_pct": 1.0, "stop_loss_pct": 0.1})

	res, err := NewRunner(src, DefaultOptions()).Run(context.Background(), config("A"), strat)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, domain.ExitStopLoss, tr.ExitReason)
	assert.True(t, tr.ExitPrice.Equal(decimal.NewFromInt(9)), "exit price = %s", tr.ExitPrice)
	assert.Equal(t, int64(10000), tr.Quantity)
	assert.True(t, tr.PnL.Equal(decimal.NewFromInt(-10000)))

	// re-entered at 8.5 on the same date after the exit: 10500 shares, 750 cash
	assert.True(t, res.FinalEquity.Equal(decimal.NewFromInt(90000)), "final equity = %s", res.FinalEquity)
	assert.Equal(t, 0.0, res.WinRate)
}

func TestRun_TakeProfit(t *testing.T) {
	src := &fakeSource{bars: map[string][]domain.Bar{"A": series("A", 10, 13)}}
	strat := mustStrategy(t, "buy_hold", map[string]any{
		"position_size_pct": 1.0, "take_profit_pct": 0.2, "max_positions": 1,
	})

	res, err := NewRunner(src, DefaultOptions()).Run(context.Background(), config("A"), strat)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.ExitTakeProfit, res.Trades[0].ExitReason)
	assert.True(t, res.Trades[0].ExitPrice.Equal(decimal.NewFromInt(12)))
	assert.True(t, res.Trades[0].PnL.Equal(decimal.NewFromInt(20000)))
	assert.Equal(t, 1.0, res.WinRate)
}

func TestRun_EntryTieBreakBySymbol(t *testing.T) {
	src := &fakeSource{bars: map[string][]domain.Bar{
		"B": series("B", 10, 10),
		"A": series("A", 10, 20),
	}}
	strat := mustStrategy(t, "buy_hold", map[string]any{"position_size_pct": 1.0, "max_positions": 1})

	res, err := NewRunner(src, DefaultOptions()).Run(context.Background(), config("B", "A"), strat)
	require.NoError(t, err)

	// equal confidence: A wins the only slot and doubles
	assert.True(t, res.FinalEquity.Equal(decimal.NewFromInt(200000)), "final equity = %s", res.FinalEquity)
	assert.InDelta(t, 1.0, res.TotalReturnPct, 1e-12)
}

func TestRun_FetchTimeoutSkipsSymbol(t *testing.T) {
	src := &fakeSource{
		bars: map[string][]domain.Bar{
			"A":    series("A", 10, 10, 10),
			"SLOW": series("SLOW", 10, 10, 10),
		},
		delay: map[string]time.Duration{"SLOW": 2 * time.Second},
	}
	runner := NewRunner(src, Options{FetchTimeout: 20 * time.Millisecond, FetchParallel: 2})

	res, err := runner.Run(context.Background(), config("A", "SLOW"), mustStrategy(t, "noop", nil))
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 3, res.TradingDays)
	assert.Equal(t, 3, res.SkippedBars)
}

func TestRun_FailsWithoutData(t *testing.T) {
	src := &fakeSource{err: map[string]error{"A": errors.New("feed down")}}

	res, err := NewRunner(src, DefaultOptions()).Run(context.Background(), config("A"), mustStrategy(t, "noop", nil))
	require.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, domain.RunFailed, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestRun_Cancelled(t *testing.T) {
	src := &fakeSource{bars: map[string][]domain.Bar{"A": series("A", 10, 10)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(src, DefaultOptions()).Run(ctx, config("A"), mustStrategy(t, "noop", nil))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.RunFailed, res.Status)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := config()
	res, err := NewRunner(&fakeSource{}, DefaultOptions()).Run(context.Background(), cfg, mustStrategy(t, "noop", nil))
	require.Error(t, err)
	assert.Equal(t, domain.RunFailed, res.Status)
}

func TestRunMany(t *testing.T) {
	src := &fakeSource{bars: map[string][]domain.Bar{
		"A": series("A", 10, 20),
		"B": series("B", 10, 5),
	}}
	buyAll := map[string]any{"position_size_pct": 1.0, "max_positions": 1}
	jobs := []Job{
		{Config: config("A"), Strategy: mustStrategy(t, "buy_hold", buyAll)},
		{Config: config(), Strategy: mustStrategy(t, "noop", nil)},
		{Config: config("B"), Strategy: mustStrategy(t, "buy_hold", buyAll)},
	}

	out := NewRunner(src, DefaultOptions()).RunMany(context.Background(), jobs, 2)
	require.Len(t, out, 3)

	require.NoError(t, out[0].Err)
	assert.True(t, out[0].Result.FinalEquity.Equal(decimal.NewFromInt(200000)))

	require.Error(t, out[1].Err)
	assert.Equal(t, domain.RunFailed, out[1].Result.Status)

	require.NoError(t, out[2].Err)
	assert.True(t, out[2].Result.FinalEquity.Equal(decimal.NewFromInt(50000)))
	assert.InDelta(t, 0.5, out[2].Result.MaxDrawdown, 1e-12)
}

// brokenLedgerExit holds like buy_hold and drops the equity tolerance below
// zero right before its exit on breakOn, so the exit fill cannot pass the
// conservation check.
type brokenLedgerExit struct {
	strategy.Strategy
	breakOn time.Time
}

func (b brokenLedgerExit) ShouldExit(pos domain.Position, _ decimal.Decimal, ctx strategy.Context) (bool, domain.ExitReason) {
	if !ctx.Date.Equal(b.breakOn) {
		return false, ""
	}
	ledger.Tolerance = decimal.NewFromInt(-1)
	return true, domain.ExitStrategy
}

func TestRun_InvariantViolationFails(t *testing.T) {
	saved := ledger.Tolerance
	t.Cleanup(func() { ledger.Tolerance = saved })

	src := &fakeSource{bars: map[string][]domain.Bar{"A": series("A", 10, 11, 12)}}
	strat := brokenLedgerExit{
		Strategy: mustStrategy(t, "buy_hold", map[string]any{"position_size_pct": 1.0}),
		breakOn:  day(2),
	}

	res, err := NewRunner(src, DefaultOptions()).Run(context.Background(), config("A"), strat)
	require.Error(t, err)

	var inv *ledger.InvariantError
	require.True(t, errors.As(err, &inv), "got %v", err)
	assert.Equal(t, domain.RunFailed, res.Status)
	assert.NotEmpty(t, res.Error)
	require.NotEmpty(t, res.Diagnostics)
	assert.Equal(t, "fill", res.Diagnostics[0].Kind, "the entry fill is the oldest journal entry")
	assert.Len(t, res.EquityCurve, 1, "only the day before the violation was recorded")
}
