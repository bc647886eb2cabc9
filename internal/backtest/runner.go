// Package backtest replays historical daily bars through a strategy, the
// execution engine and a private ledger, one trading date at a time.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"simtrader/internal/analysis"
	"simtrader/internal/domain"
	"simtrader/internal/execution"
	"simtrader/internal/ledger"
	"simtrader/internal/strategy"
)

// ErrNoData is returned when none of the configured symbols has a bar in range.
var ErrNoData = errors.New("no bar data for any symbol in range")

// Options tune data loading.
type Options struct {
	FetchTimeout  time.Duration
	FetchParallel int
}

// DefaultOptions returns the runner defaults.
func DefaultOptions() Options {
	return Options{FetchTimeout: 30 * time.Second, FetchParallel: 4}
}

// Runner executes backtests. It holds no per-run state and may run many
// backtests concurrently.
type Runner struct {
	source BarSource
	opts   Options
	logger zerolog.Logger
}

// NewRunner creates a runner reading bars from source.
func NewRunner(source BarSource, opts Options) *Runner {
	if opts.FetchParallel <= 0 {
		opts.FetchParallel = DefaultOptions().FetchParallel
	}
	return &Runner{
		source: source,
		opts:   opts,
		logger: log.With().Str("component", "backtest").Logger(),
	}
}

// Run executes one backtest. The returned result is never nil: a FAILED
// result carries the error message and, for ledger invariant violations, the
// recent ledger mutations. The error is non-nil exactly when the run failed.
func (r *Runner) Run(ctx context.Context, cfg domain.BacktestConfig, strat strategy.Strategy) (*domain.BacktestResult, error) {
	res := &domain.BacktestResult{
		RunID:          uuid.NewString(),
		Name:           cfg.Name,
		Strategy:       strat.Name(),
		Status:         domain.RunInitialized,
		StartDate:      domain.DateOf(cfg.StartDate),
		EndDate:        domain.DateOf(cfg.EndDate),
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    cfg.InitialCapital,
		CreatedAt:      time.Now().UTC(),
	}
	if err := cfg.Validate(); err != nil {
		return fail(res, fmt.Errorf("invalid config: %w", err))
	}

	logger := r.logger.With().Str("run_id", res.RunID).Str("strategy", strat.Name()).Logger()
	res.Status = domain.RunRunning
	logger.Info().
		Time("start", res.StartDate).
		Time("end", res.EndDate).
		Int("symbols", len(cfg.Symbols)).
		Msg("backtest started")

	series, err := r.fetchAll(ctx, cfg.Symbols, res.StartDate, res.EndDate)
	if err != nil {
		return fail(res, err)
	}
	dates := tradingDates(series)
	if len(dates) == 0 {
		return fail(res, ErrNoData)
	}

	s := newSession(cfg, strat, series, logger)
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			s.finish(res)
			return fail(res, fmt.Errorf("cancelled before %s: %w", date.Format("2006-01-02"), err))
		}
		if err := s.step(date); err != nil {
			s.finish(res)
			var inv *ledger.InvariantError
			if errors.As(err, &inv) {
				res.Diagnostics = inv.Recent
				logger.Error().Err(err).Interface("recent", inv.Recent).Msg("ledger invariant violated")
			}
			return fail(res, err)
		}
	}

	s.finish(res)
	res.Status = domain.RunCompleted
	logger.Info().
		Str("final_equity", res.FinalEquity.StringFixed(2)).
		Int("trades", res.NumTrades).
		Int("rejected", res.RejectedOrders).
		Int("skipped_bars", res.SkippedBars).
		Msg("backtest completed")
	return res, nil
}

func fail(res *domain.BacktestResult, err error) (*domain.BacktestResult, error) {
	res.Status = domain.RunFailed
	res.Error = err.Error()
	return res, err
}

// session is the state of one run: a private ledger and engine plus cursors
// into each symbol's bar series.
type session struct {
	cfg    domain.BacktestConfig
	strat  strategy.Strategy
	ledger *ledger.Ledger
	engine *execution.Engine
	logger zerolog.Logger

	symbols []string
	series  map[string][]domain.Bar
	cursor  map[string]int

	days     int
	skipped  int
	rejected int
}

func newSession(cfg domain.BacktestConfig, strat strategy.Strategy, series map[string][]domain.Bar, logger zerolog.Logger) *session {
	l := ledger.New(cfg.InitialCapital)
	symbols := append([]string(nil), cfg.Symbols...)
	sort.Strings(symbols)
	return &session{
		cfg:     cfg,
		strat:   strat,
		ledger:  l,
		engine:  execution.NewEngine(l, cfg.CostModel),
		logger:  logger,
		symbols: symbols,
		series:  series,
		cursor:  make(map[string]int, len(symbols)),
	}
}

// step processes one trading date: mark, risk exits, strategy exits, entries,
// snapshot. Only a ledger invariant violation is returned.
func (s *session) step(date time.Time) error {
	s.days++
	s.engine.SetClock(func() time.Time { return date })

	prices := s.advance(date)
	s.ledger.MarkToMarket(prices, date)

	if err := s.riskExits(prices); err != nil {
		return err
	}
	if err := s.strategyExits(date, prices); err != nil {
		return err
	}
	if err := s.entries(date, prices); err != nil {
		return err
	}
	// fills mark the traded symbol at its fill price; snapshot at the close
	s.ledger.MarkToMarket(prices, date)
	if _, err := s.ledger.RecordEquity(date); err != nil {
		return fmt.Errorf("record equity: %w", err)
	}
	return nil
}

// advance moves every cursor past date and returns the closes of symbols
// with a bar on date. Symbols without one are counted as skipped.
func (s *session) advance(date time.Time) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(s.symbols))
	for _, sym := range s.symbols {
		bars := s.series[sym]
		i := s.cursor[sym]
		for i < len(bars) && !bars[i].Date.After(date) {
			i++
		}
		s.cursor[sym] = i
		if i > 0 && bars[i-1].Date.Equal(date) {
			prices[sym] = bars[i-1].Close
			continue
		}
		s.skipped++
		if s.ledger.HeldQuantity(sym) > 0 {
			s.logger.Warn().Str("symbol", sym).Time("date", date).Msg("no bar for held symbol, mark skipped")
		}
	}
	return prices
}

func (s *session) history(symbol string) []domain.Bar {
	return s.series[symbol][:s.cursor[symbol]]
}

func (s *session) riskExits(prices map[string]decimal.Decimal) error {
	for _, x := range execution.RiskExits(s.ledger.Positions(), prices) {
		if err := s.execute(x.Order(s.strat.Name(), s.engine.Now()), x.Price); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) strategyExits(date time.Time, prices map[string]decimal.Decimal) error {
	for _, pos := range s.ledger.Positions() {
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		exit, reason := s.strat.ShouldExit(pos, price, strategy.Context{Date: date, Bars: s.history(pos.Symbol)})
		if !exit {
			continue
		}
		if !domain.ValidExitReason(reason) {
			reason = domain.ExitStrategy
		}
		if err := s.close(pos, price, reason, "strategy exit"); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) entries(date time.Time, prices map[string]decimal.Decimal) error {
	maxPositions := s.strat.MaxPositions()
	if s.ledger.NumPositions() >= maxPositions {
		return nil
	}

	var eligible []string
	data := make(strategy.MarketData, len(prices))
	for _, sym := range s.symbols {
		if _, ok := prices[sym]; !ok || s.ledger.HeldQuantity(sym) > 0 {
			continue
		}
		eligible = append(eligible, sym)
		data[sym] = s.history(sym)
	}
	if len(eligible) == 0 {
		return nil
	}

	var signals []domain.Signal
	for _, sig := range s.strat.GenerateSignals(eligible, data) {
		if sig.Side != domain.SideBuy {
			continue
		}
		price, ok := prices[sig.Symbol]
		if !ok || s.ledger.HeldQuantity(sig.Symbol) > 0 {
			continue
		}
		enter, confidence := s.strat.ShouldEnter(sig.Symbol, price, strategy.Context{Date: date, Bars: data[sig.Symbol]})
		if !enter {
			continue
		}
		sig.Confidence = confidence
		signals = append(signals, sig)
	}
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Confidence != signals[j].Confidence {
			return signals[i].Confidence > signals[j].Confidence
		}
		return signals[i].Symbol < signals[j].Symbol
	})

	entered := make(map[string]bool)
	for _, sig := range signals {
		if s.ledger.NumPositions() >= maxPositions {
			break
		}
		if entered[sig.Symbol] {
			continue
		}
		entered[sig.Symbol] = true
		if err := s.open(sig, prices[sig.Symbol]); err != nil {
			return err
		}
	}
	return nil
}

// open sizes and submits a BUY for sig. Rejections are counted, not returned.
func (s *session) open(sig domain.Signal, price decimal.Decimal) error {
	budget := s.ledger.Equity().Mul(s.strat.PositionSizePct())
	if cash := s.ledger.Cash(); cash.LessThan(budget) {
		budget = cash
	}
	qty := execution.MaxAffordableQty(s.cfg.CostModel, budget, price)
	if qty == 0 {
		s.logger.Debug().Str("symbol", sig.Symbol).Str("budget", budget.StringFixed(2)).Msg("entry too small for one lot")
		return nil
	}

	order := domain.NewOrder(sig.Symbol, domain.SideBuy, domain.OrderTypeMarket, qty, s.engine.Now())
	order.StrategyName = s.strat.Name()
	order.Reasoning = sig.Reason
	order.StopLoss = sig.StopLoss
	order.TakeProfit = sig.TakeProfit
	return s.execute(order, price)
}

// close sells the whole position at ref with the given exit reason.
func (s *session) close(pos domain.Position, ref decimal.Decimal, reason domain.ExitReason, why string) error {
	order := domain.NewOrder(pos.Symbol, domain.SideSell, domain.OrderTypeMarket, pos.Quantity, s.engine.Now())
	order.StrategyName = s.strat.Name()
	order.Reasoning = why
	order.ExitReason = reason
	return s.execute(order, ref)
}

func (s *session) execute(order *domain.Order, ref decimal.Decimal) error {
	if _, err := s.engine.SubmitOrder(order, ref); err != nil {
		return s.rejectedOrFatal(order, err)
	}
	if _, err := s.engine.ExecuteMarketOrder(order, ref); err != nil {
		return s.rejectedOrFatal(order, err)
	}
	return nil
}

func (s *session) rejectedOrFatal(order *domain.Order, err error) error {
	if _, ok := domain.RejectReasonOf(err); ok {
		s.rejected++
		s.logger.Info().Err(err).
			Str("symbol", order.Symbol).
			Str("side", string(order.Side)).
			Int64("quantity", order.Quantity).
			Msg("order rejected")
		return nil
	}
	return err
}

// finish copies the session outcome and metrics into res.
func (s *session) finish(res *domain.BacktestResult) {
	curve := s.ledger.EquityCurve()
	trades := s.ledger.Trades()
	m := analysis.Analyze(s.cfg.InitialCapital, curve, trades)

	res.FinalEquity = m.FinalEquity
	res.TotalReturnPct = m.TotalReturnPct
	res.AnnualReturnPct = m.AnnualReturnPct
	res.SharpeRatio = m.SharpeRatio
	res.MaxDrawdown = m.MaxDrawdown
	res.WinRate = m.WinRate
	res.NumTrades = m.NumTrades
	res.TradingDays = s.days
	res.RejectedOrders = s.rejected
	res.SkippedBars = s.skipped
	res.EquityCurve = curve
	res.Trades = trades
}
