// Package paper runs a live simulated account. One goroutine owns the ledger
// and execution engine; every read and write is a request to that goroutine.
// Quote fetches happen on the caller's goroutine before the request is sent.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
	"simtrader/internal/execution"
	"simtrader/internal/ledger"
)

var (
	// ErrClosed is returned by requests made after Close.
	ErrClosed = errors.New("paper account closed")
	// ErrNoQuote is returned when a MARKET order has no reference price.
	ErrNoQuote = errors.New("no quote for symbol")
)

// QuoteSource provides the latest price per symbol.
type QuoteSource interface {
	LatestCloses(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Store persists account snapshots and reads back equity history.
type Store interface {
	LoadSnapshot(ctx context.Context, accountID string) (*domain.Snapshot, error)
	SaveSnapshot(ctx context.Context, s domain.Snapshot) error
	EquityHistory(ctx context.Context, accountID string, days int) ([]domain.EquityPoint, error)
}

// Options configure an account.
type Options struct {
	AccountID    string
	InitialCash  decimal.Decimal
	Costs        domain.CostModel
	QuoteTimeout time.Duration
	Sink         EventSink
	// Now overrides the wall clock, mainly for tests.
	Now func() time.Time
}

// OrderRequest is the caller's order intent.
type OrderRequest struct {
	Symbol       string            `json:"symbol"`
	Side         domain.Side       `json:"side"`
	OrderType    domain.OrderType  `json:"order_type"`
	Quantity     int64             `json:"quantity"`
	LimitPrice   *decimal.Decimal  `json:"limit_price,omitempty"`
	StrategyName string            `json:"strategy_name,omitempty"`
	Reasoning    string            `json:"reasoning,omitempty"`
	ExitReason   domain.ExitReason `json:"exit_reason,omitempty"`
	StopLoss     *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal  `json:"take_profit,omitempty"`
}

type request struct {
	fn   func()
	done chan struct{}
}

// Account is the single-writer paper-trading account.
type Account struct {
	id     string
	quotes QuoteSource
	store  Store
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	// owned by the loop goroutine
	ledger *ledger.Ledger
	engine *execution.Engine
	halted error

	reqCh     chan request
	quit      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
	events    chan Event
	sinkDone  chan struct{}
}

// New restores the account from its latest snapshot (or starts it with
// InitialCash) and starts the owning goroutine.
func New(ctx context.Context, opts Options, quotes QuoteSource, store Store) (*Account, error) {
	if opts.AccountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if err := opts.Costs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cost model: %w", err)
	}
	logger := log.With().Str("component", "paper").Str("account_id", opts.AccountID).Logger()

	l := ledger.New(opts.InitialCash)
	if store != nil {
		snap, err := store.LoadSnapshot(ctx, opts.AccountID)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		if snap != nil {
			if l, err = ledger.FromSnapshot(*snap); err != nil {
				return nil, fmt.Errorf("restore snapshot: %w", err)
			}
			logger.Info().
				Str("cash", snap.Cash.StringFixed(2)).
				Int("positions", len(snap.Positions)).
				Time("saved_at", snap.SavedAt).
				Msg("account restored from snapshot")
		}
		history, err := store.EquityHistory(ctx, opts.AccountID, 0)
		if err != nil {
			return nil, fmt.Errorf("load equity history: %w", err)
		}
		if err := l.SeedEquity(history); err != nil {
			return nil, fmt.Errorf("seed equity history: %w", err)
		}
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &Account{
		id:       opts.AccountID,
		quotes:   quotes,
		store:    store,
		opts:     opts,
		logger:   logger,
		now:      opts.Now,
		ledger:   l,
		engine:   execution.NewEngine(l, opts.Costs),
		reqCh:    make(chan request),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		events:   make(chan Event, eventBuffer),
		sinkDone: make(chan struct{}),
	}
	a.engine.SetClock(a.now)
	go a.loop()
	go a.dispatch()
	return a, nil
}

// ID returns the account id.
func (a *Account) ID() string { return a.id }

// Close stops the owning goroutine and flushes pending events to the sink.
// Close is safe to call more than once and from several goroutines; every
// call returns after the flush.
func (a *Account) Close() {
	a.closeOnce.Do(func() {
		close(a.quit)
		<-a.loopDone
		close(a.events)
	})
	<-a.sinkDone
}

func (a *Account) loop() {
	defer close(a.loopDone)
	for {
		select {
		case req := <-a.reqCh:
			req.fn()
			close(req.done)
		case <-a.quit:
			return
		}
	}
}

// do runs fn on the owning goroutine. ctx bounds only the wait to be
// scheduled; once accepted, fn runs to completion.
func (a *Account) do(ctx context.Context, fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case a.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.quit:
		return ErrClosed
	}
	<-req.done
	return nil
}

// CreateOrder validates and submits an order. MARKET orders execute at once
// against the latest quote; LIMIT orders rest until a mark makes them
// marketable. A rejection returns the REJECTED order together with a
// *domain.RejectError.
func (a *Account) CreateOrder(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	ref, err := a.quote(ctx, req.Symbol)
	if err != nil && req.OrderType != domain.OrderTypeLimit {
		return nil, err
	}

	var out *domain.Order
	var opErr error
	err = a.do(ctx, func() {
		if a.halted != nil {
			opErr = fmt.Errorf("account halted: %w", a.halted)
			return
		}
		order := domain.NewOrder(req.Symbol, req.Side, req.OrderType, req.Quantity, a.now())
		order.LimitPrice = req.LimitPrice
		order.StrategyName = req.StrategyName
		order.Reasoning = req.Reasoning
		order.ExitReason = req.ExitReason
		order.StopLoss = req.StopLoss
		order.TakeProfit = req.TakeProfit

		if _, opErr = a.engine.SubmitOrder(order, ref); opErr != nil {
			a.emitOrder(order)
			out = order.Clone()
			return
		}
		a.emitOrder(order)

		switch {
		case order.OrderType == domain.OrderTypeMarket:
			var report *domain.FillReport
			report, opErr = a.engine.ExecuteMarketOrder(order, ref)
			a.afterFill(order, report, opErr)
		case ref.IsPositive():
			fills, merr := a.engine.MatchRestingOrders(map[string]decimal.Decimal{order.Symbol: ref})
			a.afterMatch(fills, merr)
			opErr = merr
		}
		out = order.Clone()
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

// CancelOrder cancels a PENDING or SUBMITTED order. Cancelling a cancelled
// order succeeds.
func (a *Account) CancelOrder(ctx context.Context, orderID string) error {
	var opErr error
	err := a.do(ctx, func() {
		before, ok := a.engine.Order(orderID)
		opErr = a.engine.CancelOrder(orderID)
		if opErr != nil || !ok || before.Status == domain.OrderStatusCancelled {
			return
		}
		if o, ok := a.engine.Order(orderID); ok {
			a.emitOrder(o)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Balance returns cash, market value and profit against the initial cash.
// Profit percentages are fractions.
func (a *Account) Balance(ctx context.Context) (domain.Balance, error) {
	var b domain.Balance
	err := a.do(ctx, func() {
		b.Cash = a.ledger.Cash()
		b.MarketValue = a.ledger.MarketValue()
		b.TotalAssets = a.ledger.Equity()
		b.Profit = b.TotalAssets.Sub(a.ledger.InitialCash())
		if a.ledger.InitialCash().IsPositive() {
			b.ProfitPct = b.Profit.Div(a.ledger.InitialCash())
		}
	})
	return b, err
}

// Positions returns the open positions ordered by symbol.
func (a *Account) Positions(ctx context.Context) ([]domain.PositionSummary, error) {
	var out []domain.PositionSummary
	err := a.do(ctx, func() {
		positions := a.ledger.Positions()
		out = make([]domain.PositionSummary, 0, len(positions))
		for i := range positions {
			out = append(out, positions[i].Summary())
		}
	})
	return out, err
}

// Orders returns every order seen since start, newest first.
func (a *Account) Orders(ctx context.Context) ([]*domain.Order, error) {
	var out []*domain.Order
	err := a.do(ctx, func() {
		out = a.engine.Orders()
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// EquityHistory returns the last days equity points; days <= 0 returns all.
func (a *Account) EquityHistory(ctx context.Context, days int) ([]domain.EquityPoint, error) {
	var out []domain.EquityPoint
	err := a.do(ctx, func() {
		out = a.ledger.EquityCurve()
	})
	if days > 0 && len(out) > days {
		out = out[len(out)-days:]
	}
	return out, err
}

// DailyPnL compares current equity to the last point recorded before today,
// or to the initial cash when there is none.
func (a *Account) DailyPnL(ctx context.Context) (domain.DailyPnL, error) {
	var d domain.DailyPnL
	err := a.do(ctx, func() {
		today := domain.DateOf(a.now())
		base := a.ledger.InitialCash()
		curve := a.ledger.EquityCurve()
		for i := len(curve) - 1; i >= 0; i-- {
			if curve[i].Date.Before(today) {
				base = curve[i].Equity
				break
			}
		}
		d.DailyPnL = a.ledger.Equity().Sub(base)
		if base.IsPositive() {
			d.DailyPnLPct = d.DailyPnL.Div(base)
		}
	})
	return d, err
}

// Snapshot returns the persisted form of the account.
func (a *Account) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var s domain.Snapshot
	err := a.do(ctx, func() {
		s = a.ledger.Snapshot(a.id, a.now().UTC())
	})
	return s, err
}

// Mark fetches quotes for held and resting symbols and marks positions. It
// then closes positions whose stop-loss or take-profit was reached, fills
// marketable LIMIT orders and records today's equity point.
func (a *Account) Mark(ctx context.Context) error {
	var symbols []string
	if err := a.do(ctx, func() { symbols = a.watchedSymbols() }); err != nil {
		return err
	}

	prices := map[string]decimal.Decimal{}
	if len(symbols) > 0 && a.quotes != nil {
		qctx, cancel := a.quoteContext(ctx)
		defer cancel()
		var err error
		if prices, err = a.quotes.LatestCloses(qctx, symbols); err != nil {
			return fmt.Errorf("fetch quotes: %w", err)
		}
		for _, sym := range symbols {
			if _, ok := prices[sym]; !ok {
				a.logger.Warn().Str("symbol", sym).Msg("no quote, mark skipped")
			}
		}
	}

	var opErr error
	err := a.do(ctx, func() {
		if a.halted != nil {
			opErr = fmt.Errorf("account halted: %w", a.halted)
			return
		}
		now := a.now()
		a.ledger.MarkToMarket(prices, now)
		if opErr = a.riskExits(prices); opErr != nil {
			return
		}
		fills, merr := a.engine.MatchRestingOrders(prices)
		a.afterMatch(fills, merr)
		if merr != nil {
			opErr = merr
			return
		}
		point, rerr := a.ledger.RecordEquity(now)
		if rerr != nil {
			opErr = fmt.Errorf("record equity: %w", rerr)
			return
		}
		a.emit(Event{Kind: EventEquity, Equity: &point})
	})
	if err != nil {
		return err
	}
	return opErr
}

// SaveSnapshot persists the current account state.
func (a *Account) SaveSnapshot(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := a.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// watchedSymbols runs on the loop goroutine.
func (a *Account) watchedSymbols() []string {
	seen := map[string]bool{}
	for _, p := range a.ledger.Positions() {
		seen[p.Symbol] = true
	}
	for _, o := range a.engine.Orders() {
		if o.Status == domain.OrderStatusSubmitted {
			seen[o.Symbol] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (a *Account) quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if a.quotes == nil {
		return decimal.Zero, ErrNoQuote
	}
	qctx, cancel := a.quoteContext(ctx)
	defer cancel()
	prices, err := a.quotes.LatestCloses(qctx, []string{symbol})
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch quote %s: %w", symbol, err)
	}
	p, ok := prices[symbol]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w %s", ErrNoQuote, symbol)
	}
	return p, nil
}

func (a *Account) quoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.QuoteTimeout > 0 {
		return context.WithTimeout(ctx, a.opts.QuoteTimeout)
	}
	return context.WithCancel(ctx)
}

// riskExits runs on the loop goroutine. A rejected exit is logged and the
// position stays open; only a ledger failure is returned.
func (a *Account) riskExits(prices map[string]decimal.Decimal) error {
	for _, x := range execution.RiskExits(a.ledger.Positions(), prices) {
		order := x.Order("", a.now())
		if _, err := a.engine.SubmitOrder(order, x.Price); err != nil {
			a.emitOrder(order)
			if _, ok := domain.RejectReasonOf(err); ok {
				a.logger.Warn().Err(err).Str("symbol", x.Position.Symbol).Str("exit_reason", string(x.Reason)).Msg("risk exit rejected")
				continue
			}
			return err
		}
		a.emitOrder(order)
		report, err := a.engine.ExecuteMarketOrder(order, x.Price)
		a.afterFill(order, report, err)
		if err != nil {
			if _, ok := domain.RejectReasonOf(err); ok {
				a.logger.Warn().Err(err).Str("symbol", x.Position.Symbol).Str("exit_reason", string(x.Reason)).Msg("risk exit rejected")
				continue
			}
			return err
		}
		a.logger.Info().
			Str("symbol", x.Position.Symbol).
			Str("exit_reason", string(x.Reason)).
			Str("price", x.Price.String()).
			Msg("position closed by risk exit")
	}
	return nil
}

// afterFill runs on the loop goroutine after an execution attempt.
func (a *Account) afterFill(order *domain.Order, report *domain.FillReport, err error) {
	a.emitOrder(order)
	if report != nil {
		a.emitFill(report)
	}
	a.checkFatal(err)
}

func (a *Account) afterMatch(fills []domain.FillReport, err error) {
	for i := range fills {
		if o, ok := a.engine.Order(fills[i].OrderID); ok {
			a.emitOrder(o)
		}
		a.emitFill(&fills[i])
	}
	a.checkFatal(err)
}

// checkFatal halts the account on a ledger invariant violation.
func (a *Account) checkFatal(err error) {
	var inv *ledger.InvariantError
	if !errors.As(err, &inv) {
		return
	}
	a.halted = err
	a.logger.Error().Err(err).Interface("recent", inv.Recent).Msg("ledger invariant violated, account halted")
}
