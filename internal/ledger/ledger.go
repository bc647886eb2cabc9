// Package ledger owns the simulated account: cash, positions, closed trades and
// the equity curve. A Ledger is not safe for concurrent use; exactly one owner
// (a backtest runner or the paper-trading actor) may mutate it.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// DefaultJournalSize is the number of recent mutations kept for diagnostics.
const DefaultJournalSize = 32

// Tolerance is the relative tolerance of the equity conservation check.
var Tolerance = decimal.New(1, -6)

// InvariantError reports a broken ledger invariant. It is fatal: it indicates a
// logic bug, not bad input, and carries the recent mutations for inspection.
type InvariantError struct {
	Message  string
	Cash     decimal.Decimal
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Recent   []domain.Mutation
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violated: %s (cash=%s expected_equity=%s actual_equity=%s)",
		e.Message, e.Cash, e.Expected, e.Actual)
}

// Ledger is the owning aggregate of cash, positions, trades and equity history.
type Ledger struct {
	initialCash decimal.Decimal
	cash        decimal.Decimal
	positions   map[string]*domain.Position
	realized    map[string]decimal.Decimal
	trades      []domain.Trade
	equity      []domain.EquityPoint

	journal     []domain.Mutation
	journalSize int
	seq         int64
}

// New creates a ledger holding only initialCash.
func New(initialCash decimal.Decimal) *Ledger {
	return &Ledger{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*domain.Position),
		realized:    make(map[string]decimal.Decimal),
		journalSize: DefaultJournalSize,
	}
}

// FromSnapshot rebuilds a ledger from a persisted snapshot. A snapshot without
// positions restores cash only.
func FromSnapshot(s domain.Snapshot) (*Ledger, error) {
	if s.Cash.IsNegative() {
		return nil, fmt.Errorf("snapshot cash is negative: %s", s.Cash)
	}
	l := New(s.InitialCash)
	l.cash = s.Cash
	for i := range s.Positions {
		p := s.Positions[i]
		if p.Quantity <= 0 {
			return nil, fmt.Errorf("snapshot position %s has quantity %d", p.Symbol, p.Quantity)
		}
		if _, dup := l.positions[p.Symbol]; dup {
			return nil, fmt.Errorf("snapshot has duplicate position %s", p.Symbol)
		}
		l.positions[p.Symbol] = &p
		l.realized[p.Symbol] = p.RealizedPnL
	}
	return l, nil
}

// Snapshot captures the persisted form of the ledger.
func (l *Ledger) Snapshot(accountID string, at time.Time) domain.Snapshot {
	return domain.Snapshot{
		AccountID:   accountID,
		Cash:        l.cash,
		InitialCash: l.initialCash,
		SavedAt:     at,
		Positions:   l.Positions(),
	}
}

// InitialCash returns the cash the ledger was constructed with.
func (l *Ledger) InitialCash() decimal.Decimal { return l.initialCash }

// Cash returns current cash.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// MarketValue returns Σ position.market_value.
func (l *Ledger) MarketValue() decimal.Decimal {
	mv := decimal.Zero
	for _, p := range l.positions {
		mv = mv.Add(p.MarketValue())
	}
	return mv
}

// Equity returns cash + Σ position.market_value.
func (l *Ledger) Equity() decimal.Decimal {
	return l.cash.Add(l.MarketValue())
}

// RealizedPnL returns the cumulative realized P&L across all symbols.
func (l *Ledger) RealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, v := range l.realized {
		total = total.Add(v)
	}
	return total
}

// RealizedPnLFor returns the cumulative realized P&L for symbol, including
// positions that have since been closed.
func (l *Ledger) RealizedPnLFor(symbol string) decimal.Decimal {
	return l.realized[symbol]
}

// Position returns a copy of the open position for symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// HeldQuantity returns the open quantity for symbol, or 0.
func (l *Ledger) HeldQuantity(symbol string) int64 {
	if p, ok := l.positions[symbol]; ok {
		return p.Quantity
	}
	return 0
}

// NumPositions returns the number of open positions.
func (l *Ledger) NumPositions() int { return len(l.positions) }

// Positions returns copies of the open positions ordered by symbol.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns a copy of the closed trade records in fill order.
func (l *Ledger) Trades() []domain.Trade {
	out := make([]domain.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// EquityCurve returns a copy of the recorded equity curve.
func (l *Ledger) EquityCurve() []domain.EquityPoint {
	out := make([]domain.EquityPoint, len(l.equity))
	copy(out, l.equity)
	return out
}

// Recent returns the most recent journal entries, oldest first.
func (l *Ledger) Recent() []domain.Mutation {
	out := make([]domain.Mutation, len(l.journal))
	copy(out, l.journal)
	return out
}

// SetRiskLevels replaces the stop-loss / take-profit prices of an open position.
func (l *Ledger) SetRiskLevels(symbol string, stopLoss, takeProfit *decimal.Decimal) error {
	p, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	p.StopLossPrice = stopLoss
	p.TakeProfitPrice = takeProfit
	return nil
}

// MarkToMarket updates current_price on held positions only. Symbols without a
// position and non-positive prices are ignored. Cash is never touched.
// It returns the number of positions updated.
func (l *Ledger) MarkToMarket(prices map[string]decimal.Decimal, at time.Time) int {
	updated := 0
	for symbol, price := range prices {
		p, ok := l.positions[symbol]
		if !ok || !price.IsPositive() {
			continue
		}
		p.CurrentPrice = price
		updated++
	}
	if updated > 0 {
		l.record(domain.Mutation{Kind: "mark", Quantity: int64(updated), At: at})
	}
	return updated
}

// RecordEquity appends (date, equity) to the equity curve. Recording the same
// date again replaces the previous value; an earlier date is rejected.
func (l *Ledger) RecordEquity(date time.Time) (domain.EquityPoint, error) {
	point := domain.EquityPoint{Date: domain.DateOf(date), Equity: l.Equity()}
	if n := len(l.equity); n > 0 {
		last := l.equity[n-1].Date
		switch {
		case point.Date.Equal(last):
			l.equity[n-1] = point
			return point, nil
		case point.Date.Before(last):
			return point, fmt.Errorf("equity date %s is before last recorded %s",
				point.Date.Format("2006-01-02"), last.Format("2006-01-02"))
		}
	}
	l.equity = append(l.equity, point)
	return point, nil
}

// SeedEquity replaces the equity curve with previously recorded points. The
// points must be strictly date-ordered.
func (l *Ledger) SeedEquity(points []domain.EquityPoint) error {
	seeded := make([]domain.EquityPoint, 0, len(points))
	for i, p := range points {
		p.Date = domain.DateOf(p.Date)
		if i > 0 && !p.Date.After(seeded[i-1].Date) {
			return fmt.Errorf("equity point %s is not after %s",
				p.Date.Format("2006-01-02"), seeded[i-1].Date.Format("2006-01-02"))
		}
		seeded = append(seeded, p)
	}
	l.equity = seeded
	return nil
}

// ApplyFill is the single mutation point for executed orders. It stages the new
// cash and position, verifies cash conservation and commits only if the
// invariant holds. A SELL that reduces a position returns the trade record.
func (l *Ledger) ApplyFill(order *domain.Order, price, commission, stampDuty decimal.Decimal, at time.Time) (*domain.Trade, error) {
	if order.Quantity <= 0 {
		return nil, l.violation(fmt.Sprintf("fill quantity %d for %s", order.Quantity, order.Symbol), decimal.Zero, decimal.Zero)
	}
	if !price.IsPositive() {
		return nil, l.violation(fmt.Sprintf("fill price %s for %s", price, order.Symbol), decimal.Zero, decimal.Zero)
	}

	qty := decimal.NewFromInt(order.Quantity)
	existing := l.positions[order.Symbol]

	// Equity before the fill, with the symbol re-priced at the fill price.
	before := l.cash
	for sym, p := range l.positions {
		if sym == order.Symbol {
			before = before.Add(price.Mul(decimal.NewFromInt(p.Quantity)))
			continue
		}
		before = before.Add(p.MarketValue())
	}

	var (
		newCash decimal.Decimal
		staged  *domain.Position
		trade   *domain.Trade
	)

	switch order.Side {
	case domain.SideBuy:
		cost := price.Mul(qty).Add(commission)
		newCash = l.cash.Sub(cost)
		if existing == nil {
			staged = &domain.Position{
				Symbol:          order.Symbol,
				Quantity:        order.Quantity,
				CostBasis:       cost,
				AvgCost:         cost.Div(qty),
				CurrentPrice:    price,
				EntryDate:       at,
				StopLossPrice:   order.StopLoss,
				TakeProfitPrice: order.TakeProfit,
				RealizedPnL:     l.realized[order.Symbol],
			}
		} else {
			p := *existing
			p.Quantity += order.Quantity
			p.CostBasis = p.CostBasis.Add(cost)
			p.AvgCost = p.CostBasis.Div(decimal.NewFromInt(p.Quantity))
			p.CurrentPrice = price
			if order.StopLoss != nil {
				p.StopLossPrice = order.StopLoss
			}
			if order.TakeProfit != nil {
				p.TakeProfitPrice = order.TakeProfit
			}
			staged = &p
		}

	case domain.SideSell:
		if existing == nil || existing.Quantity < order.Quantity {
			return nil, l.violation(fmt.Sprintf("sell %d %s exceeds held quantity %d",
				order.Quantity, order.Symbol, l.HeldQuantity(order.Symbol)), before, before)
		}
		gross := price.Mul(qty)
		proceeds := gross.Sub(commission).Sub(stampDuty)
		costRemoved := existing.AvgCost.Mul(qty)
		if order.Quantity == existing.Quantity {
			costRemoved = existing.CostBasis
		}
		pnl := proceeds.Sub(costRemoved)
		newCash = l.cash.Add(proceeds)

		reason := order.ExitReason
		if reason == "" {
			reason = domain.ExitManual
		}
		pnlPct := decimal.Zero
		if costRemoved.IsPositive() {
			pnlPct = pnl.Div(costRemoved)
		}
		trade = &domain.Trade{
			TradeID:    uuid.NewString(),
			OrderID:    order.OrderID,
			Symbol:     order.Symbol,
			EntryDate:  existing.EntryDate,
			ExitDate:   at,
			EntryPrice: existing.AvgCost,
			ExitPrice:  price,
			Quantity:   order.Quantity,
			Commission: commission,
			StampDuty:  stampDuty,
			PnL:        pnl,
			PnLPct:     pnlPct,
			ExitReason: reason,
		}

		if order.Quantity < existing.Quantity {
			p := *existing
			p.Quantity -= order.Quantity
			p.CostBasis = p.CostBasis.Sub(costRemoved)
			p.CurrentPrice = price
			p.RealizedPnL = p.RealizedPnL.Add(pnl)
			staged = &p
		}

	default:
		return nil, l.violation(fmt.Sprintf("unknown side %q", order.Side), before, before)
	}

	// Equity after the fill from the staged state.
	after := newCash
	for sym, p := range l.positions {
		if sym != order.Symbol {
			after = after.Add(p.MarketValue())
		}
	}
	if staged != nil {
		after = after.Add(staged.MarketValue())
	}

	expected := before.Sub(commission).Sub(stampDuty)
	if newCash.IsNegative() {
		return nil, l.violation("cash would become negative", expected, after)
	}
	if !withinTolerance(expected, after) {
		return nil, l.violation("equity mismatch after fill", expected, after)
	}

	// Commit.
	l.cash = newCash
	if staged != nil {
		l.positions[order.Symbol] = staged
	} else {
		delete(l.positions, order.Symbol)
	}
	if trade != nil {
		l.realized[order.Symbol] = l.realized[order.Symbol].Add(trade.PnL)
		l.trades = append(l.trades, *trade)
	}
	l.record(domain.Mutation{
		Kind:        "fill",
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Price:       price,
		Commission:  commission,
		StampDuty:   stampDuty,
		CashAfter:   l.cash,
		EquityAfter: after,
		At:          at,
	})

	return trade, nil
}

// CheckInvariant re-derives the structural invariants of the ledger: cash is
// non-negative and no zero-quantity position is kept.
func (l *Ledger) CheckInvariant() error {
	equity := l.Equity()
	if l.cash.IsNegative() {
		return l.violation("cash is negative", equity, equity)
	}
	for sym, p := range l.positions {
		if p.Quantity <= 0 {
			return l.violation(fmt.Sprintf("position %s has quantity %d", sym, p.Quantity), equity, equity)
		}
	}
	return nil
}

func (l *Ledger) violation(msg string, expected, actual decimal.Decimal) *InvariantError {
	return &InvariantError{
		Message:  msg,
		Cash:     l.cash,
		Expected: expected,
		Actual:   actual,
		Recent:   l.Recent(),
	}
}

func (l *Ledger) record(m domain.Mutation) {
	l.seq++
	m.Seq = l.seq
	if m.Kind == "mark" {
		m.CashAfter = l.cash
		m.EquityAfter = l.Equity()
	}
	l.journal = append(l.journal, m)
	if len(l.journal) > l.journalSize {
		l.journal = l.journal[len(l.journal)-l.journalSize:]
	}
}

func withinTolerance(expected, actual decimal.Decimal) bool {
	scale := expected.Abs()
	if scale.LessThan(decimal.NewFromInt(1)) {
		scale = decimal.NewFromInt(1)
	}
	return expected.Sub(actual).Abs().LessThanOrEqual(scale.Mul(Tolerance))
}
