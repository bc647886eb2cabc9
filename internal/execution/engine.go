// Package execution validates orders, prices fills and drives the ledger.
package execution

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
	"simtrader/internal/ledger"
)

// Engine validates and executes orders against a single ledger. It shares the
// ledger's single-owner rule and is not safe for concurrent use.
type Engine struct {
	costs   domain.CostModel
	ledger  *ledger.Ledger
	orders  map[string]*domain.Order
	resting []string
	now     func() time.Time
	logger  zerolog.Logger
}

// NewEngine creates an execution engine over l.
func NewEngine(l *ledger.Ledger, costs domain.CostModel) *Engine {
	return &Engine{
		costs:  costs,
		ledger: l,
		orders: make(map[string]*domain.Order),
		now:    time.Now,
		logger: log.With().Str("component", "execution").Logger(),
	}
}

// SetClock replaces the time source used for fill timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.now() }

// Ledger returns the ledger the engine drives.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Costs returns the engine's cost model.
func (e *Engine) Costs() domain.CostModel { return e.costs }

// ValidateOrder checks an order against the lot size and the ledger's cash and
// positions. refPrice is used for MARKET orders; LIMIT orders use their limit.
// It never mutates the order or the ledger.
func (e *Engine) ValidateOrder(order *domain.Order, refPrice decimal.Decimal) error {
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return domain.NewRejectError(domain.RejectInvalidOrder, "invalid side %q", order.Side)
	}
	if order.OrderType != domain.OrderTypeMarket && order.OrderType != domain.OrderTypeLimit {
		return domain.NewRejectError(domain.RejectInvalidOrder, "invalid order type %q", order.OrderType)
	}
	if order.Quantity <= 0 || order.Quantity%e.costs.LotSize != 0 {
		return domain.NewRejectError(domain.RejectInvalidQuantity,
			"quantity %d is not a positive multiple of lot size %d", order.Quantity, e.costs.LotSize)
	}

	ref := refPrice
	if order.OrderType == domain.OrderTypeLimit {
		if order.LimitPrice == nil || !order.LimitPrice.IsPositive() {
			return domain.NewRejectError(domain.RejectMissingPrice, "limit order requires a positive limit_price")
		}
		ref = *order.LimitPrice
	}
	if !ref.IsPositive() {
		return domain.NewRejectError(domain.RejectInvalidOrder, "no reference price for %s", order.Symbol)
	}

	qty := decimal.NewFromInt(order.Quantity)
	switch order.Side {
	case domain.SideBuy:
		notional := qty.Mul(ref).Mul(one.Add(e.costs.CommissionRate))
		available := e.ledger.Cash().Sub(e.reservedCash(order.OrderID))
		if notional.GreaterThan(available) {
			return domain.NewRejectError(domain.RejectInsufficientFunds,
				"need %s, have %s", notional.StringFixed(2), available.StringFixed(2))
		}
	case domain.SideSell:
		available := e.ledger.HeldQuantity(order.Symbol) - e.reservedQty(order.Symbol, order.OrderID)
		if order.Quantity > available {
			return domain.NewRejectError(domain.RejectInsufficientPosition,
				"sell %d %s, have %d", order.Quantity, order.Symbol, available)
		}
	}
	return nil
}

// SubmitOrder validates the order and moves it to SUBMITTED or REJECTED. It
// does not touch cash or positions. A rejection is also returned as a
// *domain.RejectError.
func (e *Engine) SubmitOrder(order *domain.Order, refPrice decimal.Decimal) (*domain.Order, error) {
	now := e.now()
	if err := e.ValidateOrder(order, refPrice); err != nil {
		reason, _ := domain.RejectReasonOf(err)
		if terr := order.Reject(reason, now); terr != nil {
			return order, fmt.Errorf("reject order: %w", terr)
		}
		e.orders[order.OrderID] = order
		e.logger.Debug().Err(err).
			Str("order_id", order.OrderID).
			Str("symbol", order.Symbol).
			Msg("order rejected")
		return order, err
	}

	if err := order.Transition(domain.OrderStatusSubmitted, now); err != nil {
		return order, fmt.Errorf("submit order: %w", err)
	}
	e.orders[order.OrderID] = order
	if order.OrderType == domain.OrderTypeLimit {
		e.resting = append(e.resting, order.OrderID)
	}
	return order, nil
}

// ExecuteMarketOrder fills a SUBMITTED order at refPrice adjusted for slippage.
// Returns a *domain.RejectError if the fill is no longer affordable and a
// wrapped *ledger.InvariantError if the ledger refused the mutation (fatal).
func (e *Engine) ExecuteMarketOrder(order *domain.Order, refPrice decimal.Decimal) (*domain.FillReport, error) {
	if !refPrice.IsPositive() {
		return nil, fmt.Errorf("execute %s: reference price %s is not positive", order.OrderID, refPrice)
	}
	return e.fill(order, refPrice, EffectivePrice(e.costs, order.Side, refPrice))
}

func (e *Engine) fill(order *domain.Order, refPrice, price decimal.Decimal) (*domain.FillReport, error) {
	if order.Status != domain.OrderStatusSubmitted {
		return nil, fmt.Errorf("execute %s: order is %s, not submitted", order.OrderID, order.Status)
	}
	now := e.now()

	gross := price.Mul(decimal.NewFromInt(order.Quantity))
	commission := Commission(e.costs, gross)
	stampDuty := StampDuty(e.costs, order.Side, gross)

	var net decimal.Decimal
	var rejectErr *domain.RejectError
	switch order.Side {
	case domain.SideBuy:
		net = gross.Add(commission).Neg()
		if gross.Add(commission).GreaterThan(e.ledger.Cash()) {
			rejectErr = domain.NewRejectError(domain.RejectInsufficientFunds,
				"fill needs %s, have %s", gross.Add(commission).StringFixed(2), e.ledger.Cash().StringFixed(2))
		}
	case domain.SideSell:
		net = gross.Sub(commission).Sub(stampDuty)
		if held := e.ledger.HeldQuantity(order.Symbol); order.Quantity > held {
			rejectErr = domain.NewRejectError(domain.RejectInsufficientPosition,
				"fill sells %d %s, have %d", order.Quantity, order.Symbol, held)
		}
	}
	if rejectErr != nil {
		e.removeResting(order.OrderID)
		if err := order.Reject(rejectErr.Reason, now); err != nil {
			return nil, fmt.Errorf("reject order: %w", err)
		}
		return nil, rejectErr
	}

	trade, err := e.ledger.ApplyFill(order, price, commission, stampDuty, now)
	if err != nil {
		return nil, fmt.Errorf("apply fill %s: %w", order.OrderID, err)
	}
	if err := order.MarkFilled(price, now); err != nil {
		return nil, fmt.Errorf("mark filled: %w", err)
	}
	e.removeResting(order.OrderID)

	return &domain.FillReport{
		OrderID:        order.OrderID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       order.Quantity,
		ReferencePrice: refPrice,
		Price:          price,
		Gross:          gross,
		Commission:     commission,
		StampDuty:      stampDuty,
		NetCash:        net,
		FilledAt:       now,
		Trade:          trade,
	}, nil
}

// CancelOrder cancels a PENDING or SUBMITTED order. Cancelling an already
// cancelled order succeeds; FILLED or REJECTED orders fail with ErrAlreadyTerminal.
func (e *Engine) CancelOrder(orderID string) error {
	order, ok := e.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	switch order.Status {
	case domain.OrderStatusCancelled:
		return nil
	case domain.OrderStatusFilled, domain.OrderStatusRejected:
		return &domain.CancelError{OrderID: orderID, Status: order.Status, Err: domain.ErrAlreadyTerminal}
	}
	if err := order.Transition(domain.OrderStatusCancelled, e.now()); err != nil {
		return &domain.CancelError{OrderID: orderID, Status: order.Status, Err: err}
	}
	e.removeResting(orderID)
	return nil
}

// MatchRestingOrders fills resting LIMIT orders that are marketable at the
// given prices, at their limit price. Orders that can no longer be satisfied
// are rejected. Only a ledger invariant violation is returned as an error.
func (e *Engine) MatchRestingOrders(prices map[string]decimal.Decimal) ([]domain.FillReport, error) {
	var fills []domain.FillReport
	for _, id := range append([]string(nil), e.resting...) {
		order := e.orders[id]
		price, ok := prices[order.Symbol]
		if !ok || !price.IsPositive() {
			continue
		}
		limit := *order.LimitPrice
		marketable := (order.Side == domain.SideBuy && price.LessThanOrEqual(limit)) ||
			(order.Side == domain.SideSell && price.GreaterThanOrEqual(limit))
		if !marketable {
			continue
		}
		report, err := e.fill(order, price, limit)
		if err != nil {
			var rej *domain.RejectError
			if errors.As(err, &rej) {
				e.logger.Info().Err(err).Str("order_id", id).Msg("resting order rejected at fill")
				continue
			}
			return fills, err
		}
		fills = append(fills, *report)
	}
	return fills, nil
}

// Order returns a copy of a known order.
func (e *Engine) Order(orderID string) (*domain.Order, bool) {
	o, ok := e.orders[orderID]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Orders returns copies of all known orders, oldest first.
func (e *Engine) Orders() []*domain.Order {
	out := make([]*domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Resting returns the number of open LIMIT orders.
func (e *Engine) Resting() int { return len(e.resting) }

func (e *Engine) reservedCash(exclude string) decimal.Decimal {
	total := decimal.Zero
	for _, id := range e.resting {
		o := e.orders[id]
		if id == exclude || o.Side != domain.SideBuy {
			continue
		}
		total = total.Add(decimal.NewFromInt(o.Quantity).Mul(*o.LimitPrice).Mul(one.Add(e.costs.CommissionRate)))
	}
	return total
}

func (e *Engine) reservedQty(symbol, exclude string) int64 {
	var total int64
	for _, id := range e.resting {
		o := e.orders[id]
		if id == exclude || o.Side != domain.SideSell || o.Symbol != symbol {
			continue
		}
		total += o.Quantity
	}
	return total
}

func (e *Engine) removeResting(orderID string) {
	for i, id := range e.resting {
		if id == orderID {
			e.resting = append(e.resting[:i], e.resting[i+1:]...)
			return
		}
	}
}
