package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the status of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusSubmitted, OrderStatusRejected, OrderStatusCancelled},
	OrderStatusSubmitted: {OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected},
}

// Order represents one trading intent and its fill lifecycle.
type Order struct {
	OrderID      string           `json:"order_id"`
	Symbol       string           `json:"symbol"`
	Side         Side             `json:"side"`
	OrderType    OrderType        `json:"order_type"`
	Quantity     int64            `json:"quantity"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	Status       OrderStatus      `json:"status"`
	RejectReason RejectReason     `json:"reject_reason,omitempty"`
	FilledQty    int64            `json:"filled_qty"`
	FilledPrice  decimal.Decimal  `json:"filled_price"`
	CreatedAt    time.Time        `json:"created_at"`
	FilledAt     *time.Time       `json:"filled_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
	StrategyName string           `json:"strategy_name,omitempty"`
	Reasoning    string           `json:"reasoning,omitempty"`

	// ExitReason is carried by SELL orders into the resulting trade record.
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	// StopLoss and TakeProfit are applied to the position opened by a BUY.
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

// NewOrder creates a PENDING order with a fresh id.
func NewOrder(symbol string, side Side, orderType OrderType, quantity int64, createdAt time.Time) *Order {
	return &Order{
		OrderID:   uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		OrderType: orderType,
		Quantity:  quantity,
		Status:    OrderStatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// Transition moves the order to the given status. Terminal states are immutable
// and transitions only move forward.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if o.Status == to {
		return nil
	}
	for _, allowed := range orderTransitions[o.Status] {
		if allowed == to {
			o.Status = to
			o.UpdatedAt = at
			return nil
		}
	}
	return fmt.Errorf("illegal order transition %s -> %s", o.Status, to)
}

// Reject moves the order to REJECTED with the given reason.
func (o *Order) Reject(reason RejectReason, at time.Time) error {
	if err := o.Transition(OrderStatusRejected, at); err != nil {
		return err
	}
	o.RejectReason = reason
	return nil
}

// MarkFilled records a full fill at price.
func (o *Order) MarkFilled(price decimal.Decimal, at time.Time) error {
	if o.FilledQty != 0 {
		return fmt.Errorf("order %s already has filled quantity %d", o.OrderID, o.FilledQty)
	}
	if err := o.Transition(OrderStatusFilled, at); err != nil {
		return err
	}
	o.FilledQty = o.Quantity
	o.FilledPrice = price
	filledAt := at
	o.FilledAt = &filledAt
	return nil
}

// Clone returns a copy safe to hand to another goroutine.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}
