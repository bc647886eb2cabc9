package ingest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
	"simtrader/internal/paper"
)

// OrderEvent is the JSON structure for order intents received via NATS.
// Prices travel as decimal strings.
type OrderEvent struct {
	RequestID    string `json:"request_id"`
	AccountID    string `json:"account_id"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"order_type"`
	Quantity     int64  `json:"quantity"`
	LimitPrice   string `json:"limit_price,omitempty"`
	StrategyName string `json:"strategy_name,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
	ExitReason   string `json:"exit_reason,omitempty"`
	StopLoss     string `json:"stop_loss,omitempty"`
	TakeProfit   string `json:"take_profit,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// Validate checks that the order event has all required fields and
// well-formed values. Lot size and funds are checked by the engine.
func (e *OrderEvent) Validate() error {
	if e.RequestID == "" {
		return fmt.Errorf("missing required field: request_id")
	}
	if e.AccountID == "" {
		return fmt.Errorf("missing required field: account_id")
	}
	if e.Symbol == "" {
		return fmt.Errorf("missing required field: symbol")
	}
	if e.Side != "buy" && e.Side != "sell" {
		return fmt.Errorf("invalid side: %q (must be buy or sell)", e.Side)
	}
	switch e.OrderType {
	case "", "market":
	case "limit":
		if e.LimitPrice == "" {
			return fmt.Errorf("missing required field: limit_price")
		}
	default:
		return fmt.Errorf("invalid order_type: %q (must be market or limit)", e.OrderType)
	}
	if e.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", e.Quantity)
	}
	if e.ExitReason != "" && !domain.ValidExitReason(domain.ExitReason(e.ExitReason)) {
		return fmt.Errorf("invalid exit_reason: %q", e.ExitReason)
	}
	for name, v := range map[string]string{"limit_price": e.LimitPrice, "stop_loss": e.StopLoss, "take_profit": e.TakeProfit} {
		if _, err := optionalPrice(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if e.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return nil
}

// ToRequest converts a validated OrderEvent to a paper order request.
func (e *OrderEvent) ToRequest() (paper.OrderRequest, error) {
	req := paper.OrderRequest{
		Symbol:       e.Symbol,
		Side:         domain.Side(e.Side),
		OrderType:    domain.OrderTypeMarket,
		Quantity:     e.Quantity,
		StrategyName: e.StrategyName,
		Reasoning:    e.Reasoning,
		ExitReason:   domain.ExitReason(e.ExitReason),
	}
	if e.OrderType == "limit" {
		req.OrderType = domain.OrderTypeLimit
	}

	var err error
	if req.LimitPrice, err = optionalPrice(e.LimitPrice); err != nil {
		return req, fmt.Errorf("parse limit_price: %w", err)
	}
	if req.StopLoss, err = optionalPrice(e.StopLoss); err != nil {
		return req, fmt.Errorf("parse stop_loss: %w", err)
	}
	if req.TakeProfit, err = optionalPrice(e.TakeProfit); err != nil {
		return req, fmt.Errorf("parse take_profit: %w", err)
	}
	return req, nil
}

func optionalPrice(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("must be positive, got %s", s)
	}
	return &d, nil
}

// FillEvent is the JSON structure published for every fill.
type FillEvent struct {
	AccountID string            `json:"account_id"`
	Fill      domain.FillReport `json:"fill"`
}
