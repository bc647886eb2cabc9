package ingest

import (
	"strings"
	"testing"

	"simtrader/internal/domain"
)

func validEvent() OrderEvent {
	return OrderEvent{
		RequestID: "r-001",
		AccountID: "paper",
		Symbol:    "600000",
		Side:      "buy",
		OrderType: "market",
		Quantity:  1000,
		Timestamp: "2025-01-15T10:00:00Z",
	}
}

func TestOrderEventValidation_Valid(t *testing.T) {
	event := validEvent()
	if err := event.Validate(); err != nil {
		t.Fatalf("expected valid event, got error: %v", err)
	}
}

func TestOrderEventValidation_ValidLimit(t *testing.T) {
	event := validEvent()
	event.OrderType = "limit"
	event.LimitPrice = "9.50"
	event.StopLoss = "9.00"
	event.TakeProfit = "11.00"

	if err := event.Validate(); err != nil {
		t.Fatalf("expected valid limit event, got error: %v", err)
	}
}

func TestOrderEventValidation_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(e *OrderEvent)
		want   string
	}{
		{"missing request_id", func(e *OrderEvent) { e.RequestID = "" }, "missing required field: request_id"},
		{"missing account_id", func(e *OrderEvent) { e.AccountID = "" }, "missing required field: account_id"},
		{"missing symbol", func(e *OrderEvent) { e.Symbol = "" }, "missing required field: symbol"},
		{"bad side", func(e *OrderEvent) { e.Side = "short" }, "invalid side"},
		{"bad order type", func(e *OrderEvent) { e.OrderType = "stop" }, "invalid order_type"},
		{"limit without price", func(e *OrderEvent) { e.OrderType = "limit" }, "missing required field: limit_price"},
		{"zero quantity", func(e *OrderEvent) { e.Quantity = 0 }, "quantity must be positive"},
		{"negative quantity", func(e *OrderEvent) { e.Quantity = -100 }, "quantity must be positive"},
		{"bad exit reason", func(e *OrderEvent) { e.ExitReason = "boredom" }, "invalid exit_reason"},
		{"unparseable stop", func(e *OrderEvent) { e.StopLoss = "abc" }, "invalid stop_loss"},
		{"negative take profit", func(e *OrderEvent) { e.TakeProfit = "-1" }, "invalid take_profit"},
		{"bad timestamp", func(e *OrderEvent) { e.Timestamp = "yesterday" }, "invalid timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.modify(&event)
			err := event.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestOrderEventToRequest(t *testing.T) {
	event := validEvent()
	event.Side = "sell"
	event.OrderType = "limit"
	event.LimitPrice = "12.30"
	event.ExitReason = "take_profit"
	event.StrategyName = "ma_crossover"

	req, err := event.ToRequest()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Side != domain.SideSell || req.OrderType != domain.OrderTypeLimit {
		t.Errorf("expected sell limit, got %s %s", req.Side, req.OrderType)
	}
	if req.LimitPrice == nil || req.LimitPrice.String() != "12.3" {
		t.Errorf("expected limit price 12.3, got %v", req.LimitPrice)
	}
	if req.ExitReason != domain.ExitTakeProfit {
		t.Errorf("expected exit reason take_profit, got %s", req.ExitReason)
	}
	if req.StopLoss != nil || req.TakeProfit != nil {
		t.Errorf("expected no risk levels, got %v %v", req.StopLoss, req.TakeProfit)
	}
}

func TestOrderEventToRequest_DefaultsToMarket(t *testing.T) {
	event := validEvent()
	event.OrderType = ""

	req, err := event.ToRequest()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.OrderType != domain.OrderTypeMarket {
		t.Errorf("expected market order, got %s", req.OrderType)
	}
	if req.Quantity != 1000 {
		t.Errorf("expected quantity 1000, got %d", req.Quantity)
	}
}
