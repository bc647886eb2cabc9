package domain

import (
	"errors"
	"fmt"
)

// RejectReason names a validation failure of an order.
type RejectReason string

const (
	RejectInvalidQuantity      RejectReason = "invalid_quantity"
	RejectMissingPrice         RejectReason = "missing_price"
	RejectInsufficientFunds    RejectReason = "insufficient_funds"
	RejectInsufficientPosition RejectReason = "insufficient_position"
	RejectInvalidOrder         RejectReason = "invalid_order"
)

// RejectError is returned when an order fails validation. It never aborts a run.
type RejectError struct {
	Reason  RejectReason
	Message string
}

func (e *RejectError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order rejected: %s", e.Reason)
	}
	return fmt.Sprintf("order rejected: %s: %s", e.Reason, e.Message)
}

// NewRejectError creates a RejectError with a formatted message.
func NewRejectError(reason RejectReason, format string, args ...interface{}) *RejectError {
	return &RejectError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// RejectReasonOf extracts the reject reason from err, if any.
func RejectReasonOf(err error) (RejectReason, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrAlreadyTerminal = errors.New("order already terminal")
)

// CancelError is returned when an order cannot be cancelled.
type CancelError struct {
	OrderID string
	Status  OrderStatus
	Err     error
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("cancel order %s (%s): %v", e.OrderID, e.Status, e.Err)
}

func (e *CancelError) Unwrap() error {
	return e.Err
}
