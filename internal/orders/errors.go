package orders

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound        = errors.New("orders: order not found")
	ErrInvalidTransition    = errors.New("orders: invalid status transition")
	ErrHoldReasonRequired   = errors.New("orders: hold reason required")
	ErrOrderNotEditable     = errors.New("orders: lines can only change in draft or quoted")
	ErrHardDeleteNotAllowed = errors.New("orders: only draft orders without batches can be deleted")
	ErrInvalidParent        = errors.New("orders: invalid parent order")
	ErrDepositNotRequired   = errors.New("orders: order does not require a deposit")
	ErrInvalidDeposit       = errors.New("orders: invalid deposit amount")
	ErrInvalidLine          = errors.New("orders: invalid order line")
)

// InvalidTransitionError carries the attempted and current states.
type InvalidTransitionError struct {
	OrderID uuid.UUID
	From    Status
	To      Status
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("orders: invalid status transition %s → %s for order %s", e.From, e.To, e.OrderID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func invalidTransition(o Order, to Status, reason string) error {
	return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to, Reason: reason}
}
