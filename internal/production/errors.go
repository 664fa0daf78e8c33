package production

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrBatchNotFound         = errors.New("production: batch not found")
	ErrOverAllocation        = errors.New("production: allocation exceeds order line quantity")
	ErrConservationViolation = errors.New("production: quantities not conserved")
	ErrInvalidBatchState     = errors.New("production: invalid batch state")
	ErrInvalidStepTransition = errors.New("production: invalid workflow step transition")
	ErrOrderNotPlannable     = errors.New("production: order status does not allow batch planning")
	ErrInvalidPlan           = errors.New("production: invalid plan request")
	ErrInvalidSplit          = errors.New("production: invalid split")
	ErrInvalidMerge          = errors.New("production: invalid merge")
	ErrInvalidOutput         = errors.New("production: invalid output quantities")
)

// OverAllocationError reports a line whose requested quantity exceeds what remains unallocated.
type OverAllocationError struct {
	LineID    uuid.UUID
	Requested int
	Remaining int
	BottleQty int
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("production: line %s requests %d bottles but only %d of %d remain unallocated",
		e.LineID, e.Requested, e.Remaining, e.BottleQty)
}

func (e *OverAllocationError) Is(target error) bool {
	return target == ErrOverAllocation
}

// ConservationViolationError reports a split or merge whose totals do not add up.
type ConservationViolationError struct {
	Op       string
	BatchID  uuid.UUID
	Expected int
	Actual   int
}

func (e *ConservationViolationError) Error() string {
	return fmt.Sprintf("production: %s of batch %s must total %d, got %d", e.Op, e.BatchID, e.Expected, e.Actual)
}

func (e *ConservationViolationError) Is(target error) bool {
	return target == ErrConservationViolation
}

// InvalidBatchStateError reports an operation attempted on a batch in the wrong status.
type InvalidBatchStateError struct {
	Op      string
	BatchID uuid.UUID
	Number  string
	Status  BatchStatus
	Allowed []BatchStatus
}

func (e *InvalidBatchStateError) Error() string {
	return fmt.Sprintf("production: cannot %s batch %s in status %s (allowed: %v)", e.Op, e.Number, e.Status, e.Allowed)
}

func (e *InvalidBatchStateError) Is(target error) bool {
	return target == ErrInvalidBatchState
}

func invalidState(op string, b Batch, allowed ...BatchStatus) error {
	return &InvalidBatchStateError{Op: op, BatchID: b.ID, Number: b.Number, Status: b.Status, Allowed: allowed}
}
