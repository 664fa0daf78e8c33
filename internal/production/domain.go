package production

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks a production batch.
type BatchStatus string

const (
	BatchQueued   BatchStatus = "queued"
	BatchWIP      BatchStatus = "wip"
	BatchHold     BatchStatus = "hold"
	BatchComplete BatchStatus = "complete"
)

// IsValid checks if the batch status is known.
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchQueued, BatchWIP, BatchHold, BatchComplete:
		return true
	}
	return false
}

// StepKind names a workflow step. Steps run in the order of StepKinds.
type StepKind string

const (
	StepProduce   StepKind = "produce"
	StepBottleCap StepKind = "bottle_cap"
	StepLabel     StepKind = "label"
	StepPack      StepKind = "pack"
)

var stepOrder = []StepKind{StepProduce, StepBottleCap, StepLabel, StepPack}

// StepKinds returns the fixed workflow order.
func StepKinds() []StepKind {
	out := make([]StepKind, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// Index returns the position of the kind in the workflow, or -1.
func (k StepKind) Index() int {
	for i, s := range stepOrder {
		if s == k {
			return i
		}
	}
	return -1
}

// StepStatus tracks a single step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepWIP     StepStatus = "wip"
	StepDone    StepStatus = "done"
)

// Batch is a unit of manufacturing work tied to one order and product.
type Batch struct {
	ID            uuid.UUID    `json:"id"`
	Number        string       `json:"number"`
	OrderID       uuid.UUID    `json:"order_id"`
	ProductID     uuid.UUID    `json:"product_id"`
	ProductCode   string       `json:"product_code"`
	Status        BatchStatus  `json:"status"`
	PlannedQty    int          `json:"planned_qty"`
	GoodQty       int          `json:"good_qty"`
	ScrapQty      int          `json:"scrap_qty"`
	Priority      int          `json:"priority"`
	PlannedStart  *time.Time   `json:"planned_start,omitempty"`
	PlannedFinish *time.Time   `json:"planned_finish,omitempty"`
	ActualStart   *time.Time   `json:"actual_start,omitempty"`
	ActualFinish  *time.Time   `json:"actual_finish,omitempty"`
	PreHoldStatus *BatchStatus `json:"pre_hold_status,omitempty"`
	HoldReason    *string      `json:"hold_reason,omitempty"`
	Version       int64        `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Allocations   []Allocation `json:"allocations,omitempty"`
	Steps         []Step       `json:"steps,omitempty"`
}

// AllocatedQty sums the batch allocations.
func (b Batch) AllocatedQty() int {
	total := 0
	for _, a := range b.Allocations {
		total += a.Quantity
	}
	return total
}

// Step returns the step of the given kind.
func (b Batch) Step(kind StepKind) (Step, bool) {
	for _, s := range b.Steps {
		if s.Kind == kind {
			return s, true
		}
	}
	return Step{}, false
}

// Allocation assigns part of an order line's bottle quantity to a batch.
type Allocation struct {
	BatchID     uuid.UUID `json:"batch_id"`
	OrderLineID uuid.UUID `json:"order_line_id"`
	Quantity    int       `json:"quantity"`
}

// Step is one stage of the fixed batch workflow.
type Step struct {
	BatchID    uuid.UUID  `json:"batch_id"`
	Kind       StepKind   `json:"kind"`
	Status     StepStatus `json:"status"`
	Operator   string     `json:"operator,omitempty"`
	FinishedBy string     `json:"finished_by,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// OutOfOrder is set when the step moved before every earlier step was done.
	OutOfOrder bool `json:"out_of_order"`
}

// PlanRequest asks for one batch against one order line.
type PlanRequest struct {
	OrderLineID   uuid.UUID  `json:"order_line_id" validate:"required"`
	Quantity      int        `json:"quantity" validate:"min=1"`
	Priority      int        `json:"priority"`
	PlannedStart  *time.Time `json:"planned_start"`
	PlannedFinish *time.Time `json:"planned_finish"`
}

// PlanCommand is the service-level planning request.
type PlanCommand struct {
	OrderID        uuid.UUID     `json:"order_id" validate:"required"`
	Requests       []PlanRequest `json:"requests" validate:"required,min=1,dive"`
	IdempotencyKey string        `json:"-"`
	Actor          string        `json:"-"`
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	OrderID *uuid.UUID
	Status  *BatchStatus
}
