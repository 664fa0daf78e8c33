package production

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/pricing"
	"github.com/bottleops/bottleops/internal/sequence"
)

// NumberSource hands out batch numbers.
type NumberSource interface {
	Next(ctx context.Context, key sequence.Key) (sequence.Number, error)
}

// PlanInput is everything the planner needs to validate a plan against current state.
type PlanInput struct {
	Order    orders.Order
	Existing []Allocation
	Requests []PlanRequest
	Products map[uuid.UUID]pricing.Product
}

// Planner turns plan requests into batches with allocations and workflow steps.
type Planner struct {
	numbers NumberSource
	now     func() time.Time
}

// NewPlanner constructs a Planner. A nil clock uses the wall clock.
func NewPlanner(numbers NumberSource, now func() time.Time) *Planner {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Planner{numbers: numbers, now: now}
}

// Plan validates every request before numbering any batch, so a rejected plan allocates nothing.
func (p *Planner) Plan(ctx context.Context, in PlanInput) ([]Batch, error) {
	if !in.Order.Status.CanPlanBatches() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotPlannable, in.Order.Number, in.Order.Status)
	}
	if len(in.Requests) == 0 {
		return nil, fmt.Errorf("%w: no requests", ErrInvalidPlan)
	}

	lines := make(map[uuid.UUID]orders.Line, len(in.Order.Lines))
	for _, l := range in.Order.Lines {
		lines[l.ID] = l
	}
	allocated := make(map[uuid.UUID]int)
	for _, a := range in.Existing {
		allocated[a.OrderLineID] += a.Quantity
	}
	requested := make(map[uuid.UUID]int)
	var order []uuid.UUID
	for i, req := range in.Requests {
		line, ok := lines[req.OrderLineID]
		if !ok {
			return nil, fmt.Errorf("%w: request %d references line %s outside order %s", ErrInvalidPlan, i+1, req.OrderLineID, in.Order.Number)
		}
		if req.Quantity <= 0 {
			return nil, fmt.Errorf("%w: request %d quantity must be positive", ErrInvalidPlan, i+1)
		}
		if _, ok := in.Products[line.ProductID]; !ok {
			return nil, fmt.Errorf("%w: %s", pricing.ErrProductNotFound, line.ProductCode)
		}
		if _, seen := requested[line.ID]; !seen {
			order = append(order, line.ID)
		}
		requested[line.ID] += req.Quantity
	}
	for _, id := range order {
		line := lines[id]
		remaining := line.BottleQty - allocated[id]
		if requested[id] > remaining {
			return nil, &OverAllocationError{LineID: id, Requested: requested[id], Remaining: remaining, BottleQty: line.BottleQty}
		}
	}

	now := p.now()
	batches := make([]Batch, 0, len(in.Requests))
	for _, req := range in.Requests {
		line := lines[req.OrderLineID]
		product := in.Products[line.ProductID]
		b, err := newBatch(ctx, p.numbers, product, in.Order.ID, req.Quantity, now)
		if err != nil {
			return nil, err
		}
		b.Priority = req.Priority
		b.PlannedStart = req.PlannedStart
		b.PlannedFinish = req.PlannedFinish
		b.Allocations = []Allocation{{BatchID: b.ID, OrderLineID: line.ID, Quantity: req.Quantity}}
		batches = append(batches, b)
	}
	return batches, nil
}

// newBatch numbers a queued batch with a fresh step set. Allocations are the caller's job.
// The counter is keyed by prefix alone so products sharing a prefix never reuse a number.
func newBatch(ctx context.Context, numbers NumberSource, product pricing.Product, orderID uuid.UUID, planned int, now time.Time) (Batch, error) {
	prefix := product.BatchPrefix
	if prefix == "" {
		prefix = product.Code
	}
	num, err := numbers.Next(ctx, sequence.Key{Prefix: prefix})
	if err != nil {
		return Batch{}, fmt.Errorf("batch number: %w", err)
	}
	id := uuid.New()
	return Batch{
		ID:          id,
		Number:      num.Formatted,
		OrderID:     orderID,
		ProductID:   product.ID,
		ProductCode: product.Code,
		Status:      BatchQueued,
		PlannedQty:  planned,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		Steps:       NewSteps(id),
	}, nil
}
