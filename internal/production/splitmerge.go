package production

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/pricing"
)

// Split replaces a queued batch with len(quantities) new batches. The original's
// allocations are handed out in order so each new batch's allocations sum to its quantity.
func Split(ctx context.Context, numbers NumberSource, b Batch, product pricing.Product, quantities []int, now time.Time) ([]Batch, error) {
	if b.Status != BatchQueued {
		return nil, invalidState("split", b, BatchQueued)
	}
	if len(quantities) < 2 {
		return nil, fmt.Errorf("%w: batch %s needs at least two parts", ErrInvalidSplit, b.Number)
	}
	sum := 0
	for i, q := range quantities {
		if q <= 0 {
			return nil, fmt.Errorf("%w: part %d of batch %s must be positive", ErrInvalidSplit, i+1, b.Number)
		}
		sum += q
	}
	if sum != b.PlannedQty {
		return nil, &ConservationViolationError{Op: "split", BatchID: b.ID, Expected: b.PlannedQty, Actual: sum}
	}
	if got := b.AllocatedQty(); got != b.PlannedQty {
		return nil, &ConservationViolationError{Op: "split allocations", BatchID: b.ID, Expected: b.PlannedQty, Actual: got}
	}

	pending := make([]Allocation, len(b.Allocations))
	copy(pending, b.Allocations)
	out := make([]Batch, 0, len(quantities))
	for _, q := range quantities {
		nb, err := newBatch(ctx, numbers, product, b.OrderID, q, now)
		if err != nil {
			return nil, err
		}
		nb.Priority = b.Priority
		nb.PlannedStart = b.PlannedStart
		nb.PlannedFinish = b.PlannedFinish
		need := q
		for need > 0 {
			head := &pending[0]
			take := min(need, head.Quantity)
			nb.Allocations = append(nb.Allocations, Allocation{BatchID: nb.ID, OrderLineID: head.OrderLineID, Quantity: take})
			head.Quantity -= take
			need -= take
			if head.Quantity == 0 {
				pending = pending[1:]
			}
		}
		out = append(out, nb)
	}
	return out, nil
}

// Merge folds queued sources into target. The target keeps its number and steps.
func Merge(target Batch, sources []Batch, now time.Time) (Batch, error) {
	if target.Status != BatchQueued && target.Status != BatchWIP {
		return Batch{}, invalidState("merge into", target, BatchQueued, BatchWIP)
	}
	if len(sources) == 0 {
		return Batch{}, fmt.Errorf("%w: no source batches", ErrInvalidMerge)
	}
	seen := map[uuid.UUID]struct{}{target.ID: {}}
	before := target.PlannedQty
	added := 0
	for _, src := range sources {
		if _, dup := seen[src.ID]; dup {
			return Batch{}, fmt.Errorf("%w: batch %s listed twice or as its own source", ErrInvalidMerge, src.Number)
		}
		seen[src.ID] = struct{}{}
		if src.Status != BatchQueued {
			return Batch{}, invalidState("merge", src, BatchQueued)
		}
		if src.OrderID != target.OrderID || src.ProductID != target.ProductID {
			return Batch{}, fmt.Errorf("%w: batch %s belongs to a different order or product", ErrInvalidMerge, src.Number)
		}
		added += src.PlannedQty
	}

	merged := target
	merged.Allocations = make([]Allocation, len(target.Allocations))
	copy(merged.Allocations, target.Allocations)
	index := make(map[uuid.UUID]int, len(merged.Allocations))
	for i, a := range merged.Allocations {
		index[a.OrderLineID] = i
	}
	for _, src := range sources {
		for _, a := range src.Allocations {
			if i, ok := index[a.OrderLineID]; ok {
				merged.Allocations[i].Quantity += a.Quantity
				continue
			}
			index[a.OrderLineID] = len(merged.Allocations)
			merged.Allocations = append(merged.Allocations, Allocation{BatchID: target.ID, OrderLineID: a.OrderLineID, Quantity: a.Quantity})
		}
	}
	merged.PlannedQty = before + added
	merged.UpdatedAt = now

	if got := merged.AllocatedQty(); got != merged.PlannedQty {
		return Batch{}, &ConservationViolationError{Op: "merge", BatchID: target.ID, Expected: merged.PlannedQty, Actual: got}
	}
	return merged, nil
}
