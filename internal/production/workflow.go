package production

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/orders"
)

// NewSteps builds the four pending workflow steps for a batch.
func NewSteps(batchID uuid.UUID) []Step {
	steps := make([]Step, 0, len(stepOrder))
	for _, kind := range stepOrder {
		steps = append(steps, Step{BatchID: batchID, Kind: kind, Status: StepPending})
	}
	return steps
}

// AdvanceResult describes a step move and its effect on the batch.
type AdvanceResult struct {
	Batch      Batch
	Step       Step
	From       StepStatus
	OutOfOrder bool
	// BatchFrom is set when the step moved the batch to a new status.
	BatchFrom *BatchStatus
}

// Tracker advances workflow steps and derives batch status from them.
type Tracker struct {
	now func() time.Time
}

// NewTracker constructs a Tracker. A nil clock uses the wall clock.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{now: now}
}

// Advance moves a step pending → wip or wip → done. Earlier steps that are not
// done do not block the move; the step is flagged OutOfOrder instead.
func (t *Tracker) Advance(b Batch, kind StepKind, operator string) (AdvanceResult, error) {
	if b.Status == BatchHold || b.Status == BatchComplete {
		return AdvanceResult{}, invalidState("advance steps of", b, BatchQueued, BatchWIP)
	}
	idx := -1
	for i, s := range b.Steps {
		if s.Kind == kind {
			idx = i
			break
		}
	}
	if idx < 0 || kind.Index() < 0 {
		return AdvanceResult{}, fmt.Errorf("%w: batch %s has no %q step", ErrInvalidStepTransition, b.Number, kind)
	}

	now := t.now()
	steps := make([]Step, len(b.Steps))
	copy(steps, b.Steps)
	step := steps[idx]
	from := step.Status
	switch step.Status {
	case StepPending:
		step.Status = StepWIP
		step.StartedAt = &now
		step.Operator = strings.TrimSpace(operator)
	case StepWIP:
		step.Status = StepDone
		step.FinishedAt = &now
		step.FinishedBy = strings.TrimSpace(operator)
		if step.Operator == "" {
			step.Operator = step.FinishedBy
		}
	default:
		return AdvanceResult{}, fmt.Errorf("%w: %s step of batch %s is already %s", ErrInvalidStepTransition, kind, b.Number, step.Status)
	}

	outOfOrder := false
	for _, s := range steps {
		if s.Kind.Index() < kind.Index() && s.Status != StepDone {
			outOfOrder = true
			break
		}
	}
	if outOfOrder {
		step.OutOfOrder = true
	}
	steps[idx] = step

	next := b
	next.Steps = steps
	next.UpdatedAt = now
	res := AdvanceResult{Step: step, From: from, OutOfOrder: outOfOrder}
	switch {
	case b.Status == BatchQueued && step.Status == StepWIP:
		prev := b.Status
		res.BatchFrom = &prev
		next.Status = BatchWIP
		if next.ActualStart == nil {
			next.ActualStart = &now
		}
	case kind == StepPack && step.Status == StepDone:
		prev := b.Status
		res.BatchFrom = &prev
		next.Status = BatchComplete
		next.ActualFinish = &now
	}
	res.Batch = next
	return res, nil
}

// RequiredStep returns the step that must be done before an order may enter target.
func RequiredStep(target orders.Status, labelRequired bool) (StepKind, bool) {
	switch target {
	case orders.StatusInLabeling:
		return StepBottleCap, true
	case orders.StatusInPacking:
		if labelRequired {
			return StepLabel, true
		}
		return StepBottleCap, true
	case orders.StatusPacked:
		return StepPack, true
	}
	return "", false
}

// ReadyFor reports whether steps satisfy target, and the missing step otherwise.
func ReadyFor(steps []Step, target orders.Status, labelRequired bool) (bool, StepKind) {
	kind, gated := RequiredStep(target, labelRequired)
	if !gated {
		return true, ""
	}
	for _, s := range steps {
		if s.Kind == kind {
			return s.Status == StepDone, kind
		}
	}
	return false, kind
}

// RecordOutput stores good and scrap counts once production has started.
func (t *Tracker) RecordOutput(b Batch, good, scrap int) (Batch, error) {
	if b.Status == BatchQueued || b.ActualStart == nil {
		return Batch{}, invalidState("record output for", b, BatchWIP, BatchHold, BatchComplete)
	}
	if good < 0 || scrap < 0 {
		return Batch{}, fmt.Errorf("%w: counts must not be negative", ErrInvalidOutput)
	}
	if good+scrap > b.PlannedQty {
		return Batch{}, fmt.Errorf("%w: good %d + scrap %d exceeds planned %d for batch %s", ErrInvalidOutput, good, scrap, b.PlannedQty, b.Number)
	}
	b.GoodQty = good
	b.ScrapQty = scrap
	b.UpdatedAt = t.now()
	return b, nil
}

// Hold pauses a queued or wip batch.
func (t *Tracker) Hold(b Batch, reason string) (Batch, error) {
	if b.Status != BatchQueued && b.Status != BatchWIP {
		return Batch{}, invalidState("hold", b, BatchQueued, BatchWIP)
	}
	pre := b.Status
	b.PreHoldStatus = &pre
	if r := strings.TrimSpace(reason); r != "" {
		b.HoldReason = &r
	}
	b.Status = BatchHold
	b.UpdatedAt = t.now()
	return b, nil
}

// Resume restores the status the batch had before its hold.
func (t *Tracker) Resume(b Batch) (Batch, error) {
	if b.Status != BatchHold {
		return Batch{}, invalidState("resume", b, BatchHold)
	}
	b.Status = BatchQueued
	if b.PreHoldStatus != nil {
		b.Status = *b.PreHoldStatus
	}
	b.PreHoldStatus = nil
	b.HoldReason = nil
	b.UpdatedAt = t.now()
	return b, nil
}
