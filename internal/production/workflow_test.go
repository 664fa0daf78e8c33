package production

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bottleops/bottleops/internal/orders"
)

func freshBatch() Batch {
	id := uuid.New()
	return Batch{ID: id, Number: "B100-0001", Status: BatchQueued, PlannedQty: 100, Steps: NewSteps(id)}
}

func advance(t *testing.T, tr *Tracker, b Batch, kind StepKind) AdvanceResult {
	t.Helper()
	res, err := tr.Advance(b, kind, "op-7")
	require.NoError(t, err)
	return res
}

func TestNewStepsFixedOrder(t *testing.T) {
	steps := NewSteps(uuid.New())
	require.Len(t, steps, 4)
	for i, s := range steps {
		require.Equal(t, StepKinds()[i], s.Kind)
		require.Equal(t, StepPending, s.Status)
	}
}

func TestAdvanceInOrderCompletesBatch(t *testing.T) {
	tr := NewTracker(fixedClock)
	b := freshBatch()

	res := advance(t, tr, b, StepProduce)
	require.Equal(t, BatchWIP, res.Batch.Status)
	require.NotNil(t, res.BatchFrom)
	require.Equal(t, clock, *res.Batch.ActualStart)
	require.Equal(t, "op-7", res.Step.Operator)
	b = res.Batch

	for _, kind := range StepKinds() {
		if step, _ := b.Step(kind); step.Status == StepPending {
			b = advance(t, tr, b, kind).Batch
		}
		res = advance(t, tr, b, kind)
		require.False(t, res.OutOfOrder)
		b = res.Batch
	}
	require.Equal(t, BatchComplete, b.Status)
	require.NotNil(t, b.ActualFinish)

	_, err := tr.Advance(b, StepPack, "op-7")
	require.ErrorIs(t, err, ErrInvalidBatchState)
}

func TestAdvanceRecordsStartingAndFinishingOperator(t *testing.T) {
	tr := NewTracker(fixedClock)
	b := freshBatch()

	started, err := tr.Advance(b, StepProduce, "op-7")
	require.NoError(t, err)
	require.Empty(t, started.Step.FinishedBy)

	done, err := tr.Advance(started.Batch, StepProduce, " op-9 ")
	require.NoError(t, err)
	require.Equal(t, StepDone, done.Step.Status)
	require.Equal(t, "op-7", done.Step.Operator)
	require.Equal(t, "op-9", done.Step.FinishedBy)
	step, _ := done.Batch.Step(StepProduce)
	require.Equal(t, "op-9", step.FinishedBy)
}

func TestAdvanceOutOfOrderIsFlagged(t *testing.T) {
	tr := NewTracker(fixedClock)
	res := advance(t, tr, freshBatch(), StepLabel)
	require.True(t, res.OutOfOrder)
	require.True(t, res.Step.OutOfOrder)
	require.Equal(t, BatchWIP, res.Batch.Status)
	step, _ := res.Batch.Step(StepLabel)
	require.True(t, step.OutOfOrder)
}

func TestAdvanceRejectsInvalidMoves(t *testing.T) {
	tr := NewTracker(fixedClock)
	b := freshBatch()
	b = advance(t, tr, b, StepProduce).Batch
	b = advance(t, tr, b, StepProduce).Batch

	_, err := tr.Advance(b, StepProduce, "op")
	require.ErrorIs(t, err, ErrInvalidStepTransition)

	_, err = tr.Advance(b, StepKind("polish"), "op")
	require.ErrorIs(t, err, ErrInvalidStepTransition)

	held, err := tr.Hold(b, "line jam")
	require.NoError(t, err)
	_, err = tr.Advance(held, StepBottleCap, "op")
	require.ErrorIs(t, err, ErrInvalidBatchState)
}

func TestReadyFor(t *testing.T) {
	steps := NewSteps(uuid.New())
	ok, missing := ReadyFor(steps, orders.StatusInLabeling, true)
	require.False(t, ok)
	require.Equal(t, StepBottleCap, missing)

	steps[1].Status = StepDone
	ok, _ = ReadyFor(steps, orders.StatusInLabeling, true)
	require.True(t, ok)

	ok, missing = ReadyFor(steps, orders.StatusInPacking, true)
	require.False(t, ok)
	require.Equal(t, StepLabel, missing)
	ok, _ = ReadyFor(steps, orders.StatusInPacking, false)
	require.True(t, ok)

	ok, missing = ReadyFor(steps, orders.StatusPacked, false)
	require.False(t, ok)
	require.Equal(t, StepPack, missing)

	ok, _ = ReadyFor(steps, orders.StatusInvoiced, false)
	require.True(t, ok)
}

func TestRecordOutputBounds(t *testing.T) {
	tr := NewTracker(fixedClock)
	b := freshBatch()
	_, err := tr.RecordOutput(b, 10, 0)
	require.ErrorIs(t, err, ErrInvalidBatchState)

	b = advance(t, tr, b, StepProduce).Batch
	_, err = tr.RecordOutput(b, 90, 11)
	require.ErrorIs(t, err, ErrInvalidOutput)
	_, err = tr.RecordOutput(b, -1, 0)
	require.ErrorIs(t, err, ErrInvalidOutput)

	out, err := tr.RecordOutput(b, 95, 5)
	require.NoError(t, err)
	require.Equal(t, 95, out.GoodQty)
	require.Equal(t, 5, out.ScrapQty)
}

func TestHoldResumeRestoresStatus(t *testing.T) {
	tr := NewTracker(fixedClock)
	b := advance(t, tr, freshBatch(), StepProduce).Batch

	held, err := tr.Hold(b, "caps missing")
	require.NoError(t, err)
	require.Equal(t, BatchHold, held.Status)
	require.Equal(t, "caps missing", *held.HoldReason)

	_, err = tr.Hold(held, "again")
	require.ErrorIs(t, err, ErrInvalidBatchState)

	resumed, err := tr.Resume(held)
	require.NoError(t, err)
	require.Equal(t, BatchWIP, resumed.Status)
	require.Nil(t, resumed.PreHoldStatus)

	_, err = tr.Resume(resumed)
	require.ErrorIs(t, err, ErrInvalidBatchState)
}
