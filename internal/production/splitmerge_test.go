package production

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bottleops/bottleops/internal/sequence"
)

func plannedBatch(t *testing.T, numbers NumberSource, qty int) Batch {
	t.Helper()
	batches, err := NewPlanner(numbers, fixedClock).Plan(context.Background(), PlanInput{
		Order:    testOrder(1000),
		Products: testProducts(),
		Requests: []PlanRequest{{OrderLineID: lineID, Quantity: qty}},
	})
	require.NoError(t, err)
	return batches[0]
}

func TestSplitThreeHundredIntoThree(t *testing.T) {
	numbers := sequence.NewAllocator(sequence.NewMemoryStore())
	original := plannedBatch(t, numbers, 300)

	parts, err := Split(context.Background(), numbers, original, testProducts()[productID], []int{100, 100, 100}, clock)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	total := 0
	for _, b := range parts {
		require.NotEqual(t, original.ID, b.ID)
		require.NotEqual(t, original.Number, b.Number)
		require.Equal(t, original.OrderID, b.OrderID)
		require.Equal(t, BatchQueued, b.Status)
		require.Len(t, b.Steps, 4)
		require.Equal(t, b.ID, b.Steps[0].BatchID)
		require.Equal(t, 100, b.AllocatedQty())
		require.Equal(t, b.ID, b.Allocations[0].BatchID)
		total += b.PlannedQty
	}
	require.Equal(t, original.PlannedQty, total)
}

func TestSplitDistributesMixedAllocations(t *testing.T) {
	numbers := sequence.NewAllocator(sequence.NewMemoryStore())
	other := uuid.New()
	b := plannedBatch(t, numbers, 10)
	b.Allocations = []Allocation{
		{BatchID: b.ID, OrderLineID: lineID, Quantity: 6},
		{BatchID: b.ID, OrderLineID: other, Quantity: 4},
	}
	parts, err := Split(context.Background(), numbers, b, testProducts()[productID], []int{3, 7}, clock)
	require.NoError(t, err)
	require.Equal(t, []Allocation{{BatchID: parts[0].ID, OrderLineID: lineID, Quantity: 3}}, parts[0].Allocations)
	require.Equal(t, []Allocation{
		{BatchID: parts[1].ID, OrderLineID: lineID, Quantity: 3},
		{BatchID: parts[1].ID, OrderLineID: other, Quantity: 4},
	}, parts[1].Allocations)
}

func TestSplitRejections(t *testing.T) {
	numbers := sequence.NewAllocator(sequence.NewMemoryStore())
	product := testProducts()[productID]
	b := plannedBatch(t, numbers, 300)
	ctx := context.Background()

	_, err := Split(ctx, numbers, b, product, []int{100, 100}, clock)
	var cv *ConservationViolationError
	require.True(t, errors.As(err, &cv))
	require.Equal(t, 300, cv.Expected)
	require.Equal(t, 200, cv.Actual)

	_, err = Split(ctx, numbers, b, product, []int{300}, clock)
	require.ErrorIs(t, err, ErrInvalidSplit)

	_, err = Split(ctx, numbers, b, product, []int{301, -1}, clock)
	require.ErrorIs(t, err, ErrInvalidSplit)

	wip := b
	wip.Status = BatchWIP
	_, err = Split(ctx, numbers, wip, product, []int{150, 150}, clock)
	require.ErrorIs(t, err, ErrInvalidBatchState)
}

func TestMergeConservesQuantities(t *testing.T) {
	numbers := sequence.NewAllocator(sequence.NewMemoryStore())
	target := plannedBatch(t, numbers, 100)
	a := plannedBatch(t, numbers, 50)
	b := plannedBatch(t, numbers, 25)

	merged, err := Merge(target, []Batch{a, b}, clock)
	require.NoError(t, err)
	require.Equal(t, target.Number, merged.Number)
	require.Equal(t, 175, merged.PlannedQty)
	require.Equal(t, 175, merged.AllocatedQty())
	require.Len(t, merged.Allocations, 1)
	require.Equal(t, target.Steps, merged.Steps)
	require.Equal(t, 100, target.PlannedQty, "input batch must not be mutated")
}

func TestMergeRejections(t *testing.T) {
	numbers := sequence.NewAllocator(sequence.NewMemoryStore())
	target := plannedBatch(t, numbers, 100)
	src := plannedBatch(t, numbers, 50)

	_, err := Merge(target, []Batch{target}, clock)
	require.ErrorIs(t, err, ErrInvalidMerge)

	_, err = Merge(target, []Batch{src, src}, clock)
	require.ErrorIs(t, err, ErrInvalidMerge)

	_, err = Merge(target, nil, clock)
	require.ErrorIs(t, err, ErrInvalidMerge)

	started := src
	started.Status = BatchWIP
	_, err = Merge(target, []Batch{started}, clock)
	require.ErrorIs(t, err, ErrInvalidBatchState)

	foreign := src
	foreign.OrderID = uuid.New()
	_, err = Merge(target, []Batch{foreign}, clock)
	require.ErrorIs(t, err, ErrInvalidMerge)

	done := target
	done.Status = BatchComplete
	_, err = Merge(done, []Batch{src}, clock)
	require.ErrorIs(t, err, ErrInvalidBatchState)

	wipTarget := target
	wipTarget.Status = BatchWIP
	_, err = Merge(wipTarget, []Batch{src}, clock)
	require.NoError(t, err)
}
