package production

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/pricing"
	"github.com/bottleops/bottleops/internal/sequence"
)

var (
	productID = uuid.MustParse("00000000-0000-0000-0000-000000000100")
	lineID    = uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	orderID   = uuid.MustParse("00000000-0000-0000-0000-00000000f001")
	clock     = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
)

func fixedClock() time.Time { return clock }

func testProducts() map[uuid.UUID]pricing.Product {
	return map[uuid.UUID]pricing.Product{
		productID: {ID: productID, Code: "BTL-100", BatchPrefix: "B100", PackSize: 12},
	}
}

func testOrder(bottles int) orders.Order {
	return orders.Order{
		ID:     orderID,
		Number: "SO-2026-000042",
		Status: orders.StatusInQueue,
		Lines: []orders.Line{
			{ID: lineID, OrderID: orderID, ProductID: productID, ProductCode: "BTL-100", BottleQty: bottles},
		},
	}
}

func allocationsOf(batches []Batch) []Allocation {
	var out []Allocation
	for _, b := range batches {
		out = append(out, b.Allocations...)
	}
	return out
}

func TestPlanFiveHundredBottlesThenOverAllocate(t *testing.T) {
	store := sequence.NewMemoryStore()
	planner := NewPlanner(sequence.NewAllocator(store), fixedClock)
	ctx := context.Background()
	order := testOrder(500)

	batches, err := planner.Plan(ctx, PlanInput{
		Order:    order,
		Products: testProducts(),
		Requests: []PlanRequest{
			{OrderLineID: lineID, Quantity: 200},
			{OrderLineID: lineID, Quantity: 200},
			{OrderLineID: lineID, Quantity: 100},
		},
	})
	require.NoError(t, err)
	require.Len(t, batches, 3)
	require.Equal(t, []string{"B100-0001", "B100-0002", "B100-0003"}, []string{batches[0].Number, batches[1].Number, batches[2].Number})
	for _, b := range batches {
		require.Equal(t, BatchQueued, b.Status)
		require.Len(t, b.Steps, 4)
		require.Equal(t, b.PlannedQty, b.AllocatedQty())
		for _, s := range b.Steps {
			require.Equal(t, StepPending, s.Status)
		}
	}

	_, err = planner.Plan(ctx, PlanInput{
		Order:    order,
		Existing: allocationsOf(batches),
		Products: testProducts(),
		Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 1}},
	})
	var over *OverAllocationError
	require.True(t, errors.As(err, &over))
	require.ErrorIs(t, err, ErrOverAllocation)
	require.Equal(t, 1, over.Requested)
	require.Equal(t, 0, over.Remaining)
	require.Equal(t, 500, over.BottleQty)

	next, err := store.Next(ctx, sequence.Key{Prefix: "B100"})
	require.NoError(t, err)
	require.Equal(t, int64(4), next, "rejected plan must not consume numbers")
}

func TestPlanRejectsWholeRequestWhenAnyLineOverflows(t *testing.T) {
	store := sequence.NewMemoryStore()
	planner := NewPlanner(sequence.NewAllocator(store), fixedClock)
	_, err := planner.Plan(context.Background(), PlanInput{
		Order:    testOrder(100),
		Products: testProducts(),
		Requests: []PlanRequest{
			{OrderLineID: lineID, Quantity: 60},
			{OrderLineID: lineID, Quantity: 60},
		},
	})
	require.ErrorIs(t, err, ErrOverAllocation)
	next, _ := store.Next(context.Background(), sequence.Key{Prefix: "B100"})
	require.Equal(t, int64(1), next)
}

func TestPlanValidatesOrderAndRequests(t *testing.T) {
	planner := NewPlanner(sequence.NewAllocator(sequence.NewMemoryStore()), fixedClock)
	ctx := context.Background()

	draft := testOrder(10)
	draft.Status = orders.StatusDraft
	_, err := planner.Plan(ctx, PlanInput{Order: draft, Products: testProducts(), Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 1}}})
	require.ErrorIs(t, err, ErrOrderNotPlannable)

	_, err = planner.Plan(ctx, PlanInput{Order: testOrder(10), Products: testProducts(), Requests: []PlanRequest{{OrderLineID: uuid.New(), Quantity: 1}}})
	require.ErrorIs(t, err, ErrInvalidPlan)

	_, err = planner.Plan(ctx, PlanInput{Order: testOrder(10), Products: testProducts(), Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 0}}})
	require.ErrorIs(t, err, ErrInvalidPlan)

	_, err = planner.Plan(ctx, PlanInput{Order: testOrder(10), Products: nil, Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 1}}})
	require.ErrorIs(t, err, pricing.ErrProductNotFound)
}

func TestPlanSharedBatchPrefixNeverRepeatsNumbers(t *testing.T) {
	largeID := uuid.MustParse("00000000-0000-0000-0000-000000000200")
	largeLine := uuid.MustParse("00000000-0000-0000-0000-00000000a002")
	products := map[uuid.UUID]pricing.Product{
		productID: {ID: productID, Code: "BTL-100", BatchPrefix: "BTL", PackSize: 12},
		largeID:     {ID: largeID, Code: "BTL-250", BatchPrefix: "BTL", PackSize: 12},
	}
	order := testOrder(100)
	order.Lines = append(order.Lines, orders.Line{ID: largeLine, OrderID: orderID, ProductID: largeID, ProductCode: "BTL-250", BottleQty: 100})

	planner := NewPlanner(sequence.NewAllocator(sequence.NewMemoryStore()), fixedClock)
	batches, err := planner.Plan(context.Background(), PlanInput{
		Order:    order,
		Products: products,
		Requests: []PlanRequest{
			{OrderLineID: lineID, Quantity: 50},
			{OrderLineID: largeLine, Quantity: 50},
		},
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, "BTL-0001", batches[0].Number)
	require.Equal(t, "BTL-0002", batches[1].Number)
	require.Equal(t, largeID, batches[1].ProductID)
}
