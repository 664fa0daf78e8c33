package production

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/pricing"
	"github.com/bottleops/bottleops/internal/sequence"
	"github.com/bottleops/bottleops/internal/shared"
)

// ============================================================================
// MEMORY FAKES
// ============================================================================

type memoryRepo struct {
	orders  map[uuid.UUID]orders.Order
	batches map[uuid.UUID]Batch
	keys    map[string]struct{}
	audit   []shared.AuditLog
	seq     *sequence.MemoryStore
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:  make(map[uuid.UUID]orders.Order),
		batches: make(map[uuid.UUID]Batch),
		keys:    make(map[string]struct{}),
		seq:     sequence.NewMemoryStore(),
	}
}

// WithTx restores batches, keys and audit rows when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	batches := make(map[uuid.UUID]Batch, len(r.batches))
	for k, v := range r.batches {
		batches[k] = v
	}
	keys := make(map[string]struct{}, len(r.keys))
	for k := range r.keys {
		keys[k] = struct{}{}
	}
	audit := append([]shared.AuditLog(nil), r.audit...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.batches, r.keys, r.audit = batches, keys, audit
		return err
	}
	return nil
}

func (r *memoryRepo) GetBatch(_ context.Context, id uuid.UUID) (Batch, error) {
	b, ok := r.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (r *memoryRepo) ListBatches(_ context.Context, filter BatchFilter) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if filter.OrderID != nil && b.OrderID != *filter.OrderID {
			continue
		}
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *memoryRepo) BatchesForOrder(ctx context.Context, orderID uuid.UUID) ([]Batch, error) {
	return r.ListBatches(ctx, BatchFilter{OrderID: &orderID})
}

func (tx *memoryTx) LockOrder(_ context.Context, id uuid.UUID) (orders.Order, error) {
	o, ok := tx.repo.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (tx *memoryTx) OrderAllocations(_ context.Context, orderID uuid.UUID) ([]Allocation, error) {
	var out []Allocation
	for _, b := range tx.repo.batches {
		if b.OrderID == orderID {
			out = append(out, b.Allocations...)
		}
	}
	return out, nil
}

func (tx *memoryTx) LockBatches(_ context.Context, ids []uuid.UUID) ([]Batch, error) {
	out := make([]Batch, 0, len(ids))
	for _, id := range ids {
		b, ok := tx.repo.batches[id]
		if !ok {
			return nil, ErrBatchNotFound
		}
		out = append(out, b)
	}
	return out, nil
}

func (tx *memoryTx) InsertBatch(_ context.Context, b Batch) error {
	tx.repo.batches[b.ID] = b
	return nil
}

func (tx *memoryTx) UpdateBatch(_ context.Context, b Batch) (int64, error) {
	stored, ok := tx.repo.batches[b.ID]
	if !ok {
		return 0, ErrBatchNotFound
	}
	if stored.Version != b.Version {
		return 0, shared.ErrConcurrentModification
	}
	b.Version++
	b.Allocations = stored.Allocations
	b.Steps = stored.Steps
	tx.repo.batches[b.ID] = b
	return b.Version, nil
}

func (tx *memoryTx) ReplaceAllocations(_ context.Context, batchID uuid.UUID, allocs []Allocation) error {
	b := tx.repo.batches[batchID]
	b.Allocations = append([]Allocation(nil), allocs...)
	tx.repo.batches[batchID] = b
	return nil
}

func (tx *memoryTx) UpdateStep(_ context.Context, s Step) error {
	b := tx.repo.batches[s.BatchID]
	steps := append([]Step(nil), b.Steps...)
	for i := range steps {
		if steps[i].Kind == s.Kind {
			steps[i] = s
		}
	}
	b.Steps = steps
	tx.repo.batches[s.BatchID] = b
	return nil
}

func (tx *memoryTx) DeleteBatch(_ context.Context, id uuid.UUID) error {
	delete(tx.repo.batches, id)
	return nil
}

func (tx *memoryTx) ClaimIdempotency(_ context.Context, key, scope string) error {
	k := scope + "/" + key
	if _, ok := tx.repo.keys[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	tx.repo.keys[k] = struct{}{}
	return nil
}

func (tx *memoryTx) RecordAudit(_ context.Context, log shared.AuditLog) error {
	tx.repo.audit = append(tx.repo.audit, log)
	return nil
}

func (tx *memoryTx) Sequences() sequence.Store {
	return tx.repo.seq
}

type memoryCatalog map[uuid.UUID]pricing.Product

func (c memoryCatalog) GetProducts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]pricing.Product, error) {
	out := make(map[uuid.UUID]pricing.Product)
	for _, id := range ids {
		if p, ok := c[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func newTestService(repo *memoryRepo) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, memoryCatalog(testProducts()), nil, nil, logger).WithClock(fixedClock)
}

func seededRepo(bottles int) *memoryRepo {
	repo := newMemoryRepo()
	repo.orders[orderID] = testOrder(bottles)
	return repo
}

// ============================================================================
// TESTS
// ============================================================================

func TestServicePlanThenOverAllocateCreatesNothing(t *testing.T) {
	repo := seededRepo(500)
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.PlanBatches(ctx, PlanCommand{
		OrderID: orderID,
		Actor:   "planner",
		Requests: []PlanRequest{
			{OrderLineID: lineID, Quantity: 200},
			{OrderLineID: lineID, Quantity: 200},
			{OrderLineID: lineID, Quantity: 100},
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)
	require.Len(t, repo.audit, 3)

	_, err = svc.PlanBatches(ctx, PlanCommand{OrderID: orderID, Actor: "planner", Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 1}}})
	require.ErrorIs(t, err, ErrOverAllocation)
	require.Len(t, repo.batches, 3)
	require.Len(t, repo.audit, 3)
}

func TestServicePlanIdempotencyKey(t *testing.T) {
	repo := seededRepo(100)
	svc := newTestService(repo)
	ctx := context.Background()
	cmd := PlanCommand{OrderID: orderID, Actor: "planner", IdempotencyKey: "req-1", Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 10}}}

	_, err := svc.PlanBatches(ctx, cmd)
	require.NoError(t, err)
	_, err = svc.PlanBatches(ctx, cmd)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, repo.batches, 1)

	failing := PlanCommand{OrderID: orderID, Actor: "planner", IdempotencyKey: "req-2", Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 1000}}}
	_, err = svc.PlanBatches(ctx, failing)
	require.ErrorIs(t, err, ErrOverAllocation)
	failing.Requests[0].Quantity = 5
	_, err = svc.PlanBatches(ctx, failing)
	require.NoError(t, err, "a failed plan releases its key")
}

func TestServiceSplitAndMerge(t *testing.T) {
	repo := seededRepo(300)
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.PlanBatches(ctx, PlanCommand{OrderID: orderID, Actor: "planner", Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 300}}})
	require.NoError(t, err)
	original := created[0]

	parts, err := svc.SplitBatch(ctx, original.ID, []int{100, 100, 100}, "planner")
	require.NoError(t, err)
	require.Len(t, parts, 3)
	_, err = svc.GetBatch(ctx, original.ID)
	require.ErrorIs(t, err, ErrBatchNotFound)
	all, err := svc.ListBatches(ctx, BatchFilter{OrderID: &orderID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, b := range all {
		require.Len(t, b.Steps, 4)
		require.Equal(t, 100, b.AllocatedQty())
	}

	merged, err := svc.MergeBatches(ctx, parts[0].ID, []uuid.UUID{parts[1].ID, parts[2].ID}, "planner")
	require.NoError(t, err)
	require.Equal(t, 300, merged.PlannedQty)
	require.Equal(t, parts[0].Number, merged.Number)
	stored, err := svc.GetBatch(ctx, parts[0].ID)
	require.NoError(t, err)
	require.Equal(t, 300, stored.AllocatedQty())
	all, _ = svc.ListBatches(ctx, BatchFilter{})
	require.Len(t, all, 1)

	_, err = svc.MergeBatches(ctx, merged.ID, []uuid.UUID{merged.ID}, "planner")
	require.ErrorIs(t, err, ErrInvalidMerge)
}

func TestServiceSplitConservationLeavesBatch(t *testing.T) {
	repo := seededRepo(300)
	svc := newTestService(repo)
	ctx := context.Background()
	created, err := svc.PlanBatches(ctx, PlanCommand{OrderID: orderID, Actor: "planner", Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 300}}})
	require.NoError(t, err)

	_, err = svc.SplitBatch(ctx, created[0].ID, []int{100, 100}, "planner")
	require.ErrorIs(t, err, ErrConservationViolation)
	stored, err := svc.GetBatch(ctx, created[0].ID)
	require.NoError(t, err)
	require.Equal(t, 300, stored.PlannedQty)
}

func TestServiceAdvanceAndReadiness(t *testing.T) {
	repo := seededRepo(100)
	svc := newTestService(repo)
	ctx := context.Background()
	order := repo.orders[orderID]

	reason, err := svc.Readiness(ctx, order, orders.StatusInLabeling)
	require.NoError(t, err)
	require.Equal(t, "no production batches planned", reason)

	created, err := svc.PlanBatches(ctx, PlanCommand{OrderID: orderID, Actor: "planner", Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 100}}})
	require.NoError(t, err)
	id := created[0].ID

	res, err := svc.AdvanceStep(ctx, id, StepBottleCap, "op-1")
	require.NoError(t, err)
	require.True(t, res.OutOfOrder)
	require.Equal(t, BatchWIP, res.Batch.Status)
	require.Equal(t, "workflow.step.deviation", repo.audit[len(repo.audit)-1].Action)

	reason, err = svc.Readiness(ctx, order, orders.StatusInLabeling)
	require.NoError(t, err)
	require.Contains(t, reason, "bottle_cap")

	_, err = svc.AdvanceStep(ctx, id, StepBottleCap, "op-1")
	require.NoError(t, err)
	reason, err = svc.Readiness(ctx, order, orders.StatusInLabeling)
	require.NoError(t, err)
	require.Empty(t, reason)

	stored, err := svc.GetBatch(ctx, id)
	require.NoError(t, err)
	step, _ := stored.Step(StepBottleCap)
	require.Equal(t, StepDone, step.Status)
	require.True(t, step.OutOfOrder)

	_, err = svc.AdvanceStep(ctx, id, StepBottleCap, "")
	require.ErrorIs(t, err, shared.ErrActorRequired)
}

func TestServiceHoldOutputResume(t *testing.T) {
	repo := seededRepo(100)
	svc := newTestService(repo)
	ctx := context.Background()
	created, err := svc.PlanBatches(ctx, PlanCommand{OrderID: orderID, Actor: "planner", Requests: []PlanRequest{{OrderLineID: lineID, Quantity: 100}}})
	require.NoError(t, err)
	id := created[0].ID

	_, err = svc.RecordOutput(ctx, id, 10, 0, "qa")
	require.ErrorIs(t, err, ErrInvalidBatchState)

	held, err := svc.HoldBatch(ctx, id, "mould change", "planner")
	require.NoError(t, err)
	require.Equal(t, BatchHold, held.Status)
	_, err = svc.RecordOutput(ctx, id, 40, 2, "qa")
	require.ErrorIs(t, err, ErrInvalidBatchState, "held before production started")

	resumed, err := svc.ResumeBatch(ctx, id, "planner")
	require.NoError(t, err)
	require.Equal(t, BatchQueued, resumed.Status)

	_, err = svc.AdvanceStep(ctx, id, StepProduce, "op-1")
	require.NoError(t, err)
	out, err := svc.RecordOutput(ctx, id, 40, 2, "qa")
	require.NoError(t, err)
	require.Equal(t, 40, out.GoodQty)
	require.Equal(t, int64(5), out.Version)
}
