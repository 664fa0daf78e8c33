package production

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/platform/db"
	"github.com/bottleops/bottleops/internal/sequence"
	"github.com/bottleops/bottleops/internal/shared"
)

// Repository provides PostgreSQL backed persistence for batches.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	// LockOrder loads the order header and lines, locking the lines.
	LockOrder(ctx context.Context, id uuid.UUID) (orders.Order, error)
	OrderAllocations(ctx context.Context, orderID uuid.UUID) ([]Allocation, error)
	// LockBatches loads batches with allocations and steps in the given order.
	LockBatches(ctx context.Context, ids []uuid.UUID) ([]Batch, error)
	InsertBatch(ctx context.Context, b Batch) error
	UpdateBatch(ctx context.Context, b Batch) (int64, error)
	ReplaceAllocations(ctx context.Context, batchID uuid.UUID, allocs []Allocation) error
	UpdateStep(ctx context.Context, s Step) error
	DeleteBatch(ctx context.Context, id uuid.UUID) error
	ClaimIdempotency(ctx context.Context, key, scope string) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
	Sequences() sequence.Store
}

type txRepo struct {
	tx      pgx.Tx
	auditor *shared.AuditLogger
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, auditor: shared.NewAuditLogger(tx)})
	})
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const batchColumns = `id, number, order_id, product_id, product_code, status, planned_qty, good_qty, scrap_qty,
	priority, planned_start, planned_finish, actual_start, actual_finish, pre_hold_status, hold_reason,
	version, created_at, updated_at`

// ============================================================================
// QUERIES
// ============================================================================

// GetBatch loads a batch with allocations and steps.
func (r *Repository) GetBatch(ctx context.Context, id uuid.UUID) (Batch, error) {
	list, err := loadBatches(ctx, r.pool, `SELECT `+batchColumns+` FROM production_batches WHERE id = $1`, id)
	if err != nil {
		return Batch{}, err
	}
	if len(list) == 0 {
		return Batch{}, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return list[0], nil
}

// ListBatches returns batches matching filter, ordered by priority then number.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	where := []string{"1=1"}
	var args []any
	if filter.OrderID != nil {
		args = append(args, *filter.OrderID)
		where = append(where, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + batchColumns + ` FROM production_batches WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY priority DESC, number`
	return loadBatches(ctx, r.pool, query, args...)
}

// BatchesForOrder returns every batch of an order with steps loaded.
func (r *Repository) BatchesForOrder(ctx context.Context, orderID uuid.UUID) ([]Batch, error) {
	return r.ListBatches(ctx, BatchFilter{OrderID: &orderID})
}

func loadBatches(ctx context.Context, q querier, query string, args ...any) ([]Batch, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var list []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Allocations, err = loadAllocations(ctx, q, list[i].ID); err != nil {
			return nil, err
		}
		if list[i].Steps, err = loadSteps(ctx, q, list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func loadAllocations(ctx context.Context, q querier, batchID uuid.UUID) ([]Allocation, error) {
	rows, err := q.Query(ctx, `SELECT batch_id, order_line_id, quantity FROM batch_allocations
WHERE batch_id = $1 ORDER BY position`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.BatchID, &a.OrderLineID, &a.Quantity); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func loadSteps(ctx context.Context, q querier, batchID uuid.UUID) ([]Step, error) {
	rows, err := q.Query(ctx, `SELECT batch_id, kind, status, operator, finished_by, started_at, finished_at, out_of_order
FROM workflow_steps WHERE batch_id = $1 ORDER BY seq`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.BatchID, &s.Kind, &s.Status, &s.Operator, &s.FinishedBy, &s.StartedAt, &s.FinishedAt, &s.OutOfOrder); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.Number, &b.OrderID, &b.ProductID, &b.ProductCode, &b.Status, &b.PlannedQty,
		&b.GoodQty, &b.ScrapQty, &b.Priority, &b.PlannedStart, &b.PlannedFinish, &b.ActualStart,
		&b.ActualFinish, &b.PreHoldStatus, &b.HoldReason, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (t *txRepo) LockOrder(ctx context.Context, id uuid.UUID) (orders.Order, error) {
	var o orders.Order
	err := t.tx.QueryRow(ctx, `SELECT id, number, status, label_required, internal, version
FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&o.ID, &o.Number, &o.Status, &o.LabelRequired, &o.Internal, &o.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
		}
		return orders.Order{}, err
	}
	rows, err := t.tx.Query(ctx, `SELECT id, order_id, position, product_id, product_code, sell_mode, quantity, bottle_qty
FROM order_lines WHERE order_id = $1 ORDER BY position, id FOR UPDATE`, id)
	if err != nil {
		return orders.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l orders.Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Position, &l.ProductID, &l.ProductCode, &l.SellMode, &l.Quantity, &l.BottleQty); err != nil {
			return orders.Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (t *txRepo) OrderAllocations(ctx context.Context, orderID uuid.UUID) ([]Allocation, error) {
	rows, err := t.tx.Query(ctx, `SELECT a.batch_id, a.order_line_id, a.quantity
FROM batch_allocations a JOIN production_batches b ON b.id = a.batch_id
WHERE b.order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.BatchID, &a.OrderLineID, &a.Quantity); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *txRepo) LockBatches(ctx context.Context, ids []uuid.UUID) ([]Batch, error) {
	list, err := loadBatches(ctx, t.tx, `SELECT `+batchColumns+` FROM production_batches WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]Batch, len(list))
	for _, b := range list {
		byID[b.ID] = b
	}
	out := make([]Batch, 0, len(ids))
	for _, id := range ids {
		b, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
		}
		out = append(out, b)
	}
	return out, nil
}

func (t *txRepo) InsertBatch(ctx context.Context, b Batch) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO production_batches (id, number, order_id, product_id, product_code, status,
	planned_qty, good_qty, scrap_qty, priority, planned_start, planned_finish, actual_start, actual_finish,
	pre_hold_status, hold_reason, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $17)`,
		b.ID, b.Number, b.OrderID, b.ProductID, b.ProductCode, b.Status, b.PlannedQty, b.GoodQty, b.ScrapQty,
		b.Priority, b.PlannedStart, b.PlannedFinish, b.ActualStart, b.ActualFinish, b.PreHoldStatus, b.HoldReason, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", b.Number, err)
	}
	if err := t.ReplaceAllocations(ctx, b.ID, b.Allocations); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, s := range b.Steps {
		batch.Queue(`INSERT INTO workflow_steps (batch_id, kind, seq, status, operator, finished_by, started_at, finished_at, out_of_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, b.ID, s.Kind, s.Kind.Index(), s.Status, s.Operator, s.FinishedBy, s.StartedAt, s.FinishedAt, s.OutOfOrder)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

// UpdateBatch writes batch header fields when the stored version still matches b.Version.
func (t *txRepo) UpdateBatch(ctx context.Context, b Batch) (int64, error) {
	var version int64
	err := t.tx.QueryRow(ctx, `UPDATE production_batches SET status = $3, planned_qty = $4, good_qty = $5,
	scrap_qty = $6, priority = $7, actual_start = $8, actual_finish = $9, pre_hold_status = $10,
	hold_reason = $11, version = version + 1, updated_at = $12
WHERE id = $1 AND version = $2
RETURNING version`,
		b.ID, b.Version, b.Status, b.PlannedQty, b.GoodQty, b.ScrapQty, b.Priority, b.ActualStart,
		b.ActualFinish, b.PreHoldStatus, b.HoldReason, b.UpdatedAt).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: batch %s version %d", shared.ErrConcurrentModification, b.Number, b.Version)
		}
		return 0, err
	}
	return version, nil
}

func (t *txRepo) ReplaceAllocations(ctx context.Context, batchID uuid.UUID, allocs []Allocation) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM batch_allocations WHERE batch_id = $1`, batchID); err != nil {
		return err
	}
	if len(allocs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, a := range allocs {
		batch.Queue(`INSERT INTO batch_allocations (batch_id, order_line_id, position, quantity) VALUES ($1, $2, $3, $4)`,
			batchID, a.OrderLineID, i+1, a.Quantity)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) UpdateStep(ctx context.Context, s Step) error {
	tag, err := t.tx.Exec(ctx, `UPDATE workflow_steps SET status = $3, operator = $4, finished_by = $5,
	started_at = $6, finished_at = $7, out_of_order = $8 WHERE batch_id = $1 AND kind = $2`,
		s.BatchID, s.Kind, s.Status, s.Operator, s.FinishedBy, s.StartedAt, s.FinishedAt, s.OutOfOrder)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: step %s of batch %s", ErrBatchNotFound, s.Kind, s.BatchID)
	}
	return nil
}

// DeleteBatch removes the batch with its allocations and steps.
func (t *txRepo) DeleteBatch(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM workflow_steps WHERE batch_id = $1`, id); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM batch_allocations WHERE batch_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM production_batches WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return nil
}

func (t *txRepo) ClaimIdempotency(ctx context.Context, key, scope string) error {
	return shared.NewIdempotencyStore(t.tx).CheckAndInsert(ctx, key, scope)
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.auditor.RecordTx(ctx, t.tx, log)
}

func (t *txRepo) Sequences() sequence.Store {
	return sequence.NewPGStore(t.tx)
}
