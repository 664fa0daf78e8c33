package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bottleops/bottleops/internal/platform/db"
	"github.com/bottleops/bottleops/internal/sequence"
	"github.com/bottleops/bottleops/internal/shared"
)

// Repository provides PostgreSQL backed persistence for orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LockOrder(ctx context.Context, id uuid.UUID) (Order, error)
	InsertOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, o Order) (int64, error)
	ReplaceLines(ctx context.Context, orderID uuid.UUID, lines []Line) error
	AppendHistory(ctx context.Context, rec TransitionRecord) error
	CountBatches(ctx context.Context, orderID uuid.UUID) (int, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	Sequences() sequence.Store
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ============================================================================
// ORDER QUERIES
// ============================================================================

const orderColumns = `id, number, customer_ref, status, subtotal, deposit_required, deposit_amount,
	deposit_paid, deposit_status, label_required, parent_id, internal, source,
	pre_hold_status, hold_reason, version, created_at, updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetOrder retrieves an order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return getOrder(ctx, r.pool, id, false)
}

// ListOrders returns a page of orders without lines and the total count.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	where := []string{"1=1"}
	var args []any
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ParentID != nil {
		args = append(args, *filter.ParentID)
		where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, o)
	}
	return list, total, rows.Err()
}

// ListAddOns returns every add-on of parentID with lines loaded.
func (r *Repository) ListAddOns(ctx context.Context, parentID uuid.UUID) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE parent_id = $1 ORDER BY created_at, number`, parentID)
	if err != nil {
		return nil, err
	}
	var list []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		lines, err := getLines(ctx, r.pool, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Lines = lines
	}
	return list, nil
}

// History returns the status transition log of an order, oldest first.
func (r *Repository) History(ctx context.Context, orderID uuid.UUID) ([]TransitionRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, from_status, to_status, actor, reason, at
FROM order_status_history WHERE order_id = $1 ORDER BY at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.From, &rec.To, &rec.Actor, &rec.Reason, &rec.At); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func getOrder(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return Order{}, err
	}
	lines, err := getLines(ctx, q, id)
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines
	return o, nil
}

func getLines(ctx context.Context, q querier, orderID uuid.UUID) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, position, product_id, product_code, sell_mode,
	quantity, unit_price, bottle_qty, subtotal, tier_fallback
FROM order_lines WHERE order_id = $1 ORDER BY position, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Position, &l.ProductID, &l.ProductCode, &l.SellMode,
			&l.Quantity, &l.UnitPrice, &l.BottleQty, &l.Subtotal, &l.TierFallback); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.CustomerRef, &o.Status, &o.Subtotal, &o.DepositRequired, &o.DepositAmount,
		&o.DepositPaid, &o.DepositStatus, &o.LabelRequired, &o.ParentID, &o.Internal, &o.Source,
		&o.PreHoldStatus, &o.HoldReason, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (t *txRepo) LockOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *txRepo) InsertOrder(ctx context.Context, o Order) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO orders (id, number, customer_ref, status, subtotal, deposit_required,
	deposit_amount, deposit_paid, deposit_status, label_required, parent_id, internal, source,
	pre_hold_status, hold_reason, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $16)`,
		o.ID, o.Number, o.CustomerRef, o.Status, o.Subtotal, o.DepositRequired, o.DepositAmount,
		o.DepositPaid, o.DepositStatus, o.LabelRequired, o.ParentID, o.Internal, o.Source,
		o.PreHoldStatus, o.HoldReason, o.CreatedAt)
	if err != nil {
		return err
	}
	return t.ReplaceLines(ctx, o.ID, o.Lines)
}

// UpdateOrder writes header fields when the stored version still matches o.Version.
func (t *txRepo) UpdateOrder(ctx context.Context, o Order) (int64, error) {
	var version int64
	err := t.tx.QueryRow(ctx, `UPDATE orders SET status = $3, subtotal = $4, deposit_required = $5,
	deposit_amount = $6, deposit_paid = $7, deposit_status = $8, label_required = $9,
	pre_hold_status = $10, hold_reason = $11, version = version + 1, updated_at = $12
WHERE id = $1 AND version = $2
RETURNING version`,
		o.ID, o.Version, o.Status, o.Subtotal, o.DepositRequired, o.DepositAmount, o.DepositPaid,
		o.DepositStatus, o.LabelRequired, o.PreHoldStatus, o.HoldReason, o.UpdatedAt).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: order %s version %d", shared.ErrConcurrentModification, o.ID, o.Version)
		}
		return 0, err
	}
	return version, nil
}

func (t *txRepo) ReplaceLines(ctx context.Context, orderID uuid.UUID, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO order_lines (id, order_id, position, product_id, product_code, sell_mode,
	quantity, unit_price, bottle_qty, subtotal, tier_fallback)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			l.ID, orderID, l.Position, l.ProductID, l.ProductCode, l.SellMode,
			l.Quantity, l.UnitPrice, l.BottleQty, l.Subtotal, l.TierFallback)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) AppendHistory(ctx context.Context, rec TransitionRecord) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO order_status_history (order_id, from_status, to_status, actor, reason, at)
VALUES ($1, $2, $3, $4, $5, $6)`, rec.OrderID, rec.From, rec.To, rec.Actor, rec.Reason, rec.At)
	return err
}

func (t *txRepo) CountBatches(ctx context.Context, orderID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM production_batches WHERE order_id = $1`, orderID).Scan(&n)
	return n, err
}

func (t *txRepo) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return nil
}

func (t *txRepo) Sequences() sequence.Store {
	return sequence.NewPGStore(t.tx)
}
