package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the product catalog and tier tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a catalog repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, code, name, pack_size, batch_prefix, kit_price, piece_price, tiered, updated_at`

// GetProduct loads a product with its tiers.
func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	products, err := r.GetProducts(ctx, []uuid.UUID{id})
	if err != nil {
		return Product{}, err
	}
	p, ok := products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, nil
}

// GetProductByCode loads a product by catalog code.
func (r *Repository) GetProductByCode(ctx context.Context, code string) (Product, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM products WHERE code = $1`, code).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, code)
		}
		return Product{}, err
	}
	return r.GetProduct(ctx, id)
}

// GetProducts loads several products keyed by id. Missing ids are omitted.
func (r *Repository) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	out := make(map[uuid.UUID]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachTiers(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListProducts returns the full catalog ordered by code.
func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Product
	byID := make(map[uuid.UUID]Product)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachTiers(ctx, byID); err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = byID[list[i].ID]
	}
	return list, nil
}

// UpsertProducts writes products by code and replaces their tier tables in one transaction.
func (r *Repository) UpsertProducts(ctx context.Context, products []Product) ([]Product, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if err := ValidateProduct(p); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		err := tx.QueryRow(ctx, `INSERT INTO products (id, code, name, pack_size, batch_prefix, kit_price, piece_price, tiered, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, pack_size = EXCLUDED.pack_size,
	batch_prefix = EXCLUDED.batch_prefix, kit_price = EXCLUDED.kit_price,
	piece_price = EXCLUDED.piece_price, tiered = EXCLUDED.tiered, updated_at = NOW()
RETURNING id, updated_at`,
			p.ID, p.Code, p.Name, p.PackSize, p.BatchPrefix, int64(p.KitPrice), int64(p.PiecePrice), p.Tiered,
		).Scan(&p.ID, &p.UpdatedAt)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("upsert product %s: %w", p.Code, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM product_price_tiers WHERE product_id = $1`, p.ID); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		for _, t := range p.Tiers {
			if _, err := tx.Exec(ctx, `INSERT INTO product_price_tiers (product_id, min_quantity, max_quantity, unit_price) VALUES ($1, $2, $3, $4)`,
				p.ID, t.MinQuantity, t.MaxQuantity, int64(t.UnitPrice)); err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
		}
		out = append(out, p)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) attachTiers(ctx context.Context, products map[uuid.UUID]Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(products))
	for id := range products {
		ids = append(ids, id)
	}
	rows, err := r.pool.Query(ctx, `SELECT product_id, min_quantity, max_quantity, unit_price
FROM product_price_tiers WHERE product_id = ANY($1) ORDER BY product_id, min_quantity`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			productID uuid.UUID
			t         Tier
			price     int64
		)
		if err := rows.Scan(&productID, &t.MinQuantity, &t.MaxQuantity, &price); err != nil {
			return err
		}
		t.UnitPrice = Money(price)
		p := products[productID]
		p.Tiers = append(p.Tiers, t)
		products[productID] = p
	}
	return rows.Err()
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p          Product
		kit, piece int64
	)
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.PackSize, &p.BatchPrefix, &kit, &piece, &p.Tiered, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	p.KitPrice = Money(kit)
	p.PiecePrice = Money(piece)
	return p, nil
}
