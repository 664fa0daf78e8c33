package sequence

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore keeps counters in the sequences table. Used inside a transaction,
// a rolled back allocation releases its value.
type PGStore struct {
	db Querier
}

// NewPGStore constructs a PGStore.
func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db}
}

// Next implements Store.
func (s *PGStore) Next(ctx context.Context, key Key) (int64, error) {
	var v int64
	err := s.db.QueryRow(ctx, `INSERT INTO sequences (prefix, scope, value) VALUES ($1, $2, 1)
ON CONFLICT (prefix, scope) DO UPDATE SET value = sequences.value + 1
RETURNING value`, key.Prefix, key.Scope).Scan(&v)
	return v, err
}
