package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/bottleops/bottleops/internal/shared"
)

func TestMapErrorConflicts(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := MapError(fmt.Errorf("update batch: %w", &pgconn.PgError{Code: code, Message: "could not serialize"}))
		require.ErrorIs(t, err, shared.ErrConcurrentModification, code)
	}
}

func TestMapErrorPassThrough(t *testing.T) {
	require.NoError(t, MapError(nil))
	plain := errors.New("boom")
	require.Same(t, plain, MapError(plain))

	unique := &pgconn.PgError{Code: "23505"}
	require.Equal(t, error(unique), MapError(unique))
	require.True(t, IsUniqueViolation(fmt.Errorf("wrap: %w", unique)))
	require.False(t, IsUniqueViolation(plain))
}
