// Package postgres implements the storage contracts backed by PostgreSQL.
package postgres

import (
	"database/sql"
	stderrors "errors"

	"github.com/lib/pq"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. All queries
// are parameterized; nothing is ever interpolated into SQL text.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

const uniqueViolation = "23505"

// wrapErr maps driver errors into the error taxonomy so callers never see
// driver-specific strings.
func wrapErr(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(resource, id)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Conflict("duplicate " + resource).WithDetails("id", id)
	}
	return errors.DatabaseError(operation, err)
}
