package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Queryable represents a database connection that can execute queries.
// Both *sql.DB and *sql.Tx implement this interface.
type Queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BaseRepository provides common functionality for all repositories.
type BaseRepository struct {
	db *DB
}

// NewBaseRepository creates a new base repository with the given database connection.
func NewBaseRepository(db *DB) BaseRepository {
	return BaseRepository{db: db}
}

// DB returns the underlying database connection.
func (r *BaseRepository) DB() *DB {
	return r.db
}

// Now returns the current time in UTC for database timestamps.
func (r *BaseRepository) Now() time.Time {
	return time.Now().UTC()
}

// Transaction executes a function within a database transaction.
func (r *BaseRepository) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return r.db.Transaction(ctx, fn)
}

// on picks the transaction when one is supplied, the pool otherwise.
func (r *BaseRepository) on(q Queryable) Queryable {
	if q != nil {
		return q
	}
	return r.db
}

// GenerateID creates a new random UUID for use as a primary key.
func GenerateID() string {
	return uuid.NewString()
}
