// Package store is the row store adapter: parameterized statements, bulk
// writes and transactions against PostgreSQL. Repositories (see sqlrepo) are
// written against the Querier and Store interfaces, never against pgx
// directly, so every statement passes through one error classifier.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier is the statement surface shared by the pool and a transaction.
type Querier interface {
	// Execute runs a statement and returns the number of affected rows.
	Execute(ctx context.Context, query string, args ...any) (int64, error)

	// Query runs a query. The caller must close the rows.
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)

	// QueryRow runs a query expected to return at most one row.
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row

	// BulkWrite copies rows into table using the COPY protocol.
	BulkWrite(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Tx is a store transaction. Rollback after Commit is a no-op.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the pooled entry point.
type Store interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close()
}
