package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/ecompipe/internal/config"
	"github.com/JonMunkholm/ecompipe/internal/core"
)

// conn is satisfied by both *pgxpool.Pool and pgx.Tx.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// PgStore is the PostgreSQL Store backed by a pgx connection pool.
type PgStore struct {
	pool *pgxpool.Pool
	querier
}

// Open parses cfg, connects the pool and pings the database.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*PgStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, core.Configuration("store.open", fmt.Errorf("parse database URL: %w", err))
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, ClassifyError("store.open", err)
	}

	s := NewPgStore(pool)
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPgStore wraps an existing pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, querier: querier{c: pool}}
}

// Pool exposes the underlying pool for callers that need pgx directly.
func (s *PgStore) Pool() *pgxpool.Pool { return s.pool }

// Ping verifies connectivity.
func (s *PgStore) Ping(ctx context.Context) error {
	return ClassifyError("store.ping", s.pool.Ping(ctx))
}

// Close closes the pool.
func (s *PgStore) Close() { s.pool.Close() }

// Begin starts a transaction.
func (s *PgStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ClassifyError("store.begin", err)
	}
	return &pgTx{tx: tx, querier: querier{c: tx}}, nil
}

type pgTx struct {
	tx pgx.Tx
	querier
}

func (t *pgTx) Commit(ctx context.Context) error {
	return ClassifyError("store.commit", t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return ClassifyError("store.rollback", err)
}

// querier implements Querier over a conn, classifying every error.
type querier struct {
	c conn
}

func (q querier) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := q.c.Exec(ctx, query, args...)
	if err != nil {
		return 0, ClassifyError("store.execute", err)
	}
	return tag.RowsAffected(), nil
}

func (q querier) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	rows, err := q.c.Query(ctx, query, args...)
	if err != nil {
		return nil, ClassifyError("store.query", err)
	}
	return rows, nil
}

func (q querier) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return classifiedRow{row: q.c.QueryRow(ctx, query, args...)}
}

func (q querier) BulkWrite(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := q.c.CopyFrom(ctx, Identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, ClassifyError("store.bulk_write "+table, err)
	}
	return n, nil
}

type classifiedRow struct {
	row pgx.Row
}

func (r classifiedRow) Scan(dest ...any) error {
	return ClassifyError("store.scan", r.row.Scan(dest...))
}

// Identifier splits a schema-qualified table name for COPY.
func Identifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}
