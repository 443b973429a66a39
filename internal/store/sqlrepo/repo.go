// Package sqlrepo implements the pipeline's repositories in SQL on top of the
// store adapter: staging and production tiers, SCD dimensions, the warehouse
// star schema and the execution log.
package sqlrepo

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/ecompipe/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Repo is the Postgres repository set.
type Repo struct {
	db store.Store
}

// New creates a Repo over db.
func New(db store.Store) *Repo {
	return &Repo{db: db}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db store.Querier) error {
	if _, err := db.Execute(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	slog.Info("schema applied")
	return nil
}

// Schema returns the embedded DDL.
func Schema() string { return schemaSQL }
