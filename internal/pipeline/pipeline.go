// Package pipeline sequences a run: generate, ingest, validate, transform,
// load_warehouse and aggregate. It owns the retry and quality-gate policy,
// writes one execution-log entry per stage, and hosts the fixture
// generator, CSV ingestion, the daily scheduler and raw-file retention.
package pipeline

import (
	"context"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/cleanse"
	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/scd"
	"github.com/JonMunkholm/ecompipe/internal/warehouse"
)

// Stage names in execution order.
const (
	StageGenerate      = "generate"
	StageIngest        = "ingest"
	StageValidate      = "validate"
	StageTransform     = "transform"
	StageLoadWarehouse = "load_warehouse"
	StageAggregate     = "aggregate"
)

// Stages lists every stage in execution order.
var Stages = []string{
	StageGenerate,
	StageIngest,
	StageValidate,
	StageTransform,
	StageLoadWarehouse,
	StageAggregate,
}

// Repository is the tier storage the controller reads and writes.
type Repository interface {
	// ReplaceStaging truncates and reloads one staging table in a transaction.
	ReplaceStaging(ctx context.Context, entity string, rows []core.StagedRecord) (int, error)
	Staged(ctx context.Context, entity string) ([]core.StagedRecord, error)

	// ProductionKeys returns the business keys already promoted for entity.
	ProductionKeys(ctx context.Context, entity string) ([]string, error)

	// UpsertProduction writes all batches in one transaction.
	UpsertProduction(ctx context.Context, batches map[string][]core.CleansedRecord) (map[string]int, error)

	Customers(ctx context.Context) ([]core.Customer, error)
	Products(ctx context.Context) ([]core.Product, error)
	Transactions(ctx context.Context) ([]core.Transaction, error)
	TransactionItems(ctx context.Context) ([]core.TransactionItem, error)

	AppendExecutionLog(ctx context.Context, entry core.ExecutionLogEntry) error
}

// Store is everything a run needs. sqlrepo.Repo and memstore.Store both
// satisfy it.
type Store interface {
	Repository
	scd.Store
	warehouse.Store
}

// QualitySummary is the per-entity gate outcome in a run result.
type QualitySummary struct {
	Score         float64 `json:"score"`
	Grade         string  `json:"grade"`
	RowsEvaluated int     `json:"rows_evaluated"`
	Findings      int     `json:"findings"`
	Passed        bool    `json:"passed"`
}

// RunResult is the structured outcome of a run. It is also the run summary
// document written to the report sink.
type RunResult struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	AsOf       time.Time `json:"as_of"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Stages     []core.ExecutionLogEntry   `json:"stages"`
	Quality    map[string]QualitySummary  `json:"quality,omitempty"`
	Transform  map[string]cleanse.Report  `json:"transform,omitempty"`
	Dimensions map[string]scd.Counts      `json:"dimensions,omitempty"`
	Facts      *warehouse.LoadResult      `json:"facts,omitempty"`
	Aggregates *warehouse.AggregateResult `json:"aggregates,omitempty"`
	Warnings   []string                   `json:"warnings,omitempty"`
}

// stageOutcome is what a stage function reports back to the controller.
type stageOutcome struct {
	rowsIn  int
	rowsOut int

	// warnings are non-fatal classified errors (quality gate passed
	// through, dropped rows, unresolved facts). The stage still succeeds.
	warnings []error

	// skipped marks a stage that had nothing to do.
	skipped bool
}
