package sqlrepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/store"
)

const logColumns = `id, run_id, stage, status, error_kind, rows_in, rows_out, attempts, started_at, duration_ms, error_detail`

// AppendExecutionLog inserts entry. The log is append only.
func (r *Repo) AppendExecutionLog(ctx context.Context, entry core.ExecutionLogEntry) error {
	runID, err := store.UUID(entry.RunID)
	if err != nil {
		return core.Configuration("sqlrepo.append_execution_log", err)
	}

	_, err = r.db.Execute(ctx, `
		INSERT INTO public.pipeline_execution_log
			(run_id, stage, status, error_kind, rows_in, rows_out, attempts, started_at, duration_ms, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		runID, entry.Stage, entry.Status, store.Text(entry.ErrorKind),
		int32(entry.RowsIn), int32(entry.RowsOut), int32(entry.Attempts),
		entry.StartedAt, entry.DurationMS, store.Text(entry.ErrorDetail),
	)
	if err != nil {
		return fmt.Errorf("append execution log: %w", err)
	}
	return nil
}

// RecentRuns returns the entries of the limit most recent runs, newest run
// first and stages in append order.
func (r *Repo) RecentRuns(ctx context.Context, limit int) ([]core.ExecutionLogEntry, error) {
	rows, err := r.db.Query(ctx, `
		WITH recent AS (
			SELECT run_id, min(started_at) AS first_started
			FROM public.pipeline_execution_log
			GROUP BY run_id
			ORDER BY first_started DESC
			LIMIT $1
		)
		SELECT `+prefixed("l.", logColumns)+`
		FROM public.pipeline_execution_log l
		JOIN recent USING (run_id)
		ORDER BY recent.first_started DESC, l.id`, int32(limit))
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, scanLogEntry)
	return out, store.ClassifyError("sqlrepo.recent_runs", err)
}

// RunLog returns one run's entries in append order.
func (r *Repo) RunLog(ctx context.Context, runID string) ([]core.ExecutionLogEntry, error) {
	id, err := store.UUID(runID)
	if err != nil {
		// Not a run this store could have written.
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+logColumns+`
		FROM public.pipeline_execution_log
		WHERE run_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, scanLogEntry)
	return out, store.ClassifyError("sqlrepo.run_log", err)
}

func scanLogEntry(row pgx.CollectableRow) (core.ExecutionLogEntry, error) {
	var (
		e                         core.ExecutionLogEntry
		runID                     pgtype.UUID
		kind, detail              pgtype.Text
		rowsIn, rowsOut, attempts int32
	)
	err := row.Scan(&e.ID, &runID, &e.Stage, &e.Status, &kind, &rowsIn, &rowsOut, &attempts,
		&e.StartedAt, &e.DurationMS, &detail)
	e.RunID = store.UUIDString(runID)
	e.ErrorKind = kind.String
	e.ErrorDetail = detail.String
	e.RowsIn = int(rowsIn)
	e.RowsOut = int(rowsOut)
	e.Attempts = int(attempts)
	return e, err
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}
