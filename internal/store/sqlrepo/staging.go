package sqlrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/store"
)

// stagingColumns returns the staging column list: metadata then the source
// columns in file order.
func stagingColumns(def core.EntityDefinition) []string {
	return append([]string{"row_num", "ingested_at"}, def.Columns()...)
}

// ReplaceStaging truncates the entity's staging table and copies rows in,
// in one transaction.
func (r *Repo) ReplaceStaging(ctx context.Context, entity string, rows []core.StagedRecord) (int, error) {
	def, ok := core.Get(entity)
	if !ok {
		return 0, core.Configuration("sqlrepo.replace_staging", fmt.Errorf("unknown entity %q", entity))
	}

	cols := def.Columns()
	values := make([][]any, len(rows))
	for i, rec := range rows {
		row := make([]any, 0, len(cols)+2)
		row = append(row, int32(rec.Row), rec.IngestedAt)
		for _, c := range cols {
			row = append(row, store.Text(rec.Values[c]))
		}
		values[i] = row
	}

	var n int64
	err := store.WithTx(ctx, r.db, func(tx store.Tx) error {
		if _, err := tx.Execute(ctx, "TRUNCATE "+def.StagingTable()); err != nil {
			return err
		}
		var err error
		n, err = tx.BulkWrite(ctx, def.StagingTable(), stagingColumns(def), values)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reload %s: %w", def.StagingTable(), err)
	}
	return int(n), nil
}

// Staged reads the entity's staging rows in source row order.
func (r *Repo) Staged(ctx context.Context, entity string) ([]core.StagedRecord, error) {
	def, ok := core.Get(entity)
	if !ok {
		return nil, core.Configuration("sqlrepo.staged", fmt.Errorf("unknown entity %q", entity))
	}

	cols := def.Columns()
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY row_num",
		strings.Join(stagingColumns(def), ", "), def.StagingTable())

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", def.StagingTable(), err)
	}
	defer rows.Close()

	var out []core.StagedRecord
	for rows.Next() {
		var (
			rowNum     int32
			ingestedAt time.Time
		)
		texts := make([]pgtype.Text, len(cols))
		dest := make([]any, 0, len(cols)+2)
		dest = append(dest, &rowNum, &ingestedAt)
		for i := range texts {
			dest = append(dest, &texts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, store.ClassifyError("sqlrepo.staged", err)
		}

		values := make(map[string]string, len(cols))
		for i, c := range cols {
			if texts[i].Valid {
				values[c] = texts[i].String
			}
		}
		out = append(out, core.StagedRecord{
			Entity:     entity,
			Row:        int(rowNum),
			IngestedAt: ingestedAt,
			Values:     values,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, store.ClassifyError("sqlrepo.staged", err)
	}
	return out, nil
}
