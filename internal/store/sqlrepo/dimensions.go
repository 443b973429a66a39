package sqlrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/scd"
	"github.com/JonMunkholm/ecompipe/internal/store"
)

// dimensionTables maps dimension names to their tables. Dimension names
// are interpolated into SQL only through this map.
var dimensionTables = map[string]string{
	scd.DimCustomers: "warehouse.dim_customers",
	scd.DimProducts:  "warehouse.dim_products",
}

func dimensionTable(dimension string) (string, error) {
	table, ok := dimensionTables[dimension]
	if !ok {
		return "", core.Configuration("sqlrepo.dimension", fmt.Errorf("unknown dimension %q", dimension))
	}
	return table, nil
}

const versionColumns = "surrogate_key, business_key, attributes, is_current, effective_date, end_date"

func scanVersion(row pgx.CollectableRow) (scd.Version, error) {
	var (
		v         scd.Version
		effective time.Time
		end       pgtype.Date
	)
	if err := row.Scan(&v.SurrogateKey, &v.BusinessKey, &v.Attributes, &v.IsCurrent, &effective, &end); err != nil {
		return scd.Version{}, err
	}
	v.EffectiveDate = core.Day(effective)
	v.EndDate = store.TimePtr(end)
	return v, nil
}

// BeginDimension opens a transaction over one dimension.
func (r *Repo) BeginDimension(ctx context.Context, dimension string) (scd.Tx, error) {
	table, err := dimensionTable(dimension)
	if err != nil {
		return nil, err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &dimTx{tx: tx, dimension: dimension, table: table}, nil
}

// History returns the version chain of businessKey ordered by effective date.
func (r *Repo) History(ctx context.Context, dimension, businessKey string) ([]scd.Version, error) {
	table, err := dimensionTable(dimension)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE business_key = $1 ORDER BY effective_date, surrogate_key",
		versionColumns, table), businessKey)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, scanVersion)
	return out, store.ClassifyError("sqlrepo.history", err)
}

// DimensionVersions returns the version chains for businessKeys.
func (r *Repo) DimensionVersions(ctx context.Context, dimension string, businessKeys []string) (map[string][]scd.Version, error) {
	table, err := dimensionTable(dimension)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE business_key = ANY($1) ORDER BY business_key, effective_date, surrogate_key",
		versionColumns, table), businessKeys)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, scanVersion)
	if err != nil {
		return nil, store.ClassifyError("sqlrepo.dimension_versions", err)
	}

	out := make(map[string][]scd.Version)
	for _, v := range versions {
		out[v.BusinessKey] = append(out[v.BusinessKey], v)
	}
	return out, nil
}

type dimTx struct {
	tx        store.Tx
	dimension string
	table     string
}

func (t *dimTx) Current(ctx context.Context, businessKey string) (*scd.Version, error) {
	rows, err := t.tx.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE business_key = $1 AND is_current FOR UPDATE",
		versionColumns, t.table), businessKey)
	if err != nil {
		return nil, err
	}
	v, err := pgx.CollectOneRow(rows, scanVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.ClassifyError("sqlrepo.current", err)
	}
	return &v, nil
}

func (t *dimTx) Close(ctx context.Context, surrogateKey int64, endDate time.Time) (bool, error) {
	n, err := t.tx.Execute(ctx, fmt.Sprintf(
		"UPDATE %s SET is_current = false, end_date = $2 WHERE surrogate_key = $1 AND is_current",
		t.table), surrogateKey, core.Day(endDate))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *dimTx) Insert(ctx context.Context, v scd.Version) (int64, error) {
	var sk int64
	err := t.tx.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %s (business_key, attributes, is_current, effective_date, end_date)
		 VALUES ($1, $2, $3, $4, $5) RETURNING surrogate_key`, t.table),
		v.BusinessKey, v.Attributes, v.IsCurrent, core.Day(v.EffectiveDate), store.Date(v.EndDate),
	).Scan(&sk)
	if store.IsUniqueViolation(err, t.dimension+"_current_uq") {
		return 0, scd.ErrCurrentExists
	}
	if err != nil {
		return 0, err
	}
	return sk, nil
}

func (t *dimTx) CountCurrent(ctx context.Context, businessKey string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, fmt.Sprintf(
		"SELECT count(*) FROM %s WHERE business_key = $1 AND is_current", t.table),
		businessKey).Scan(&n)
	return n, err
}

func (t *dimTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *dimTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
