package sqlrepo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ecompipe/internal/core"
	_ "github.com/JonMunkholm/ecompipe/internal/core/entities"
	"github.com/JonMunkholm/ecompipe/internal/pipeline"
	"github.com/JonMunkholm/ecompipe/internal/scd"
	"github.com/JonMunkholm/ecompipe/internal/store"
)

var _ pipeline.Store = (*Repo)(nil)

// ----------------------------------------------------------------------------
// recording store
// ----------------------------------------------------------------------------

type call struct {
	kind    string // exec, query, copy
	sql     string
	table   string
	columns []string
	rows    int
}

// recorder is a store.Store that records statements instead of running them.
type recorder struct {
	calls      []call
	execRows   int64
	execErr    error // returned by the next exec containing execErrOn
	execErrOn  string
	row        pgx.Row
	begun      int
	committed  int
	rolledBack int
}

func (r *recorder) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	r.calls = append(r.calls, call{kind: "exec", sql: query})
	if r.execErr != nil && strings.Contains(query, r.execErrOn) {
		return 0, r.execErr
	}
	return r.execRows, nil
}

func (r *recorder) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	r.calls = append(r.calls, call{kind: "query", sql: query})
	return nil, errors.New("query not supported by recorder")
}

func (r *recorder) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	r.calls = append(r.calls, call{kind: "query", sql: query})
	return r.row
}

func (r *recorder) BulkWrite(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	r.calls = append(r.calls, call{kind: "copy", table: table, columns: columns, rows: len(rows)})
	return int64(len(rows)), nil
}

func (r *recorder) Begin(ctx context.Context) (store.Tx, error) {
	r.begun++
	return &recordingTx{r}, nil
}

func (r *recorder) Ping(ctx context.Context) error { return nil }
func (r *recorder) Close()                         {}

type recordingTx struct{ *recorder }

func (t *recordingTx) Commit(ctx context.Context) error {
	t.committed++
	return nil
}

func (t *recordingTx) Rollback(ctx context.Context) error {
	t.rolledBack++
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

type keyRow struct{ key int64 }

func (r keyRow) Scan(dest ...any) error {
	*(dest[0].(*int64)) = r.key
	return nil
}

var spaces = regexp.MustCompile(`\s+`)

func normalize(sql string) string { return strings.TrimSpace(spaces.ReplaceAllString(sql, " ")) }

// ----------------------------------------------------------------------------
// Schema
// ----------------------------------------------------------------------------

func TestSchema_CoversRegistry(t *testing.T) {
	schema := Schema()
	for _, def := range core.All() {
		for _, table := range []string{def.StagingTable(), def.ProductionTable()} {
			if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
				t.Errorf("schema lacks %s", table)
			}
		}
		body := tableBody(schema, def.StagingTable())
		for _, col := range stagingColumns(def) {
			if !regexp.MustCompile(`(?m)^\s+` + col + `\s`).MatchString(body) {
				t.Errorf("%s lacks column %s", def.StagingTable(), col)
			}
		}
		body = tableBody(schema, def.ProductionTable())
		for _, col := range productionTables[def.Name].columns {
			if !regexp.MustCompile(`(?m)^\s+` + col + `\s`).MatchString(body) {
				t.Errorf("%s lacks column %s", def.ProductionTable(), col)
			}
		}
	}

	for _, idx := range []string{"dim_customers_current_uq", "dim_products_current_uq"} {
		if !strings.Contains(schema, idx) {
			t.Errorf("schema lacks partial unique index %s", idx)
		}
	}
}

// tableBody returns the column block of table's CREATE TABLE statement.
func tableBody(schema, table string) string {
	start := strings.Index(schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	if start < 0 {
		return ""
	}
	end := strings.Index(schema[start:], ");")
	if end < 0 {
		return schema[start:]
	}
	return schema[start : start+end]
}

// ----------------------------------------------------------------------------
// Staging and production
// ----------------------------------------------------------------------------

func TestReplaceStaging(t *testing.T) {
	rec := &recorder{}
	repo := New(rec)

	rows := []core.StagedRecord{
		{Entity: core.EntityCustomers, Row: 1, IngestedAt: time.Now(), Values: map[string]string{"customer_id": "C1"}},
		{Entity: core.EntityCustomers, Row: 2, IngestedAt: time.Now(), Values: map[string]string{"customer_id": "C2"}},
	}
	n, err := repo.ReplaceStaging(context.Background(), core.EntityCustomers, rows)
	if err != nil {
		t.Fatalf("ReplaceStaging: %v", err)
	}
	if n != 2 || rec.committed != 1 {
		t.Errorf("n = %d, commits = %d", n, rec.committed)
	}
	if len(rec.calls) != 2 || rec.calls[0].sql != "TRUNCATE staging.customers" {
		t.Fatalf("calls = %+v", rec.calls)
	}
	copyCall := rec.calls[1]
	if copyCall.table != "staging.customers" || copyCall.columns[0] != "row_num" || copyCall.rows != 2 {
		t.Errorf("copy = %+v", copyCall)
	}
}

func TestReplaceStaging_UnknownEntity(t *testing.T) {
	rec := &recorder{}
	_, err := New(rec).ReplaceStaging(context.Background(), "orders", nil)
	if core.KindOf(err) != core.KindConfiguration || rec.begun != 0 {
		t.Errorf("err = %v, begun = %d", err, rec.begun)
	}
}

func TestUpsertProduction_MergesParentsFirst(t *testing.T) {
	rec := &recorder{execRows: 1}
	repo := New(rec)

	batches := map[string][]core.CleansedRecord{
		core.EntityTransactionItems: {core.TransactionItem{ItemID: "I1", TransactionID: "T1", ProductID: "P1",
			Quantity: 1, UnitPrice: decimal.NewFromInt(10), LineTotal: decimal.NewFromInt(10)}},
		core.EntityCustomers: {core.Customer{CustomerID: "C1", FirstName: "Ana"}},
	}
	counts, err := repo.UpsertProduction(context.Background(), batches)
	if err != nil {
		t.Fatalf("UpsertProduction: %v", err)
	}
	if counts[core.EntityCustomers] != 1 || counts[core.EntityTransactionItems] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if rec.begun != 1 || rec.committed != 1 {
		t.Errorf("begun %d committed %d, want one transaction", rec.begun, rec.committed)
	}

	var merges []string
	for _, c := range rec.calls {
		if c.kind == "exec" && strings.HasPrefix(c.sql, "INSERT INTO") {
			merges = append(merges, c.sql)
		}
	}
	if len(merges) != 2 {
		t.Fatalf("merges = %v", merges)
	}
	if !strings.HasPrefix(merges[0], "INSERT INTO production.customers") {
		t.Errorf("first merge = %q, want customers", merges[0])
	}
	want := "FROM tmp_production_customers ON CONFLICT (customer_id) DO UPDATE SET first_name = EXCLUDED.first_name"
	if !strings.Contains(merges[0], want) || !strings.HasSuffix(merges[0], "updated_at = now()") {
		t.Errorf("customer merge = %q", merges[0])
	}

	first := normalize(rec.calls[0].sql)
	if first != "CREATE TEMP TABLE tmp_production_customers (LIKE production.customers INCLUDING DEFAULTS) ON COMMIT DROP" {
		t.Errorf("first statement = %q", first)
	}
}

func TestUpsertProduction_TypeMismatchRollsBack(t *testing.T) {
	rec := &recorder{}
	_, err := New(rec).UpsertProduction(context.Background(), map[string][]core.CleansedRecord{
		core.EntityProducts: {core.Customer{CustomerID: "C1"}},
	})
	if core.KindOf(err) != core.KindIntegrity {
		t.Fatalf("err = %v, want integrity violation", err)
	}
	if rec.rolledBack != 1 || rec.committed != 0 {
		t.Errorf("rolledBack %d committed %d", rec.rolledBack, rec.committed)
	}
}

func TestUpsertProduction_StatementErrorRollsBack(t *testing.T) {
	rec := &recorder{execErr: core.Transient("exec", errors.New("connection reset")), execErrOn: "INSERT INTO"}
	_, err := New(rec).UpsertProduction(context.Background(), map[string][]core.CleansedRecord{
		core.EntityCustomers: {core.Customer{CustomerID: "C1"}},
	})
	if !core.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if rec.rolledBack != 1 {
		t.Errorf("rolledBack = %d", rec.rolledBack)
	}
}

// ----------------------------------------------------------------------------
// Dimensions
// ----------------------------------------------------------------------------

func TestBeginDimension_Unknown(t *testing.T) {
	rec := &recorder{}
	_, err := New(rec).BeginDimension(context.Background(), "dim_orders")
	if core.KindOf(err) != core.KindConfiguration || rec.begun != 0 {
		t.Errorf("err = %v, begun = %d", err, rec.begun)
	}
}

func TestDimTx_InsertMapsPartialIndexViolation(t *testing.T) {
	rec := &recorder{row: errRow{&pgconn.PgError{Code: store.CodeUniqueViolation, ConstraintName: "dim_customers_current_uq"}}}
	tx, err := New(rec).BeginDimension(context.Background(), scd.DimCustomers)
	if err != nil {
		t.Fatal(err)
	}

	_, err = tx.Insert(context.Background(), scd.Version{BusinessKey: "C1", IsCurrent: true, EffectiveDate: time.Now()})
	if !errors.Is(err, scd.ErrCurrentExists) {
		t.Errorf("Insert = %v, want ErrCurrentExists", err)
	}

	rec.row = errRow{&pgconn.PgError{Code: store.CodeUniqueViolation, ConstraintName: "other_uq"}}
	_, err = tx.Insert(context.Background(), scd.Version{BusinessKey: "C1"})
	if err == nil || errors.Is(err, scd.ErrCurrentExists) {
		t.Errorf("other constraint = %v, want plain error", err)
	}

	rec.row = keyRow{key: 42}
	sk, err := tx.Insert(context.Background(), scd.Version{BusinessKey: "C2", IsCurrent: true})
	if err != nil || sk != 42 {
		t.Errorf("Insert = %d, %v", sk, err)
	}
	if !strings.Contains(rec.calls[len(rec.calls)-1].sql, "INSERT INTO warehouse.dim_customers") {
		t.Errorf("insert sql = %q", rec.calls[len(rec.calls)-1].sql)
	}
}

func TestDimTx_CloseIsConditional(t *testing.T) {
	rec := &recorder{execRows: 1}
	tx, err := New(rec).BeginDimension(context.Background(), scd.DimProducts)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := tx.Close(context.Background(), 7, time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC))
	if err != nil || !ok {
		t.Fatalf("Close = %v, %v", ok, err)
	}
	sql := normalize(rec.calls[0].sql)
	if !strings.HasSuffix(sql, "WHERE surrogate_key = $1 AND is_current") {
		t.Errorf("close sql = %q", sql)
	}

	rec.execRows = 0
	if ok, _ := tx.Close(context.Background(), 7, time.Now()); ok {
		t.Error("Close reported success when no row matched")
	}
}

// ----------------------------------------------------------------------------
// Execution log
// ----------------------------------------------------------------------------

func TestAppendExecutionLog_InvalidRunID(t *testing.T) {
	rec := &recorder{}
	err := New(rec).AppendExecutionLog(context.Background(), core.ExecutionLogEntry{RunID: "run-1"})
	if core.KindOf(err) != core.KindConfiguration || len(rec.calls) != 0 {
		t.Errorf("err = %v, calls = %d", err, len(rec.calls))
	}
}

func TestRunLog_UnknownIDShape(t *testing.T) {
	rec := &recorder{}
	entries, err := New(rec).RunLog(context.Background(), "not-a-uuid")
	if err != nil || entries != nil || len(rec.calls) != 0 {
		t.Errorf("entries = %v, err = %v, calls = %d", entries, err, len(rec.calls))
	}
}

func TestPrefixed(t *testing.T) {
	if got := prefixed("l.", "id, run_id, stage"); got != "l.id, l.run_id, l.stage" {
		t.Errorf("prefixed = %q", got)
	}
}
