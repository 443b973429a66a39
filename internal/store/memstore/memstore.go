// Package memstore is an in-memory, transactional implementation of every
// repository the pipeline uses: staging and production tiers, SCD
// dimensions, the warehouse and the execution log. Tests use it as the store
// double and `ecompipe run --dry-run` runs the whole pipeline on it.
//
// A transaction holds the store lock from begin to commit or rollback and
// works on a copy of the tables it writes, so a rollback simply discards the
// copy.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/scd"
)

// Store is the in-memory store. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	staging      map[string][]core.StagedRecord
	customers    map[string]core.Customer
	products     map[string]core.Product
	transactions map[string]core.Transaction
	items        map[string]core.TransactionItem

	dimensions map[string][]scd.Version
	nextKey    map[string]int64

	wh tables

	log       []core.ExecutionLogEntry
	nextLogID int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		staging:      make(map[string][]core.StagedRecord),
		customers:    make(map[string]core.Customer),
		products:     make(map[string]core.Product),
		transactions: make(map[string]core.Transaction),
		items:        make(map[string]core.TransactionItem),
		dimensions: map[string][]scd.Version{
			scd.DimCustomers: nil,
			scd.DimProducts:  nil,
		},
		nextKey: make(map[string]int64),
		wh:      newTables(),
	}
}

// ----------------------------------------------------------------------------
// Staging
// ----------------------------------------------------------------------------

// ReplaceStaging truncates and reloads the entity's staging rows.
func (m *Store) ReplaceStaging(ctx context.Context, entity string, rows []core.StagedRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, ok := core.Get(entity); !ok {
		return 0, core.Configuration("memstore.replace_staging", fmt.Errorf("unknown entity %q", entity))
	}

	copied := make([]core.StagedRecord, len(rows))
	for i, r := range rows {
		copied[i] = cloneStaged(r)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.staging[entity] = copied
	return len(copied), nil
}

// Staged returns the entity's staging rows in source row order.
func (m *Store) Staged(ctx context.Context, entity string) ([]core.StagedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]core.StagedRecord, len(m.staging[entity]))
	for i, r := range m.staging[entity] {
		out[i] = cloneStaged(r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out, nil
}

func cloneStaged(r core.StagedRecord) core.StagedRecord {
	values := make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	r.Values = values
	return r
}

// ----------------------------------------------------------------------------
// Production
// ----------------------------------------------------------------------------

// ProductionKeys returns the business keys promoted for entity.
func (m *Store) ProductionKeys(ctx context.Context, entity string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	switch entity {
	case core.EntityCustomers:
		keys = mapKeys(m.customers)
	case core.EntityProducts:
		keys = mapKeys(m.products)
	case core.EntityTransactions:
		keys = mapKeys(m.transactions)
	case core.EntityTransactionItems:
		keys = mapKeys(m.items)
	default:
		return nil, core.Configuration("memstore.production_keys", fmt.Errorf("unknown entity %q", entity))
	}
	sort.Strings(keys)
	return keys, nil
}

// UpsertProduction upserts every batch in one transaction. Nothing is
// written when any record is rejected.
func (m *Store) UpsertProduction(ctx context.Context, batches map[string][]core.CleansedRecord) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	customers := cloneMap(m.customers)
	products := cloneMap(m.products)
	transactions := cloneMap(m.transactions)
	items := cloneMap(m.items)
	counts := make(map[string]int, len(batches))

	for entity, records := range batches {
		for _, rec := range records {
			if rec.EntityName() != entity {
				return nil, core.Integrity("memstore.upsert_production",
					fmt.Errorf("%s record %s in %s batch", rec.EntityName(), rec.BusinessKey(), entity))
			}
			switch r := rec.(type) {
			case core.Customer:
				customers[r.CustomerID] = r
			case core.Product:
				products[r.ProductID] = r
			case core.Transaction:
				transactions[r.TransactionID] = r
			case core.TransactionItem:
				items[r.ItemID] = r
			default:
				return nil, core.Configuration("memstore.upsert_production",
					fmt.Errorf("unsupported record type %T", rec))
			}
			counts[entity]++
		}
	}

	m.customers = customers
	m.products = products
	m.transactions = transactions
	m.items = items
	return counts, nil
}

// Customers returns the production customers ordered by ID.
func (m *Store) Customers(ctx context.Context) ([]core.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.customers), ctx.Err()
}

// Products returns the production products ordered by ID.
func (m *Store) Products(ctx context.Context) ([]core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.products), ctx.Err()
}

// Transactions returns the production transactions ordered by ID.
func (m *Store) Transactions(ctx context.Context) ([]core.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.transactions), ctx.Err()
}

// TransactionItems returns the production items ordered by ID.
func (m *Store) TransactionItems(ctx context.Context) ([]core.TransactionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.items), ctx.Err()
}

// ----------------------------------------------------------------------------
// Execution log
// ----------------------------------------------------------------------------

// AppendExecutionLog appends entry and assigns its ID.
func (m *Store) AppendExecutionLog(ctx context.Context, entry core.ExecutionLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogID++
	entry.ID = m.nextLogID
	m.log = append(m.log, entry)
	return nil
}

// RecentRuns returns the entries of the limit most recent runs, newest run
// first and stages in append order.
func (m *Store) RecentRuns(ctx context.Context, limit int) ([]core.ExecutionLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	started := make(map[string]time.Time)
	var runs []string
	for _, e := range m.log {
		t, ok := started[e.RunID]
		if !ok {
			runs = append(runs, e.RunID)
			started[e.RunID] = e.StartedAt
		} else if e.StartedAt.Before(t) {
			started[e.RunID] = e.StartedAt
		}
	}
	sort.SliceStable(runs, func(i, j int) bool { return started[runs[i]].After(started[runs[j]]) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	var out []core.ExecutionLogEntry
	for _, id := range runs {
		for _, e := range m.log {
			if e.RunID == id {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// RunLog returns one run's entries in append order.
func (m *Store) RunLog(ctx context.Context, runID string) ([]core.ExecutionLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.ExecutionLogEntry
	for _, e := range m.log {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// helpers
// ----------------------------------------------------------------------------

func mapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedValues[V any](m map[string]V) []V {
	keys := mapKeys(m)
	sort.Strings(keys)
	out := make([]V, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
