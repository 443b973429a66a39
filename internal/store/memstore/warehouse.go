package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/warehouse"
)

var errTxDone = errors.New("memstore: transaction already finished")

// tables is the warehouse state. Aggregates are keyed the way their
// Postgres tables are: date key, product ID and customer ID.
type tables struct {
	facts     map[warehouse.FactKey]warehouse.Fact
	dates     map[int]warehouse.DateRow
	payments  map[string]warehouse.PaymentMethodRow
	daily     map[int]warehouse.DailySales
	products  map[string]warehouse.ProductSales
	customers map[string]warehouse.CustomerLifetime
}

func newTables() tables {
	return tables{
		facts:     make(map[warehouse.FactKey]warehouse.Fact),
		dates:     make(map[int]warehouse.DateRow),
		payments:  make(map[string]warehouse.PaymentMethodRow),
		daily:     make(map[int]warehouse.DailySales),
		products:  make(map[string]warehouse.ProductSales),
		customers: make(map[string]warehouse.CustomerLifetime),
	}
}

func (t tables) clone() tables {
	return tables{
		facts:     cloneMap(t.facts),
		dates:     cloneMap(t.dates),
		payments:  cloneMap(t.payments),
		daily:     cloneMap(t.daily),
		products:  cloneMap(t.products),
		customers: cloneMap(t.customers),
	}
}

// ExistingFactKeys reports which keys are already loaded.
func (m *Store) ExistingFactKeys(ctx context.Context, keys []warehouse.FactKey) (map[warehouse.FactKey]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[warehouse.FactKey]bool)
	for _, k := range keys {
		if _, ok := m.wh.facts[k]; ok {
			out[k] = true
		}
	}
	return out, nil
}

// FactsInScope returns facts matching any of the scope's dates, products or
// customers, ordered by natural key.
func (m *Store) FactsInScope(ctx context.Context, scope *warehouse.Scope) ([]warehouse.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dates := make(map[int]bool)
	for _, d := range scope.Dates() {
		dates[warehouse.DateKey(d)] = true
	}
	products := make(map[string]bool)
	for _, p := range scope.Products() {
		products[p] = true
	}
	customers := make(map[string]bool)
	for _, c := range scope.Customers() {
		customers[c] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []warehouse.Fact
	for _, f := range m.wh.facts {
		if dates[f.DateKey] || products[f.ProductID] || customers[f.CustomerID] {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TransactionID != out[j].TransactionID {
			return out[i].TransactionID < out[j].TransactionID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

// WithinTx runs fn against a copy of the warehouse tables and installs the
// copy when fn returns nil.
func (m *Store) WithinTx(ctx context.Context, fn func(w warehouse.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &whTx{t: m.wh.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.wh = tx.t
	return nil
}

// Snapshot getters for tests and the dry-run summary.

// Facts returns every fact ordered by natural key.
func (m *Store) Facts() []warehouse.Fact {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]warehouse.Fact, 0, len(m.wh.facts))
	for _, f := range m.wh.facts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TransactionID != out[j].TransactionID {
			return out[i].TransactionID < out[j].TransactionID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

// DailySales returns agg_daily_sales ordered by date.
func (m *Store) DailySales() []warehouse.DailySales {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]warehouse.DailySales, 0, len(m.wh.daily))
	for _, r := range m.wh.daily {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ProductSales returns agg_product_sales ordered by product.
func (m *Store) ProductSales() []warehouse.ProductSales {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.wh.products)
}

// CustomerLifetime returns agg_customer_lifetime ordered by customer.
func (m *Store) CustomerLifetime() []warehouse.CustomerLifetime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.wh.customers)
}

// DateRows returns dim_date ordered by key.
func (m *Store) DateRows() []warehouse.DateRow {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]warehouse.DateRow, 0, len(m.wh.dates))
	for _, r := range m.wh.dates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateKey < out[j].DateKey })
	return out
}

// PaymentMethods returns dim_payment_method ordered by key.
func (m *Store) PaymentMethods() []warehouse.PaymentMethodRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.wh.payments)
}

type whTx struct {
	t tables
}

func (w *whTx) InsertFacts(_ context.Context, facts []warehouse.Fact) (int, error) {
	for _, f := range facts {
		if _, ok := w.t.facts[f.Key()]; ok {
			return 0, fmt.Errorf("duplicate key fact_sales (%s, %s)", f.TransactionID, f.ItemID)
		}
		w.t.facts[f.Key()] = f
	}
	return len(facts), nil
}

func (w *whTx) UpsertDates(_ context.Context, rows []warehouse.DateRow) error {
	for _, r := range rows {
		w.t.dates[r.DateKey] = r
	}
	return nil
}

func (w *whTx) UpsertPaymentMethods(_ context.Context, rows []warehouse.PaymentMethodRow) error {
	for _, r := range rows {
		w.t.payments[r.Key] = r
	}
	return nil
}

func (w *whTx) ReplaceDailySales(_ context.Context, dates []time.Time, rows []warehouse.DailySales) error {
	for _, d := range dates {
		delete(w.t.daily, warehouse.DateKey(d))
	}
	for _, r := range rows {
		w.t.daily[warehouse.DateKey(r.Date)] = r
	}
	return nil
}

func (w *whTx) ReplaceProductSales(_ context.Context, productIDs []string, rows []warehouse.ProductSales) error {
	for _, id := range productIDs {
		delete(w.t.products, id)
	}
	for _, r := range rows {
		w.t.products[r.ProductID] = r
	}
	return nil
}

func (w *whTx) ReplaceCustomerLifetime(_ context.Context, customerIDs []string, rows []warehouse.CustomerLifetime) error {
	for _, id := range customerIDs {
		delete(w.t.customers, id)
	}
	for _, r := range rows {
		w.t.customers[r.CustomerID] = r
	}
	return nil
}
