package warehouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/scd"
	"github.com/JonMunkholm/ecompipe/internal/store/memstore"
	"github.com/JonMunkholm/ecompipe/internal/warehouse"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func apply(t *testing.T, st *memstore.Store, dim string, snaps map[string]map[string]string, asOf time.Time) {
	t.Helper()
	if _, _, err := scd.New(st, dim, nil).ApplyAll(context.Background(), snaps, asOf); err != nil {
		t.Fatalf("apply %s: %v", dim, err)
	}
}

// seeded returns a store where C1 moved from Oslo to Bergen on March 1.
func seeded(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	apply(t, st, scd.DimCustomers, map[string]map[string]string{
		"C1": {"city": "Oslo"},
		"C2": {"city": "Turku"},
	}, day(1, 1))
	apply(t, st, scd.DimCustomers, map[string]map[string]string{"C1": {"city": "Bergen"}}, day(3, 1))
	apply(t, st, scd.DimProducts, map[string]map[string]string{
		"P1": {"price": "40.00"},
		"P2": {"price": "15.00"},
	}, day(1, 1))
	return st
}

func txn(id, cust string, date time.Time, total string) core.Transaction {
	return core.Transaction{TransactionID: id, CustomerID: cust, TransactionDate: date,
		PaymentMethod: "Credit Card", TotalAmount: decimal.RequireFromString(total)}
}

func item(id, txn, prod string, qty int, line string) core.TransactionItem {
	return core.TransactionItem{ItemID: id, TransactionID: txn, ProductID: prod, Quantity: qty,
		UnitPrice: decimal.RequireFromString(line), LineTotal: decimal.RequireFromString(line)}
}

func TestLoadFacts_ResolvesVersionAsOfTransactionDate(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	l := warehouse.NewLoader(st, nil)

	txns := []core.Transaction{
		txn("T1", "C1", day(2, 10), "40.00"),
		txn("T2", "C1", day(3, 5), "15.00"),
	}
	items := []core.TransactionItem{
		item("I1", "T1", "P1", 1, "40.00"),
		item("I2", "T2", "P2", 1, "15.00"),
	}

	res, err := l.LoadFacts(ctx, txns, items)
	if err != nil {
		t.Fatalf("LoadFacts: %v", err)
	}
	if res.Inserted != 2 || res.Unresolved != 0 {
		t.Fatalf("result = %+v", res)
	}

	history, err := st.History(ctx, scd.DimCustomers, "C1")
	if err != nil || len(history) != 2 {
		t.Fatalf("history = %+v, %v", history, err)
	}
	oslo, bergen := history[0].SurrogateKey, history[1].SurrogateKey

	facts := st.Facts()
	if facts[0].CustomerKey != oslo {
		t.Errorf("February fact references %d, want Oslo version %d", facts[0].CustomerKey, oslo)
	}
	if facts[1].CustomerKey != bergen {
		t.Errorf("March fact references %d, want Bergen version %d", facts[1].CustomerKey, bergen)
	}
	if facts[0].PaymentMethodKey != "credit_card" || facts[0].DateKey != 20250210 {
		t.Errorf("fact = %+v", facts[0])
	}
}

func TestLoadFacts_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	l := warehouse.NewLoader(st, nil)

	txns := []core.Transaction{txn("T1", "C2", day(4, 1), "80.00")}
	items := []core.TransactionItem{item("I1", "T1", "P1", 2, "80.00")}

	if _, err := l.LoadFacts(ctx, txns, items); err != nil {
		t.Fatal(err)
	}
	res, err := l.LoadFacts(ctx, txns, items)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 0 || res.Skipped != 1 {
		t.Errorf("second load = %+v", res)
	}
	if res.Scope.Empty() {
		t.Error("skipped facts must still join the scope")
	}
	if n := len(st.Facts()); n != 1 {
		t.Errorf("facts = %d, want 1", n)
	}
}

func TestLoadFacts_Unresolved(t *testing.T) {
	st := seeded(t)
	l := warehouse.NewLoader(st, nil)

	txns := []core.Transaction{
		txn("T1", "C1", day(4, 1), "10.00"),
		txn("T2", "C999", day(4, 1), "10.00"),
	}
	items := []core.TransactionItem{
		item("I1", "T1", "P1", 1, "10.00"),
		item("I2", "T2", "P1", 1, "10.00"),   // unknown customer
		item("I3", "T1", "P404", 1, "10.00"), // unknown product
		item("I4", "T9", "P1", 1, "10.00"),   // unknown transaction
	}

	res, err := l.LoadFacts(context.Background(), txns, items)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 || res.Unresolved != 3 || len(res.Missing) != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestRecomputeAggregates(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	l := warehouse.NewLoader(st, nil)

	first, err := l.LoadFacts(ctx,
		[]core.Transaction{txn("T1", "C1", day(4, 1), "95.00")},
		[]core.TransactionItem{item("I1", "T1", "P1", 2, "80.00"), item("I2", "T1", "P2", 1, "15.00")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecomputeAggregates(ctx, first.Scope); err != nil {
		t.Fatal(err)
	}

	// A later load on the same day folds into the existing row.
	second, err := l.LoadFacts(ctx,
		[]core.Transaction{txn("T2", "C2", day(4, 1), "40.00")},
		[]core.TransactionItem{item("I3", "T2", "P1", 1, "40.00")})
	if err != nil {
		t.Fatal(err)
	}
	res, err := l.RecomputeAggregates(ctx, second.Scope)
	if err != nil {
		t.Fatal(err)
	}
	if res.DailySales != 1 || res.ProductSales != 1 || res.CustomerLifetime != 1 {
		t.Errorf("result = %+v", res)
	}

	daily := st.DailySales()
	if len(daily) != 1 || !daily[0].TotalSales.Equal(decimal.RequireFromString("135")) || daily[0].TransactionCount != 2 {
		t.Errorf("daily = %+v", daily)
	}
	products := st.ProductSales()
	if len(products) != 2 || products[0].TotalUnits != 3 {
		t.Errorf("products = %+v", products)
	}

	if res, err := l.RecomputeAggregates(ctx, warehouse.NewScope()); err != nil || res != (warehouse.AggregateResult{}) {
		t.Errorf("empty scope = %+v, %v", res, err)
	}
}

func TestEnsureDimensions(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	l := warehouse.NewLoader(st, nil)

	n, err := l.EnsureDates(ctx, day(1, 30), day(2, 2))
	if err != nil || n != 4 {
		t.Fatalf("EnsureDates = %d, %v", n, err)
	}
	if _, err := l.EnsureDates(ctx, day(2, 1), day(2, 3)); err != nil {
		t.Fatal(err)
	}
	if rows := st.DateRows(); len(rows) != 5 {
		t.Errorf("date rows = %d, want 5 after overlapping upsert", len(rows))
	}

	if _, err := l.EnsurePaymentMethods(ctx, core.PaymentMethods); err != nil {
		t.Fatal(err)
	}
	if _, err := l.EnsurePaymentMethods(ctx, []string{"UPI", "Crypto"}); err != nil {
		t.Fatal(err)
	}
	if rows := st.PaymentMethods(); len(rows) != len(core.PaymentMethods)+1 {
		t.Errorf("payment methods = %+v", rows)
	}
}
