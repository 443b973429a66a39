package warehouse

import (
	"testing"

	"github.com/shopspring/decimal"
)

func fact(txn, item, cust, prod string, d int, qty int, line, total, disc string) Fact {
	date := day(2025, 5, d)
	return Fact{
		TransactionID:      txn,
		ItemID:             item,
		Date:               date,
		DateKey:            DateKey(date),
		CustomerID:         cust,
		ProductID:          prod,
		Quantity:           qty,
		LineTotal:          decimal.RequireFromString(line),
		TransactionTotal:   decimal.RequireFromString(total),
		DiscountPercentage: decimal.RequireFromString(disc),
	}
}

// Two transactions on May 1 (one with two lines), one on May 3.
var sampleFacts = []Fact{
	fact("T1", "I1", "C1", "P1", 1, 2, "80.00", "95.00", "0"),
	fact("T1", "I2", "C1", "P2", 1, 1, "15.00", "95.00", "10"),
	fact("T2", "I3", "C2", "P1", 1, 1, "40.00", "40.00", "0"),
	fact("T3", "I4", "C1", "P2", 3, 3, "45.00", "45.00", "20"),
}

func fullScope(facts []Fact) *Scope {
	s := NewScope()
	for _, f := range facts {
		s.AddFact(f)
	}
	return s
}

func TestComputeDailySales(t *testing.T) {
	rows := ComputeDailySales(sampleFacts, fullScope(sampleFacts))
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}

	may1 := rows[0]
	if !may1.Date.Equal(day(2025, 5, 1)) {
		t.Fatalf("first row date = %v", may1.Date)
	}
	if !may1.TotalSales.Equal(decimal.RequireFromString("135")) || may1.TotalUnits != 4 {
		t.Errorf("May 1 sales %s units %d", may1.TotalSales, may1.TotalUnits)
	}
	if may1.TransactionCount != 2 || may1.CustomerCount != 2 {
		t.Errorf("May 1 txns %d customers %d", may1.TransactionCount, may1.CustomerCount)
	}
	// Transaction totals count once per transaction: (95 + 40) / 2.
	if !may1.AvgTransactionValue.Equal(decimal.RequireFromString("67.5")) {
		t.Errorf("May 1 avg = %s", may1.AvgTransactionValue)
	}
}

func TestComputeProductSales(t *testing.T) {
	rows := ComputeProductSales(sampleFacts, fullScope(sampleFacts))
	if len(rows) != 2 || rows[0].ProductID != "P1" {
		t.Fatalf("rows = %+v", rows)
	}
	p2 := rows[1]
	if !p2.TotalSales.Equal(decimal.RequireFromString("60")) || p2.TotalUnits != 4 || p2.TransactionCount != 2 {
		t.Errorf("P2 = %+v", p2)
	}
	if !p2.AvgDiscount.Equal(decimal.RequireFromString("15")) {
		t.Errorf("P2 avg discount = %s", p2.AvgDiscount)
	}
}

func TestComputeCustomerLifetime(t *testing.T) {
	rows := ComputeCustomerLifetime(sampleFacts, fullScope(sampleFacts))
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	c1 := rows[0]
	if c1.CustomerID != "C1" || !c1.TotalSpent.Equal(decimal.RequireFromString("140")) || c1.TransactionCount != 2 {
		t.Errorf("C1 = %+v", c1)
	}
	if !c1.FirstPurchase.Equal(day(2025, 5, 1)) || !c1.LastPurchase.Equal(day(2025, 5, 3)) {
		t.Errorf("C1 purchases %v..%v", c1.FirstPurchase, c1.LastPurchase)
	}
	if !c1.AvgTransactionValue.Equal(decimal.RequireFromString("70")) {
		t.Errorf("C1 avg = %s", c1.AvgTransactionValue)
	}
}

func TestAggregates_RespectScope(t *testing.T) {
	scope := NewScope()
	scope.AddFact(sampleFacts[3]) // May 3, C1, P2

	daily := ComputeDailySales(sampleFacts, scope)
	if len(daily) != 1 || !daily[0].Date.Equal(day(2025, 5, 3)) {
		t.Errorf("daily = %+v", daily)
	}
	// A scoped product aggregates all its facts, not just the scoped ones.
	products := ComputeProductSales(sampleFacts, scope)
	if len(products) != 1 || products[0].ProductID != "P2" || products[0].TotalUnits != 4 {
		t.Errorf("products = %+v", products)
	}
	if got := ComputeCustomerLifetime(sampleFacts, scope); len(got) != 1 || got[0].CustomerID != "C1" {
		t.Errorf("customers = %+v", got)
	}
}

func TestAggregates_Empty(t *testing.T) {
	if rows := ComputeDailySales(nil, NewScope()); len(rows) != 0 {
		t.Errorf("daily = %+v", rows)
	}
	if rows := ComputeProductSales(sampleFacts, NewScope()); len(rows) != 0 {
		t.Errorf("empty scope produced %+v", rows)
	}
}
