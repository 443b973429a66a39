package warehouse

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Aggregates are pure functions of facts. Each only emits rows for keys in
// scope; facts outside the scope may be present because FactsInScope matches
// on any of date, product or customer.

// transactionTotals sums each distinct transaction's total once.
type transactionTotals struct {
	ids   map[string]decimal.Decimal
	total decimal.Decimal
}

func newTransactionTotals() *transactionTotals {
	return &transactionTotals{ids: make(map[string]decimal.Decimal)}
}

func (t *transactionTotals) add(f Fact) {
	if _, ok := t.ids[f.TransactionID]; ok {
		return
	}
	t.ids[f.TransactionID] = f.TransactionTotal
	t.total = t.total.Add(f.TransactionTotal)
}

func (t *transactionTotals) count() int { return len(t.ids) }

func (t *transactionTotals) average() decimal.Decimal {
	if len(t.ids) == 0 {
		return decimal.Zero
	}
	return t.total.Div(decimal.NewFromInt(int64(len(t.ids)))).Round(2)
}

// ComputeDailySales aggregates facts per date in scope.
func ComputeDailySales(facts []Fact, scope *Scope) []DailySales {
	type acc struct {
		sales     decimal.Decimal
		units     int
		txns      *transactionTotals
		customers map[string]struct{}
	}
	groups := make(map[time.Time]*acc)

	for _, f := range facts {
		if !scope.hasDate(f.Date) {
			continue
		}
		a, ok := groups[f.Date]
		if !ok {
			a = &acc{txns: newTransactionTotals(), customers: make(map[string]struct{})}
			groups[f.Date] = a
		}
		a.sales = a.sales.Add(f.LineTotal)
		a.units += f.Quantity
		a.txns.add(f)
		a.customers[f.CustomerID] = struct{}{}
	}

	out := make([]DailySales, 0, len(groups))
	for d, a := range groups {
		out = append(out, DailySales{
			Date:                d,
			TotalSales:          a.sales.Round(2),
			TotalUnits:          a.units,
			TransactionCount:    a.txns.count(),
			CustomerCount:       len(a.customers),
			AvgTransactionValue: a.txns.average(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ComputeProductSales aggregates facts per product in scope.
func ComputeProductSales(facts []Fact, scope *Scope) []ProductSales {
	type acc struct {
		sales    decimal.Decimal
		units    int
		txns     map[string]struct{}
		discount decimal.Decimal
		lines    int64
	}
	groups := make(map[string]*acc)

	for _, f := range facts {
		if !scope.hasProduct(f.ProductID) {
			continue
		}
		a, ok := groups[f.ProductID]
		if !ok {
			a = &acc{txns: make(map[string]struct{})}
			groups[f.ProductID] = a
		}
		a.sales = a.sales.Add(f.LineTotal)
		a.units += f.Quantity
		a.txns[f.TransactionID] = struct{}{}
		a.discount = a.discount.Add(f.DiscountPercentage)
		a.lines++
	}

	out := make([]ProductSales, 0, len(groups))
	for id, a := range groups {
		out = append(out, ProductSales{
			ProductID:        id,
			TotalSales:       a.sales.Round(2),
			TotalUnits:       a.units,
			TransactionCount: len(a.txns),
			AvgDiscount:      a.discount.Div(decimal.NewFromInt(a.lines)).Round(2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// ComputeCustomerLifetime aggregates facts per customer in scope.
func ComputeCustomerLifetime(facts []Fact, scope *Scope) []CustomerLifetime {
	type acc struct {
		spent       decimal.Decimal
		units       int
		txns        *transactionTotals
		first, last time.Time
	}
	groups := make(map[string]*acc)

	for _, f := range facts {
		if !scope.hasCustomer(f.CustomerID) {
			continue
		}
		a, ok := groups[f.CustomerID]
		if !ok {
			a = &acc{txns: newTransactionTotals(), first: f.Date, last: f.Date}
			groups[f.CustomerID] = a
		}
		a.spent = a.spent.Add(f.LineTotal)
		a.units += f.Quantity
		a.txns.add(f)
		if f.Date.Before(a.first) {
			a.first = f.Date
		}
		if f.Date.After(a.last) {
			a.last = f.Date
		}
	}

	out := make([]CustomerLifetime, 0, len(groups))
	for id, a := range groups {
		out = append(out, CustomerLifetime{
			CustomerID:          id,
			TotalSpent:          a.spent.Round(2),
			TotalUnits:          a.units,
			TransactionCount:    a.txns.count(),
			FirstPurchase:       a.first,
			LastPurchase:        a.last,
			AvgTransactionValue: a.txns.average(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out
}
