package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/scd"
)

// LoadResult summarizes a fact load.
type LoadResult struct {
	Inserted   int      `json:"inserted"`
	Skipped    int      `json:"skipped"`
	Unresolved int      `json:"unresolved"`
	Missing    []string `json:"unresolved_items,omitempty"`
	Scope      *Scope   `json:"-"`
}

// AggregateResult counts the aggregate rows written.
type AggregateResult struct {
	DailySales       int `json:"agg_daily_sales"`
	ProductSales     int `json:"agg_product_sales"`
	CustomerLifetime int `json:"agg_customer_lifetime"`
}

// Loader writes facts, conformed dimensions and aggregates.
type Loader struct {
	store  Store
	logger *slog.Logger
}

// NewLoader creates a Loader over store.
func NewLoader(store Store, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, logger: logger}
}

// EnsureDates upserts dim_date rows for every day in [from, to].
func (l *Loader) EnsureDates(ctx context.Context, from, to time.Time) (int, error) {
	rows := DateRange(from, to)
	if len(rows) == 0 {
		return 0, nil
	}
	err := l.store.WithinTx(ctx, func(w Writer) error {
		return w.UpsertDates(ctx, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert dim_date: %w", err)
	}
	return len(rows), nil
}

// EnsurePaymentMethods upserts dim_payment_method rows for names.
func (l *Loader) EnsurePaymentMethods(ctx context.Context, names []string) (int, error) {
	rows := PaymentMethodRows(names)
	if len(rows) == 0 {
		return 0, nil
	}
	err := l.store.WithinTx(ctx, func(w Writer) error {
		return w.UpsertPaymentMethods(ctx, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert dim_payment_method: %w", err)
	}
	return len(rows), nil
}

// LoadFacts resolves each item's dimension keys as of its transaction date
// and inserts the facts not already loaded, in one transaction.
//
// Items without a transaction or with unresolvable keys are counted as
// unresolved. Items already loaded are skipped, but their keys still join
// the scope so a rerun recomputes aggregates a failed run left stale.
func (l *Loader) LoadFacts(ctx context.Context, txns []core.Transaction, items []core.TransactionItem) (LoadResult, error) {
	result := LoadResult{Scope: NewScope()}

	byID := make(map[string]core.Transaction, len(txns))
	customerIDs := make([]string, 0, len(txns))
	for _, t := range txns {
		byID[t.TransactionID] = t
		customerIDs = append(customerIDs, t.CustomerID)
	}
	productIDs := make([]string, 0, len(items))
	for _, it := range items {
		productIDs = append(productIDs, it.ProductID)
	}

	customers, err := l.store.DimensionVersions(ctx, scd.DimCustomers, dedupe(customerIDs))
	if err != nil {
		return result, fmt.Errorf("read customer versions: %w", err)
	}
	products, err := l.store.DimensionVersions(ctx, scd.DimProducts, dedupe(productIDs))
	if err != nil {
		return result, fmt.Errorf("read product versions: %w", err)
	}

	candidates := make([]Fact, 0, len(items))
	seen := make(map[FactKey]bool, len(items))
	for _, it := range items {
		t, ok := byID[it.TransactionID]
		if !ok {
			result.unresolved(it.ItemID, "no transaction")
			continue
		}
		cust, ok := ResolveAsOf(customers[t.CustomerID], t.TransactionDate)
		if !ok {
			result.unresolved(it.ItemID, "no customer version")
			continue
		}
		prod, ok := ResolveAsOf(products[it.ProductID], t.TransactionDate)
		if !ok {
			result.unresolved(it.ItemID, "no product version")
			continue
		}

		f := Fact{
			TransactionID:      t.TransactionID,
			ItemID:             it.ItemID,
			DateKey:            DateKey(t.TransactionDate),
			Date:               core.Day(t.TransactionDate),
			CustomerKey:        cust.SurrogateKey,
			ProductKey:         prod.SurrogateKey,
			PaymentMethodKey:   PaymentMethodKey(t.PaymentMethod),
			CustomerID:         t.CustomerID,
			ProductID:          it.ProductID,
			Quantity:           it.Quantity,
			UnitPrice:          it.UnitPrice,
			DiscountPercentage: it.DiscountPercentage,
			LineTotal:          it.LineTotal,
			TransactionTotal:   t.TotalAmount,
			ShippingAddress:    t.ShippingAddress,
		}
		if seen[f.Key()] {
			result.Skipped++
			continue
		}
		seen[f.Key()] = true
		candidates = append(candidates, f)
	}

	keys := make([]FactKey, len(candidates))
	for i, f := range candidates {
		keys[i] = f.Key()
	}
	existing, err := l.store.ExistingFactKeys(ctx, keys)
	if err != nil {
		return result, fmt.Errorf("read existing facts: %w", err)
	}

	fresh := make([]Fact, 0, len(candidates))
	for _, f := range candidates {
		result.Scope.AddFact(f)
		if existing[f.Key()] {
			result.Skipped++
			continue
		}
		fresh = append(fresh, f)
	}

	if len(fresh) > 0 {
		err = l.store.WithinTx(ctx, func(w Writer) error {
			n, err := w.InsertFacts(ctx, fresh)
			result.Inserted = n
			return err
		})
		if err != nil {
			result.Inserted = 0
			return result, fmt.Errorf("insert facts: %w", err)
		}
	}

	l.logger.Info("facts loaded",
		"inserted", result.Inserted,
		"skipped", result.Skipped,
		"unresolved", result.Unresolved,
	)
	return result, nil
}

func (r *LoadResult) unresolved(itemID, reason string) {
	r.Unresolved++
	r.Missing = append(r.Missing, itemID+": "+reason)
}

// RecomputeAggregates rebuilds the three aggregates for scope from facts and
// replaces the prior rows for exactly those keys in one transaction.
func (l *Loader) RecomputeAggregates(ctx context.Context, scope *Scope) (AggregateResult, error) {
	if scope == nil || scope.Empty() {
		return AggregateResult{}, nil
	}

	facts, err := l.store.FactsInScope(ctx, scope)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("read facts in scope: %w", err)
	}

	daily := ComputeDailySales(facts, scope)
	products := ComputeProductSales(facts, scope)
	customers := ComputeCustomerLifetime(facts, scope)

	err = l.store.WithinTx(ctx, func(w Writer) error {
		if err := w.ReplaceDailySales(ctx, scope.Dates(), daily); err != nil {
			return fmt.Errorf("agg_daily_sales: %w", err)
		}
		if err := w.ReplaceProductSales(ctx, scope.Products(), products); err != nil {
			return fmt.Errorf("agg_product_sales: %w", err)
		}
		if err := w.ReplaceCustomerLifetime(ctx, scope.Customers(), customers); err != nil {
			return fmt.Errorf("agg_customer_lifetime: %w", err)
		}
		return nil
	})
	if err != nil {
		return AggregateResult{}, fmt.Errorf("replace aggregates: %w", err)
	}

	return AggregateResult{
		DailySales:       len(daily),
		ProductSales:     len(products),
		CustomerLifetime: len(customers),
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return sortedKeys(seen)
}

// DateBounds returns the earliest and latest transaction dates.
func DateBounds(txns []core.Transaction) (from, to time.Time, ok bool) {
	if len(txns) == 0 {
		return time.Time{}, time.Time{}, false
	}
	dates := make([]time.Time, len(txns))
	for i, t := range txns {
		dates[i] = core.Day(t.TransactionDate)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates[0], dates[len(dates)-1], true
}
