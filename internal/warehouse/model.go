// Package warehouse loads the star schema: date and payment method
// dimensions, the sales fact table and the derived aggregates.
//
// Facts are immutable and idempotent on (transaction_id, item_id); they
// reference the dimension versions that were current on the transaction
// date. Aggregates are always recomputed from facts and replaced for the
// keys a load touched.
package warehouse

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ecompipe/internal/scd"
)

// FactKey is the natural key of a fact row.
type FactKey struct {
	TransactionID string
	ItemID        string
}

// Fact is one sales line.
type Fact struct {
	TransactionID      string          `json:"transaction_id"`
	ItemID             string          `json:"item_id"`
	DateKey            int             `json:"date_key"`
	Date               time.Time       `json:"date"`
	CustomerKey        int64           `json:"customer_key"`
	ProductKey         int64           `json:"product_key"`
	PaymentMethodKey   string          `json:"payment_method_key"`
	CustomerID         string          `json:"customer_id"`
	ProductID          string          `json:"product_id"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	LineTotal          decimal.Decimal `json:"line_total"`
	TransactionTotal   decimal.Decimal `json:"transaction_total"`
	ShippingAddress    string          `json:"shipping_address"`
}

// Key returns the fact's natural key.
func (f Fact) Key() FactKey { return FactKey{f.TransactionID, f.ItemID} }

// DateRow is a dim_date row.
type DateRow struct {
	DateKey    int       `json:"date_key"`
	Date       time.Time `json:"date"`
	DayOfMonth int       `json:"day_of_month"`
	DayOfWeek  int       `json:"day_of_week"` // 1 = Monday
	DayName    string    `json:"day_name"`
	Month      int       `json:"month"`
	MonthName  string    `json:"month_name"`
	Quarter    int       `json:"quarter"`
	Year       int       `json:"year"`
	WeekOfYear int       `json:"week_of_year"` // ISO
	IsWeekend  bool      `json:"is_weekend"`
}

// PaymentMethodRow is a dim_payment_method row.
type PaymentMethodRow struct {
	Key      string `json:"payment_method_key"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// DailySales is an agg_daily_sales row.
type DailySales struct {
	Date                time.Time       `json:"date"`
	TotalSales          decimal.Decimal `json:"total_sales"`
	TotalUnits          int             `json:"total_units"`
	TransactionCount    int             `json:"transaction_count"`
	CustomerCount       int             `json:"customer_count"`
	AvgTransactionValue decimal.Decimal `json:"avg_transaction_value"`
}

// ProductSales is an agg_product_sales row.
type ProductSales struct {
	ProductID        string          `json:"product_id"`
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalUnits       int             `json:"total_units"`
	TransactionCount int             `json:"transaction_count"`
	AvgDiscount      decimal.Decimal `json:"avg_discount"`
}

// CustomerLifetime is an agg_customer_lifetime row.
type CustomerLifetime struct {
	CustomerID          string          `json:"customer_id"`
	TotalSpent          decimal.Decimal `json:"total_spent"`
	TotalUnits          int             `json:"total_units"`
	TransactionCount    int             `json:"transaction_count"`
	FirstPurchase       time.Time       `json:"first_purchase"`
	LastPurchase        time.Time       `json:"last_purchase"`
	AvgTransactionValue decimal.Decimal `json:"avg_transaction_value"`
}

// Scope is the set of aggregate keys touched by a load.
type Scope struct {
	dates     map[time.Time]struct{}
	products  map[string]struct{}
	customers map[string]struct{}
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{
		dates:     make(map[time.Time]struct{}),
		products:  make(map[string]struct{}),
		customers: make(map[string]struct{}),
	}
}

// AddFact adds the fact's date, product and customer.
func (s *Scope) AddFact(f Fact) {
	s.dates[f.Date] = struct{}{}
	s.products[f.ProductID] = struct{}{}
	s.customers[f.CustomerID] = struct{}{}
}

// Empty reports whether the scope has no keys.
func (s *Scope) Empty() bool {
	return len(s.dates) == 0 && len(s.products) == 0 && len(s.customers) == 0
}

// Dates returns the scoped dates in ascending order.
func (s *Scope) Dates() []time.Time {
	out := make([]time.Time, 0, len(s.dates))
	for d := range s.dates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Products returns the scoped product IDs sorted.
func (s *Scope) Products() []string { return sortedKeys(s.products) }

// Customers returns the scoped customer IDs sorted.
func (s *Scope) Customers() []string { return sortedKeys(s.customers) }

func (s *Scope) hasDate(d time.Time) bool {
	_, ok := s.dates[d]
	return ok
}

func (s *Scope) hasProduct(id string) bool {
	_, ok := s.products[id]
	return ok
}

func (s *Scope) hasCustomer(id string) bool {
	_, ok := s.customers[id]
	return ok
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Reader is the read side of the warehouse store.
type Reader interface {
	// DimensionVersions returns the version chains of the given business keys.
	DimensionVersions(ctx context.Context, dimension string, businessKeys []string) (map[string][]scd.Version, error)

	// ExistingFactKeys returns which of keys are already loaded.
	ExistingFactKeys(ctx context.Context, keys []FactKey) (map[FactKey]bool, error)

	// FactsInScope returns every fact whose date, product or customer is in scope.
	FactsInScope(ctx context.Context, scope *Scope) ([]Fact, error)
}

// Writer is the transactional write side of the warehouse store.
type Writer interface {
	InsertFacts(ctx context.Context, facts []Fact) (int, error)
	UpsertDates(ctx context.Context, rows []DateRow) error
	UpsertPaymentMethods(ctx context.Context, rows []PaymentMethodRow) error
	ReplaceDailySales(ctx context.Context, dates []time.Time, rows []DailySales) error
	ReplaceProductSales(ctx context.Context, productIDs []string, rows []ProductSales) error
	ReplaceCustomerLifetime(ctx context.Context, customerIDs []string, rows []CustomerLifetime) error
}

// Store runs writes in a transaction: fn's error rolls back, nil commits.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(w Writer) error) error
}
