package sqlrepo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/store"
	"github.com/JonMunkholm/ecompipe/internal/warehouse"
)

var factColumns = []string{
	"transaction_id", "item_id", "date_key", "date", "customer_key", "product_key",
	"payment_method_key", "customer_id", "product_id", "quantity", "unit_price",
	"discount_percentage", "line_total", "transaction_total", "shipping_address",
}

const factSelect = `
	SELECT transaction_id, item_id, date_key, date, customer_key, product_key,
	       payment_method_key, customer_id, product_id, quantity, unit_price,
	       discount_percentage, line_total, transaction_total, shipping_address
	FROM warehouse.fact_sales`

func scanFact(row pgx.CollectableRow) (warehouse.Fact, error) {
	var (
		f                                   warehouse.Fact
		dateKey, qty                        int32
		date                                time.Time
		unitPrice, discount, line, txnTotal pgtype.Numeric
	)
	err := row.Scan(&f.TransactionID, &f.ItemID, &dateKey, &date, &f.CustomerKey, &f.ProductKey,
		&f.PaymentMethodKey, &f.CustomerID, &f.ProductID, &qty, &unitPrice,
		&discount, &line, &txnTotal, &f.ShippingAddress)
	if err != nil {
		return warehouse.Fact{}, err
	}
	f.DateKey = int(dateKey)
	f.Date = core.Day(date)
	f.Quantity = int(qty)
	f.UnitPrice = store.Decimal(unitPrice)
	f.DiscountPercentage = store.Decimal(discount)
	f.LineTotal = store.Decimal(line)
	f.TransactionTotal = store.Decimal(txnTotal)
	return f, nil
}

// ExistingFactKeys reports which keys are already in fact_sales.
func (r *Repo) ExistingFactKeys(ctx context.Context, keys []warehouse.FactKey) (map[warehouse.FactKey]bool, error) {
	out := make(map[warehouse.FactKey]bool)
	if len(keys) == 0 {
		return out, nil
	}

	txnIDs := make([]string, len(keys))
	itemIDs := make([]string, len(keys))
	for i, k := range keys {
		txnIDs[i] = k.TransactionID
		itemIDs[i] = k.ItemID
	}

	rows, err := r.db.Query(ctx, `
		SELECT f.transaction_id, f.item_id
		FROM warehouse.fact_sales f
		JOIN unnest($1::text[], $2::text[]) AS k(transaction_id, item_id)
		  ON f.transaction_id = k.transaction_id AND f.item_id = k.item_id`,
		txnIDs, itemIDs)
	if err != nil {
		return nil, err
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (warehouse.FactKey, error) {
		var k warehouse.FactKey
		err := row.Scan(&k.TransactionID, &k.ItemID)
		return k, err
	})
	if err != nil {
		return nil, store.ClassifyError("sqlrepo.existing_fact_keys", err)
	}
	for _, k := range found {
		out[k] = true
	}
	return out, nil
}

// FactsInScope returns facts matching any scope date, product or customer.
func (r *Repo) FactsInScope(ctx context.Context, scope *warehouse.Scope) ([]warehouse.Fact, error) {
	rows, err := r.db.Query(ctx, factSelect+`
		WHERE date = ANY($1::date[]) OR product_id = ANY($2) OR customer_id = ANY($3)
		ORDER BY transaction_id, item_id`,
		scope.Dates(), scope.Products(), scope.Customers())
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, scanFact)
	return out, store.ClassifyError("sqlrepo.facts_in_scope", err)
}

// WithinTx runs fn with a writer bound to one transaction.
func (r *Repo) WithinTx(ctx context.Context, fn func(w warehouse.Writer) error) error {
	return store.WithTx(ctx, r.db, func(tx store.Tx) error {
		return fn(&whWriter{tx: tx})
	})
}

type whWriter struct {
	tx store.Tx
}

func (w *whWriter) InsertFacts(ctx context.Context, facts []warehouse.Fact) (int, error) {
	rows := make([][]any, len(facts))
	for i, f := range facts {
		rows[i] = []any{
			f.TransactionID, f.ItemID, int32(f.DateKey), f.Date, f.CustomerKey, f.ProductKey,
			f.PaymentMethodKey, f.CustomerID, f.ProductID, int32(f.Quantity), store.Numeric(f.UnitPrice),
			store.Numeric(f.DiscountPercentage), store.Numeric(f.LineTotal), store.Numeric(f.TransactionTotal),
			f.ShippingAddress,
		}
	}
	n, err := w.tx.BulkWrite(ctx, "warehouse.fact_sales", factColumns, rows)
	return int(n), err
}

func (w *whWriter) UpsertDates(ctx context.Context, rows []warehouse.DateRow) error {
	values := make([][]any, len(rows))
	for i, d := range rows {
		values[i] = []any{
			int32(d.DateKey), d.Date, int16(d.DayOfMonth), int16(d.DayOfWeek), d.DayName,
			int16(d.Month), d.MonthName, int16(d.Quarter), int16(d.Year), int16(d.WeekOfYear), d.IsWeekend,
		}
	}
	_, err := copyMerge(ctx, w.tx, "warehouse.dim_date",
		[]string{"date_key", "date", "day_of_month", "day_of_week", "day_name",
			"month", "month_name", "quarter", "year", "week_of_year", "is_weekend"},
		"ON CONFLICT (date_key) DO NOTHING", values)
	return err
}

func (w *whWriter) UpsertPaymentMethods(ctx context.Context, rows []warehouse.PaymentMethodRow) error {
	values := make([][]any, len(rows))
	for i, p := range rows {
		values[i] = []any{p.Key, p.Name, p.Category}
	}
	_, err := copyMerge(ctx, w.tx, "warehouse.dim_payment_method",
		[]string{"payment_method_key", "name", "category"},
		"ON CONFLICT (payment_method_key) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category",
		values)
	return err
}

func (w *whWriter) ReplaceDailySales(ctx context.Context, dates []time.Time, rows []warehouse.DailySales) error {
	if _, err := w.tx.Execute(ctx, "DELETE FROM warehouse.agg_daily_sales WHERE date = ANY($1::date[])", dates); err != nil {
		return err
	}
	values := make([][]any, len(rows))
	for i, d := range rows {
		values[i] = []any{d.Date, store.Numeric(d.TotalSales), int32(d.TotalUnits), int32(d.TransactionCount),
			int32(d.CustomerCount), store.Numeric(d.AvgTransactionValue)}
	}
	_, err := w.tx.BulkWrite(ctx, "warehouse.agg_daily_sales",
		[]string{"date", "total_sales", "total_units", "transaction_count", "customer_count", "avg_transaction_value"},
		values)
	return err
}

func (w *whWriter) ReplaceProductSales(ctx context.Context, productIDs []string, rows []warehouse.ProductSales) error {
	if _, err := w.tx.Execute(ctx, "DELETE FROM warehouse.agg_product_sales WHERE product_id = ANY($1)", productIDs); err != nil {
		return err
	}
	values := make([][]any, len(rows))
	for i, p := range rows {
		values[i] = []any{p.ProductID, store.Numeric(p.TotalSales), int32(p.TotalUnits), int32(p.TransactionCount),
			store.Numeric(p.AvgDiscount)}
	}
	_, err := w.tx.BulkWrite(ctx, "warehouse.agg_product_sales",
		[]string{"product_id", "total_sales", "total_units", "transaction_count", "avg_discount"},
		values)
	return err
}

func (w *whWriter) ReplaceCustomerLifetime(ctx context.Context, customerIDs []string, rows []warehouse.CustomerLifetime) error {
	if _, err := w.tx.Execute(ctx, "DELETE FROM warehouse.agg_customer_lifetime WHERE customer_id = ANY($1)", customerIDs); err != nil {
		return err
	}
	values := make([][]any, len(rows))
	for i, c := range rows {
		values[i] = []any{c.CustomerID, store.Numeric(c.TotalSpent), int32(c.TotalUnits), int32(c.TransactionCount),
			c.FirstPurchase, c.LastPurchase, store.Numeric(c.AvgTransactionValue)}
	}
	_, err := w.tx.BulkWrite(ctx, "warehouse.agg_customer_lifetime",
		[]string{"customer_id", "total_spent", "total_units", "transaction_count",
			"first_purchase", "last_purchase", "avg_transaction_value"},
		values)
	return err
}
