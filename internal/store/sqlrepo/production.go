package sqlrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/store"
)

// productionTable describes how one entity's cleansed records map onto its
// production table. The first column is the business key.
type productionTable struct {
	columns []string
	row     func(core.CleansedRecord) ([]any, bool)
}

var productionTables = map[string]productionTable{
	core.EntityCustomers: {
		columns: []string{"customer_id", "first_name", "last_name", "email", "phone",
			"city", "state", "country", "age_group", "registration_date"},
		row: func(rec core.CleansedRecord) ([]any, bool) {
			c, ok := rec.(core.Customer)
			if !ok {
				return nil, false
			}
			return []any{c.CustomerID, c.FirstName, c.LastName, c.Email, c.Phone,
				c.City, c.State, c.Country, c.AgeGroup, store.Date(c.RegistrationDate)}, true
		},
	},
	core.EntityProducts: {
		columns: []string{"product_id", "product_name", "category", "sub_category", "brand",
			"supplier_id", "price", "cost", "stock_quantity"},
		row: func(rec core.CleansedRecord) ([]any, bool) {
			p, ok := rec.(core.Product)
			if !ok {
				return nil, false
			}
			return []any{p.ProductID, p.ProductName, p.Category, p.SubCategory, p.Brand,
				p.SupplierID, store.Numeric(p.Price), store.Numeric(p.Cost), int32(p.StockQuantity)}, true
		},
	},
	core.EntityTransactions: {
		columns: []string{"transaction_id", "customer_id", "transaction_date", "transaction_time",
			"payment_method", "shipping_address", "total_amount"},
		row: func(rec core.CleansedRecord) ([]any, bool) {
			t, ok := rec.(core.Transaction)
			if !ok {
				return nil, false
			}
			return []any{t.TransactionID, t.CustomerID, store.Date(&t.TransactionDate), t.TransactionTime,
				t.PaymentMethod, t.ShippingAddress, store.Numeric(t.TotalAmount)}, true
		},
	},
	core.EntityTransactionItems: {
		columns: []string{"item_id", "transaction_id", "product_id", "quantity", "unit_price",
			"discount_percentage", "line_total"},
		row: func(rec core.CleansedRecord) ([]any, bool) {
			i, ok := rec.(core.TransactionItem)
			if !ok {
				return nil, false
			}
			return []any{i.ItemID, i.TransactionID, i.ProductID, int32(i.Quantity), store.Numeric(i.UnitPrice),
				store.Numeric(i.DiscountPercentage), store.Numeric(i.LineTotal)}, true
		},
	},
}

// UpsertProduction upserts every batch in one transaction, parents first.
// Each batch is copied into a temporary table and merged with
// INSERT ... ON CONFLICT so a re-run updates rather than duplicates.
func (r *Repo) UpsertProduction(ctx context.Context, batches map[string][]core.CleansedRecord) (map[string]int, error) {
	counts := make(map[string]int, len(batches))
	for entity := range batches {
		if _, ok := productionTables[entity]; !ok {
			return nil, core.Configuration("sqlrepo.upsert_production", fmt.Errorf("unknown entity %q", entity))
		}
	}

	err := store.WithTx(ctx, r.db, func(tx store.Tx) error {
		for _, entity := range core.Names() {
			records, ok := batches[entity]
			if !ok || len(records) == 0 {
				continue
			}
			n, err := upsertEntity(ctx, tx, entity, records)
			if err != nil {
				return err
			}
			counts[entity] = n
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert production: %w", err)
	}
	return counts, nil
}

func upsertEntity(ctx context.Context, tx store.Tx, entity string, records []core.CleansedRecord) (int, error) {
	def := core.MustGet(entity)
	pt := productionTables[entity]

	rows := make([][]any, len(records))
	for i, rec := range records {
		row, ok := pt.row(rec)
		if !ok {
			return 0, core.Integrity("sqlrepo.upsert_production",
				fmt.Errorf("%s record %s in %s batch", rec.EntityName(), rec.BusinessKey(), entity))
		}
		rows[i] = row
	}

	updates := make([]string, 0, len(pt.columns))
	for _, c := range pt.columns[1:] {
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	updates = append(updates, "updated_at = now()")

	n, err := copyMerge(ctx, tx, def.ProductionTable(), pt.columns,
		fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", def.BusinessKey, strings.Join(updates, ", ")),
		rows)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", def.ProductionTable(), err)
	}
	return int(n), nil
}

// copyMerge copies rows into a temporary table shaped like target and merges
// them with the given conflict clause. Must run inside a transaction.
func copyMerge(ctx context.Context, tx store.Tx, target string, columns []string, onConflict string, rows [][]any) (int64, error) {
	tmp := "tmp_" + strings.ReplaceAll(target, ".", "_")
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", tmp, target)
	if _, err := tx.Execute(ctx, create); err != nil {
		return 0, err
	}
	if _, err := tx.BulkWrite(ctx, tmp, columns, rows); err != nil {
		return 0, err
	}

	cols := strings.Join(columns, ", ")
	merge := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s %s", target, cols, cols, tmp, onConflict)
	n, err := tx.Execute(ctx, merge)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Execute(ctx, "DROP TABLE "+tmp); err != nil {
		return 0, err
	}
	return n, nil
}

// ProductionKeys returns the promoted business keys of entity.
func (r *Repo) ProductionKeys(ctx context.Context, entity string) ([]string, error) {
	def, ok := core.Get(entity)
	if !ok {
		return nil, core.Configuration("sqlrepo.production_keys", fmt.Errorf("unknown entity %q", entity))
	}

	rows, err := r.db.Query(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY 1", def.BusinessKey, def.ProductionTable()))
	if err != nil {
		return nil, err
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return keys, store.ClassifyError("sqlrepo.production_keys", err)
}

// Customers reads production customers ordered by ID.
func (r *Repo) Customers(ctx context.Context) ([]core.Customer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT customer_id, first_name, last_name, email, phone, city, state, country, age_group, registration_date
		FROM production.customers ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Customer, error) {
		var (
			c   core.Customer
			reg pgtype.Date
		)
		err := row.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
			&c.City, &c.State, &c.Country, &c.AgeGroup, &reg)
		c.RegistrationDate = store.TimePtr(reg)
		return c, err
	})
	return out, store.ClassifyError("sqlrepo.customers", err)
}

// Products reads production products ordered by ID.
func (r *Repo) Products(ctx context.Context) ([]core.Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT product_id, product_name, category, sub_category, brand, supplier_id, price, cost, stock_quantity
		FROM production.products ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Product, error) {
		var (
			p           core.Product
			price, cost pgtype.Numeric
			stock       int32
		)
		err := row.Scan(&p.ProductID, &p.ProductName, &p.Category, &p.SubCategory, &p.Brand,
			&p.SupplierID, &price, &cost, &stock)
		p.Price = store.Decimal(price)
		p.Cost = store.Decimal(cost)
		p.StockQuantity = int(stock)
		return p, err
	})
	return out, store.ClassifyError("sqlrepo.products", err)
}

// Transactions reads production transactions ordered by ID.
func (r *Repo) Transactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT transaction_id, customer_id, transaction_date, transaction_time, payment_method, shipping_address, total_amount
		FROM production.transactions ORDER BY transaction_id`)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Transaction, error) {
		var (
			t     core.Transaction
			date  time.Time
			total pgtype.Numeric
		)
		err := row.Scan(&t.TransactionID, &t.CustomerID, &date, &t.TransactionTime,
			&t.PaymentMethod, &t.ShippingAddress, &total)
		t.TransactionDate = core.Day(date)
		t.TotalAmount = store.Decimal(total)
		return t, err
	})
	return out, store.ClassifyError("sqlrepo.transactions", err)
}

// TransactionItems reads production items ordered by ID.
func (r *Repo) TransactionItems(ctx context.Context) ([]core.TransactionItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT item_id, transaction_id, product_id, quantity, unit_price, discount_percentage, line_total
		FROM production.transaction_items ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.TransactionItem, error) {
		var (
			i                         core.TransactionItem
			qty                       int32
			unitPrice, discount, line pgtype.Numeric
		)
		err := row.Scan(&i.ItemID, &i.TransactionID, &i.ProductID, &qty, &unitPrice, &discount, &line)
		i.Quantity = int(qty)
		i.UnitPrice = store.Decimal(unitPrice)
		i.DiscountPercentage = store.Decimal(discount)
		i.LineTotal = store.Decimal(line)
		return i, err
	})
	return out, store.ClassifyError("sqlrepo.transaction_items", err)
}
