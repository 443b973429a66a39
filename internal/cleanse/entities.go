package cleanse

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ecompipe/internal/core"
)

// Repair counter names.
const (
	RepairPriceFloor       = "price_floor"
	RepairCostNegative     = "cost_negative"
	RepairCostAbovePrice   = "cost_above_price"
	RepairLineTotal        = "line_total_recomputed"
	RepairDateCleared      = "registration_date_cleared"
	RepairNumericDefaulted = "numeric_defaulted"
	repairFillPrefix       = "fill_"
)

var (
	minPrice = decimal.NewFromInt(1)
	half     = decimal.NewFromFloat(0.5)
	hundred  = decimal.NewFromInt(100)
)

// ----------------------------------------------------------------------------
// Field helpers
// ----------------------------------------------------------------------------

// text returns the collapsed value of field, or sentinel (counted as a fill).
func (c *cleanser) text(row core.StagedRecord, field, sentinel string) string {
	v, ok := row.Get(field)
	if !ok {
		c.repair(repairFillPrefix + field)
		return sentinel
	}
	return collapseSpace(v)
}

// title is text in title case.
func (c *cleanser) title(row core.StagedRecord, field, sentinel string) string {
	v, ok := row.Get(field)
	if !ok {
		c.repair(repairFillPrefix + field)
		return sentinel
	}
	return c.norm.Title(v)
}

// requiredDecimal parses a required numeric field. ok is false when missing or non-numeric.
func requiredDecimal(row core.StagedRecord, field string) (decimal.Decimal, bool) {
	v, ok := row.Get(field)
	if !ok {
		return decimal.Zero, false
	}
	return core.ParseDecimal(v)
}

// optionalDecimal parses an optional numeric field, defaulting to zero when
// missing or unparseable.
func (c *cleanser) optionalDecimal(row core.StagedRecord, field string) decimal.Decimal {
	v, ok := row.Get(field)
	if !ok {
		c.repair(repairFillPrefix + field)
		return decimal.Zero
	}
	d, ok := core.ParseDecimal(v)
	if !ok {
		c.repair(RepairNumericDefaulted)
		return decimal.Zero
	}
	return d
}

// ----------------------------------------------------------------------------
// Customers
// ----------------------------------------------------------------------------

func cleanseCustomer(c *cleanser, row core.StagedRecord) (core.CleansedRecord, string) {
	id, _ := row.Get("customer_id")

	email := core.NoEmail
	if v, ok := row.Get("email"); ok {
		email = c.norm.Email(v)
	} else {
		c.repair(repairFillPrefix + "email")
	}

	phone := Phone(row.Values["phone"])
	if phone == "" {
		c.repair(repairFillPrefix + "phone")
		phone = core.Unknown
	}

	var reg *time.Time
	if v, ok := row.Get("registration_date"); ok {
		if d, ok := core.ParseDate(v); ok {
			reg = &d
		} else {
			c.repair(RepairDateCleared)
		}
	}

	return core.Customer{
		CustomerID:       id,
		FirstName:        c.title(row, "first_name", core.Unknown),
		LastName:         c.title(row, "last_name", core.Unknown),
		Email:            email,
		Phone:            phone,
		City:             c.text(row, "city", core.Unknown),
		State:            c.text(row, "state", core.Unknown),
		Country:          c.text(row, "country", core.Unknown),
		AgeGroup:         c.text(row, "age_group", core.Unknown),
		RegistrationDate: reg,
	}, ""
}

// ----------------------------------------------------------------------------
// Products
// ----------------------------------------------------------------------------

func cleanseProduct(c *cleanser, row core.StagedRecord) (core.CleansedRecord, string) {
	id, _ := row.Get("product_id")

	price, ok := requiredDecimal(row, "price")
	if !ok {
		return nil, "non-numeric price"
	}
	cost, ok := requiredDecimal(row, "cost")
	if !ok {
		return nil, "non-numeric cost"
	}

	if !price.IsPositive() {
		price = minPrice
		c.repair(RepairPriceFloor)
	}
	if cost.IsNegative() {
		cost = decimal.Zero
		c.repair(RepairCostNegative)
	}
	if cost.GreaterThanOrEqual(price) {
		cost = price.Mul(half)
		c.repair(RepairCostAbovePrice)
	}

	stock := 0
	if v, present := row.Get("stock_quantity"); present {
		if n, ok := core.ParseInt(v); ok {
			stock = n
		} else {
			c.repair(RepairNumericDefaulted)
		}
	} else {
		c.repair(repairFillPrefix + "stock_quantity")
	}

	return core.Product{
		ProductID:     id,
		ProductName:   c.text(row, "product_name", core.UnknownProduct),
		Category:      c.title(row, "category", core.Uncategorized),
		SubCategory:   c.text(row, "sub_category", core.GeneralSubCat),
		Brand:         c.text(row, "brand", core.UnknownBrand),
		SupplierID:    c.text(row, "supplier_id", core.UnknownSupply),
		Price:         price.Round(2),
		Cost:          cost.Round(2),
		StockQuantity: stock,
	}, ""
}

// ----------------------------------------------------------------------------
// Transactions
// ----------------------------------------------------------------------------

func cleanseTransaction(c *cleanser, row core.StagedRecord) (core.CleansedRecord, string) {
	id, _ := row.Get("transaction_id")

	customerID, ok := row.Get("customer_id")
	if !ok {
		return nil, "orphan: missing customer_id"
	}

	raw, ok := row.Get("transaction_date")
	if !ok {
		return nil, "missing transaction_date"
	}
	date, ok := core.ParseDate(raw)
	if !ok {
		return nil, "unparseable transaction_date"
	}

	total := c.optionalDecimal(row, "total_amount")
	if total.IsNegative() {
		return nil, "negative total_amount"
	}

	payment := core.Unknown
	if v, ok := row.Get("payment_method"); ok {
		payment = PaymentMethod(v)
	} else {
		c.repair(repairFillPrefix + "payment_method")
	}

	return core.Transaction{
		TransactionID:   id,
		CustomerID:      customerID,
		TransactionDate: date,
		TransactionTime: c.text(row, "transaction_time", core.Unknown),
		PaymentMethod:   payment,
		ShippingAddress: c.text(row, "shipping_address", core.Unknown),
		TotalAmount:     total.Round(2),
	}, ""
}

// ----------------------------------------------------------------------------
// Transaction items
// ----------------------------------------------------------------------------

func cleanseItem(c *cleanser, row core.StagedRecord) (core.CleansedRecord, string) {
	id, _ := row.Get("item_id")

	txnID, ok := row.Get("transaction_id")
	if !ok {
		return nil, "orphan: missing transaction_id"
	}
	productID, ok := row.Get("product_id")
	if !ok {
		return nil, "orphan: missing product_id"
	}

	rawQty, ok := row.Get("quantity")
	if !ok {
		return nil, "non-numeric quantity"
	}
	qty, ok := core.ParseInt(rawQty)
	if !ok {
		return nil, "non-numeric quantity"
	}
	if qty <= 0 {
		return nil, "quantity must be positive"
	}

	price, ok := requiredDecimal(row, "unit_price")
	if !ok {
		return nil, "non-numeric unit_price"
	}

	discount := c.optionalDecimal(row, "discount_percentage")
	if discount.IsNegative() || discount.GreaterThan(hundred) {
		return nil, "discount_percentage outside [0,100]"
	}

	lineTotal := core.LineTotal(qty, price, discount)
	if staged, ok := requiredDecimal(row, "line_total"); !ok || !staged.Equal(lineTotal) {
		c.repair(RepairLineTotal)
	}

	return core.TransactionItem{
		ItemID:             id,
		TransactionID:      txnID,
		ProductID:          productID,
		Quantity:           qty,
		UnitPrice:          price.Round(2),
		DiscountPercentage: discount,
		LineTotal:          lineTotal,
	}, ""
}
