package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// CleansedRecord is a production-tier record. Each entity has its own typed
// variant; the interface exposes what the generic stages need.
type CleansedRecord interface {
	EntityName() string
	BusinessKey() string
}

// Sentinel values substituted for missing fields during cleansing.
const (
	Unknown        = "Unknown"
	NoEmail        = "noemail@example.com"
	UnknownProduct = "Unknown Product"
	Uncategorized  = "Uncategorized"
	GeneralSubCat  = "General"
	UnknownBrand   = "Unknown Brand"
	UnknownSupply  = "UNKNOWN"
)

// PaymentMethods are the canonical payment method names.
var PaymentMethods = []string{"Credit Card", "Debit Card", "UPI", "Cash on Delivery", "Net Banking"}

// DateLayout is the canonical date format for storage and snapshots.
const DateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

// Customer is a cleansed customer.
type Customer struct {
	CustomerID       string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	City             string
	State            string
	Country          string
	AgeGroup         string
	RegistrationDate *time.Time
}

func (c Customer) EntityName() string  { return EntityCustomers }
func (c Customer) BusinessKey() string { return c.CustomerID }

// Attributes returns the dimension snapshot for SCD versioning.
func (c Customer) Attributes() map[string]string {
	reg := ""
	if c.RegistrationDate != nil {
		reg = c.RegistrationDate.Format(DateLayout)
	}
	return map[string]string{
		"first_name":        c.FirstName,
		"last_name":         c.LastName,
		"email":             c.Email,
		"phone":             c.Phone,
		"city":              c.City,
		"state":             c.State,
		"country":           c.Country,
		"age_group":         c.AgeGroup,
		"registration_date": reg,
	}
}

// Product is a cleansed product.
type Product struct {
	ProductID     string
	ProductName   string
	Category      string
	SubCategory   string
	Brand         string
	SupplierID    string
	Price         decimal.Decimal
	Cost          decimal.Decimal
	StockQuantity int
}

func (p Product) EntityName() string  { return EntityProducts }
func (p Product) BusinessKey() string { return p.ProductID }

// Attributes returns the dimension snapshot for SCD versioning. Money is
// rendered with two decimals so 10 and 10.00 compare equal.
func (p Product) Attributes() map[string]string {
	return map[string]string{
		"product_name": p.ProductName,
		"category":     p.Category,
		"sub_category": p.SubCategory,
		"brand":        p.Brand,
		"price":        p.Price.StringFixed(2),
		"cost":         p.Cost.StringFixed(2),
	}
}

// Transaction is a cleansed order header.
type Transaction struct {
	TransactionID   string
	CustomerID      string
	TransactionDate time.Time
	TransactionTime string
	PaymentMethod   string
	ShippingAddress string
	TotalAmount     decimal.Decimal
}

func (t Transaction) EntityName() string  { return EntityTransactions }
func (t Transaction) BusinessKey() string { return t.TransactionID }

// TransactionItem is a cleansed order line.
type TransactionItem struct {
	ItemID             string
	TransactionID      string
	ProductID          string
	Quantity           int
	UnitPrice          decimal.Decimal
	DiscountPercentage decimal.Decimal
	LineTotal          decimal.Decimal
}

func (i TransactionItem) EntityName() string  { return EntityTransactionItems }
func (i TransactionItem) BusinessKey() string { return i.ItemID }

// ExpectedLineTotal returns quantity * unit_price * (1 - discount/100) unrounded.
func ExpectedLineTotal(quantity, unitPrice, discount decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(discount.Div(hundred))
	return quantity.Mul(unitPrice).Mul(factor)
}

// LineTotal returns the line total rounded to cents.
func LineTotal(quantity int, unitPrice, discount decimal.Decimal) decimal.Decimal {
	return ExpectedLineTotal(decimal.NewFromInt(int64(quantity)), unitPrice, discount).Round(2)
}
