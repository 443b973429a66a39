package entities

import "github.com/JonMunkholm/ecompipe/internal/core"

func init() {
	registerTransactions()
	registerTransactionItems()
}

func registerTransactions() {
	core.Register(core.EntityDefinition{
		Name:        core.EntityTransactions,
		BusinessKey: "transaction_id",
		FileName:    "transactions.csv",
		LoadOrder:   30,
		Fields: []core.FieldSpec{
			{Name: "transaction_id", Type: core.FieldText, Required: true},
			{Name: "customer_id", Type: core.FieldText, Required: true},
			{Name: "transaction_date", Type: core.FieldDate, Required: true},
			{Name: "transaction_time", Type: core.FieldText},
			{Name: "payment_method", Type: core.FieldText},
			{Name: "shipping_address", Type: core.FieldText},
			{Name: "total_amount", Type: core.FieldNumeric},
		},
	})
}

func registerTransactionItems() {
	core.Register(core.EntityDefinition{
		Name:        core.EntityTransactionItems,
		BusinessKey: "item_id",
		FileName:    "transaction_items.csv",
		LoadOrder:   40,
		Fields: []core.FieldSpec{
			{Name: "item_id", Type: core.FieldText, Required: true},
			{Name: "transaction_id", Type: core.FieldText, Required: true},
			{Name: "product_id", Type: core.FieldText, Required: true},
			{Name: "quantity", Type: core.FieldInteger, Required: true},
			{Name: "unit_price", Type: core.FieldNumeric, Required: true},
			{Name: "discount_percentage", Type: core.FieldNumeric},
			{Name: "line_total", Type: core.FieldNumeric},
		},
	})
}
