package entities

import "github.com/JonMunkholm/ecompipe/internal/core"

func init() {
	core.Register(core.EntityDefinition{
		Name:        core.EntityProducts,
		BusinessKey: "product_id",
		FileName:    "products.csv",
		LoadOrder:   20,
		Fields: []core.FieldSpec{
			{Name: "product_id", Type: core.FieldText, Required: true},
			{Name: "product_name", Type: core.FieldText, Required: true},
			{Name: "category", Type: core.FieldText},
			{Name: "sub_category", Type: core.FieldText},
			{Name: "price", Type: core.FieldNumeric, Required: true},
			{Name: "cost", Type: core.FieldNumeric, Required: true},
			{Name: "brand", Type: core.FieldText},
			{Name: "stock_quantity", Type: core.FieldInteger},
			{Name: "supplier_id", Type: core.FieldText},
		},
	})
}
