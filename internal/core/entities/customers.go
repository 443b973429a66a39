package entities

import "github.com/JonMunkholm/ecompipe/internal/core"

func init() {
	core.Register(core.EntityDefinition{
		Name:        core.EntityCustomers,
		BusinessKey: "customer_id",
		FileName:    "customers.csv",
		LoadOrder:   10,
		Fields: []core.FieldSpec{
			{Name: "customer_id", Type: core.FieldText, Required: true},
			{Name: "first_name", Type: core.FieldText, Required: true},
			{Name: "last_name", Type: core.FieldText, Required: true},
			{Name: "email", Type: core.FieldText, Required: true},
			{Name: "phone", Type: core.FieldText},
			{Name: "registration_date", Type: core.FieldDate},
			{Name: "city", Type: core.FieldText},
			{Name: "state", Type: core.FieldText},
			{Name: "country", Type: core.FieldText},
			{Name: "age_group", Type: core.FieldText},
		},
	})
}
