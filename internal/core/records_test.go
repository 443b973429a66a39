package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStagedRecord(t *testing.T) {
	r := StagedRecord{
		Row: 7,
		Values: map[string]string{
			"customer_id": " C1 ",
			"email":       "",
			"phone":       "   ",
			"city":        "NYC",
		},
	}

	if v, ok := r.Get("customer_id"); !ok || v != "C1" {
		t.Errorf("Get(customer_id) = (%q, %v), want (C1, true)", v, ok)
	}
	if !r.IsNull("email") || !r.IsNull("phone") || !r.IsNull("absent") {
		t.Error("blank and absent fields should be null")
	}
	if got := r.NullCount(); got != 2 {
		t.Errorf("NullCount() = %d, want 2", got)
	}
	if got := r.NullCount("email", "city", "absent"); got != 2 {
		t.Errorf("NullCount(email, city, absent) = %d, want 2", got)
	}
	if got := r.Identifier("customer_id"); got != "C1" {
		t.Errorf("Identifier() = %q, want C1", got)
	}
	if got := r.Identifier("email"); got != "row 7" {
		t.Errorf("Identifier(null key) = %q, want row 7", got)
	}
}

func TestLineTotal(t *testing.T) {
	tests := []struct {
		qty      int
		price    string
		discount string
		want     string
	}{
		{2, "10.00", "0", "20"},
		{3, "19.99", "10", "53.97"},
		{1, "100", "100", "0"},
		{4, "2.345", "0", "9.38"},
	}
	for _, tt := range tests {
		got := LineTotal(tt.qty, decimal.RequireFromString(tt.price), decimal.RequireFromString(tt.discount))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("LineTotal(%d, %s, %s) = %s, want %s", tt.qty, tt.price, tt.discount, got, tt.want)
		}
	}
}

func TestAttributes_Canonical(t *testing.T) {
	p := Product{ProductID: "P1", Price: decimal.RequireFromString("10"), Cost: decimal.RequireFromString("4.5")}
	attrs := p.Attributes()
	if attrs["price"] != "10.00" || attrs["cost"] != "4.50" {
		t.Errorf("Attributes() money = %q/%q, want 10.00/4.50", attrs["price"], attrs["cost"])
	}

	reg := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	c := Customer{CustomerID: "C1", City: "NYC", RegistrationDate: &reg}
	if got := c.Attributes()["registration_date"]; got != "2023-05-01" {
		t.Errorf("registration_date = %q, want 2023-05-01", got)
	}
	if c.EntityName() != EntityCustomers || c.BusinessKey() != "C1" {
		t.Errorf("EntityName/BusinessKey = %s/%s", c.EntityName(), c.BusinessKey())
	}
}
