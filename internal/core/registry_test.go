package core

import (
	"strings"
	"testing"
)

func testEntity(name string, order int) EntityDefinition {
	return EntityDefinition{
		Name:        name,
		BusinessKey: "id",
		FileName:    name + ".csv",
		LoadOrder:   order,
		Fields: []FieldSpec{
			{Name: "id", Required: true},
			{Name: "amount", Type: FieldNumeric},
		},
	}
}

func TestRegistry(t *testing.T) {
	Clear()
	defer Clear()

	Register(testEntity("children", 20))
	Register(testEntity("parents", 10))

	if got := EntityCount(); got != 2 {
		t.Fatalf("EntityCount() = %d, want 2", got)
	}

	names := Names()
	if len(names) != 2 || names[0] != "parents" || names[1] != "children" {
		t.Errorf("Names() = %v, want [parents children]", names)
	}

	def, ok := Get("parents")
	if !ok {
		t.Fatal("Get(parents) not found")
	}
	if got := strings.Join(def.Columns(), ","); got != "id,amount" {
		t.Errorf("Columns() = %q", got)
	}
	if def.StagingTable() != "staging.parents" || def.ProductionTable() != "production.parents" {
		t.Errorf("tables = %s, %s", def.StagingTable(), def.ProductionTable())
	}

	if _, ok := Get("missing"); ok {
		t.Error("Get(missing) found an entity")
	}
}

func TestRegister_Panics(t *testing.T) {
	Clear()
	defer Clear()

	Register(testEntity("dup", 1))

	assertPanics(t, "duplicate", func() { Register(testEntity("dup", 1)) })

	bad := testEntity("badkey", 1)
	bad.BusinessKey = "nope"
	assertPanics(t, "bad business key", func() { Register(bad) })

	assertPanics(t, "MustGet unknown", func() { MustGet("unknown") })
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestValidateHeaders(t *testing.T) {
	def := testEntity("things", 1)

	if _, err := ValidateHeaders([]string{"ID", "amount"}, def); err != nil {
		t.Errorf("ValidateHeaders() = %v, want nil", err)
	}

	_, err := ValidateHeaders([]string{"amount"}, def)
	if err == nil || !strings.Contains(err.Error(), "missing required columns: id") {
		t.Errorf("ValidateHeaders() = %v, want missing id", err)
	}
}

func TestValidateWidth(t *testing.T) {
	if err := ValidateWidth([]string{"a", "b"}, 2, 3); err != nil {
		t.Errorf("ValidateWidth() = %v", err)
	}
	err := ValidateWidth([]string{"a"}, 2, 3)
	if err == nil || err.Error() != "line 3: expected 2 columns, got 1" {
		t.Errorf("ValidateWidth() = %v", err)
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		value string
		typ   FieldType
		ok    bool
	}{
		{"12.5", FieldNumeric, true},
		{"abc", FieldNumeric, false},
		{"3", FieldInteger, true},
		{"3.5", FieldInteger, false},
		{"2024-01-01", FieldDate, true},
		{"soon", FieldDate, false},
		{"", FieldDate, true},
		{"anything", FieldText, true},
	}
	for _, tt := range tests {
		err := ParseField(tt.value, FieldSpec{Name: "f", Type: tt.typ})
		if (err == nil) != tt.ok {
			t.Errorf("ParseField(%q, %s) = %v, want ok=%v", tt.value, tt.typ, err, tt.ok)
		}
	}
}
