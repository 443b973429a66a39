package pipeline

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/core"
)

var ingestedAt = time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)

func TestReadEntity(t *testing.T) {
	def := core.MustGet(core.EntityProducts)

	tests := []struct {
		name    string
		input   string
		rows    int
		wantErr bool
		check   func(t *testing.T, rows []core.StagedRecord)
	}{
		{
			name:  "plain",
			input: "product_id,product_name,price,cost\nPROD000001,Lamp,40.00,20.00\nPROD000002,Novel,15,6\n",
			rows:  2,
			check: func(t *testing.T, rows []core.StagedRecord) {
				if rows[1].Row != 2 || rows[1].Values["price"] != "15" {
					t.Errorf("row = %+v", rows[1])
				}
				if v, ok := rows[0].Get("brand"); ok {
					t.Errorf("absent optional column = %q, want null", v)
				}
			},
		},
		{
			name:  "bom and reordered header",
			input: "\ufeffPRICE,cost,product_name,product_id\n40.00,20.00,Lamp,PROD000001\n",
			rows:  1,
			check: func(t *testing.T, rows []core.StagedRecord) {
				if rows[0].Values["product_id"] != "PROD000001" || rows[0].Values["price"] != "40.00" {
					t.Errorf("values = %v", rows[0].Values)
				}
			},
		},
		{
			name:  "invalid utf8 replaced",
			input: "product_id,product_name,price,cost\nPROD000001,Caf\xe9,40.00,20.00\n",
			rows:  1,
			check: func(t *testing.T, rows []core.StagedRecord) {
				if got := rows[0].Values["product_name"]; got != "Caf\ufffd" {
					t.Errorf("product_name = %q", got)
				}
			},
		},
		{
			name:  "blank values kept for measurement",
			input: "product_id,product_name,price,cost\nPROD000001,,abc,\n",
			rows:  1,
			check: func(t *testing.T, rows []core.StagedRecord) {
				if !rows[0].IsNull("product_name") || rows[0].Values["price"] != "abc" {
					t.Errorf("values = %v", rows[0].Values)
				}
			},
		},
		{name: "header only", input: "product_id,product_name,price,cost\n", rows: 0},
		{name: "empty file", input: "", wantErr: true},
		{name: "missing required column", input: "product_id,product_name,price\nPROD000001,Lamp,40\n", wantErr: true},
		{name: "ragged row", input: "product_id,product_name,price,cost\nPROD000001,Lamp,40\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ReadEntity(strings.NewReader(tt.input), def, ingestedAt)
			if tt.wantErr {
				if core.KindOf(err) != core.KindConfiguration {
					t.Fatalf("err = %v, want configuration error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadEntity: %v", err)
			}
			if len(rows) != tt.rows {
				t.Fatalf("rows = %d, want %d", len(rows), tt.rows)
			}
			for _, r := range rows {
				if r.Entity != core.EntityProducts || !r.IngestedAt.Equal(ingestedAt) {
					t.Errorf("metadata = %s %v", r.Entity, r.IngestedAt)
				}
			}
			if tt.check != nil {
				tt.check(t, rows)
			}
		})
	}
}

func TestReadEntityFile_Missing(t *testing.T) {
	def := core.MustGet(core.EntityCustomers)
	_, err := ReadEntityFile(filepath.Join(t.TempDir(), def.FileName), def, ingestedAt)
	if core.KindOf(err) != core.KindConfiguration {
		t.Errorf("err = %v, want configuration error", err)
	}
}
