package core

import (
	"strconv"
	"strings"
	"time"
)

// Entity names. They double as staging/production table suffixes and as the
// keys used in rule configuration.
const (
	EntityCustomers        = "customers"
	EntityProducts         = "products"
	EntityTransactions     = "transactions"
	EntityTransactionItems = "transaction_items"
)

// StagedRecord is one raw row as it sits in staging: loosely typed string
// fields plus ingestion metadata. A field is null when it is absent or blank.
type StagedRecord struct {
	Entity     string
	Row        int       // 1-based position in the source file
	IngestedAt time.Time // when the row reached staging
	Values     map[string]string
}

// Get returns the trimmed value of field and whether it is non-null.
func (r StagedRecord) Get(field string) (string, bool) {
	v := strings.TrimSpace(r.Values[field])
	return v, v != ""
}

// IsNull reports whether field is absent or blank.
func (r StagedRecord) IsNull(field string) bool {
	_, ok := r.Get(field)
	return !ok
}

// NullCount counts null fields among fields. With no fields given it counts
// over every value present in the row.
func (r StagedRecord) NullCount(fields ...string) int {
	n := 0
	if len(fields) == 0 {
		for _, v := range r.Values {
			if strings.TrimSpace(v) == "" {
				n++
			}
		}
		return n
	}
	for _, f := range fields {
		if r.IsNull(f) {
			n++
		}
	}
	return n
}

// Identifier returns a label for findings and drop reasons: the business key
// value when present, otherwise "row N".
func (r StagedRecord) Identifier(businessKey string) string {
	if v, ok := r.Get(businessKey); ok {
		return v
	}
	return "row " + strconv.Itoa(r.Row)
}
