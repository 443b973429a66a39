package scd

import (
	"context"
	"errors"
	"time"
)

// Dimension names.
const (
	DimCustomers = "dim_customers"
	DimProducts  = "dim_products"
)

// Version is one row of a dimension's history.
type Version struct {
	SurrogateKey  int64             `json:"surrogate_key"`
	BusinessKey   string            `json:"business_key"`
	Attributes    map[string]string `json:"attributes"`
	IsCurrent     bool              `json:"is_current"`
	EffectiveDate time.Time         `json:"effective_date"`
	EndDate       *time.Time        `json:"end_date,omitempty"`
}

// Covers reports whether day falls in [EffectiveDate, EndDate).
func (v Version) Covers(day time.Time) bool {
	if day.Before(v.EffectiveDate) {
		return false
	}
	return v.EndDate == nil || day.Before(*v.EndDate)
}

// ErrCurrentExists is returned by Tx.Insert when another current version of
// the business key already exists, i.e. a concurrent first insert won.
var ErrCurrentExists = errors.New("current version already exists")

// Store opens dimension transactions and reads history.
type Store interface {
	BeginDimension(ctx context.Context, dimension string) (Tx, error)
	History(ctx context.Context, dimension, businessKey string) ([]Version, error)
}

// Tx is a read-modify-write unit over one dimension.
type Tx interface {
	// Current returns the current version, or nil when the key is new.
	Current(ctx context.Context, businessKey string) (*Version, error)

	// Close ends the current version: is_current=false, end_date=endDate,
	// only if it is still current. Returns false when the swap was lost.
	Close(ctx context.Context, surrogateKey int64, endDate time.Time) (bool, error)

	// Insert adds a version and returns its surrogate key.
	Insert(ctx context.Context, v Version) (int64, error)

	// CountCurrent counts current versions of the key.
	CountCurrent(ctx context.Context, businessKey string) (int, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
