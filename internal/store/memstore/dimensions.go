package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/scd"
)

// BeginDimension starts a transaction over one dimension. It blocks until
// any other transaction on the store ends.
func (m *Store) BeginDimension(ctx context.Context, dimension string) (scd.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if _, ok := m.dimensions[dimension]; !ok {
		m.mu.Unlock()
		return nil, core.Configuration("memstore.begin_dimension", fmt.Errorf("unknown dimension %q", dimension))
	}
	return &dimTx{
		store:     m,
		dimension: dimension,
		versions:  cloneVersions(m.dimensions[dimension]),
		next:      m.nextKey[dimension],
	}, nil
}

// History returns the versions of businessKey in insertion order.
func (m *Store) History(ctx context.Context, dimension, businessKey string) ([]scd.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []scd.Version
	for _, v := range m.dimensions[dimension] {
		if v.BusinessKey == businessKey {
			out = append(out, cloneVersion(v))
		}
	}
	return out, nil
}

// DimensionVersions returns version chains for the given keys, each ordered
// by effective date.
func (m *Store) DimensionVersions(ctx context.Context, dimension string, businessKeys []string) (map[string][]scd.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(businessKeys))
	for _, k := range businessKeys {
		want[k] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]scd.Version)
	for _, v := range m.dimensions[dimension] {
		if want[v.BusinessKey] {
			out[v.BusinessKey] = append(out[v.BusinessKey], cloneVersion(v))
		}
	}
	for _, chain := range out {
		sort.SliceStable(chain, func(i, j int) bool {
			return chain[i].EffectiveDate.Before(chain[j].EffectiveDate)
		})
	}
	return out, nil
}

type dimTx struct {
	store     *Store
	dimension string
	versions  []scd.Version
	next      int64
	done      bool
}

func (t *dimTx) Current(_ context.Context, businessKey string) (*scd.Version, error) {
	if t.done {
		return nil, errTxDone
	}
	for _, v := range t.versions {
		if v.BusinessKey == businessKey && v.IsCurrent {
			c := cloneVersion(v)
			return &c, nil
		}
	}
	return nil, nil
}

func (t *dimTx) Close(_ context.Context, surrogateKey int64, endDate time.Time) (bool, error) {
	if t.done {
		return false, errTxDone
	}
	for i := range t.versions {
		v := &t.versions[i]
		if v.SurrogateKey == surrogateKey && v.IsCurrent {
			end := core.Day(endDate)
			v.IsCurrent = false
			v.EndDate = &end
			return true, nil
		}
	}
	return false, nil
}

func (t *dimTx) Insert(_ context.Context, v scd.Version) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	if v.IsCurrent {
		for _, existing := range t.versions {
			if existing.BusinessKey == v.BusinessKey && existing.IsCurrent {
				return 0, scd.ErrCurrentExists
			}
		}
	}

	t.next++
	v = cloneVersion(v)
	v.SurrogateKey = t.next
	v.EffectiveDate = core.Day(v.EffectiveDate)
	t.versions = append(t.versions, v)
	return v.SurrogateKey, nil
}

func (t *dimTx) CountCurrent(_ context.Context, businessKey string) (int, error) {
	if t.done {
		return 0, errTxDone
	}
	n := 0
	for _, v := range t.versions {
		if v.BusinessKey == businessKey && v.IsCurrent {
			n++
		}
	}
	return n, nil
}

func (t *dimTx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.store.dimensions[t.dimension] = t.versions
	t.store.nextKey[t.dimension] = t.next
	t.store.mu.Unlock()
	return nil
}

func (t *dimTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func cloneVersions(in []scd.Version) []scd.Version {
	out := make([]scd.Version, len(in))
	for i, v := range in {
		out[i] = cloneVersion(v)
	}
	return out
}

func cloneVersion(v scd.Version) scd.Version {
	attrs := make(map[string]string, len(v.Attributes))
	for k, val := range v.Attributes {
		attrs[k] = val
	}
	v.Attributes = attrs
	if v.EndDate != nil {
		end := *v.EndDate
		v.EndDate = &end
	}
	return v
}
