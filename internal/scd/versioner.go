// Package scd maintains Type 2 slowly changing dimensions.
//
// A Versioner compares an incoming attribute snapshot with the current
// version of its business key and either inserts the first version, closes
// the current version and appends a new one, or does nothing. Each decision
// runs in a single store transaction with a compare-and-swap close, so at
// most one version per key is ever current.
package scd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/ecompipe/internal/core"
)

var (
	// ErrConcurrentUpdate is returned when the compare-and-swap kept losing.
	ErrConcurrentUpdate = errors.New("concurrent update: version changed during apply")

	errLostSwap = errors.New("lost compare-and-swap")
)

// DefaultMaxAttempts bounds the read-modify-write attempts per key.
const DefaultMaxAttempts = 3

// OutcomeKind is what ApplySnapshot did.
type OutcomeKind string

const (
	Unchanged    OutcomeKind = "unchanged"
	NewVersion   OutcomeKind = "new_version"
	FirstVersion OutcomeKind = "first_version"

	// OutOfOrder is a changed snapshot dated before the current version. The
	// chain is left as is and the snapshot is counted, not applied.
	OutOfOrder OutcomeKind = "out_of_order"
)

// Outcome is the result of applying one snapshot.
type Outcome struct {
	Kind         OutcomeKind
	SurrogateKey int64 // current surrogate key after the apply
}

// Counts summarizes ApplyAll.
type Counts struct {
	FirstVersion int `json:"first_version"`
	NewVersion   int `json:"new_version"`
	Unchanged    int `json:"unchanged"`
	OutOfOrder   int `json:"out_of_order"`
}

// Total is the number of keys seen.
func (c Counts) Total() int { return c.FirstVersion + c.NewVersion + c.Unchanged + c.OutOfOrder }

func (c *Counts) add(k OutcomeKind) {
	switch k {
	case FirstVersion:
		c.FirstVersion++
	case NewVersion:
		c.NewVersion++
	case Unchanged:
		c.Unchanged++
	case OutOfOrder:
		c.OutOfOrder++
	}
}

// Versioner applies snapshots to one dimension.
type Versioner struct {
	store       Store
	dimension   string
	tracked     []string
	maxAttempts int
	workers     int
	logger      *slog.Logger
}

// Option configures a Versioner.
type Option func(*Versioner)

// WithWorkers bounds ApplyAll's parallelism.
func WithWorkers(n int) Option {
	return func(v *Versioner) {
		if n > 0 {
			v.workers = n
		}
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(v *Versioner) {
		if n > 0 {
			v.maxAttempts = n
		}
	}
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(v *Versioner) { v.logger = l }
}

// New creates a Versioner. tracked lists the attributes whose change opens a
// new version; when empty every snapshot attribute is tracked.
func New(store Store, dimension string, tracked []string, opts ...Option) *Versioner {
	v := &Versioner{
		store:       store,
		dimension:   dimension,
		tracked:     tracked,
		maxAttempts: DefaultMaxAttempts,
		workers:     4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Dimension returns the dimension name.
func (v *Versioner) Dimension() string { return v.dimension }

// ApplySnapshot records snapshot as the state of businessKey as of asOf.
//
// A lost swap or a concurrent first insert retries the whole
// read-modify-write; after maxAttempts the result is a transient
// ErrConcurrentUpdate. Re-applying the current snapshot is a no-op, and a
// changed snapshot older than the current version yields OutOfOrder.
func (v *Versioner) ApplySnapshot(ctx context.Context, businessKey string, snapshot map[string]string, asOf time.Time) (Outcome, error) {
	op := fmt.Sprintf("scd.apply %s", v.dimension)
	day := core.Day(asOf)

	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		out, err := v.apply(ctx, businessKey, snapshot, day)
		if errors.Is(err, errLostSwap) {
			v.logger.Debug("scd swap lost, retrying",
				"dimension", v.dimension,
				"business_key", businessKey,
				"attempt", attempt,
			)
			continue
		}
		return out, err
	}

	return Outcome{}, core.Transient(op, fmt.Errorf("%s: %w", businessKey, ErrConcurrentUpdate))
}

func (v *Versioner) apply(ctx context.Context, businessKey string, snapshot map[string]string, day time.Time) (out Outcome, err error) {
	tx, err := v.store.BeginDimension(ctx, v.dimension)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin %s: %w", v.dimension, err)
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
		if !committed {
			tx.Rollback(ctx)
		}
	}()

	current, err := tx.Current(ctx, businessKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("read current %s: %w", businessKey, err)
	}

	next := Version{
		BusinessKey:   businessKey,
		Attributes:    copyAttributes(snapshot),
		IsCurrent:     true,
		EffectiveDate: day,
	}

	switch {
	case current == nil:
		out.Kind = FirstVersion

	case v.sameTracked(current.Attributes, snapshot):
		return Outcome{Kind: Unchanged, SurrogateKey: current.SurrogateKey}, nil

	case day.Before(current.EffectiveDate):
		return Outcome{Kind: OutOfOrder, SurrogateKey: current.SurrogateKey}, nil

	default:
		ok, err := tx.Close(ctx, current.SurrogateKey, day)
		if err != nil {
			return Outcome{}, fmt.Errorf("close version %d: %w", current.SurrogateKey, err)
		}
		if !ok {
			return Outcome{}, errLostSwap
		}
		out.Kind = NewVersion
	}

	key, err := tx.Insert(ctx, next)
	if errors.Is(err, ErrCurrentExists) {
		return Outcome{}, errLostSwap
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("insert version %s: %w", businessKey, err)
	}
	out.SurrogateKey = key

	n, err := tx.CountCurrent(ctx, businessKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("count current %s: %w", businessKey, err)
	}
	if n > 1 {
		return Outcome{}, core.Integrity("scd.apply "+v.dimension,
			fmt.Errorf("multiple current versions for %s (%d)", businessKey, n))
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("commit %s: %w", businessKey, err)
	}
	committed = true
	return out, nil
}

// sameTracked compares the tracked attributes of two snapshots.
func (v *Versioner) sameTracked(current, snapshot map[string]string) bool {
	if len(v.tracked) > 0 {
		for _, attr := range v.tracked {
			if current[attr] != snapshot[attr] {
				return false
			}
		}
		return true
	}

	if len(current) != len(snapshot) {
		return false
	}
	for k, val := range snapshot {
		if cur, ok := current[k]; !ok || cur != val {
			return false
		}
	}
	return true
}

func copyAttributes(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApplyAll applies one snapshot per business key with bounded parallelism.
// It returns per-outcome counts and the resulting current surrogate keys.
// The first error cancels the remaining keys.
func (v *Versioner) ApplyAll(ctx context.Context, snapshots map[string]map[string]string, asOf time.Time) (Counts, map[string]int64, error) {
	keys := make([]string, 0, len(snapshots))
	for k := range snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		mu     sync.Mutex
		counts Counts
		sks    = make(map[string]int64, len(keys))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)

	for _, k := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := v.ApplySnapshot(gctx, k, snapshots[k], asOf)
			if err != nil {
				return err
			}
			mu.Lock()
			counts.add(out.Kind)
			sks[k] = out.SurrogateKey
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return counts, sks, err
	}
	return counts, sks, nil
}

// History returns the version chain of businessKey ordered by effective date.
func (v *Versioner) History(ctx context.Context, businessKey string) ([]Version, error) {
	versions, err := v.store.History(ctx, v.dimension, businessKey)
	if err != nil {
		return nil, fmt.Errorf("history %s %s: %w", v.dimension, businessKey, err)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		if !versions[i].EffectiveDate.Equal(versions[j].EffectiveDate) {
			return versions[i].EffectiveDate.Before(versions[j].EffectiveDate)
		}
		return versions[i].SurrogateKey < versions[j].SurrogateKey
	})
	return versions, nil
}

// ValidateChain checks a version chain: exactly one current version with no
// end date, closed versions with end >= effective, and each end equal to the
// successor's effective date.
func ValidateChain(versions []Version) error {
	if len(versions) == 0 {
		return nil
	}
	current := 0
	for i, ver := range versions {
		if ver.IsCurrent {
			current++
			if i != len(versions)-1 {
				return fmt.Errorf("current version %d is not the latest", ver.SurrogateKey)
			}
			if ver.EndDate != nil {
				return fmt.Errorf("current version %d has an end date", ver.SurrogateKey)
			}
			continue
		}
		if ver.EndDate == nil {
			return fmt.Errorf("closed version %d has no end date", ver.SurrogateKey)
		}
		if ver.EndDate.Before(ver.EffectiveDate) {
			return fmt.Errorf("version %d ends before it starts", ver.SurrogateKey)
		}
		if i+1 < len(versions) && !ver.EndDate.Equal(versions[i+1].EffectiveDate) {
			return fmt.Errorf("version %d end %s does not meet successor effective %s",
				ver.SurrogateKey, ver.EndDate.Format(core.DateLayout), versions[i+1].EffectiveDate.Format(core.DateLayout))
		}
	}
	if current != 1 {
		return fmt.Errorf("expected one current version, found %d", current)
	}
	return nil
}
