// Package cleanse turns staged rows into typed production records.
//
// Transform deduplicates by business key, standardizes text, fills sentinels
// for missing optional fields, repairs recoverable values and drops the rows
// that cannot be repaired. Every drop and repair is counted in the Report, and
// rows_in always equals rows_out + rows_dropped.
package cleanse

import (
	"errors"
	"fmt"
	"sort"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/quality"
)

// ReasonSuperseded is the drop reason for a losing duplicate.
const ReasonSuperseded = "superseded duplicate"

// Drop records a row removed during cleansing.
type Drop struct {
	Row           int    `json:"row"`
	RowIdentifier string `json:"row_identifier"`
	Reason        string `json:"reason"`
}

// Report summarizes one entity's transformation.
type Report struct {
	Entity         string         `json:"entity"`
	RowsIn         int            `json:"rows_in"`
	RowsOut        int            `json:"rows_out"`
	RowsDropped    int            `json:"rows_dropped"`
	RepairsApplied int            `json:"repairs_applied"`
	Drops          []Drop         `json:"drops"`
	Repairs        map[string]int `json:"repairs"`
}

// DropErrors returns each drop as a row repair error, for logging.
func (r *Report) DropErrors() []error {
	errs := make([]error, len(r.Drops))
	for i, d := range r.Drops {
		errs[i] = core.RowRepair("cleanse "+r.Entity, fmt.Errorf("%s: %s", d.RowIdentifier, d.Reason))
	}
	return errs
}

// Result holds the cleansed records and the transformation report.
type Result struct {
	Records []core.CleansedRecord
	Report  Report
}

// Customers returns the records typed as customers.
func (r *Result) Customers() []core.Customer { return recordsOf[core.Customer](r.Records) }

// Products returns the records typed as products.
func (r *Result) Products() []core.Product { return recordsOf[core.Product](r.Records) }

// Transactions returns the records typed as transactions.
func (r *Result) Transactions() []core.Transaction { return recordsOf[core.Transaction](r.Records) }

// Items returns the records typed as transaction items.
func (r *Result) Items() []core.TransactionItem { return recordsOf[core.TransactionItem](r.Records) }

func recordsOf[T core.CleansedRecord](records []core.CleansedRecord) []T {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		if t, ok := rec.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// rowFunc cleanses one deduplicated row. A non-empty reason drops the row.
type rowFunc func(c *cleanser, row core.StagedRecord) (core.CleansedRecord, string)

var rowFuncs = map[string]rowFunc{
	core.EntityCustomers:        cleanseCustomer,
	core.EntityProducts:         cleanseProduct,
	core.EntityTransactions:     cleanseTransaction,
	core.EntityTransactionItems: cleanseItem,
}

// Transform cleanses one entity's staged rows. The quality report, when
// given, supplies the rows with referential integrity findings; they are
// dropped as orphans.
//
// The only errors are an unknown entity and duplicate business keys in the
// output, which is an integrity violation.
func Transform(entity string, rows []core.StagedRecord, report *quality.Report) (*Result, error) {
	def, ok := core.Get(entity)
	fn, known := rowFuncs[entity]
	if !ok || !known {
		return nil, core.Configuration("cleanse.transform", fmt.Errorf("unknown entity %q", entity))
	}

	c := &cleanser{
		entity: entity,
		key:    def.BusinessKey,
		cols:   def.Columns(),
		norm:   newNormalizer(),
		report: Report{Entity: entity, RowsIn: len(rows), Drops: []Drop{}, Repairs: map[string]int{}},
	}
	if report != nil {
		c.orphans = report.OrphanRows()
	}

	var keyed []core.StagedRecord
	for _, row := range rows {
		if row.IsNull(c.key) {
			c.drop(row, "missing business key "+c.key)
			continue
		}
		keyed = append(keyed, row)
	}

	records := make([]core.CleansedRecord, 0, len(keyed))
	for _, row := range c.dedupe(keyed) {
		if detail, orphan := c.orphans[row.Row]; orphan {
			c.drop(row, "orphan: "+detail)
			continue
		}
		rec, reason := fn(c, row)
		if reason != "" {
			c.drop(row, reason)
			continue
		}
		records = append(records, rec)
	}

	c.report.RowsOut = len(records)
	c.report.RowsDropped = len(c.report.Drops)
	for _, n := range c.report.Repairs {
		c.report.RepairsApplied += n
	}

	if err := checkUnique(entity, records); err != nil {
		return nil, err
	}
	return &Result{Records: records, Report: c.report}, nil
}

type cleanser struct {
	entity  string
	key     string
	cols    []string
	norm    *normalizer
	orphans map[int]string
	report  Report
}

func (c *cleanser) drop(row core.StagedRecord, reason string) {
	c.report.Drops = append(c.report.Drops, Drop{
		Row:           row.Row,
		RowIdentifier: row.Identifier(c.key),
		Reason:        reason,
	})
}

func (c *cleanser) repair(name string) {
	c.report.Repairs[name]++
}

// dedupe keeps one row per business key. The winner is the latest ingestion
// time, then the fewest nulls, then the lowest source row. Losers are
// dropped. Winners are returned in source row order.
func (c *cleanser) dedupe(rows []core.StagedRecord) []core.StagedRecord {
	groups := make(map[string][]core.StagedRecord, len(rows))
	var order []string
	for _, row := range rows {
		k, _ := row.Get(c.key)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], row)
	}

	winners := make([]core.StagedRecord, 0, len(order))
	for _, k := range order {
		g := groups[k]
		if len(g) > 1 {
			sort.SliceStable(g, func(i, j int) bool { return c.preferred(g[i], g[j]) })
			for _, loser := range g[1:] {
				c.drop(loser, ReasonSuperseded)
			}
		}
		winners = append(winners, g[0])
	}

	sort.SliceStable(winners, func(i, j int) bool { return winners[i].Row < winners[j].Row })
	return winners
}

// preferred reports whether a should win over b. Nulls are counted over the
// entity's declared columns, so an absent field counts the same as a blank one.
func (c *cleanser) preferred(a, b core.StagedRecord) bool {
	if !a.IngestedAt.Equal(b.IngestedAt) {
		return a.IngestedAt.After(b.IngestedAt)
	}
	if na, nb := a.NullCount(c.cols...), b.NullCount(c.cols...); na != nb {
		return na < nb
	}
	return a.Row < b.Row
}

func checkUnique(entity string, records []core.CleansedRecord) error {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		k := rec.BusinessKey()
		if _, dup := seen[k]; dup {
			return core.Integrity("cleanse.transform "+entity, errors.New("duplicate business key "+k))
		}
		seen[k] = struct{}{}
	}
	return nil
}
