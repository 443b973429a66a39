package quality

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ecompipe/internal/config"
	"github.com/JonMunkholm/ecompipe/internal/core"
)

// evaluator runs the category checks for one entity. Each check returns its
// findings and the number of checks configured, which is the denominator
// factor in the category sub-score.
type evaluator struct {
	entity string
	rows   []core.StagedRecord
	rules  *config.Rules
	opts   options
	key    string
}

func (e *evaluator) finding(category, rule, field string, row core.StagedRecord, detail string) Finding {
	return Finding{
		Entity:        e.entity,
		Category:      category,
		Rule:          rule,
		Field:         field,
		Row:           row.Row,
		RowIdentifier: row.Identifier(e.key),
		Detail:        detail,
	}
}

// ----------------------------------------------------------------------------
// Completeness
// ----------------------------------------------------------------------------

func (e *evaluator) completeness() ([]Finding, int) {
	fields := e.rules.RequiredFields[e.entity]
	var out []Finding
	for _, field := range fields {
		for _, row := range e.rows {
			if row.IsNull(field) {
				out = append(out, e.finding(config.CategoryCompleteness, "required", field, row, "missing value"))
			}
		}
	}
	return out, len(fields)
}

// ----------------------------------------------------------------------------
// Uniqueness
// ----------------------------------------------------------------------------

// uniqueness flags every occurrence after the first of a repeated value, so a
// group of c equal values contributes c-1 findings.
func (e *evaluator) uniqueness() ([]Finding, int) {
	fields := e.rules.UniqueFields[e.entity]
	var out []Finding
	for _, field := range fields {
		first := make(map[string]int, len(e.rows))
		for _, row := range e.rows {
			v, ok := row.Get(field)
			if !ok {
				continue
			}
			if at, seen := first[v]; seen {
				out = append(out, e.finding(config.CategoryUniqueness, "unique", field, row,
					fmt.Sprintf("duplicate value %q (first seen at row %d)", v, at)))
				continue
			}
			first[v] = row.Row
		}
	}
	return out, len(fields)
}

// ----------------------------------------------------------------------------
// Validity
// ----------------------------------------------------------------------------

func (e *evaluator) validity() ([]Finding, int) {
	ranges := e.rules.ValidityRanges[e.entity]
	enums := e.rules.EnumDomains[e.entity]
	typed := e.typedFields(ranges)

	var out []Finding
	for _, rr := range ranges {
		for _, row := range e.rows {
			v, ok := row.Get(rr.Field)
			if !ok {
				continue
			}
			if detail := e.checkRange(rr, v); detail != "" {
				out = append(out, e.finding(config.CategoryValidity, rangeRuleName(rr), rr.Field, row, detail))
			}
		}
	}

	for _, en := range enums {
		allowed := make(map[string]bool, len(en.Values))
		for _, a := range en.Values {
			allowed[strings.ToLower(a)] = true
		}
		for _, row := range e.rows {
			v, ok := row.Get(en.Field)
			if !ok || allowed[strings.ToLower(v)] {
				continue
			}
			out = append(out, e.finding(config.CategoryValidity, "enum", en.Field, row,
				fmt.Sprintf("%q is not one of %s", v, strings.Join(en.Values, ", "))))
		}
	}

	for _, spec := range typed {
		for _, row := range e.rows {
			v, ok := row.Get(spec.Name)
			if !ok {
				continue
			}
			if err := core.ParseField(v, spec); err != nil {
				out = append(out, e.finding(config.CategoryValidity, "type", spec.Name, row,
					fmt.Sprintf("invalid %s %q", spec.Type, v)))
			}
		}
	}

	return out, len(ranges) + len(enums) + len(typed)
}

// typedFields returns the registered non-text fields not already covered by a
// range rule. Range rules parse their own values.
func (e *evaluator) typedFields(ranges []config.RangeRule) []core.FieldSpec {
	def, ok := core.Get(e.entity)
	if !ok {
		return nil
	}
	covered := make(map[string]bool, len(ranges))
	for _, rr := range ranges {
		covered[rr.Field] = true
	}
	var typed []core.FieldSpec
	for _, f := range def.Fields {
		if f.Type != core.FieldText && !covered[f.Name] {
			typed = append(typed, f)
		}
	}
	return typed
}

func rangeRuleName(rr config.RangeRule) string {
	if rr.NotFuture {
		return "not_future"
	}
	return "range"
}

// checkRange returns a violation detail, or "" when v satisfies rr.
func (e *evaluator) checkRange(rr config.RangeRule, v string) string {
	if rr.NotFuture {
		d, ok := core.ParseDate(v)
		if !ok {
			return fmt.Sprintf("unparseable date %q", v)
		}
		if d.After(core.Day(e.opts.asOf)) {
			return fmt.Sprintf("date %s is in the future", d.Format(core.DateLayout))
		}
		if rr.Min == nil && rr.Max == nil {
			return ""
		}
	}

	n, ok := core.ParseDecimal(v)
	if !ok {
		return fmt.Sprintf("non-numeric value %q", v)
	}
	if rr.Min != nil {
		lo := decimal.NewFromFloat(*rr.Min)
		if n.LessThan(lo) || (rr.MinExclusive && n.Equal(lo)) {
			return fmt.Sprintf("%s below minimum %s", n, boundText(lo, rr.MinExclusive, ">"))
		}
	}
	if rr.Max != nil {
		hi := decimal.NewFromFloat(*rr.Max)
		if n.GreaterThan(hi) || (rr.MaxExclusive && n.Equal(hi)) {
			return fmt.Sprintf("%s above maximum %s", n, boundText(hi, rr.MaxExclusive, "<"))
		}
	}
	return ""
}

func boundText(b decimal.Decimal, exclusive bool, op string) string {
	if exclusive {
		return "(" + op + " " + b.String() + ")"
	}
	return "(" + op + "= " + b.String() + ")"
}

// ----------------------------------------------------------------------------
// Consistency
// ----------------------------------------------------------------------------

// consistency evaluates cross-field rules. A row whose inputs are missing or
// unparseable is left to the completeness and validity checks.
func (e *evaluator) consistency() ([]Finding, int) {
	rules := e.rules.Consistency[e.entity]
	var out []Finding
	for _, cr := range rules {
		for _, row := range e.rows {
			var detail, field string
			switch cr.Rule {
			case config.ConsistencyLessThan:
				field = cr.Left
				detail = checkLessThan(cr, row)
			case config.ConsistencyLineTotal:
				field = cr.Total
				detail = checkLineTotal(cr, row)
			}
			if detail != "" {
				out = append(out, e.finding(config.CategoryConsistency, cr.Name(), field, row, detail))
			}
		}
	}
	return out, len(rules)
}

func decimalField(row core.StagedRecord, field string) (decimal.Decimal, bool) {
	v, ok := row.Get(field)
	if !ok {
		return decimal.Zero, false
	}
	return core.ParseDecimal(v)
}

func checkLessThan(cr config.ConsistencyRule, row core.StagedRecord) string {
	l, okL := decimalField(row, cr.Left)
	r, okR := decimalField(row, cr.Right)
	if !okL || !okR || l.LessThan(r) {
		return ""
	}
	return fmt.Sprintf("%s %s is not less than %s %s", cr.Left, l, cr.Right, r)
}

func checkLineTotal(cr config.ConsistencyRule, row core.StagedRecord) string {
	qty, okQ := decimalField(row, cr.Quantity)
	price, okP := decimalField(row, cr.UnitPrice)
	total, okT := decimalField(row, cr.Total)
	if !okQ || !okP || !okT {
		return ""
	}

	discount := decimal.Zero
	if cr.Discount != "" {
		if d, ok := decimalField(row, cr.Discount); ok {
			discount = d
		}
	}

	tol := cr.Tolerance
	if tol == 0 {
		tol = config.DefaultLineTotalTolerance
	}

	expected := core.ExpectedLineTotal(qty, price, discount)
	if total.Sub(expected).Abs().GreaterThan(decimal.NewFromFloat(tol)) {
		return fmt.Sprintf("%s %s differs from expected %s", cr.Total, total, expected.Round(2))
	}
	return ""
}

// ----------------------------------------------------------------------------
// Referential integrity
// ----------------------------------------------------------------------------

func (e *evaluator) referential() ([]Finding, int) {
	refs := e.rules.References[e.entity]
	var out []Finding
	for _, ref := range refs {
		for _, row := range e.rows {
			v, ok := row.Get(ref.Field)
			if !ok || e.opts.parents.Has(ref.Parent, v) {
				continue
			}
			out = append(out, e.finding(config.CategoryReferentialIntegrity, "reference", ref.Field, row,
				fmt.Sprintf("%s %q has no parent in %s", ref.Field, v, ref.Parent)))
		}
	}
	return out, len(refs)
}
