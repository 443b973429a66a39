package quality

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/config"
	"github.com/JonMunkholm/ecompipe/internal/core"
)

// MaxScoreWithFindings caps the score of a report that has findings, so a
// rounded 99.999 never reads as a clean 100.
const MaxScoreWithFindings = 99.99

// ParentKeys holds known business keys per parent entity for referential checks.
type ParentKeys map[string]map[string]struct{}

// Add records keys as known for entity.
func (p ParentKeys) Add(entity string, keys ...string) {
	set, ok := p[entity]
	if !ok {
		set = make(map[string]struct{}, len(keys))
		p[entity] = set
	}
	for _, k := range keys {
		set[k] = struct{}{}
	}
}

// Has reports whether key is a known business key of entity.
func (p ParentKeys) Has(entity, key string) bool {
	_, ok := p[entity][key]
	return ok
}

type options struct {
	parents ParentKeys
	asOf    time.Time
}

// Option configures an evaluation.
type Option func(*options)

// WithParents supplies the parent keys for referential integrity checks.
// Without it every non-null reference is an orphan.
func WithParents(parents ParentKeys) Option {
	return func(o *options) { o.parents = parents }
}

// WithAsOf sets the evaluation date used by not_future checks and stamped on
// the report. Defaults to the current time.
func WithAsOf(t time.Time) Option {
	return func(o *options) { o.asOf = t.UTC() }
}

// Evaluate runs every rule category configured for entity against rows.
//
// The only error is a malformed rule configuration, returned as a
// configuration error. Rows are never modified.
func Evaluate(entity string, rows []core.StagedRecord, rules *config.Rules, opts ...Option) (*Report, error) {
	if rules == nil {
		return nil, core.Configuration("quality.evaluate", errors.New("no rules configured"))
	}
	if err := rules.Validate(); err != nil {
		return nil, core.Configuration("quality.evaluate "+entity, err)
	}

	o := options{asOf: time.Now().UTC(), parents: ParentKeys{}}
	for _, opt := range opts {
		opt(&o)
	}

	e := &evaluator{
		entity: entity,
		rows:   rows,
		rules:  rules,
		opts:   o,
		key:    businessKey(entity, rules),
	}

	report := &Report{
		Entity:        entity,
		RowsEvaluated: len(rows),
		Categories:    make(map[string]CategoryBreakdown, len(config.RuleCategories)),
		Findings:      []Finding{},
		EvaluatedAt:   o.asOf,
	}

	checks := map[string]func() ([]Finding, int){
		config.CategoryCompleteness:         e.completeness,
		config.CategoryUniqueness:           e.uniqueness,
		config.CategoryValidity:             e.validity,
		config.CategoryConsistency:          e.consistency,
		config.CategoryReferentialIntegrity: e.referential,
	}

	score := 0.0
	for _, category := range config.RuleCategories {
		var findings []Finding
		n := 0
		if len(rows) > 0 {
			findings, n = checks[category]()
		}
		sub := subScore(len(findings), len(rows), n)
		report.Categories[category] = CategoryBreakdown{
			Score:      round2(sub),
			Violations: len(findings),
			Checks:     n,
		}
		report.Findings = append(report.Findings, findings...)
		score += rules.Weights[category] * sub
	}

	sortFindings(report.Findings)

	score = round2(math.Max(0, math.Min(100, score)))
	if len(report.Findings) > 0 && score > MaxScoreWithFindings {
		score = MaxScoreWithFindings
	}
	report.Score = score
	report.Grade = Grade(score)

	return report, nil
}

// subScore is 100 * (1 - violations / (rows * checks)), floored at 0.
// A category without checks, or an empty dataset, scores 100.
func subScore(violations, rows, checks int) float64 {
	if rows == 0 || checks == 0 {
		return 100
	}
	s := 100 * (1 - float64(violations)/float64(rows*checks))
	if s < 0 {
		return 0
	}
	return s
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// businessKey picks the column used to label findings.
func businessKey(entity string, rules *config.Rules) string {
	if def, ok := core.Get(entity); ok {
		return def.BusinessKey
	}
	if u := rules.UniqueFields[entity]; len(u) > 0 {
		return u[0]
	}
	return ""
}

func sortFindings(findings []Finding) {
	order := make(map[string]int, len(config.RuleCategories))
	for i, c := range config.RuleCategories {
		order[c] = i
	}
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if order[a.Category] != order[b.Category] {
			return order[a.Category] < order[b.Category]
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Rule < b.Rule
	})
}
