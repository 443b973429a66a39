// Package quality measures staged data against the configured rule set.
//
// Evaluate runs five rule categories (completeness, uniqueness, validity,
// consistency, referential integrity) over one entity's staged rows and
// returns a Report with per-rule findings and a weighted 0-100 score. The
// engine is pure: it reads rows and rules and never touches storage.
// Reports are persisted through a Sink.
package quality

import (
	"time"

	"github.com/JonMunkholm/ecompipe/internal/config"
)

// Finding is a single rule violation.
type Finding struct {
	Entity        string `json:"entity"`
	Category      string `json:"rule_category"`
	Rule          string `json:"rule"`
	Field         string `json:"field"`
	Row           int    `json:"row"`
	RowIdentifier string `json:"row_identifier"`
	Detail        string `json:"detail"`
}

// CategoryBreakdown is the result of one rule category.
type CategoryBreakdown struct {
	Score      float64 `json:"score"`
	Violations int     `json:"violations"`
	Checks     int     `json:"checks"`
}

// Report is the immutable outcome of evaluating one entity.
type Report struct {
	Entity        string                       `json:"entity"`
	Score         float64                      `json:"score"`
	Grade         string                       `json:"grade"`
	RowsEvaluated int                          `json:"rows_evaluated"`
	Categories    map[string]CategoryBreakdown `json:"category_breakdown"`
	Findings      []Finding                    `json:"findings"`
	EvaluatedAt   time.Time                    `json:"evaluated_at"`
}

// Totals returns violation counts per category.
func (r *Report) Totals() map[string]int {
	totals := make(map[string]int, len(config.RuleCategories))
	for _, c := range config.RuleCategories {
		totals[c] = r.Categories[c].Violations
	}
	return totals
}

// Passed reports whether the score meets threshold.
func (r *Report) Passed(threshold float64) bool {
	return r.Score >= threshold
}

// OrphanRows returns the source rows with a referential integrity finding.
func (r *Report) OrphanRows() map[int]string {
	orphans := make(map[int]string)
	for _, f := range r.Findings {
		if f.Category == config.CategoryReferentialIntegrity {
			if _, seen := orphans[f.Row]; !seen {
				orphans[f.Row] = f.Detail
			}
		}
	}
	return orphans
}

// Grade maps a score to a letter: A >= 90, B >= 75, C >= 60, D >= 40, else F.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}
