package config

// rules.go loads the data-quality rule configuration.
//
// Rules are kept apart from the environment settings because they are
// structured (per-entity lists, per-field ranges) and versioned alongside the
// data contracts rather than the deployment. When no file is configured the
// built-in rules from DefaultRules apply.

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule category names accepted in rule_weights.
const (
	CategoryCompleteness         = "completeness"
	CategoryUniqueness           = "uniqueness"
	CategoryValidity             = "validity"
	CategoryConsistency          = "consistency"
	CategoryReferentialIntegrity = "referential_integrity"
)

// RuleCategories lists every category in report order.
var RuleCategories = []string{
	CategoryCompleteness,
	CategoryUniqueness,
	CategoryValidity,
	CategoryConsistency,
	CategoryReferentialIntegrity,
}

// Consistency rule kinds.
const (
	ConsistencyLessThan  = "less_than"
	ConsistencyLineTotal = "line_total"
)

// DefaultLineTotalTolerance is the absolute tolerance for line_total checks.
const DefaultLineTotalTolerance = 0.01

// Rules is the data-quality and versioning configuration.
type Rules struct {
	// Weights per category; must cover every category and sum to 1.0.
	Weights map[string]float64 `yaml:"rule_weights"`

	RequiredFields map[string][]string          `yaml:"required_fields"`
	UniqueFields   map[string][]string          `yaml:"unique_fields"`
	ValidityRanges map[string][]RangeRule       `yaml:"validity_ranges"`
	EnumDomains    map[string][]EnumRule        `yaml:"enum_domains"`
	Consistency    map[string][]ConsistencyRule `yaml:"consistency"`
	References     map[string][]Reference       `yaml:"references"`

	// TrackedSCDAttributes lists, per dimension, the attributes that open a new version.
	TrackedSCDAttributes map[string][]string `yaml:"tracked_scd_attributes"`
}

// RangeRule bounds a numeric or date field.
type RangeRule struct {
	Field        string   `yaml:"field"`
	Min          *float64 `yaml:"min,omitempty"`
	Max          *float64 `yaml:"max,omitempty"`
	MinExclusive bool     `yaml:"min_exclusive,omitempty"`
	MaxExclusive bool     `yaml:"max_exclusive,omitempty"`

	// NotFuture treats the field as a date that must not be after the evaluation date.
	NotFuture bool `yaml:"not_future,omitempty"`
}

// EnumRule restricts a field to a fixed set of values (case-insensitive).
type EnumRule struct {
	Field  string   `yaml:"field"`
	Values []string `yaml:"values"`
}

// ConsistencyRule is a cross-field business rule.
//
// less_than:  Left < Right
// line_total: Total == Quantity * UnitPrice * (1 - Discount/100) within Tolerance
type ConsistencyRule struct {
	Rule      string  `yaml:"rule"`
	Left      string  `yaml:"left,omitempty"`
	Right     string  `yaml:"right,omitempty"`
	Quantity  string  `yaml:"quantity,omitempty"`
	UnitPrice string  `yaml:"unit_price,omitempty"`
	Discount  string  `yaml:"discount,omitempty"`
	Total     string  `yaml:"total,omitempty"`
	Tolerance float64 `yaml:"tolerance,omitempty"`
}

// Name returns a stable identifier used in findings.
func (r ConsistencyRule) Name() string {
	switch r.Rule {
	case ConsistencyLessThan:
		return r.Left + "<" + r.Right
	case ConsistencyLineTotal:
		return r.Total + "=qty*price*(1-disc)"
	default:
		return r.Rule
	}
}

// Reference is a foreign-key-like field pointing at a parent entity's business key.
type Reference struct {
	Field  string `yaml:"field"`
	Parent string `yaml:"parent"`
}

// LoadRules reads rules from a YAML file. An empty path returns DefaultRules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule document.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks weights and rule shapes, reporting every problem at once.
func (r *Rules) Validate() error {
	var errs []string

	known := make(map[string]bool, len(RuleCategories))
	for _, c := range RuleCategories {
		known[c] = true
	}

	var unknown []string
	for name := range r.Weights {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, fmt.Sprintf("rule_weights: unknown rule category %q", name))
	}

	sum := 0.0
	for _, c := range RuleCategories {
		w, ok := r.Weights[c]
		if !ok {
			errs = append(errs, fmt.Sprintf("rule_weights: missing weight for %q", c))
			continue
		}
		if w < 0 {
			errs = append(errs, fmt.Sprintf("rule_weights: weight for %q must not be negative, got %g", c, w))
		}
		sum += w
	}
	if len(unknown) == 0 && len(r.Weights) == len(RuleCategories) && math.Abs(sum-1.0) > 1e-6 {
		errs = append(errs, fmt.Sprintf("rule_weights: weights must sum to 1.0, got %g", sum))
	}

	for entity, ranges := range r.ValidityRanges {
		for i, rr := range ranges {
			if rr.Field == "" {
				errs = append(errs, fmt.Sprintf("validity_ranges.%s[%d]: field is required", entity, i))
			}
			if rr.Min == nil && rr.Max == nil && !rr.NotFuture {
				errs = append(errs, fmt.Sprintf("validity_ranges.%s[%d]: set min, max or not_future", entity, i))
			}
		}
	}
	for entity, enums := range r.EnumDomains {
		for i, e := range enums {
			if e.Field == "" || len(e.Values) == 0 {
				errs = append(errs, fmt.Sprintf("enum_domains.%s[%d]: field and values are required", entity, i))
			}
		}
	}
	for entity, rules := range r.Consistency {
		for i, c := range rules {
			switch c.Rule {
			case ConsistencyLessThan:
				if c.Left == "" || c.Right == "" {
					errs = append(errs, fmt.Sprintf("consistency.%s[%d]: less_than needs left and right", entity, i))
				}
			case ConsistencyLineTotal:
				if c.Quantity == "" || c.UnitPrice == "" || c.Total == "" {
					errs = append(errs, fmt.Sprintf("consistency.%s[%d]: line_total needs quantity, unit_price and total", entity, i))
				}
				if c.Tolerance < 0 {
					errs = append(errs, fmt.Sprintf("consistency.%s[%d]: tolerance must be non-negative", entity, i))
				}
			default:
				errs = append(errs, fmt.Sprintf("consistency.%s[%d]: unknown rule %q", entity, i, c.Rule))
			}
		}
	}
	for entity, refs := range r.References {
		for i, ref := range refs {
			if ref.Field == "" || ref.Parent == "" {
				errs = append(errs, fmt.Sprintf("references.%s[%d]: field and parent are required", entity, i))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New("invalid rules:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// Tracked returns the tracked attributes for a dimension.
func (r *Rules) Tracked(dimension string) []string {
	return r.TrackedSCDAttributes[dimension]
}

func ptr(f float64) *float64 { return &f }

// DefaultRules returns the built-in rule set for the e-commerce entities.
func DefaultRules() *Rules {
	return &Rules{
		Weights: map[string]float64{
			CategoryCompleteness:         0.2,
			CategoryUniqueness:           0.2,
			CategoryValidity:             0.2,
			CategoryConsistency:          0.2,
			CategoryReferentialIntegrity: 0.2,
		},
		RequiredFields: map[string][]string{
			"customers":         {"customer_id", "email", "first_name", "last_name"},
			"products":          {"product_id", "product_name", "price", "cost"},
			"transactions":      {"transaction_id", "customer_id", "transaction_date"},
			"transaction_items": {"item_id", "transaction_id", "product_id", "quantity"},
		},
		UniqueFields: map[string][]string{
			"customers":         {"customer_id"},
			"products":          {"product_id"},
			"transactions":      {"transaction_id"},
			"transaction_items": {"item_id"},
		},
		ValidityRanges: map[string][]RangeRule{
			"products": {
				{Field: "price", Min: ptr(0), MinExclusive: true},
				{Field: "cost", Min: ptr(0)},
			},
			"transactions": {
				{Field: "transaction_date", NotFuture: true},
				{Field: "total_amount", Min: ptr(0)},
			},
			"transaction_items": {
				{Field: "quantity", Min: ptr(0), MinExclusive: true},
				{Field: "unit_price", Min: ptr(0), MinExclusive: true},
				{Field: "discount_percentage", Min: ptr(0), Max: ptr(100)},
			},
		},
		EnumDomains: map[string][]EnumRule{
			"transactions": {
				{Field: "payment_method", Values: []string{"Credit Card", "Debit Card", "UPI", "Cash on Delivery", "Net Banking"}},
			},
		},
		Consistency: map[string][]ConsistencyRule{
			"products": {
				{Rule: ConsistencyLessThan, Left: "cost", Right: "price"},
			},
			"transaction_items": {
				{
					Rule:      ConsistencyLineTotal,
					Quantity:  "quantity",
					UnitPrice: "unit_price",
					Discount:  "discount_percentage",
					Total:     "line_total",
					Tolerance: DefaultLineTotalTolerance,
				},
			},
		},
		References: map[string][]Reference{
			"transactions": {
				{Field: "customer_id", Parent: "customers"},
			},
			"transaction_items": {
				{Field: "transaction_id", Parent: "transactions"},
				{Field: "product_id", Parent: "products"},
			},
		},
		TrackedSCDAttributes: map[string][]string{
			"dim_customers": {"first_name", "last_name", "email", "phone", "city", "state", "country", "age_group"},
			"dim_products":  {"product_name", "category", "sub_category", "price", "cost", "brand"},
		},
	}
}
