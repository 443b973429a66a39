package core

// validation.go checks raw CSV structure before rows reach staging.
//
// Only structure is enforced here: required columns must be present in the
// header and each row must carry the header's width. Value-level checks are
// the quality engine's job, so staging can hold bad data that is then
// measured rather than silently rejected.

import (
	"fmt"
	"strings"
)

// ValidationError represents a structural problem with a source file.
type ValidationError struct {
	Field   string // Column name, if the problem is column-specific
	Line    int    // 1-based line number, 0 for header problems
	Message string
}

func (e ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Line > 0:
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	default:
		return e.Message
	}
}

// ValidateHeaders checks that all required columns exist in the header.
// Returns the header index, or an error listing every missing column.
func ValidateHeaders(headers []string, def EntityDefinition) (HeaderIndex, error) {
	idx := MakeHeaderIndex(headers)
	var missing []string

	for _, spec := range def.Fields {
		if !spec.Required {
			continue
		}
		if _, ok := idx[strings.ToLower(spec.Name)]; !ok {
			missing = append(missing, spec.Name)
		}
	}

	if len(missing) > 0 {
		return nil, ValidationError{
			Message: fmt.Sprintf("%s: missing required columns: %s", def.FileName, strings.Join(missing, ", ")),
		}
	}
	return idx, nil
}

// ValidateWidth checks that a data row has as many cells as the header.
func ValidateWidth(row []string, headerLen, line int) error {
	if len(row) != headerLen {
		return ValidationError{
			Line:    line,
			Message: fmt.Sprintf("expected %d columns, got %d", headerLen, len(row)),
		}
	}
	return nil
}

// fieldTypeName returns a human-readable name for a field type.
func fieldTypeName(ft FieldType) string {
	switch ft {
	case FieldText:
		return "text"
	case FieldNumeric:
		return "numeric"
	case FieldInteger:
		return "integer"
	case FieldDate:
		return "date"
	default:
		return "value"
	}
}

// String implements fmt.Stringer.
func (ft FieldType) String() string { return fieldTypeName(ft) }

// ParseField reports whether value parses as the field's type. Blank values pass.
func ParseField(value string, spec FieldSpec) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	ok := true
	switch spec.Type {
	case FieldNumeric:
		_, ok = ParseDecimal(value)
	case FieldInteger:
		_, ok = ParseInt(value)
	case FieldDate:
		_, ok = ParseDate(value)
	}
	if !ok {
		return ValidationError{Field: spec.Name, Message: fmt.Sprintf("invalid %s %q", spec.Type, value)}
	}
	return nil
}
