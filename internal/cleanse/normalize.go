package cleanse

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JonMunkholm/ecompipe/internal/core"
)

// normalizer holds the case folders for one Transform call. A cases.Caser is
// stateful and must not be shared between goroutines.
type normalizer struct {
	title cases.Caser
	lower cases.Caser
}

func newNormalizer() *normalizer {
	return &normalizer{
		title: cases.Title(language.Und),
		lower: cases.Lower(language.Und),
	}
}

// collapseSpace trims s and reduces internal runs of whitespace to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Title returns s collapsed and in title case: "  mary  ANN " -> "Mary Ann".
func (n *normalizer) Title(s string) string {
	return n.title.String(collapseSpace(s))
}

// Email trims s and lower-cases it.
func (n *normalizer) Email(s string) string {
	return n.lower.String(strings.TrimSpace(s))
}

// Phone keeps digits and a leading '+'.
func Phone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}

// PaymentMethod maps a payment method to its canonical spelling when it
// matches one case-insensitively; otherwise it returns the collapsed input.
func PaymentMethod(s string) string {
	s = collapseSpace(s)
	for _, pm := range core.PaymentMethods {
		if strings.EqualFold(s, pm) {
			return pm
		}
	}
	return s
}
