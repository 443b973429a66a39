package warehouse

import (
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/scd"
)

// DateKey returns the yyyymmdd key of t's UTC day.
func DateKey(t time.Time) int {
	y, m, d := t.UTC().Date()
	return y*10000 + int(m)*100 + d
}

// NewDateRow builds the dim_date row for t's UTC day.
func NewDateRow(t time.Time) DateRow {
	day := core.Day(t)
	_, week := day.ISOWeek()

	dow := int(day.Weekday())
	if dow == 0 {
		dow = 7
	}

	return DateRow{
		DateKey:    DateKey(day),
		Date:       day,
		DayOfMonth: day.Day(),
		DayOfWeek:  dow,
		DayName:    day.Weekday().String(),
		Month:      int(day.Month()),
		MonthName:  day.Month().String(),
		Quarter:    (int(day.Month())-1)/3 + 1,
		Year:       day.Year(),
		WeekOfYear: week,
		IsWeekend:  dow >= 6,
	}
}

// DateRange builds one dim_date row per day from from to to inclusive.
func DateRange(from, to time.Time) []DateRow {
	from, to = core.Day(from), core.Day(to)
	if to.Before(from) {
		return nil
	}
	var rows []DateRow
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		rows = append(rows, NewDateRow(d))
	}
	return rows
}

// PaymentMethodKey is the lower-cased name with spaces replaced by '_'.
func PaymentMethodKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// PaymentCategory groups a payment method.
func PaymentCategory(name string) string {
	switch name {
	case "Credit Card", "Debit Card":
		return "Card"
	case "UPI", "Net Banking":
		return "Digital"
	case "Cash on Delivery":
		return "Cash"
	default:
		return "Other"
	}
}

// PaymentMethodRows builds unique dim_payment_method rows sorted by key.
func PaymentMethodRows(names []string) []PaymentMethodRow {
	seen := make(map[string]bool, len(names))
	var rows []PaymentMethodRow
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := PaymentMethodKey(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, PaymentMethodRow{Key: key, Name: n, Category: PaymentCategory(n)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}

// ResolveAsOf picks the version of a chain that was current on day: the one
// whose [effective_date, end_date) contains it. A day before the first
// version resolves to the earliest version.
func ResolveAsOf(versions []scd.Version, day time.Time) (scd.Version, bool) {
	if len(versions) == 0 {
		return scd.Version{}, false
	}
	sorted := make([]scd.Version, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveDate.Before(sorted[j].EffectiveDate)
	})

	day = core.Day(day)
	if day.Before(sorted[0].EffectiveDate) {
		return sorted[0], true
	}
	// Same-day versions: the latest one covering the day wins.
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Covers(day) {
			return sorted[i], true
		}
	}
	return scd.Version{}, false
}
