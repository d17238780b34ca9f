package coverage

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Utilization counts are always scoped to a period
// =============================================================================

// Period names the window a utilization count covers.
//
// Examples:
//   - per_month with 3 visits: at most 3 visits in each calendar month
//   - per_policy_term: counted from policy start to policy start + 1 year
//   - lifetime: never resets
type Period string

const (
	PeriodDay        Period = "per_day"
	PeriodWeek       Period = "per_week"
	PeriodMonth      Period = "per_month"
	PeriodQuarter    Period = "per_quarter"
	PeriodYear       Period = "per_year"
	PeriodPolicyTerm Period = "per_policy_term"
	PeriodLifetime   Period = "lifetime"
)

// Valid reports whether p is one of the known periods.
func (p Period) Valid() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear, PeriodPolicyTerm, PeriodLifetime:
		return true
	}
	return false
}

// ParsePeriod accepts the canonical names plus a few short aliases
// ("day", "monthly", "annual").
func ParsePeriod(s string) (Period, error) {
	switch s {
	case "day", "daily":
		return PeriodDay, nil
	case "week", "weekly":
		return PeriodWeek, nil
	case "month", "monthly":
		return PeriodMonth, nil
	case "quarter", "quarterly":
		return PeriodQuarter, nil
	case "year", "yearly", "annual", "annually":
		return PeriodYear, nil
	case "policy_term", "term":
		return PeriodPolicyTerm, nil
	}
	p := Period(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown utilization period %q", s)
	}
	return p, nil
}

// Window is a half-open time range [Start, End). A zero End means unbounded.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
}

// Contains returns true if t is within [Start, End).
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End.IsZero() || t.Before(w.End)
}

// =============================================================================
// WINDOW CALCULATOR - Determines which window a date falls into
// =============================================================================

// UtilizationWindow returns the window of p that contains at. policyStart
// anchors per_policy_term; when it is zero the calendar year is used.
func UtilizationWindow(p Period, at time.Time, policyStart time.Time) Window {
	y, m, d := at.Date()
	loc := at.Location()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch p {
	case PeriodDay:
		return Window{Start: day, End: day.AddDate(0, 0, 1)}

	case PeriodWeek:
		// Weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 7)}

	case PeriodMonth:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return Window{Start: start, End: start.AddDate(0, 1, 0)}

	case PeriodQuarter:
		qm := time.Month((int(m)-1)/3*3 + 1)
		start := time.Date(y, qm, 1, 0, 0, 0, 0, loc)
		return Window{Start: start, End: start.AddDate(0, 3, 0)}

	case PeriodPolicyTerm:
		if policyStart.IsZero() {
			return calendarYear(y, loc)
		}
		return policyTerm(policyStart, day)

	case PeriodLifetime:
		return Window{}

	default:
		return calendarYear(y, loc)
	}
}

func calendarYear(y int, loc *time.Location) Window {
	start := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(1, 0, 0)}
}

func policyTerm(anchor, day time.Time) Window {
	ay, am, ad := anchor.Date()
	loc := day.Location()

	// Find which anniversary year we're in
	years := day.Year() - ay
	start := time.Date(ay+years, am, ad, 0, 0, 0, 0, loc)
	if day.Before(start) {
		start = time.Date(ay+years-1, am, ad, 0, 0, 0, 0, loc)
	}
	return Window{Start: start, End: start.AddDate(1, 0, 0)}
}
