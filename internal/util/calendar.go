package util

import (
	"strings"
	"time"
)

// forwardWindow is how far into the future a yearless label may resolve.
// Anything further ahead belongs to the previous year.
const forwardWindow = 30 * 24 * time.Hour

// wrapWindow is how far in the past a current-year label may lie before it is
// taken as the coming year's date instead ("Jan 02" seen on Dec 30).
const wrapWindow = 335 * 24 * time.Hour

// ResolveLabel converts a short report label ("Feb 14", "Feb 14 (delayed)")
// into a calendar date relative to now. Labels carry no year: the current
// year is assumed unless that lands more than 30 days in the future (then
// the previous year), and a label just past a year boundary ("Jan 02" seen
// on Dec 30) resolves to the coming year. ISO dates are accepted as-is.
func ResolveLabel(label string, now time.Time) (time.Time, bool) {
	clean := strings.TrimSpace(label)
	if i := strings.Index(clean, "("); i >= 0 {
		clean = strings.TrimSpace(clean[:i])
	}
	if clean == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse("2006-01-02", clean); err == nil {
		return t, true
	}

	md, err := time.Parse("Jan 2", clean)
	if err != nil {
		return time.Time{}, false
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	year := now.Year()
	candidate := time.Date(year, md.Month(), md.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case candidate.After(today.Add(forwardWindow)):
		year--
	case !candidate.After(today.Add(-wrapWindow)):
		year++
	}
	candidate = time.Date(year, md.Month(), md.Day(), 0, 0, 0, 0, time.UTC)
	// Feb 29 in a common year.
	if candidate.Month() != md.Month() {
		return time.Time{}, false
	}
	return candidate, true
}

// IsNewerLabel reports whether fetched denotes a day strictly after last.
// An empty last always counts as newer. If either label cannot be parsed the
// labels are compared for inequality, so an update is never silently
// dropped.
func IsNewerLabel(fetched, last string, now time.Time) bool {
	if strings.TrimSpace(last) == "" {
		return true
	}
	f, okF := ResolveLabel(fetched, now)
	l, okL := ResolveLabel(last, now)
	if !okF || !okL {
		return fetched != last
	}
	return f.After(l)
}

// Yesterday returns the calendar day before now in loc, as a UTC midnight
// date.
func Yesterday(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc).AddDate(0, 0, -1)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
