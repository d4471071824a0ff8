package dashboard

import (
	"fmt"
	"time"

	"downloadreport/internal/domain"
)

// Filter narrows ledger rows to a date range and optionally one platform.
// Zero bounds are open.
type Filter struct {
	Start    time.Time
	End      time.Time
	Platform domain.Platform
}

// ParseFilter builds a Filter from query-style values: start and end as
// YYYY-MM-DD and platform as a ledger token or "all". Empty values are open.
func ParseFilter(start, end, platform string) (Filter, error) {
	var f Filter
	var err error
	if start != "" {
		if f.Start, err = time.Parse(domain.DateLayout, start); err != nil {
			return f, fmt.Errorf("invalid start date %q: %w", start, err)
		}
	}
	if end != "" {
		if f.End, err = time.Parse(domain.DateLayout, end); err != nil {
			return f, fmt.Errorf("invalid end date %q: %w", end, err)
		}
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return f, fmt.Errorf("end %s before start %s", end, start)
	}
	if platform != "" && platform != "all" {
		if f.Platform, err = domain.ParsePlatform(platform); err != nil {
			return f, err
		}
	}
	return f, nil
}

// Apply returns the rows that pass the filter, keeping their order.
func (f Filter) Apply(rows []domain.LedgerRow) []domain.LedgerRow {
	out := make([]domain.LedgerRow, 0, len(rows))
	for _, r := range rows {
		d := domain.Day(r.ReportDate)
		if !f.Start.IsZero() && d.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && d.After(f.End) {
			continue
		}
		if f.Platform != "" && r.Platform != f.Platform {
			continue
		}
		out = append(out, r)
	}
	return out
}
