package dashboard

import (
	"sort"
	"time"

	"downloadreport/internal/domain"
)

// Point is one value of a chart series.
type Point struct {
	Date  time.Time
	Value float64
}

// Series is a named chart line. Platform is empty for the combined line.
type Series struct {
	Platform domain.Platform
	Points   []Point
}

// DailyPoint is one bar of the stacked daily chart.
type DailyPoint struct {
	Date       time.Time
	ByPlatform map[domain.Platform]int
	Combined   int
}

// DailySeries returns per-day downloads per platform plus the combined sum,
// oldest first.
func DailySeries(rows []domain.LedgerRow) []DailyPoint {
	idx := make(map[string]int)
	var out []DailyPoint
	for _, r := range rows {
		key := r.ReportDate.Format(domain.DateLayout)
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, DailyPoint{Date: domain.Day(r.ReportDate), ByPlatform: make(map[domain.Platform]int)})
		}
		out[i].ByPlatform[r.Platform] += r.DailyDownloads
		out[i].Combined += r.DailyDownloads
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Growth returns the cumulative total line of each platform.
func Growth(rows []domain.LedgerRow) []Series {
	sorted := sortedRows(rows)
	var out []Series
	for _, p := range platformsIn(rows) {
		s := Series{Platform: p}
		for _, r := range sorted {
			if r.Platform == p {
				s.Points = append(s.Points, Point{Date: domain.Day(r.ReportDate), Value: float64(r.CumulativeTotal)})
			}
		}
		out = append(out, s)
	}
	return out
}

// TrendWindow is the moving average window of Trend.
const TrendWindow = 7

// Trend returns the 7-day moving average of daily downloads per platform
// and combined (last series). Leading days average over what is available.
func Trend(rows []domain.LedgerRow) []Series {
	sorted := sortedRows(rows)
	var out []Series
	for _, p := range platformsIn(rows) {
		var days []DayTotal
		for _, r := range sorted {
			if r.Platform == p {
				days = append(days, DayTotal{Date: domain.Day(r.ReportDate), Downloads: r.DailyDownloads})
			}
		}
		out = append(out, Series{Platform: p, Points: movingAverage(days, TrendWindow)})
	}
	out = append(out, Series{Points: movingAverage(combinedByDay(rows), TrendWindow)})
	return out
}

// movingAverage averages each day with up to window-1 preceding entries.
func movingAverage(days []DayTotal, window int) []Point {
	out := make([]Point, 0, len(days))
	sum := 0
	for i, d := range days {
		sum += d.Downloads
		if i >= window {
			sum -= days[i-window].Downloads
		}
		n := i + 1
		if n > window {
			n = window
		}
		out = append(out, Point{Date: d.Date, Value: float64(sum) / float64(n)})
	}
	return out
}

// Share is one platform's slice of the split chart.
type Share struct {
	Platform  domain.Platform
	Downloads int
	Fraction  float64
}

// Split sums daily downloads per platform over rows and returns each
// platform's share together with the grand total.
func Split(rows []domain.LedgerRow) ([]Share, int) {
	sums := make(map[domain.Platform]int)
	grand := 0
	for _, r := range rows {
		sums[r.Platform] += r.DailyDownloads
		grand += r.DailyDownloads
	}
	var out []Share
	for _, p := range platformsIn(rows) {
		s := Share{Platform: p, Downloads: sums[p]}
		if grand > 0 {
			s.Fraction = float64(sums[p]) / float64(grand)
		}
		out = append(out, s)
	}
	return out, grand
}

// Table returns rows newest first, platforms in display order within a day.
func Table(rows []domain.LedgerRow) []domain.LedgerRow {
	out := make([]domain.LedgerRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ReportDate.Equal(out[j].ReportDate) {
			return out[i].ReportDate.After(out[j].ReportDate)
		}
		return out[i].Platform.Order() < out[j].Platform.Order()
	})
	return out
}

// sortedRows returns a copy of rows ordered by report date, then platform.
func sortedRows(rows []domain.LedgerRow) []domain.LedgerRow {
	out := make([]domain.LedgerRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ReportDate.Equal(out[j].ReportDate) {
			return out[i].ReportDate.Before(out[j].ReportDate)
		}
		return out[i].Platform.Order() < out[j].Platform.Order()
	})
	return out
}

// platformsIn lists the platforms present in rows in display order.
func platformsIn(rows []domain.LedgerRow) []domain.Platform {
	seen := make(map[domain.Platform]bool)
	var out []domain.Platform
	for _, r := range rows {
		if !seen[r.Platform] {
			seen[r.Platform] = true
			out = append(out, r.Platform)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order() < out[j].Order() })
	return out
}
