// Package dashboard provides the ledger aggregations behind the download
// dashboard: headline cards, chart series and the history table. Every
// function is a pure computation over ledger rows.
package dashboard

import (
	"sort"
	"time"

	"downloadreport/internal/domain"
)

// Card is the headline for one platform, or for all platforms combined.
type Card struct {
	Platform domain.Platform // empty for the combined card
	Daily    int
	// Delta is Daily minus the previous day's downloads. Nil when the
	// previous day had none, so there is nothing to compare against.
	Delta *int
	Total int
}

// Hero holds the headline numbers of the latest report day.
type Hero struct {
	LatestDate time.Time
	Cards      []Card
	Combined   Card
	Avg7       float64
	Avg30      float64
	// VsAvg7 is the latest combined day relative to the 7-day average, as a
	// fraction (0.25 is 25% above).
	VsAvg7  float64
	BestDay int
}

// ComputeHero builds the headline for the latest report day in rows. Cards
// follow platforms order; a platform without a row on the latest day shows
// zero downloads and zero total, like the dashboard always has.
func ComputeHero(rows []domain.LedgerRow, platforms []domain.Platform) Hero {
	var h Hero
	if len(rows) == 0 {
		return h
	}

	for _, r := range rows {
		if r.ReportDate.After(h.LatestDate) {
			h.LatestDate = r.ReportDate
		}
	}
	yesterday := h.LatestDate.AddDate(0, 0, -1)

	var todayAll, yesterdayAll int
	for _, p := range platforms {
		var card Card
		card.Platform = p
		var prev int
		for _, r := range rows {
			if r.Platform != p {
				continue
			}
			switch {
			case r.ReportDate.Equal(h.LatestDate):
				card.Daily += r.DailyDownloads
				card.Total = r.CumulativeTotal
			case r.ReportDate.Equal(yesterday):
				prev += r.DailyDownloads
			}
		}
		card.Delta = delta(card.Daily, prev)
		todayAll += card.Daily
		yesterdayAll += prev
		h.Combined.Total += card.Total
		h.Cards = append(h.Cards, card)
	}
	h.Combined.Daily = todayAll
	h.Combined.Delta = delta(todayAll, yesterdayAll)

	daily := combinedByDay(rows)
	h.Avg7 = tailMean(daily, 7)
	h.Avg30 = tailMean(daily, 30)
	if h.Avg7 > 0 {
		h.VsAvg7 = float64(todayAll)/h.Avg7 - 1
	}
	for _, d := range daily {
		if d.Downloads > h.BestDay {
			h.BestDay = d.Downloads
		}
	}
	return h
}

func delta(cur, prev int) *int {
	if prev == 0 {
		return nil
	}
	return domain.IntPtr(cur - prev)
}

// DayTotal is the combined downloads of one report day.
type DayTotal struct {
	Date      time.Time
	Downloads int
}

// combinedByDay sums downloads per report day across platforms, oldest first.
func combinedByDay(rows []domain.LedgerRow) []DayTotal {
	idx := make(map[string]int)
	var out []DayTotal
	for _, r := range rows {
		key := r.ReportDate.Format(domain.DateLayout)
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, DayTotal{Date: domain.Day(r.ReportDate)})
		}
		out[i].Downloads += r.DailyDownloads
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// tailMean averages the last n days that have data.
func tailMean(days []DayTotal, n int) float64 {
	if len(days) == 0 {
		return 0
	}
	if len(days) > n {
		days = days[len(days)-n:]
	}
	sum := 0
	for _, d := range days {
		sum += d.Downloads
	}
	return float64(sum) / float64(len(days))
}
