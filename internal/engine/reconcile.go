package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"downloadreport/internal/domain"
	"downloadreport/internal/util"
)

// ReconcileTotals loads the totals cache and lifts every platform to the
// ledger's latest cumulative total when the ledger is ahead. A failed ledger
// read leaves the cache as is and is returned alongside the totals.
func (e *Engine) ReconcileTotals(ctx context.Context) (domain.CumulativeTotals, error) {
	totals, err := e.totals.LoadTotals(ctx)
	if err != nil {
		e.log.Warn("loading totals failed, starting from zero", "error", err)
		totals = domain.NewCumulativeTotals()
	}
	if totals.Totals == nil || totals.LastDates == nil {
		totals = totals.Clone()
	}

	latest, err := e.ledger.LatestPerPlatform(ctx)
	if err != nil {
		e.log.Warn("reading ledger failed, using cached totals", "error", err)
		return totals, fmt.Errorf("reconcile: %w", err)
	}
	return Reconcile(totals, latest, e.log), nil
}

// Reconcile returns cache with each platform's total raised to the ledger's
// latest cumulative total when that is larger. A platform taken from the
// ledger also takes the ledger's last date, so a day that was recorded but
// never cached is not counted twice.
func Reconcile(cache domain.CumulativeTotals, latest map[domain.Platform]domain.LedgerRow, log *slog.Logger) domain.CumulativeTotals {
	out := cache.Clone()
	for p, row := range latest {
		if row.CumulativeTotal <= out.Totals[p] {
			continue
		}
		log.Info("ledger ahead of cached total",
			"platform", p, "cached", out.Totals[p], "ledger", row.CumulativeTotal,
			"ledger_date", row.ReportDate.Format(domain.DateLayout))
		out.Totals[p] = row.CumulativeTotal
		out.LastDates[p] = domain.Label(row.ReportDate)
	}
	return out
}

// ApplyNewDay adds r's daily downloads to totals when r's day is strictly
// after the last day counted for its platform. It reports whether the totals
// changed. Results without data never change anything.
func ApplyNewDay(totals *domain.CumulativeTotals, r domain.StoreResult, now time.Time, log *slog.Logger) bool {
	if !r.HasData() {
		return false
	}
	if totals.Totals == nil || totals.LastDates == nil {
		*totals = totals.Clone()
	}

	fetched, label := r.DateLabel, r.DateLabel
	if !r.DataDate.IsZero() {
		fetched = r.DataDate.Format(domain.DateLayout)
		label = domain.Label(r.DataDate)
	}

	last := totals.LastDates[r.Platform]
	if !util.IsNewerLabel(fetched, last, now) {
		if log != nil {
			log.Debug("day already counted", "platform", r.Platform, "date", label, "last", last)
		}
		return false
	}
	totals.Totals[r.Platform] += *r.DailyDownloads
	totals.LastDates[r.Platform] = label
	return true
}
