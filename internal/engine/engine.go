// Package engine runs the daily report: fetch every store, fold new days
// into the cumulative totals, record history, apply upstream corrections and
// deliver the report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"downloadreport/internal/domain"
	"downloadreport/internal/gather"
	"downloadreport/internal/notify"
	"downloadreport/internal/store"
	"downloadreport/internal/util"
)

// ErrNotificationFailed is returned by Run when the report could not be
// delivered. Data has already been persisted at that point.
var ErrNotificationFailed = errors.New("notification failed")

// DefaultLookbackDays is the correction window for clients that implement
// gather.RecentFetcher.
const DefaultLookbackDays = 7

// Options configures an Engine.
type Options struct {
	AppName      string
	Location     *time.Location
	LookbackDays int
	// DryRun logs the report instead of sending it. Data is still persisted.
	DryRun bool
	// Mirror, when set, receives a full copy of the ledger after each run.
	Mirror store.RowStore
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine orchestrates one report run.
type Engine struct {
	clients  []gather.StoreClient
	ledger   store.LedgerStore
	totals   store.TotalsStore
	notifier notify.Notifier
	opts     Options
	log      *slog.Logger
}

// New creates an Engine. A nil notifier, or Options.DryRun, logs the report
// instead of sending it.
func New(clients []gather.StoreClient, ledger store.LedgerStore, totals store.TotalsStore,
	notifier notify.Notifier, opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = DefaultLookbackDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil || opts.DryRun {
		notifier = &notify.LogNotifier{Log: log}
	}
	return &Engine{
		clients:  clients,
		ledger:   ledger,
		totals:   totals,
		notifier: notifier,
		opts:     opts,
		log:      log.With("component", "engine"),
	}
}

// Outcome summarizes a run.
type Outcome struct {
	Target    time.Time
	Fetched   []domain.StoreResult
	Report    []domain.StoreResult
	Totals    domain.CumulativeTotals
	Appended  int
	Corrected map[domain.Platform]int
	Message   string
	// PersistErrors collects storage failures that did not stop the run.
	PersistErrors []error
}

// Run executes the daily flow. Store failures and storage errors are logged
// and reported but do not fail the run; only a failed delivery does.
func (e *Engine) Run(ctx context.Context) (*Outcome, error) {
	now := e.opts.Now().In(e.opts.Location)
	out := &Outcome{Target: util.Yesterday(now, e.opts.Location)}

	// 1. Totals, reconciled against the ledger.
	totals, err := e.ReconcileTotals(ctx)
	if err != nil {
		out.PersistErrors = append(out.PersistErrors, err)
	}

	// 2. Fetch every store and fold new days into the totals.
	out.Fetched = e.fetchAll(ctx, out.Target)
	for i, r := range out.Fetched {
		if ApplyNewDay(&totals, r, now, e.log) {
			e.log.Info("new day counted", "platform", r.Platform, "date", r.DateLabel,
				"daily", *r.DailyDownloads, "total", totals.Totals[r.Platform])
		}
		if t, ok := totals.Totals[r.Platform]; ok && t > 0 {
			out.Fetched[i].TotalDownloads = domain.IntPtr(t)
		}
	}

	// 3. Record history.
	counts := dailyCounts(out.Fetched, now)
	if len(counts) > 0 {
		n, err := e.ledger.Append(ctx, counts, now)
		if err != nil {
			e.log.Error("ledger append failed", "error", err)
			out.PersistErrors = append(out.PersistErrors, fmt.Errorf("append: %w", err))
		}
		out.Appended = n
	}

	// 4. Upstream corrections.
	corrected := e.applyCorrections(ctx, out.Target, out)
	if len(corrected) > 0 {
		for p, total := range corrected {
			e.log.Info("total corrected", "platform", p, "old", totals.Totals[p], "new", total)
			totals.Totals[p] = total
		}
		out.Corrected = corrected
		totals.LastUpdated = now
		if err := e.totals.SaveTotals(ctx, totals); err != nil {
			e.log.Error("saving corrected totals failed", "error", err)
			out.PersistErrors = append(out.PersistErrors, fmt.Errorf("save totals: %w", err))
		}
	}

	// 5. Persist totals.
	totals.LastUpdated = now
	if err := e.totals.SaveTotals(ctx, totals); err != nil {
		e.log.Error("saving totals failed", "error", err)
		out.PersistErrors = append(out.PersistErrors, fmt.Errorf("save totals: %w", err))
	}
	out.Totals = totals

	if e.opts.Mirror != nil {
		if err := e.mirror(ctx); err != nil {
			e.log.Warn("ledger mirror failed", "error", err)
			out.PersistErrors = append(out.PersistErrors, fmt.Errorf("mirror: %w", err))
		}
	}

	// 6. Build the report from the ledger.
	out.Report = e.buildReport(ctx, out.Fetched)

	// 7. Deliver.
	out.Message = notify.FormatReport(e.opts.AppName, out.Report, now)
	if err := e.notifier.Send(ctx, out.Message); err != nil {
		e.log.Error("report delivery failed", "error", err)
		return out, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	return out, nil
}

// fetchAll queries every client in order, one at a time.
func (e *Engine) fetchAll(ctx context.Context, target time.Time) []domain.StoreResult {
	results := make([]domain.StoreResult, 0, len(e.clients))
	for _, c := range e.clients {
		r := c.FetchReport(ctx, target)
		if r.Platform == "" {
			r.Platform = c.Platform()
		}
		switch {
		case r.Failed():
			e.log.Warn("store fetch failed", "platform", r.Platform, "error", r.Error)
		case !r.HasData():
			e.log.Info("no data yet", "platform", r.Platform, "label", r.DateLabel)
		}
		results = append(results, r)
	}
	return results
}

// dailyCounts converts results with data into ledger inputs. A result that
// only carries a label is resolved relative to now.
func dailyCounts(results []domain.StoreResult, now time.Time) []domain.DailyCount {
	var out []domain.DailyCount
	for _, r := range results {
		if !r.HasData() {
			continue
		}
		day := r.DataDate
		if day.IsZero() {
			d, ok := util.ResolveLabel(r.DateLabel, now)
			if !ok {
				continue
			}
			day = d
		}
		out = append(out, domain.DailyCount{
			ReportDate:     domain.Day(day),
			Platform:       r.Platform,
			DailyDownloads: *r.DailyDownloads,
		})
	}
	return out
}

func (e *Engine) applyCorrections(ctx context.Context, target time.Time, out *Outcome) map[domain.Platform]int {
	var fresh []domain.DailyCount
	for _, c := range e.clients {
		rf, ok := c.(gather.RecentFetcher)
		if !ok {
			continue
		}
		days, err := rf.FetchRecent(ctx, target, e.opts.LookbackDays)
		if err != nil {
			e.log.Warn("fetching recent days failed", "platform", c.Platform(), "error", err)
			continue
		}
		fresh = append(fresh, days...)
	}
	if len(fresh) == 0 {
		return nil
	}

	corrected, err := e.ledger.ApplyCorrections(ctx, fresh)
	if err != nil {
		e.log.Error("applying corrections failed", "error", err)
		out.PersistErrors = append(out.PersistErrors, fmt.Errorf("corrections: %w", err))
		return nil
	}
	return corrected
}

// buildReport prefers the ledger's latest row per platform, which reflects
// corrections, and falls back to the raw fetch for platforms the ledger
// does not know. A failed fetch stays unavailable but keeps its known total.
func (e *Engine) buildReport(ctx context.Context, fetched []domain.StoreResult) []domain.StoreResult {
	latest, err := e.ledger.LatestPerPlatform(ctx)
	if err != nil {
		e.log.Warn("reading ledger for report failed, using fetched results", "error", err)
		latest = nil
	}

	report := make([]domain.StoreResult, 0, len(fetched))
	for _, r := range fetched {
		row, ok := latest[r.Platform]
		switch {
		case !ok:
			report = append(report, r)
		case r.Failed():
			r.TotalDownloads = domain.IntPtr(row.CumulativeTotal)
			report = append(report, r)
		default:
			report = append(report, domain.StoreResult{
				Platform:       r.Platform,
				DailyDownloads: domain.IntPtr(row.DailyDownloads),
				DataDate:       row.ReportDate,
				DateLabel:      domain.Label(row.ReportDate),
				TotalDownloads: domain.IntPtr(row.CumulativeTotal),
			})
		}
	}
	return report
}

func (e *Engine) mirror(ctx context.Context) error {
	rows, err := e.ledger.Rows(ctx)
	if err != nil {
		return err
	}
	return e.opts.Mirror.RewriteRows(ctx, rows)
}
