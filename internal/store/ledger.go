package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"downloadreport/internal/domain"
)

// Compile-time interface check.
var _ LedgerStore = (*Ledger)(nil)

// Ledger implements LedgerStore on top of a RowStore. It reads the full table
// on every operation; the history holds one row per platform per day, so it
// stays small.
type Ledger struct {
	rows RowStore
	log  *slog.Logger
}

// NewLedger creates a Ledger persisting through rows.
func NewLedger(rows RowStore, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{rows: rows, log: log.With("component", "ledger")}
}

// Rows returns every row ordered by report date, then platform.
func (l *Ledger) Rows(ctx context.Context) ([]domain.LedgerRow, error) {
	rows, err := l.rows.LoadRows(ctx)
	if err != nil {
		return nil, err
	}
	sortRows(rows)
	return rows, nil
}

// Append records inputs whose (report_date, platform) pair is not yet in the
// ledger. A new row's cumulative total is the platform's previous total plus
// its daily value (0 for an unseen platform). Rows that arrive in date order
// are appended; a row dated before the platform's latest row is inserted in
// order and the table is rewritten with recomputed prefix sums.
func (l *Ledger) Append(ctx context.Context, inputs []domain.DailyCount, ingested time.Time) (int, error) {
	existing, err := l.Rows(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading ledger: %w", err)
	}

	seen := make(map[domain.RowKey]bool, len(existing))
	latest := make(map[domain.Platform]domain.LedgerRow)
	for _, r := range existing {
		seen[r.Key()] = true
		if cur, ok := latest[r.Platform]; !ok || r.ReportDate.After(cur.ReportDate) {
			latest[r.Platform] = r
		}
	}
	base := platformBases(existing)

	var (
		added     []domain.LedgerRow
		outOfDate = make(map[domain.Platform]bool)
	)
	for _, in := range inputs {
		if in.DailyDownloads < 0 {
			l.log.Warn("skipping negative daily downloads",
				"platform", in.Platform,
				"report_date", in.ReportDate.Format(domain.DateLayout),
				"daily", in.DailyDownloads,
			)
			continue
		}

		row := domain.LedgerRow{
			IngestionDate:  domain.Day(ingested),
			ReportDate:     domain.Day(in.ReportDate),
			Platform:       in.Platform,
			DailyDownloads: in.DailyDownloads,
		}
		key := row.Key()
		if seen[key] {
			l.log.Info("skipping row, already recorded", "platform", key.Platform, "report_date", key.ReportDate)
			continue
		}
		seen[key] = true

		prev, ok := latest[row.Platform]
		row.CumulativeTotal = prev.CumulativeTotal + row.DailyDownloads
		if ok && !row.ReportDate.After(prev.ReportDate) {
			outOfDate[row.Platform] = true
		} else {
			latest[row.Platform] = row
		}
		added = append(added, row)
	}

	if len(added) == 0 {
		l.log.Info("no new rows to write to ledger")
		return 0, nil
	}

	if len(outOfDate) > 0 {
		all := append(existing, added...)
		sortRows(all)
		recompute(all, base, outOfDate)
		if err := l.rows.RewriteRows(ctx, all); err != nil {
			return 0, fmt.Errorf("rewriting ledger: %w", err)
		}
		l.log.Info("inserted out-of-order rows, recomputed totals", "rows", len(added), "platforms", len(outOfDate))
		return len(added), nil
	}

	if err := l.rows.AppendRows(ctx, added); err != nil {
		return 0, fmt.Errorf("appending ledger rows: %w", err)
	}
	l.log.Info("wrote ledger rows", "rows", len(added))
	return len(added), nil
}

// LatestPerPlatform returns the row with the maximal report date per
// platform.
func (l *Ledger) LatestPerPlatform(ctx context.Context) (map[domain.Platform]domain.LedgerRow, error) {
	rows, err := l.rows.LoadRows(ctx)
	if err != nil {
		return nil, err
	}
	return latestRows(rows), nil
}

// ApplyCorrections overwrites the daily value of every row whose report date
// appears in fresh with a different value, then recomputes the cumulative
// totals of every row of each platform present in fresh as a prefix sum from
// the platform's base. Corrections for days without a row are ignored. The
// table is rewritten atomically, and only when at least one value changed.
func (l *Ledger) ApplyCorrections(ctx context.Context, fresh []domain.DailyCount) (map[domain.Platform]int, error) {
	if len(fresh) == 0 {
		return nil, nil
	}

	want := make(map[domain.Platform]map[string]int)
	for _, f := range fresh {
		if f.DailyDownloads < 0 {
			continue
		}
		if want[f.Platform] == nil {
			want[f.Platform] = make(map[string]int)
		}
		want[f.Platform][f.ReportDate.Format(domain.DateLayout)] = f.DailyDownloads
	}

	rows, err := l.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	// Bases come from the rows as stored, before any value changes.
	base := platformBases(rows)

	changed := make(map[domain.Platform]bool)
	for i := range rows {
		fixes := want[rows[i].Platform]
		if fixes == nil {
			continue
		}
		date := rows[i].ReportDate.Format(domain.DateLayout)
		v, ok := fixes[date]
		if !ok || v == rows[i].DailyDownloads {
			continue
		}
		l.log.Info("correcting ledger row",
			"platform", rows[i].Platform,
			"report_date", date,
			"old", rows[i].DailyDownloads,
			"new", v,
		)
		rows[i].DailyDownloads = v
		changed[rows[i].Platform] = true
	}

	if len(changed) == 0 {
		l.log.Info("ledger matches upstream, no corrections")
		return nil, nil
	}

	affected := make(map[domain.Platform]bool, len(want))
	for p := range want {
		affected[p] = true
	}
	recompute(rows, base, affected)

	if err := l.rows.RewriteRows(ctx, rows); err != nil {
		return nil, fmt.Errorf("rewriting corrected ledger: %w", err)
	}

	latest := latestRows(rows)
	totals := make(map[domain.Platform]int, len(changed))
	for p := range changed {
		totals[p] = latest[p].CumulativeTotal
	}
	return totals, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// sortRows orders rows by report date, then platform.
func sortRows(rows []domain.LedgerRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].ReportDate.Equal(rows[j].ReportDate) {
			return rows[i].ReportDate.Before(rows[j].ReportDate)
		}
		return rows[i].Platform.Order() < rows[j].Platform.Order()
	})
}

// platformBases returns, per platform, the running total carried in before
// its first row: the first row's cumulative total minus its daily value.
// rows must be sorted.
func platformBases(rows []domain.LedgerRow) map[domain.Platform]int {
	base := make(map[domain.Platform]int)
	for _, r := range rows {
		if _, ok := base[r.Platform]; !ok {
			base[r.Platform] = r.CumulativeTotal - r.DailyDownloads
		}
	}
	return base
}

// recompute rewrites the cumulative total of every row of the given
// platforms as a prefix sum starting from the platform's base. rows must be
// sorted.
func recompute(rows []domain.LedgerRow, base map[domain.Platform]int, platforms map[domain.Platform]bool) {
	running := make(map[domain.Platform]int, len(platforms))
	for p := range platforms {
		running[p] = base[p]
	}
	for i := range rows {
		p := rows[i].Platform
		if !platforms[p] {
			continue
		}
		running[p] += rows[i].DailyDownloads
		rows[i].CumulativeTotal = running[p]
	}
}

func latestRows(rows []domain.LedgerRow) map[domain.Platform]domain.LedgerRow {
	out := make(map[domain.Platform]domain.LedgerRow)
	for _, r := range rows {
		if cur, ok := out[r.Platform]; !ok || r.ReportDate.After(cur.ReportDate) {
			out[r.Platform] = r
		}
	}
	return out
}
