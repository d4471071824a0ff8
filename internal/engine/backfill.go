package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"downloadreport/internal/domain"
	"downloadreport/internal/gather"
	"downloadreport/internal/store"
	"downloadreport/internal/util"
)

// BackfillSource pairs a platform with an exact-day fetcher. Limiter, when
// set, spaces out the fetcher's calls.
type BackfillSource struct {
	Platform domain.Platform
	Fetcher  gather.DayFetcher
	Limiter  *util.RateLimiter
}

// BackfillResult summarizes a backfill run.
type BackfillResult struct {
	Range gather.DateRange
	// Days is the number of days in Range; zero when there was nothing to do.
	Days int
	// Found counts, per platform, the days upstream had data for. The others
	// were recorded as 0.
	Found    map[domain.Platform]int
	Inserted int
}

// Backfill fills the history before the ledger's earliest report date,
// starting at start. Each source is asked for every day of the range; a day
// with no upstream report, or whose fetch fails, is recorded as 0 so the
// range is never revisited. Rows are inserted through the ledger, which
// recomputes the affected prefix sums. An empty ledger backfills up to the
// day before now.
func Backfill(ctx context.Context, ledger store.LedgerStore, sources []BackfillSource,
	start, now time.Time, log *slog.Logger) (*BackfillResult, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "backfill")

	rows, err := ledger.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	earliest := domain.Day(now)
	for _, r := range rows {
		if r.ReportDate.Before(earliest) {
			earliest = r.ReportDate
		}
	}

	start = domain.Day(start)
	res := &BackfillResult{
		Range: gather.DateRange{Start: start, End: earliest.AddDate(0, 0, -1)},
		Found: make(map[domain.Platform]int),
	}
	if !start.Before(earliest) {
		log.Info("no backfill needed", "start", start.Format(domain.DateLayout), "earliest", earliest.Format(domain.DateLayout))
		return res, nil
	}

	days := res.Range.Days()
	res.Days = len(days)
	log.Info("backfilling",
		"from", res.Range.Start.Format(domain.DateLayout),
		"to", res.Range.End.Format(domain.DateLayout),
		"days", len(days),
		"sources", len(sources),
	)

	var counts []domain.DailyCount
	for i, day := range days {
		for _, src := range sources {
			if err := src.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
			n, ok, err := src.Fetcher.FetchDay(ctx, day)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			switch {
			case err != nil:
				log.Warn("fetch failed, recording 0", "platform", src.Platform, "day", day.Format(domain.DateLayout), "error", err)
				n = 0
			case !ok:
				n = 0
			default:
				res.Found[src.Platform]++
			}
			counts = append(counts, domain.DailyCount{ReportDate: day, Platform: src.Platform, DailyDownloads: n})
		}
		if (i+1)%30 == 0 {
			log.Info("backfill progress", "day", day.Format(domain.DateLayout), "done", i+1, "total", len(days))
		}
	}

	inserted, err := ledger.Append(ctx, counts, now)
	if err != nil {
		return nil, fmt.Errorf("inserting backfill rows: %w", err)
	}
	res.Inserted = inserted
	log.Info("backfill complete", "inserted", inserted, "found", res.Found)
	return res, nil
}
