// Package store defines storage interfaces for the download history ledger
// and the cumulative-totals cache, with CSV, SQLite and Parquet backends.
package store

import (
	"context"
	"errors"
	"time"

	"downloadreport/internal/domain"
)

// ErrMalformedLedger is returned when persisted ledger rows cannot be parsed.
// Rewriting such a ledger would drop data, so callers must not proceed.
var ErrMalformedLedger = errors.New("malformed ledger")

// LedgerStore is the per-platform daily download history. Each
// (report_date, platform) pair appears at most once and cumulative totals are
// running prefix sums per platform.
type LedgerStore interface {
	// Append records new days, skipping pairs that are already present. It
	// returns the number of rows written.
	Append(ctx context.Context, inputs []domain.DailyCount, ingested time.Time) (int, error)

	// LatestPerPlatform returns the row with the latest report date for each
	// platform present in the ledger.
	LatestPerPlatform(ctx context.Context) (map[domain.Platform]domain.LedgerRow, error)

	// ApplyCorrections overwrites daily values that differ from fresh and
	// recomputes cumulative totals. It returns nil when nothing changed,
	// otherwise the new latest total of every corrected platform.
	ApplyCorrections(ctx context.Context, fresh []domain.DailyCount) (map[domain.Platform]int, error)

	// Rows returns every row ordered by report date.
	Rows(ctx context.Context) ([]domain.LedgerRow, error)
}

// RowStore is the serialization boundary underneath a Ledger.
type RowStore interface {
	// LoadRows returns every persisted row. A store that does not exist yet
	// yields no rows and no error.
	LoadRows(ctx context.Context) ([]domain.LedgerRow, error)

	// AppendRows persists rows after the existing ones.
	AppendRows(ctx context.Context, rows []domain.LedgerRow) error

	// RewriteRows atomically replaces the whole table.
	RewriteRows(ctx context.Context, rows []domain.LedgerRow) error
}

// TotalsStore persists the cumulative-totals cache.
type TotalsStore interface {
	// LoadTotals returns the cached totals. A missing or unreadable cache
	// yields empty totals.
	LoadTotals(ctx context.Context) (domain.CumulativeTotals, error)

	// SaveTotals replaces the cached totals.
	SaveTotals(ctx context.Context, totals domain.CumulativeTotals) error
}
