package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"downloadreport/internal/domain"
)

// Compile-time interface check.
var _ RowStore = (*ParquetStore)(nil)

// ParquetStore keeps a columnar snapshot of the ledger in a single Parquet
// file. It is written after each run for analytics tooling and can back a
// read-mostly Ledger such as the dashboard's.
type ParquetStore struct {
	Path string
}

// NewParquetStore creates a ParquetStore for the file at path.
func NewParquetStore(path string) *ParquetStore {
	return &ParquetStore{Path: path}
}

// LedgerRecord is the Parquet schema for ledger rows.
type LedgerRecord struct {
	IngestionDate   int64  `parquet:"ingestion_date,timestamp(millisecond)"` // Unix ms
	ReportDate      int64  `parquet:"report_date,timestamp(millisecond)"`    // Unix ms
	Platform        string `parquet:"platform"`
	DailyDownloads  int64  `parquet:"daily_downloads"`
	CumulativeTotal int64  `parquet:"cumulative_total"`
}

// LoadRows reads the snapshot. A missing file yields no rows.
func (s *ParquetStore) LoadRows(_ context.Context) ([]domain.LedgerRow, error) {
	if _, err := os.Stat(s.Path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	records, err := readParquetFile[LedgerRecord](s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading parquet ledger: %w", err)
	}

	rows := make([]domain.LedgerRow, 0, len(records))
	for _, r := range records {
		p, err := domain.ParsePlatform(r.Platform)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLedger, err)
		}
		rows = append(rows, domain.LedgerRow{
			IngestionDate:   time.UnixMilli(r.IngestionDate).UTC(),
			ReportDate:      time.UnixMilli(r.ReportDate).UTC(),
			Platform:        p,
			DailyDownloads:  int(r.DailyDownloads),
			CumulativeTotal: int(r.CumulativeTotal),
		})
	}
	return rows, nil
}

// AppendRows rewrites the snapshot with rows added at the end. Parquet files
// are immutable once written.
func (s *ParquetStore) AppendRows(ctx context.Context, rows []domain.LedgerRow) error {
	if len(rows) == 0 {
		return nil
	}
	existing, err := s.LoadRows(ctx)
	if err != nil {
		return err
	}
	return s.RewriteRows(ctx, append(existing, rows...))
}

// RewriteRows writes rows to a temp file and renames it over the snapshot.
func (s *ParquetStore) RewriteRows(_ context.Context, rows []domain.LedgerRow) error {
	records := make([]LedgerRecord, len(rows))
	for i, r := range rows {
		records[i] = LedgerRecord{
			IngestionDate:   r.IngestionDate.UnixMilli(),
			ReportDate:      r.ReportDate.UnixMilli(),
			Platform:        string(r.Platform),
			DailyDownloads:  int64(r.DailyDownloads),
			CumulativeTotal: int64(r.CumulativeTotal),
		}
	}

	tmp := s.Path + ".tmp"
	if err := writeParquetFile(tmp, records); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing parquet ledger: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing parquet ledger: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
