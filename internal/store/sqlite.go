package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"downloadreport/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RowStore = (*SQLiteStore)(nil)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ledger (
	report_date      TEXT    NOT NULL,
	platform         TEXT    NOT NULL,
	ingestion_date   TEXT    NOT NULL,
	daily_downloads  INTEGER NOT NULL,
	cumulative_total INTEGER NOT NULL,
	PRIMARY KEY (report_date, platform)
)`

// SQLiteStore implements RowStore backed by a SQLite database. The primary
// key enforces one row per (report_date, platform).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		ledgerSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing ledger db: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadRows returns every row ordered by report date.
func (s *SQLiteStore) LoadRows(ctx context.Context) ([]domain.LedgerRow, error) {
	rs, err := s.db.QueryContext(ctx, `
		SELECT ingestion_date, report_date, platform, daily_downloads, cumulative_total
		FROM ledger ORDER BY report_date, platform`)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rs.Close()

	var rows []domain.LedgerRow
	for rs.Next() {
		var (
			ingested, reported, platform string
			r                            domain.LedgerRow
		)
		if err := rs.Scan(&ingested, &reported, &platform, &r.DailyDownloads, &r.CumulativeTotal); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLedger, err)
		}
		if r.IngestionDate, err = time.Parse(domain.DateLayout, ingested); err != nil {
			return nil, fmt.Errorf("%w: ingestion_date %q", ErrMalformedLedger, ingested)
		}
		if r.ReportDate, err = time.Parse(domain.DateLayout, reported); err != nil {
			return nil, fmt.Errorf("%w: report_date %q", ErrMalformedLedger, reported)
		}
		if r.Platform, err = domain.ParsePlatform(platform); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLedger, err)
		}
		rows = append(rows, r)
	}
	return rows, rs.Err()
}

// AppendRows inserts rows in one transaction. A row whose key already exists
// fails the whole batch.
func (s *SQLiteStore) AppendRows(ctx context.Context, rows []domain.LedgerRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertRows(ctx, tx, rows)
	})
}

// RewriteRows replaces the table contents in one transaction.
func (s *SQLiteStore) RewriteRows(ctx context.Context, rows []domain.LedgerRow) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM ledger"); err != nil {
			return err
		}
		return insertRows(ctx, tx, rows)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertRows(ctx context.Context, tx *sql.Tx, rows []domain.LedgerRow) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger (report_date, platform, ingestion_date, daily_downloads, cumulative_total)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.ReportDate.Format(domain.DateLayout),
			string(r.Platform),
			r.IngestionDate.Format(domain.DateLayout),
			r.DailyDownloads,
			r.CumulativeTotal,
		); err != nil {
			return fmt.Errorf("inserting %s/%s: %w", r.Platform, r.ReportDate.Format(domain.DateLayout), err)
		}
	}
	return nil
}
