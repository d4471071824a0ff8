package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"downloadreport/internal/domain"
)

// Compile-time interface check.
var _ RowStore = (*CSVStore)(nil)

// ledgerHeader is the column order of the CSV ledger.
var ledgerHeader = []string{"ingestion_date", "report_date", "platform", "daily_downloads", "cumulative_total"}

// CSVStore keeps ledger rows in a single CSV file. Appends write whole rows
// at the end of the file; rewrites go through a temporary file and a rename,
// so readers never see a partially rewritten ledger.
type CSVStore struct {
	Path string
	log  *slog.Logger
}

// NewCSVStore creates a CSVStore for the file at path. The file is created on
// the first write.
func NewCSVStore(path string, log *slog.Logger) *CSVStore {
	if log == nil {
		log = slog.Default()
	}
	return &CSVStore{Path: path, log: log.With("component", "csv_ledger", "path", path)}
}

// LoadRows parses the whole ledger. Files written before the
// ingestion_date column was renamed carry a "date" header in its place; both
// are accepted. A torn final line left by an interrupted append is dropped
// (see parseLedger).
func (s *CSVStore) LoadRows(_ context.Context) ([]domain.LedgerRow, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	rows, _, err := s.parseLedger(data)
	return rows, err
}

// AppendRows writes rows at the end of the file, creating it with a header
// if needed. A torn final line is trimmed first, and a complete but
// unterminated one gets its newline, so the new rows start on a line of
// their own and LoadRows sees the same rows before and after.
func (s *CSVStore) AppendRows(_ context.Context, rows []domain.LedgerRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}

	f, err := os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}
	keep := 0
	if len(bytes.TrimSpace(data)) > 0 {
		if _, keep, err = s.parseLedger(data); err != nil {
			return err
		}
	}
	if keep < len(data) {
		if err := f.Truncate(int64(keep)); err != nil {
			return fmt.Errorf("trimming torn ledger line: %w", err)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if keep > 0 && data[keep-1] != '\n' {
		if _, err := f.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("terminating ledger line: %w", err)
		}
	}

	w := csv.NewWriter(f)
	if keep == 0 {
		if err := w.Write(ledgerHeader); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := w.Write(formatRecord(r)); err != nil {
			return fmt.Errorf("writing ledger row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing ledger: %w", err)
	}
	return f.Sync()
}

// parseLedger parses a non-empty ledger file. It returns the rows and the
// length of the prefix of data that holds them. An unterminated final line
// counts as a row only if it parses and its cumulative total continues its
// platform's running sum; otherwise it is a torn append and is left out.
func (s *CSVStore) parseLedger(data []byte) ([]domain.LedgerRow, int, error) {
	end := len(data)
	var tail []byte
	if data[len(data)-1] != '\n' {
		end = bytes.LastIndexByte(data, '\n') + 1
		tail = data[end:]
	}
	body := data[:end]
	if end == 0 {
		// A lone header without its newline.
		body, tail = data, nil
	}

	r := newCSVReader(body)
	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: header: %v", ErrMalformedLedger, err)
	}
	cols, err := headerColumns(header)
	if err != nil {
		return nil, 0, err
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedLedger, err)
	}

	rows := make([]domain.LedgerRow, 0, len(records)+1)
	for i, rec := range records {
		row, err := parseRecord(rec, cols)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: line %d: %v", ErrMalformedLedger, i+2, err)
		}
		rows = append(rows, row)
	}
	if tail == nil {
		return rows, len(data), nil
	}

	line := len(records) + 2
	rec, err := newCSVReader(tail).Read()
	if err == nil {
		var row domain.LedgerRow
		if row, err = parseRecord(rec, cols); err == nil {
			if continuesRunningSum(rows, row) {
				return append(rows, row), len(data), nil
			}
			err = fmt.Errorf("cumulative_total %d does not continue the running sum", row.CumulativeTotal)
		}
	}
	s.log.Warn("dropping torn final ledger line", "line", line, "error", err)
	return rows, end, nil
}

func newCSVReader(data []byte) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r
}

// continuesRunningSum reports whether row's cumulative total equals the
// total of its platform's previous row plus its own daily value. A
// platform's first row only needs a total of at least its daily value.
func continuesRunningSum(rows []domain.LedgerRow, row domain.LedgerRow) bool {
	var prev *domain.LedgerRow
	for i := range rows {
		r := &rows[i]
		if r.Platform != row.Platform || !r.ReportDate.Before(row.ReportDate) {
			continue
		}
		if prev == nil || r.ReportDate.After(prev.ReportDate) {
			prev = r
		}
	}
	if prev == nil {
		return row.CumulativeTotal >= row.DailyDownloads
	}
	return row.CumulativeTotal == prev.CumulativeTotal+row.DailyDownloads
}

// RewriteRows replaces the ledger with rows via a temp file and rename. The
// rewritten file always carries the current header.
func (s *CSVStore) RewriteRows(_ context.Context, rows []domain.LedgerRow) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}

	tmp := s.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}

	w := csv.NewWriter(f)
	write := func() error {
		if err := w.Write(ledgerHeader); err != nil {
			return err
		}
		for _, r := range rows {
			if err := w.Write(formatRecord(r)); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}
	if err := write(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Record helpers
// ---------------------------------------------------------------------------

type columns struct {
	ingestion, report, platform, daily, cumulative int
}

func headerColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if i, ok := idx["date"]; ok {
		if _, has := idx["ingestion_date"]; !has {
			idx["ingestion_date"] = i
		}
	}

	var cols columns
	for _, c := range []struct {
		name string
		dst  *int
	}{
		{"ingestion_date", &cols.ingestion},
		{"report_date", &cols.report},
		{"platform", &cols.platform},
		{"daily_downloads", &cols.daily},
		{"cumulative_total", &cols.cumulative},
	} {
		i, ok := idx[c.name]
		if !ok {
			return columns{}, fmt.Errorf("%w: missing column %q", ErrMalformedLedger, c.name)
		}
		*c.dst = i
	}
	return cols, nil
}

func parseRecord(rec []string, cols columns) (domain.LedgerRow, error) {
	field := func(i int) (string, error) {
		if i >= len(rec) {
			return "", fmt.Errorf("expected %d fields, got %d", len(ledgerHeader), len(rec))
		}
		return strings.TrimSpace(rec[i]), nil
	}

	var (
		row domain.LedgerRow
		err error
		s   string
	)
	if s, err = field(cols.ingestion); err != nil {
		return row, err
	}
	if row.IngestionDate, err = time.Parse(domain.DateLayout, s); err != nil {
		return row, fmt.Errorf("ingestion_date: %w", err)
	}
	if s, err = field(cols.report); err != nil {
		return row, err
	}
	if row.ReportDate, err = time.Parse(domain.DateLayout, s); err != nil {
		return row, fmt.Errorf("report_date: %w", err)
	}
	if s, err = field(cols.platform); err != nil {
		return row, err
	}
	if row.Platform, err = domain.ParsePlatform(s); err != nil {
		return row, err
	}
	if s, err = field(cols.daily); err != nil {
		return row, err
	}
	if row.DailyDownloads, err = strconv.Atoi(s); err != nil {
		return row, fmt.Errorf("daily_downloads: %w", err)
	}
	if s, err = field(cols.cumulative); err != nil {
		return row, err
	}
	if row.CumulativeTotal, err = strconv.Atoi(s); err != nil {
		return row, fmt.Errorf("cumulative_total: %w", err)
	}
	return row, nil
}

func formatRecord(r domain.LedgerRow) []string {
	return []string{
		r.IngestionDate.Format(domain.DateLayout),
		r.ReportDate.Format(domain.DateLayout),
		string(r.Platform),
		strconv.Itoa(r.DailyDownloads),
		strconv.Itoa(r.CumulativeTotal),
	}
}
