package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"downloadreport/internal/domain"
	"downloadreport/internal/util"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func count(t *testing.T, date string, p domain.Platform, n int) domain.DailyCount {
	return domain.DailyCount{ReportDate: day(t, date), Platform: p, DailyDownloads: n}
}

// backends returns one fresh RowStore per implementation.
func backends(t *testing.T) map[string]RowStore {
	t.Helper()
	dir := t.TempDir()
	sq, err := NewSQLiteStore(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]RowStore{
		"csv":     NewCSVStore(filepath.Join(dir, "downloads.csv"), util.DiscardLogger()),
		"sqlite":  sq,
		"parquet": NewParquetStore(filepath.Join(dir, "downloads.parquet")),
	}
}

func cumulativeOf(rows []domain.LedgerRow, p domain.Platform) []int {
	var out []int
	for _, r := range rows {
		if r.Platform == p {
			out = append(out, r.CumulativeTotal)
		}
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLedgerAppendPrefixSum(t *testing.T) {
	ctx := context.Background()
	for name, rs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLedger(rs, util.DiscardLogger())
			ingested := day(t, "2026-02-11")

			n, err := l.Append(ctx, []domain.DailyCount{
				count(t, "2026-02-09", domain.PlatformAppStore, 10),
				count(t, "2026-02-09", domain.PlatformGooglePlay, 5),
			}, ingested)
			if err != nil || n != 2 {
				t.Fatalf("Append = %d, %v; want 2, nil", n, err)
			}
			n, err = l.Append(ctx, []domain.DailyCount{
				count(t, "2026-02-10", domain.PlatformAppStore, 7),
				count(t, "2026-02-10", domain.PlatformGooglePlay, 3),
			}, ingested)
			if err != nil || n != 2 {
				t.Fatalf("Append = %d, %v; want 2, nil", n, err)
			}

			rows, err := l.Rows(ctx)
			if err != nil {
				t.Fatalf("Rows: %v", err)
			}
			if got := cumulativeOf(rows, domain.PlatformAppStore); !equalInts(got, []int{10, 17}) {
				t.Errorf("appstore cumulative = %v, want [10 17]", got)
			}
			if got := cumulativeOf(rows, domain.PlatformGooglePlay); !equalInts(got, []int{5, 8}) {
				t.Errorf("googleplay cumulative = %v, want [5 8]", got)
			}
			if !rows[0].IngestionDate.Equal(ingested) {
				t.Errorf("IngestionDate = %v, want %v", rows[0].IngestionDate, ingested)
			}

			latest, err := l.LatestPerPlatform(ctx)
			if err != nil {
				t.Fatalf("LatestPerPlatform: %v", err)
			}
			if got := latest[domain.PlatformAppStore]; got.CumulativeTotal != 17 || got.ReportDate.Format(domain.DateLayout) != "2026-02-10" {
				t.Errorf("latest appstore = %+v", got)
			}
			if _, ok := latest[domain.PlatformHuawei]; ok {
				t.Error("huawei has no rows and must be absent from LatestPerPlatform")
			}
		})
	}
}

func TestLedgerAppendIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, rs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLedger(rs, util.DiscardLogger())
			in := []domain.DailyCount{
				count(t, "2026-02-10", domain.PlatformAppStore, 100),
				count(t, "2026-02-10", domain.PlatformAppStore, 100), // duplicate in the same batch
			}
			if n, err := l.Append(ctx, in, day(t, "2026-02-11")); err != nil || n != 1 {
				t.Fatalf("first Append = %d, %v; want 1, nil", n, err)
			}
			if n, err := l.Append(ctx, in, day(t, "2026-02-12")); err != nil || n != 0 {
				t.Fatalf("second Append = %d, %v; want 0, nil", n, err)
			}
			rows, _ := l.Rows(ctx)
			if len(rows) != 1 {
				t.Errorf("rows = %d, want 1", len(rows))
			}
		})
	}
}

func TestLedgerAppendSkipsNegative(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(NewCSVStore(filepath.Join(t.TempDir(), "d.csv"), nil), util.DiscardLogger())
	n, err := l.Append(ctx, []domain.DailyCount{count(t, "2026-02-10", domain.PlatformHuawei, -4)}, day(t, "2026-02-11"))
	if err != nil || n != 0 {
		t.Fatalf("Append = %d, %v; want 0, nil", n, err)
	}
}

func TestLedgerAppendContinuesFromBase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	// A ledger seeded from a historical total.
	seed := "ingestion_date,report_date,platform,daily_downloads,cumulative_total\n" +
		"2026-02-09,2026-02-08,appstore,20,5020\n"
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLedger(NewCSVStore(path, nil), util.DiscardLogger())
	if _, err := l.Append(ctx, []domain.DailyCount{count(t, "2026-02-09", domain.PlatformAppStore, 30)}, day(t, "2026-02-10")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	latest, _ := l.LatestPerPlatform(ctx)
	if got := latest[domain.PlatformAppStore].CumulativeTotal; got != 5050 {
		t.Errorf("cumulative = %d, want 5050", got)
	}
}

func TestLedgerAppendOutOfOrder(t *testing.T) {
	ctx := context.Background()
	for name, rs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLedger(rs, util.DiscardLogger())
			ingested := day(t, "2026-02-12")
			if _, err := l.Append(ctx, []domain.DailyCount{
				count(t, "2026-02-09", domain.PlatformAppStore, 10),
				count(t, "2026-02-11", domain.PlatformAppStore, 30),
			}, ingested); err != nil {
				t.Fatalf("Append: %v", err)
			}
			// A delayed day arrives after a later one.
			if n, err := l.Append(ctx, []domain.DailyCount{count(t, "2026-02-10", domain.PlatformAppStore, 20)}, ingested); err != nil || n != 1 {
				t.Fatalf("out-of-order Append = %d, %v", n, err)
			}

			rows, _ := l.Rows(ctx)
			if got := cumulativeOf(rows, domain.PlatformAppStore); !equalInts(got, []int{10, 30, 60}) {
				t.Errorf("cumulative = %v, want [10 30 60]", got)
			}
			if rows[1].ReportDate.Format(domain.DateLayout) != "2026-02-10" {
				t.Errorf("rows not in date order: %v", rows)
			}
		})
	}
}

func TestLedgerApplyCorrections(t *testing.T) {
	ctx := context.Background()
	for name, rs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLedger(rs, util.DiscardLogger())
			ingested := day(t, "2026-02-06")
			var in []domain.DailyCount
			for i, d := range []string{"2026-02-01", "2026-02-02", "2026-02-03", "2026-02-04", "2026-02-05"} {
				in = append(in, count(t, d, domain.PlatformGooglePlay, 10*(i+1)))
			}
			in = append(in, count(t, "2026-02-05", domain.PlatformAppStore, 7))
			if _, err := l.Append(ctx, in, ingested); err != nil {
				t.Fatalf("Append: %v", err)
			}

			totals, err := l.ApplyCorrections(ctx, []domain.DailyCount{
				count(t, "2026-02-02", domain.PlatformGooglePlay, 25),
				count(t, "2026-02-03", domain.PlatformGooglePlay, 30), // unchanged
				count(t, "2026-01-15", domain.PlatformGooglePlay, 99), // no such row
			})
			if err != nil {
				t.Fatalf("ApplyCorrections: %v", err)
			}
			if len(totals) != 1 || totals[domain.PlatformGooglePlay] != 155 {
				t.Errorf("totals = %v, want map[googleplay:155]", totals)
			}

			rows, _ := l.Rows(ctx)
			if got := cumulativeOf(rows, domain.PlatformGooglePlay); !equalInts(got, []int{10, 35, 65, 105, 155}) {
				t.Errorf("googleplay cumulative = %v, want [10 35 65 105 155]", got)
			}
			if got := cumulativeOf(rows, domain.PlatformAppStore); !equalInts(got, []int{7}) {
				t.Errorf("appstore untouched, got %v", got)
			}
			if len(rows) != 6 {
				t.Errorf("rows = %d, want 6 (no rows inserted)", len(rows))
			}
		})
	}
}

func TestLedgerApplyCorrectionsShiftsLaterRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	seed := "ingestion_date,report_date,platform,daily_downloads,cumulative_total\n" +
		"2026-02-08,2026-02-07,googleplay,100,10100\n" +
		"2026-02-09,2026-02-08,googleplay,118,10218\n" +
		"2026-02-10,2026-02-09,googleplay,90,10308\n" +
		"2026-02-11,2026-02-10,googleplay,95,10403\n"
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLedger(NewCSVStore(path, nil), util.DiscardLogger())
	totals, err := l.ApplyCorrections(ctx, []domain.DailyCount{count(t, "2026-02-08", domain.PlatformGooglePlay, 130)})
	if err != nil {
		t.Fatalf("ApplyCorrections: %v", err)
	}
	if totals[domain.PlatformGooglePlay] != 10415 {
		t.Errorf("new total = %d, want 10415", totals[domain.PlatformGooglePlay])
	}

	rows, _ := l.Rows(ctx)
	// The base (10000) is preserved and every later row moves by +12.
	want := []int{10100, 10230, 10320, 10415}
	if got := cumulativeOf(rows, domain.PlatformGooglePlay); !equalInts(got, want) {
		t.Errorf("cumulative = %v, want %v", got, want)
	}
}

func TestLedgerApplyCorrectionsNoChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	l := NewLedger(NewCSVStore(path, nil), util.DiscardLogger())
	if _, err := l.Append(ctx, []domain.DailyCount{count(t, "2026-02-10", domain.PlatformAppStore, 5)}, day(t, "2026-02-11")); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	totals, err := l.ApplyCorrections(ctx, []domain.DailyCount{count(t, "2026-02-10", domain.PlatformAppStore, 5)})
	if err != nil {
		t.Fatalf("ApplyCorrections: %v", err)
	}
	if totals != nil {
		t.Errorf("totals = %v, want nil when nothing changed", totals)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("ledger must not be rewritten when nothing changed")
	}

	if totals, err := l.ApplyCorrections(ctx, nil); err != nil || totals != nil {
		t.Errorf("ApplyCorrections(nil) = %v, %v", totals, err)
	}
}

func TestCSVLegacyHeader(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	legacy := "date,report_date,platform,daily_downloads,cumulative_total\n" +
		"2026-01-02,2026-01-01,huawei,4,4\n"
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewCSVStore(path, nil)
	rows, err := s.LoadRows(ctx)
	if err != nil {
		t.Fatalf("LoadRows: %v", err)
	}
	if len(rows) != 1 || rows[0].IngestionDate.Format(domain.DateLayout) != "2026-01-02" {
		t.Fatalf("rows = %+v", rows)
	}

	// A rewrite migrates the header.
	if err := s.RewriteRows(ctx, rows); err != nil {
		t.Fatalf("RewriteRows: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "ingestion_date,") {
		t.Errorf("rewritten header = %q", strings.SplitN(string(data), "\n", 2)[0])
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after rewrite")
	}
}

func TestCSVMalformed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	bad := "ingestion_date,report_date,platform,daily_downloads,cumulative_total\n" +
		"2026-01-02,2026-01-01,appstore,four,4\n" +
		"2026-01-03,2026-01-02,appstore,1,5\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLedger(NewCSVStore(path, nil), util.DiscardLogger())
	if _, err := l.Rows(ctx); !errors.Is(err, ErrMalformedLedger) {
		t.Errorf("Rows error = %v, want ErrMalformedLedger", err)
	}
	if _, err := l.Append(ctx, []domain.DailyCount{count(t, "2026-01-03", domain.PlatformAppStore, 1)}, time.Now()); !errors.Is(err, ErrMalformedLedger) {
		t.Errorf("Append error = %v, want ErrMalformedLedger", err)
	}
}

func TestCSVTornTail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	torn := "ingestion_date,report_date,platform,daily_downloads,cumulative_total\n" +
		"2026-01-02,2026-01-01,appstore,4,4\n" +
		"2026-01-03,2026-01-02,apps"
	if err := os.WriteFile(path, []byte(torn), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLedger(NewCSVStore(path, nil), util.DiscardLogger())
	rows, err := l.Rows(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("Rows = %v, %v; want the one complete row", rows, err)
	}

	if _, err := l.Append(ctx, []domain.DailyCount{count(t, "2026-01-02", domain.PlatformAppStore, 6)}, day(t, "2026-01-03")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	rows, err = l.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows after append: %v", err)
	}
	if got := cumulativeOf(rows, domain.PlatformAppStore); !equalInts(got, []int{4, 10}) {
		t.Errorf("cumulative = %v, want [4 10]", got)
	}
}

func TestCSVUnterminatedCompleteRow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	data := "ingestion_date,report_date,platform,daily_downloads,cumulative_total\n" +
		"2026-02-09,2026-02-08,appstore,10,10\n" +
		"2026-02-10,2026-02-09,appstore,20,30"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLedger(NewCSVStore(path, nil), util.DiscardLogger())
	rows, err := l.Rows(ctx)
	if err != nil || len(rows) != 2 {
		t.Fatalf("Rows = %v, %v; want both rows", rows, err)
	}

	if _, err := l.Append(ctx, []domain.DailyCount{count(t, "2026-02-10", domain.PlatformAppStore, 5)}, day(t, "2026-02-11")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	rows, err = l.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows after append: %v", err)
	}
	if got := cumulativeOf(rows, domain.PlatformAppStore); !equalInts(got, []int{10, 30, 35}) {
		t.Errorf("cumulative = %v, want [10 30 35]", got)
	}
}

func TestCSVTornNumber(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	// The final line was cut inside "30".
	data := "ingestion_date,report_date,platform,daily_downloads,cumulative_total\n" +
		"2026-02-09,2026-02-08,appstore,10,10\n" +
		"2026-02-10,2026-02-09,appstore,20,3"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLedger(NewCSVStore(path, nil), util.DiscardLogger())
	rows, err := l.Rows(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("Rows = %v, %v; want only the terminated row", rows, err)
	}

	if _, err := l.Append(ctx, []domain.DailyCount{count(t, "2026-02-09", domain.PlatformAppStore, 20)}, day(t, "2026-02-11")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	rows, err = l.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows after append: %v", err)
	}
	if got := cumulativeOf(rows, domain.PlatformAppStore); !equalInts(got, []int{10, 30}) {
		t.Errorf("cumulative = %v, want [10 30]", got)
	}
}

func TestCSVHeaderWithoutNewline(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	if err := os.WriteFile(path, []byte("ingestion_date,report_date,platform,daily_downloads,cumulative_total"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewCSVStore(path, util.DiscardLogger())
	if err := s.AppendRows(ctx, []domain.LedgerRow{{
		IngestionDate:   day(t, "2026-02-10"),
		ReportDate:      day(t, "2026-02-09"),
		Platform:        domain.PlatformGooglePlay,
		DailyDownloads:  7,
		CumulativeTotal: 7,
	}}); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	rows, err := s.LoadRows(ctx)
	if err != nil || len(rows) != 1 || rows[0].CumulativeTotal != 7 {
		t.Errorf("rows = %+v, err = %v", rows, err)
	}
}

func TestCSVMissingFile(t *testing.T) {
	s := NewCSVStore(filepath.Join(t.TempDir(), "none", "downloads.csv"), nil)
	rows, err := s.LoadRows(context.Background())
	if err != nil || rows != nil {
		t.Errorf("LoadRows on missing file = %v, %v", rows, err)
	}
}

func TestTotalsStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cumulative_totals.json")
	s := NewJSONTotalsStore(path, util.DiscardLogger())

	empty, err := s.LoadTotals(ctx)
	if err != nil || len(empty.Totals) != 0 {
		t.Fatalf("LoadTotals on missing file = %+v, %v", empty, err)
	}

	in := domain.NewCumulativeTotals()
	in.Totals[domain.PlatformAppStore] = 1100
	in.Totals[domain.PlatformGooglePlay] = 2000
	in.LastDates[domain.PlatformAppStore] = "Feb 10"
	in.LastUpdated = time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)
	if err := s.SaveTotals(ctx, in); err != nil {
		t.Fatalf("SaveTotals: %v", err)
	}

	data, _ := os.ReadFile(path)
	for _, key := range []string{`"apple": 1100`, `"google_play": 2000`, `"apple_last_date": "Feb 10"`, `"last_updated"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("cache file missing %s:\n%s", key, data)
		}
	}

	out, err := s.LoadTotals(ctx)
	if err != nil {
		t.Fatalf("LoadTotals: %v", err)
	}
	if out.Totals[domain.PlatformAppStore] != 1100 || out.Totals[domain.PlatformGooglePlay] != 2000 {
		t.Errorf("Totals = %v", out.Totals)
	}
	if out.LastDates[domain.PlatformAppStore] != "Feb 10" {
		t.Errorf("LastDates = %v", out.LastDates)
	}
	if !out.LastUpdated.Equal(in.LastUpdated) {
		t.Errorf("LastUpdated = %v, want %v", out.LastUpdated, in.LastUpdated)
	}
}

func TestTotalsStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cumulative_totals.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewJSONTotalsStore(path, util.DiscardLogger())
	out, err := s.LoadTotals(context.Background())
	if err != nil {
		t.Fatalf("LoadTotals on corrupt cache: %v", err)
	}
	if len(out.Totals) != 0 {
		t.Errorf("Totals = %v, want empty", out.Totals)
	}
}

func TestTotalsStoreIgnoresInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cumulative_totals.json")
	if err := os.WriteFile(path, []byte(`{"apple": -3, "google_play": "lots", "huawei": 12}`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := NewJSONTotalsStore(path, util.DiscardLogger()).LoadTotals(context.Background())
	if err != nil {
		t.Fatalf("LoadTotals: %v", err)
	}
	if len(out.Totals) != 1 || out.Totals[domain.PlatformHuawei] != 12 {
		t.Errorf("Totals = %v, want only huawei:12", out.Totals)
	}
}
