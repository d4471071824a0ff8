package dashboard

import (
	"math"
	"testing"
	"time"

	"downloadreport/internal/domain"
)

func row(date string, p domain.Platform, daily, cum int) domain.LedgerRow {
	d, _ := time.Parse(domain.DateLayout, date)
	return domain.LedgerRow{IngestionDate: d.AddDate(0, 0, 1), ReportDate: d, Platform: p, DailyDownloads: daily, CumulativeTotal: cum}
}

func sampleRows() []domain.LedgerRow {
	as, gp := domain.PlatformAppStore, domain.PlatformGooglePlay
	return []domain.LedgerRow{
		row("2026-02-08", as, 10, 110),
		row("2026-02-09", as, 20, 130),
		row("2026-02-09", gp, 5, 1005),
		row("2026-02-10", gp, 15, 1020),
		row("2026-02-10", as, 30, 160),
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestComputeHero(t *testing.T) {
	h := ComputeHero(sampleRows(), []domain.Platform{domain.PlatformAppStore, domain.PlatformGooglePlay})

	if h.LatestDate.Format(domain.DateLayout) != "2026-02-10" {
		t.Errorf("latest = %s", h.LatestDate.Format(domain.DateLayout))
	}
	if len(h.Cards) != 2 {
		t.Fatalf("cards = %d, want 2", len(h.Cards))
	}
	as := h.Cards[0]
	if as.Daily != 30 || as.Total != 160 || as.Delta == nil || *as.Delta != 10 {
		t.Errorf("app store card = %+v", as)
	}
	if h.Combined.Daily != 45 || h.Combined.Total != 1180 || *h.Combined.Delta != 20 {
		t.Errorf("combined = %+v", h.Combined)
	}
	if !near(h.Avg7, 80.0/3) || !near(h.Avg30, 80.0/3) {
		t.Errorf("averages = %v %v", h.Avg7, h.Avg30)
	}
	if !near(h.VsAvg7, 45/(80.0/3)-1) {
		t.Errorf("vs avg = %v", h.VsAvg7)
	}
	if h.BestDay != 45 {
		t.Errorf("best day = %d, want 45", h.BestDay)
	}
}

func TestComputeHeroNoPreviousDay(t *testing.T) {
	rows := []domain.LedgerRow{row("2026-02-10", domain.PlatformHuawei, 7, 7)}
	h := ComputeHero(rows, []domain.Platform{domain.PlatformHuawei})
	if h.Cards[0].Delta != nil {
		t.Errorf("delta = %d, want none without a previous day", *h.Cards[0].Delta)
	}
	if empty := ComputeHero(nil, domain.Platforms); len(empty.Cards) != 0 || !empty.LatestDate.IsZero() {
		t.Errorf("empty hero = %+v", empty)
	}
}

func TestDailySeries(t *testing.T) {
	pts := DailySeries(sampleRows())
	if len(pts) != 3 {
		t.Fatalf("points = %d, want 3", len(pts))
	}
	last := pts[2]
	if last.Combined != 45 || last.ByPlatform[domain.PlatformGooglePlay] != 15 {
		t.Errorf("last point = %+v", last)
	}
	if pts[0].Date.Format(domain.DateLayout) != "2026-02-08" {
		t.Errorf("series not oldest first: %v", pts[0].Date)
	}
}

func TestGrowth(t *testing.T) {
	series := Growth(sampleRows())
	if len(series) != 2 || series[0].Platform != domain.PlatformAppStore {
		t.Fatalf("series = %+v", series)
	}
	var got []float64
	for _, p := range series[0].Points {
		got = append(got, p.Value)
	}
	if len(got) != 3 || got[0] != 110 || got[2] != 160 {
		t.Errorf("app store growth = %v", got)
	}
}

func TestTrend(t *testing.T) {
	series := Trend(sampleRows())
	if len(series) != 3 {
		t.Fatalf("series = %d, want 2 platforms + combined", len(series))
	}
	combined := series[2]
	if combined.Platform != "" {
		t.Errorf("combined series platform = %q", combined.Platform)
	}
	want := []float64{10, 17.5, 80.0 / 3}
	for i, p := range combined.Points {
		if !near(p.Value, want[i]) {
			t.Errorf("combined[%d] = %v, want %v", i, p.Value, want[i])
		}
	}
}

func TestMovingAverageWindow(t *testing.T) {
	var days []DayTotal
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 9; i++ {
		days = append(days, DayTotal{Date: start.AddDate(0, 0, i), Downloads: i + 1})
	}
	pts := movingAverage(days, 7)
	if !near(pts[0].Value, 1) || !near(pts[8].Value, 6) {
		t.Errorf("ma = %v .. %v, want 1 .. 6", pts[0].Value, pts[8].Value)
	}
}

func TestSplit(t *testing.T) {
	shares, grand := Split(sampleRows())
	if grand != 80 {
		t.Errorf("grand = %d, want 80", grand)
	}
	if len(shares) != 2 || !near(shares[0].Fraction, 0.75) || shares[1].Downloads != 20 {
		t.Errorf("shares = %+v", shares)
	}
	if s, g := Split(nil); len(s) != 0 || g != 0 {
		t.Errorf("empty split = %v %d", s, g)
	}
}

func TestTableNewestFirst(t *testing.T) {
	tbl := Table(sampleRows())
	if tbl[0].ReportDate.Format(domain.DateLayout) != "2026-02-10" || tbl[0].Platform != domain.PlatformAppStore {
		t.Errorf("first row = %+v", tbl[0])
	}
	if tbl[1].Platform != domain.PlatformGooglePlay {
		t.Errorf("second row platform = %s", tbl[1].Platform)
	}
	if tbl[len(tbl)-1].ReportDate.Format(domain.DateLayout) != "2026-02-08" {
		t.Errorf("last row = %+v", tbl[len(tbl)-1])
	}
}

func TestFilter(t *testing.T) {
	f, err := ParseFilter("2026-02-10", "", "googleplay")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	got := f.Apply(sampleRows())
	if len(got) != 1 || got[0].DailyDownloads != 15 {
		t.Errorf("filtered = %+v", got)
	}

	all, err := ParseFilter("", "2026-02-09", "all")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if got := all.Apply(sampleRows()); len(got) != 3 {
		t.Errorf("rows up to Feb 09 = %d, want 3", len(got))
	}

	if _, err := ParseFilter("2026-02-10", "2026-02-01", ""); err == nil {
		t.Error("inverted range should fail")
	}
	if _, err := ParseFilter("", "", "windows"); err == nil {
		t.Error("unknown platform should fail")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct{ got, want string }{
		{FormatInt(1234567), "1,234,567"},
		{FormatInt(-1200), "-1,200"},
		{FormatInt(999), "999"},
		{FormatDelta(12), "+12"},
		{FormatDelta(-3), "-3"},
		{FormatAverage(26.666), "26.7"},
		{FormatShare(0.75), "75.0%"},
		{FormatShare(0), "-"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
