package domain

import (
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Zero-value StoreResult means "no data yet".
	r := StoreResult{}
	if r.HasData() || r.Failed() {
		t.Error("zero-value StoreResult should have neither data nor error")
	}

	r = StoreResult{Platform: PlatformAppStore, DailyDownloads: IntPtr(12)}
	if !r.HasData() {
		t.Error("expected HasData for result with daily downloads")
	}

	row := LedgerRow{}
	if !row.ReportDate.IsZero() || row.CumulativeTotal != 0 {
		t.Error("expected zero values for zero-value LedgerRow")
	}

	if PlatformAppStore != "appstore" || PlatformGooglePlay != "googleplay" {
		t.Error("Platform constants have unexpected values")
	}
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" GooglePlay ")
	if err != nil {
		t.Fatalf("ParsePlatform: %v", err)
	}
	if p != PlatformGooglePlay {
		t.Errorf("ParsePlatform = %q, want %q", p, PlatformGooglePlay)
	}
	if _, err := ParsePlatform("amazon"); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestPlatformNames(t *testing.T) {
	if got := PlatformAppStore.DisplayName(); got != "App Store" {
		t.Errorf("DisplayName = %q, want %q", got, "App Store")
	}
	if got := PlatformGooglePlay.CacheKey(); got != "google_play" {
		t.Errorf("CacheKey = %q, want %q", got, "google_play")
	}
	if PlatformAppStore.Order() >= PlatformGooglePlay.Order() {
		t.Error("App Store should sort before Google Play")
	}
}

func TestRowKeyAndLabels(t *testing.T) {
	d := time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC)
	row := LedgerRow{ReportDate: d, Platform: PlatformGooglePlay}
	if k := row.Key(); k.ReportDate != "2025-02-08" || k.Platform != PlatformGooglePlay {
		t.Errorf("Key = %+v", k)
	}
	if got := Label(d); got != "Feb 08" {
		t.Errorf("Label = %q, want %q", got, "Feb 08")
	}
	if got := DelayedLabel(d); got != "Feb 08 (delayed)" {
		t.Errorf("DelayedLabel = %q", got)
	}
}

func TestCumulativeTotalsClone(t *testing.T) {
	c := NewCumulativeTotals()
	c.Totals[PlatformAppStore] = 10
	c.LastDates[PlatformAppStore] = "Feb 14"

	cp := c.Clone()
	cp.Totals[PlatformAppStore] = 99
	cp.LastDates[PlatformAppStore] = "Feb 15"

	if c.Totals[PlatformAppStore] != 10 || c.LastDates[PlatformAppStore] != "Feb 14" {
		t.Error("Clone should not share maps with the original")
	}
}
