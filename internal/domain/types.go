// Package domain defines the core types shared by the store clients, the
// history ledger, the reconciliation engine and the dashboard.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the on-disk layout for every calendar date in the ledger.
const DateLayout = "2006-01-02"

// LabelLayout is the short human label used in reports ("Feb 14").
const LabelLayout = "Jan 02"

// ---------------------------------------------------------------------------
// Platform
// ---------------------------------------------------------------------------

// Platform identifies an app store. The value is the lowercase token stored
// in the ledger's platform column.
type Platform string

const (
	PlatformAppStore   Platform = "appstore"
	PlatformGooglePlay Platform = "googleplay"
	PlatformHuawei     Platform = "huawei"
)

// Platforms lists every known platform in report order.
var Platforms = []Platform{PlatformAppStore, PlatformGooglePlay, PlatformHuawei}

// ParsePlatform converts a ledger token into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// DisplayName returns the store name shown in reports and the dashboard.
func (p Platform) DisplayName() string {
	switch p {
	case PlatformAppStore:
		return "App Store"
	case PlatformGooglePlay:
		return "Google Play"
	case PlatformHuawei:
		return "Huawei AppGallery"
	default:
		return string(p)
	}
}

// CacheKey returns the key used for the platform in the cumulative-totals
// cache file. The names predate the ledger tokens and are kept for
// compatibility with existing cache files.
func (p Platform) CacheKey() string {
	switch p {
	case PlatformAppStore:
		return "apple"
	case PlatformGooglePlay:
		return "google_play"
	default:
		return string(p)
	}
}

// Order returns the platform's position in report order.
func (p Platform) Order() int {
	for i, known := range Platforms {
		if p == known {
			return i
		}
	}
	return len(Platforms)
}

// ---------------------------------------------------------------------------
// Store results
// ---------------------------------------------------------------------------

// StoreResult is what a store client returns for a target date. A result
// carries either DailyDownloads or Error; both absent means the upstream has
// no data yet (DateLabel then typically reads "Feb 14 (delayed)").
type StoreResult struct {
	Platform       Platform
	DailyDownloads *int
	// DataDate is the fully qualified day the downloads belong to. Zero when
	// no data was found.
	DataDate time.Time
	// DateLabel is the display label for DataDate, e.g. "Feb 14".
	DateLabel string
	// TotalDownloads is filled in by the engine from the running totals.
	TotalDownloads *int
	Error          string
}

// HasData reports whether the result carries a daily download count.
func (r StoreResult) HasData() bool { return r.DailyDownloads != nil }

// Failed reports whether the client gave up with an error.
func (r StoreResult) Failed() bool { return r.Error != "" }

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// Label formats t as a short report label.
func Label(t time.Time) string { return t.Format(LabelLayout) }

// DelayedLabel is the label used when no data is available for t yet.
func DelayedLabel(t time.Time) string { return Label(t) + " (delayed)" }

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

// DailyCount is one platform's downloads for one report day. It is the input
// of both ledger appends and retroactive corrections.
type DailyCount struct {
	ReportDate     time.Time
	Platform       Platform
	DailyDownloads int
}

// LedgerRow is one persisted history row. (ReportDate, Platform) is the
// identity key and CumulativeTotal is a running prefix sum per platform.
type LedgerRow struct {
	IngestionDate   time.Time
	ReportDate      time.Time
	Platform        Platform
	DailyDownloads  int
	CumulativeTotal int
}

// Key returns the row's identity key.
func (r LedgerRow) Key() RowKey {
	return RowKey{ReportDate: r.ReportDate.Format(DateLayout), Platform: r.Platform}
}

// RowKey identifies a ledger row.
type RowKey struct {
	ReportDate string // YYYY-MM-DD
	Platform   Platform
}

// Day truncates t to a calendar date in UTC, keeping its wall-clock date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// Cumulative totals
// ---------------------------------------------------------------------------

// CumulativeTotals is the running total per platform plus the label of the
// last day that was counted into it. It is a cache; the ledger is the source
// of truth.
type CumulativeTotals struct {
	Totals      map[Platform]int
	LastDates   map[Platform]string
	LastUpdated time.Time
}

// NewCumulativeTotals returns empty totals.
func NewCumulativeTotals() CumulativeTotals {
	return CumulativeTotals{
		Totals:    make(map[Platform]int),
		LastDates: make(map[Platform]string),
	}
}

// Clone returns a deep copy.
func (c CumulativeTotals) Clone() CumulativeTotals {
	out := NewCumulativeTotals()
	for k, v := range c.Totals {
		out.Totals[k] = v
	}
	for k, v := range c.LastDates {
		out.LastDates[k] = v
	}
	out.LastUpdated = c.LastUpdated
	return out
}
