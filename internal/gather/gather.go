// Package gather defines the store-client capability interfaces and the
// helpers shared by the per-store implementations.
package gather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"downloadreport/internal/domain"
	"downloadreport/internal/util"
)

// ErrNotAvailable is returned when upstream has no report for a day yet
// (weekends, holidays, publication delay). It is never retried.
var ErrNotAvailable = errors.New("report not available yet")

// StoreClient fetches one platform's daily downloads.
type StoreClient interface {
	// Platform returns the platform this client reports for.
	Platform() domain.Platform
	// FetchReport returns the downloads of the latest available day at or
	// before target. It never returns an error: failures are reported in
	// StoreResult.Error and expected absence as a result without data.
	FetchReport(ctx context.Context, target time.Time) domain.StoreResult
}

// RecentFetcher is implemented by clients whose upstream rewrites past days.
type RecentFetcher interface {
	// FetchRecent returns every day with data in the window of days ending
	// at end, inclusive.
	FetchRecent(ctx context.Context, end time.Time, days int) ([]domain.DailyCount, error)
}

// DayFetcher fetches exactly one day without any fallback to earlier days.
type DayFetcher interface {
	// FetchDay returns the downloads for day. ok is false when upstream has
	// no report for that day.
	FetchDay(ctx context.Context, day time.Time) (downloads int, ok bool, err error)
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns every day in the range in ascending order.
func (r DateRange) Days() []time.Time {
	var out []time.Time
	for d := domain.Day(r.Start); !d.After(domain.Day(r.End)); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// ---------------------------------------------------------------------------
// Result constructors
// ---------------------------------------------------------------------------

// Available builds a result carrying downloads for day.
func Available(p domain.Platform, day time.Time, downloads int) domain.StoreResult {
	day = domain.Day(day)
	return domain.StoreResult{
		Platform:       p,
		DailyDownloads: domain.IntPtr(downloads),
		DataDate:       day,
		DateLabel:      domain.Label(day),
	}
}

// Delayed builds the expected-absence result for target.
func Delayed(p domain.Platform, target time.Time) domain.StoreResult {
	return domain.StoreResult{Platform: p, DateLabel: domain.DelayedLabel(target)}
}

// Failure builds an error result.
func Failure(p domain.Platform, err error) domain.StoreResult {
	return domain.StoreResult{Platform: p, Error: err.Error()}
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// CheckResponse returns nil for a 2xx response. Otherwise it drains a
// bounded prefix of the body and classifies the failure for util.Retry: 5xx
// and 429 stay retryable, 404 becomes a permanent ErrNotAvailable, and any
// other status is permanent.
func CheckResponse(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	serr := &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}

	switch {
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return serr
	case res.StatusCode == http.StatusNotFound:
		return util.Permanent(fmt.Errorf("%w: %v", ErrNotAvailable, serr))
	default:
		return util.Permanent(serr)
	}
}

// NewHTTPClient returns the client used for store APIs.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
