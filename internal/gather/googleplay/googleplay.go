// Package googleplay reads daily install counts from the monthly Play Console
// reports exported to Google Cloud Storage.
package googleplay

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"google.golang.org/api/option"

	"downloadreport/internal/domain"
	"downloadreport/internal/gather"
	"downloadreport/internal/util"
)

// fallbackDays is how many days back FetchReport searches. Play Console
// installs lag by about five days.
const fallbackDays = 7

// installsColumn is the report column counted as daily downloads.
const installsColumn = "Daily User Installs"

// Compile-time interface checks.
var (
	_ gather.StoreClient   = (*Client)(nil)
	_ gather.RecentFetcher = (*Client)(nil)
	_ gather.DayFetcher    = (*Client)(nil)
)

// ObjectReader downloads a whole object. Missing objects are reported as
// gather.ErrNotAvailable.
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, object string) ([]byte, error)
}

// GCSReader is an ObjectReader backed by Cloud Storage.
type GCSReader struct {
	client *storage.Client
}

// NewGCSReader creates a GCSReader. With an empty credentialsFile the
// application default credentials are used.
func NewGCSReader(ctx context.Context, credentialsFile string) (*GCSReader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSReader{client: client}, nil
}

// ReadObject implements ObjectReader.
func (r *GCSReader) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := r.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", gather.ErrNotAvailable, bucket, object)
	}
	if err != nil {
		return nil, fmt.Errorf("opening gs://%s/%s: %w", bucket, object, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Close releases the storage client.
func (r *GCSReader) Close() error { return r.client.Close() }

// Client looks up days in the monthly installs overview report.
type Client struct {
	packageName string
	bucket      string
	objects     ObjectReader
	policy      util.RetryPolicy
	log         *slog.Logger
}

// New creates a Client reading reports for packageName from bucket.
func New(packageName, bucket string, objects ObjectReader, policy util.RetryPolicy, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		packageName: packageName,
		bucket:      bucket,
		objects:     objects,
		policy:      policy,
		log:         log.With("store", string(domain.PlatformGooglePlay)),
	}
}

// Platform implements gather.StoreClient.
func (c *Client) Platform() domain.Platform { return domain.PlatformGooglePlay }

// FetchReport returns the latest day with data among target and the six days
// before it.
func (c *Client) FetchReport(ctx context.Context, target time.Time) domain.StoreResult {
	months := make(MonthCache)
	for back := 0; back < fallbackDays; back++ {
		day := domain.Day(target).AddDate(0, 0, -back)
		n, ok, err := c.lookup(ctx, months, day)
		if err != nil {
			c.log.Error("fetch failed", "report_date", day.Format(domain.DateLayout), "error", err)
			return gather.Failure(c.Platform(), err)
		}
		if ok {
			return gather.Available(c.Platform(), day, n)
		}
	}
	c.log.Warn("no data for target or preceding days", "target", target.Format(domain.DateLayout))
	return gather.Delayed(c.Platform(), target)
}

// FetchRecent implements gather.RecentFetcher. Days without data are
// omitted.
func (c *Client) FetchRecent(ctx context.Context, end time.Time, days int) ([]domain.DailyCount, error) {
	months := make(MonthCache)
	var out []domain.DailyCount
	for back := days - 1; back >= 0; back-- {
		day := domain.Day(end).AddDate(0, 0, -back)
		n, ok, err := c.lookup(ctx, months, day)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, domain.DailyCount{ReportDate: day, Platform: c.Platform(), DailyDownloads: n})
		}
	}
	return out, nil
}

// FetchDay implements gather.DayFetcher.
func (c *Client) FetchDay(ctx context.Context, day time.Time) (int, bool, error) {
	return c.lookup(ctx, make(MonthCache), domain.Day(day))
}

// ObjectName returns the report object holding month's data.
func (c *Client) ObjectName(month time.Time) string {
	return fmt.Sprintf("stats/installs/installs_%s_%s_overview.csv", c.packageName, month.Format("200601"))
}

// MonthCache holds parsed monthly reports by YYYYMM; a nil entry marks a
// month whose report does not exist. Callers that look up many days, such as
// a backfill, share one across calls.
type MonthCache map[string]map[string]int

// LookupCached is FetchDay with a caller-owned month cache.
func (c *Client) LookupCached(ctx context.Context, months MonthCache, day time.Time) (int, bool, error) {
	return c.lookup(ctx, months, domain.Day(day))
}

// CachedDays is a gather.DayFetcher that keeps every monthly report it
// reads, for callers that walk many consecutive days.
type CachedDays struct {
	client *Client
	months MonthCache
}

// Cached returns a day fetcher sharing one month cache across calls.
func (c *Client) Cached() *CachedDays {
	return &CachedDays{client: c, months: make(MonthCache)}
}

// FetchDay implements gather.DayFetcher.
func (d *CachedDays) FetchDay(ctx context.Context, day time.Time) (int, bool, error) {
	return d.client.LookupCached(ctx, d.months, day)
}

func (c *Client) lookup(ctx context.Context, months MonthCache, day time.Time) (int, bool, error) {
	key := day.Format("200601")
	daily, cached := months[key]
	if !cached {
		var err error
		daily, err = c.loadMonth(ctx, day)
		if err != nil && !errors.Is(err, gather.ErrNotAvailable) {
			return 0, false, err
		}
		if err != nil {
			c.log.Warn("monthly report not found", "object", c.ObjectName(day))
		}
		months[key] = daily
	}
	n, ok := daily[day.Format(domain.DateLayout)]
	return n, ok, nil
}

func (c *Client) loadMonth(ctx context.Context, month time.Time) (map[string]int, error) {
	object := c.ObjectName(month)
	var data []byte
	err := util.Retry(ctx, c.policy, c.log, func() error {
		var err error
		data, err = c.objects.ReadObject(ctx, c.bucket, object)
		if errors.Is(err, gather.ErrNotAvailable) {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	daily, err := ParseInstalls(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", object, err)
	}
	return daily, nil
}

// ParseInstalls decodes a Play Console installs overview report and returns
// Daily User Installs by YYYY-MM-DD date. The export is UTF-16 with a byte
// order mark; UTF-8 input is accepted as well. Rows whose value is not a
// number are skipped.
func ParseInstalls(data []byte) (map[string]int, error) {
	dec := unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder())
	if !hasBOM(data) {
		dec = unicode.UTF8.NewDecoder()
	}
	r := csv.NewReader(transform.NewReader(bytes.NewReader(data), dec))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	dateCol, valueCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "Date":
			dateCol = i
		case installsColumn:
			valueCol = i
		}
	}
	if dateCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("missing Date or %q column", installsColumn)
	}

	out := make(map[string]int)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if dateCol >= len(rec) || valueCol >= len(rec) {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(rec[valueCol]), ",", ""))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(rec[dateCol])] = n
	}
	return out, nil
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF}) ||
		bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
