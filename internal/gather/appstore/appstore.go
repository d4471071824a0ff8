// Package appstore fetches daily download counts from the App Store Connect
// sales reports API.
package appstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/ecdsa"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"downloadreport/internal/domain"
	"downloadreport/internal/gather"
	"downloadreport/internal/util"
)

// DefaultBaseURL is the App Store Connect API root.
const DefaultBaseURL = "https://api.appstoreconnect.apple.com"

// fallbackDays is how many days before the target are tried when the
// target's report is not published yet.
const fallbackDays = 2

// downloadProductTypes are the product type identifiers that count as new
// downloads: 1 (paid) and 1F (free) iPhone/Universal apps. iPad-only (3, 3F),
// volume purchase (1-B) and update (7, 7F, 7T) rows are excluded.
var downloadProductTypes = map[string]bool{"1": true, "1F": true}

// Compile-time interface checks.
var (
	_ gather.StoreClient = (*Client)(nil)
	_ gather.DayFetcher  = (*Client)(nil)
)

// Config holds App Store Connect API credentials.
type Config struct {
	IssuerID     string
	KeyID        string
	PrivateKey   string // PEM, PKCS#8 (.p8) or SEC 1
	VendorNumber string
	AppSKU       string
	BaseURL      string
}

// Client reads SALES/SUMMARY/DAILY reports and sums the units of the
// configured SKU.
type Client struct {
	cfg        Config
	key        *ecdsa.PrivateKey
	httpClient *http.Client
	policy     util.RetryPolicy
	now        func() time.Time
	log        *slog.Logger
}

// New creates a Client. It fails if the private key cannot be parsed.
func New(cfg Config, policy util.RetryPolicy, log *slog.Logger) (*Client, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing App Store Connect private key: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		key:        key,
		httpClient: gather.NewHTTPClient(),
		policy:     policy,
		now:        time.Now,
		log:        log.With("store", string(domain.PlatformAppStore)),
	}, nil
}

// Platform implements gather.StoreClient.
func (c *Client) Platform() domain.Platform { return domain.PlatformAppStore }

// FetchReport tries target, then up to two earlier days, returning the first
// published report. When none is published the result carries a delayed
// label for target.
func (c *Client) FetchReport(ctx context.Context, target time.Time) domain.StoreResult {
	for back := 0; back <= fallbackDays; back++ {
		day := domain.Day(target).AddDate(0, 0, -back)
		n, ok, err := c.FetchDay(ctx, day)
		if err != nil {
			c.log.Error("fetch failed", "report_date", day.Format(domain.DateLayout), "error", err)
			return gather.Failure(c.Platform(), err)
		}
		if ok {
			return gather.Available(c.Platform(), day, n)
		}
		c.log.Info("report not available, trying earlier date", "report_date", day.Format(domain.DateLayout))
	}
	return gather.Delayed(c.Platform(), target)
}

// FetchDay implements gather.DayFetcher.
func (c *Client) FetchDay(ctx context.Context, day time.Time) (int, bool, error) {
	data, err := c.fetchSalesReport(ctx, day)
	if errors.Is(err, gather.ErrNotAvailable) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := c.parseReport(data)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// token signs a short-lived ES256 API token.
func (c *Client) token() (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"iss": c.cfg.IssuerID,
		"iat": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"aud": "appstoreconnect-v1",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = c.cfg.KeyID
	return tok.SignedString(c.key)
}

func (c *Client) fetchSalesReport(ctx context.Context, day time.Time) ([]byte, error) {
	q := url.Values{}
	q.Set("filter[reportType]", "SALES")
	q.Set("filter[reportSubType]", "SUMMARY")
	q.Set("filter[frequency]", "DAILY")
	q.Set("filter[reportDate]", day.Format(domain.DateLayout))
	q.Set("filter[vendorNumber]", c.cfg.VendorNumber)
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/salesReports?" + q.Encode()

	var body []byte
	err := util.Retry(ctx, c.policy, c.log, func() error {
		tok, err := c.token()
		if err != nil {
			return util.Permanent(fmt.Errorf("signing token: %w", err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return util.Permanent(fmt.Errorf("build sales report request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", "application/a-gzip")

		res, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sales report request failed: %w", err)
		}
		defer res.Body.Close()
		if err := gather.CheckResponse(res); err != nil {
			return err
		}
		body, err = io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("read sales report: %w", err)
		}
		return nil
	})
	return body, err
}

// parseReport sums the Units of the configured SKU's download rows. The
// report is a gzip-compressed, tab-separated file.
func (c *Client) parseReport(data []byte) (int, error) {
	var r io.Reader = bytes.NewReader(data)
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return 0, fmt.Errorf("opening gzip report: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("reading report header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range []string{"SKU", "Product Type Identifier", "Units"} {
		if _, ok := col[name]; !ok {
			return 0, fmt.Errorf("report missing column %q", name)
		}
	}

	field := func(rec []string, name string) string {
		if i := col[name]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	total := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading report: %w", err)
		}
		if field(rec, "SKU") != c.cfg.AppSKU {
			continue
		}
		pt := field(rec, "Product Type Identifier")
		if !downloadProductTypes[pt] {
			c.log.Debug("skipping non-download row", "product_type", pt, "units", field(rec, "Units"))
			continue
		}
		units, err := strconv.Atoi(field(rec, "Units"))
		if err != nil {
			c.log.Warn("skipping row with invalid units", "units", field(rec, "Units"))
			continue
		}
		total += units
	}
	c.log.Info("parsed sales report", "sku", c.cfg.AppSKU, "units", total)
	return total, nil
}
