// Package huawei fetches daily download counts from the AppGallery Connect
// report API.
package huawei

import (
	"bytes"
	"context"
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

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"downloadreport/internal/domain"
	"downloadreport/internal/gather"
	"downloadreport/internal/util"
)

// DefaultBaseURL is the AppGallery Connect API root.
const DefaultBaseURL = "https://connect-api.cloud.huawei.com"

const (
	tokenPath  = "/api/oauth2/v1/token"
	reportPath = "/api/report/distribution-operation-quality/v1/appDownloadExport/"
)

// Compile-time interface checks.
var (
	_ gather.StoreClient = (*Client)(nil)
	_ gather.DayFetcher  = (*Client)(nil)
)

// Config holds AppGallery Connect API credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	AppID        string
	BaseURL      string
}

// Client requests a one-day download export and reads the "New downloads"
// column of the exported CSV.
type Client struct {
	cfg Config
	// api carries the bearer token; plain fetches the token and the export.
	api    *http.Client
	plain  *http.Client
	policy util.RetryPolicy
	log    *slog.Logger
}

// New creates a Client. Tokens are fetched lazily and reused until expiry.
func New(cfg Config, policy util.RetryPolicy, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		plain:  gather.NewHTTPClient(),
		policy: policy,
		log:    log.With("store", string(domain.PlatformHuawei)),
	}
	src := oauth2.ReuseTokenSource(nil, &tokenSource{c: c})
	c.api = &http.Client{
		Timeout:   c.plain.Timeout,
		Transport: &oauth2.Transport{Source: src, Base: http.DefaultTransport},
	}
	return c
}

// Platform implements gather.StoreClient.
func (c *Client) Platform() domain.Platform { return domain.PlatformHuawei }

// FetchReport fetches target only; the export has no publication lag worth
// falling back over.
func (c *Client) FetchReport(ctx context.Context, target time.Time) domain.StoreResult {
	day := domain.Day(target)
	n, ok, err := c.FetchDay(ctx, day)
	if err != nil {
		c.log.Error("fetch failed", "report_date", day.Format(domain.DateLayout), "error", err)
		return gather.Failure(c.Platform(), err)
	}
	if !ok {
		c.log.Warn("no download data", "report_date", day.Format(domain.DateLayout))
		return gather.Delayed(c.Platform(), target)
	}
	return gather.Available(c.Platform(), day, n)
}

// FetchDay implements gather.DayFetcher.
func (c *Client) FetchDay(ctx context.Context, day time.Time) (int, bool, error) {
	var data []byte
	err := util.Retry(ctx, c.policy, c.log, func() error {
		var err error
		data, err = c.fetchExport(ctx, day)
		return err
	})
	if errors.Is(err, gather.ErrNotAvailable) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ParseExport(data, day)
}

type exportResponse struct {
	Ret struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"ret"`
	FileURL string `json:"fileURL"`
}

func (c *Client) fetchExport(ctx context.Context, day time.Time) ([]byte, error) {
	d := day.Format("20060102")
	q := url.Values{}
	q.Set("language", "en-US")
	q.Set("startTime", d)
	q.Set("endTime", d)
	u := c.cfg.BaseURL + reportPath + url.PathEscape(c.cfg.AppID) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("build export request: %w", err))
	}
	req.Header.Set("client_id", c.cfg.ClientID)

	res, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export request failed: %w", err)
	}
	defer res.Body.Close()
	if err := gather.CheckResponse(res); err != nil {
		return nil, err
	}

	var payload exportResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, util.Permanent(fmt.Errorf("decode export response: %w", err))
	}
	if payload.Ret.Code != 0 {
		return nil, util.Permanent(fmt.Errorf("export error %d: %s", payload.Ret.Code, payload.Ret.Msg))
	}
	if payload.FileURL == "" {
		return nil, util.Permanent(gather.ErrNotAvailable)
	}

	fileReq, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.FileURL, nil)
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("build export file request: %w", err))
	}
	fileRes, err := c.plain.Do(fileReq)
	if err != nil {
		return nil, fmt.Errorf("export file request failed: %w", err)
	}
	defer fileRes.Body.Close()
	if err := gather.CheckResponse(fileRes); err != nil {
		return nil, err
	}
	return io.ReadAll(fileRes.Body)
}

// ParseExport returns the "New downloads" value of day's row. The export is
// UTF-8 with a byte order mark and dates are YYYYMMDD. ok is false when the
// export has no row for day.
func ParseExport(data []byte, day time.Time) (int, bool, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return 0, false, nil
	}
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	r := csv.NewReader(transform.NewReader(bytes.NewReader(data), dec))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return 0, false, fmt.Errorf("reading export header: %w", err)
	}
	dateCol, valueCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "Date":
			dateCol = i
		case "New downloads":
			valueCol = i
		}
	}
	if dateCol < 0 || valueCol < 0 {
		return 0, false, errors.New("export missing Date or New downloads column")
	}

	want := day.Format("20060102")
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("reading export: %w", err)
		}
		if dateCol >= len(rec) || strings.TrimSpace(rec[dateCol]) != want {
			continue
		}
		if valueCol >= len(rec) {
			return 0, true, nil
		}
		n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(rec[valueCol]), ",", ""))
		if err != nil {
			// A present but unreadable value counts as no downloads.
			return 0, true, nil
		}
		return n, true, nil
	}
}

// ---------------------------------------------------------------------------
// Token source
// ---------------------------------------------------------------------------

// tokenSource performs the client-credentials exchange. AppGallery Connect
// takes a JSON body rather than the form encoding of
// golang.org/x/oauth2/clientcredentials.
type tokenSource struct {
	c *Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token implements oauth2.TokenSource.
func (s *tokenSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     s.c.cfg.ClientID,
		"client_secret": s.c.cfg.ClientSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.c.cfg.BaseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.c.plain.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer res.Body.Close()
	if err := gather.CheckResponse(res); err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}

	var payload tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	tok := &oauth2.Token{AccessToken: payload.AccessToken, TokenType: "Bearer"}
	if payload.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return tok, nil
}
