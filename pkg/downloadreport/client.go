// Package downloadreport is a Go client for the download dashboard HTTP API.
package downloadreport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Client provides a Go SDK for the dashboard server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new dashboard API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Row is one ledger row.
type Row struct {
	ReportDate    string `json:"reportDate"`
	IngestionDate string `json:"ingestionDate"`
	Platform      string `json:"platform"`
	Name          string `json:"name"`
	Daily         int    `json:"daily"`
	Total         int    `json:"total"`
}

// Latest is the latest row of every platform.
type Latest struct {
	Version    uint64 `json:"version"`
	UpdatedAt  string `json:"updatedAt"`
	Latest     []Row  `json:"latest"`
	GrandTotal int    `json:"grandTotal"`
}

// Card is one headline card.
type Card struct {
	Platform  string `json:"platform"`
	Name      string `json:"name"`
	Daily     int    `json:"daily"`
	Delta     *int   `json:"delta"`
	DeltaText string `json:"deltaText"`
	Total     int    `json:"total"`
	TotalText string `json:"totalText"`
}

// Hero holds the headline numbers of the latest day.
type Hero struct {
	LatestDate string  `json:"latestDate"`
	Cards      []Card  `json:"cards"`
	Combined   Card    `json:"combined"`
	Avg7       float64 `json:"avg7"`
	Avg30      float64 `json:"avg30"`
	Avg7Text   string  `json:"avg7Text"`
	Avg30Text  string  `json:"avg30Text"`
	VsAvg7     float64 `json:"vsAvg7"`
	BestDay    int     `json:"bestDay"`
}

// RowsQuery narrows GetRows. Empty fields are open.
type RowsQuery struct {
	Start    string // YYYY-MM-DD
	End      string // YYYY-MM-DD
	Platform string
	Limit    int
}

// APIError is a non-200 response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dashboard API status %d: %s", e.StatusCode, e.Message)
}

// GetLatest retrieves the latest row per platform.
func (c *Client) GetLatest(ctx context.Context) (*Latest, error) {
	var out Latest
	if err := c.get(ctx, "/api/latest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHero retrieves the headline numbers.
func (c *Client) GetHero(ctx context.Context) (*Hero, error) {
	var out Hero
	if err := c.get(ctx, "/api/hero", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRows retrieves ledger rows newest first.
func (c *Client) GetRows(ctx context.Context, q RowsQuery) ([]Row, error) {
	params := url.Values{}
	if q.Start != "" {
		params.Set("start", q.Start)
	}
	if q.End != "" {
		params.Set("end", q.End)
	}
	if q.Platform != "" {
		params.Set("platform", q.Platform)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var out struct {
		Rows []Row `json:"rows"`
	}
	if err := c.get(ctx, "/api/rows", params, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, v any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: res.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
