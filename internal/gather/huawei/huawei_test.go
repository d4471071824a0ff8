package huawei

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"downloadreport/internal/util"
)

var fastPolicy = util.RetryPolicy{Name: "test", MaxRetries: 2, BaseDelay: time.Millisecond, Multiplier: 2}

const exportCSV = "\xEF\xBB\xBFDate,Impressions,New downloads,Updates\n" +
	"20260209,500,12,3\n" +
	"20260210,620,17,4\n"

type fakeAGC struct {
	srv         *httptest.Server
	tokenCalls  atomic.Int32
	exportCalls atomic.Int32
	retCode     int
	noFile      bool
}

func newFakeAGC(t *testing.T) *fakeAGC {
	t.Helper()
	f := &fakeAGC{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/oauth2/v1/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["grant_type"] != "client_credentials" || body["client_secret"] != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	})
	mux.HandleFunc("/api/report/distribution-operation-quality/v1/appDownloadExport/1077", func(w http.ResponseWriter, r *http.Request) {
		f.exportCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok-1" || r.Header.Get("client_id") != "cid" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("startTime") != q.Get("endTime") || q.Get("language") != "en-US" {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		resp := map[string]any{"ret": map[string]any{"code": f.retCode, "msg": "msg"}}
		if !f.noFile {
			resp["fileURL"] = f.srv.URL + "/files/export.csv"
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/files/export.csv", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			http.Error(w, "file URLs are pre-signed", http.StatusBadRequest)
			return
		}
		w.Write([]byte(exportCSV))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAGC) client() *Client {
	return New(Config{ClientID: "cid", ClientSecret: "secret", AppID: "1077", BaseURL: f.srv.URL}, fastPolicy, util.DiscardLogger())
}

func TestFetchReport(t *testing.T) {
	f := newFakeAGC(t)
	c := f.client()

	res := c.FetchReport(context.Background(), time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	if res.Failed() {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if !res.HasData() || *res.DailyDownloads != 17 {
		t.Fatalf("DailyDownloads = %v, want 17", res.DailyDownloads)
	}
	if res.DateLabel != "Feb 10" {
		t.Errorf("DateLabel = %q", res.DateLabel)
	}

	// A second fetch reuses the token.
	c.FetchReport(context.Background(), time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC))
	if f.tokenCalls.Load() != 1 {
		t.Errorf("token calls = %d, want 1", f.tokenCalls.Load())
	}
}

func TestFetchReportMissingDay(t *testing.T) {
	f := newFakeAGC(t)
	res := f.client().FetchReport(context.Background(), time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC))
	if res.Failed() || res.HasData() {
		t.Fatalf("want absent result, got %+v", res)
	}
	if res.DateLabel != "Feb 11 (delayed)" {
		t.Errorf("DateLabel = %q", res.DateLabel)
	}
}

func TestFetchReportNoFile(t *testing.T) {
	f := newFakeAGC(t)
	f.noFile = true
	res := f.client().FetchReport(context.Background(), time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	if res.Failed() || res.HasData() {
		t.Fatalf("want absent result, got %+v", res)
	}
}

func TestFetchReportAPIError(t *testing.T) {
	f := newFakeAGC(t)
	f.retCode = 204144660
	res := f.client().FetchReport(context.Background(), time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	if !res.Failed() || !strings.Contains(res.Error, "204144660") {
		t.Fatalf("want API error result, got %+v", res)
	}
	if f.exportCalls.Load() != 1 {
		t.Errorf("export calls = %d, want 1 (API errors are permanent)", f.exportCalls.Load())
	}
}

func TestFetchReportBadCredentials(t *testing.T) {
	f := newFakeAGC(t)
	c := New(Config{ClientID: "cid", ClientSecret: "wrong", AppID: "1077", BaseURL: f.srv.URL}, fastPolicy, util.DiscardLogger())
	res := c.FetchReport(context.Background(), time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	if !res.Failed() {
		t.Fatalf("want error result, got %+v", res)
	}
	if f.exportCalls.Load() != 0 {
		t.Errorf("export endpoint reached without a token")
	}
}

func TestParseExport(t *testing.T) {
	day := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	n, ok, err := ParseExport([]byte(exportCSV), day)
	if err != nil || !ok || n != 12 {
		t.Errorf("ParseExport = %d, %v, %v; want 12, true, nil", n, ok, err)
	}
	if _, ok, err := ParseExport(nil, day); ok || err != nil {
		t.Errorf("empty export = %v, %v", ok, err)
	}
	if _, _, err := ParseExport([]byte("Day,Count\n"), day); err == nil {
		t.Error("want error for export without expected columns")
	}
}
