package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"downloadreport/internal/dashboard"
	"downloadreport/internal/domain"
	"downloadreport/internal/live"
)

// DashboardServer serves the dashboard HTTP API from a ledger snapshot.
type DashboardServer struct {
	model     *live.LedgerModel
	platforms []domain.Platform
	log       *slog.Logger

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	daily    *prometheus.GaugeVec
	total    *prometheus.GaugeVec
	version  prometheus.Gauge
}

// NewDashboardServer creates a dashboard server. platforms sets the order
// of the headline cards.
func NewDashboardServer(model *live.LedgerModel, platforms []domain.Platform, log *slog.Logger) *DashboardServer {
	if log == nil {
		log = slog.Default()
	}
	if len(platforms) == 0 {
		platforms = domain.Platforms
	}
	s := &DashboardServer{
		model:     model,
		platforms: platforms,
		log:       log.With("component", "httpapi"),
		registry:  prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "download_dashboard_requests_total",
			Help: "Dashboard API requests by route and status code",
		}, []string{"route", "code"}),
		daily: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "download_report_latest_daily_downloads",
			Help: "Daily downloads of the latest ledger day per platform",
		}, []string{"platform"}),
		total: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "download_report_cumulative_total",
			Help: "Latest cumulative download total per platform",
		}, []string{"platform"}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "download_report_ledger_version",
			Help: "Number of ledger snapshots loaded since start",
		}),
	}
	s.registry.MustRegister(s.requests, s.daily, s.total, s.version)
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *DashboardServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/hero", s.handleHero)
	mux.HandleFunc("GET /api/latest", s.handleLatest)
	mux.HandleFunc("GET /api/daily", s.handleDaily)
	mux.HandleFunc("GET /api/growth", s.handleGrowth)
	mux.HandleFunc("GET /api/trend", s.handleTrend)
	mux.HandleFunc("GET /api/split", s.handleSplit)
	mux.HandleFunc("GET /api/rows", s.handleRows)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", s.metricsHandler())
}

// Handler returns an http.Handler with CORS and request metrics.
func (s *DashboardServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.countRequests(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *DashboardServer) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

// metricsHandler refreshes the ledger gauges before each scrape.
func (s *DashboardServer) metricsHandler() http.Handler {
	h := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := s.model.Snapshot()
		for p, row := range snap.Latest {
			s.daily.WithLabelValues(string(p)).Set(float64(row.DailyDownloads))
			s.total.WithLabelValues(string(p)).Set(float64(row.CumulativeTotal))
		}
		s.version.Set(float64(snap.Version))
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// filteredRows applies the start, end and platform query parameters.
func (s *DashboardServer) filteredRows(w http.ResponseWriter, r *http.Request) ([]domain.LedgerRow, bool) {
	q := r.URL.Query()
	f, err := dashboard.ParseFilter(q.Get("start"), q.Get("end"), q.Get("platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return f.Apply(s.model.Rows()), true
}

// handleHero always covers the whole ledger; filters apply to charts only.
func (s *DashboardServer) handleHero(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, convertHero(dashboard.ComputeHero(s.model.Rows(), s.platforms)))
}

func (s *DashboardServer) handleLatest(w http.ResponseWriter, _ *http.Request) {
	snap := s.model.Snapshot()
	resp := LatestResponse{Version: snap.Version, Latest: make([]RowJSON, 0, len(snap.Latest))}
	if !snap.UpdatedAt.IsZero() {
		resp.UpdatedAt = snap.UpdatedAt.UTC().Format(time.RFC3339)
	}
	rows := make([]domain.LedgerRow, 0, len(snap.Latest))
	for _, row := range snap.Latest {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Platform.Order() < rows[j].Platform.Order() })
	for _, row := range rows {
		resp.Latest = append(resp.Latest, convertRow(row))
		resp.GrandTotal += row.CumulativeTotal
	}
	writeJSON(w, resp)
}

func (s *DashboardServer) handleDaily(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.filteredRows(w, r)
	if !ok {
		return
	}
	pts := dashboard.DailySeries(rows)
	resp := DailyResponse{Points: make([]DailyPointJSON, 0, len(pts))}
	for _, p := range pts {
		by := make(map[string]int, len(p.ByPlatform))
		for plat, n := range p.ByPlatform {
			by[string(plat)] = n
		}
		resp.Points = append(resp.Points, DailyPointJSON{Date: formatDate(p.Date), ByPlatform: by, Combined: p.Combined})
	}
	writeJSON(w, resp)
}

func (s *DashboardServer) handleGrowth(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.filteredRows(w, r)
	if !ok {
		return
	}
	writeJSON(w, convertSeries(dashboard.Growth(rows)))
}

func (s *DashboardServer) handleTrend(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.filteredRows(w, r)
	if !ok {
		return
	}
	writeJSON(w, convertSeries(dashboard.Trend(rows)))
}

func (s *DashboardServer) handleSplit(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.filteredRows(w, r)
	if !ok {
		return
	}
	shares, grand := dashboard.Split(rows)
	resp := SplitResponse{Grand: grand, Shares: make([]ShareJSON, 0, len(shares))}
	for _, sh := range shares {
		resp.Shares = append(resp.Shares, ShareJSON{
			Platform:  string(sh.Platform),
			Name:      sh.Platform.DisplayName(),
			Downloads: sh.Downloads,
			Fraction:  sh.Fraction,
			ShareText: dashboard.FormatShare(sh.Fraction),
		})
	}
	writeJSON(w, resp)
}

func (s *DashboardServer) handleRows(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.filteredRows(w, r)
	if !ok {
		return
	}
	table := dashboard.Table(rows)
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n < len(table) {
		table = table[:n]
	}
	resp := RowsResponse{Rows: make([]RowJSON, 0, len(table))}
	for _, row := range table {
		resp.Rows = append(resp.Rows, convertRow(row))
	}
	writeJSON(w, resp)
}

// handleEvents streams ledger updates as server-sent events, starting with
// the current snapshot.
func (s *DashboardServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, ch := s.model.Subscribe(16)
	defer s.model.Unsubscribe(subID)
	s.log.Info("event client subscribed", "subID", subID)

	send := func(evt live.UpdateEvent) error {
		data, err := json.Marshal(eventJSON(evt))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: ledger\ndata: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := send(s.model.Snapshot()); err != nil {
		s.log.Warn("event stream write failed", "error", err)
		return
	}
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("event client disconnected", "subID", subID)
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := send(evt); err != nil {
				return
			}
		}
	}
}

// EventJSON is the payload of a ledger server-sent event.
type EventJSON struct {
	Version uint64    `json:"version"`
	Rows    int       `json:"rows"`
	Latest  []RowJSON `json:"latest"`
}

func eventJSON(evt live.UpdateEvent) EventJSON {
	out := EventJSON{Version: evt.Version, Rows: evt.Rows, Latest: make([]RowJSON, 0, len(evt.Latest))}
	for _, p := range domain.Platforms {
		if row, ok := evt.Latest[p]; ok {
			out.Latest = append(out.Latest, convertRow(row))
		}
	}
	return out
}
