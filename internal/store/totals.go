package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"downloadreport/internal/domain"
)

// Compile-time interface check.
var _ TotalsStore = (*JSONTotalsStore)(nil)

// lastUpdatedKey is the cache field holding the time of the last save.
const lastUpdatedKey = "last_updated"

// JSONTotalsStore persists CumulativeTotals as a flat JSON object:
//
//	{"apple": 1100, "apple_last_date": "Feb 10", "google_play": 2000, ...,
//	 "last_updated": "2026-02-11T09:00:00+08:00"}
type JSONTotalsStore struct {
	path string
	log  *slog.Logger
}

// NewJSONTotalsStore creates a JSONTotalsStore for the file at path.
func NewJSONTotalsStore(path string, log *slog.Logger) *JSONTotalsStore {
	if log == nil {
		log = slog.Default()
	}
	return &JSONTotalsStore{path: path, log: log.With("component", "totals_cache")}
}

// LoadTotals reads the cache. A missing file yields empty totals; a corrupt
// one is logged and also yields empty totals so the ledger can rebuild them.
func (s *JSONTotalsStore) LoadTotals(_ context.Context) (domain.CumulativeTotals, error) {
	out := domain.NewCumulativeTotals()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return out, fmt.Errorf("reading totals cache: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.Warn("totals cache is corrupt, starting empty", "path", s.path, "error", err)
		return out, nil
	}

	for _, p := range domain.Platforms {
		key := p.CacheKey()
		if v, ok := raw[key]; ok {
			n, ok := v.(float64)
			if !ok || n < 0 || n != math.Trunc(n) {
				s.log.Warn("ignoring invalid cached total", "key", key, "value", v)
			} else {
				out.Totals[p] = int(n)
			}
		}
		if v, ok := raw[key+"_last_date"].(string); ok && v != "" {
			out.LastDates[p] = v
		}
	}
	if v, ok := raw[lastUpdatedKey].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			out.LastUpdated = t
		}
	}
	return out, nil
}

// SaveTotals writes the cache via a temp file and rename.
func (s *JSONTotalsStore) SaveTotals(_ context.Context, totals domain.CumulativeTotals) error {
	raw := make(map[string]any, 2*len(totals.Totals)+1)
	for p, n := range totals.Totals {
		raw[p.CacheKey()] = n
	}
	for p, label := range totals.LastDates {
		raw[p.CacheKey()+"_last_date"] = label
	}
	if !totals.LastUpdated.IsZero() {
		raw[lastUpdatedKey] = totals.LastUpdated.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling totals: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating totals dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing totals cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing totals cache: %w", err)
	}
	return nil
}
