// Package app turns a loaded configuration into the stores and store clients
// the commands run on.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"downloadreport/internal/config"
	"downloadreport/internal/domain"
	"downloadreport/internal/engine"
	"downloadreport/internal/gather"
	"downloadreport/internal/gather/appstore"
	"downloadreport/internal/gather/googleplay"
	"downloadreport/internal/gather/huawei"
	"downloadreport/internal/store"
	"downloadreport/internal/util"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenLedger opens the configured ledger backend. The closer releases the
// backend's resources and must be called when the ledger is no longer used.
func OpenLedger(cfg *config.Config, log *slog.Logger) (*store.Ledger, io.Closer, error) {
	switch cfg.Storage.LedgerBackend {
	case "", "csv":
		return store.NewLedger(store.NewCSVStore(cfg.Storage.LedgerPath, log), log), nopCloser{}, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store.NewLedger(s, log), s, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Storage.LedgerBackend)
	}
}

// OpenTotals opens the cumulative-totals cache.
func OpenTotals(cfg *config.Config, log *slog.Logger) *store.JSONTotalsStore {
	return store.NewJSONTotalsStore(cfg.Storage.TotalsPath, log)
}

// OpenMirror returns the parquet copy of the ledger, or nil when none is
// configured.
func OpenMirror(cfg *config.Config) store.RowStore {
	if cfg.Storage.ParquetPath == "" {
		return nil
	}
	return store.NewParquetStore(cfg.Storage.ParquetPath)
}

// Clients holds the enabled store clients in report order.
type Clients struct {
	appStore   *appstore.Client
	googlePlay *googleplay.Client
	huawei     *huawei.Client
	closers    []io.Closer
}

// BuildClients creates a client for every enabled store.
func BuildClients(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Clients, error) {
	platforms, err := cfg.EnabledPlatforms()
	if err != nil {
		return nil, err
	}
	policy := cfg.FetchPolicy()
	c := &Clients{}
	for _, p := range platforms {
		switch p {
		case domain.PlatformAppStore:
			s := cfg.Stores.AppStore
			c.appStore, err = appstore.New(appstore.Config{
				IssuerID:     s.IssuerID,
				KeyID:        s.KeyID,
				PrivateKey:   s.PrivateKey,
				VendorNumber: s.VendorNumber,
				AppSKU:       s.AppSKU,
				BaseURL:      s.BaseURL,
			}, policy, log)
			if err != nil {
				c.Close()
				return nil, err
			}
		case domain.PlatformGooglePlay:
			s := cfg.Stores.GooglePlay
			reader, err := googleplay.NewGCSReader(ctx, s.CredentialsFile)
			if err != nil {
				c.Close()
				return nil, err
			}
			c.closers = append(c.closers, reader)
			c.googlePlay = googleplay.New(s.PackageName, s.BucketID, reader, policy, log)
		case domain.PlatformHuawei:
			s := cfg.Stores.Huawei
			c.huawei = huawei.New(huawei.Config{
				ClientID:     s.ClientID,
				ClientSecret: s.ClientSecret,
				AppID:        s.AppID,
				BaseURL:      s.BaseURL,
			}, policy, log)
		}
	}
	return c, nil
}

// Report returns the clients for a report run.
func (c *Clients) Report() []gather.StoreClient {
	var out []gather.StoreClient
	if c.appStore != nil {
		out = append(out, c.appStore)
	}
	if c.googlePlay != nil {
		out = append(out, c.googlePlay)
	}
	if c.huawei != nil {
		out = append(out, c.huawei)
	}
	return out
}

// Backfill returns exact-day sources for a backfill. API-backed stores share
// one limiter of perMinute calls; Google Play reads whole monthly reports and
// keeps them for the duration of the backfill.
func (c *Clients) Backfill(perMinute int) []engine.BackfillSource {
	limiter := util.NewRateLimiter(perMinute)
	var out []engine.BackfillSource
	if c.appStore != nil {
		out = append(out, engine.BackfillSource{Platform: domain.PlatformAppStore, Fetcher: c.appStore, Limiter: limiter})
	}
	if c.googlePlay != nil {
		out = append(out, engine.BackfillSource{Platform: domain.PlatformGooglePlay, Fetcher: c.googlePlay.Cached()})
	}
	if c.huawei != nil {
		out = append(out, engine.BackfillSource{Platform: domain.PlatformHuawei, Fetcher: c.huawei, Limiter: limiter})
	}
	return out
}

// Close releases the clients' connections.
func (c *Clients) Close() error {
	var errs []error
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}
