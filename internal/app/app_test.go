package app

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"path/filepath"
	"testing"
	"time"

	"downloadreport/internal/config"
	"downloadreport/internal/domain"
	"downloadreport/internal/util"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Storage.LedgerPath = filepath.Join(dir, "downloads.csv")
	cfg.Storage.SQLitePath = filepath.Join(dir, "downloads.db")
	cfg.Storage.TotalsPath = filepath.Join(dir, "totals.json")
	return cfg
}

func testKey(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func TestOpenLedgerBackends(t *testing.T) {
	for _, backend := range []string{"csv", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Storage.LedgerBackend = backend
			log := util.DiscardLogger()

			ledger, closer, err := OpenLedger(cfg, log)
			if err != nil {
				t.Fatalf("OpenLedger: %v", err)
			}
			defer closer.Close()

			ctx := context.Background()
			day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
			if _, err := ledger.Append(ctx, []domain.DailyCount{
				{ReportDate: day, Platform: domain.PlatformAppStore, DailyDownloads: 12},
			}, day); err != nil {
				t.Fatalf("Append: %v", err)
			}
			rows, err := ledger.Rows(ctx)
			if err != nil || len(rows) != 1 || rows[0].CumulativeTotal != 12 {
				t.Errorf("rows = %+v, err = %v", rows, err)
			}
		})
	}
}

func TestOpenLedgerUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.LedgerBackend = "postgres"
	if _, _, err := OpenLedger(cfg, util.DiscardLogger()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenMirror(t *testing.T) {
	cfg := testConfig(t)
	if OpenMirror(cfg) != nil {
		t.Error("expected no mirror without parquet_path")
	}
	cfg.Storage.ParquetPath = filepath.Join(t.TempDir(), "downloads.parquet")
	if OpenMirror(cfg) == nil {
		t.Error("expected a mirror with parquet_path")
	}
}

func TestBuildClients(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stores.Enabled = []string{"huawei", "appstore"}
	cfg.Stores.AppStore.PrivateKey = testKey(t)
	cfg.Stores.AppStore.AppSKU = "SKU1"
	cfg.Stores.Huawei.AppID = "1000"

	clients, err := BuildClients(context.Background(), cfg, util.DiscardLogger())
	if err != nil {
		t.Fatalf("BuildClients: %v", err)
	}
	defer clients.Close()

	report := clients.Report()
	if len(report) != 2 {
		t.Fatalf("report clients = %d, want 2", len(report))
	}
	if report[0].Platform() != domain.PlatformAppStore || report[1].Platform() != domain.PlatformHuawei {
		t.Errorf("order = %s, %s", report[0].Platform(), report[1].Platform())
	}

	sources := clients.Backfill(60)
	if len(sources) != 2 || sources[0].Limiter == nil || sources[0].Limiter != sources[1].Limiter {
		t.Errorf("backfill sources = %+v", sources)
	}
}

func TestBuildClientsBadKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stores.Enabled = []string{"appstore"}
	cfg.Stores.AppStore.PrivateKey = "not a key"
	if _, err := BuildClients(context.Background(), cfg, util.DiscardLogger()); err == nil {
		t.Fatal("expected error for unparseable private key")
	}
}
