// One-shot tool: fill the download ledger from a start date up to the day
// before its earliest row, fetching each day exactly. Days a store has no
// report for are recorded as 0.
//
// Usage:
//
//	go run ./cmd/backfill-history [-config path] [-start 2025-11-01]
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"downloadreport/internal/app"
	"downloadreport/internal/config"
	"downloadreport/internal/domain"
	"downloadreport/internal/engine"
	"downloadreport/internal/util"
)

func main() {
	cfgPath := "config/download-report.yaml"
	if p := os.Getenv("DOWNLOAD_REPORT_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to the YAML config file")
	startFlag := flag.String("start", "", "first day to backfill, YYYY-MM-DD (default backfill.start_date)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(false); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	startStr := cfg.Backfill.StartDate
	if *startFlag != "" {
		startStr = *startFlag
	}
	if startStr == "" {
		log.Fatalf("no start date: set backfill.start_date or pass -start")
	}
	start, err := time.Parse(domain.DateLayout, startStr)
	if err != nil {
		log.Fatalf("invalid start date %q: %v", startStr, err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, logCloser, err := util.NewLogger(cfg.LogOptions("backfill-history.log"))
	if err != nil {
		log.Fatalf("setting up logging: %v", err)
	}
	defer logCloser.Close()
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ledger, ledgerCloser, err := app.OpenLedger(cfg, logger)
	if err != nil {
		log.Fatalf("opening ledger: %v", err)
	}
	defer ledgerCloser.Close()

	clients, err := app.BuildClients(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("creating store clients: %v", err)
	}
	defer clients.Close()

	res, err := engine.Backfill(ctx, ledger, clients.Backfill(cfg.Backfill.RateLimitPerMin),
		start, time.Now().In(loc), logger)
	if err != nil {
		log.Fatalf("backfill failed: %v", err)
	}

	if res.Days == 0 {
		slog.Info("no rows to backfill (ledger already starts at or before start date)")
	} else {
		slog.Info("history backfill complete", "days", res.Days, "inserted", res.Inserted)
	}
}
