// Scheduled daily run: fetch yesterday's downloads from every enabled store,
// update the ledger and cumulative totals, and send the summary.
//
// Usage:
//
//	go run ./cmd/download-report [-config path] [-dry-run]
package main

import (
	"context"
	"errors"
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
	"downloadreport/internal/notify"
	"downloadreport/internal/util"
)

func main() {
	cfgPath := "config/download-report.yaml"
	if p := os.Getenv("DOWNLOAD_REPORT_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to the YAML config file")
	dryRun := flag.Bool("dry-run", false, "log the report instead of sending it")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(!*dryRun); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, logCloser, err := util.NewLogger(cfg.LogOptions("download-report.log"))
	if err != nil {
		log.Fatalf("setting up logging: %v", err)
	}
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, loc, *dryRun, logger)
	cancel()
	logCloser.Close()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, loc *time.Location, dryRun bool, logger *slog.Logger) int {
	ledger, ledgerCloser, err := app.OpenLedger(cfg, logger)
	if err != nil {
		logger.Error("opening ledger", "error", err)
		return 1
	}
	defer ledgerCloser.Close()

	clients, err := app.BuildClients(ctx, cfg, logger)
	if err != nil {
		logger.Error("creating store clients", "error", err)
		return 1
	}
	defer clients.Close()

	var notifier notify.Notifier
	if !dryRun {
		notifier = notify.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.BaseURL,
			cfg.NotifyPolicy(), logger)
	}

	e := engine.New(clients.Report(), ledger, app.OpenTotals(cfg, logger), notifier, engine.Options{
		AppName:      cfg.Report.AppName,
		Location:     loc,
		LookbackDays: cfg.Report.LookbackDays,
		DryRun:       dryRun,
		Mirror:       app.OpenMirror(cfg),
	}, logger)

	logger.Info("starting download report", "dry_run", dryRun, "stores", cfg.Stores.Enabled)
	out, err := e.Run(ctx)
	if errors.Is(err, engine.ErrNotificationFailed) {
		logger.Error("report not delivered", "error", err)
		return 1
	}
	if err != nil {
		logger.Error("report run failed", "error", err)
		return 1
	}
	for _, perr := range out.PersistErrors {
		logger.Warn("storage error during run", "error", perr)
	}
	logger.Info("download report complete",
		"target", out.Target.Format(domain.DateLayout),
		"appended", out.Appended,
		"corrected", len(out.Corrected),
	)
	return 0
}
