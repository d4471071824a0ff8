// Read-only dashboard backend: serves ledger aggregations over HTTP, the
// history service over gRPC, and reloads the ledger periodically.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"downloadreport/internal/api"
	"downloadreport/internal/app"
	"downloadreport/internal/config"
	"downloadreport/internal/httpapi"
	"downloadreport/internal/live"
	"downloadreport/internal/util"
)

func main() {
	cfgPath := "config/download-report.yaml"
	if p := os.Getenv("DOWNLOAD_REPORT_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to the YAML config file")
	pollInterval := flag.Duration("poll", time.Minute, "ledger reload interval")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	platforms, err := cfg.EnabledPlatforms()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, logCloser, err := util.NewLogger(cfg.LogOptions("dashboard-server.log"))
	if err != nil {
		log.Fatalf("setting up logging: %v", err)
	}
	defer logCloser.Close()
	util.SetDefault(logger)

	ledger, ledgerCloser, err := app.OpenLedger(cfg, logger)
	if err != nil {
		log.Fatalf("opening ledger: %v", err)
	}
	defer ledgerCloser.Close()

	model := live.NewLedgerModel(ledger, logger)
	dash := httpapi.NewDashboardServer(model, platforms, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           dash.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := grpc.NewServer()
	api.NewHistoryServer(model, logger).RegisterGRPC(grpcServer)
	grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatalf("listening on %s: %v", grpcAddr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	// Cancelling gctx also ends open event streams.
	httpServer.BaseContext = func(net.Listener) context.Context { return gctx }
	g.Go(func() error {
		return model.Poll(gctx, *pollInterval)
	})
	g.Go(func() error {
		logger.Info("dashboard HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("history gRPC server listening", "addr", grpcAddr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down dashboard server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}

		// Watch streams only end when their clients leave.
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("dashboard server stopped", "error", err)
	}
}
