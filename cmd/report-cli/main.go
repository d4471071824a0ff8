package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"downloadreport/internal/api"
	"downloadreport/internal/dashboard"
	"downloadreport/internal/domain"
	"downloadreport/pkg/downloadreport"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: report-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  latest     Show the latest cumulative total per store\n")
		fmt.Fprintf(os.Stderr, "  hero       Show the headline numbers of the latest day\n")
		fmt.Fprintf(os.Stderr, "  rows       List ledger rows, newest first\n")
		fmt.Fprintf(os.Stderr, "  watch      Stream ledger updates from the gRPC history service\n")
		fmt.Fprintf(os.Stderr, "\nThe dashboard URL defaults to $DOWNLOAD_REPORT_URL or http://localhost:8080.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	baseURL := "http://localhost:8080"
	if u := os.Getenv("DOWNLOAD_REPORT_URL"); u != "" {
		baseURL = u
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("report-cli %s\n", version)

	case "latest":
		err = latest(ctx, downloadreport.NewClient(baseURL))

	case "hero":
		err = hero(ctx, downloadreport.NewClient(baseURL))

	case "rows":
		fs := flag.NewFlagSet("rows", flag.ExitOnError)
		var q downloadreport.RowsQuery
		fs.StringVar(&q.Start, "start", "", "first report date, YYYY-MM-DD")
		fs.StringVar(&q.End, "end", "", "last report date, YYYY-MM-DD")
		fs.StringVar(&q.Platform, "platform", "", "appstore, googleplay or huawei")
		fs.IntVar(&q.Limit, "limit", 20, "maximum rows")
		fs.Parse(os.Args[2:])
		err = rows(ctx, downloadreport.NewClient(baseURL), q)

	case "watch":
		fs := flag.NewFlagSet("watch", flag.ExitOnError)
		addr := fs.String("grpc", "localhost:9090", "history service address")
		fs.Parse(os.Args[2:])
		err = watch(ctx, *addr)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func latest(ctx context.Context, c *downloadreport.Client) error {
	l, err := c.GetLatest(ctx)
	if err != nil {
		return err
	}
	for _, r := range l.Latest {
		fmt.Printf("%-20s %-12s %12s\n", r.Name, r.ReportDate, dashboard.FormatInt(r.Total))
	}
	fmt.Printf("%-20s %-12s %12s\n", "Total", "", dashboard.FormatInt(l.GrandTotal))
	return nil
}

func hero(ctx context.Context, c *downloadreport.Client) error {
	h, err := c.GetHero(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Latest day: %s\n\n", h.LatestDate)
	for _, card := range append(h.Cards, h.Combined) {
		fmt.Printf("%-20s %8s  %-22s total %s\n", card.Name, dashboard.FormatInt(card.Daily), card.DeltaText, card.TotalText)
	}
	fmt.Printf("\n7-day avg %s, 30-day avg %s, best day %s\n", h.Avg7Text, h.Avg30Text, dashboard.FormatInt(h.BestDay))
	return nil
}

func rows(ctx context.Context, c *downloadreport.Client, q downloadreport.RowsQuery) error {
	rs, err := c.GetRows(ctx, q)
	if err != nil {
		return err
	}
	fmt.Printf("%-12s %-20s %10s %12s\n", "Date", "Store", "Daily", "Total")
	for _, r := range rs {
		fmt.Printf("%-12s %-20s %10s %12s\n", r.ReportDate, r.Name, dashboard.FormatInt(r.Daily), dashboard.FormatInt(r.Total))
	}
	return nil
}

func watch(ctx context.Context, addr string) error {
	conn, err := api.Dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	return api.NewHistoryClient(conn).Watch(ctx, func(s api.Snapshot) error {
		fmt.Printf("[%s] version %d, %d rows\n", time.Now().Format(time.TimeOnly), s.Version, s.Rows)
		for _, r := range s.Latest {
			fmt.Printf("  %-20s %s  %s\n", r.Platform.DisplayName(), r.ReportDate.Format(domain.DateLayout),
				dashboard.FormatInt(r.CumulativeTotal))
		}
		return nil
	})
}
