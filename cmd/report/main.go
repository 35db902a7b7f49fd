// Package main generates a one-shot performance report from the trade
// ledger: REPORT.md for operators and TRADER_STATS.csv for spreadsheets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"polymarket-copytrader/internal/reporting"
	"polymarket-copytrader/internal/storage/migrations"
	pgstore "polymarket-copytrader/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	outputDir := flag.String("output-dir", "reports", "Directory for generated report files")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall generation timeout")

	flag.Parse()

	logger := log.New(os.Stdout, "[report] ", log.LstdFlags)

	if *postgresDSN == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "error: postgres migrations: %v\n", err)
		os.Exit(1)
	}

	gen := reporting.NewGenerator(reporting.GeneratorOptions{
		Traders:   pgstore.NewTraderStore(pool),
		Trades:    pgstore.NewTradeStore(pool),
		Positions: pgstore.NewPositionStore(pool),
		Logger:    logger,
	})

	report, err := gen.Build(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: build report: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: create output dir: %v\n", err)
		os.Exit(1)
	}

	mdPath := filepath.Join(*outputDir, "REPORT.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: write %s: %v\n", mdPath, err)
		os.Exit(1)
	}

	csvPath := filepath.Join(*outputDir, "TRADER_STATS.csv")
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(report.Traders)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: write %s: %v\n", csvPath, err)
		os.Exit(1)
	}

	logger.Printf("Report written: %s, %s (%d traders, %d trades)",
		mdPath, csvPath, report.Summary.TotalTraders, report.Summary.TotalTrades)
}
