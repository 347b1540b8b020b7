package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ritikjain6521/indeed-scraper/internal/config"
	"github.com/ritikjain6521/indeed-scraper/internal/crawler"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to scraper configuration file")
	resetLedger := flag.Bool("reset-ledger", false, "Drop the persisted dedup ledger before scraping")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *resetLedger {
		cfg.Ledger.Reset = true
	}

	engine, err := crawler.NewEngine(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "scraper stopped with error: %v\n", err)
		os.Exit(1)
	}
}
