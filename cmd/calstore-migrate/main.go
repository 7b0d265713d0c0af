// Command calstore-migrate applies the PostgreSQL schema of the calendar
// store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyp0633/calstore/server/config"
	"github.com/cyp0633/calstore/server/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dsn := flag.String("dsn", "", "database DSN, overrides the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dsn != "" {
		cfg.Storage.Backend = config.BackendPostgres
		cfg.Storage.DSN = *dsn
	}
	logger := cfg.Logger()

	if cfg.Storage.Backend != config.BackendPostgres || cfg.Storage.DSN == "" {
		logger.Error("nothing to migrate: configure the postgres backend or pass -dsn", "backend", cfg.Storage.Backend)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Open(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(pool, logger); err != nil {
		logger.Error("migration failed", "error", err)
		pool.Close()
		os.Exit(1)
	}
	logger.Info("schema is up to date")
}
