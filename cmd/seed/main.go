// seed inserts the development tenants and accounts. Idempotent: existing emails are skipped.
package main

import (
	"context"
	"fmt"
	"os"

	"saas-admin/backend/internal/config"
	"saas-admin/backend/internal/db"
	"saas-admin/backend/internal/logging"
	"saas-admin/backend/internal/security"
	"saas-admin/backend/internal/store"
	"saas-admin/backend/internal/store/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, nil)
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	hasher := security.NewHasher(security.Argon2Params{
		MemoryKiB:   cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
	})
	if err := seed.Run(ctx, store.NewPostgres(pool), hasher, logger); err != nil {
		logger.Error("seed", "error", err)
		os.Exit(1)
	}
}
