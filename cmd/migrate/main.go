package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/annotation/internal/pkg/config"
	"github.com/samirrijal/annotation/internal/pkg/logging"
)

var migrations = []string{
	"migrations/001_init_extensions.sql",
	"migrations/002_rules.sql",
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down>")
	}

	cfg, err := config.Load("annotation-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, "text", cfg.Telemetry.ServiceName)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "up":
		if err := up(ctx, pool); err != nil {
			log.Fatal(err)
		}
	case "down":
		if err := down(ctx, pool); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

// up applies every migration in order. Each file is idempotent.
func up(ctx context.Context, pool *pgxpool.Pool) error {
	for _, f := range migrations {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return err
		}
		slog.Info("migration applied", "file", f)
	}
	slog.Info("all migrations applied")
	return nil
}

// down drops the annotation tables. Extensions are left in place.
func down(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS rule_comments; DROP TABLE IF EXISTS rules;`); err != nil {
		return err
	}
	slog.Info("annotation tables dropped")
	return nil
}
