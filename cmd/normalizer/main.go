package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/samirrijal/annotation/internal/adapters/nats"
	"github.com/samirrijal/annotation/internal/adapters/postgres"
	"github.com/samirrijal/annotation/internal/adapters/valkey"
	"github.com/samirrijal/annotation/internal/core/ports"
	"github.com/samirrijal/annotation/internal/core/usecases"
	"github.com/samirrijal/annotation/internal/pkg/config"
	"github.com/samirrijal/annotation/internal/pkg/logging"
	"github.com/samirrijal/annotation/internal/pkg/telemetry"
	"github.com/samirrijal/annotation/internal/workflows"
)

func main() {
	cfg, err := config.Load("annotation-normalizer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Telemetry.ServiceName)

	ctx := context.Background()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	var cacheSvc ports.CacheService
	if cache, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		cacheSvc = cache
		defer cache.Close()
	}

	// Announcements must reach the broker, otherwise the workflow restores
	// the previous geometry.
	publisher, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer publisher.Close()

	rules := usecases.NewRuleService(
		postgres.NewRuleRepo(db),
		postgres.NewCommentRepo(db),
		usecases.NewGeometryService(logger, cfg.WKT.MaxInputBytes),
		publisher, cacheSvc, logger,
	)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.NormalizeGeometryWorkflow)
	w.RegisterActivity(&workflows.NormalizeActivities{Rules: rules})

	slog.Info("normalizer worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
