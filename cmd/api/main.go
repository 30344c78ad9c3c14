package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/annotation/internal/adapters/http"
	natsadapter "github.com/samirrijal/annotation/internal/adapters/nats"
	"github.com/samirrijal/annotation/internal/adapters/postgres"
	"github.com/samirrijal/annotation/internal/adapters/valkey"
	"github.com/samirrijal/annotation/internal/core/ports"
	"github.com/samirrijal/annotation/internal/core/usecases"
	"github.com/samirrijal/annotation/internal/pkg/config"
	"github.com/samirrijal/annotation/internal/pkg/logging"
	"github.com/samirrijal/annotation/internal/pkg/metrics"
	"github.com/samirrijal/annotation/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("annotation-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Telemetry.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.UpdateDBPoolMetrics(db.Pool.Stat())
			case <-ctx.Done():
				return
			}
		}
	}()

	// Cache and events are optional: the service runs without them.
	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
		cache = nil
	} else {
		cacheSvc = cache
		defer cache.Close()
	}

	var events ports.EventPublisher
	publisher, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		events = publisher
		defer publisher.Close()
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	} else {
		defer natsConn.Close()
	}

	geometry := usecases.NewGeometryService(logger, cfg.WKT.MaxInputBytes)
	rules := usecases.NewRuleService(
		postgres.NewRuleRepo(db),
		postgres.NewCommentRepo(db),
		geometry, events, cacheSvc, logger,
	)

	deps := &http.Dependencies{
		Rules:       rules,
		Geometry:    geometry,
		NATS:        natsConn,
		DB:          db,
		Cache:       cache,
		RateLimit:   cfg.Server.RateLimit,
		CORSOrigins: cfg.Server.CORSOrigins,
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		// Room for the largest accepted geometry plus the JSON around it.
		BodyLimit: cfg.WKT.MaxInputBytes + 64*1024,
		AppName:   "Occurrence Annotation API",
	})
	app.Use(recover.New())

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
