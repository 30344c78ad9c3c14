package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"

	natsadapter "github.com/samirrijal/annotation/internal/adapters/nats"
	"github.com/samirrijal/annotation/internal/adapters/valkey"
	"github.com/samirrijal/annotation/internal/pkg/config"
	"github.com/samirrijal/annotation/internal/pkg/logging"
	"github.com/samirrijal/annotation/internal/workflows"
)

const durable = "annotation-relay"

func main() {
	cfg, err := config.Load("annotation-relay")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Telemetry.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &relay{logger: logger}

	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable, cache invalidation disabled", "error", err)
	} else {
		r.cache = cache
		defer cache.Close()
	}

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		slog.Warn("temporal unavailable, normalisation disabled", "error", err)
	} else {
		r.scheduler = workflows.NewScheduler(tc, cfg.Temporal.TaskQueue)
		defer tc.Close()
	}

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	if err := sub.SubscribeRuleEvents(ctx, durable, r.handle); err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	slog.Info("relay started", "durable", durable, "task_queue", cfg.Temporal.TaskQueue)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down relay", "signal", sig.String())
}
