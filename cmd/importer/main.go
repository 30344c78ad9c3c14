package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"strings"

	natsadapter "github.com/samirrijal/annotation/internal/adapters/nats"
	"github.com/samirrijal/annotation/internal/adapters/postgres"
	"github.com/samirrijal/annotation/internal/adapters/valkey"
	"github.com/samirrijal/annotation/internal/core/usecases"
	"github.com/samirrijal/annotation/internal/pkg/config"
	"github.com/samirrijal/annotation/internal/pkg/logging"
)

// importer <manifest.json> [file,names]
func main() {
	cfg, err := config.Load("annotation-importer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Telemetry.ServiceName)

	ctx := context.Background()

	manifestPath := "manifest.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		log.Fatalf("parse manifest: %v", err)
	}

	files := manifest.Files
	if len(os.Args) > 2 {
		only := map[string]bool{}
		for _, s := range strings.Split(os.Args[2], ",") {
			only[strings.TrimSpace(s)] = true
		}
		files = files[:0:0]
		for _, f := range manifest.Files {
			if only[f.Name] {
				files = append(files, f)
			}
		}
	}
	slog.Info("rule import starting", "source", manifest.Source, "files", len(files))

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	geometry := usecases.NewGeometryService(logger, cfg.WKT.MaxInputBytes)
	rules := usecases.NewRuleService(postgres.NewRuleRepo(db), postgres.NewCommentRepo(db), geometry, nil, nil, logger)

	results := newImporter(rules, manifest).run(ctx, files)

	var imported, rejected, failed int
	for _, r := range results {
		imported += r.Imported
		rejected += r.Rejected
		if r.Err != nil {
			failed++
			slog.Error("file failed", "file", r.Name, "error", r.Err)
		}
	}

	// Cached rules may predate the import.
	if cache, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable, cached rules not invalidated", "error", err)
	} else {
		n, err := cache.DeletePattern(ctx, usecases.RuleCacheKey("*"))
		if err != nil {
			slog.Warn("cache invalidation failed", "error", err)
		}
		slog.Info("cached rules invalidated", "keys", n)
		cache.Close()
	}

	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, import not announced", "error", err)
	} else {
		notice, _ := json.Marshal(map[string]any{
			"type": "import_completed", "source": manifest.Source,
			"imported": imported, "rejected": rejected,
		})
		if err := pub.PublishBroadcast(ctx, notice); err != nil {
			slog.Warn("import not announced", "error", err)
		}
		pub.Close()
	}

	slog.Info("rule import complete", "imported", imported, "rejected", rejected, "failed_files", failed)
	if failed > 0 {
		os.Exit(1)
	}
}
