package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/core/ports"
	"github.com/samirrijal/annotation/internal/core/usecases"
	"github.com/samirrijal/annotation/internal/pkg/telemetry"
)

// relay reacts to rule events published by the API and the importer.
type relay struct {
	cache     ports.CacheService           // optional
	scheduler ports.NormalizationScheduler // optional
	logger    *slog.Logger
}

// handle drops the cached copy of the rule and, for new or edited rules,
// schedules geometry normalisation. Returning an error redelivers the event.
func (r *relay) handle(ctx context.Context, event domain.RuleEvent) error {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanRelayEvent)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrRuleID, event.RuleID))

	logger := r.logger.With("rule_id", event.RuleID, "type", event.Type)

	if r.cache != nil {
		if err := r.cache.Delete(ctx, usecases.RuleCacheKey(event.RuleID)); err != nil {
			logger.Warn("cache invalidation failed", "error", err)
		}
	}

	switch event.Type {
	case domain.RuleCreated, domain.RuleUpdated:
	default:
		logger.Debug("event relayed")
		return nil
	}
	if r.scheduler == nil {
		return nil
	}
	if err := r.scheduler.ScheduleNormalization(ctx, event.RuleID); err != nil {
		return fmt.Errorf("schedule normalisation: %w", err)
	}
	logger.Info("normalisation scheduled")
	return nil
}
