package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/pkg/metrics"
	"github.com/samirrijal/annotation/internal/pkg/telemetry"
)

// RuleNormalizer is the part of usecases.RuleService the activities need.
type RuleNormalizer interface {
	NormalizeGeometry(ctx context.Context, id string) (previous, normalized string, err error)
	RestoreGeometry(ctx context.Context, id, geometry string) error
	Announce(ctx context.Context, event domain.RuleEvent) error
}

// NormalizeOutcome is returned by NormalizeRuleGeometry.
type NormalizeOutcome struct {
	Previous   string
	Normalized string
	Changed    bool
}

// NormalizeActivities holds the activity implementations for the normalisation workflow.
type NormalizeActivities struct {
	Rules RuleNormalizer
}

// NormalizeRuleGeometry stores the canonical encoding of a rule's geometry.
// Missing, deleted and undecodable rules are not retried.
func (a *NormalizeActivities) NormalizeRuleGeometry(ctx context.Context, ruleID string) (NormalizeOutcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanNormalizeActivity)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrRuleID, ruleID))

	previous, normalized, err := a.Rules.NormalizeGeometry(ctx, ruleID)
	if err != nil {
		metrics.Normalizations.WithLabelValues("failed").Inc()
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidGeometry) {
			return NormalizeOutcome{}, temporal.NewNonRetryableApplicationError(err.Error(), "RuleNotNormalizable", err)
		}
		return NormalizeOutcome{}, fmt.Errorf("normalize rule %s: %w", ruleID, err)
	}
	outcome := NormalizeOutcome{Previous: previous, Normalized: normalized, Changed: previous != normalized}
	if outcome.Changed {
		metrics.Normalizations.WithLabelValues("rewritten").Inc()
	} else {
		metrics.Normalizations.WithLabelValues("unchanged").Inc()
	}
	return outcome, nil
}

// AnnounceNormalized publishes a normalized event for the rule.
func (a *NormalizeActivities) AnnounceNormalized(ctx context.Context, ruleID string) error {
	return a.Rules.Announce(ctx, domain.RuleEvent{Type: domain.RuleNormalized, RuleID: ruleID})
}

// RestoreRuleGeometry puts the previous geometry back (saga compensation / rollback).
func (a *NormalizeActivities) RestoreRuleGeometry(ctx context.Context, ruleID, geometry string) error {
	if err := a.Rules.RestoreGeometry(ctx, ruleID, geometry); err != nil {
		return fmt.Errorf("restore rule %s: %w", ruleID, err)
	}
	metrics.Normalizations.WithLabelValues("restored").Inc()
	slog.Info("geometry restored (saga compensation)", "rule_id", ruleID)
	return nil
}
