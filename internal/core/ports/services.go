package ports

import (
	"context"

	"github.com/samirrijal/annotation/internal/core/domain"
)

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishRuleEvent(ctx context.Context, event domain.RuleEvent) error
	PublishBroadcast(ctx context.Context, data []byte) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeRuleEvents(ctx context.Context, durable string, handler func(ctx context.Context, event domain.RuleEvent) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// NormalizationScheduler starts the background geometry normalisation of a rule.
type NormalizationScheduler interface {
	ScheduleNormalization(ctx context.Context, ruleID string) error
}
