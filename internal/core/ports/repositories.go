package ports

import (
	"context"

	"github.com/samirrijal/annotation/internal/core/domain"
)

// RuleRepository persists annotation rules. Lookups of a missing rule return
// an error wrapping domain.ErrNotFound.
type RuleRepository interface {
	Create(ctx context.Context, rule *domain.Rule) error
	Upsert(ctx context.Context, rule *domain.Rule) error
	UpsertBatch(ctx context.Context, rules []domain.Rule) error
	GetByID(ctx context.Context, id string) (*domain.Rule, error)
	// List returns one page of non-deleted rules and the total match count.
	List(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, int, error)
	Update(ctx context.Context, rule *domain.Rule) error
	UpdateGeometry(ctx context.Context, id, geometry string) error
	Delete(ctx context.Context, id, user string) error

	// AddSupport also withdraws any contest by the same user, and vice versa.
	AddSupport(ctx context.Context, id, user string) error
	RemoveSupport(ctx context.Context, id, user string) error
	AddContest(ctx context.Context, id, user string) error
	RemoveContest(ctx context.Context, id, user string) error

	Metrics(ctx context.Context, filter domain.MetricsFilter) (*domain.RuleMetrics, error)
}

// CommentRepository persists rule comments.
type CommentRepository interface {
	Create(ctx context.Context, comment *domain.Comment) error
	GetByID(ctx context.Context, id string) (*domain.Comment, error)
	ListByRule(ctx context.Context, ruleID string) ([]domain.Comment, error)
	Delete(ctx context.Context, id, user string) error
}
