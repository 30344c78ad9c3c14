package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/core/ports"
	"github.com/samirrijal/annotation/internal/pkg/metrics"
	"github.com/samirrijal/annotation/internal/pkg/telemetry"
	"github.com/samirrijal/annotation/internal/pkg/wkt"
)

const (
	DefaultRuleLimit = 100
	MaxRuleLimit     = 1000

	ruleCacheTTL = 300
)

// RuleService handles annotation rules, votes and comments.
type RuleService struct {
	rules    ports.RuleRepository
	comments ports.CommentRepository
	geometry *GeometryService
	events   ports.EventPublisher
	cache    ports.CacheService
	logger   *slog.Logger
	now      func() time.Time
}

// NewRuleService creates a new RuleService. events and cache may be nil.
func NewRuleService(
	rules ports.RuleRepository,
	comments ports.CommentRepository,
	geometry *GeometryService,
	events ports.EventPublisher,
	cache ports.CacheService,
	logger *slog.Logger,
) *RuleService {
	if geometry == nil {
		geometry = NewGeometryService(logger, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleService{
		rules:    rules,
		comments: comments,
		geometry: geometry,
		events:   events,
		cache:    cache,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RuleCacheKey is the valkey key holding a cached rule.
func RuleCacheKey(id string) string { return "rules:id:" + id }

// Create validates and stores a new rule owned by user.
func (s *RuleService) Create(ctx context.Context, user string, in domain.Rule) (*domain.Rule, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanRuleCreate)
	defer span.End()

	if user == "" {
		return nil, domain.ErrUnauthorized
	}
	rule, err := s.validate(ctx, in)
	if err != nil {
		return nil, err
	}
	rule.ID = uuid.NewString()
	rule.Created = s.now()
	rule.CreatedBy = user
	rule.SupportedBy = []string{}
	rule.ContestedBy = []string{}
	rule.Deleted, rule.DeletedBy = nil, ""

	if err := s.rules.Create(ctx, &rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	span.SetAttributes(attribute.String(telemetry.AttrRuleID, rule.ID), attribute.Int64(telemetry.AttrTaxonKey, rule.TaxonKey))
	s.publish(ctx, domain.RuleCreated, &rule, user)
	return &rule, nil
}

// Get returns a rule, including logically deleted ones.
func (s *RuleService) Get(ctx context.Context, id string) (*domain.Rule, error) {
	cacheKey := RuleCacheKey(id)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var rule domain.Rule
			if err := json.Unmarshal(data, &rule); err == nil {
				metrics.CacheHits.WithLabelValues("rule").Inc()
				return &rule, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("rule").Inc()
	}

	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(rule); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, ruleCacheTTL)
		}
	}
	return rule, nil
}

// List returns one page of non-deleted rules and the total match count.
func (s *RuleService) List(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, int, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanRuleList)
	defer span.End()

	if filter.Limit <= 0 {
		filter.Limit = DefaultRuleLimit
	}
	if filter.Limit > MaxRuleLimit {
		filter.Limit = MaxRuleLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.YearRange != "" {
		if _, err := domain.ParseYearRange(filter.YearRange); err != nil {
			return nil, 0, err
		}
	}
	if filter.Geometry != "" {
		normalized, err := s.geometry.Normalize(ctx, filter.Geometry)
		if err != nil {
			return nil, 0, err
		}
		filter.Geometry = normalized
	}
	filter.BasisOfRecord = upperAll(filter.BasisOfRecord)

	rules, total, err := s.rules.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list rules: %w", err)
	}
	return rules, total, nil
}

// Update replaces the editable fields of a rule. Only its creator may do so,
// and deleted rules are frozen.
func (s *RuleService) Update(ctx context.Context, user, id string, in domain.Rule) (*domain.Rule, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanRuleUpdate)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrRuleID, id))

	existing, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	rule, err := s.validate(ctx, in)
	if err != nil {
		return nil, err
	}
	existing.TaxonKey = rule.TaxonKey
	existing.DatasetKey = rule.DatasetKey
	existing.Geometry = rule.Geometry
	existing.Annotation = rule.Annotation
	existing.BasisOfRecord = rule.BasisOfRecord
	existing.BasisOfRecordNegated = rule.BasisOfRecordNegated
	existing.YearRange = rule.YearRange
	existing.RulesetID = rule.RulesetID
	existing.ProjectID = rule.ProjectID

	if err := s.rules.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	s.invalidate(ctx, id)
	s.publish(ctx, domain.RuleUpdated, existing, user)
	return existing, nil
}

// Delete logically deletes a rule. Only its creator may do so.
func (s *RuleService) Delete(ctx context.Context, user, id string) error {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanRuleDelete)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrRuleID, id))

	rule, err := s.owned(ctx, user, id)
	if err != nil {
		return err
	}
	if err := s.rules.Delete(ctx, id, user); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.invalidate(ctx, id)
	s.publish(ctx, domain.RuleDeleted, rule, user)
	return nil
}

// Support records user's support, withdrawing any contest by the same user.
func (s *RuleService) Support(ctx context.Context, user, id string) (*domain.Rule, error) {
	return s.vote(ctx, user, id, s.rules.AddSupport, domain.RuleSupported)
}

// RemoveSupport withdraws user's support.
func (s *RuleService) RemoveSupport(ctx context.Context, user, id string) (*domain.Rule, error) {
	return s.vote(ctx, user, id, s.rules.RemoveSupport, domain.RuleVotesCleared)
}

// Contest records user's contest, withdrawing any support by the same user.
func (s *RuleService) Contest(ctx context.Context, user, id string) (*domain.Rule, error) {
	return s.vote(ctx, user, id, s.rules.AddContest, domain.RuleContested)
}

// RemoveContest withdraws user's contest.
func (s *RuleService) RemoveContest(ctx context.Context, user, id string) (*domain.Rule, error) {
	return s.vote(ctx, user, id, s.rules.RemoveContest, domain.RuleVotesCleared)
}

func (s *RuleService) vote(ctx context.Context, user, id string, apply func(ctx context.Context, id, user string) error, event domain.RuleEventType) (*domain.Rule, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanRuleVote)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrRuleID, id), attribute.String("rule.vote", string(event)))

	if user == "" {
		return nil, domain.ErrUnauthorized
	}
	if _, err := s.live(ctx, id); err != nil {
		return nil, err
	}
	if err := apply(ctx, id, user); err != nil {
		return nil, fmt.Errorf("vote on rule: %w", err)
	}
	s.invalidate(ctx, id)

	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event, rule, user)
	return rule, nil
}

// ListComments returns the non-deleted comments of a rule, oldest first.
func (s *RuleService) ListComments(ctx context.Context, ruleID string) ([]domain.Comment, error) {
	if _, err := s.rules.GetByID(ctx, ruleID); err != nil {
		return nil, err
	}
	return s.comments.ListByRule(ctx, ruleID)
}

// AddComment attaches a comment to a live rule.
func (s *RuleService) AddComment(ctx context.Context, user, ruleID, text string) (*domain.Comment, error) {
	if user == "" {
		return nil, domain.ErrUnauthorized
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: comment must not be empty", domain.ErrValidation)
	}
	rule, err := s.live(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	c := &domain.Comment{
		ID:        uuid.NewString(),
		RuleID:    ruleID,
		Comment:   text,
		Created:   s.now(),
		CreatedBy: user,
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	s.publish(ctx, domain.RuleCommented, rule, user)
	return c, nil
}

// DeleteComment logically deletes a comment. Only its author may do so.
func (s *RuleService) DeleteComment(ctx context.Context, user, ruleID, commentID string) error {
	if user == "" {
		return domain.ErrUnauthorized
	}
	c, err := s.comments.GetByID(ctx, commentID)
	if err != nil {
		return err
	}
	if c.RuleID != ruleID || c.Deleted != nil {
		return fmt.Errorf("comment %s on rule %s: %w", commentID, ruleID, domain.ErrNotFound)
	}
	if c.CreatedBy != user {
		return fmt.Errorf("comment %s belongs to %s: %w", commentID, c.CreatedBy, domain.ErrForbidden)
	}
	if err := s.comments.Delete(ctx, commentID, user); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	s.publish(ctx, domain.RuleCommentDeleted, &domain.Rule{ID: ruleID}, user)
	return nil
}

// Metrics aggregates over the non-deleted rules matching filter.
func (s *RuleService) Metrics(ctx context.Context, filter domain.MetricsFilter) (*domain.RuleMetrics, error) {
	m, err := s.rules.Metrics(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("rule metrics: %w", err)
	}
	m.Username = filter.Username
	return m, nil
}

type geoJSONFeature struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// GeoJSON exports a rule as a GeoJSON Feature.
func (s *RuleService) GeoJSON(ctx context.Context, id string) ([]byte, error) {
	_, span := telemetry.Tracer().Start(ctx, telemetry.SpanRuleExport)
	defer span.End()

	rule, mp, err := s.decoded(ctx, id)
	if err != nil {
		return nil, err
	}
	geometry, err := wkt.GeoJSON(*mp)
	if err != nil {
		return nil, fmt.Errorf("encode geojson: %w", err)
	}
	return json.Marshal(geoJSONFeature{
		Type:     "Feature",
		ID:       rule.ID,
		Geometry: geometry,
		Properties: map[string]any{
			"taxon_key":   rule.TaxonKey,
			"dataset_key": rule.DatasetKey,
			"annotation":  rule.Annotation,
			"created_by":  rule.CreatedBy,
			"supported":   len(rule.SupportedBy),
			"contested":   len(rule.ContestedBy),
		},
	})
}

// KML exports a rule as a KML document with a single placemark.
func (s *RuleService) KML(ctx context.Context, id string) ([]byte, error) {
	_, span := telemetry.Tracer().Start(ctx, telemetry.SpanRuleExport)
	defer span.End()

	rule, mp, err := s.decoded(ctx, id)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s taxon %d", rule.Annotation, rule.TaxonKey)
	desc := fmt.Sprintf("Rule %s by %s", rule.ID, rule.CreatedBy)
	return wkt.KML(name, desc, *mp)
}

// RejectedRule is a record ImportBatch could not accept.
type RejectedRule struct {
	ID  string
	Err error
}

// ImportBatch validates and upserts rules carrying their own IDs. Invalid
// records are returned and skipped; the rest are written in one batch, or
// with a single upsert when only one record survives.
// Records without a creator are attributed to user.
func (s *RuleService) ImportBatch(ctx context.Context, user string, in []domain.Rule) (int, []RejectedRule, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanImportBatch)
	defer span.End()
	span.SetAttributes(attribute.Int("import.records", len(in)))

	valid := make([]domain.Rule, 0, len(in))
	var rejected []RejectedRule
	for _, r := range in {
		if r.ID == "" {
			rejected = append(rejected, RejectedRule{Err: fmt.Errorf("%w: id is required", domain.ErrValidation)})
			continue
		}
		rule, err := s.validate(ctx, r)
		if err != nil {
			rejected = append(rejected, RejectedRule{ID: r.ID, Err: err})
			continue
		}
		if rule.CreatedBy == "" {
			rule.CreatedBy = user
		}
		if rule.Created.IsZero() {
			rule.Created = s.now()
		}
		if rule.SupportedBy == nil {
			rule.SupportedBy = []string{}
		}
		if rule.ContestedBy == nil {
			rule.ContestedBy = []string{}
		}
		valid = append(valid, rule)
	}
	metrics.RulesImported.WithLabelValues("rejected").Add(float64(len(rejected)))
	if len(valid) == 0 {
		return 0, rejected, nil
	}
	var err error
	if len(valid) == 1 {
		err = s.rules.Upsert(ctx, &valid[0])
	} else {
		err = s.rules.UpsertBatch(ctx, valid)
	}
	if err != nil {
		metrics.RulesImported.WithLabelValues("failed").Add(float64(len(valid)))
		return 0, rejected, fmt.Errorf("import rules: %w", err)
	}
	metrics.RulesImported.WithLabelValues("imported").Add(float64(len(valid)))
	return len(valid), rejected, nil
}

// NormalizeGeometry rewrites a stored geometry into canonical form. It
// returns the previous text so a caller can restore it.
func (s *RuleService) NormalizeGeometry(ctx context.Context, id string) (previous, normalized string, err error) {
	rule, err := s.live(ctx, id)
	if err != nil {
		return "", "", err
	}
	normalized, err = s.geometry.Normalize(ctx, rule.Geometry)
	if err != nil {
		return "", "", err
	}
	if normalized == rule.Geometry {
		return rule.Geometry, normalized, nil
	}
	if err := s.rules.UpdateGeometry(ctx, id, normalized); err != nil {
		return "", "", fmt.Errorf("save normalized geometry: %w", err)
	}
	s.invalidate(ctx, id)
	return rule.Geometry, normalized, nil
}

// RestoreGeometry puts back a geometry saved by NormalizeGeometry.
func (s *RuleService) RestoreGeometry(ctx context.Context, id, geometry string) error {
	if err := s.rules.UpdateGeometry(ctx, id, geometry); err != nil {
		return fmt.Errorf("restore geometry: %w", err)
	}
	s.invalidate(ctx, id)
	return nil
}

// Announce publishes an event and, unlike the request path, reports failure.
func (s *RuleService) Announce(ctx context.Context, event domain.RuleEvent) error {
	if event.Time.IsZero() {
		event.Time = s.now()
	}
	metrics.RuleEvents.WithLabelValues(string(event.Type)).Inc()
	if s.events == nil {
		return nil
	}
	if err := s.events.PublishRuleEvent(ctx, event); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// validate checks a rule as submitted and returns it with the geometry
// normalised and enumerations canonicalised.
func (s *RuleService) validate(ctx context.Context, in domain.Rule) (domain.Rule, error) {
	var problems []error
	if in.TaxonKey <= 0 && in.DatasetKey == "" {
		problems = append(problems, errors.New("taxon_key or dataset_key is required"))
	}
	if in.TaxonKey < 0 {
		problems = append(problems, errors.New("taxon_key must be positive"))
	}
	annotation, err := domain.ParseAnnotationType(string(in.Annotation))
	if err != nil {
		problems = append(problems, err)
	}
	in.Annotation = annotation
	if _, err := domain.ParseYearRange(in.YearRange); err != nil {
		problems = append(problems, err)
	}
	in.YearRange = strings.ReplaceAll(strings.TrimSpace(in.YearRange), " ", "")
	in.BasisOfRecord = upperAll(in.BasisOfRecord)
	if len(problems) > 0 {
		return in, fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(problems...))
	}

	normalized, err := s.geometry.Normalize(ctx, in.Geometry)
	if err != nil {
		return in, err
	}
	in.Geometry = normalized
	return in, nil
}

// live loads a rule that has not been deleted.
func (s *RuleService) live(ctx context.Context, id string) (*domain.Rule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.IsDeleted() {
		return nil, fmt.Errorf("rule %s is deleted: %w", id, domain.ErrConflict)
	}
	return rule, nil
}

// owned loads a live rule created by user.
func (s *RuleService) owned(ctx context.Context, user, id string) (*domain.Rule, error) {
	if user == "" {
		return nil, domain.ErrUnauthorized
	}
	rule, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.CreatedBy != user {
		return nil, fmt.Errorf("rule %s belongs to %s: %w", id, rule.CreatedBy, domain.ErrForbidden)
	}
	return rule, nil
}

func (s *RuleService) decoded(ctx context.Context, id string) (*domain.Rule, *wkt.MultiPolygon, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.geometry.Parse(ctx, rule.Geometry)
	if err != nil {
		return nil, nil, err
	}
	return rule, res.Geometry, nil
}

func (s *RuleService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, RuleCacheKey(id)); err != nil {
		s.logger.Warn("cache invalidation failed", "rule_id", id, "error", err)
	}
}

// publish is best-effort: the write already happened.
func (s *RuleService) publish(ctx context.Context, t domain.RuleEventType, rule *domain.Rule, user string) {
	event := domain.RuleEvent{Type: t, RuleID: rule.ID, TaxonKey: rule.TaxonKey, User: user}
	if err := s.Announce(ctx, event); err != nil {
		s.logger.Warn("rule event not published", "type", t, "rule_id", rule.ID, "error", err)
	}
}

func upperAll(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
