package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/core/ports"
	"github.com/samirrijal/annotation/internal/core/usecases"
)

// --- Mock RuleRepository ---

type mockRuleRepo struct {
	createFn         func(ctx context.Context, rule *domain.Rule) error
	getByIDFn        func(ctx context.Context, id string) (*domain.Rule, error)
	listFn           func(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, int, error)
	updateFn         func(ctx context.Context, rule *domain.Rule) error
	updateGeometryFn func(ctx context.Context, id, geometry string) error
	deleteFn         func(ctx context.Context, id, user string) error
	voteFn           func(op, id, user string) error
	metricsFn        func(ctx context.Context, filter domain.MetricsFilter) (*domain.RuleMetrics, error)
	upsertFn         func(ctx context.Context, rule *domain.Rule) error
	upsertBatchFn    func(ctx context.Context, rules []domain.Rule) error
}

func (m *mockRuleRepo) Create(ctx context.Context, rule *domain.Rule) error {
	if m.createFn != nil {
		return m.createFn(ctx, rule)
	}
	return nil
}

func (m *mockRuleRepo) Upsert(ctx context.Context, rule *domain.Rule) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, rule)
	}
	return nil
}

func (m *mockRuleRepo) UpsertBatch(ctx context.Context, rules []domain.Rule) error {
	if m.upsertBatchFn != nil {
		return m.upsertBatchFn(ctx, rules)
	}
	return nil
}

func (m *mockRuleRepo) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockRuleRepo) List(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockRuleRepo) Update(ctx context.Context, rule *domain.Rule) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, rule)
	}
	return nil
}

func (m *mockRuleRepo) UpdateGeometry(ctx context.Context, id, geometry string) error {
	if m.updateGeometryFn != nil {
		return m.updateGeometryFn(ctx, id, geometry)
	}
	return nil
}

func (m *mockRuleRepo) Delete(ctx context.Context, id, user string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id, user)
	}
	return nil
}

func (m *mockRuleRepo) vote(op, id, user string) error {
	if m.voteFn != nil {
		return m.voteFn(op, id, user)
	}
	return nil
}

func (m *mockRuleRepo) AddSupport(ctx context.Context, id, user string) error {
	return m.vote("support", id, user)
}

func (m *mockRuleRepo) RemoveSupport(ctx context.Context, id, user string) error {
	return m.vote("removeSupport", id, user)
}

func (m *mockRuleRepo) AddContest(ctx context.Context, id, user string) error {
	return m.vote("contest", id, user)
}

func (m *mockRuleRepo) RemoveContest(ctx context.Context, id, user string) error {
	return m.vote("removeContest", id, user)
}

func (m *mockRuleRepo) Metrics(ctx context.Context, filter domain.MetricsFilter) (*domain.RuleMetrics, error) {
	if m.metricsFn != nil {
		return m.metricsFn(ctx, filter)
	}
	return &domain.RuleMetrics{}, nil
}

// --- Mock CommentRepository ---

type mockCommentRepo struct {
	createFn  func(ctx context.Context, c *domain.Comment) error
	getByIDFn func(ctx context.Context, id string) (*domain.Comment, error)
	listFn    func(ctx context.Context, ruleID string) ([]domain.Comment, error)
	deleteFn  func(ctx context.Context, id, user string) error
}

func (m *mockCommentRepo) Create(ctx context.Context, c *domain.Comment) error {
	if m.createFn != nil {
		return m.createFn(ctx, c)
	}
	return nil
}

func (m *mockCommentRepo) GetByID(ctx context.Context, id string) (*domain.Comment, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockCommentRepo) ListByRule(ctx context.Context, ruleID string) ([]domain.Comment, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ruleID)
	}
	return nil, nil
}

func (m *mockCommentRepo) Delete(ctx context.Context, id, user string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id, user)
	}
	return nil
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.RuleEvent
	err    error
}

func (m *mockPublisher) PublishRuleEvent(ctx context.Context, e domain.RuleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockPublisher) PublishBroadcast(ctx context.Context, data []byte) error { return m.err }

func (m *mockPublisher) types() []domain.RuleEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RuleEventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Helpers ---

const testSquare = "POLYGON ((-3 43, -2 43, -2 44, -3 44, -3 43))"

func liveRule(id, owner string) *domain.Rule {
	return &domain.Rule{
		ID:          id,
		TaxonKey:    2435099,
		Geometry:    testSquare,
		Annotation:  domain.AnnotationNative,
		SupportedBy: []string{},
		ContestedBy: []string{},
		Created:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		CreatedBy:   owner,
	}
}

func newRuleService(rules *mockRuleRepo, comments *mockCommentRepo, pub *mockPublisher, cache *mockCache) *usecases.RuleService {
	if comments == nil {
		comments = &mockCommentRepo{}
	}
	var (
		events ports.EventPublisher
		cs     ports.CacheService
	)
	if pub != nil {
		events = pub
	}
	if cache != nil {
		cs = cache
	}
	return usecases.NewRuleService(rules, comments, nil, events, cs, nil)
}

// --- Tests ---

func TestRuleService_Create(t *testing.T) {
	var stored *domain.Rule
	repo := &mockRuleRepo{
		createFn: func(ctx context.Context, rule *domain.Rule) error {
			stored = rule
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := newRuleService(repo, nil, pub, nil)

	rule, err := svc.Create(context.Background(), "alice", domain.Rule{
		TaxonKey:      2435099,
		Geometry:      "polygon ((-3 43,-2 43,-2 44,-3 44))",
		Annotation:    "introduced",
		BasisOfRecord: []string{" human_observation "},
		YearRange:     "1990, *",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored == nil || stored.ID == "" {
		t.Fatal("rule was not stored with an id")
	}
	if rule.Geometry != testSquare {
		t.Errorf("expected normalized geometry, got %q", rule.Geometry)
	}
	if rule.Annotation != domain.AnnotationIntroduced {
		t.Errorf("expected INTRODUCED, got %s", rule.Annotation)
	}
	if rule.CreatedBy != "alice" {
		t.Errorf("expected creator alice, got %s", rule.CreatedBy)
	}
	if rule.YearRange != "1990,*" {
		t.Errorf("expected compact year range, got %q", rule.YearRange)
	}
	if len(rule.BasisOfRecord) != 1 || rule.BasisOfRecord[0] != "HUMAN_OBSERVATION" {
		t.Errorf("unexpected basis of record %v", rule.BasisOfRecord)
	}
	if got := pub.types(); len(got) != 1 || got[0] != domain.RuleCreated {
		t.Errorf("expected one created event, got %v", got)
	}
}

func TestRuleService_Create_Validation(t *testing.T) {
	svc := newRuleService(&mockRuleRepo{}, nil, nil, nil)

	tests := []struct {
		name string
		user string
		rule domain.Rule
		want error
	}{
		{"no user", "", domain.Rule{TaxonKey: 1, Geometry: testSquare, Annotation: "NATIVE"}, domain.ErrUnauthorized},
		{"no target", "bob", domain.Rule{Geometry: testSquare, Annotation: "NATIVE"}, domain.ErrValidation},
		{"bad annotation", "bob", domain.Rule{TaxonKey: 1, Geometry: testSquare, Annotation: "ALIEN"}, domain.ErrValidation},
		{"bad years", "bob", domain.Rule{TaxonKey: 1, Geometry: testSquare, Annotation: "NATIVE", YearRange: "2000,1990"}, domain.ErrValidation},
		{"bad geometry", "bob", domain.Rule{TaxonKey: 1, Geometry: "POLYGON ((0 0, 1 1))", Annotation: "NATIVE"}, domain.ErrInvalidGeometry},
		{"no geometry", "bob", domain.Rule{TaxonKey: 1, Annotation: "NATIVE"}, domain.ErrInvalidGeometry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.user, tt.rule)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRuleService_Get_UsesCache(t *testing.T) {
	calls := 0
	repo := &mockRuleRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Rule, error) {
			calls++
			return liveRule(id, "alice"), nil
		},
	}
	cache := newMockCache()
	svc := newRuleService(repo, nil, nil, cache)

	for i := 0; i < 3; i++ {
		rule, err := svc.Get(context.Background(), "r1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rule.ID != "r1" {
			t.Errorf("expected r1, got %s", rule.ID)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 repository call, got %d", calls)
	}
	if _, err := cache.Get(context.Background(), usecases.RuleCacheKey("r1")); err != nil {
		t.Error("expected the rule to be cached")
	}
}

func TestRuleService_Get_Deleted(t *testing.T) {
	deleted := time.Now()
	repo := &mockRuleRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Rule, error) {
			r := liveRule(id, "alice")
			r.Deleted, r.DeletedBy = &deleted, "alice"
			return r, nil
		},
	}
	svc := newRuleService(repo, nil, nil, nil)
	rule, err := svc.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rule.IsDeleted() {
		t.Error("expected the deleted rule to be returned")
	}
}

func TestRuleService_List_Limits(t *testing.T) {
	var got domain.RuleFilter
	repo := &mockRuleRepo{
		listFn: func(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, int, error) {
			got = filter
			return []domain.Rule{*liveRule("r1", "alice")}, 1, nil
		},
	}
	svc := newRuleService(repo, nil, nil, nil)

	if _, _, err := svc.List(context.Background(), domain.RuleFilter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != usecases.DefaultRuleLimit {
		t.Errorf("expected default limit %d, got %d", usecases.DefaultRuleLimit, got.Limit)
	}

	if _, _, err := svc.List(context.Background(), domain.RuleFilter{Limit: 5000, Offset: -4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != usecases.MaxRuleLimit || got.Offset != 0 {
		t.Errorf("expected limit %d offset 0, got %d %d", usecases.MaxRuleLimit, got.Limit, got.Offset)
	}
}

func TestRuleService_List_Geometry(t *testing.T) {
	var got domain.RuleFilter
	repo := &mockRuleRepo{
		listFn: func(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, int, error) {
			got = filter
			return nil, 0, nil
		},
	}
	svc := newRuleService(repo, nil, nil, nil)

	_, _, err := svc.List(context.Background(), domain.RuleFilter{Geometry: "POLYGON ((0 0, 1 0, 1 1))"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Geometry != "POLYGON ((0 0, 1 0, 1 1, 0 0))" {
		t.Errorf("expected the filter geometry normalized, got %q", got.Geometry)
	}

	_, _, err = svc.List(context.Background(), domain.RuleFilter{Geometry: "POINT (0 0)"})
	if !errors.Is(err, domain.ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry, got %v", err)
	}

	_, _, err = svc.List(context.Background(), domain.RuleFilter{YearRange: "abc"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestRuleService_Update(t *testing.T) {
	var saved *domain.Rule
	repo := &mockRuleRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Rule, error) {
			return liveRule(id, "alice"), nil
		},
		updateFn: func(ctx context.Context, rule *domain.Rule) error {
			saved = rule
			return nil
		},
	}
	cache := newMockCache()
	_ = cache.Set(context.Background(), usecases.RuleCacheKey("r1"), []byte("{}"), 60)
	pub := &mockPublisher{}
	svc := newRuleService(repo, nil, pub, cache)

	in := domain.Rule{TaxonKey: 5, Geometry: testSquare, Annotation: "VAGRANT", CreatedBy: "mallory"}
	rule, err := svc.Update(context.Background(), "alice", "r1", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved == nil || saved.Annotation != domain.AnnotationVagrant || saved.TaxonKey != 5 {
		t.Errorf("unexpected saved rule %+v", saved)
	}
	if rule.CreatedBy != "alice" {
		t.Errorf("creator must not change, got %s", rule.CreatedBy)
	}
	if _, err := cache.Get(context.Background(), usecases.RuleCacheKey("r1")); err == nil {
		t.Error("expected the cache entry to be invalidated")
	}
	if got := pub.types(); len(got) != 1 || got[0] != domain.RuleUpdated {
		t.Errorf("expected one updated event, got %v", got)
	}
}

func TestRuleService_Update_Rejections(t *testing.T) {
	deleted := time.Now()
	repo := &mockRuleRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Rule, error) {
			switch id {
			case "gone":
				r := liveRule(id, "alice")
				r.Deleted = &deleted
				return r, nil
			case "r1":
				return liveRule(id, "alice"), nil
			}
			return nil, domain.ErrNotFound
		},
		updateFn: func(ctx context.Context, rule *domain.Rule) error {
			t.Error("update must not be called")
			return nil
		},
	}
	svc := newRuleService(repo, nil, nil, nil)
	in := domain.Rule{TaxonKey: 5, Geometry: testSquare, Annotation: "NATIVE"}

	tests := []struct {
		name, user, id string
		want           error
	}{
		{"not creator", "bob", "r1", domain.ErrForbidden},
		{"deleted", "alice", "gone", domain.ErrConflict},
		{"missing", "alice", "nope", domain.ErrNotFound},
		{"anonymous", "", "r1", domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(context.Background(), tt.user, tt.id, in)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRuleService_Delete(t *testing.T) {
	var deletedBy string
	repo := &mockRuleRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Rule, error) {
			return liveRule(id, "alice"), nil
		},
		deleteFn: func(ctx context.Context, id, user string) error {
			deletedBy = user
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := newRuleService(repo, nil, pub, nil)

	if err := svc.Delete(context.Background(), "bob", "r1"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := svc.Delete(context.Background(), "alice", "r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deletedBy != "alice" {
		t.Errorf("expected delete by alice, got %q", deletedBy)
	}
	if got := pub.types(); len(got) != 1 || got[0] != domain.RuleDeleted {
		t.Errorf("expected one deleted event, got %v", got)
	}
}

func TestRuleService_Votes(t *testing.T) {
	state := liveRule("r1", "alice")
	repo := &mockRuleRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Rule, error) {
			r := *state
			return &r, nil
		},
		voteFn: func(op, id, user string) error {
			remove := func(list []string) []string {
				out := []string{}
				for _, u := range list {
					if u != user {
						out = append(out, u)
					}
				}
				return out
			}
			switch op {
			case "support":
				state.ContestedBy = remove(state.ContestedBy)
				state.SupportedBy = append(remove(state.SupportedBy), user)
			case "contest":
				state.SupportedBy = remove(state.SupportedBy)
				state.ContestedBy = append(remove(state.ContestedBy), user)
			case "removeSupport":
				state.SupportedBy = remove(state.SupportedBy)
			case "removeContest":
				state.ContestedBy = remove(state.ContestedBy)
			}
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := newRuleService(repo, nil, pub, nil)
	ctx := context.Background()

	rule, err := svc.Support(ctx, "bob", "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rule.SupportedBy) != 1 || len(rule.ContestedBy) != 0 {
		t.Fatalf("unexpected votes after support: %+v", rule)
	}

	rule, _ = svc.Contest(ctx, "bob", "r1")
	if len(rule.SupportedBy) != 0 || len(rule.ContestedBy) != 1 {
		t.Fatalf("contest must replace support: %+v", rule)
	}

	rule, _ = svc.RemoveContest(ctx, "bob", "r1")
	if len(rule.ContestedBy) != 0 {
		t.Fatalf("expected contest withdrawn: %+v", rule)
	}

	want := []domain.RuleEventType{domain.RuleSupported, domain.RuleContested, domain.RuleVotesCleared}
	got := pub.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if _, err := svc.Support(ctx, "", "r1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRuleService_Comments(t *testing.T) {
	var created *domain.Comment
	rules := &mockRuleRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Rule, error) {
			return liveRule(id, "alice"), nil
		},
	}
	comments := &mockCommentRepo{
		createFn: func(ctx context.Context, c *domain.Comment) error {
			created = c
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Comment, error) {
			if created == nil || created.ID != id {
				return nil, domain.ErrNotFound
			}
			c := *created
			return &c, nil
		},
	}
	svc := newRuleService(rules, comments, &mockPublisher{}, nil)
	ctx := context.Background()

	if _, err := svc.AddComment(ctx, "bob", "r1", "   "); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for a blank comment, got %v", err)
	}

	c, err := svc.AddComment(ctx, "bob", "r1", " found outside the range ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Comment != "found outside the range" || c.CreatedBy != "bob" || c.RuleID != "r1" {
		t.Errorf("unexpected comment %+v", c)
	}

	if err := svc.DeleteComment(ctx, "alice", "r1", c.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteComment(ctx, "bob", "r2", c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a comment on another rule, got %v", err)
	}
	if err := svc.DeleteComment(ctx, "bob", "r1", c.ID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRuleService_PublishFailureDoesNotFailWrite(t *testing.T) {
	repo := &mockRuleRepo{}
	svc := newRuleService(repo, nil, &mockPublisher{err: errors.New("nats down")}, nil)

	_, err := svc.Create(context.Background(), "alice", domain.Rule{TaxonKey: 1, Geometry: testSquare, Annotation: "NATIVE"})
	if err != nil {
		t.Fatalf("expected the write to succeed, got %v", err)
	}
}

func TestRuleService_Metrics(t *testing.T) {
	repo := &mockRuleRepo{
		metricsFn: func(ctx context.Context, filter domain.MetricsFilter) (*domain.RuleMetrics, error) {
			if filter.Username != "alice" {
				t.Errorf("expected username filter alice, got %q", filter.Username)
			}
			return &domain.RuleMetrics{RuleCount: 3, TaxonCount: 2}, nil
		},
	}
	svc := newRuleService(repo, nil, nil, nil)
	m, err := svc.Metrics(context.Background(), domain.MetricsFilter{Username: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Username != "alice" || m.RuleCount != 3 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestRuleService_Exports(t *testing.T) {
	repo := &mockRuleRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Rule, error) {
			return liveRule(id, "alice"), nil
		},
	}
	svc := newRuleService(repo, nil, nil, nil)

	data, err := svc.GeoJSON(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var feature struct {
		Type     string `json:"type"`
		ID       string `json:"id"`
		Geometry struct {
			Type        string          `json:"type"`
			Coordinates [][][][]float64 `json:"coordinates"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal(data, &feature); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if feature.Type != "Feature" || feature.ID != "r1" || feature.Geometry.Type != "MultiPolygon" {
		t.Errorf("unexpected feature %s", data)
	}
	if first := feature.Geometry.Coordinates[0][0][0]; first[0] != -3 || first[1] != 43 {
		t.Errorf("expected lon,lat order in GeoJSON, got %v", first)
	}

	kml, err := svc.KML(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(kml), "<Placemark>") || !strings.Contains(string(kml), "<Polygon>") {
		t.Errorf("unexpected kml %s", kml)
	}
}

func TestRuleService_NormalizeAndRestore(t *testing.T) {
	stored := "POLYGON((-3 43,-2 43,-2 44,-3 44))"
	repo := &mockRuleRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Rule, error) {
			r := liveRule(id, "alice")
			r.Geometry = stored
			return r, nil
		},
		updateGeometryFn: func(ctx context.Context, id, geometry string) error {
			stored = geometry
			return nil
		},
	}
	svc := newRuleService(repo, nil, nil, nil)

	prev, normalized, err := svc.NormalizeGeometry(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev != "POLYGON((-3 43,-2 43,-2 44,-3 44))" {
		t.Errorf("unexpected previous geometry %q", prev)
	}
	if normalized != testSquare || stored != testSquare {
		t.Errorf("expected %q stored, got %q", testSquare, stored)
	}

	if err := svc.RestoreGeometry(context.Background(), "r1", prev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored != prev {
		t.Errorf("expected geometry restored, got %q", stored)
	}
}

func TestRuleService_ImportBatch(t *testing.T) {
	var written []domain.Rule
	repo := &mockRuleRepo{
		upsertBatchFn: func(ctx context.Context, rules []domain.Rule) error {
			written = rules
			return nil
		},
	}
	svc := newRuleService(repo, nil, nil, nil)

	in := []domain.Rule{
		{ID: "a", TaxonKey: 1, Geometry: "polygon((-3 43,-2 43,-2 44,-3 44))", Annotation: "native"},
		{ID: "b", TaxonKey: 2, Geometry: "POLYGON ((0 0, 1 1))", Annotation: "NATIVE"},
		{TaxonKey: 3, Geometry: testSquare, Annotation: "NATIVE"},
		{ID: "d", TaxonKey: 4, Geometry: testSquare, Annotation: "MANAGED", CreatedBy: "curator"},
	}
	n, rejected, err := svc.ImportBatch(context.Background(), "importer", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 || len(written) != 2 {
		t.Fatalf("expected 2 imported, got %d (%d written)", n, len(written))
	}
	if len(rejected) != 2 || rejected[0].ID != "b" || !errors.Is(rejected[0].Err, domain.ErrInvalidGeometry) {
		t.Errorf("unexpected rejections %+v", rejected)
	}
	if !errors.Is(rejected[1].Err, domain.ErrValidation) {
		t.Errorf("expected missing id to be a validation error, got %v", rejected[1].Err)
	}
	if written[0].Geometry != testSquare || written[0].Annotation != domain.AnnotationNative {
		t.Errorf("expected canonical rule, got %+v", written[0])
	}
	if written[0].CreatedBy != "importer" || written[1].CreatedBy != "curator" {
		t.Errorf("unexpected creators %q, %q", written[0].CreatedBy, written[1].CreatedBy)
	}
	if written[0].Created.IsZero() || written[0].SupportedBy == nil {
		t.Errorf("expected defaults filled, got %+v", written[0])
	}
}

func TestRuleService_ImportBatch_SingleRecord(t *testing.T) {
	var single *domain.Rule
	repo := &mockRuleRepo{
		upsertFn: func(ctx context.Context, rule *domain.Rule) error {
			single = rule
			return nil
		},
		upsertBatchFn: func(ctx context.Context, rules []domain.Rule) error {
			t.Fatal("a single record should not go through the batch path")
			return nil
		},
	}
	svc := newRuleService(repo, nil, nil, nil)

	n, rejected, err := svc.ImportBatch(context.Background(), "importer", []domain.Rule{
		{ID: "a", TaxonKey: 1, Geometry: testSquare, Annotation: "native"},
		{ID: "b", TaxonKey: 2, Geometry: "POLYGON ((0 0, 1 1))", Annotation: "NATIVE"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || len(rejected) != 1 {
		t.Fatalf("expected 1 imported and 1 rejected, got %d and %d", n, len(rejected))
	}
	if single == nil || single.ID != "a" || single.Annotation != domain.AnnotationNative || single.CreatedBy != "importer" {
		t.Errorf("unexpected upserted rule %+v", single)
	}
}

func TestRuleService_ImportBatch_StoreFailure(t *testing.T) {
	repo := &mockRuleRepo{
		upsertFn:      func(ctx context.Context, rule *domain.Rule) error { return errors.New("db down") },
		upsertBatchFn: func(ctx context.Context, rules []domain.Rule) error { return errors.New("db down") },
	}
	svc := newRuleService(repo, nil, nil, nil)

	one := []domain.Rule{{ID: "a", TaxonKey: 1, Geometry: testSquare, Annotation: "NATIVE"}}
	if _, _, err := svc.ImportBatch(context.Background(), "importer", one); err == nil {
		t.Fatal("expected error from single upsert")
	}
	two := append(one, domain.Rule{ID: "b", TaxonKey: 2, Geometry: testSquare, Annotation: "MANAGED"})
	if _, _, err := svc.ImportBatch(context.Background(), "importer", two); err == nil {
		t.Fatal("expected error from batch upsert")
	}
}
