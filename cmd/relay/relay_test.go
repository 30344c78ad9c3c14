package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/samirrijal/annotation/internal/core/domain"
)

type fakeCache struct{ deleted []string }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("miss")
}
func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	return nil
}
func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeScheduler struct {
	scheduled []string
	err       error
}

func (f *fakeScheduler) ScheduleNormalization(ctx context.Context, ruleID string) error {
	f.scheduled = append(f.scheduled, ruleID)
	return f.err
}

func newTestRelay() (*relay, *fakeCache, *fakeScheduler) {
	c, s := &fakeCache{}, &fakeScheduler{}
	return &relay{cache: c, scheduler: s, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, c, s
}

func TestRelay_SchedulesNewAndEditedRules(t *testing.T) {
	r, c, s := newTestRelay()
	ctx := context.Background()

	for _, typ := range []domain.RuleEventType{domain.RuleCreated, domain.RuleUpdated} {
		if err := r.handle(ctx, domain.RuleEvent{Type: typ, RuleID: "r1"}); err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
	}
	if len(s.scheduled) != 2 {
		t.Errorf("expected 2 schedules, got %v", s.scheduled)
	}
	if len(c.deleted) != 2 || c.deleted[0] != "rules:id:r1" {
		t.Errorf("unexpected invalidations %v", c.deleted)
	}
}

func TestRelay_OtherEventsOnlyInvalidate(t *testing.T) {
	r, c, s := newTestRelay()

	for _, typ := range []domain.RuleEventType{domain.RuleSupported, domain.RuleDeleted, domain.RuleNormalized, domain.RuleCommented} {
		if err := r.handle(context.Background(), domain.RuleEvent{Type: typ, RuleID: "r2"}); err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
	}
	if len(s.scheduled) != 0 {
		t.Errorf("normalized events must not reschedule, got %v", s.scheduled)
	}
	if len(c.deleted) != 4 {
		t.Errorf("expected 4 invalidations, got %d", len(c.deleted))
	}
}

func TestRelay_ScheduleFailureRedelivers(t *testing.T) {
	r, _, s := newTestRelay()
	s.err = errors.New("temporal down")

	if err := r.handle(context.Background(), domain.RuleEvent{Type: domain.RuleCreated, RuleID: "r3"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRelay_WithoutBackends(t *testing.T) {
	r := &relay{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := r.handle(context.Background(), domain.RuleEvent{Type: domain.RuleCreated, RuleID: "r4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
