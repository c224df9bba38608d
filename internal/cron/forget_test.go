package cron

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentrt/internal/memory/backend/sqlitekv"
	"github.com/haasonsaas/agentrt/pkg/models"
)

func newTestBackend(t *testing.T) *sqlitekv.Backend {
	t.Helper()
	b, err := sqlitekv.New(sqlitekv.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("sqlitekv.New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNewForgetScheduler_InvalidSchedule(t *testing.T) {
	b := newTestBackend(t)
	if _, err := NewForgetScheduler(b, "not a schedule", 100); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestNewForgetScheduler_NilBackend(t *testing.T) {
	if _, err := NewForgetScheduler(nil, "@every 1h", 100); err == nil {
		t.Fatal("expected error for nil backend")
	}
}

func TestForgetScheduler_RunOnceConsolidates(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	record := &models.MemoryRecord{
		Kind:       models.MemoryShortTerm,
		Content:    "critical onboarding note",
		Importance: 0.95,
	}
	if err := b.Store(ctx, record); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	sched, err := NewForgetScheduler(b, "@every 1h", 1000)
	if err != nil {
		t.Fatalf("NewForgetScheduler() error = %v", err)
	}

	promoted, evicted, err := sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if promoted != 1 {
		t.Errorf("promoted = %d, want 1", promoted)
	}
	if evicted != 0 {
		t.Errorf("evicted = %d, want 0", evicted)
	}

	got, err := b.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Kind != models.MemoryLongTerm {
		t.Errorf("Kind = %s, want %s", got.Kind, models.MemoryLongTerm)
	}
}

func TestForgetScheduler_RunOnceEvictsOverCap(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := &models.MemoryRecord{Kind: models.MemoryLongTerm, Content: "filler", Importance: 0.1}
		if err := b.Store(ctx, r); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	sched, err := NewForgetScheduler(b, "@every 1h", 2)
	if err != nil {
		t.Fatalf("NewForgetScheduler() error = %v", err)
	}

	_, evicted, err := sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if evicted != 3 {
		t.Errorf("evicted = %d, want 3", evicted)
	}

	count, err := b.Count(ctx, "")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestForgetScheduler_StartStop(t *testing.T) {
	b := newTestBackend(t)
	sched, err := NewForgetScheduler(b, "@every 1h", 100)
	if err != nil {
		t.Fatalf("NewForgetScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() second call error = %v", err)
	}
	cancel()

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
