package sqlitekv

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentrt/pkg/models"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBackendStoreAndGet(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	record := &models.MemoryRecord{
		Kind:       models.MemoryShortTerm,
		Content:    "the user prefers dark mode",
		Importance: 0.4,
	}
	if err := b.Store(ctx, record); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if record.ID == "" {
		t.Fatal("expected ID to be assigned")
	}

	got, err := b.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Content != record.Content {
		t.Errorf("content = %q, want %q", got.Content, record.Content)
	}
	if got.Kind != models.MemoryShortTerm {
		t.Errorf("kind = %s, want %s", got.Kind, models.MemoryShortTerm)
	}
}

func TestBackendSearchRanksByKeywordAndImportance(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	low := &models.MemoryRecord{Kind: models.MemoryLongTerm, Content: "likes dark mode themes", Importance: 0.1}
	high := &models.MemoryRecord{Kind: models.MemoryLongTerm, Content: "strongly prefers dark mode everywhere", Importance: 0.9}
	unrelated := &models.MemoryRecord{Kind: models.MemoryLongTerm, Content: "favorite food is pizza", Importance: 0.9}

	for _, r := range []*models.MemoryRecord{low, high, unrelated} {
		if err := b.Store(ctx, r); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	matches, err := b.Search(ctx, models.MemoryQuery{Text: "dark mode", Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Record.ID != high.ID {
		t.Errorf("expected higher-importance match to rank first, got %s", matches[0].Record.Content)
	}
}

func TestBackendTouchAndConsolidate(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	record := &models.MemoryRecord{Kind: models.MemoryShortTerm, Content: "asked about pricing", Importance: 0.2}
	if err := b.Store(ctx, record); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	for i := 0; i < models.ConsolidateAccessThreshold; i++ {
		if err := b.Touch(ctx, record.ID); err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
	}

	promoted, err := b.Consolidate(ctx)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if promoted != 1 {
		t.Fatalf("promoted = %d, want 1", promoted)
	}

	got, err := b.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Kind != models.MemoryLongTerm {
		t.Errorf("kind = %s, want %s after consolidation", got.Kind, models.MemoryLongTerm)
	}
}

func TestBackendConsolidateByImportance(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	record := &models.MemoryRecord{Kind: models.MemoryShortTerm, Content: "critical safety note", Importance: 0.95}
	if err := b.Store(ctx, record); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	promoted, err := b.Consolidate(ctx)
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	if promoted != 1 {
		t.Fatalf("promoted = %d, want 1", promoted)
	}
}

func TestBackendForgetRespectsCap(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := &models.MemoryRecord{
			Kind:       models.MemoryLongTerm,
			Content:    "filler memory",
			Importance: float64(i) / 10,
			CreatedAt:  time.Now().Add(-time.Duration(i) * 24 * time.Hour),
		}
		if err := b.Store(ctx, r); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	evicted, err := b.Forget(ctx, 3)
	if err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}

	count, err := b.Count(ctx, "")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestBackendDeleteAndCount(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	r1 := &models.MemoryRecord{Kind: models.MemoryEpisodic, Content: "turn 1"}
	r2 := &models.MemoryRecord{Kind: models.MemorySemantic, Content: "turn 2"}
	b.Store(ctx, r1)
	b.Store(ctx, r2)

	count, err := b.Count(ctx, models.MemoryEpisodic)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	if err := b.Delete(ctx, []string{r1.ID}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := b.Get(ctx, r1.ID); err == nil {
		t.Fatal("expected error getting deleted record")
	}
}
