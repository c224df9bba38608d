package servicemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/memory/backend"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// memoryService exposes the same memory operations the iteration engine uses
// internally, as MCP tools a session can call directly.
type memoryService struct {
	backend backend.Backend
}

func newMemoryService(b backend.Backend, config map[string]any) (Service, error) {
	if b == nil {
		return nil, fmt.Errorf("memory service requires a configured memory backend")
	}
	return &memoryService{backend: b}, nil
}

func (s *memoryService) Tools() []agent.Tool {
	return []agent.Tool{
		&memoryStoreTool{s}, &memorySearchTool{s}, &memoryGetRecentTool{s},
		&memoryGetImportantTool{s}, &memoryUpdateTool{s}, &memoryDeleteTool{s},
		&memoryConsolidateTool{s}, &memoryStatsTool{s},
	}
}

func (s *memoryService) Close(ctx context.Context) error { return nil }

// --- memory_store ---

type memoryStoreTool struct{ svc *memoryService }

type memoryStoreParams struct {
	Kind       string         `json:"kind,omitempty" jsonschema:"description=short-term|long-term|episodic|semantic; defaults to short-term"`
	Content    string         `json:"content" jsonschema:"required,description=Text to remember"`
	Importance float64        `json:"importance,omitempty" jsonschema:"description=Weight in [0,1] used for ranking and consolidation"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (t *memoryStoreTool) Name() string        { return "memory_store" }
func (t *memoryStoreTool) Description() string { return "Stores a new memory record." }
func (t *memoryStoreTool) Schema() json.RawMessage {
	return reflectSchema("memoryStoreParams", memoryStoreParams{})
}

func (t *memoryStoreTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p memoryStoreParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if p.Content == "" {
		return &agent.ToolResult{IsError: true, Content: "content is required"}, nil
	}
	kind := models.MemoryKind(p.Kind)
	if kind == "" {
		kind = models.MemoryShortTerm
	}

	record := &models.MemoryRecord{
		ID:         uuid.NewString(),
		Kind:       kind,
		Content:    p.Content,
		Importance: p.Importance,
		CreatedAt:  time.Now(),
		Metadata:   p.Metadata,
	}
	if err := t.svc.backend.Store(ctx, record); err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(record)
}

// --- memory_search ---

type memorySearchTool struct{ svc *memoryService }

type memorySearchParams struct {
	Text  string `json:"text" jsonschema:"description=Keyword query; empty matches every record"`
	Kind  string `json:"kind,omitempty" jsonschema:"description=Restrict to one memory kind"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum matches to return; defaults to 10"`
}

func (t *memorySearchTool) Name() string        { return "memory_search" }
func (t *memorySearchTool) Description() string { return "Ranks memory records against a keyword query." }
func (t *memorySearchTool) Schema() json.RawMessage {
	return reflectSchema("memorySearchParams", memorySearchParams{})
}

func (t *memorySearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p memorySearchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	matches, err := t.svc.backend.Search(ctx, models.MemoryQuery{Text: p.Text, Kind: models.MemoryKind(p.Kind), Limit: limit})
	if err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(map[string]any{"matches": matches})
}

// --- memory_get_recent ---

type memoryGetRecentTool struct{ svc *memoryService }

type memoryLimitParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum records to return; defaults to 10"`
}

func (t *memoryGetRecentTool) Name() string        { return "memory_get_recent" }
func (t *memoryGetRecentTool) Description() string { return "Returns the most recently created memory records." }
func (t *memoryGetRecentTool) Schema() json.RawMessage {
	return reflectSchema("memoryLimitParams", memoryLimitParams{})
}

func (t *memoryGetRecentTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p memoryLimitParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
		}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	// An empty-text query matches every record; recency ordering is not a
	// search concern so it is applied here after the fact.
	matches, err := t.svc.backend.Search(ctx, models.MemoryQuery{Text: "", Limit: 0})
	if err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Record.CreatedAt.After(matches[j].Record.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return jsonToolResult(map[string]any{"matches": matches})
}

// --- memory_get_important ---

type memoryGetImportantTool struct{ svc *memoryService }

func (t *memoryGetImportantTool) Name() string { return "memory_get_important" }
func (t *memoryGetImportantTool) Description() string {
	return "Returns the highest-importance memory records."
}
func (t *memoryGetImportantTool) Schema() json.RawMessage {
	return reflectSchema("memoryLimitParams", memoryLimitParams{})
}

func (t *memoryGetImportantTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p memoryLimitParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
		}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	matches, err := t.svc.backend.Search(ctx, models.MemoryQuery{Text: "", Limit: 0})
	if err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Record.Importance > matches[j].Record.Importance
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return jsonToolResult(map[string]any{"matches": matches})
}

// --- memory_update ---

type memoryUpdateTool struct{ svc *memoryService }

type memoryUpdateParams struct {
	ID         string         `json:"id" jsonschema:"required,description=Record to update"`
	Content    string         `json:"content,omitempty" jsonschema:"description=Replacement content; omitted leaves it unchanged"`
	Importance *float64       `json:"importance,omitempty" jsonschema:"description=Replacement importance; omitted leaves it unchanged"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (t *memoryUpdateTool) Name() string        { return "memory_update" }
func (t *memoryUpdateTool) Description() string { return "Updates the content, importance, or metadata of an existing record." }
func (t *memoryUpdateTool) Schema() json.RawMessage {
	return reflectSchema("memoryUpdateParams", memoryUpdateParams{})
}

func (t *memoryUpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p memoryUpdateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}

	record, err := t.svc.backend.Get(ctx, p.ID)
	if err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if p.Content != "" {
		record.Content = p.Content
	}
	if p.Importance != nil {
		record.Importance = *p.Importance
	}
	if p.Metadata != nil {
		record.Metadata = p.Metadata
	}
	if err := t.svc.backend.Store(ctx, record); err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(record)
}

// --- memory_delete ---

type memoryDeleteTool struct{ svc *memoryService }

type memoryDeleteParams struct {
	IDs []string `json:"ids" jsonschema:"required,description=Record IDs to delete"`
}

func (t *memoryDeleteTool) Name() string        { return "memory_delete" }
func (t *memoryDeleteTool) Description() string { return "Deletes memory records by ID." }
func (t *memoryDeleteTool) Schema() json.RawMessage {
	return reflectSchema("memoryDeleteParams", memoryDeleteParams{})
}

func (t *memoryDeleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p memoryDeleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if len(p.IDs) == 0 {
		return &agent.ToolResult{IsError: true, Content: "ids is required"}, nil
	}
	if err := t.svc.backend.Delete(ctx, p.IDs); err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(map[string]any{"deleted": p.IDs})
}

// --- memory_consolidate ---

type memoryConsolidateTool struct{ svc *memoryService }

func (t *memoryConsolidateTool) Name() string { return "memory_consolidate" }
func (t *memoryConsolidateTool) Description() string {
	return "Promotes eligible short-term records to long-term storage."
}
func (t *memoryConsolidateTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *memoryConsolidateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	promoted, err := t.svc.backend.Consolidate(ctx)
	if err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(map[string]any{"promoted": promoted})
}

// --- memory_stats ---

type memoryStatsTool struct{ svc *memoryService }

func (t *memoryStatsTool) Name() string        { return "memory_stats" }
func (t *memoryStatsTool) Description() string { return "Reports record counts per memory kind." }
func (t *memoryStatsTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *memoryStatsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	kinds := []models.MemoryKind{models.MemoryShortTerm, models.MemoryLongTerm, models.MemoryEpisodic, models.MemorySemantic}
	counts := make(map[string]int64, len(kinds))
	for _, k := range kinds {
		n, err := t.svc.backend.Count(ctx, k)
		if err != nil {
			return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
		}
		counts[string(k)] = n
	}
	total, err := t.svc.backend.Count(ctx, "")
	if err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	counts["total"] = total
	return jsonToolResult(counts)
}
