package servicemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/agentrt/internal/agent"
)

// graphNode is one node of a workflow-graph document. The graph library's
// full node model lives outside this spec's scope; this executor supports
// only the two primitive ops needed to exercise the CRUD + run surface.
type graphNode struct {
	ID     string   `json:"id"`
	Op     string   `json:"op"` // "const" or "add"
	Value  float64  `json:"value,omitempty"`
	Inputs []string `json:"inputs,omitempty"`
}

type graphDocument struct {
	ID    string      `json:"id"`
	Nodes []graphNode `json:"nodes"`
}

// graphService stores workflow-graph documents in memory and executes them
// node-by-node in dependency order.
type graphService struct {
	mu   sync.Mutex
	docs map[string]*graphDocument
}

func newGraphService(config map[string]any) (Service, error) {
	return &graphService{docs: make(map[string]*graphDocument)}, nil
}

func (s *graphService) Tools() []agent.Tool {
	return []agent.Tool{
		&graphCreateTool{s}, &graphGetTool{s}, &graphUpdateTool{s},
		&graphDeleteTool{s}, &graphListTool{s}, &graphRunTool{s},
	}
}

func (s *graphService) Close(ctx context.Context) error { return nil }

func (s *graphService) create(doc *graphDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return fmt.Errorf("graph %q already exists", doc.ID)
	}
	s.docs[doc.ID] = doc
	return nil
}

func (s *graphService) getDoc(id string) (*graphDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	return doc, ok
}

func (s *graphService) update(doc *graphDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; !exists {
		return fmt.Errorf("graph %q not found", doc.ID)
	}
	s.docs[doc.ID] = doc
	return nil
}

func (s *graphService) delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; !exists {
		return fmt.Errorf("graph %q not found", id)
	}
	delete(s.docs, id)
	return nil
}

func (s *graphService) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// run evaluates every node in the graph, resolving "add" node inputs
// depth-first and memoizing results. Unsupported ops and cycles are errors.
func (s *graphService) run(id string) (map[string]float64, error) {
	doc, ok := s.getDoc(id)
	if !ok {
		return nil, fmt.Errorf("graph %q not found", id)
	}

	nodesByID := make(map[string]graphNode, len(doc.Nodes))
	for _, n := range doc.Nodes {
		nodesByID[n.ID] = n
	}

	results := make(map[string]float64)
	var resolve func(nodeID string, visiting map[string]bool) (float64, error)
	resolve = func(nodeID string, visiting map[string]bool) (float64, error) {
		if v, ok := results[nodeID]; ok {
			return v, nil
		}
		if visiting[nodeID] {
			return 0, fmt.Errorf("cycle detected at node %q", nodeID)
		}
		node, ok := nodesByID[nodeID]
		if !ok {
			return 0, fmt.Errorf("unknown node %q", nodeID)
		}
		visiting[nodeID] = true

		var value float64
		switch node.Op {
		case "const":
			value = node.Value
		case "add":
			for _, in := range node.Inputs {
				v, err := resolve(in, visiting)
				if err != nil {
					return 0, err
				}
				value += v
			}
		default:
			return 0, fmt.Errorf("unsupported node op %q", node.Op)
		}

		delete(visiting, nodeID)
		results[nodeID] = value
		return value, nil
	}

	for _, n := range doc.Nodes {
		if _, err := resolve(n.ID, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// --- graph_create ---

type graphCreateTool struct{ svc *graphService }

type graphDocParams struct {
	ID    string      `json:"id" jsonschema:"required,description=Unique graph document identifier"`
	Nodes []graphNode `json:"nodes,omitempty" jsonschema:"description=Graph nodes, each with id, op (const|add), value, and inputs"`
}

func (t *graphCreateTool) Name() string        { return "graph_create" }
func (t *graphCreateTool) Description() string { return "Creates a new workflow-graph document." }
func (t *graphCreateTool) Schema() json.RawMessage {
	return reflectSchema("graphDocParams", graphDocParams{})
}

func (t *graphCreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p graphDocParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if p.ID == "" {
		return &agent.ToolResult{IsError: true, Content: "id is required"}, nil
	}
	if err := t.svc.create(&graphDocument{ID: p.ID, Nodes: p.Nodes}); err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(map[string]any{"id": p.ID, "status": "created"})
}

// --- graph_get ---

type graphGetTool struct{ svc *graphService }

type graphIDParams struct {
	ID string `json:"id" jsonschema:"required,description=Graph document identifier"`
}

func (t *graphGetTool) Name() string        { return "graph_get" }
func (t *graphGetTool) Description() string { return "Fetches a workflow-graph document by ID." }
func (t *graphGetTool) Schema() json.RawMessage {
	return reflectSchema("graphIDParams", graphIDParams{})
}

func (t *graphGetTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p graphIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	doc, ok := t.svc.getDoc(p.ID)
	if !ok {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("graph %q not found", p.ID)}, nil
	}
	return jsonToolResult(doc)
}

// --- graph_update ---

type graphUpdateTool struct{ svc *graphService }

func (t *graphUpdateTool) Name() string        { return "graph_update" }
func (t *graphUpdateTool) Description() string { return "Replaces an existing workflow-graph document's nodes." }
func (t *graphUpdateTool) Schema() json.RawMessage {
	return reflectSchema("graphDocParams", graphDocParams{})
}

func (t *graphUpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p graphDocParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if err := t.svc.update(&graphDocument{ID: p.ID, Nodes: p.Nodes}); err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(map[string]any{"id": p.ID, "status": "updated"})
}

// --- graph_delete ---

type graphDeleteTool struct{ svc *graphService }

func (t *graphDeleteTool) Name() string        { return "graph_delete" }
func (t *graphDeleteTool) Description() string { return "Deletes a workflow-graph document." }
func (t *graphDeleteTool) Schema() json.RawMessage {
	return reflectSchema("graphIDParams", graphIDParams{})
}

func (t *graphDeleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p graphIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if err := t.svc.delete(p.ID); err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(map[string]any{"id": p.ID, "status": "deleted"})
}

// --- graph_list ---

type graphListTool struct{ svc *graphService }

func (t *graphListTool) Name() string        { return "graph_list" }
func (t *graphListTool) Description() string { return "Lists every stored workflow-graph document ID." }
func (t *graphListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *graphListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return jsonToolResult(map[string]any{"ids": t.svc.list()})
}

// --- graph_run ---

type graphRunTool struct{ svc *graphService }

func (t *graphRunTool) Name() string        { return "graph_run" }
func (t *graphRunTool) Description() string { return "Executes every node in a workflow-graph document and returns each node's resolved value." }
func (t *graphRunTool) Schema() json.RawMessage {
	return reflectSchema("graphIDParams", graphIDParams{})
}

func (t *graphRunTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p graphIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	results, err := t.svc.run(p.ID)
	if err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(map[string]any{"id": p.ID, "results": results})
}
