package servicemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/agentrt/internal/agent"
)

// BuiltinServerName is the fixed name the iteration engine's tool pool
// attaches this server under for every session.
const BuiltinServerName = "mcp_service_manager"

type instance struct {
	Type    string
	Config  map[string]any
	Service Service
}

// Manager is the meta-MCP server: it owns a catalog of service types and the
// instances a session has created from it, and exposes that control surface
// as six tools (service_list, service_create, service_delete, service_info,
// service_list_tools, service_call).
type Manager struct {
	types *TypeRegistry

	mu        sync.RWMutex
	instances map[string]*instance
}

// NewManager returns a service manager backed by the given type catalog.
func NewManager(types *TypeRegistry) *Manager {
	return &Manager{types: types, instances: make(map[string]*instance)}
}

// Tools returns the six meta-tools this server exposes to the iteration
// engine's tool registry, namespaced by the caller per the qualified-name
// convention ("mcp_service_manager__service_list", etc).
func (m *Manager) Tools() []agent.Tool {
	return []agent.Tool{
		&serviceListTool{m},
		&serviceCreateTool{m},
		&serviceDeleteTool{m},
		&serviceInfoTool{m},
		&serviceListToolsTool{m},
		&serviceCallTool{m},
	}
}

// Close disposes every live instance. Called on session teardown.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, inst := range m.instances {
		if err := inst.Service.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close service %s: %w", id, err)
		}
		delete(m.instances, id)
	}
	return firstErr
}

func (m *Manager) create(serviceType, serviceID string, config map[string]any) error {
	st, ok := m.types.Get(serviceType)
	if !ok {
		return fmt.Errorf("unknown service type %q", serviceType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.instances[serviceID]; exists {
		return fmt.Errorf("service %q already exists", serviceID)
	}

	svc, err := st.Factory(config)
	if err != nil {
		return fmt.Errorf("create service %q: %w", serviceID, err)
	}
	m.instances[serviceID] = &instance{Type: serviceType, Config: config, Service: svc}
	return nil
}

func (m *Manager) delete(ctx context.Context, serviceID string) error {
	m.mu.Lock()
	inst, ok := m.instances[serviceID]
	if ok {
		delete(m.instances, serviceID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("service %q not found", serviceID)
	}
	return inst.Service.Close(ctx)
}

func (m *Manager) get(serviceID string) (*instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[serviceID]
	return inst, ok
}

func (m *Manager) instanceSummaries() []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		inst := m.instances[id]
		out = append(out, map[string]any{
			"id":         id,
			"type":       inst.Type,
			"tool_count": len(inst.Service.Tools()),
		})
	}
	return out
}

// --- service_list ---

type serviceListTool struct{ mgr *Manager }

type serviceListParams struct {
	ShowInstances bool `json:"show_instances,omitempty" jsonschema:"description=Include currently instantiated services alongside the type catalog"`
}

func (t *serviceListTool) Name() string        { return "service_list" }
func (t *serviceListTool) Description() string { return "Lists available service types and, optionally, currently instantiated services." }
func (t *serviceListTool) Schema() json.RawMessage {
	return reflectSchema("serviceListParams", serviceListParams{})
}

func (t *serviceListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p serviceListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
		}
	}

	types := t.mgr.types.List()
	typeSummaries := make([]map[string]string, 0, len(types))
	for _, st := range types {
		typeSummaries = append(typeSummaries, map[string]string{"name": st.Name, "description": st.Description})
	}

	result := map[string]any{"types": typeSummaries}
	if p.ShowInstances {
		result["instances"] = t.mgr.instanceSummaries()
	}
	return jsonToolResult(result)
}

// --- service_create ---

type serviceCreateTool struct{ mgr *Manager }

type serviceCreateParams struct {
	ServiceType string         `json:"service_type" jsonschema:"required,description=Registered service type name (e.g. python, graph, memory)"`
	ServiceID   string         `json:"service_id" jsonschema:"required,description=Caller-chosen unique identifier for the new instance"`
	Config      map[string]any `json:"config,omitempty" jsonschema:"description=Type-specific configuration forwarded unexamined to the factory"`
}

func (t *serviceCreateTool) Name() string        { return "service_create" }
func (t *serviceCreateTool) Description() string { return "Creates an instance of a registered service type and registers its tools." }
func (t *serviceCreateTool) Schema() json.RawMessage {
	return reflectSchema("serviceCreateParams", serviceCreateParams{})
}

func (t *serviceCreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p serviceCreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if p.ServiceType == "" || p.ServiceID == "" {
		return &agent.ToolResult{IsError: true, Content: "service_type and service_id are required"}, nil
	}

	if err := t.mgr.create(p.ServiceType, p.ServiceID, p.Config); err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(map[string]any{"service_id": p.ServiceID, "service_type": p.ServiceType, "status": "created"})
}

// --- service_delete ---

type serviceDeleteTool struct{ mgr *Manager }

type serviceIDParams struct {
	ServiceID string `json:"service_id" jsonschema:"required,description=Identifier of the service instance"`
}

func (t *serviceDeleteTool) Name() string        { return "service_delete" }
func (t *serviceDeleteTool) Description() string { return "Disposes and unregisters a service instance." }
func (t *serviceDeleteTool) Schema() json.RawMessage {
	return reflectSchema("serviceIDParams", serviceIDParams{})
}

func (t *serviceDeleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p serviceIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if err := t.mgr.delete(ctx, p.ServiceID); err != nil {
		return &agent.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return jsonToolResult(map[string]any{"service_id": p.ServiceID, "status": "deleted"})
}

// --- service_info ---

type serviceInfoTool struct{ mgr *Manager }

func (t *serviceInfoTool) Name() string        { return "service_info" }
func (t *serviceInfoTool) Description() string { return "Reports the type, config, and tool count of a service instance." }
func (t *serviceInfoTool) Schema() json.RawMessage {
	return reflectSchema("serviceIDParams", serviceIDParams{})
}

func (t *serviceInfoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p serviceIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	inst, ok := t.mgr.get(p.ServiceID)
	if !ok {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("service %q not found", p.ServiceID)}, nil
	}
	return jsonToolResult(map[string]any{
		"service_id":   p.ServiceID,
		"service_type": inst.Type,
		"config":       inst.Config,
		"tool_count":   len(inst.Service.Tools()),
	})
}

// --- service_list_tools ---

type serviceListToolsTool struct{ mgr *Manager }

func (t *serviceListToolsTool) Name() string        { return "service_list_tools" }
func (t *serviceListToolsTool) Description() string { return "Lists the tool descriptors a service instance exposes." }
func (t *serviceListToolsTool) Schema() json.RawMessage {
	return reflectSchema("serviceIDParams", serviceIDParams{})
}

func (t *serviceListToolsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p serviceIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	inst, ok := t.mgr.get(p.ServiceID)
	if !ok {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("service %q not found", p.ServiceID)}, nil
	}

	descriptors := make([]map[string]any, 0, len(inst.Service.Tools()))
	for _, tool := range inst.Service.Tools() {
		descriptors = append(descriptors, map[string]any{
			"name":        tool.Name(),
			"description": tool.Description(),
			"schema":      json.RawMessage(tool.Schema()),
		})
	}
	return jsonToolResult(map[string]any{"service_id": p.ServiceID, "tools": descriptors})
}

// --- service_call ---

type serviceCallTool struct{ mgr *Manager }

type serviceCallParams struct {
	ServiceID string          `json:"service_id" jsonschema:"required,description=Identifier of the service instance"`
	ToolName  string          `json:"tool_name" jsonschema:"required,description=Name of one of the service's exposed tools"`
	Arguments json.RawMessage `json:"arguments,omitempty" jsonschema:"description=Arguments matching the target tool's schema"`
}

func (t *serviceCallTool) Name() string        { return "service_call" }
func (t *serviceCallTool) Description() string { return "Delegates a call to a named tool on a service instance and returns its result." }
func (t *serviceCallTool) Schema() json.RawMessage {
	return reflectSchema("serviceCallParams", serviceCallParams{})
}

func (t *serviceCallTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p serviceCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	inst, ok := t.mgr.get(p.ServiceID)
	if !ok {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("service %q not found", p.ServiceID)}, nil
	}

	for _, tool := range inst.Service.Tools() {
		if tool.Name() == p.ToolName {
			return tool.Execute(ctx, p.Arguments)
		}
	}
	return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("service %q has no tool %q", p.ServiceID, p.ToolName)}, nil
}

func jsonToolResult(v any) (*agent.ToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return &agent.ToolResult{IsError: true, Content: fmt.Sprintf("marshal result: %v", err)}, nil
	}
	return &agent.ToolResult{Content: string(raw)}, nil
}
