package servicemanager

import (
	"github.com/haasonsaas/agentrt/internal/agent"
)

// namedTool overrides the qualified name a tool is registered under without
// touching the tool it wraps, mirroring the convention external MCP servers
// are registered under ("<serverID>__<toolName>").
type namedTool struct {
	agent.Tool
	name string
}

func (t *namedTool) Name() string { return t.name }

// Register attaches the manager's six meta-tools to registry, namespaced as
// "mcp_service_manager__<toolName>" so every session's tool pool can reach
// them the same way it reaches an external MCP server's tools.
func Register(registry *agent.ToolRegistry, mgr *Manager) {
	for _, tool := range mgr.Tools() {
		registry.Register(&namedTool{Tool: tool, name: BuiltinServerName + "__" + tool.Name()})
	}
}
