package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// safeNamePattern matches characters LLM function-calling APIs accept in a
// tool name; anything else is replaced with an underscore.
var safeNamePattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// BuildRegistry connects to every spec in specs with AutoStart set (others
// are not connected and contribute no tools) and registers each tool
// server's tools onto registry, namespaced as "<serverID>__<toolName>" to
// match the external interface's tool-call wire format. The returned
// Manager owns the spawned connections; call Stop on shutdown.
func BuildRegistry(ctx context.Context, specs []models.ToolServerSpec, registry *agent.ToolRegistry, logger *slog.Logger) (*Manager, error) {
	cfg := &Config{Enabled: len(specs) > 0}
	for _, spec := range specs {
		cfg.Servers = append(cfg.Servers, toServerConfig(spec))
	}

	manager := NewManager(cfg, logger)
	if err := manager.Start(ctx); err != nil {
		return manager, fmt.Errorf("start tool servers: %w", err)
	}

	for serverID, tools := range manager.AllTools() {
		for _, tool := range tools {
			safeName := serverID + "__" + safeNamePattern.ReplaceAllString(tool.Name, "_")
			registry.Register(NewToolBridge(manager, serverID, tool, safeName))
		}
	}

	return manager, nil
}

func toServerConfig(spec models.ToolServerSpec) *ServerConfig {
	transport := TransportStdio
	if spec.Transport == models.ToolTransportHTTP {
		transport = TransportHTTP
	}
	return &ServerConfig{
		ID:        spec.ID,
		Name:      spec.Name,
		Transport: transport,
		Command:   spec.Command,
		Args:      spec.Args,
		Env:       spec.Env,
		WorkDir:   spec.WorkDir,
		URL:       spec.URL,
		Headers:   spec.Headers,
		Timeout:   spec.Timeout,
		AutoStart: spec.AutoStart,
	}
}
