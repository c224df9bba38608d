// Package servicemanager implements the built-in meta-MCP server: an
// in-process tool source that lets a running session create, inspect, and
// call further in-process service instances (a Python sandbox, a workflow
// graph store, a memory store) as tools-of-tools.
package servicemanager

import (
	"context"

	"github.com/haasonsaas/agentrt/internal/agent"
)

// Service is an in-process tool source created by a ServiceType factory.
// Each instance exposes a fixed set of tools and is disposed via Close when
// its owning session deletes it or shuts down.
type Service interface {
	Tools() []agent.Tool
	Close(ctx context.Context) error
}

// ServiceType describes an installable entry in the process-wide service
// catalog: a human-readable description and a factory that turns a config
// map into a fresh Service instance.
type ServiceType struct {
	Name        string
	Description string
	Factory     func(config map[string]any) (Service, error)
}
