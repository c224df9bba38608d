package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ToolTransport specifies how a tool server is reached.
type ToolTransport string

const (
	ToolTransportStdio ToolTransport = "stdio"
	ToolTransportHTTP  ToolTransport = "http"
)

// ToolServerSpec describes a tool server a session may call into: either a
// subprocess speaking MCP over stdio, or a remote MCP endpoint over HTTP.
type ToolServerSpec struct {
	ID        string        `yaml:"id" json:"id"`
	Name      string        `yaml:"name" json:"name"`
	Transport ToolTransport `yaml:"transport" json:"transport"`

	// Stdio transport options.
	Command string            `yaml:"command" json:"command,omitempty"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	WorkDir string            `yaml:"workdir" json:"workdir,omitempty"`

	// HTTP transport options.
	URL     string            `yaml:"url" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`

	// Common options.
	Timeout   time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	AutoStart bool          `yaml:"auto_start" json:"auto_start,omitempty"`
}

// Validate checks the tool server spec for configuration and security issues
// before it is handed to the session pool for spawning.
func (s *ToolServerSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("tool server ID is required")
	}

	switch s.Transport {
	case ToolTransportStdio:
		if err := s.validateStdio(); err != nil {
			return fmt.Errorf("stdio config for %s: %w", s.ID, err)
		}
	case ToolTransportHTTP:
		if err := s.validateHTTP(); err != nil {
			return fmt.Errorf("http config for %s: %w", s.ID, err)
		}
	default:
		return fmt.Errorf("tool server %s: unknown transport %q", s.ID, s.Transport)
	}

	return nil
}

func (s *ToolServerSpec) validateStdio() error {
	if s.Command == "" {
		return fmt.Errorf("command is required")
	}
	if err := validateToolPath(s.Command, "command"); err != nil {
		return err
	}
	if s.WorkDir != "" {
		if err := validateToolPath(s.WorkDir, "workdir"); err != nil {
			return err
		}
	}
	for i, arg := range s.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] contains suspicious shell metacharacters: %q", i, arg)
		}
	}
	return nil
}

func (s *ToolServerSpec) validateHTTP() error {
	if s.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
		return fmt.Errorf("url must use http or https scheme: %q", s.URL)
	}
	return nil
}

// validateToolPath rejects path traversal attempts in command/workdir fields.
func validateToolPath(path, field string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains path traversal sequence: %q", field, path)
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("%s resolves outside allowed scope: %q", field, path)
	}
	return nil
}

// containsShellMetachars reports whether s contains characters that could be
// interpreted by a shell if this arg were ever passed through one. The
// session pool execs commands directly (no shell), but args still flow into
// logs and error messages, so we reject the obvious injection shapes early.
var shellMetachars = []string{";", "|", "&", "$", "`", ">", "<", "\n", "\\x00"}

func containsShellMetachars(s string) bool {
	for _, c := range shellMetachars {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}
