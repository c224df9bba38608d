// Package config loads and validates the runtime's configuration: the HTTP
// server, the session store, default provider/agent settings, tool server
// specs, and the memory forgetting schedule.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// ServerConfig configures the HTTP/SSE listener.
type ServerConfig struct {
	Host        string `yaml:"host" json:"host"`
	Port        int    `yaml:"port" json:"port"`
	MetricsPort int    `yaml:"metrics_port" json:"metrics_port"`
}

// SessionStoreConfig selects and configures session persistence.
type SessionStoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the Postgres connection string (driver == "postgres").
	DSN string `yaml:"dsn" json:"dsn,omitempty"`

	MaxConnections  int           `yaml:"max_connections" json:"max_connections,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime,omitempty"`
}

// MemoryConfig configures the keyword-scored memory store and its
// background forgetting pass.
type MemoryConfig struct {
	// Driver is "sqlite" (only backend implemented so far).
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`

	// ForgetCap bounds the total number of retained records. A forgetting
	// pass runs on ForgetSchedule and evicts the lowest-scoring records
	// once the store exceeds this cap.
	ForgetCap int `yaml:"forget_cap" json:"forget_cap"`

	// ForgetSchedule is a cron expression for the periodic forgetting
	// and consolidation sweep.
	ForgetSchedule string `yaml:"forget_schedule" json:"forget_schedule"`
}

// DefaultSessionConfig seeds newly created sessions that don't specify
// their own provider/agent settings.
type DefaultSessionConfig struct {
	Provider models.ProviderSettings `yaml:"provider" json:"provider"`
	Agent    models.AgentSettings    `yaml:"agent" json:"agent"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "json" or "text"
}

// Config is the root configuration object.
type Config struct {
	Server       ServerConfig            `yaml:"server" json:"server"`
	SessionStore SessionStoreConfig      `yaml:"session_store" json:"session_store"`
	Memory       MemoryConfig            `yaml:"memory" json:"memory"`
	Session      DefaultSessionConfig    `yaml:"session" json:"session"`
	ToolServers  []models.ToolServerSpec `yaml:"tool_servers" json:"tool_servers,omitempty"`
	Logging      LoggingConfig           `yaml:"logging" json:"logging"`

	// DataDir is the root of the on-disk per-session layout
	// (<data_dir>/sessions/<id>/session_config.json, memory/, mcp/,
	// graphs/, logs/), used as a file-backed mirror of session metadata
	// alongside the configured session store.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// Load reads, expands, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applySessionStoreDefaults(&cfg.SessionStore)
	applyMemoryDefaults(&cfg.Memory)
	applySessionDefaults(&cfg.Session)
	applyLoggingDefaults(&cfg.Logging)

	if cfg.DataDir == "" {
		cfg.DataDir = "agentrt-data"
	}

	for i := range cfg.ToolServers {
		applyToolServerDefaults(&cfg.ToolServers[i])
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applySessionStoreDefaults(cfg *SessionStoreConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "memory"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Path == "" {
		cfg.Path = "agentrt-memory.db"
	}
	if cfg.ForgetCap == 0 {
		cfg.ForgetCap = 10000
	}
	if cfg.ForgetSchedule == "" {
		cfg.ForgetSchedule = "@every 1h"
	}
}

func applySessionDefaults(cfg *DefaultSessionConfig) {
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = "anthropic"
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 25
	}
	if cfg.Agent.MaxMessages == 0 {
		cfg.Agent.MaxMessages = 200
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyToolServerDefaults(spec *models.ToolServerSpec) {
	if spec.Transport == "" {
		spec.Transport = models.ToolTransportStdio
	}
	if spec.Timeout == 0 {
		spec.Timeout = 30 * time.Second
	}
}

// applyEnvOverrides lets deployment environments override a handful of
// security- and topology-sensitive fields without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("AGENTRT_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTRT_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTRT_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.SessionStore.DSN = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTRT_MEMORY_PATH")); value != "" {
		cfg.Memory.Path = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTRT_FORGET_CAP")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Memory.ForgetCap = parsed
		}
	}
}

// ConfigValidationError aggregates every configuration violation found in a
// single pass, rather than stopping at the first one.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		issues = append(issues, "server.port must be between 1 and 65535")
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		issues = append(issues, "server.metrics_port must be between 1 and 65535")
	}

	if !validStoreDriver(cfg.SessionStore.Driver) {
		issues = append(issues, "session_store.driver must be \"memory\" or \"postgres\"")
	}
	if cfg.SessionStore.Driver == "postgres" && cfg.SessionStore.DSN == "" {
		issues = append(issues, "session_store.dsn is required when driver is \"postgres\"")
	}

	if cfg.Memory.Driver != "sqlite" {
		issues = append(issues, "memory.driver must be \"sqlite\"")
	}
	if cfg.Memory.ForgetCap < 0 {
		issues = append(issues, "memory.forget_cap must not be negative")
	}

	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, "logging.level must be one of debug, info, warn, error")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	seen := make(map[string]bool, len(cfg.ToolServers))
	for _, spec := range cfg.ToolServers {
		if err := spec.Validate(); err != nil {
			issues = append(issues, err.Error())
			continue
		}
		if seen[spec.ID] {
			issues = append(issues, fmt.Sprintf("tool_servers: duplicate id %q", spec.ID))
		}
		seen[spec.ID] = true
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validStoreDriver(driver string) bool {
	return driver == "memory" || driver == "postgres"
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
