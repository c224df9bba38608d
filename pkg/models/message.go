package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single turn in a session's conversation history.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Attachment represents a file or media attachment produced or consumed during a turn.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID  string       `json:"tool_call_id"`
	Name        string       `json:"name,omitempty"`
	Content     string       `json:"content"`
	IsError     bool         `json:"is_error,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ProviderSettings selects and configures a model adapter backend.
type ProviderSettings struct {
	// Kind selects the adapter variant: "anthropic", "openai-compatible",
	// "local-http", or "bedrock".
	Kind string `json:"kind"`

	// Model is the provider-specific model identifier.
	Model string `json:"model"`

	// BaseURL overrides the default API endpoint (openai-compatible/local-http).
	BaseURL string `json:"base_url,omitempty"`

	// APIKeyEnv names the environment variable holding the API credential.
	APIKeyEnv string `json:"api_key_env,omitempty"`

	// Region is used by the Bedrock variant.
	Region string `json:"region,omitempty"`

	// MaxTokens bounds the default completion length for this session.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// AgentSettings configures the iteration engine for a session.
type AgentSettings struct {
	// SystemPrompt is the session's system message content.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxIterations bounds the think/act loop per Run call.
	MaxIterations int `json:"max_iterations,omitempty"`

	// MaxToolCalls bounds total tool invocations per Run call (0 = unlimited).
	MaxToolCalls int `json:"max_tool_calls,omitempty"`

	// MaxMessages bounds retained conversation history; oldest non-system
	// messages are dropped first once exceeded.
	MaxMessages int `json:"max_messages,omitempty"`

	// MaxContextLength bounds how many prior messages are loaded into a
	// fresh Run call's working context (via GetHistory). 0 uses the
	// engine default.
	MaxContextLength int `json:"max_context_length,omitempty"`

	// MemoryEnabled turns on retrieval-augmented prompting: before each
	// turn, the engine searches the memory backend and prepends the top
	// matches as system context.
	MemoryEnabled bool `json:"memory_enabled,omitempty"`

	// MemoryContextSize caps how many memory records are injected per
	// turn when MemoryEnabled is set. 0 uses the engine default.
	MemoryContextSize int `json:"memory_context_size,omitempty"`
}

// Session represents a single conversation's durable state: its settings,
// the tool servers it has access to, and a pointer into its message history.
type Session struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Provider  ProviderSettings  `json:"provider"`
	Agent     AgentSettings     `json:"agent"`
	ToolSpecs []ToolServerSpec  `json:"tool_specs,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
