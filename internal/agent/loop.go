package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentrt/internal/memory/backend"
	"github.com/haasonsaas/agentrt/internal/sessions"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// LoopConfig configures the agentic loop behavior including iteration limits
// and tool execution settings.
type LoopConfig struct {
	// MaxIterations bounds the number of think/act iterations a single Run
	// performs. Once reached, the turn completes with whatever text the
	// model had produced rather than erroring.
	// Default: 10
	MaxIterations int

	// MaxTokens is the default max tokens for LLM responses
	// Default: 4096
	MaxTokens int

	// MaxToolCalls limits the total tool calls per run (0 = unlimited)
	MaxToolCalls int

	// MaxWallTime limits total run duration (0 = no limit)
	MaxWallTime time.Duration

	// ExecutorConfig configures the parallel tool executor
	ExecutorConfig *ExecutorConfig

	// EnableBackpressure enables backpressure handling for slow tools
	// Default: true
	EnableBackpressure bool

	// StreamToolResults emits a ToolResult chunk for each call once the whole
	// batch of tool calls has returned, in call order
	// Default: true
	StreamToolResults bool

	// DisableToolEvents disables streaming ToolEvent chunks
	DisableToolEvents bool

	// ToolEvents persists tool call/result events when set.
	ToolEvents ToolEventStore
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations:      10,
		MaxTokens:          4096,
		MaxToolCalls:       0,
		MaxWallTime:        0,
		ExecutorConfig:     DefaultExecutorConfig(),
		EnableBackpressure: true,
		StreamToolResults:  true,
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = defaults.ExecutorConfig
	}
	if cfg.MaxToolCalls < 0 {
		cfg.MaxToolCalls = 0
	}
	if cfg.MaxWallTime < 0 {
		cfg.MaxWallTime = 0
	}
	return &cfg
}

// AgenticLoop implements the bounded self-driven iteration engine: it
// alternates between streaming a model completion and executing any tool
// calls the model requested, until the model stops requesting tools or the
// iteration bound is reached.
//
// The loop operates as a state machine:
//
//	Init ──▶ Stream ──▶ Execute Tools ──▶ Continue ──▶ Stream ...
//	           │                                 │
//	           └──────────────▶ Complete ◀────────┘
//	                     (no tool calls, or max iterations)
type AgenticLoop struct {
	provider LLMProvider
	executor *Executor
	sessions sessions.Store
	config   *LoopConfig
	memory   backend.Backend

	defaultModel  string
	defaultSystem string

	activeTurns sync.Map // sessionID -> struct{}
}

// NewAgenticLoop creates a new agentic loop with the given provider, tool registry, and session store.
// If config is nil, DefaultLoopConfig is used.
func NewAgenticLoop(provider LLMProvider, registry *ToolRegistry, store sessions.Store, config *LoopConfig) *AgenticLoop {
	config = sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}

	executor := NewExecutor(registry, config.ExecutorConfig)
	if !config.EnableBackpressure {
		executor.sem = nil
	}

	return &AgenticLoop{
		provider: provider,
		executor: executor,
		sessions: store,
		config:   config,
	}
}

// SetDefaultModel sets the default model used when requests do not specify one.
func (l *AgenticLoop) SetDefaultModel(model string) {
	l.defaultModel = model
}

// SetDefaultSystem sets the default system prompt used when requests do not specify one.
func (l *AgenticLoop) SetDefaultSystem(system string) {
	l.defaultSystem = system
}

// SetMemoryBackend wires a memory backend for retrieval-augmented prompting.
// Sessions with Agent.MemoryEnabled set will have matching records injected
// as system context on each turn; without a backend, memory is a no-op.
func (l *AgenticLoop) SetMemoryBackend(m backend.Backend) {
	l.memory = m
}

// ConfigureTool sets per-tool configuration overrides for timeout, retry, and priority.
func (l *AgenticLoop) ConfigureTool(name string, config *ToolConfig) {
	l.executor.ConfigureTool(name, config)
}

// RegisterTool adds a tool to the loop's registry.
func (l *AgenticLoop) RegisterTool(tool Tool) {
	l.executor.registry.Register(tool)
}

// LoopState tracks the current state of an agentic loop execution including
// phase, iteration count, accumulated messages, and pending tool operations.
type LoopState struct {
	Phase           LoopPhase
	Iteration       int
	TotalToolCalls  int
	Messages        []CompletionMessage
	PendingTools    []models.ToolCall
	ToolResults     []models.ToolResult
	AccumulatedText string
	LastAssistantText string
	LastError       error
	AssistantMsgID  string
}

// Run executes the agentic loop and streams results through a channel.
// The channel is closed when the loop completes or an error occurs. A
// second concurrent Run against the same session is rejected with ErrSessionBusy.
func (l *AgenticLoop) Run(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if l.sessions == nil {
		return nil, errors.New("no session store configured")
	}

	if _, alreadyRunning := l.activeTurns.LoadOrStore(session.ID, struct{}{}); alreadyRunning {
		return nil, ErrSessionBusy
	}
	releaseTurn := func() { l.activeTurns.Delete(session.ID) }

	runCtx := ctx
	var cancel context.CancelFunc
	if l.config.MaxWallTime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, l.config.MaxWallTime)
	}
	runCtx = WithSession(runCtx, session)

	chunks := make(chan *ResponseChunk, processBufferSize)

	go func() {
		defer close(chunks)
		defer releaseTurn()
		if cancel != nil {
			defer cancel()
		}

		state := &LoopState{Phase: PhaseInit}

		if err := l.initializeState(runCtx, session, msg, state); err != nil {
			chunks <- &ResponseChunk{Error: &LoopError{Phase: PhaseInit, Cause: err}}
			return
		}

		if err := l.persistInboundMessage(runCtx, session, msg); err != nil {
			chunks <- &ResponseChunk{Error: &LoopError{Phase: PhaseInit, Cause: err}}
			return
		}

		for state.Iteration < l.config.MaxIterations {
			select {
			case <-runCtx.Done():
				chunks <- &ResponseChunk{Error: &LoopError{Phase: state.Phase, Iteration: state.Iteration, Cause: runCtx.Err()}}
				return
			default:
			}

			state.Iteration++
			chunks <- &ResponseChunk{Iteration: state.Iteration}

			state.Phase = PhaseStream
			toolCalls, err := l.streamPhase(runCtx, state, chunks)
			if err != nil {
				chunks <- &ResponseChunk{Error: &LoopError{Phase: PhaseStream, Iteration: state.Iteration, Cause: err}}
				return
			}

			if l.config.MaxToolCalls > 0 && state.TotalToolCalls+len(toolCalls) > l.config.MaxToolCalls {
				chunks <- &ResponseChunk{Error: &LoopError{
					Phase:     PhaseStream,
					Iteration: state.Iteration,
					Cause:     fmt.Errorf("tool calls exceed maximum of %d for run", l.config.MaxToolCalls),
				}}
				return
			}
			state.TotalToolCalls += len(toolCalls)

			assistantMsgID, err := l.persistAssistantMessage(runCtx, session, state, toolCalls)
			if err != nil {
				chunks <- &ResponseChunk{Error: &LoopError{Phase: PhaseStream, Iteration: state.Iteration, Cause: err}}
				return
			}
			state.AssistantMsgID = assistantMsgID
			l.persistToolCalls(runCtx, session, assistantMsgID, toolCalls)

			if len(toolCalls) == 0 {
				l.addAssistantMessage(state, toolCalls)
				state.AccumulatedText = ""
				state.Phase = PhaseComplete
				chunks <- &ResponseChunk{Complete: true}
				return
			}

			state.Phase = PhaseExecuteTools
			state.PendingTools = toolCalls

			toolResults, err := l.executeToolsPhase(runCtx, session, state, chunks)
			if err != nil {
				chunks <- &ResponseChunk{Error: &LoopError{Phase: PhaseExecuteTools, Iteration: state.Iteration, Cause: err}}
				return
			}

			if err := l.persistToolMessage(runCtx, session, toolResults); err != nil {
				chunks <- &ResponseChunk{Error: &LoopError{Phase: PhaseExecuteTools, Iteration: state.Iteration, Cause: err}}
				return
			}

			state.Phase = PhaseContinue
			l.continuePhase(state, toolCalls, toolResults)
		}

		state.Phase = PhaseComplete
		chunks <- &ResponseChunk{Complete: true}
	}()

	return chunks, nil
}

// defaultContextLength bounds conversation history loaded into a fresh turn
// when a session doesn't set Agent.MaxContextLength.
const defaultContextLength = 50

// defaultMemoryContextSize bounds how many memory records get injected per
// turn when a session enables memory but doesn't set Agent.MemoryContextSize.
const defaultMemoryContextSize = 5

// initializeState loads conversation history, injects retrieved memory
// context when enabled, and sets up initial state.
func (l *AgenticLoop) initializeState(ctx context.Context, session *models.Session, msg *models.Message, state *LoopState) error {
	contextLength := defaultContextLength
	if session.Agent.MaxContextLength > 0 {
		contextLength = session.Agent.MaxContextLength
	}

	history, err := l.sessions.GetHistory(ctx, session.ID, contextLength)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	history = repairTranscript(history)

	state.Messages = make([]CompletionMessage, 0, len(history)+2)

	if memoryPrompt := l.recallMemory(ctx, session, msg); memoryPrompt != "" {
		state.Messages = append(state.Messages, CompletionMessage{
			Role:    string(models.RoleSystem),
			Content: memoryPrompt,
		})
	}

	for _, m := range history {
		state.Messages = append(state.Messages, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}

	role := msg.Role
	if role == "" {
		role = models.RoleUser
	}
	state.Messages = append(state.Messages, CompletionMessage{
		Role:        string(role),
		Content:     msg.Content,
		Attachments: msg.Attachments,
	})

	return nil
}

// recallMemory searches the memory backend for records relevant to msg and
// renders them as a system prompt fragment. It returns "" when memory isn't
// enabled for the session, no backend is configured, or nothing matches.
// Retrieved context is never persisted to session history; it is rebuilt
// fresh on every turn.
func (l *AgenticLoop) recallMemory(ctx context.Context, session *models.Session, msg *models.Message) string {
	if !session.Agent.MemoryEnabled || l.memory == nil {
		return ""
	}

	limit := defaultMemoryContextSize
	if session.Agent.MemoryContextSize > 0 {
		limit = session.Agent.MemoryContextSize
	}

	matches, err := l.memory.Search(ctx, models.MemoryQuery{
		Text:  msg.Content,
		Limit: limit,
	})
	if err != nil || len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant memory from prior sessions:\n")
	for _, match := range matches {
		if match == nil || match.Record == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", match.Record.Content)
	}
	return b.String()
}

// streamPhase streams from the LLM and collects any tool calls.
func (l *AgenticLoop) streamPhase(ctx context.Context, state *LoopState, chunks chan<- *ResponseChunk) ([]models.ToolCall, error) {
	tools := l.executor.registry.AsLLMTools()

	req := &CompletionRequest{
		Model:     l.defaultModel,
		System:    l.defaultSystem,
		Messages:  state.Messages,
		Tools:     tools,
		MaxTokens: l.config.MaxTokens,
	}
	if system, ok := systemPromptFromContext(ctx); ok {
		req.System = system
	}
	if model, ok := modelFromContext(ctx); ok {
		req.Model = model
	}

	completion, err := l.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var toolCalls []models.ToolCall
	var textBuilder strings.Builder

	for chunk := range completion {
		if chunk.Error != nil {
			return nil, chunk.Error
		}

		if chunk.ThinkingStart {
			chunks <- &ResponseChunk{ThinkingStart: true}
		}
		if chunk.Thinking != "" {
			chunks <- &ResponseChunk{Thinking: chunk.Thinking}
		}
		if chunk.ThinkingEnd {
			chunks <- &ResponseChunk{ThinkingEnd: true}
		}

		if chunk.Text != "" {
			if textBuilder.Len()+len(chunk.Text) > MaxResponseTextSize {
				return nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			textBuilder.WriteString(chunk.Text)
			chunks <- &ResponseChunk{Text: chunk.Text}
		}

		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerIteration {
				return nil, fmt.Errorf("tool calls exceed maximum of %d per iteration", MaxToolCallsPerIteration)
			}
			tc := *chunk.ToolCall
			toolCalls = append(toolCalls, tc)
			chunks <- &ResponseChunk{ToolCall: &tc}
		}
	}

	state.AccumulatedText = textBuilder.String()
	return toolCalls, nil
}

// executeToolsPhase executes pending tool calls in parallel via the executor.
// Requested and started ToolEvents are emitted before execution; the finished
// ToolEvents and, when StreamToolResults is set, the ToolResult chunks are
// emitted in call order after every call has returned.
func (l *AgenticLoop) executeToolsPhase(ctx context.Context, session *models.Session, state *LoopState, chunks chan<- *ResponseChunk) ([]models.ToolResult, error) {
	if len(state.PendingTools) == 0 {
		return nil, nil
	}

	for _, tc := range state.PendingTools {
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventRequested,
			Input:      tc.Input,
		})
	}
	for _, tc := range state.PendingTools {
		l.emitToolEvent(chunks, &models.ToolEvent{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Stage:      models.ToolEventStarted,
			StartedAt:  time.Now(),
		})
	}

	execResults := l.executor.ExecuteAll(ctx, state.PendingTools)
	results := make([]models.ToolResult, len(state.PendingTools))
	artifacts := make([][]Artifact, len(state.PendingTools))

	for i, r := range execResults {
		tc := state.PendingTools[i]
		switch {
		case r == nil:
			results[i] = models.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: "tool execution failed", IsError: true}
			l.emitToolEvent(chunks, &models.ToolEvent{ToolCallID: tc.ID, ToolName: tc.Name, Stage: models.ToolEventFailed, Error: results[i].Content, FinishedAt: time.Now()})
		case r.Error != nil:
			results[i] = models.ToolResult{ToolCallID: r.ToolCallID, Name: tc.Name, Content: r.Error.Error(), IsError: true}
			l.emitToolEvent(chunks, &models.ToolEvent{ToolCallID: r.ToolCallID, ToolName: tc.Name, Stage: models.ToolEventFailed, Error: results[i].Content, FinishedAt: time.Now()})
		case r.Result != nil:
			attachments := artifactsToAttachments(r.Result.Artifacts)
			results[i] = models.ToolResult{ToolCallID: r.ToolCallID, Name: tc.Name, Content: r.Result.Content, IsError: r.Result.IsError, Attachments: attachments}
			artifacts[i] = r.Result.Artifacts
			stage := models.ToolEventSucceeded
			if r.Result.IsError {
				stage = models.ToolEventFailed
			}
			l.emitToolEvent(chunks, &models.ToolEvent{ToolCallID: r.ToolCallID, ToolName: tc.Name, Stage: stage, Output: r.Result.Content, FinishedAt: time.Now()})
		}
		if results[i].ToolCallID == "" {
			results[i].ToolCallID = tc.ID
		}
		l.persistToolResult(ctx, session, state.AssistantMsgID, tc, results[i])
	}

	if l.config.StreamToolResults {
		for i := range results {
			chunk := &ResponseChunk{ToolResult: &results[i]}
			if len(artifacts[i]) > 0 {
				chunk.Artifacts = artifacts[i]
			}
			chunks <- chunk
		}
	}

	return results, nil
}

// continuePhase adds the assistant message with tool calls and tool results to history.
func (l *AgenticLoop) continuePhase(state *LoopState, toolCalls []models.ToolCall, toolResults []models.ToolResult) {
	l.addAssistantMessage(state, toolCalls)
	state.Messages = append(state.Messages, CompletionMessage{
		Role:        "tool",
		ToolResults: toolResults,
	})
	state.AccumulatedText = ""
	state.PendingTools = nil
	state.ToolResults = nil
}

func (l *AgenticLoop) addAssistantMessage(state *LoopState, toolCalls []models.ToolCall) {
	state.LastAssistantText = state.AccumulatedText
	state.Messages = append(state.Messages, CompletionMessage{
		Role:      "assistant",
		Content:   state.AccumulatedText,
		ToolCalls: toolCalls,
	})
}

func (l *AgenticLoop) persistInboundMessage(ctx context.Context, session *models.Session, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = session.ID
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return l.sessions.AppendMessage(ctx, session.ID, msg)
}

func (l *AgenticLoop) persistAssistantMessage(ctx context.Context, session *models.Session, state *LoopState, toolCalls []models.ToolCall) (string, error) {
	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   state.AccumulatedText,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	if err := l.sessions.AppendMessage(ctx, session.ID, assistantMsg); err != nil {
		return "", err
	}
	return assistantMsg.ID, nil
}

func (l *AgenticLoop) persistToolMessage(ctx context.Context, session *models.Session, toolResults []models.ToolResult) error {
	if len(toolResults) == 0 {
		return nil
	}
	resultsForStorage := make([]models.ToolResult, len(toolResults))
	for i := range toolResults {
		resultsForStorage[i] = toolResults[i]
		resultsForStorage[i].Attachments = nil
	}
	toolMsg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Role:        models.RoleTool,
		ToolResults: resultsForStorage,
		CreatedAt:   time.Now(),
	}
	return l.sessions.AppendMessage(ctx, session.ID, toolMsg)
}

func (l *AgenticLoop) emitToolEvent(chunks chan<- *ResponseChunk, event *models.ToolEvent) {
	if l.config.DisableToolEvents || event == nil {
		return
	}
	chunks <- &ResponseChunk{ToolEvent: event}
}

func (l *AgenticLoop) persistToolCalls(ctx context.Context, session *models.Session, assistantMsgID string, toolCalls []models.ToolCall) {
	if l.config.ToolEvents == nil || session == nil {
		return
	}
	for i := range toolCalls {
		tc := toolCalls[i]
		_ = l.config.ToolEvents.AddToolCall(ctx, session.ID, assistantMsgID, &tc)
	}
}

func (l *AgenticLoop) persistToolResult(ctx context.Context, session *models.Session, assistantMsgID string, tc models.ToolCall, res models.ToolResult) {
	if l.config.ToolEvents == nil || session == nil {
		return
	}
	_ = l.config.ToolEvents.AddToolResult(ctx, session.ID, assistantMsgID, &tc, &res)
}

// ExecutorMetrics returns a snapshot of metrics from the tool executor.
func (l *AgenticLoop) ExecutorMetrics() *ExecutorMetricsSnapshot {
	return l.executor.Metrics()
}
