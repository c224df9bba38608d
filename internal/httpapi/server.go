// Package httpapi exposes the engine's session and chat operations over
// HTTP, per the bindings table: session CRUD under /api/v1/sessions/, a
// streaming chat endpoint at /api/v1/chat/completions, health checks, and
// a Prometheus /metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/agent/providers"
	"github.com/haasonsaas/agentrt/internal/apierr"
	"github.com/haasonsaas/agentrt/internal/memory/backend"
	"github.com/haasonsaas/agentrt/internal/sessions"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// Config configures the HTTP server.
type Config struct {
	Host        string
	Port        int
	MetricsPort int
	Logger      *slog.Logger

	// ToolRegistry supplies tools available to every session's loop.
	ToolRegistry *agent.ToolRegistry

	// LoopConfig seeds each per-request AgenticLoop; nil uses the defaults.
	LoopConfig *agent.LoopConfig

	// MemoryBackend, when set, is wired into every per-request
	// AgenticLoop so sessions with Agent.MemoryEnabled get retrieval
	// context injected into their prompts.
	MemoryBackend backend.Backend

	// DataDir roots the on-disk per-session layout backing
	// source=file/all session listing. Empty disables the file layout.
	DataDir string
}

// Server serves the engine's HTTP bindings.
type Server struct {
	cfg       Config
	store     sessions.Store
	layout    *sessions.SessionLayout
	logger    *slog.Logger
	startTime time.Time

	httpServer    *http.Server
	metricsServer *http.Server
}

// New builds a Server backed by store.
func New(store sessions.Store, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ToolRegistry == nil {
		cfg.ToolRegistry = agent.NewToolRegistry()
	}
	var layout *sessions.SessionLayout
	if cfg.DataDir != "" {
		layout = sessions.NewSessionLayout(cfg.DataDir)
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		layout:    layout,
		logger:    cfg.Logger.With("component", "httpapi"),
		startTime: time.Now(),
	}
}

// Start launches the API listener and, if MetricsPort is set, a separate
// metrics listener. It returns once both listeners are bound; serving
// happens on background goroutines.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/chat/health", s.handleHealth)
	mux.HandleFunc("/api/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/api/v1/sessions/", s.handleSessions)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	if s.cfg.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.MetricsPort)
		metricsListener, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listen: %w", err)
		}
		s.metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.metricsServer.Serve(metricsListener); err != nil && err != http.ErrServerClosed {
				s.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Stop(shutdownCtx)
	}()

	return nil
}

// Stop gracefully shuts down both listeners.
func (s *Server) Stop(ctx context.Context) error {
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessions dispatches /api/v1/sessions/ and /api/v1/sessions/{id}.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	id = strings.Trim(id, "/")

	switch {
	case id == "" && r.Method == http.MethodPost:
		s.createSession(w, r)
	case id == "" && r.Method == http.MethodGet:
		s.listSessions(w, r)
	case id != "" && r.Method == http.MethodGet:
		s.getSession(w, r, id)
	case id != "" && r.Method == http.MethodPut:
		s.updateSession(w, r, id)
	case id != "" && r.Method == http.MethodDelete:
		s.deleteSession(w, r, id)
	default:
		writeError(w, apierr.New(apierr.InvalidInput, "unsupported method or path"))
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var session models.Session
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		writeError(w, apierr.Wrap(apierr.InvalidInput, "decode request body", err))
		return
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if err := s.store.Create(r.Context(), &session); err != nil {
		writeError(w, err)
		return
	}
	if s.layout != nil {
		if err := s.layout.Write(&session); err != nil {
			s.logger.Warn("failed to write on-disk session layout", "session", session.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "memory"
	}

	switch source {
	case "memory":
		list, err := s.store.List(r.Context(), sessions.ListOptions{Source: source})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case "file":
		if s.layout == nil {
			writeJSON(w, http.StatusOK, []*models.Session{})
			return
		}
		list, err := s.layout.List()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case "all":
		list, err := s.store.List(r.Context(), sessions.ListOptions{Source: source})
		if err != nil {
			writeError(w, err)
			return
		}
		if s.layout != nil {
			fileList, err := s.layout.List()
			if err != nil {
				writeError(w, err)
				return
			}
			list = mergeSessionsByID(list, fileList)
		}
		writeJSON(w, http.StatusOK, list)
	default:
		writeError(w, apierr.New(apierr.InvalidInput, "source must be one of memory, file, all"))
	}
}

// mergeSessionsByID unions two session lists, preferring the store's entry
// (primary) over the on-disk mirror (secondary) when both have the same id.
func mergeSessionsByID(primary, secondary []*models.Session) []*models.Session {
	seen := make(map[string]struct{}, len(primary))
	out := make([]*models.Session, 0, len(primary)+len(secondary))
	for _, session := range primary {
		seen[session.ID] = struct{}{}
		out = append(out, session)
	}
	for _, session := range secondary {
		if _, ok := seen[session.ID]; ok {
			continue
		}
		out = append(out, session)
	}
	return out
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, id string) {
	session, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request, id string) {
	var session models.Session
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		writeError(w, apierr.Wrap(apierr.InvalidInput, "decode request body", err))
		return
	}
	session.ID = id
	if err := s.store.Update(r.Context(), &session); err != nil {
		writeError(w, err)
		return
	}
	if s.layout != nil {
		if err := s.layout.Write(&session); err != nil {
			s.logger.Warn("failed to write on-disk session layout", "session", session.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if s.layout != nil {
		if err := s.layout.Remove(id); err != nil {
			s.logger.Warn("failed to remove on-disk session layout", "session", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// chatRequest is the POST /api/v1/chat/completions request body.
type chatRequest struct {
	SessionID     string `json:"session_id"`
	Message       string `json:"message"`
	Stream        bool   `json:"stream"`
	MaxIterations int    `json:"max_iterations"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierr.New(apierr.InvalidInput, "method not allowed"))
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.InvalidInput, "decode request body", err))
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, apierr.New(apierr.InvalidInput, "session_id and message are required"))
		return
	}

	session, err := s.store.Get(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	provider, err := providers.Resolve(session.Provider)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.ProviderError, "resolve provider", err))
		return
	}

	loopCfg := s.cfg.LoopConfig
	if loopCfg == nil {
		loopCfg = agent.DefaultLoopConfig()
	}
	loopCopy := *loopCfg
	if req.MaxIterations > 0 {
		loopCopy.MaxIterations = req.MaxIterations
	}

	loop := agent.NewAgenticLoop(provider, s.cfg.ToolRegistry, s.store, &loopCopy)
	if s.cfg.MemoryBackend != nil {
		loop.SetMemoryBackend(s.cfg.MemoryBackend)
	}
	if session.Agent.SystemPrompt != "" {
		loop.SetDefaultSystem(session.Agent.SystemPrompt)
	}
	if session.Provider.Model != "" {
		loop.SetDefaultModel(session.Provider.Model)
	}

	msg := &models.Message{
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   req.Message,
	}

	chunks, err := loop.Run(r.Context(), session, msg)
	if err != nil {
		if errors.Is(err, agent.ErrSessionBusy) {
			writeError(w, apierr.Wrap(apierr.Busy, "start run", err))
			return
		}
		writeError(w, apierr.Wrap(apierr.Internal, "start run", err))
		return
	}

	if req.Stream {
		s.streamChatResponse(w, r, chunks, loopCopy.MaxIterations)
		return
	}
	s.collectChatResponse(w, r, chunks)
}

func (s *Server) streamChatResponse(w http.ResponseWriter, r *http.Request, chunks <-chan *agent.ResponseChunk, maxIterations int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierr.New(apierr.Internal, "streaming unsupported by response writer"))
		return
	}

	var builder strings.Builder
	iterations := 0

	for chunk := range chunks {
		event, ok := translateChunk(chunk, &builder, &iterations, maxIterations)
		if !ok {
			continue
		}
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()

		if chunk.Complete || chunk.Error != nil {
			break
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) collectChatResponse(w http.ResponseWriter, r *http.Request, chunks <-chan *agent.ResponseChunk) {
	var builder strings.Builder
	iterations := 0
	var runErr error

	for chunk := range chunks {
		if chunk.Text != "" {
			builder.WriteString(chunk.Text)
		}
		if chunk.Iteration > 0 {
			iterations = chunk.Iteration
		}
		if chunk.Error != nil {
			runErr = chunk.Error
			break
		}
		if chunk.Complete {
			break
		}
	}

	if runErr != nil {
		writeError(w, apierr.Wrap(apierr.ProviderError, "run failed", runErr))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"final_response": builder.String(),
		"iterations":     iterations,
	})
}

// translateChunk maps a ResponseChunk onto the SSE wire event shapes in the
// external interface contract. It returns ok=false for chunks that carry no
// externally visible event (thinking deltas, tool lifecycle notifications).
func translateChunk(chunk *agent.ResponseChunk, builder *strings.Builder, iterations *int, maxIterations int) (map[string]any, bool) {
	switch {
	case chunk.Error != nil:
		return map[string]any{"type": "error", "error": chunk.Error.Error()}, true
	case chunk.Iteration > 0 && chunk.Text == "" && chunk.ToolCall == nil && chunk.ToolResult == nil && !chunk.Complete:
		*iterations = chunk.Iteration
		return map[string]any{"type": "iteration", "current": chunk.Iteration, "max": maxIterations}, true
	case chunk.ToolCall != nil:
		return map[string]any{
			"type":      "tool_call",
			"tool":      chunk.ToolCall.Name,
			"arguments": json.RawMessage(chunk.ToolCall.Input),
		}, true
	case chunk.ToolResult != nil:
		return map[string]any{
			"type":    "tool_result",
			"tool":    chunk.ToolResult.Name,
			"success": !chunk.ToolResult.IsError,
			"result":  chunk.ToolResult.Content,
		}, true
	case chunk.Text != "":
		builder.WriteString(chunk.Text)
		return map[string]any{"type": "content", "content": chunk.Text}, true
	case chunk.Complete:
		return map[string]any{
			"type":           "complete",
			"final_response": builder.String(),
			"iterations":     *iterations,
		}, true
	default:
		return nil, false
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.HTTPStatus(err), map[string]string{"error": err.Error()})
}
