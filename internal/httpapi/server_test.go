package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/sessions"
	"github.com/haasonsaas/agentrt/pkg/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(sessions.NewMemoryStore(), Config{})
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"title":"test session"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/", body)
	rec := httptest.NewRecorder()
	s.handleSessions(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	var created models.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated ID")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	s.handleSessions(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", getRec.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil)
	rec := httptest.NewRecorder()
	s.handleSessions(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	s := newTestServer(t)
	s.store.Create(context.Background(), &models.Session{ID: "a"}) //nolint:errcheck

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/", nil)
	rec := httptest.NewRecorder()
	s.handleSessions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t)
	session := &models.Session{ID: "to-delete"}
	if err := s.store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/to-delete", nil)
	rec := httptest.NewRecorder()
	s.handleSessions(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestHandleChatCompletions_MissingFields(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.handleChatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChatCompletions_UnknownSession(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(`{"session_id":"missing","message":"hi"}`))
	rec := httptest.NewRecorder()
	s.handleChatCompletions(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTranslateChunk_Content(t *testing.T) {
	var builder strings.Builder
	iterations := 0
	chunk := &agent.ResponseChunk{Text: "hello"}

	event, ok := translateChunk(chunk, &builder, &iterations, 5)
	if !ok {
		t.Fatal("expected event")
	}
	if event["type"] != "content" || event["content"] != "hello" {
		t.Errorf("event = %v", event)
	}
	if builder.String() != "hello" {
		t.Errorf("builder = %q, want hello", builder.String())
	}
}

func TestTranslateChunk_Complete(t *testing.T) {
	var builder strings.Builder
	builder.WriteString("final text")
	iterations := 3
	chunk := &agent.ResponseChunk{Complete: true}

	event, ok := translateChunk(chunk, &builder, &iterations, 5)
	if !ok {
		t.Fatal("expected event")
	}
	if event["type"] != "complete" || event["final_response"] != "final text" || event["iterations"] != 3 {
		t.Errorf("event = %v", event)
	}
}

func TestTranslateChunk_ToolCall(t *testing.T) {
	var builder strings.Builder
	iterations := 0
	chunk := &agent.ResponseChunk{ToolCall: &models.ToolCall{Name: "search", Input: json.RawMessage(`{"q":"go"}`)}}

	event, ok := translateChunk(chunk, &builder, &iterations, 5)
	if !ok {
		t.Fatal("expected event")
	}
	if event["type"] != "tool_call" || event["tool"] != "search" {
		t.Errorf("event = %v", event)
	}
}

func TestTranslateChunk_ToolResult(t *testing.T) {
	var builder strings.Builder
	iterations := 0
	chunk := &agent.ResponseChunk{ToolResult: &models.ToolResult{ToolCallID: "call-1", Name: "search", Content: "42"}}

	event, ok := translateChunk(chunk, &builder, &iterations, 5)
	if !ok {
		t.Fatal("expected event")
	}
	if event["type"] != "tool_result" || event["success"] != true || event["tool"] != "search" {
		t.Errorf("event = %v", event)
	}
}

func TestTranslateChunk_BareIterationMarker(t *testing.T) {
	var builder strings.Builder
	iterations := 0
	// A bare iteration marker chunk should surface an "iteration" event.
	chunk := &agent.ResponseChunk{Iteration: 1}

	event, ok := translateChunk(chunk, &builder, &iterations, 5)
	if !ok {
		t.Fatal("expected iteration event")
	}
	if event["type"] != "iteration" || event["current"] != 1 {
		t.Errorf("event = %v", event)
	}
}
