package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/haasonsaas/agentrt/internal/apierr"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// SessionLayout mirrors session metadata onto the on-disk per-session
// directory layout:
//
//	<root>/sessions/<id>/
//	  session_config.json
//	  memory/
//	  mcp/
//	  graphs/
//	  logs/
//
// It is a file-backed index alongside the configured Store, not a
// replacement for it: message history always lives in the Store.
type SessionLayout struct {
	root string
}

// NewSessionLayout builds a layout rooted at root.
func NewSessionLayout(root string) *SessionLayout {
	return &SessionLayout{root: root}
}

func (l *SessionLayout) sessionDir(id string) string {
	return filepath.Join(l.root, "sessions", id)
}

// Write creates a session's directory skeleton and (re)writes its
// session_config.json.
func (l *SessionLayout) Write(session *models.Session) error {
	if session == nil || session.ID == "" {
		return apierr.New(apierr.InvalidInput, "session with an id is required")
	}

	dir := l.sessionDir(session.ID)
	for _, sub := range []string{"", "memory", "mcp", "graphs", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return apierr.Wrap(apierr.Internal, "create session directory", err)
		}
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.Internal, "marshal session config", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "session_config.json"), data, 0o644); err != nil {
		return apierr.Wrap(apierr.Internal, "write session config", err)
	}
	return nil
}

// Remove deletes a session's on-disk directory. Missing directories are not
// an error.
func (l *SessionLayout) Remove(id string) error {
	if err := os.RemoveAll(l.sessionDir(id)); err != nil {
		return apierr.Wrap(apierr.Internal, "remove session directory", err)
	}
	return nil
}

// List scans the layout's root for session_config.json files and parses
// each into a Session, sorted by ID for deterministic output. Sessions with
// an unreadable or corrupt config are skipped rather than failing the whole
// listing.
func (l *SessionLayout) List() ([]*models.Session, error) {
	sessionsDir := filepath.Join(l.root, "sessions")
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Session{}, nil
		}
		return nil, apierr.Wrap(apierr.Internal, "read session directory", err)
	}

	var out []*models.Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sessionsDir, entry.Name(), "session_config.json"))
		if err != nil {
			continue
		}
		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		out = append(out, &session)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
