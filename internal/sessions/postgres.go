package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/haasonsaas/agentrt/internal/apierr"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// PostgresStore implements Store on top of a Postgres-compatible database
// (Postgres or CockroachDB).
type PostgresStore struct {
	db *sql.DB

	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtUpdateSession *sql.Stmt
	stmtDeleteSession *sql.Stmt
	stmtListSessions  *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetHistory    *sql.Stmt
	stmtTrimMessages  *sql.Stmt
}

// defaultMaxMessagesPerSession bounds retained history for sessions that
// don't set Agent.MaxMessages explicitly.
const defaultMaxMessagesPerSession = 1000

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DB exposes the underlying connection for migration tooling.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// NewPostgresStore opens a connection pool and prepares statements.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			provider JSONB NOT NULL DEFAULT '{}',
			agent JSONB NOT NULL DEFAULT '{}',
			tool_specs JSONB NOT NULL DEFAULT '[]',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			attachments JSONB NOT NULL DEFAULT '[]',
			tool_calls JSONB NOT NULL DEFAULT '[]',
			tool_results JSONB NOT NULL DEFAULT '[]',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages (session_id, created_at);
	`)
	return err
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, title, provider, agent, tool_specs, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, title, provider, agent, tool_specs, metadata, created_at, updated_at
		FROM sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}

	s.stmtUpdateSession, err = s.db.Prepare(`
		UPDATE sessions SET title = $1, provider = $2, agent = $3, tool_specs = $4, metadata = $5, updated_at = $6
		WHERE id = $7
	`)
	if err != nil {
		return fmt.Errorf("prepare update session: %w", err)
	}

	s.stmtDeleteSession, err = s.db.Prepare(`DELETE FROM sessions WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete session: %w", err)
	}

	s.stmtListSessions, err = s.db.Prepare(`
		SELECT id, title, provider, agent, tool_specs, metadata, created_at, updated_at
		FROM sessions ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`)
	if err != nil {
		return fmt.Errorf("prepare list sessions: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, session_id, role, content, attachments, tool_calls, tool_results, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("prepare append message: %w", err)
	}

	s.stmtGetHistory, err = s.db.Prepare(`
		SELECT id, session_id, role, content, attachments, tool_calls, tool_results, metadata, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("prepare get history: %w", err)
	}

	s.stmtTrimMessages, err = s.db.Prepare(`
		DELETE FROM messages
		WHERE session_id = $1 AND role != 'system' AND id NOT IN (
			SELECT id FROM messages
			WHERE session_id = $1 AND role != 'system'
			ORDER BY created_at DESC
			LIMIT $2
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare trim messages: %w", err)
	}

	return nil
}

// Close releases prepared statements and the connection pool.
func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtUpdateSession,
		s.stmtDeleteSession, s.stmtListSessions, s.stmtAppendMessage, s.stmtGetHistory,
		s.stmtTrimMessages,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return apierr.New(apierr.InvalidInput, "session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt

	provider, agentCfg, toolSpecs, metadata, err := marshalSession(session)
	if err != nil {
		return apierr.Wrap(apierr.InvalidInput, "marshal session", err)
	}

	if _, err := s.stmtCreateSession.ExecContext(ctx,
		session.ID, session.Title, provider, agentCfg, toolSpecs, metadata, session.CreatedAt, session.UpdatedAt,
	); err != nil {
		return apierr.Wrap(apierr.Internal, "insert session", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.stmtGetSession.QueryRowContext(ctx, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.New(apierr.NotFound, "session not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "scan session", err)
	}
	return session, nil
}

func (s *PostgresStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return apierr.New(apierr.InvalidInput, "session is required")
	}
	provider, agentCfg, toolSpecs, metadata, err := marshalSession(session)
	if err != nil {
		return apierr.Wrap(apierr.InvalidInput, "marshal session", err)
	}
	session.UpdatedAt = time.Now()

	result, err := s.stmtUpdateSession.ExecContext(ctx,
		session.Title, provider, agentCfg, toolSpecs, metadata, session.UpdatedAt, session.ID,
	)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "update session", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "delete session", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, id string, defaults *models.Session) (*models.Session, error) {
	session, err := s.Get(ctx, id)
	if err == nil {
		return session, nil
	}
	if apierr.CodeOf(err) != apierr.NotFound {
		return nil, err
	}

	created := &models.Session{ID: id}
	if defaults != nil {
		created = &models.Session{
			ID:        id,
			Title:     defaults.Title,
			Provider:  defaults.Provider,
			Agent:     defaults.Agent,
			ToolSpecs: defaults.ToolSpecs,
			Metadata:  defaults.Metadata,
		}
	}
	if err := s.Create(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.stmtListSessions.QueryContext(ctx, limit, opts.Offset)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "list sessions", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.Internal, "scan session", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return apierr.New(apierr.InvalidInput, "message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return apierr.Wrap(apierr.InvalidInput, "marshal attachments", err)
	}
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return apierr.Wrap(apierr.InvalidInput, "marshal tool calls", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return apierr.Wrap(apierr.InvalidInput, "marshal tool results", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return apierr.Wrap(apierr.InvalidInput, "marshal metadata", err)
	}

	if _, err := s.stmtAppendMessage.ExecContext(ctx,
		msg.ID, sessionID, msg.Role, msg.Content, attachments, toolCalls, toolResults, metadata, msg.CreatedAt,
	); err != nil {
		return apierr.Wrap(apierr.Internal, "insert message", err)
	}

	limit := defaultMaxMessagesPerSession
	if session, err := s.Get(ctx, sessionID); err == nil && session.Agent.MaxMessages > 0 {
		limit = session.Agent.MaxMessages
	}
	if _, err := s.stmtTrimMessages.ExecContext(ctx, sessionID, limit); err != nil {
		return apierr.Wrap(apierr.Internal, "trim messages", err)
	}
	return nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.stmtGetHistory.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "query history", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.Internal, "scan message", err)
		}
		out = append(out, msg)
	}
	// Rows are ordered newest-first for the LIMIT clause; reverse to
	// chronological order for callers.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func marshalSession(session *models.Session) (provider, agentCfg, toolSpecs, metadata []byte, err error) {
	if provider, err = json.Marshal(session.Provider); err != nil {
		return nil, nil, nil, nil, err
	}
	if agentCfg, err = json.Marshal(session.Agent); err != nil {
		return nil, nil, nil, nil, err
	}
	if toolSpecs, err = json.Marshal(session.ToolSpecs); err != nil {
		return nil, nil, nil, nil, err
	}
	if metadata, err = json.Marshal(session.Metadata); err != nil {
		return nil, nil, nil, nil, err
	}
	return provider, agentCfg, toolSpecs, metadata, nil
}

func scanSession(row scanner) (*models.Session, error) {
	session := &models.Session{}
	var provider, agentCfg, toolSpecs, metadata []byte

	if err := row.Scan(
		&session.ID, &session.Title, &provider, &agentCfg, &toolSpecs, &metadata,
		&session.CreatedAt, &session.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(provider, &session.Provider); err != nil {
		return nil, fmt.Errorf("unmarshal provider: %w", err)
	}
	if err := json.Unmarshal(agentCfg, &session.Agent); err != nil {
		return nil, fmt.Errorf("unmarshal agent: %w", err)
	}
	if err := json.Unmarshal(toolSpecs, &session.ToolSpecs); err != nil {
		return nil, fmt.Errorf("unmarshal tool specs: %w", err)
	}
	if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return session, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	msg := &models.Message{}
	var attachments, toolCalls, toolResults, metadata []byte

	if err := row.Scan(
		&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
		&attachments, &toolCalls, &toolResults, &metadata, &msg.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
		return nil, fmt.Errorf("unmarshal tool results: %w", err)
	}
	if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return msg, nil
}

func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return apierr.Wrap(apierr.Internal, "rows affected", err)
	}
	if n == 0 {
		return apierr.New(apierr.NotFound, "session not found")
	}
	return nil
}
