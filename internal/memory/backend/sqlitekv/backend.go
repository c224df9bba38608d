// Package sqlitekv provides a memory storage backend on top of SQLite,
// scoring search results by keyword overlap, importance, and recency instead
// of vector similarity.
package sqlitekv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentrt/internal/memory/backend"
	"github.com/haasonsaas/agentrt/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Backend implements backend.Backend on a SQLite table.
type Backend struct {
	db *sql.DB
}

// Config contains configuration for the backend.
type Config struct {
	Path string // Path to SQLite database file; ":memory:" for in-process use.
}

// New opens (creating if necessary) a SQLite-backed memory store.
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	b := &Backend{db: db}
	if err := b.init(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) init() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			last_accessed_at DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create memories table: %w", err)
	}

	_, err = b.db.Exec("CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind)")
	if err != nil {
		return fmt.Errorf("create kind index: %w", err)
	}
	return nil
}

// Store inserts or replaces a memory record.
func (b *Backend) Store(ctx context.Context, record *models.MemoryRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if record.LastAccessedAt.IsZero() {
		record.LastAccessedAt = record.CreatedAt
	}

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories
			(id, kind, content, importance, metadata, created_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, string(record.Kind), record.Content, record.Importance,
		string(metadata), record.CreatedAt, record.LastAccessedAt, record.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get fetches a single record by ID.
func (b *Backend) Get(ctx context.Context, id string) (*models.MemoryRecord, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, kind, content, importance, metadata, created_at, last_accessed_at, access_count
		FROM memories WHERE id = ?
	`, id)
	return scanRecord(row)
}

// Search ranks every record against the query's keyword tokens, weighting by
// relevance (token overlap), importance, and recency, and returns the top
// Limit matches (default 10) above a nonzero score.
func (b *Backend) Search(ctx context.Context, query models.MemoryQuery) ([]*models.MemoryMatch, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `SELECT id, kind, content, importance, metadata, created_at, last_accessed_at, access_count FROM memories WHERE 1=1`
	args := []any{}
	if query.Kind != "" {
		sqlQuery += " AND kind = ?"
		args = append(args, string(query.Kind))
	}

	rows, err := b.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	tokens := tokenize(query.Text)
	now := time.Now()

	var matches []*models.MemoryMatch
	for rows.Next() {
		record, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		relevance := keywordOverlap(tokens, tokenize(record.Content))
		if len(tokens) > 0 && relevance == 0 {
			continue
		}
		score := scoreRecord(relevance, record.Importance, record.LastAccessedAt, now)
		matches = append(matches, &models.MemoryMatch{Record: record, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortMatchesDesc(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Touch records an access against a record.
func (b *Backend) Touch(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("touch record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("memory record %s not found", id)
	}
	return nil
}

// Consolidate promotes short-term records meeting the promotion thresholds to
// long-term storage.
func (b *Backend) Consolidate(ctx context.Context) (int, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, kind, content, importance, metadata, created_at, last_accessed_at, access_count
		FROM memories WHERE kind = ?
	`, string(models.MemoryShortTerm))
	if err != nil {
		return 0, fmt.Errorf("query short-term records: %w", err)
	}

	var toPromote []string
	for rows.Next() {
		record, err := scanRows(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		if record.ShouldConsolidate() {
			toPromote = append(toPromote, record.ID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(toPromote) == 0 {
		return 0, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, "UPDATE memories SET kind = ? WHERE id = ?")
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for _, id := range toPromote {
		if _, err := stmt.ExecContext(ctx, string(models.MemoryLongTerm), id); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("promote record %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(toPromote), nil
}

// Forget scores every record by age, importance, and access count and evicts
// the lowest scorers until the total count is at or below cap.
func (b *Backend) Forget(ctx context.Context, cap int) (int, error) {
	if cap <= 0 {
		return 0, nil
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, kind, content, importance, metadata, created_at, last_accessed_at, access_count
		FROM memories
	`)
	if err != nil {
		return 0, fmt.Errorf("query records: %w", err)
	}

	now := time.Now()
	type scored struct {
		id    string
		score float64
	}
	var all []scored
	for rows.Next() {
		record, err := scanRows(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, scored{id: record.ID, score: retentionScore(record, now)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(all) <= cap {
		return 0, nil
	}

	for i := 0; i < len(all)-1; i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].score > all[i].score {
				all[i], all[j] = all[j], all[i]
			}
		}
	}

	evict := all[cap:]
	ids := make([]string, len(evict))
	for i, s := range evict {
		ids[i] = s.id
	}
	if err := b.Delete(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Delete removes records by ID.
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM memories WHERE id = ?")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete record %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of records of the given kind, or all records if
// kind is empty.
func (b *Backend) Count(ctx context.Context, kind models.MemoryKind) (int64, error) {
	query := "SELECT COUNT(*) FROM memories"
	args := []any{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	var count int64
	err := b.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// Close releases resources.
func (b *Backend) Close() error {
	return b.db.Close()
}

var _ backend.Backend = (*Backend)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*models.MemoryRecord, error) {
	return scanAny(row)
}

func scanRows(rows *sql.Rows) (*models.MemoryRecord, error) {
	return scanAny(rows)
}

func scanAny(s rowScanner) (*models.MemoryRecord, error) {
	var record models.MemoryRecord
	var kind, metadataJSON string

	err := s.Scan(
		&record.ID, &kind, &record.Content, &record.Importance, &metadataJSON,
		&record.CreatedAt, &record.LastAccessedAt, &record.AccessCount,
	)
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	record.Kind = models.MemoryKind(kind)
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &record.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &record, nil
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(s)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if word != "" {
			tokens[word] = struct{}{}
		}
	}
	return tokens
}

// keywordOverlap returns the fraction of query tokens present in the
// content's token set, in [0, 1]. An empty query matches everything (1.0).
func keywordOverlap(query, content map[string]struct{}) float64 {
	if len(query) == 0 {
		return 1.0
	}
	var hits int
	for tok := range query {
		if _, ok := content[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// scoreRecord combines relevance, importance, and a recency decay into a
// single ranking score for search results.
func scoreRecord(relevance float64, importance float64, lastAccessed, now time.Time) float64 {
	ageDays := now.Sub(lastAccessed).Hours() / 24
	recency := math.Exp(-ageDays / 30) // half-life-ish decay over a month
	return relevance * importance * recency
}

// retentionScore ranks a record for the forgetting pass: older, less
// important, less-accessed records score lower and are evicted first.
func retentionScore(record *models.MemoryRecord, now time.Time) float64 {
	ageDays := now.Sub(record.CreatedAt).Hours() / 24
	recency := math.Exp(-ageDays / 60)
	accessWeight := math.Min(float64(record.AccessCount)/float64(models.ConsolidateAccessThreshold), 1.0)
	return record.Importance*0.5 + recency*0.3 + accessWeight*0.2
}

func sortMatchesDesc(matches []*models.MemoryMatch) {
	for i := 0; i < len(matches)-1; i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].Score > matches[i].Score {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
}
