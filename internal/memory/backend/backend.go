// Package backend defines storage backends for the agent's keyword-scored
// memory store.
package backend

import (
	"context"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// Backend persists memory records and serves keyword search, consolidation,
// and forgetting passes over them.
type Backend interface {
	// Store inserts or replaces a memory record.
	Store(ctx context.Context, record *models.MemoryRecord) error

	// Get fetches a single record by ID.
	Get(ctx context.Context, id string) (*models.MemoryRecord, error)

	// Search ranks records against a keyword query, weighting by relevance,
	// importance, and recency.
	Search(ctx context.Context, query models.MemoryQuery) ([]*models.MemoryMatch, error)

	// Touch records an access against a record, bumping AccessCount and
	// LastAccessedAt. Callers use this before checking ShouldConsolidate.
	Touch(ctx context.Context, id string) error

	// Consolidate promotes short-term records that have earned long-term
	// status (see models.MemoryRecord.ShouldConsolidate) and reports how many
	// were promoted.
	Consolidate(ctx context.Context) (int, error)

	// Forget runs a decay pass, scoring every record on age, importance, and
	// access count, and evicts the lowest-scoring records so that the total
	// count does not exceed cap. A non-positive cap disables eviction.
	Forget(ctx context.Context, cap int) (int, error)

	// Delete removes records by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of records of the given kind, or all records
	// if kind is empty.
	Count(ctx context.Context, kind models.MemoryKind) (int64, error)

	// Close releases resources held by the backend.
	Close() error
}
