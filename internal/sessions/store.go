package sessions

import (
	"context"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// Store is the interface for session persistence.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error

	// GetOrCreate returns the session with the given id, creating it with
	// the supplied defaults if it does not yet exist.
	GetOrCreate(ctx context.Context, id string, defaults *models.Session) (*models.Session, error)

	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// Message history
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	Limit  int
	Offset int

	// Source selects where sessions are listed from: "" and "memory" list
	// from the configured Store implementation (despite the name, this
	// also covers the Postgres driver); "file" lists from the on-disk
	// session layout instead. Store implementations ignore this field;
	// httpapi branches on it to pick between the Store and a
	// SessionLayout.
	Source string
}
