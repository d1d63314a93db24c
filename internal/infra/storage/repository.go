package storage

import (
	"context"
	"errors"

	"github.com/vietddude/relay/internal/core/domain"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")
)

// SessionJournal records finished stream sessions for auditing.
type SessionJournal interface {
	// Record persists one finished session
	Record(ctx context.Context, s *domain.Session) error

	// Get retrieves a session by id
	Get(ctx context.Context, id string) (*domain.Session, error)

	// ListRecent retrieves the most recent sessions for a stream
	ListRecent(ctx context.Context, stream string, limit int) ([]*domain.Session, error)
}
