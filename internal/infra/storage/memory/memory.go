package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/infra/storage"
)

// SessionJournal is the in-memory storage.SessionJournal, used when no
// database is configured and in tests.
type SessionJournal struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewSessionJournal() *SessionJournal {
	return &SessionJournal{sessions: make(map[string]*domain.Session)}
}

func (j *SessionJournal) Record(ctx context.Context, s *domain.Session) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.sessions[s.ID]; ok {
		return nil
	}
	cp := *s
	j.sessions[s.ID] = &cp
	return nil
}

func (j *SessionJournal) Get(ctx context.Context, id string) (*domain.Session, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s, ok := j.sessions[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (j *SessionJournal) ListRecent(ctx context.Context, stream string, limit int) ([]*domain.Session, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*domain.Session
	for _, s := range j.sessions {
		if s.Stream == stream {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].FinishedAt.After(out[k].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
