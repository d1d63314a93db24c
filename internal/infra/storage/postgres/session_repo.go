package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/infra/storage"
)

// SessionRepo implements storage.SessionJournal using PostgreSQL.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new PostgreSQL session journal.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

type sessionRow struct {
	ID         string    `db:"id"`
	Stream     string    `db:"stream"`
	Method     string    `db:"method"`
	Attempts   int       `db:"attempts"`
	Delivered  int64     `db:"delivered"`
	Code       int       `db:"code"`
	Note       string    `db:"note"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
}

// Record persists one finished session.
func (r *SessionRepo) Record(ctx context.Context, s *domain.Session) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sessions (id, stream, method, attempts, delivered, code, note, started_at, finished_at)
		VALUES (:id, :stream, :method, :attempts, :delivered, :code, :note, :started_at, :finished_at)
		ON CONFLICT (id) DO NOTHING`,
		sessionRow{
			ID:         s.ID,
			Stream:     s.Stream,
			Method:     s.Method,
			Attempts:   s.Attempts,
			Delivered:  int64(s.Delivered),
			Code:       s.Code,
			Note:       s.Note,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		})
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// Get retrieves a session by id.
func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, stream, method, attempts, delivered, code, note, started_at, finished_at
		FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return row.toDomain(), nil
}

// ListRecent retrieves the most recent sessions for a stream.
func (r *SessionRepo) ListRecent(ctx context.Context, stream string, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, stream, method, attempts, delivered, code, note, started_at, finished_at
		FROM sessions WHERE stream = $1
		ORDER BY finished_at DESC LIMIT $2`, stream, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]*domain.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (row *sessionRow) toDomain() *domain.Session {
	return &domain.Session{
		ID:         row.ID,
		Stream:     row.Stream,
		Method:     row.Method,
		Attempts:   row.Attempts,
		Delivered:  uint64(row.Delivered),
		Code:       row.Code,
		Note:       row.Note,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
	}
}
