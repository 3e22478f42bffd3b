package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, public_id, classroom_id, host_id, title, description,
	starts_at, ends_at, started_at, status, is_deleted, created_at, updated_at`

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new live session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row pgx.Row) (*domain.LiveSession, error) {
	var s domain.LiveSession
	err := row.Scan(
		&s.ID,
		&s.PublicID,
		&s.ClassroomID,
		&s.HostID,
		&s.Title,
		&s.Description,
		&s.StartsAt,
		&s.EndsAt,
		&s.StartedAt,
		&s.Status,
		&s.IsDeleted,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.LiveSession) error {
	query := `
		INSERT INTO live_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		session.ID,
		session.PublicID,
		session.ClassroomID,
		session.HostID,
		session.Title,
		session.Description,
		session.StartsAt,
		session.EndsAt,
		session.StartedAt,
		session.Status,
		session.IsDeleted,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get returns a non-deleted session of the classroom, or nil if none exists
func (r *SessionRepository) Get(ctx context.Context, classroomID, id uuid.UUID) (*domain.LiveSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM live_sessions
		WHERE classroom_id = $1 AND id = $2 AND is_deleted = FALSE
	`
	s, err := scanSession(r.db.Pool.QueryRow(ctx, query, classroomID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListByClassroom lists non-deleted sessions ordered by start time. A nil
// status lists every status.
func (r *SessionRepository) ListByClassroom(ctx context.Context, classroomID uuid.UUID, status *domain.SessionStatus) ([]domain.LiveSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM live_sessions
		WHERE classroom_id = $1
		  AND is_deleted = FALSE
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY starts_at ASC, id ASC
	`
	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	rows, err := r.db.Pool.Query(ctx, query, classroomID, statusArg)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.LiveSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) Update(ctx context.Context, session *domain.LiveSession) error {
	query := `
		UPDATE live_sessions
		SET title = $1, description = $2, starts_at = $3, ends_at = $4,
		    started_at = $5, status = $6, updated_at = $7
		WHERE id = $8 AND is_deleted = FALSE
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		session.Title,
		session.Description,
		session.StartsAt,
		session.EndsAt,
		session.StartedAt,
		session.Status,
		session.UpdatedAt,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", session.ID, domain.ErrNotFound)
	}
	return nil
}

// SoftDelete hides the session and persists its final status
func (r *SessionRepository) SoftDelete(ctx context.Context, session *domain.LiveSession) error {
	query := `
		UPDATE live_sessions
		SET is_deleted = TRUE, status = $1, ends_at = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.Pool.Exec(ctx, query, session.Status, session.EndsAt, session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
