package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ClassroomRepository handles classroom data access
type ClassroomRepository struct {
	db *DB
}

// NewClassroomRepository creates a new classroom repository
func NewClassroomRepository(db *DB) *ClassroomRepository {
	return &ClassroomRepository{db: db}
}

// Create creates a new classroom
func (r *ClassroomRepository) Create(ctx context.Context, classroom *domain.Classroom) error {
	query := `
		INSERT INTO classrooms (id, slug, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		classroom.ID,
		classroom.Slug,
		classroom.Name,
		classroom.CreatedAt,
		classroom.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create classroom: %w", err)
	}

	return nil
}

// GetBySlug retrieves a classroom by slug
func (r *ClassroomRepository) GetBySlug(ctx context.Context, slug string) (*domain.Classroom, error) {
	query := `
		SELECT id, slug, name, created_at, updated_at
		FROM classrooms
		WHERE slug = $1
	`

	var classroom domain.Classroom
	err := r.db.Pool.QueryRow(ctx, query, slug).Scan(
		&classroom.ID,
		&classroom.Slug,
		&classroom.Name,
		&classroom.CreatedAt,
		&classroom.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get classroom: %w", err)
	}

	return &classroom, nil
}

// ListByUserID retrieves all classrooms a user belongs to
func (r *ClassroomRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Classroom, error) {
	query := `
		SELECT c.id, c.slug, c.name, c.created_at, c.updated_at
		FROM classrooms c
		INNER JOIN classroom_members cm ON c.id = cm.classroom_id
		WHERE cm.user_id = $1
		ORDER BY c.created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list classrooms: %w", err)
	}
	defer rows.Close()

	classrooms := []domain.Classroom{}
	for rows.Next() {
		var classroom domain.Classroom
		if err := rows.Scan(
			&classroom.ID,
			&classroom.Slug,
			&classroom.Name,
			&classroom.CreatedAt,
			&classroom.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan classroom: %w", err)
		}
		classrooms = append(classrooms, classroom)
	}

	return classrooms, rows.Err()
}

// AddMember adds a member to a classroom or updates their role
func (r *ClassroomRepository) AddMember(ctx context.Context, member *domain.ClassroomMember) error {
	query := `
		INSERT INTO classroom_members (classroom_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (classroom_id, user_id) DO UPDATE SET role = $3
	`

	_, err := r.db.Pool.Exec(ctx, query,
		member.ClassroomID,
		member.UserID,
		member.Role,
		member.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}

// GetMember retrieves a classroom member
func (r *ClassroomRepository) GetMember(ctx context.Context, classroomID, userID uuid.UUID) (*domain.ClassroomMember, error) {
	query := `
		SELECT classroom_id, user_id, role, created_at
		FROM classroom_members
		WHERE classroom_id = $1 AND user_id = $2
	`

	var member domain.ClassroomMember
	err := r.db.Pool.QueryRow(ctx, query, classroomID, userID).Scan(
		&member.ClassroomID,
		&member.UserID,
		&member.Role,
		&member.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return &member, nil
}
