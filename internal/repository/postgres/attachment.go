package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const attachmentColumns = `id, public_id, classroom_id, owner_id, url, file_name, mime_type,
	size_bytes, visibility, content_hash, storage_key, created_at`

// AttachmentRepository implements domain.AttachmentRepository
type AttachmentRepository struct {
	db *DB
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(db *DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

func scanAttachment(row pgx.Row) (*domain.Attachment, error) {
	var a domain.Attachment
	err := row.Scan(
		&a.ID,
		&a.PublicID,
		&a.ClassroomID,
		&a.OwnerID,
		&a.URL,
		&a.FileName,
		&a.MimeType,
		&a.SizeBytes,
		&a.Visibility,
		&a.ContentHash,
		&a.StorageKey,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttachmentRepository) Create(ctx context.Context, attachment *domain.Attachment) error {
	query := `
		INSERT INTO attachments (` + attachmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		attachment.ID,
		attachment.PublicID,
		attachment.ClassroomID,
		attachment.OwnerID,
		attachment.URL,
		attachment.FileName,
		attachment.MimeType,
		attachment.SizeBytes,
		attachment.Visibility,
		attachment.ContentHash,
		attachment.StorageKey,
		attachment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	return nil
}

// Get returns the attachment, or nil if it does not belong to the classroom
func (r *AttachmentRepository) Get(ctx context.Context, classroomID, id uuid.UUID) (*domain.Attachment, error) {
	query := `
		SELECT ` + attachmentColumns + `
		FROM attachments
		WHERE classroom_id = $1 AND id = $2
	`
	a, err := scanAttachment(r.db.Pool.QueryRow(ctx, query, classroomID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return a, nil
}

// ListByClassroom lists attachments of the classroom. A non-empty ids
// restricts the result to those attachments.
func (r *AttachmentRepository) ListByClassroom(ctx context.Context, classroomID uuid.UUID, ids []uuid.UUID) ([]domain.Attachment, error) {
	query := `
		SELECT ` + attachmentColumns + `
		FROM attachments
		WHERE classroom_id = $1
		  AND (cardinality($2::uuid[]) = 0 OR id = ANY($2))
		ORDER BY created_at DESC
	`
	if ids == nil {
		ids = []uuid.UUID{}
	}

	rows, err := r.db.Pool.Query(ctx, query, classroomID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	attachments := []domain.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}
	return attachments, nil
}
