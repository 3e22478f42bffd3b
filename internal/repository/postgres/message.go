package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new chat message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create persists the message. The message id is its public id.
func (r *MessageRepository) Create(ctx context.Context, sessionID uuid.UUID, message *domain.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, public_id, session_id, sender_id, sender_name, content, message_type, attachment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var attachmentID *uuid.UUID
	if message.Attachment != nil {
		attachmentID = &message.Attachment.ID
	}

	_, err := r.db.Pool.Exec(ctx, query,
		uuid.New(),
		message.ID,
		sessionID,
		message.SenderID,
		message.SenderName,
		message.Content,
		message.Type,
		attachmentID,
		message.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListBySession returns a page of the transcript with attachment metadata
// joined in. Pages count back from the newest message, so offset 0 is the
// latest page. Rows within a page are oldest first.
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]domain.ChatMessage, error) {
	query := `
		SELECT page.* FROM (
			SELECT m.public_id, m.session_id, m.sender_id, m.sender_name, m.content,
			       m.message_type, m.created_at,
			       a.id AS attachment_id, a.public_id AS attachment_public_id, a.url,
			       a.file_name, a.mime_type, a.size_bytes
			FROM chat_messages m
			LEFT JOIN attachments a ON a.id = m.attachment_id
			WHERE m.session_id = $1
			ORDER BY m.created_at DESC, m.public_id DESC
			LIMIT $2 OFFSET $3
		) page
		ORDER BY page.created_at ASC, page.public_id ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var (
			m         domain.ChatMessage
			attID     *uuid.UUID
			attPublic *string
			attURL    *string
			attName   *string
			attMime   *string
			attSize   *int64
		)
		if err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&m.SenderID,
			&m.SenderName,
			&m.Content,
			&m.Type,
			&m.Timestamp,
			&attID,
			&attPublic,
			&attURL,
			&attName,
			&attMime,
			&attSize,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if attID != nil {
			m.Attachment = &domain.Attachment{
				ID:        *attID,
				PublicID:  deref(attPublic),
				URL:       deref(attURL),
				FileName:  deref(attName),
				MimeType:  deref(attMime),
				SizeBytes: derefInt(attSize),
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
