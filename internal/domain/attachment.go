package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Visibility of an uploaded attachment
const (
	VisibilityPrivate   = "private"
	VisibilityClassroom = "classroom"
	VisibilityPublic    = "public"
)

// PlaceholderFileName is shown when attachment metadata cannot be resolved
const PlaceholderFileName = "attachment"

// Attachment is an uploaded file. It is immutable after upload.
type Attachment struct {
	ID          uuid.UUID `json:"id"`
	PublicID    string    `json:"public_id,omitempty"`
	ClassroomID uuid.UUID `json:"classroom_id,omitempty"`
	OwnerID     uuid.UUID `json:"owner_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	Visibility  string    `json:"visibility,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	StorageKey  string    `json:"-"`
	Placeholder bool      `json:"placeholder,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Complete reports whether the attachment carries renderable metadata
func (a *Attachment) Complete() bool {
	return a != nil && a.FileName != "" && a.URL != ""
}

// PlaceholderAttachment is the fallback rendered when enrichment fails
func PlaceholderAttachment(id uuid.UUID) *Attachment {
	return &Attachment{
		ID:          id,
		FileName:    PlaceholderFileName,
		Placeholder: true,
	}
}

// AttachmentRepository defines the interface for attachment metadata storage
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *Attachment) error
	Get(ctx context.Context, classroomID, id uuid.UUID) (*Attachment, error)
	ListByClassroom(ctx context.Context, classroomID uuid.UUID, ids []uuid.UUID) ([]Attachment, error)
}
