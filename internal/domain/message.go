package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes user chat from system notices
type MessageType string

const (
	MessageUser   MessageType = "user"
	MessageSystem MessageType = "system"
)

// TempIDPrefix marks locally generated ids of unconfirmed messages
const TempIDPrefix = "tmp-"

// ChatMessage is a message in a live session transcript. The id is the
// public id once persisted, or a temporary id before confirmation.
type ChatMessage struct {
	ID         string      `json:"id"`
	SessionID  uuid.UUID   `json:"session_id"`
	SenderID   uuid.UUID   `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	Type       MessageType `json:"type"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Failed     bool        `json:"failed,omitempty"`
}

// IsTemporary reports whether the message has not been confirmed yet
func (m *ChatMessage) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// MessageCreate represents a chat send request
type MessageCreate struct {
	Content      string     `json:"content" validate:"max=4000"`
	AttachmentID *uuid.UUID `json:"attachment_id,omitempty"`
}

// Validate requires either text or an attachment
func (c MessageCreate) Validate() error {
	if strings.TrimSpace(c.Content) == "" && c.AttachmentID == nil {
		return NewValidationError("content", "message needs content or an attachment")
	}
	return nil
}

// MessageEvent is the realtime insert notification for a new chat row
type MessageEvent struct {
	MessageID    string     `json:"message_id"`
	SessionID    uuid.UUID  `json:"session_id"`
	SenderID     uuid.UUID  `json:"sender_id"`
	SenderName   string     `json:"sender_name"`
	Content      string     `json:"content"`
	AttachmentID *uuid.UUID `json:"attachment_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ToMessage converts the event into a transcript entry without attachment
// metadata; enrichment fills that in later.
func (e MessageEvent) ToMessage() ChatMessage {
	msg := ChatMessage{
		ID:         e.MessageID,
		SessionID:  e.SessionID,
		SenderID:   e.SenderID,
		SenderName: e.SenderName,
		Content:    e.Content,
		Timestamp:  e.CreatedAt,
		Type:       MessageUser,
	}
	if e.AttachmentID != nil {
		msg.Attachment = &Attachment{ID: *e.AttachmentID}
	}
	return msg
}

// MessageRepository defines the interface for chat message storage
type MessageRepository interface {
	Create(ctx context.Context, sessionID uuid.UUID, message *ChatMessage) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]ChatMessage, error)
}
