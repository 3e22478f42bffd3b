package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ChatBus distributes message inserts to realtime subscribers
type ChatBus interface {
	Publish(ctx context.Context, event domain.MessageEvent) error
	Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan domain.MessageEvent, func(), error)
}

// ChatService handles the chat transcript of live sessions
type ChatService struct {
	classrooms     *ClassroomService
	sessionRepo    domain.SessionRepository
	messageRepo    domain.MessageRepository
	attachmentRepo domain.AttachmentRepository
	userRepo       domain.UserRepository
	bus            ChatBus
	now            func() time.Time
}

// NewChatService creates a new chat service. bus may be nil, in which case
// messages are only persisted.
func NewChatService(
	classrooms *ClassroomService,
	sessionRepo domain.SessionRepository,
	messageRepo domain.MessageRepository,
	attachmentRepo domain.AttachmentRepository,
	userRepo domain.UserRepository,
	bus ChatBus,
) *ChatService {
	return &ChatService{
		classrooms:     classrooms,
		sessionRepo:    sessionRepo,
		messageRepo:    messageRepo,
		attachmentRepo: attachmentRepo,
		userRepo:       userRepo,
		bus:            bus,
		now:            time.Now,
	}
}

func (s *ChatService) session(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID) (*Membership, *domain.LiveSession, error) {
	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.sessionRepo.Get(ctx, membership.Classroom.ID, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return membership, session, nil
}

// History returns a page of the session transcript. Offset 0 is the newest
// page; messages within a page are oldest first.
func (s *ChatService) History(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, limit, offset int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	_, session, err := s.session(ctx, userID, slug, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListBySession(ctx, session.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// Send persists a message and announces it to realtime subscribers. A
// failed announcement does not fail the send.
func (s *ChatService) Send(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, input domain.MessageCreate) (*domain.ChatMessage, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	membership, session, err := s.session(ctx, userID, slug, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusCancelled {
		return nil, fmt.Errorf("session %s is cancelled: %w", session.ID, domain.ErrConflict)
	}

	var attachment *domain.Attachment
	if input.AttachmentID != nil {
		attachment, err = s.attachmentRepo.Get(ctx, membership.Classroom.ID, *input.AttachmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to get attachment: %w", err)
		}
		if attachment == nil {
			return nil, fmt.Errorf("attachment %s: %w", *input.AttachmentID, domain.ErrNotFound)
		}
	}

	senderName := ""
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sender: %w", err)
	}
	if user != nil {
		senderName = user.DisplayName
	}

	message := &domain.ChatMessage{
		ID:         domain.NewPublicID(),
		SessionID:  session.ID,
		SenderID:   userID,
		SenderName: senderName,
		Content:    strings.TrimSpace(input.Content),
		Timestamp:  s.now(),
		Type:       domain.MessageUser,
		Attachment: attachment,
	}

	if err := s.messageRepo.Create(ctx, session.ID, message); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	if s.bus != nil {
		event := domain.MessageEvent{
			MessageID:    message.ID,
			SessionID:    message.SessionID,
			SenderID:     message.SenderID,
			SenderName:   message.SenderName,
			Content:      message.Content,
			AttachmentID: input.AttachmentID,
			CreatedAt:    message.Timestamp,
		}
		if err := s.bus.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Failed to publish chat message")
		}
	}

	return message, nil
}

// Subscribe streams message inserts of the session to the caller
func (s *ChatService) Subscribe(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID) (<-chan domain.MessageEvent, func(), error) {
	if s.bus == nil {
		return nil, nil, fmt.Errorf("realtime feed unavailable: %w", domain.ErrTransport)
	}

	_, session, err := s.session(ctx, userID, slug, sessionID)
	if err != nil {
		return nil, nil, err
	}

	return s.bus.Subscribe(ctx, session.ID)
}
