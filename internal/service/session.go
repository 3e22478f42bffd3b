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

// RoomCloser disconnects every participant of a room
type RoomCloser interface {
	CloseRoom(room, reason string)
}

// CredentialFlusher drops every cached room credential of a session
type CredentialFlusher interface {
	FlushSession(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

// SessionOption configures a SessionService
type SessionOption func(*SessionService)

// WithRoomCloser closes a session's room when the session ends
func WithRoomCloser(rooms RoomCloser) SessionOption {
	return func(s *SessionService) { s.rooms = rooms }
}

// WithCredentialFlusher drops cached credentials when a session ends
func WithCredentialFlusher(tokens CredentialFlusher) SessionOption {
	return func(s *SessionService) { s.tokens = tokens }
}

// SessionService manages the lifecycle of live sessions
type SessionService struct {
	sessionRepo domain.SessionRepository
	classrooms  *ClassroomService
	rooms       RoomCloser
	tokens      CredentialFlusher
	maxLive     time.Duration
	now         func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(sessionRepo domain.SessionRepository, classrooms *ClassroomService, maxLive time.Duration, opts ...SessionOption) *SessionService {
	if maxLive <= 0 {
		maxLive = domain.DefaultMaxLiveDuration
	}
	s := &SessionService{
		sessionRepo: sessionRepo,
		classrooms:  classrooms,
		maxLive:     maxLive,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the classroom's sessions ordered by start time
func (s *SessionService) List(ctx context.Context, userID uuid.UUID, slug string, status *domain.SessionStatus) ([]domain.LiveSession, error) {
	if status != nil && !status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", *status))
	}

	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	sessions, err := s.sessionRepo.ListByClassroom(ctx, membership.Classroom.ID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Get returns one session of the classroom
func (s *SessionService) Get(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID) (*domain.LiveSession, error) {
	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, membership, sessionID)
}

func (s *SessionService) load(ctx context.Context, membership *Membership, sessionID uuid.UUID) (*domain.LiveSession, error) {
	session, err := s.sessionRepo.Get(ctx, membership.Classroom.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return session, nil
}

// Create schedules a new session. Only hosts may create sessions.
func (s *SessionService) Create(ctx context.Context, userID uuid.UUID, slug string, input domain.SessionCreate) (*domain.LiveSession, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, err
	}
	if !membership.IsHost() {
		return nil, fmt.Errorf("only hosts can schedule sessions: %w", domain.ErrPermission)
	}

	now := s.now()
	session := &domain.LiveSession{
		ID:          uuid.New(),
		PublicID:    domain.NewPublicID(),
		ClassroomID: membership.Classroom.ID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		StartsAt:    *input.StartsAt,
		EndsAt:      input.EndsAt,
		Status:      domain.StatusScheduled,
		HostID:      userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("classroom", membership.Classroom.Slug).
		Str("session_id", session.ID.String()).
		Time("starts_at", session.StartsAt).
		Msg("Session scheduled")

	return session, nil
}

// Update applies a partial update. Hosts may change anything the lifecycle
// allows; other members may only apply the automatic transition that is
// currently due, which lets every client run the lifecycle monitor.
func (s *SessionService) Update(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, input domain.SessionUpdate) (*domain.LiveSession, error) {
	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	session, err := s.load(ctx, membership, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !membership.IsHost() && session.HostID != userID && !s.isDueTransition(session, input, now) {
		return nil, fmt.Errorf("only hosts can update sessions: %w", domain.ErrPermission)
	}

	from := session.Status
	if err := session.Apply(input, now); err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	if from != session.Status {
		log.Info().
			Str("session_id", session.ID.String()).
			Str("from", string(from)).
			Str("to", string(session.Status)).
			Msg("Session status changed")

		if session.Status.Terminal() {
			s.closeOut(ctx, session)
		}
	}

	return session, nil
}

// closeOut disconnects the room of a session that just ended and drops its
// cached credentials. Failures are logged, the status change stands.
func (s *SessionService) closeOut(ctx context.Context, session *domain.LiveSession) {
	if s.tokens != nil {
		if _, err := s.tokens.FlushSession(ctx, session.ID); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Failed to flush cached room credentials")
		}
	}
	if s.rooms == nil {
		return
	}

	room, err := session.RoomName()
	if err != nil {
		log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Cannot close room of session")
		return
	}
	s.rooms.CloseRoom(room, "session "+string(session.Status))
}

func (s *SessionService) isDueTransition(session *domain.LiveSession, input domain.SessionUpdate, now time.Time) bool {
	if input.Status == nil || input.Title != nil || input.Description != nil || input.StartsAt != nil || input.EndsAt != nil {
		return false
	}
	if *input.Status == session.Status {
		return true
	}
	due := session.DueTransition(now, s.maxLive)
	return due != domain.TransitionNone && due.Target() == *input.Status
}

// Delete soft deletes a session. A live session can only be removed by the
// classroom owner with force, which ends it first. A scheduled session
// becomes cancelled.
func (s *SessionService) Delete(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, force bool) error {
	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return err
	}
	if !membership.IsHost() {
		return fmt.Errorf("only hosts can delete sessions: %w", domain.ErrPermission)
	}

	session, err := s.load(ctx, membership, sessionID)
	if err != nil {
		return err
	}

	now := s.now()
	switch session.Status {
	case domain.StatusLive:
		if !force || !membership.IsOwner() {
			return fmt.Errorf("session %s is live: %w", session.ID, domain.ErrConflict)
		}
		if err := session.Apply(domain.StatusUpdate(domain.StatusEnded), now); err != nil {
			return err
		}
	case domain.StatusScheduled:
		if err := session.Apply(domain.StatusUpdate(domain.StatusCancelled), now); err != nil {
			return err
		}
	default:
		session.UpdatedAt = now
	}

	session.IsDeleted = true
	if err := s.sessionRepo.SoftDelete(ctx, session); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("status", string(session.Status)).
		Msg("Session deleted")

	s.closeOut(ctx, session)

	return nil
}

// Sync applies every automatic transition currently due in the classroom.
// A failed transition is logged and skipped.
func (s *SessionService) Sync(ctx context.Context, userID uuid.UUID, slug string) (*domain.SyncResult, error) {
	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	sessions, err := s.sessionRepo.ListByClassroom(ctx, membership.Classroom.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.now()
	result := &domain.SyncResult{}
	for i := range sessions {
		session := &sessions[i]
		due := session.DueTransition(now, s.maxLive)
		if due == domain.TransitionNone {
			continue
		}

		if err := session.Apply(domain.StatusUpdate(due.Target()), now); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Skipping session transition")
			continue
		}
		if err := s.sessionRepo.Update(ctx, session); err != nil {
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("Failed to persist session transition")
			continue
		}

		switch due {
		case domain.TransitionStart:
			result.Activated++
		case domain.TransitionEnd:
			result.Ended++
			s.closeOut(ctx, session)
		}
	}

	if result.Activated > 0 || result.Ended > 0 {
		log.Info().
			Str("classroom", membership.Classroom.Slug).
			Int("activated", result.Activated).
			Int("ended", result.Ended).
			Msg("Session lifecycle synced")
	}

	return result, nil
}
