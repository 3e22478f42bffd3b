package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusLive      SessionStatus = "live"
	StatusEnded     SessionStatus = "ended"
	StatusCancelled SessionStatus = "cancelled"
)

// DefaultMaxLiveDuration bounds a live session that has no ends_at
const DefaultMaxLiveDuration = 24 * time.Hour

// Valid reports whether s is a known status
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s SessionStatus) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// CanTransition reports whether from -> to respects the monotonic lifecycle.
// Same-status transitions are allowed so updates stay idempotent.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return from.Valid()
	}
	switch from {
	case StatusScheduled:
		return to == StatusLive || to == StatusEnded || to == StatusCancelled
	case StatusLive:
		return to == StatusEnded
	}
	return false
}

// LiveSession is a scheduled or in-progress video meeting of a classroom
type LiveSession struct {
	ID          uuid.UUID     `json:"id"`
	PublicID    string        `json:"public_id"`
	ClassroomID uuid.UUID     `json:"classroom_id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	StartsAt    time.Time     `json:"starts_at"`
	EndsAt      *time.Time    `json:"ends_at,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	Status      SessionStatus `json:"status"`
	HostID      uuid.UUID     `json:"host_id"`
	IsDeleted   bool          `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// RoomName returns the provider room name for the session
func (s *LiveSession) RoomName() (string, error) {
	if strings.TrimSpace(s.PublicID) == "" {
		return "", NewValidationError("public_id", "session has no public identifier")
	}
	return "session-" + s.PublicID, nil
}

// Transition is an automatic lifecycle transition kind
type Transition string

const (
	TransitionNone  Transition = ""
	TransitionStart Transition = "start"
	TransitionEnd   Transition = "end"
)

// Target returns the status a transition moves to
func (t Transition) Target() SessionStatus {
	switch t {
	case TransitionStart:
		return StatusLive
	case TransitionEnd:
		return StatusEnded
	}
	return ""
}

// DueTransition returns the automatic transition due for the session at now
func (s *LiveSession) DueTransition(now time.Time, maxLive time.Duration) Transition {
	if maxLive <= 0 {
		maxLive = DefaultMaxLiveDuration
	}

	switch s.Status {
	case StatusScheduled:
		if s.EndsAt != nil && !now.Before(*s.EndsAt) {
			return TransitionEnd
		}
		if !now.Before(s.StartsAt) {
			return TransitionStart
		}
	case StatusLive:
		if s.EndsAt != nil {
			if !now.Before(*s.EndsAt) {
				return TransitionEnd
			}
			return TransitionNone
		}
		liveSince := s.StartsAt
		if s.StartedAt != nil {
			liveSince = *s.StartedAt
		}
		if now.Sub(liveSince) > maxLive {
			return TransitionEnd
		}
	}
	return TransitionNone
}

// Apply validates and applies an update to the session in place
func (s *LiveSession) Apply(update SessionUpdate, now time.Time) error {
	if update.Status != nil {
		to := *update.Status
		if !to.Valid() {
			return NewValidationError("status", fmt.Sprintf("unknown status %q", to))
		}
		if !CanTransition(s.Status, to) {
			return fmt.Errorf("%w: cannot move session from %s to %s", ErrConflict, s.Status, to)
		}
		if to == StatusLive && s.Status != StatusLive {
			started := now
			s.StartedAt = &started
		}
		if to == StatusEnded && s.Status != StatusEnded && s.EndsAt == nil && update.EndsAt == nil {
			ended := now
			s.EndsAt = &ended
		}
		s.Status = to
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return NewValidationError("title", "title cannot be empty")
		}
		s.Title = title
	}
	if update.Description != nil {
		s.Description = *update.Description
	}
	if update.StartsAt != nil {
		s.StartsAt = *update.StartsAt
	}
	if update.EndsAt != nil {
		ends := *update.EndsAt
		s.EndsAt = &ends
	}
	if s.EndsAt != nil && !s.EndsAt.After(s.StartsAt) && (update.EndsAt != nil || update.StartsAt != nil) {
		return NewValidationError("ends_at", "ends_at must be after starts_at")
	}
	s.UpdatedAt = now
	return nil
}

// SessionCreate represents live session creation data
type SessionCreate struct {
	Title       string     `json:"title" validate:"required,max=255"`
	Description string     `json:"description,omitempty" validate:"max=4000"`
	StartsAt    *time.Time `json:"starts_at" validate:"required"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
}

// Validate checks the invariants that struct tags cannot express
func (c SessionCreate) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(c.Title) == "" {
		verr.Add("title", "title is required")
	}
	if c.StartsAt == nil || c.StartsAt.IsZero() {
		verr.Add("starts_at", "starts_at is required")
	}
	if c.StartsAt != nil && c.EndsAt != nil && !c.EndsAt.After(*c.StartsAt) {
		verr.Add("ends_at", "ends_at must be after starts_at")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// SessionUpdate represents a partial live session update
type SessionUpdate struct {
	Status      *SessionStatus `json:"status,omitempty" validate:"omitempty,oneof=scheduled live ended cancelled"`
	Title       *string        `json:"title,omitempty" validate:"omitempty,max=255"`
	Description *string        `json:"description,omitempty" validate:"omitempty,max=4000"`
	StartsAt    *time.Time     `json:"starts_at,omitempty"`
	EndsAt      *time.Time     `json:"ends_at,omitempty"`
}

// StatusUpdate builds an update that only changes status
func StatusUpdate(status SessionStatus) SessionUpdate {
	return SessionUpdate{Status: &status}
}

// SyncResult reports the outcome of a bulk lifecycle sync
type SyncResult struct {
	Activated int `json:"activated"`
	Ended     int `json:"ended"`
}

// SessionRepository defines the interface for live session storage
type SessionRepository interface {
	Create(ctx context.Context, session *LiveSession) error
	Get(ctx context.Context, classroomID, id uuid.UUID) (*LiveSession, error)
	ListByClassroom(ctx context.Context, classroomID uuid.UUID, status *SessionStatus) ([]LiveSession, error)
	Update(ctx context.Context, session *LiveSession) error
	SoftDelete(ctx context.Context, session *LiveSession) error
}
