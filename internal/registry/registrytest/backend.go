// Package registrytest provides an in-memory session backend for tests.
package registrytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
)

// Backend is an in-memory session API with the server's lifecycle rules
type Backend struct {
	Now func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]domain.LiveSession
	calls    map[string]int
	failures map[string][]error

	// BeforeUpdate, when set, runs before every update is applied. Tests
	// use it to hold requests in flight.
	BeforeUpdate func(id uuid.UUID, patch domain.SessionUpdate)

	// AfterList, when set, runs after a list is read and before it is
	// returned, so tests can hold a stale list in flight.
	AfterList func()
}

// NewBackend creates an empty backend
func NewBackend(now func() time.Time) *Backend {
	if now == nil {
		now = time.Now
	}
	return &Backend{
		Now:      now,
		sessions: make(map[uuid.UUID]domain.LiveSession),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// Put stores a session as is
func (b *Backend) Put(session domain.LiveSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session.PublicID == "" {
		session.PublicID = domain.NewPublicID()
	}
	b.sessions[session.ID] = session
}

// Session returns a stored session
func (b *Backend) Session(id uuid.UUID) (domain.LiveSession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	return s, ok
}

// Calls returns how many times method was called
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// FailNext makes the next call of method return err
func (b *Backend) FailNext(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method] = append(b.failures[method], err)
}

func (b *Backend) enter(method string) error {
	b.calls[method]++
	if queued := b.failures[method]; len(queued) > 0 {
		b.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (b *Backend) ListSessions(ctx context.Context, slug string) ([]domain.LiveSession, error) {
	out, err := b.list()
	if err != nil {
		return nil, err
	}
	if b.AfterList != nil {
		b.AfterList()
	}
	return out, nil
}

func (b *Backend) list() ([]domain.LiveSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("ListSessions"); err != nil {
		return nil, err
	}

	out := make([]domain.LiveSession, 0, len(b.sessions))
	for _, s := range b.sessions {
		if !s.IsDeleted {
			out = append(out, s)
		}
	}
	return out, nil
}

func (b *Backend) CreateSession(ctx context.Context, slug string, input domain.SessionCreate) (*domain.LiveSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("CreateSession"); err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	now := b.Now()
	session := domain.LiveSession{
		ID:          uuid.New(),
		PublicID:    domain.NewPublicID(),
		Title:       input.Title,
		Description: input.Description,
		StartsAt:    *input.StartsAt,
		EndsAt:      input.EndsAt,
		Status:      domain.StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	b.sessions[session.ID] = session
	return &session, nil
}

func (b *Backend) UpdateSession(ctx context.Context, slug string, sessionID uuid.UUID, patch domain.SessionUpdate) (*domain.LiveSession, error) {
	if b.BeforeUpdate != nil {
		b.BeforeUpdate(sessionID, patch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("UpdateSession"); err != nil {
		return nil, err
	}

	session, ok := b.sessions[sessionID]
	if !ok || session.IsDeleted {
		return nil, fmt.Errorf("%w: session", domain.ErrNotFound)
	}
	if err := session.Apply(patch, b.Now()); err != nil {
		return nil, err
	}
	b.sessions[sessionID] = session
	return &session, nil
}

func (b *Backend) DeleteSession(ctx context.Context, slug string, sessionID uuid.UUID, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("DeleteSession"); err != nil {
		return err
	}

	session, ok := b.sessions[sessionID]
	if !ok || session.IsDeleted {
		return fmt.Errorf("%w: session", domain.ErrNotFound)
	}
	if session.Status == domain.StatusLive && !force {
		return fmt.Errorf("%w: session is live", domain.ErrConflict)
	}
	session.IsDeleted = true
	b.sessions[sessionID] = session
	return nil
}
