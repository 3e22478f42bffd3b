// Package registry owns the client side list of a classroom's sessions.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Backend is the session CRUD API
type Backend interface {
	ListSessions(ctx context.Context, slug string) ([]domain.LiveSession, error)
	CreateSession(ctx context.Context, slug string, input domain.SessionCreate) (*domain.LiveSession, error)
	UpdateSession(ctx context.Context, slug string, sessionID uuid.UUID, input domain.SessionUpdate) (*domain.LiveSession, error)
	DeleteSession(ctx context.Context, slug string, sessionID uuid.UUID, force bool) error
}

// Option configures a Registry
type Option func(*Registry)

// WithPrivileged lets Delete remove live sessions
func WithPrivileged(privileged bool) Option {
	return func(r *Registry) { r.privileged = privileged }
}

// WithClock sets the clock used by Poll
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// Registry caches the sessions of one classroom. All mutations go through
// it so the cached list never lags behind a write made by this client.
type Registry struct {
	backend    Backend
	slug       string
	privileged bool
	clock      clockwork.Clock

	mu        sync.RWMutex
	sessions  []domain.LiveSession
	loaded    bool
	lastErr   error
	fetchedAt time.Time
	// writes counts local mutations. A fetch that started before a write
	// is discarded when it completes after it.
	writes    uint64
	listeners []func([]domain.LiveSession)
}

// New creates a registry for the classroom identified by slug
func New(backend Backend, slug string, opts ...Option) (*Registry, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, domain.NewValidationError("classroom", "classroom is required")
	}

	r := &Registry{
		backend: backend,
		slug:    slug,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Slug returns the classroom slug
func (r *Registry) Slug() string {
	return r.slug
}

// List returns the sessions ordered by starts_at. The first call fetches.
func (r *Registry) List(ctx context.Context) ([]domain.LiveSession, error) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()

	if !loaded {
		if err := r.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return r.Snapshot(), nil
}

// Snapshot returns the cached sessions without fetching
func (r *Registry) Snapshot() []domain.LiveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.LiveSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Get returns a cached session
func (r *Registry) Get(id uuid.UUID) (domain.LiveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return domain.LiveSession{}, false
}

// OnChange registers fn to run with the new list after every refresh or
// local write
func (r *Registry) OnChange(fn func([]domain.LiveSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notify() {
	r.mu.RLock()
	listeners := append([]func([]domain.LiveSession){}, r.listeners...)
	r.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}

	sessions := r.Snapshot()
	for _, fn := range listeners {
		fn(sessions)
	}
}

// Refresh replaces the cache with the server's list. A failure keeps the
// previous list and is reported through LastError. A list fetched while
// this client wrote is dropped, the write's own refresh replaces it.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	writes := r.writes
	r.mu.RUnlock()

	sessions, err := r.backend.ListSessions(ctx, r.slug)

	r.mu.Lock()
	if err != nil {
		r.lastErr = err
		r.mu.Unlock()
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if r.writes != writes {
		r.mu.Unlock()
		log.Debug().Str("classroom", r.slug).Msg("Dropping session list fetched before a local write")
		return nil
	}

	sortSessions(sessions)
	r.sessions = sessions
	r.loaded = true
	r.lastErr = nil
	r.fetchedAt = r.clock.Now()
	r.mu.Unlock()

	r.notify()
	return nil
}

// LastError returns the error of the most recent failed fetch, cleared by
// the next successful one
func (r *Registry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// FetchedAt returns when the list was last fetched successfully
func (r *Registry) FetchedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchedAt
}

// Create schedules a new session
func (r *Registry) Create(ctx context.Context, input domain.SessionCreate) (*domain.LiveSession, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	session, err := r.backend.CreateSession(ctx, r.slug, input)
	if err != nil {
		return nil, err
	}

	r.upsert(*session)
	r.invalidate(ctx)
	return session, nil
}

// Update applies a partial update. Status changes are checked against the
// monotonic lifecycle before any request is sent.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, patch domain.SessionUpdate) (*domain.LiveSession, error) {
	current, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", *patch.Status))
		}
		if !domain.CanTransition(current.Status, *patch.Status) {
			return nil, fmt.Errorf("%w: cannot move session from %s to %s", domain.ErrConflict, current.Status, *patch.Status)
		}
	}

	session, err := r.backend.UpdateSession(ctx, r.slug, id, patch)
	if err != nil {
		return nil, err
	}

	r.upsert(*session)
	r.invalidate(ctx)
	return session, nil
}

// Delete removes a session. A live session can only be deleted by a
// privileged registry.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := r.lookup(ctx, id)
	if err != nil {
		return err
	}

	live := current.Status == domain.StatusLive
	if live && !r.privileged {
		return fmt.Errorf("%w: cannot delete a live session", domain.ErrConflict)
	}

	if err := r.backend.DeleteSession(ctx, r.slug, id, live); err != nil {
		return err
	}

	r.remove(id)
	r.invalidate(ctx)
	return nil
}

// Poll refreshes the list immediately and then every interval until ctx is
// cancelled. Failures are logged and kept in LastError.
func (r *Registry) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("classroom", r.slug).Msg("Session list refresh failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (r *Registry) lookup(ctx context.Context, id uuid.UUID) (domain.LiveSession, error) {
	if session, ok := r.Get(id); ok {
		return session, nil
	}

	// The cache may predate a session created elsewhere
	if err := r.Refresh(ctx); err != nil {
		return domain.LiveSession{}, err
	}
	if session, ok := r.Get(id); ok {
		return session, nil
	}
	return domain.LiveSession{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
}

// invalidate refetches after a write. The write is already applied locally,
// so a failed refetch leaves a consistent cache.
func (r *Registry) invalidate(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("classroom", r.slug).Msg("Session list refresh after write failed")
	}
}

func (r *Registry) upsert(session domain.LiveSession) {
	r.mu.Lock()
	r.writes++
	found := false
	for i := range r.sessions {
		if r.sessions[i].ID == session.ID {
			r.sessions[i] = session
			found = true
			break
		}
	}
	if !found {
		r.sessions = append(r.sessions, session)
	}
	sortSessions(r.sessions)
	r.mu.Unlock()

	r.notify()
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	r.writes++
	for i := range r.sessions {
		if r.sessions[i].ID == id {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.notify()
}

func sortSessions(sessions []domain.LiveSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].StartsAt.Equal(sessions[j].StartsAt) {
			return sessions[i].StartsAt.Before(sessions[j].StartsAt)
		}
		return sessions[i].ID.String() < sessions[j].ID.String()
	})
}
