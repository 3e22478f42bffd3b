// Package lifecycle runs the automatic session start and end checks.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultStartInterval = 60 * time.Second
	DefaultEndInterval   = 5 * time.Minute
)

// Target lists sessions and applies transitions. Registry implements it.
type Target interface {
	List(ctx context.Context) ([]domain.LiveSession, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.SessionUpdate) (*domain.LiveSession, error)
}

// Config sets the check intervals
type Config struct {
	StartInterval   time.Duration
	EndInterval     time.Duration
	MaxLiveDuration time.Duration
}

type dispatchKey struct {
	sessionID uuid.UUID
	kind      domain.Transition
}

// Monitor dispatches due transitions. A dispatched transition stays in the
// pending set until its session is no longer eligible; a failed dispatch is
// released so the next tick retries it.
type Monitor struct {
	target Target
	clock  clockwork.Clock
	cfg    Config

	mu      sync.Mutex
	pending map[dispatchKey]struct{}
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	flights sync.WaitGroup
}

// NewMonitor creates a monitor. A nil clock uses the real clock.
func NewMonitor(target Target, clock clockwork.Clock, cfg Config) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.StartInterval <= 0 {
		cfg.StartInterval = DefaultStartInterval
	}
	if cfg.EndInterval <= 0 {
		cfg.EndInterval = DefaultEndInterval
	}
	if cfg.MaxLiveDuration <= 0 {
		cfg.MaxLiveDuration = domain.DefaultMaxLiveDuration
	}
	return &Monitor{
		target:  target,
		clock:   clock,
		cfg:     cfg,
		pending: make(map[dispatchKey]struct{}),
	}
}

// Start runs both check loops until Stop or ctx cancellation. Calling Start
// on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.loops.Add(2)
	go m.loop(ctx, m.cfg.StartInterval, m.CheckStarts)
	go m.loop(ctx, m.cfg.EndInterval, m.CheckEnds)
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, check func(context.Context) int) {
	defer m.loops.Done()

	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			check(ctx)
		}
	}
}

// Stop cancels both loops and waits for in-flight dispatches
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.loops.Wait()
	m.flights.Wait()
}

// Wait blocks until every dispatched transition has completed
func (m *Monitor) Wait() {
	m.flights.Wait()
}

// CheckStarts dispatches scheduled to live transitions that are due and
// returns how many were dispatched
func (m *Monitor) CheckStarts(ctx context.Context) int {
	return m.check(ctx, domain.TransitionStart)
}

// CheckEnds dispatches transitions to ended that are due
func (m *Monitor) CheckEnds(ctx context.Context) int {
	return m.check(ctx, domain.TransitionEnd)
}

func (m *Monitor) check(ctx context.Context, kind domain.Transition) int {
	sessions, err := m.target.List(ctx)
	if err != nil {
		log.Warn().Err(err).Str("transition", string(kind)).Msg("Lifecycle check could not list sessions")
		return 0
	}

	now := m.clock.Now()
	due := make(map[uuid.UUID]domain.LiveSession)
	for _, s := range sessions {
		if s.DueTransition(now, m.cfg.MaxLiveDuration) == kind {
			due[s.ID] = s
		}
	}

	var dispatch []domain.LiveSession
	m.mu.Lock()
	for key := range m.pending {
		if key.kind != kind {
			continue
		}
		if _, ok := due[key.sessionID]; !ok {
			delete(m.pending, key)
		}
	}
	for id, s := range due {
		key := dispatchKey{sessionID: id, kind: kind}
		if _, ok := m.pending[key]; ok {
			continue
		}
		m.pending[key] = struct{}{}
		dispatch = append(dispatch, s)
	}
	m.mu.Unlock()

	for _, s := range dispatch {
		m.flights.Add(1)
		go m.dispatch(ctx, s, kind)
	}
	return len(dispatch)
}

func (m *Monitor) dispatch(ctx context.Context, session domain.LiveSession, kind domain.Transition) {
	defer m.flights.Done()

	to := kind.Target()
	_, err := m.target.Update(ctx, session.ID, domain.StatusUpdate(to))
	if err != nil {
		m.mu.Lock()
		delete(m.pending, dispatchKey{sessionID: session.ID, kind: kind})
		m.mu.Unlock()

		log.Warn().
			Err(err).
			Str("session_id", session.ID.String()).
			Str("to", string(to)).
			Msg("Automatic session transition failed")
		return
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("from", string(session.Status)).
		Str("to", string(to)).
		Msg("Session transitioned automatically")
}

// Pending reports whether a transition for the session is dispatched and
// not yet released
func (m *Monitor) Pending(sessionID uuid.UUID, kind domain.Transition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[dispatchKey{sessionID: sessionID, kind: kind}]
	return ok
}
