// Package tokenbroker issues and refreshes room credentials for the client.
package tokenbroker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultRetryInterval is the delay before a failed background refresh is
// attempted again
const DefaultRetryInterval = 30 * time.Second

// Issuer is the token issuance API
type Issuer interface {
	IssueToken(ctx context.Context, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error)
	RefreshToken(ctx context.Context, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error)
}

// Config controls background refresh
type Config struct {
	AutoRefresh     bool
	RefreshFraction float64
	RetryInterval   time.Duration
}

type target struct {
	slug      string
	sessionID uuid.UUID
	req       domain.TokenRequest
}

// Broker holds the credential of one joined session. Concurrent refreshes
// are allowed; the last one to complete wins.
type Broker struct {
	issuer Issuer
	clock  clockwork.Clock
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	target     *target
	current    *domain.TokenCredential
	generation uint64
	timer      clockwork.Timer
	lastErr    error
	stopped    bool
	listeners  []func(*domain.TokenCredential)
}

// New creates a broker. A nil clock uses the real clock.
func New(issuer Issuer, clock clockwork.Clock, cfg Config) *Broker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.RefreshFraction <= 0 || cfg.RefreshFraction >= 1 {
		cfg.RefreshFraction = domain.DefaultRefreshFraction
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		issuer: issuer,
		clock:  clock,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnRefresh registers a listener called with every newly stored credential
func (b *Broker) OnRefresh(fn func(*domain.TokenCredential)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Issue requests a credential for the session. Failures are returned as is
// and never retried.
func (b *Broker) Issue(ctx context.Context, slug string, sessionID uuid.UUID, participantName string) (*domain.TokenCredential, error) {
	slug = strings.TrimSpace(slug)
	verr := &domain.ValidationError{}
	if slug == "" {
		verr.Add("classroom", "classroom is required")
	}
	if sessionID == uuid.Nil {
		verr.Add("session_id", "session is required")
	}
	if verr.HasErrors() {
		return nil, verr
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: token broker stopped", domain.ErrConflict)
	}
	b.generation++
	gen := b.generation
	t := &target{slug: slug, sessionID: sessionID, req: domain.TokenRequest{ParticipantName: participantName}}
	b.target = t
	b.current = nil
	b.stopTimerLocked()
	b.mu.Unlock()

	cred, err := b.issuer.IssueToken(ctx, t.slug, t.sessionID, t.req)
	if err != nil {
		b.recordErr(gen, err)
		return nil, err
	}

	b.store(gen, cred)
	return cred, nil
}

// Refresh re-issues the credential of the current session
func (b *Broker) Refresh(ctx context.Context) (*domain.TokenCredential, error) {
	b.mu.Lock()
	t := b.target
	gen := b.generation
	b.mu.Unlock()

	if t == nil {
		return nil, fmt.Errorf("%w: no credential has been issued", domain.ErrConflict)
	}

	cred, err := b.issuer.RefreshToken(ctx, t.slug, t.sessionID, t.req)
	if err != nil {
		b.recordErr(gen, err)
		return nil, err
	}

	if !b.store(gen, cred) {
		return nil, fmt.Errorf("%w: credential discarded during refresh", domain.ErrConflict)
	}
	return cred, nil
}

// store keeps cred unless the broker moved on to another session since gen.
// The latest completing call wins.
func (b *Broker) store(gen uint64, cred *domain.TokenCredential) bool {
	b.mu.Lock()
	if b.stopped || gen != b.generation {
		b.mu.Unlock()
		return false
	}
	b.current = cred
	b.lastErr = nil
	if b.cfg.AutoRefresh {
		delay := cred.RefreshAt(b.cfg.RefreshFraction).Sub(b.clock.Now())
		if delay < 0 {
			delay = 0
		}
		b.scheduleLocked(gen, delay)
	}
	listeners := append([]func(*domain.TokenCredential){}, b.listeners...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(cred)
	}
	return true
}

func (b *Broker) recordErr(gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen == b.generation {
		b.lastErr = err
	}
}

func (b *Broker) scheduleLocked(gen uint64, delay time.Duration) {
	b.stopTimerLocked()
	b.timer = b.clock.AfterFunc(delay, func() {
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return
		}
		b.wg.Add(1)
		b.mu.Unlock()

		defer b.wg.Done()
		b.backgroundRefresh(gen)
	})
}

func (b *Broker) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// backgroundRefresh never tears anything down on failure; it logs and tries
// again after the retry interval
func (b *Broker) backgroundRefresh(gen uint64) {
	b.mu.Lock()
	if b.stopped || gen != b.generation {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if _, err := b.Refresh(b.ctx); err != nil {
		if b.ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", b.cfg.RetryInterval).Msg("Background token refresh failed")

		b.mu.Lock()
		if !b.stopped && gen == b.generation {
			b.scheduleLocked(gen, b.cfg.RetryInterval)
		}
		b.mu.Unlock()
		return
	}
	log.Debug().Msg("Room token refreshed")
}

// Current returns the held credential, or nil
func (b *Broker) Current() *domain.TokenCredential {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// LastError returns the error of the most recent failed issue or refresh
func (b *Broker) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Discard drops the credential and cancels the refresh timer. In-flight
// refreshes complete without being stored.
func (b *Broker) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	b.target = nil
	b.current = nil
	b.lastErr = nil
	b.stopTimerLocked()
}

// Stop discards the credential, cancels background work and waits for it
func (b *Broker) Stop() {
	b.Discard()
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
