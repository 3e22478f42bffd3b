// Package live wires the client side components of one classroom: the
// session list, automatic transitions, room credentials, the room
// connection, the chat transcript and reactions.
package live

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/chat"
	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/Rrens/classroom-live/internal/lifecycle"
	"github.com/Rrens/classroom-live/internal/reaction"
	"github.com/Rrens/classroom-live/internal/realtime"
	"github.com/Rrens/classroom-live/internal/registry"
	"github.com/Rrens/classroom-live/internal/room"
	"github.com/Rrens/classroom-live/internal/tokenbroker"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// API is the classroom REST surface the client needs
type API interface {
	registry.Backend
	tokenbroker.Issuer
	chat.Backend
	FeedURL(slug string, sessionID uuid.UUID) string
}

// Feed is an open realtime chat feed
type Feed interface {
	Events() <-chan domain.MessageEvent
	Err() error
	Close() error
}

// FeedDialer opens the realtime feed at url
type FeedDialer func(ctx context.Context, url string) (Feed, error)

// RealtimeFeeds adapts a realtime client to a FeedDialer
func RealtimeFeeds(client *realtime.Client) FeedDialer {
	return func(ctx context.Context, url string) (Feed, error) {
		sub, err := client.Subscribe(ctx, url)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}

// Config controls one classroom client
type Config struct {
	Classroom       string
	ParticipantName string
	SenderID        uuid.UUID
	// Privileged lets this client delete live sessions and run the
	// automatic transitions
	Privileged    bool
	PollInterval  time.Duration
	Lifecycle     lifecycle.Config
	Token         tokenbroker.Config
	ReactionTTL   time.Duration
	ReactionRate  rate.Limit
	ReactionBurst int
	HistoryLimit  int
}

// Deps are the collaborators of a classroom client
type Deps struct {
	API   API
	Feeds FeedDialer
	Rooms room.Provider
	Clock clockwork.Clock
}

// Classroom is the client state of one classroom
type Classroom struct {
	cfg  Config
	deps Deps

	registry *registry.Registry
	monitor  *lifecycle.Monitor
	broker   *tokenbroker.Broker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	current *Session
	joining bool
	closed  bool
}

// New creates a classroom client
func New(cfg Config, deps Deps) (*Classroom, error) {
	if deps.API == nil || deps.Rooms == nil {
		return nil, fmt.Errorf("%w: api and room provider are required", domain.ErrValidation)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if cfg.ReactionRate <= 0 {
		cfg.ReactionRate = 5
	}
	if cfg.ReactionBurst <= 0 {
		cfg.ReactionBurst = 10
	}

	reg, err := registry.New(deps.API, cfg.Classroom,
		registry.WithPrivileged(cfg.Privileged),
		registry.WithClock(deps.Clock),
	)
	if err != nil {
		return nil, err
	}
	cfg.Classroom = reg.Slug()

	c := &Classroom{
		cfg:      cfg,
		deps:     deps,
		registry: reg,
		monitor:  lifecycle.NewMonitor(reg, deps.Clock, cfg.Lifecycle),
		broker:   tokenbroker.New(deps.API, deps.Clock, cfg.Token),
	}
	reg.OnChange(c.leaveIfGone)
	return c, nil
}

// leaveIfGone leaves the joined session once the session list shows it
// ended, cancelled or deleted
func (c *Classroom) leaveIfGone(sessions []domain.LiveSession) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return
	}

	for _, info := range sessions {
		if info.ID != s.info.ID {
			continue
		}
		if !info.Status.Terminal() {
			return
		}
		log.Info().
			Str("session_id", info.ID.String()).
			Str("status", string(info.Status)).
			Msg("Joined session is over, leaving")
		c.leave(s)
		return
	}

	log.Info().Str("session_id", s.info.ID.String()).Msg("Joined session was removed, leaving")
	c.leave(s)
}

// Registry returns the session list owner
func (c *Classroom) Registry() *registry.Registry { return c.registry }

// Broker returns the room credential holder
func (c *Classroom) Broker() *tokenbroker.Broker { return c.broker }

// Monitor returns the automatic transition monitor
func (c *Classroom) Monitor() *lifecycle.Monitor { return c.monitor }

// Start polls the session list and, for privileged clients, runs the
// automatic transitions. Everything stops on Close.
func (c *Classroom) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: classroom closed", domain.ErrConflict)
	}
	if c.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.registry.Poll(ctx, c.cfg.PollInterval)
	}()

	if c.cfg.Privileged {
		c.monitor.Start(ctx)
	}

	log.Info().
		Str("classroom", c.cfg.Classroom).
		Bool("privileged", c.cfg.Privileged).
		Msg("Classroom client started")
	return nil
}

// Current returns the joined session, or nil
func (c *Classroom) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Join requests a credential for the session and connects to its room. A
// failed credential request is returned as is and not retried. When only
// the room connection fails the joined session is still returned so the
// caller can Reconnect.
func (c *Classroom) Join(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: classroom closed", domain.ErrConflict)
	}
	if c.current != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: already joined session %s", domain.ErrConflict, c.current.info.ID)
	}
	if c.joining {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: a join is already in progress", domain.ErrConflict)
	}
	c.joining = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.joining = false
		c.mu.Unlock()
	}()

	info, err := c.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cred, err := c.broker.Issue(ctx, c.cfg.Classroom, sessionID, c.cfg.ParticipantName)
	if err != nil {
		return nil, fmt.Errorf("cannot join session: %w", err)
	}

	s, err := c.newSession(info, cred)
	if err != nil {
		c.broker.Discard()
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.teardown()
		c.broker.Discard()
		return nil, fmt.Errorf("%w: classroom closed while joining", domain.ErrConflict)
	}
	c.current = s
	c.mu.Unlock()

	s.start(ctx, c.deps, c.cfg)

	if err := s.room.Connect(ctx, cred); err != nil {
		return s, fmt.Errorf("failed to connect to room: %w", err)
	}
	return s, nil
}

func (c *Classroom) lookup(ctx context.Context, id uuid.UUID) (domain.LiveSession, error) {
	if id == uuid.Nil {
		return domain.LiveSession{}, domain.NewValidationError("session_id", "session is required")
	}
	if s, ok := c.registry.Get(id); ok {
		return s, nil
	}
	if err := c.registry.Refresh(ctx); err != nil {
		return domain.LiveSession{}, err
	}
	if s, ok := c.registry.Get(id); ok {
		return s, nil
	}
	return domain.LiveSession{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
}

func (c *Classroom) newSession(info domain.LiveSession, cred *domain.TokenCredential) (*Session, error) {
	transcript, err := chat.NewReconciler(c.deps.API, c.cfg.Classroom, info.ID,
		chat.WithSender(c.cfg.SenderID, senderName(c.cfg, cred)),
		chat.WithClock(c.deps.Clock),
		chat.WithHistoryLimit(c.cfg.HistoryLimit),
	)
	if err != nil {
		return nil, err
	}

	sup := room.NewSupervisor(c.deps.Rooms, c.broker)
	s := &Session{
		info: info,
		room: sup,
		chat: transcript,
		reactions: reaction.New(c.deps.Clock,
			reaction.WithTTL(c.cfg.ReactionTTL),
			reaction.WithPublisher(sup, c.cfg.ReactionRate, c.cfg.ReactionBurst),
		),
	}
	return s, nil
}

func senderName(cfg Config, cred *domain.TokenCredential) string {
	if name := strings.TrimSpace(cfg.ParticipantName); name != "" {
		return name
	}
	return cred.Name
}

// Leave tears down the joined session: feed, room connection, reaction
// timers and the credential with its refresh timer
func (c *Classroom) Leave() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s != nil {
		c.leave(s)
	}
}

// leave tears s down if it is still the joined session
func (c *Classroom) leave(s *Session) {
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()

	s.teardown()
	c.broker.Discard()

	log.Info().Str("session_id", s.info.ID.String()).Msg("Left session")
}

// EndForAll closes the room for everyone, marks the session ended and
// leaves it
func (c *Classroom) EndForAll(ctx context.Context) error {
	s := c.Current()
	if s == nil {
		return fmt.Errorf("%w: no session joined", domain.ErrConflict)
	}

	if err := s.room.EndSessionForAll(ctx); err != nil {
		return err
	}
	if _, err := c.registry.Update(ctx, s.info.ID, domain.StatusUpdate(domain.StatusEnded)); err != nil {
		log.Warn().Err(err).Str("session_id", s.info.ID.String()).Msg("Failed to mark session ended")
		c.Leave()
		return fmt.Errorf("room closed but session status not updated: %w", err)
	}
	c.Leave()
	return nil
}

// Close leaves the joined session and stops every background loop
func (c *Classroom) Close() {
	c.Leave()

	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.monitor.Stop()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.broker.Stop()
}
