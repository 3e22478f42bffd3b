// Package reaction keeps the ephemeral emoji reactions shown over a room.
package reaction

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Type is a reaction kind
type Type string

const (
	Heart  Type = "heart"
	Clap   Type = "clap"
	Thumbs Type = "thumbs"
	Fire   Type = "fire"
	Mind   Type = "mind"
	Rocket Type = "rocket"
)

var emoji = map[Type]string{
	Heart:  "❤️",
	Clap:   "👏",
	Thumbs: "👍",
	Fire:   "🔥",
	Mind:   "🤯",
	Rocket: "🚀",
}

// Types lists the supported reactions in display order
func Types() []Type {
	return []Type{Heart, Clap, Thumbs, Fire, Mind, Rocket}
}

// Valid reports whether t is a supported reaction
func (t Type) Valid() bool {
	_, ok := emoji[t]
	return ok
}

// Emoji returns the glyph rendered for t
func (t Type) Emoji() string {
	return emoji[t]
}

const (
	// DefaultTTL is how long a reaction stays visible
	DefaultTTL = 3 * time.Second
	// Topic is the room data topic reactions travel on
	Topic = "reaction"

	minPosition = 10.0
	maxPosition = 90.0
)

// Reaction is one visible reaction. X and Y are percentages of the stage.
type Reaction struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	From      string    `json:"from,omitempty"`
	Local     bool      `json:"local"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type wireReaction struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
}

// Publisher forwards local reactions to the room
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Option configures a Layer
type Option func(*Layer)

// WithTTL overrides the visible lifetime
func WithTTL(ttl time.Duration) Option {
	return func(l *Layer) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPublisher forwards emitted reactions to p, at most limit per second
// with the given burst. Reactions over the limit stay local.
func WithPublisher(p Publisher, limit rate.Limit, burst int) Option {
	return func(l *Layer) {
		l.publisher = p
		l.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithRand sets the source of on-screen positions
func WithRand(rng *rand.Rand) Option {
	return func(l *Layer) { l.rng = rng }
}

type entry struct {
	reaction Reaction
	timer    clockwork.Timer
}

// Layer holds the active reactions. Every reaction removes itself after the
// TTL.
type Layer struct {
	clock     clockwork.Clock
	ttl       time.Duration
	publisher Publisher
	limiter   *rate.Limiter

	mu        sync.Mutex
	rng       *rand.Rand
	active    map[string]*entry
	stopped   bool
	listeners []func()
}

// New creates a layer. A nil clock uses the real clock.
func New(clock clockwork.Clock, opts ...Option) *Layer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := &Layer{
		clock:  clock,
		ttl:    DefaultTTL,
		active: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.rng == nil {
		l.rng = rand.New(rand.NewSource(clock.Now().UnixNano()))
	}
	return l
}

// OnChange registers fn to run whenever a reaction appears or expires
func (l *Layer) OnChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *Layer) notify() {
	l.mu.Lock()
	listeners := append([]func(){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Emit shows a local reaction and forwards it when a publisher is set.
// Forwarding is best effort and never fails the call.
func (l *Layer) Emit(ctx context.Context, t Type) (Reaction, error) {
	if !t.Valid() {
		return Reaction{}, domain.NewValidationError("type", fmt.Sprintf("unknown reaction %q", t))
	}

	r, err := l.add(uuid.NewString(), t, "", true)
	if err != nil {
		return Reaction{}, err
	}

	if l.publisher != nil {
		if !l.limiter.Allow() {
			log.Debug().Str("reaction", string(t)).Msg("Reaction not forwarded, rate limited")
			return r, nil
		}
		payload, _ := json.Marshal(wireReaction{ID: r.ID, Type: t})
		if err := l.publisher.Publish(ctx, Topic, payload); err != nil {
			log.Debug().Err(err).Str("reaction", string(t)).Msg("Reaction not forwarded")
		}
	}
	return r, nil
}

// Receive shows a reaction forwarded by another participant
func (l *Layer) Receive(from string, payload []byte) (Reaction, error) {
	var wire wireReaction
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Reaction{}, domain.NewValidationError("payload", "malformed reaction")
	}
	if !wire.Type.Valid() {
		return Reaction{}, domain.NewValidationError("type", fmt.Sprintf("unknown reaction %q", wire.Type))
	}
	if wire.ID == "" {
		wire.ID = uuid.NewString()
	}
	return l.add(from+"/"+wire.ID, wire.Type, from, false)
}

func (l *Layer) add(id string, t Type, from string, local bool) (Reaction, error) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return Reaction{}, fmt.Errorf("%w: reaction layer stopped", domain.ErrConflict)
	}
	if _, dup := l.active[id]; dup {
		r := l.active[id].reaction
		l.mu.Unlock()
		return r, nil
	}

	now := l.clock.Now()
	r := Reaction{
		ID:        id,
		Type:      t,
		X:         l.position(),
		Y:         l.position(),
		From:      from,
		Local:     local,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	e := &entry{reaction: r}
	e.timer = l.clock.AfterFunc(l.ttl, func() { l.expire(id, e) })
	l.active[id] = e
	l.mu.Unlock()

	l.notify()
	return r, nil
}

// position must be called with mu held
func (l *Layer) position() float64 {
	return minPosition + l.rng.Float64()*(maxPosition-minPosition)
}

func (l *Layer) expire(id string, e *entry) {
	l.mu.Lock()
	if l.active[id] != e {
		l.mu.Unlock()
		return
	}
	delete(l.active, id)
	l.mu.Unlock()

	l.notify()
}

// Active lists the visible reactions, oldest first
func (l *Layer) Active() []Reaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Reaction, 0, len(l.active))
	for _, e := range l.active {
		out = append(out, e.reaction)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stop cancels every expiry timer and clears the layer
func (l *Layer) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	for id, e := range l.active {
		e.timer.Stop()
		delete(l.active, id)
	}
}
