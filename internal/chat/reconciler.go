// Package chat folds chat history and the realtime feed into one transcript.
package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultHistoryLimit is the page size of a history fetch
const DefaultHistoryLimit = 50

// Backend is the chat API of one classroom
type Backend interface {
	ListMessages(ctx context.Context, slug string, sessionID uuid.UUID, limit, offset int) ([]domain.ChatMessage, error)
	SendMessage(ctx context.Context, slug string, sessionID uuid.UUID, input domain.MessageCreate) (*domain.ChatMessage, error)
	GetAttachment(ctx context.Context, slug string, id uuid.UUID) (*domain.Attachment, error)
}

// Merge builds the visible transcript. History seeds the result, live
// entries replace history entries with the same id, and the output is sorted
// by timestamp then id. It does not modify its inputs.
func Merge(history, live map[string]domain.ChatMessage) []domain.ChatMessage {
	combined := make(map[string]domain.ChatMessage, len(history)+len(live))
	for id, msg := range history {
		combined[id] = msg
	}
	for id, msg := range live {
		combined[id] = msg
	}

	out := make([]domain.ChatMessage, 0, len(combined))
	for _, msg := range combined {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithSender sets the identity stamped on optimistic messages
func WithSender(id uuid.UUID, name string) Option {
	return func(r *Reconciler) {
		r.senderID = id
		r.senderName = name
	}
}

// WithClock sets the clock used for optimistic timestamps and polling
func WithClock(clock clockwork.Clock) Option {
	return func(r *Reconciler) { r.clock = clock }
}

// WithHistoryLimit sets the page size of history fetches
func WithHistoryLimit(limit int) Option {
	return func(r *Reconciler) {
		if limit > 0 {
			r.historyLimit = limit
		}
	}
}

// Reconciler owns the transcript of one session
type Reconciler struct {
	backend      Backend
	slug         string
	sessionID    uuid.UUID
	senderID     uuid.UUID
	senderName   string
	historyLimit int
	clock        clockwork.Clock

	mu        sync.Mutex
	history   map[string]domain.ChatMessage
	live      map[string]domain.ChatMessage
	pending   map[string]domain.MessageCreate
	listeners []func()
}

// NewReconciler creates an empty transcript for a session
func NewReconciler(backend Backend, slug string, sessionID uuid.UUID, opts ...Option) (*Reconciler, error) {
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

	r := &Reconciler{
		backend:      backend,
		slug:         slug,
		sessionID:    sessionID,
		historyLimit: DefaultHistoryLimit,
		clock:        clockwork.NewRealClock(),
		history:      make(map[string]domain.ChatMessage),
		live:         make(map[string]domain.ChatMessage),
		pending:      make(map[string]domain.MessageCreate),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// OnChange registers fn to run after every transcript mutation
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Reconciler) notify() {
	r.mu.Lock()
	listeners := append([]func(){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Transcript returns the visible messages
func (r *Reconciler) Transcript() []domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Merge(r.history, r.live)
}

// LiveCount returns the number of entries only known from the feed or from
// local sends
func (r *Reconciler) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// SetHistory replaces the history with the latest page and drops live
// entries the server has persisted: those in the page, and those at or
// before its newest message that scrolled out of it. A live copy carrying
// attachment metadata the history copy lacks hands it over before being
// dropped. Optimistic messages stay until their send resolves.
func (r *Reconciler) SetHistory(messages []domain.ChatMessage) {
	r.mu.Lock()
	history := make(map[string]domain.ChatMessage, len(messages))
	var newest time.Time
	for _, msg := range messages {
		history[msg.ID] = msg
		if msg.Timestamp.After(newest) {
			newest = msg.Timestamp
		}
	}
	for id, liveMsg := range r.live {
		histMsg, ok := history[id]
		if !ok {
			if !liveMsg.IsTemporary() && len(history) > 0 && !liveMsg.Timestamp.After(newest) {
				delete(r.live, id)
			}
			continue
		}
		if !histMsg.Attachment.Complete() && liveMsg.Attachment.Complete() {
			histMsg.Attachment = liveMsg.Attachment
			history[id] = histMsg
		}
		delete(r.live, id)
	}
	r.history = history
	r.mu.Unlock()

	r.notify()
}

// LoadHistory fetches the newest page of history
func (r *Reconciler) LoadHistory(ctx context.Context) error {
	messages, err := r.backend.ListMessages(ctx, r.slug, r.sessionID, r.historyLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to load chat history: %w", err)
	}
	r.SetHistory(messages)
	return nil
}

// Poll reloads history every interval until ctx is done
func (r *Reconciler) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		if err := r.LoadHistory(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("session_id", r.sessionID.String()).Msg("Chat history refresh failed")
		}
	}
}

// ApplyEvent folds a realtime insert into the transcript. Attachment
// metadata missing from the event is looked up; a failed lookup renders a
// placeholder instead of dropping the message.
func (r *Reconciler) ApplyEvent(ctx context.Context, event domain.MessageEvent) {
	if event.SessionID != uuid.Nil && event.SessionID != r.sessionID {
		return
	}
	if event.MessageID == "" {
		log.Warn().Msg("Dropping chat event without message id")
		return
	}

	msg := event.ToMessage()
	msg.Attachment = r.enrich(ctx, msg.ID, msg.Attachment)

	r.mu.Lock()
	r.live[msg.ID] = msg
	r.mu.Unlock()

	r.notify()
}

func (r *Reconciler) enrich(ctx context.Context, messageID string, att *domain.Attachment) *domain.Attachment {
	if att == nil || att.Complete() {
		return att
	}

	full, err := r.backend.GetAttachment(ctx, r.slug, att.ID)
	if err != nil || !full.Complete() {
		log.Warn().
			Err(err).
			Str("message_id", messageID).
			Str("attachment_id", att.ID.String()).
			Msg("Attachment lookup failed, rendering placeholder")
		return domain.PlaceholderAttachment(att.ID)
	}
	return full
}

// Run applies feed events until the channel closes or ctx is done
func (r *Reconciler) Run(ctx context.Context, events <-chan domain.MessageEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.ApplyEvent(ctx, event)
		}
	}
}

// Send shows the message immediately under a temporary id and replaces it
// with the stored copy once confirmed. A failed send stays visible flagged
// as failed so it can be retried.
func (r *Reconciler) Send(ctx context.Context, content string, attachmentID *uuid.UUID) (*domain.ChatMessage, error) {
	input := domain.MessageCreate{Content: content, AttachmentID: attachmentID}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	tmp := domain.ChatMessage{
		ID:         domain.TempIDPrefix + uuid.NewString(),
		SessionID:  r.sessionID,
		SenderID:   r.senderID,
		SenderName: r.senderName,
		Content:    content,
		Timestamp:  r.clock.Now().UTC(),
		Type:       domain.MessageUser,
	}
	if attachmentID != nil {
		tmp.Attachment = &domain.Attachment{ID: *attachmentID}
	}

	r.mu.Lock()
	r.live[tmp.ID] = tmp
	r.pending[tmp.ID] = input
	r.mu.Unlock()
	r.notify()

	return r.deliver(ctx, tmp.ID, input)
}

// Retry resends a failed optimistic message
func (r *Reconciler) Retry(ctx context.Context, tempID string) (*domain.ChatMessage, error) {
	r.mu.Lock()
	msg, ok := r.live[tempID]
	input, pending := r.pending[tempID]
	if !ok || !pending {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, tempID)
	}
	if !msg.Failed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: message %s is still being sent", domain.ErrConflict, tempID)
	}
	msg.Failed = false
	r.live[tempID] = msg
	r.mu.Unlock()
	r.notify()

	return r.deliver(ctx, tempID, input)
}

func (r *Reconciler) deliver(ctx context.Context, tempID string, input domain.MessageCreate) (*domain.ChatMessage, error) {
	confirmed, err := r.backend.SendMessage(ctx, r.slug, r.sessionID, input)
	if err != nil {
		r.mu.Lock()
		if msg, ok := r.live[tempID]; ok {
			msg.Failed = true
			r.live[tempID] = msg
		}
		r.mu.Unlock()
		r.notify()

		log.Warn().Err(err).Str("temp_id", tempID).Msg("Chat message send failed")
		return nil, err
	}

	stored := *confirmed
	stored.Attachment = r.enrich(ctx, stored.ID, stored.Attachment)

	r.mu.Lock()
	delete(r.live, tempID)
	delete(r.pending, tempID)
	if _, inHistory := r.history[stored.ID]; !inHistory {
		// The feed may have delivered the same row first
		if existing, ok := r.live[stored.ID]; !ok || !existing.Attachment.Complete() || stored.Attachment.Complete() {
			r.live[stored.ID] = stored
		}
	}
	r.mu.Unlock()
	r.notify()

	return &stored, nil
}
