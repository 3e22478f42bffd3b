package room

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/rs/zerolog/log"
)

// Supervisor owns the lifecycle of one joined room
type Supervisor struct {
	provider Provider
	tokens   TokenSource

	mu            sync.Mutex
	state         State
	cred          *domain.TokenCredential
	conn          Conn
	connectCancel context.CancelFunc
	local         domain.Participant
	participants  map[string]domain.Participant
	lastErr       error

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	wg sync.WaitGroup
}

// NewSupervisor creates an idle supervisor. tokens may be nil, in which case
// Reconnect needs a credential passed to Connect instead.
func NewSupervisor(provider Provider, tokens TokenSource) *Supervisor {
	return &Supervisor{
		provider:     provider,
		tokens:       tokens,
		state:        StateIdle,
		participants: make(map[string]domain.Participant),
		subs:         make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every event and returns a function removing it.
// fn runs on the goroutine that produced the event and must not block.
func (s *Supervisor) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Supervisor) emit(ev Event) {
	s.subMu.RLock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Connect joins the room described by cred. Calling it while connecting or
// connected is a no-op. A supervisor that was disconnected cannot connect
// again.
func (s *Supervisor) Connect(ctx context.Context, cred *domain.TokenCredential) error {
	if cred == nil || strings.TrimSpace(cred.Token) == "" {
		return domain.NewValidationError("token", "a room credential is required")
	}
	if strings.TrimSpace(cred.WSURL) == "" {
		return domain.NewValidationError("ws_url", "room server url is required")
	}

	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return nil
	case StateDisconnected:
		s.mu.Unlock()
		return fmt.Errorf("%w: room already left", domain.ErrConflict)
	}
	connectCtx, cancel := context.WithCancel(ctx)
	s.state = StateConnecting
	s.cred = cred
	s.connectCancel = cancel
	s.lastErr = nil
	s.mu.Unlock()
	s.emit(Event{Type: EventStateChanged, State: StateConnecting})

	conn, err := s.provider.Connect(connectCtx, cred.WSURL, cred.Token)
	cancel()

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnect won the race
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("%w: room left while connecting", domain.ErrConflict)
	}
	s.connectCancel = nil

	if err != nil {
		s.state = StateError
		s.lastErr = err
		s.mu.Unlock()

		log.Warn().Err(err).Str("room", cred.RoomName).Msg("Room connection failed")
		s.emit(Event{Type: EventError, Err: err})
		s.emit(Event{Type: EventStateChanged, State: StateError, Err: err})
		return err
	}

	s.state = StateConnected
	s.conn = conn
	s.local = conn.Local()
	s.local.Local = true
	s.participants = make(map[string]domain.Participant)
	for _, p := range conn.Participants() {
		p.Local = false
		s.participants[p.Identity] = p
	}
	s.wg.Add(1)
	s.mu.Unlock()

	log.Info().Str("room", cred.RoomName).Str("identity", s.local.Identity).Msg("Connected to room")
	s.emit(Event{Type: EventStateChanged, State: StateConnected})

	go s.pump(conn)
	return nil
}

// Reconnect retries a failed connection with a freshly requested credential.
// It is only valid from the error state.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	cred := s.cred
	s.mu.Unlock()

	if state != StateError {
		return fmt.Errorf("%w: reconnect requires the error state, room is %s", domain.ErrConflict, state)
	}

	if s.tokens != nil {
		fresh, err := s.tokens.Refresh(ctx)
		if err != nil {
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
			s.emit(Event{Type: EventError, Err: err})
			return fmt.Errorf("failed to refresh room token: %w", err)
		}
		cred = fresh
	}
	return s.Connect(ctx, cred)
}

// pump folds provider events into the supervisor state until conn ends
func (s *Supervisor) pump(conn Conn) {
	defer s.wg.Done()

	closed := false
	for ev := range conn.Events() {
		if ev.Type == EventClosed {
			closed = true
			s.finish(conn, ev.Reason, ev.Err)
			continue
		}
		if !s.apply(conn, ev) {
			continue
		}
		s.emit(ev)
	}

	if !closed {
		s.finish(conn, "", fmt.Errorf("%w: room connection dropped", domain.ErrTransport))
	}
}

// apply updates the roster. It returns false when the event belongs to a
// connection that is no longer current.
func (s *Supervisor) apply(conn Conn, ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != conn {
		return false
	}

	switch ev.Type {
	case EventParticipantJoined, EventParticipantUpdated:
		if ev.Participant == nil {
			return false
		}
		if ev.Participant.Identity == s.local.Identity {
			p := *ev.Participant
			p.Local = true
			s.local = p
			return true
		}
		s.participants[ev.Participant.Identity] = *ev.Participant
	case EventParticipantLeft:
		delete(s.participants, ev.Identity)
	}
	return true
}

// finish moves a connection that ended on its own to disconnected, or to
// error when err is set
func (s *Supervisor) finish(conn Conn, reason string, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.participants = make(map[string]domain.Participant)

	next := StateDisconnected
	if err != nil {
		next = StateError
		s.lastErr = err
	}
	s.state = next
	s.mu.Unlock()

	conn.Close()

	if err != nil {
		log.Warn().Err(err).Msg("Room connection lost")
		s.emit(Event{Type: EventError, Err: err})
	} else {
		log.Info().Str("reason", reason).Msg("Room closed remotely")
	}
	s.emit(Event{Type: EventStateChanged, State: next, Reason: reason, Err: err})
}

// Disconnect leaves the room. It is safe in every state and always ends in
// the terminal disconnected state.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	cancel := s.connectCancel
	s.conn = nil
	s.connectCancel = nil
	s.participants = make(map[string]domain.Participant)
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.emit(Event{Type: EventStateChanged, State: StateDisconnected})
	return err
}

// Wait blocks until the event pump of the last connection has returned
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// hostConn returns the live connection for a host-only operation. Non-hosts
// are refused before any connection is touched.
func (s *Supervisor) hostConn(action string) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil || !s.cred.IsHost() {
		return nil, fmt.Errorf("%w: only hosts can %s", domain.ErrPermission, action)
	}
	if s.state != StateConnected || s.conn == nil {
		return nil, fmt.Errorf("%w: room is %s", domain.ErrConflict, s.state)
	}
	return s.conn, nil
}

// EndSessionForAll closes the room for every participant
func (s *Supervisor) EndSessionForAll(ctx context.Context) error {
	conn, err := s.hostConn("end the session")
	if err != nil {
		return err
	}
	if err := conn.EndRoom(ctx); err != nil {
		return fmt.Errorf("failed to end room: %w", err)
	}
	return nil
}

// RemoveParticipant removes another participant from the room
func (s *Supervisor) RemoveParticipant(ctx context.Context, identity string) error {
	conn, err := s.hostConn("remove participants")
	if err != nil {
		return err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.NewValidationError("identity", "identity is required")
	}
	if err := conn.RemoveParticipant(ctx, identity); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

func (s *Supervisor) connected() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.conn == nil {
		return nil, fmt.Errorf("%w: room is %s", domain.ErrConflict, s.state)
	}
	return s.conn, nil
}

// Publish sends a lossy data message to the other participants
func (s *Supervisor) Publish(ctx context.Context, topic string, payload []byte) error {
	conn, err := s.connected()
	if err != nil {
		return err
	}
	return conn.Publish(ctx, topic, payload)
}

// SetMedia updates the local microphone and camera flags
func (s *Supervisor) SetMedia(ctx context.Context, microphone, camera bool) error {
	conn, err := s.connected()
	if err != nil {
		return err
	}
	if err := conn.SetMedia(ctx, microphone, camera); err != nil {
		return err
	}

	s.mu.Lock()
	s.local.MicrophoneEnabled = microphone
	s.local.CameraEnabled = camera
	s.mu.Unlock()
	return nil
}

// State returns the current connection state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error that moved the supervisor to the error state
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Credential returns the credential of the current or last connection
func (s *Supervisor) Credential() *domain.TokenCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

// Participants lists the local participant first, then the remote ones by
// name and identity. The list is empty unless connected.
func (s *Supervisor) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return nil
	}

	remote := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		remote = append(remote, p)
	}
	sort.Slice(remote, func(i, j int) bool {
		if remote[i].Name != remote[j].Name {
			return remote[i].Name < remote[j].Name
		}
		return remote[i].Identity < remote[j].Identity
	})
	return append([]domain.Participant{s.local}, remote...)
}
