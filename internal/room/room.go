// Package room supervises the connection to one joined room.
package room

import (
	"context"

	"github.com/Rrens/classroom-live/internal/domain"
)

// State of the room connection
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// EventType identifies a room event
type EventType string

const (
	EventParticipantJoined  EventType = "participant_joined"
	EventParticipantLeft    EventType = "participant_left"
	EventParticipantUpdated EventType = "participant_updated"
	EventStateChanged       EventType = "state_changed"
	EventError              EventType = "error"
	EventData               EventType = "data"
	EventClosed             EventType = "closed"
)

// Event is delivered to subscribers of a Supervisor. Providers use the same
// type on their own event channel; EventClosed is the last event a provider
// connection emits and is never forwarded as is.
type Event struct {
	Type        EventType
	State       State
	Participant *domain.Participant
	Identity    string
	From        string
	Topic       string
	Payload     []byte
	Reason      string
	Err         error
}

// Provider opens connections to the room service
type Provider interface {
	Connect(ctx context.Context, url, token string) (Conn, error)
}

// Conn is one established room connection. Events is closed once the
// connection ends.
type Conn interface {
	Events() <-chan Event
	Local() domain.Participant
	Participants() []domain.Participant
	Publish(ctx context.Context, topic string, payload []byte) error
	SetMedia(ctx context.Context, microphone, camera bool) error
	RemoveParticipant(ctx context.Context, identity string) error
	EndRoom(ctx context.Context) error
	Close() error
}

// TokenSource hands out a fresh credential for a reconnect
type TokenSource interface {
	Refresh(ctx context.Context) (*domain.TokenCredential, error)
}
