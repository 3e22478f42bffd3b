// Package wsprovider connects to a room hub over the websocket signaling
// protocol.
package wsprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/Rrens/classroom-live/internal/room"
	"github.com/Rrens/classroom-live/internal/roomhub"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait     = 5 * time.Second
	pongWait      = 75 * time.Second
	joinWait      = 15 * time.Second
	eventQueue    = 64
	maxFrameBytes = 64 * 1024
)

// Provider dials room hubs
type Provider struct {
	dialer *websocket.Dialer
}

// New creates a provider. A nil dialer uses websocket.DefaultDialer.
func New(dialer *websocket.Dialer) *Provider {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Provider{dialer: dialer}
}

// Connect dials the hub and waits for the join acknowledgement
func (p *Provider) Connect(ctx context.Context, rawURL, token string) (room.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, domain.NewValidationError("ws_url", "invalid room server url")
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	ws, resp, err := p.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: room handshake failed with status %d", statusError(resp.StatusCode), resp.StatusCode)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: failed to dial room: %v", domain.ErrTransport, err)
	}
	ws.SetReadLimit(maxFrameBytes)

	// Closing the socket unblocks the join read if ctx ends first
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	joined, err := readJoin(ws)
	if !stop() {
		ws.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		ws.Close()
		return nil, err
	}

	c := &Conn{
		ws:     ws,
		events: make(chan room.Event, eventQueue),
		done:   make(chan struct{}),
		room:   joined.Room,
		roster: joined.Participants,
	}
	if joined.Participant != nil {
		c.local = *joined.Participant
	}
	go c.readLoop()
	return c, nil
}

func readJoin(ws *websocket.Conn) (*roomhub.Frame, error) {
	ws.SetReadDeadline(time.Now().Add(joinWait))
	var frame roomhub.Frame
	if err := ws.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("%w: failed to read join acknowledgement: %v", domain.ErrTransport, err)
	}

	switch frame.Type {
	case roomhub.TypeJoined:
		return &frame, nil
	case roomhub.TypeError:
		return nil, frameError(frame)
	}
	return nil, fmt.Errorf("%w: unexpected %s frame while joining", domain.ErrTransport, frame.Type)
}

func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrPermission
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return domain.ErrTransport
}

func frameError(frame roomhub.Frame) error {
	sentinel := domain.ErrorFromCode(frame.Code)
	if sentinel == nil {
		sentinel = domain.ErrTransport
	}
	return fmt.Errorf("%w: %s", sentinel, frame.Message)
}

// Conn is one signaling connection
type Conn struct {
	ws     *websocket.Conn
	events chan room.Event
	done   chan struct{}
	room   string
	local  domain.Participant
	roster []domain.Participant

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Events returns the room events. The channel is closed when the connection
// ends.
func (c *Conn) Events() <-chan room.Event { return c.events }

// Local returns the participant the hub registered for this connection
func (c *Conn) Local() domain.Participant { return c.local }

// Participants returns the roster at join time, without the local participant
func (c *Conn) Participants() []domain.Participant { return c.roster }

// Room returns the joined room name
func (c *Conn) Room() string { return c.room }

func (c *Conn) readLoop() {
	defer close(c.events)

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPingHandler(func(data string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	var reason string
	for {
		var frame roomhub.Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			closed := room.Event{Type: room.EventClosed, Reason: reason}
			if reason == "" {
				closed.Err = fmt.Errorf("%w: room connection lost: %v", domain.ErrTransport, err)
			}
			c.deliver(closed)
			return
		}

		switch frame.Type {
		case roomhub.TypeParticipantJoined:
			c.deliver(room.Event{Type: room.EventParticipantJoined, Participant: frame.Participant})
		case roomhub.TypeParticipantUpdated:
			c.deliver(room.Event{Type: room.EventParticipantUpdated, Participant: frame.Participant})
		case roomhub.TypeParticipantLeft:
			c.deliver(room.Event{Type: room.EventParticipantLeft, Identity: frame.Identity})
		case roomhub.TypeData:
			ev := room.Event{Type: room.EventData, From: frame.From, Topic: frame.Topic, Payload: []byte(frame.Payload)}
			select {
			case c.events <- ev:
			default:
				log.Debug().Str("topic", frame.Topic).Msg("Dropping room data, event queue full")
			}
		case roomhub.TypeRemoved, roomhub.TypeRoomClosed:
			reason = frame.Reason
			if reason == "" {
				reason = string(frame.Type)
			}
		case roomhub.TypeError:
			c.deliver(room.Event{Type: room.EventError, Err: frameError(frame)})
		default:
			log.Debug().Str("type", string(frame.Type)).Msg("Ignoring unknown room frame")
		}
	}
}

func (c *Conn) deliver(ev room.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Conn) write(ctx context.Context, frame roomhub.Frame) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: room connection closed", domain.ErrConflict)
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: failed to write %s frame: %v", domain.ErrTransport, frame.Type, err)
	}
	return nil
}

// Publish relays a JSON payload to the other participants. Delivery is best
// effort.
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	if !json.Valid(payload) {
		return domain.NewValidationError("payload", "payload must be JSON")
	}
	return c.write(ctx, roomhub.Frame{Type: roomhub.TypeData, Topic: topic, Payload: json.RawMessage(payload)})
}

// SetMedia announces the local microphone and camera flags
func (c *Conn) SetMedia(ctx context.Context, microphone, camera bool) error {
	return c.write(ctx, roomhub.Frame{Type: roomhub.TypeState, Microphone: &microphone, Camera: &camera})
}

// RemoveParticipant asks the hub to remove identity. A refusal arrives later
// as an error event.
func (c *Conn) RemoveParticipant(ctx context.Context, identity string) error {
	return c.write(ctx, roomhub.Frame{Type: roomhub.TypeRemoveParticipant, Identity: identity})
}

// EndRoom asks the hub to close the room for everyone
func (c *Conn) EndRoom(ctx context.Context) error {
	return c.write(ctx, roomhub.Frame{Type: roomhub.TypeEndRoom})
}

// Close leaves the room. Safe to call repeatedly.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}
