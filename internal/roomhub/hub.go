package roomhub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/Rrens/classroom-live/internal/security"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// TokenVerifier validates room access tokens
type TokenVerifier interface {
	Verify(token string) (*security.RoomClaims, error)
}

// Hub is a development room server. It relays presence, participant state
// and data frames between the members of a room; media is out of scope.
type Hub struct {
	verifier TokenVerifier

	mu    sync.RWMutex
	rooms map[string]map[string]*Connection
}

// NewHub creates a new hub
func NewHub(verifier TokenVerifier) *Hub {
	return &Hub{
		verifier: verifier,
		rooms:    make(map[string]map[string]*Connection),
	}
}

// ServeHTTP authenticates the access_token query parameter and joins the
// socket to the room named in the token
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Room upgrade failed")
		return
	}
	ws.SetReadLimit(maxFrameSize)

	conn := newConnection(ws, claims.Video.Room, claims.IsAdmin(), participantFromClaims(claims))
	roster := h.register(conn)

	conn.Send(Frame{Type: TypeJoined, Room: conn.room, Participant: ptr(conn.Participant()), Participants: roster})
	h.broadcast(conn.room, conn, Frame{Type: TypeParticipantJoined, Participant: ptr(conn.Participant())})

	log.Info().
		Str("room", conn.room).
		Str("identity", conn.Identity()).
		Bool("admin", conn.admin).
		Msg("Participant joined room")

	h.readLoop(conn)
}

func participantFromClaims(claims *security.RoomClaims) domain.Participant {
	role := domain.RoleStudent
	var meta struct {
		Role string `json:"role"`
	}
	if claims.Metadata != "" && json.Unmarshal([]byte(claims.Metadata), &meta) == nil && domain.IsHostRole(meta.Role) {
		role = domain.RoleTutor
	}
	if claims.IsAdmin() {
		role = domain.RoleTutor
	}

	name := claims.Name
	if name == "" {
		name = claims.Identity()
	}
	return domain.Participant{Identity: claims.Identity(), Name: name, Role: role}
}

func (h *Hub) readLoop(conn *Connection) {
	defer h.leave(conn)

	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("identity", conn.Identity()).Msg("Room socket closed")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.Send(Frame{Type: TypeError, Code: domain.CodeValidation, Message: "malformed frame"})
			continue
		}
		h.handle(conn, frame)
	}
}

func (h *Hub) handle(conn *Connection, frame Frame) {
	switch frame.Type {
	case TypeData:
		// Data frames are best effort; a full buffer drops the frame
		h.broadcast(conn.room, conn, Frame{
			Type:    TypeData,
			From:    conn.Identity(),
			Topic:   frame.Topic,
			Payload: frame.Payload,
		})

	case TypeState:
		p := conn.updateState(frame)
		h.broadcast(conn.room, nil, Frame{Type: TypeParticipantUpdated, Participant: &p})

	case TypeRemoveParticipant:
		if !conn.admin {
			conn.Send(Frame{Type: TypeError, Code: domain.CodePermission, Message: "only hosts can remove participants"})
			return
		}
		target := h.lookup(conn.room, frame.Identity)
		if target == nil {
			conn.Send(Frame{Type: TypeError, Code: domain.CodeNotFound, Message: "participant not in room"})
			return
		}
		log.Info().Str("room", conn.room).Str("identity", frame.Identity).Str("by", conn.Identity()).Msg("Removing participant")
		target.CloseWith(Frame{Type: TypeRemoved, Reason: ReasonRemoved})

	case TypeEndRoom:
		if !conn.admin {
			conn.Send(Frame{Type: TypeError, Code: domain.CodePermission, Message: "only hosts can end the room"})
			return
		}
		h.CloseRoom(conn.room, ReasonRoomClosed)

	default:
		conn.Send(Frame{Type: TypeError, Code: domain.CodeValidation, Message: "unknown frame type " + string(frame.Type)})
	}
}

// register adds the connection to its room and returns the roster of the
// other participants. An older connection with the same identity is closed.
func (h *Hub) register(conn *Connection) []domain.Participant {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[conn.room]
	if members == nil {
		members = make(map[string]*Connection)
		h.rooms[conn.room] = members
	}

	identity := conn.Identity()
	if existing, ok := members[identity]; ok {
		go existing.CloseWith(Frame{Type: TypeRemoved, Reason: ReasonReplaced})
	}
	members[identity] = conn

	roster := make([]domain.Participant, 0, len(members))
	for id, other := range members {
		if id == identity {
			continue
		}
		roster = append(roster, other.Participant())
	}
	return roster
}

// leave unregisters the connection. Only the currently registered
// connection for an identity announces the departure.
func (h *Hub) leave(conn *Connection) {
	conn.Close()

	identity := conn.Identity()
	h.mu.Lock()
	members := h.rooms[conn.room]
	current, ok := members[identity]
	if ok && current == conn {
		delete(members, identity)
		if len(members) == 0 {
			delete(h.rooms, conn.room)
		}
	}
	h.mu.Unlock()

	if ok && current == conn {
		h.broadcast(conn.room, nil, Frame{Type: TypeParticipantLeft, Identity: identity})
		log.Info().Str("room", conn.room).Str("identity", identity).Msg("Participant left room")
	}
}

func (h *Hub) lookup(room, identity string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[room][identity]
}

func (h *Hub) members(room string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Connection, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) broadcast(room string, except *Connection, frame Frame) {
	for _, c := range h.members(room) {
		if c == except {
			continue
		}
		if err := c.Send(frame); err != nil {
			log.Debug().Err(err).Str("identity", c.Identity()).Str("type", string(frame.Type)).Msg("Dropped room frame")
		}
	}
}

// CloseRoom disconnects every participant of the room
func (h *Hub) CloseRoom(room, reason string) {
	h.mu.Lock()
	members := h.rooms[room]
	delete(h.rooms, room)
	h.mu.Unlock()

	for _, c := range members {
		c.CloseWith(Frame{Type: TypeRoomClosed, Reason: reason})
	}
	if len(members) > 0 {
		log.Info().Str("room", room).Int("participants", len(members)).Msg("Room closed")
	}
}

// Participants returns the current roster of a room
func (h *Hub) Participants(room string) []domain.Participant {
	conns := h.members(room)
	out := make([]domain.Participant, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Participant())
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
