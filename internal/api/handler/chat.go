package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Rrens/classroom-live/internal/api/response"
	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	feedWriteWait  = 5 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// ChatService is the chat behaviour the handler needs
type ChatService interface {
	History(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, limit, offset int) ([]domain.ChatMessage, error)
	Send(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, input domain.MessageCreate) (*domain.ChatMessage, error)
	Subscribe(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID) (<-chan domain.MessageEvent, func(), error)
}

// ChatHandler handles session chat endpoints
type ChatHandler struct {
	chatService ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// History returns a page of the transcript
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	limit, offset := 0, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	messages, err := h.chatService.History(r.Context(), userID, slug, sessionID, limit, offset)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, messages)
}

// Send posts a message to the session
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	var input domain.MessageCreate
	if !decode(w, r, &input, false) {
		return
	}

	message, err := h.chatService.Send(r.Context(), userID, slug, sessionID, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, message)
}

// Feed upgrades to a websocket that streams message inserts of the session
func (h *ChatHandler) Feed(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, stop, err := h.chatService.Subscribe(ctx, userID, slug, sessionID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	defer stop()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Chat feed upgrade failed")
		return
	}
	defer conn.Close()

	// Reader: only control frames are expected; a read error ends the feed.
	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	log.Debug().Str("session_id", sessionID.String()).Str("user_id", userID.String()).Msg("Chat feed opened")
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(feedWriteWait))
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}
