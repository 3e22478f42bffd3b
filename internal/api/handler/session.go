package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Rrens/classroom-live/internal/api/response"
	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
)

// SessionService is the session behaviour the handler needs
type SessionService interface {
	List(ctx context.Context, userID uuid.UUID, slug string, status *domain.SessionStatus) ([]domain.LiveSession, error)
	Get(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID) (*domain.LiveSession, error)
	Create(ctx context.Context, userID uuid.UUID, slug string, input domain.SessionCreate) (*domain.LiveSession, error)
	Update(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, input domain.SessionUpdate) (*domain.LiveSession, error)
	Delete(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, force bool) error
	Sync(ctx context.Context, userID uuid.UUID, slug string) (*domain.SyncResult, error)
}

// SessionHandler handles live session endpoints
type SessionHandler struct {
	sessionService SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// List returns the classroom's sessions, optionally filtered by status
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}

	var status *domain.SessionStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.SessionStatus(s)
		status = &st
	}

	sessions, err := h.sessionService.List(r.Context(), userID, slug, status)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, sessions)
}

// Get returns one session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	session, err := h.sessionService.Get(r.Context(), userID, slug, sessionID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, session)
}

// Create schedules a session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}

	var input domain.SessionCreate
	if !decode(w, r, &input, false) {
		return
	}

	session, err := h.sessionService.Create(r.Context(), userID, slug, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, session)
}

// Update applies a partial update
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	var input domain.SessionUpdate
	if !decode(w, r, &input, false) {
		return
	}

	session, err := h.sessionService.Update(r.Context(), userID, slug, sessionID, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, session)
}

// Delete soft deletes a session. ?force=true lets the owner remove a live
// session.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.sessionService.Delete(r.Context(), userID, slug, sessionID, force); err != nil {
		response.FromError(w, err)
		return
	}

	response.NoContent(w)
}

// Sync applies every due lifecycle transition of the classroom
func (h *SessionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}

	result, err := h.sessionService.Sync(r.Context(), userID, slug)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, result)
}
