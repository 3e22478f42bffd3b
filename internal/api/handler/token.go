package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/classroom-live/internal/api/response"
	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
)

// TokenService is the credential behaviour the handler needs
type TokenService interface {
	Issue(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error)
	Refresh(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error)
}

// TokenHandler issues room access credentials
type TokenHandler struct {
	tokenService TokenService
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(tokenService TokenService) *TokenHandler {
	return &TokenHandler{tokenService: tokenService}
}

// Issue returns a credential for the session room
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.tokenService.Issue)
}

// Refresh discards any cached credential and issues a new one
func (h *TokenHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.tokenService.Refresh)
}

func (h *TokenHandler) handle(
	w http.ResponseWriter,
	r *http.Request,
	issue func(context.Context, uuid.UUID, string, uuid.UUID, domain.TokenRequest) (*domain.TokenCredential, error),
) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	var input domain.TokenRequest
	if !decode(w, r, &input, true) {
		return
	}

	cred, err := issue(r.Context(), userID, slug, sessionID, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, cred)
}
