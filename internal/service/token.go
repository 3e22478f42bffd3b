package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/Rrens/classroom-live/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// TokenCache stores issued room credentials
type TokenCache interface {
	Get(ctx context.Context, sessionID, userID uuid.UUID, variant string) (*domain.TokenCredential, error)
	Set(ctx context.Context, sessionID, userID uuid.UUID, variant string, cred *domain.TokenCredential) error
	// Invalidate drops every variant cached for the user
	Invalidate(ctx context.Context, sessionID, userID uuid.UUID) error
}

// TokenService issues room access credentials for live sessions
type TokenService struct {
	classrooms  *ClassroomService
	sessionRepo domain.SessionRepository
	userRepo    domain.UserRepository
	signer      *security.RoomTokenSigner
	cache       TokenCache
	wsURL       string
	now         func() time.Time
}

// NewTokenService creates a new token service. cache may be nil.
func NewTokenService(
	classrooms *ClassroomService,
	sessionRepo domain.SessionRepository,
	userRepo domain.UserRepository,
	signer *security.RoomTokenSigner,
	cache TokenCache,
	wsURL string,
) *TokenService {
	return &TokenService{
		classrooms:  classrooms,
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		signer:      signer,
		cache:       cache,
		wsURL:       wsURL,
		now:         time.Now,
	}
}

// Issue returns a credential for joining the session room, reusing a cached
// one while it is still comfortably valid
func (s *TokenService) Issue(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error) {
	membership, session, err := s.authorize(ctx, userID, slug, sessionID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, session.ID, userID, cacheVariant(req))
		if err != nil {
			log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Token cache read failed")
		} else if cached != nil && s.now().Before(cached.RefreshAt(domain.DefaultRefreshFraction)) {
			return cached, nil
		}
	}

	return s.sign(ctx, membership, session, userID, req)
}

// cacheVariant keys a cached credential by what the request puts into it,
// so a different display name or metadata never gets a stale credential
func cacheVariant(req domain.TokenRequest) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(req.ParticipantName) + "\x00" + req.Metadata))
	return hex.EncodeToString(sum[:8])
}

// Refresh drops any cached credential and issues a new one
func (s *TokenService) Refresh(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error) {
	membership, session, err := s.authorize(ctx, userID, slug, sessionID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, session.ID, userID); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Token cache invalidation failed")
		}
	}

	return s.sign(ctx, membership, session, userID, req)
}

func (s *TokenService) authorize(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID) (*Membership, *domain.LiveSession, error) {
	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.sessionRepo.Get(ctx, membership.Classroom.ID, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if session.Status.Terminal() {
		return nil, nil, fmt.Errorf("session %s is %s: %w", session.ID, session.Status, domain.ErrConflict)
	}

	return membership, session, nil
}

type tokenMetadata struct {
	UserID      string `json:"user_id"`
	ClassroomID string `json:"classroom_id"`
	SessionID   string `json:"session_id"`
	Role        string `json:"role"`
	Extra       string `json:"extra,omitempty"`
}

func (s *TokenService) sign(ctx context.Context, membership *Membership, session *domain.LiveSession, userID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error) {
	roomName, err := session.RoomName()
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.ParticipantName)
	if name == "" {
		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get user: %w", err)
		}
		if user != nil {
			name = user.DisplayName
			if name == "" {
				name = user.Email
			}
		}
	}

	role := domain.RoomRoleParticipant
	if membership.IsHost() || session.HostID == userID {
		role = domain.RoomRoleHost
	}

	metadata, err := json.Marshal(tokenMetadata{
		UserID:      userID.String(),
		ClassroomID: membership.Classroom.ID.String(),
		SessionID:   session.ID.String(),
		Role:        membership.Member.Role,
		Extra:       req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token metadata: %w", err)
	}

	token, err := s.signer.Sign(security.RoomGrant{
		Room:     roomName,
		Identity: userID.String(),
		Name:     name,
		Host:     role == domain.RoomRoleHost,
		Metadata: string(metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign room token: %w", err)
	}

	cred := &domain.TokenCredential{
		Token:       token.Token,
		WSURL:       s.wsURL,
		RoomName:    roomName,
		Identity:    userID.String(),
		Name:        name,
		Role:        role,
		SessionID:   session.ID,
		ClassroomID: membership.Classroom.Slug,
		IssuedAt:    token.IssuedAt,
		ExpiresAt:   token.ExpiresAt,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, session.ID, userID, cacheVariant(req), cred); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Token cache write failed")
		}
	}

	log.Debug().
		Str("room", roomName).
		Str("identity", cred.Identity).
		Str("role", role).
		Time("expires_at", cred.ExpiresAt).
		Msg("Room token issued")

	return cred, nil
}
