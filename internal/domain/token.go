package domain

import (
	"time"

	"github.com/google/uuid"
)

// Room roles granted in an access token
const (
	RoomRoleHost        = "host"
	RoomRoleParticipant = "participant"
)

// DefaultRefreshFraction is the share of a credential's validity after which
// it is proactively refreshed
const DefaultRefreshFraction = 0.8

// TokenRequest is the body of a token issuance call
type TokenRequest struct {
	ParticipantName string `json:"participant_name" validate:"max=120"`
	Metadata        string `json:"metadata,omitempty" validate:"max=2048"`
}

// TokenCredential is the access credential needed to join a session room
type TokenCredential struct {
	Token       string    `json:"token"`
	WSURL       string    `json:"ws_url"`
	RoomName    string    `json:"room_name"`
	Identity    string    `json:"identity"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	SessionID   uuid.UUID `json:"session_id"`
	ClassroomID string    `json:"classroom,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Validity returns the credential lifetime
func (c *TokenCredential) Validity() time.Duration {
	return c.ExpiresAt.Sub(c.IssuedAt)
}

// RefreshAt returns the instant at which fraction of the validity has passed
func (c *TokenCredential) RefreshAt(fraction float64) time.Time {
	if fraction <= 0 || fraction >= 1 {
		fraction = DefaultRefreshFraction
	}
	return c.IssuedAt.Add(time.Duration(float64(c.Validity()) * fraction))
}

// Expired reports whether the credential is no longer valid at now
func (c *TokenCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsHost reports whether the credential grants moderation rights
func (c *TokenCredential) IsHost() bool {
	return c.Role == RoomRoleHost
}
