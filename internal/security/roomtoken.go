package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VideoGrant mirrors the LiveKit video grant so tokens are accepted by a
// LiveKit server as well as by the development room hub
type VideoGrant struct {
	Room           string `json:"room,omitempty"`
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	RoomAdmin      bool   `json:"roomAdmin,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
}

// RoomClaims represents room access token claims
type RoomClaims struct {
	Name     string      `json:"name,omitempty"`
	Metadata string      `json:"metadata,omitempty"`
	Video    *VideoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the participant identity carried in the token
func (c *RoomClaims) Identity() string {
	return c.Subject
}

// IsAdmin reports whether the token grants moderation rights
func (c *RoomClaims) IsAdmin() bool {
	return c.Video != nil && c.Video.RoomAdmin
}

// RoomGrant describes the access requested for one participant
type RoomGrant struct {
	Room     string
	Identity string
	Name     string
	Host     bool
	Metadata string
}

// RoomToken is a signed room access token with its validity window
type RoomToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RoomTokenSigner signs and verifies room access tokens
type RoomTokenSigner struct {
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewRoomTokenSigner creates a new signer. A nil now uses time.Now.
func NewRoomTokenSigner(apiKey, apiSecret string, ttl time.Duration, now func() time.Time) *RoomTokenSigner {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RoomTokenSigner{
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
		ttl:       ttl,
		now:       now,
	}
}

// TTL returns the token lifetime
func (s *RoomTokenSigner) TTL() time.Duration {
	return s.ttl
}

// Sign issues a room access token for the grant
func (s *RoomTokenSigner) Sign(grant RoomGrant) (*RoomToken, error) {
	if grant.Room == "" || grant.Identity == "" {
		return nil, errors.New("room and identity are required")
	}

	allow := true
	now := s.now().Truncate(time.Second)
	expires := now.Add(s.ttl)
	claims := RoomClaims{
		Name:     grant.Name,
		Metadata: grant.Metadata,
		Video: &VideoGrant{
			Room:           grant.Room,
			RoomJoin:       true,
			RoomAdmin:      grant.Host,
			CanPublish:     &allow,
			CanSubscribe:   &allow,
			CanPublishData: &allow,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.apiKey,
			Subject:   grant.Identity,
			ID:        grant.Identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign room token: %w", err)
	}

	return &RoomToken{Token: token, IssuedAt: now, ExpiresAt: expires}, nil
}

// Verify validates a room access token and returns its claims
func (s *RoomTokenSigner) Verify(tokenString string) (*RoomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.apiSecret, nil
	}, jwt.WithIssuer(s.apiKey), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse room token: %w", err)
	}

	claims, ok := token.Claims.(*RoomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid room token")
	}
	if claims.Video == nil || !claims.Video.RoomJoin || claims.Video.Room == "" {
		return nil, errors.New("room token has no join grant")
	}

	return claims, nil
}
