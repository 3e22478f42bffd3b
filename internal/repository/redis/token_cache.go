package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	roomTokenPrefix     = "room_token:"
	defaultRoomTokenTTL = 50 * time.Minute
)

// TokenCache caches issued room credentials per session, user and request
// variant so repeated joins reuse a still-valid token
type TokenCache struct {
	client *Client
	ttl    time.Duration
}

// NewTokenCache creates a new token cache. The ttl must be shorter than the
// token lifetime.
func NewTokenCache(client *Client, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = defaultRoomTokenTTL
	}
	return &TokenCache{client: client, ttl: ttl}
}

// TokenCacheKey returns the cache key of a credential. variant tells apart
// requests that produce different credentials, such as another display name.
func TokenCacheKey(sessionID, userID uuid.UUID, variant string) string {
	return fmt.Sprintf("%s%s:%s:%s", roomTokenPrefix, sessionID, userID, variant)
}

// Get returns the cached credential, or nil on a cache miss
func (c *TokenCache) Get(ctx context.Context, sessionID, userID uuid.UUID, variant string) (*domain.TokenCredential, error) {
	data, err := c.client.rdb.Get(ctx, TokenCacheKey(sessionID, userID, variant)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token cache: %w", err)
	}

	var cred domain.TokenCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return &cred, nil
}

// Set caches a credential
func (c *TokenCache) Set(ctx context.Context, sessionID, userID uuid.UUID, variant string, cred *domain.TokenCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	return c.client.rdb.Set(ctx, TokenCacheKey(sessionID, userID, variant), data, c.ttl).Err()
}

// Invalidate removes every cached credential of a user in a session
func (c *TokenCache) Invalidate(ctx context.Context, sessionID, userID uuid.UUID) error {
	_, err := c.deleteMatching(ctx, fmt.Sprintf("%s%s:%s:*", roomTokenPrefix, sessionID, userID))
	return err
}

// FlushSession removes every cached credential of a session
func (c *TokenCache) FlushSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	return c.deleteMatching(ctx, fmt.Sprintf("%s%s:*", roomTokenPrefix, sessionID))
}

func (c *TokenCache) deleteMatching(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var deleted int64

	for {
		keys, nextCursor, err := c.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			count, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += count
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}
