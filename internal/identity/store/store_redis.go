package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fairfin/internal/identity/models"
	"fairfin/pkg/platform/sentinel"
)

const sessionKeyPrefix = "session:"

// RedisSessionStore is a Redis-backed session store. This is the
// production-recommended implementation for distributed deployments where
// multiple instances need to share login state. Expiry rides on the Redis TTL
// so stale sessions clean themselves up.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Save(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(sessionPayload{
		ID:        session.ID,
		UserID:    session.UserID,
		TokenHash: session.TokenHash,
		IPAddress: session.IPAddress,
		Device:    session.Device,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return sentinel.ErrInvalidState
	}
	return s.client.Set(ctx, sessionKeyPrefix+session.ID.String(), payload, ttl).Err()
}

func (s *RedisSessionStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &models.Session{
		ID:        payload.ID,
		UserID:    payload.UserID,
		TokenHash: payload.TokenHash,
		IPAddress: payload.IPAddress,
		Device:    payload.Device,
		CreatedAt: payload.CreatedAt,
		ExpiresAt: payload.ExpiresAt,
	}, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.client.Del(ctx, sessionKeyPrefix+id.String()).Err()
}

// sessionPayload is the stored JSON shape. Session.TokenHash is excluded from
// API serialization, so the store keeps its own struct.
type sessionPayload struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	IPAddress string    `json:"ip_address,omitempty"`
	Device    string    `json:"device,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
