package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionStore keeps each player's Telegram init data so the BFF can call
// the market backend on the player's behalf for the lifetime of the JWT.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func sessionKey(playerID uuid.UUID) string {
	return "session:initdata:" + playerID.String()
}

func (s *SessionStore) Save(ctx context.Context, playerID uuid.UUID, initData string) error {
	return s.rdb.Set(ctx, sessionKey(playerID), initData, s.ttl).Err()
}

func (s *SessionStore) InitData(ctx context.Context, playerID uuid.UUID) (string, error) {
	v, err := s.rdb.Get(ctx, sessionKey(playerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}
