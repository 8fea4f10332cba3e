package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionLocker serializes reprocessing per session: at most one in-flight
// attempt. The lock is held only across the queue + async dispatch window.
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID uuid.UUID) (bool, error)
	Release(ctx context.Context, sessionID uuid.UUID) error
}

type RedisSessionLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionLocker(client *redis.Client, ttl time.Duration) *RedisSessionLocker {
	return &RedisSessionLocker{client: client, ttl: ttl}
}

func lockKey(sessionID uuid.UUID) string {
	return "capture:reprocess:lock:" + sessionID.String()
}

func (l *RedisSessionLocker) Acquire(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	// TTL is a safety net against a crashed holder, not the release path.
	return l.client.SetNX(ctx, lockKey(sessionID), "1", l.ttl).Result()
}

func (l *RedisSessionLocker) Release(ctx context.Context, sessionID uuid.UUID) error {
	return l.client.Del(ctx, lockKey(sessionID)).Err()
}
