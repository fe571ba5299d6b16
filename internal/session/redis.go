package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/metrics"
)

// Redis is a Store backed by a Redis instance.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis session store with the given sliding TTL.
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Redis{client: client, ttl: ttl}, nil
}

// Client exposes the underlying client for components that share the
// connection (rate limiter).
func (s *Redis) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *Redis) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Create mints a token for userID with the store's TTL.
func (s *Redis) Create(ctx context.Context, userID string) (string, error) {
	defer observeRedis(time.Now())

	token := newToken()
	if err := s.client.Set(ctx, sessionKey(token), userID, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the user id for a token and slides its expiry.
func (s *Redis) Resolve(ctx context.Context, token string) (string, error) {
	defer observeRedis(time.Now())

	if token == "" {
		return "", nil
	}

	userID, err := s.client.Get(ctx, sessionKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}

	// Sliding expiry: each successful resolve renews the full TTL.
	s.client.Expire(ctx, sessionKey(token), s.ttl)

	return userID, nil
}

// Delete removes a session; deleting an unknown token is a no-op.
func (s *Redis) Delete(ctx context.Context, token string) error {
	defer observeRedis(time.Now())
	return s.client.Del(ctx, sessionKey(token)).Err()
}

func observeRedis(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}
