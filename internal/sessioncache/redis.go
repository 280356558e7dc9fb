package sessioncache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedTier is a cross-process binding cache. Implementations must treat a
// missing binding as ("", false, nil).
type SharedTier interface {
	Get(ctx context.Context, sessionID, userID string) (string, bool, error)
	Set(ctx context.Context, sessionID, userID, projectID string) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisConfig holds Redis connection configuration for the shared tier.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr     string
	Password string
	DB       int
	// Prefix is the key prefix (default: "codevault:binding:").
	Prefix string
	// TTL bounds how long a binding survives without being refreshed (0 = never expire).
	TTL      time.Duration
	PoolSize int
}

// RedisTier stores one hash per session, keyed by user, holding the project id.
type RedisTier struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTier connects to Redis and verifies the connection.
func NewRedisTier(cfg RedisConfig) (*RedisTier, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisTierFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisTierFromClient wraps an existing client.
func NewRedisTierFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisTier {
	if prefix == "" {
		prefix = "codevault:binding:"
	}
	return &RedisTier{client: client, prefix: prefix, ttl: ttl}
}

func (t *RedisTier) key(sessionID string) string {
	return t.prefix + sessionID
}

// Get returns the cached project id for the session and user.
func (t *RedisTier) Get(ctx context.Context, sessionID, userID string) (string, bool, error) {
	projectID, err := t.client.HGet(ctx, t.key(sessionID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget: %w", err)
	}
	return projectID, true, nil
}

// Set stores a binding and refreshes the session key's expiry.
func (t *RedisTier) Set(ctx context.Context, sessionID, userID, projectID string) error {
	key := t.key(sessionID)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, userID, projectID)
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Delete drops every binding of the session.
func (t *RedisTier) Delete(ctx context.Context, sessionID string) error {
	if err := t.client.Del(ctx, t.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close releases the client's connection pool.
func (t *RedisTier) Close() error {
	return t.client.Close()
}
