package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pokegambler-engine/internal/config"
	"github.com/pokegambler-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LockService provides Redis-based match locks. One lock per player
// enforces the single-active-match rule across every server instance;
// the TTL bounds how long a crashed node can strand a player.
type LockService struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLockService creates a new Redis lock service
func NewLockService(cfg *config.RedisConfig, lockTTL time.Duration, logger *slog.Logger) (*LockService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &LockService{
		client: client,
		ttl:    lockTTL,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *LockService) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *LockService) Client() *redis.Client {
	return s.client
}

// lockKey returns the Redis key for a player's match lock
func (s *LockService) lockKey(playerID string) string {
	return fmt.Sprintf("match:lock:%s", playerID)
}

// TryAcquireMatchLock claims the player's match slot for the given match.
// Re-acquiring for the same match refreshes the TTL; a lock held for a
// different match fails with domain.ErrAlreadyInMatch.
func (s *LockService) TryAcquireMatchLock(ctx context.Context, playerID, matchID string) error {
	key := s.lockKey(playerID)
	ok, err := s.client.SetNX(ctx, key, matchID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquiring match lock: %w", err)
	}
	if ok {
		return nil
	}

	owner, err := s.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("reading match lock: %w", err)
	}
	if owner == matchID {
		// Same match re-acquiring; keep the lock fresh.
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("refreshing match lock: %w", err)
		}
		return nil
	}
	return domain.ErrAlreadyInMatch
}

// releaseScript deletes the lock only when the holder matches, so a
// release arriving after TTL expiry cannot drop another match's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseMatchLock releases the player's lock if the given match holds
// it. Releasing an absent or foreign lock is a no-op.
func (s *LockService) ReleaseMatchLock(ctx context.Context, playerID, matchID string) error {
	_, err := releaseScript.Run(ctx, s.client, []string{s.lockKey(playerID)}, matchID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("releasing match lock: %w", err)
	}
	return nil
}

// MatchLockOwner returns the match currently holding the player's lock,
// or the empty string when the player is free.
func (s *LockService) MatchLockOwner(ctx context.Context, playerID string) (string, error) {
	owner, err := s.client.Get(ctx, s.lockKey(playerID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading match lock: %w", err)
	}
	return owner, nil
}
