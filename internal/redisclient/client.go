package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// The active listings snapshot is stored under a key versioned by a generation counter.
// Invalidation bumps the generation, so a snapshot written back after a concurrent
// invalidation lands on a key nobody reads.
const (
	activeListingsGenKey    = "listings:active:gen"
	activeListingsKeyPrefix = "listings:active:v"
)

func activeListingsKey(gen int64) string {
	return fmt.Sprintf("%s%d", activeListingsKeyPrefix, gen)
}

// ErrLockTimeout is returned when a lock could not be acquired before the wait elapsed.
var ErrLockTimeout = errors.New("timed out waiting for lock")

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetActiveListings returns the cached active listings and the generation they were
// looked up under. ok is false on a cache miss; the generation is still valid then and
// must be passed back to SetActiveListings.
func (c *Client) GetActiveListings(ctx context.Context) ([]models.Listing, int64, bool, error) {
	gen, err := c.rdb.Get(ctx, activeListingsGenKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, err
	}

	raw, err := c.rdb.Get(ctx, activeListingsKey(gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, err
	}

	var listings []models.Listing
	if err := json.Unmarshal(raw, &listings); err != nil {
		return nil, gen, false, fmt.Errorf("failed to decode cached listings: %w", err)
	}
	return listings, gen, true, nil
}

// SetActiveListings caches the active listings under gen for ttl
func (c *Client) SetActiveListings(ctx context.Context, gen int64, listings []models.Listing, ttl time.Duration) error {
	raw, err := json.Marshal(listings)
	if err != nil {
		return fmt.Errorf("failed to encode listings: %w", err)
	}
	return c.rdb.Set(ctx, activeListingsKey(gen), raw, ttl).Err()
}

// InvalidateActiveListings moves readers to a new generation and drops the old snapshot
func (c *Client) InvalidateActiveListings(ctx context.Context) error {
	gen, err := c.rdb.Incr(ctx, activeListingsGenKey).Result()
	if err != nil {
		return err
	}
	return c.rdb.Del(ctx, activeListingsKey(gen-1)).Err()
}

// AcquireLock tries once to acquire a distributed lock. The returned token must be
// passed to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a distributed lock if it is still held by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
