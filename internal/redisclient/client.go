package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

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

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(storeID, variantID int64) string {
	return fmt.Sprintf("inventory:%d:%d", storeID, variantID)
}

// SetStock mirrors the committed stock counter of a (store, variant) for storefront reads.
func (c *Client) SetStock(ctx context.Context, storeID, variantID int64, stock int) error {
	return c.rdb.HSet(ctx, stockKey(storeID, variantID),
		"stock", stock,
		"updated_at", time.Now().Unix(),
	).Err()
}

// GetStock reads the mirrored counter. found is false when the key was never mirrored.
func (c *Client) GetStock(ctx context.Context, storeID, variantID int64) (stock int, found bool, err error) {
	val, err := c.rdb.HGet(ctx, stockKey(storeID, variantID), "stock").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	stock, err = strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock mirror for store %d variant %d: %w", storeID, variantID, err)
	}
	return stock, true, nil
}

// MarkEventProcessed records an event id with TTL. It reports false when the id was already seen.
func (c *Client) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", eventID), time.Now().Unix(), ttl).Result()
}

// AcquireLock acquires a distributed lock. The returned token is needed to release it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a distributed lock if token still owns it.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
