package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires TEST_REDIS_ADDR")
	}
	c, err := NewClient(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStockMirror(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	storeID := time.Now().UnixNano()

	_, found, err := c.GetStock(ctx, storeID, 1)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetStock(ctx, storeID, 1, 12))
	stock, found, err := c.GetStock(ctx, storeID, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 12, stock)
}

func TestLockIsExclusiveAndTokenBound(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "test-" + uuid.New().String()

	token, ok, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, key, "someone-else"))
	_, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "foreign token must not release the lock")

	require.NoError(t, c.ReleaseLock(ctx, key, token))
	_, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkEventProcessed(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	id := uuid.New().String()

	first, err := c.MarkEventProcessed(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := c.MarkEventProcessed(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)
}
