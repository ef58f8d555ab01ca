package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisAllow(t *testing.T) {
	mr, client := setupTestRedis(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewRedis(client, "test:", 2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "198.51.100.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}

	ok, err := l.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := mr.ZMembers("test:ratelimit:198.51.100.1")
	require.NoError(t, err)
	assert.Len(t, members, 2, "rejected attempts are not kept")

	ok, err = l.Allow(ctx, "198.51.100.2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisAllowWindowSlides(t *testing.T) {
	_, client := setupTestRedis(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewRedis(client, "test:", 1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisAllowSharedAcrossInstances(t *testing.T) {
	_, client := setupTestRedis(t)
	a := NewRedis(client, "test:", 1, time.Minute)
	b := NewRedis(client, "test:", 1, time.Minute)
	ctx := context.Background()

	ok, err := a.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisAllowUnavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	l := NewRedis(client, "test:", 5, time.Minute)
	mr.Close()

	ok, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisAllowEmptyKey(t *testing.T) {
	_, client := setupTestRedis(t)
	_, err := NewRedis(client, "test:", 5, time.Minute).Allow(context.Background(), "")
	assert.Error(t, err)
}
