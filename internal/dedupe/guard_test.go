package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/llmgate/internal/kvstore"
)

func setupStore(t *testing.T) (*kvstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return kvstore.NewRedisStore(client), mr
}

func TestGuard_FirstSeenThenDuplicate(t *testing.T) {
	store, mr := setupStore(t)
	g := NewGuard(store, 16, time.Minute)
	ctx := context.Background()

	dup, err := g.CheckAndMark(ctx, 42)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.True(t, mr.Exists("dedupe:update:42"))

	dup, err = g.CheckAndMark(ctx, 42)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = g.CheckAndMark(ctx, 43)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestGuard_SharedAcrossInstances(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := NewGuard(store, 16, time.Minute).CheckAndMark(ctx, 7)
	require.NoError(t, err)

	// A fresh process has an empty LRU but the store still knows the id.
	dup, err := NewGuard(store, 16, time.Minute).CheckAndMark(ctx, 7)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestGuard_StoreTTL(t *testing.T) {
	store, mr := setupStore(t)
	_, err := NewGuard(store, 16, 10*time.Minute).CheckAndMark(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, mr.TTL("dedupe:update:9"))
	mr.FastForward(11 * time.Minute)
	assert.False(t, mr.Exists("dedupe:update:9"))
}

func TestGuard_StoreDownStillMarksLocally(t *testing.T) {
	store, mr := setupStore(t)
	g := NewGuard(store, 16, time.Minute)
	mr.Close()

	dup, err := g.CheckAndMark(context.Background(), 1)
	assert.Error(t, err)
	assert.False(t, dup)

	dup, err = g.CheckAndMark(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestNewGuard_Defaults(t *testing.T) {
	store, _ := setupStore(t)
	g := NewGuard(store, 0, 0)
	assert.Equal(t, DefaultTTL, g.ttl)
}
