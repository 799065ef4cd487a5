package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisAdapter_CachesByName(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := &goredis.UniversalOptions{Addrs: []string{mr.Addr()}}

	first, err := NewRedisAdapter(t.Name(), "tg:", opts)
	require.NoError(t, err)
	second, err := NewRedisAdapter(t.Name(), "other:", opts)
	require.NoError(t, err)
	assert.Same(t, first, second)

	ctx := context.Background()
	ok, err := first.SetNX(ctx, "job:lock:1", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("tg:job:lock:1"))

	require.NoError(t, first.Del(ctx, "job:lock:1"))
	n, err := first.Exist(ctx, "job:lock:1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestZPopByScore_OnlyDueMembers(t *testing.T) {
	mr := miniredis.RunT(t)
	adapter, err := NewRedisAdapter(t.Name(), "", &goredis.UniversalOptions{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, adapter.ZAdd(ctx, "q:delayed", 10, "due"))
	require.NoError(t, adapter.ZAdd(ctx, "q:delayed", 100, "later"))

	popped, err := adapter.ZPopByScore(ctx, "q:delayed", 50, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, popped)

	left, err := adapter.ZCard(ctx, "q:delayed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
}
