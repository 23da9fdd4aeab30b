package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute, nil), mr
}

func TestCacheVersionedKeys(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "reports", "portfolio")
	require.NoError(t, err)
	require.Equal(t, "reports:portfolio:1", key)

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.BuildKey(ctx, "reports", "portfolio")
	require.NoError(t, err)
	require.Equal(t, "reports:portfolio:2", key)

	mr.Set(cacheVersionKey, "0")
	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"calls": calls}, nil
	}

	var out map[string]int
	require.NoError(t, cache.FetchJSON(ctx, &out, loader, "k"))
	require.NoError(t, cache.FetchJSON(ctx, &out, loader, "k"))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, out["calls"])
	require.True(t, mr.Exists("k:1"))
	require.Greater(t, mr.TTL("k:1"), time.Duration(0))

	require.NoError(t, cache.Bump(ctx))
	require.NoError(t, cache.FetchJSON(ctx, &out, loader, "k"))
	require.Equal(t, 2, calls)
	require.Equal(t, 2, out["calls"])
}

func TestFetchJSONReplacesUnreadableEntry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	mr.Set(cacheVersionKey, "4")
	mr.Set("k:4", "{not json")

	var out []int
	require.NoError(t, cache.FetchJSON(ctx, &out, func(context.Context) (any, error) { return []int{7}, nil }, "k"))
	require.Equal(t, []int{7}, out)
	stored, err := mr.Get("k:4")
	require.NoError(t, err)
	require.Equal(t, "[7]", stored)
}

func TestFetchJSONFallsBackWhenRedisIsDown(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()
	ctx := context.Background()

	calls := 0
	for i := 0; i < 8; i++ {
		var out int
		err := cache.FetchJSON(ctx, &out, func(context.Context) (any, error) {
			calls++
			return 42, nil
		}, "k")
		require.NoError(t, err)
		require.Equal(t, 42, out)
	}
	require.Equal(t, 8, calls)
	require.Error(t, cache.Bump(ctx))
}

func TestFetchJSONReturnsLoaderError(t *testing.T) {
	cache, _ := newTestCache(t)
	boom := errors.New("boom")
	var out int
	err := cache.FetchJSON(context.Background(), &out, func(context.Context) (any, error) { return nil, boom }, "k")
	require.ErrorIs(t, err, boom)
	require.Error(t, cache.FetchJSON(context.Background(), &out, nil, "k"))
}

func TestNilCacheLoadsDirectly(t *testing.T) {
	var cache *Cache
	var out string
	require.NoError(t, cache.FetchJSON(context.Background(), &out, func(context.Context) (any, error) { return "fresh", nil }, "k"))
	require.Equal(t, "fresh", out)
	require.NoError(t, cache.Bump(context.Background()))
}
