package cache_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/fetchops/cache"
)

func newRedisCache(t *testing.T, cfg cache.RedisConfig) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()

	c, err := cache.NewRedisCache(context.Background(), &cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_GetMergeDelete(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, cache.RedisConfig{})

	t.Run("Miss", func(t *testing.T) {
		value, ok := c.Get(ctx, "missing")
		assert.False(t, ok)
		assert.Nil(t, value)
	})

	t.Run("Merge then Get", func(t *testing.T) {
		merged, err := c.MergeValue(ctx, "k1", []byte(`{"name":"a"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"a"}`, string(merged))

		value, ok := c.Get(ctx, "k1")
		require.True(t, ok)
		assert.Equal(t, merged, value)

		raw, err := mr.Get("fetchops:k1")
		require.NoError(t, err, "value should be stored under the default prefix")
		assert.Equal(t, `{"name":"a"}`, raw)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "k1"))
		_, ok := c.Get(ctx, "k1")
		assert.False(t, ok)
		require.NoError(t, c.Delete(ctx, "k1"), "delete should be idempotent")
	})

	t.Run("Invalid key", func(t *testing.T) {
		_, err := c.MergeValue(ctx, "", []byte("x"))
		assert.ErrorIs(t, err, cache.ErrInvalidKey)
	})
}

func TestRedisCache_JSONMerge(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, cache.RedisConfig{Merge: cache.JSONMerge, Prefix: "test:"})

	_, err := c.MergeValue(ctx, "list", []byte(`{"items":["a"]}`))
	require.NoError(t, err)
	merged, err := c.MergeValue(ctx, "list", []byte(`{"items":["b"]}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"items":["a","b"]}`, string(merged))
}

func TestRedisCache_ConcurrentMergesConverge(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, cache.RedisConfig{Merge: cache.JSONMerge, MaxMergeAttempts: 1000})

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := c.MergeValue(ctx, "shared", []byte(fmt.Sprintf(`{"ids":[%d]}`, id)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, ok := c.Get(ctx, "shared")
	require.True(t, ok)
	var doc struct {
		IDs []int `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(stored, &doc))
	assert.Len(t, doc.IDs, writers, "optimistic merges must not lose data")
}

func TestRedisCache_MergeConflictGivesUp(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	// A second client keeps rewriting the key between WATCH and EXEC.
	intruder := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = intruder.Close() })

	cfg := &cache.RedisConfig{
		Addr:             mr.Addr(),
		MaxMergeAttempts: 3,
		Merge: func(existing, incoming []byte) ([]byte, error) {
			if err := intruder.Set(ctx, "fetchops:contended", "other", 0).Err(); err != nil {
				return nil, err
			}
			return incoming, nil
		},
	}
	c, err := cache.NewRedisCache(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.MergeValue(ctx, "contended", []byte("mine"))
	assert.ErrorIs(t, err, cache.ErrMergeConflict)
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, cache.RedisConfig{TTL: time.Minute})

	_, err := c.MergeValue(ctx, "ttl-key", []byte("v"))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(ctx, "ttl-key")
	assert.False(t, ok, "entry should be gone once the configured TTL elapses")
}

func TestRedisCache_ConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := cache.NewRedisCache(ctx, &cache.RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisConfig_Validate(t *testing.T) {
	cfg := &cache.RedisConfig{}
	assert.Error(t, cfg.Validate())

	cfg = &cache.RedisConfig{Addr: "localhost:6379", TTL: -time.Second}
	assert.Error(t, cfg.Validate())

	cfg = &cache.RedisConfig{Addr: "localhost:6379"}
	assert.NoError(t, cfg.Validate())
}

func TestRedisCache_GetAfterServerLoss(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, cache.RedisConfig{})

	_, err := c.MergeValue(ctx, "k", []byte("v"))
	require.NoError(t, err)

	mr.Close()

	value, ok := c.Get(ctx, "k")
	assert.False(t, ok, "backend failures are reported as a miss")
	assert.Nil(t, value)
}
