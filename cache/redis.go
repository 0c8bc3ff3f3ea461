package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every cache key. Default: "fetchops:"
	Prefix string

	// TTL is applied on every merge. Zero keeps entries until they are
	// deleted explicitly.
	TTL time.Duration

	// MaxMergeAttempts bounds the optimistic WATCH/MULTI loop.
	// Default: 16
	MaxMergeAttempts int

	// Merge is the merge strategy. Default: ReplaceMerge.
	Merge MergeFunc
}

// Validate validates the configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("cache: redis address is required")
	}
	if c.TTL < 0 {
		return fmt.Errorf("cache: redis ttl must not be negative, got %v", c.TTL)
	}
	return nil
}

// RedisCache is a ValueCache backed by Redis. Merges are optimistic
// transactions on the key, so concurrent writers from several processes
// converge without losing data.
type RedisCache struct {
	client      *redis.Client
	logger      zerolog.Logger
	prefix      string
	ttl         time.Duration
	maxAttempts int
	merge       MergeFunc
}

// NewRedisCache creates and connects a new RedisCache.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisCache(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	c := &RedisCache{
		client:      rdb,
		logger:      logger.With().Str("component", "RedisCache").Logger(),
		prefix:      cfg.Prefix,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxMergeAttempts,
		merge:       cfg.Merge,
	}
	if c.prefix == "" {
		c.prefix = "fetchops:"
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 16
	}
	if c.merge == nil {
		c.merge = ReplaceMerge
	}
	return c, nil
}

// Get retrieves a value from Redis. Redis failures are logged and reported
// as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during get.")
		}
		return nil, false
	}
	c.logger.Debug().Str("key", key).Msg("Redis cache hit.")
	return value, true
}

// MergeValue merges value into the stored entry inside a WATCH transaction,
// retrying when another writer touched the key in between.
func (c *RedisCache) MergeValue(ctx context.Context, key string, value []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	stringKey := c.prefix + key

	var merged []byte
	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, stringKey).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				return err
			}
			existing = nil
		}

		m, err := c.merge(existing, value)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, stringKey, m, c.ttl)
			return nil
		})
		if err == nil {
			merged = m
		}
		return err
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.client.Watch(ctx, txf, stringKey)
		if err == nil {
			c.logger.Debug().Str("key", key).Int("attempt", attempt).Msg("Merged value into Redis cache.")
			return merged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to merge value into Redis cache.")
		return nil, fmt.Errorf("cache: redis merge for %s: %w", key, err)
	}

	c.logger.Warn().Str("key", key).Int("attempts", c.maxAttempts).Msg("Redis merge gave up after repeated conflicts.")
	return nil, ErrMergeConflict
}

// Delete removes a key from Redis. Idempotent - no error on miss.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache: redis del for %s: %w", key, err)
	}
	return nil
}

// Ping checks that the Redis server is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.client.Close()
	}
	return nil
}

// Ensure RedisCache implements ValueCache
var _ ValueCache = (*RedisCache)(nil)
