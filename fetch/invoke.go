package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/fetchops/auth"
	"github.com/jonwraymond/fetchops/cache"
	"github.com/jonwraymond/fetchops/observe"
)

// Backend produces a value for data. previous is the subscriber's current
// value.
type Backend[T any] func(ctx context.Context, data any, previous T) (T, error)

// InvocationConfig describes one wrapped backend call.
type InvocationConfig[T any] struct {
	Cache cache.ValueCache

	// CacheKey is the key derived from Data. Empty means Data is not
	// cacheable.
	CacheKey string

	Data         any
	DoFetch      Backend[T]
	UseCache     bool
	DebugName    string
	SubscriberID string

	Expirer    auth.Expirer
	Logger     observe.Logger
	Middleware *observe.Middleware
	Flights    *singleflight.Group
	Codec      Codec
}

// Invocation wraps a Backend with the cache protocol and the
// expire-on-unauthorized side effect.
//
// Contract:
//   - Cache: with UseCache and a key, a hit returns the cached value and the
//     backend is not called. A miss calls the backend, merges the result into
//     the cache, and returns the merged value.
//   - Errors: failures are returned unchanged and never written to the cache.
//     A NotAuthorized failure calls Expirer once per backend call.
//   - Coalescing: concurrent misses share one backend call only when they
//     carry the same key and the same previous value.
//   - Panics: a panicking backend is reported as *PanicError.
type Invocation[T any] struct {
	cfg  InvocationConfig[T]
	meta observe.FetchMeta
	log  observe.Logger
}

// NewInvocation creates an Invocation. Nil Logger and Codec fall back to
// defaults.
func NewInvocation[T any](cfg InvocationConfig[T]) *Invocation[T] {
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	meta := observe.FetchMeta{
		DebugName:    cfg.DebugName,
		CacheKey:     cfg.CacheKey,
		SubscriberID: cfg.SubscriberID,
	}
	return &Invocation[T]{
		cfg:  cfg,
		meta: meta,
		log:  cfg.Logger.WithFetch(meta),
	}
}

// Invoke runs the invocation for the machine context fc.
func (inv *Invocation[T]) Invoke(ctx context.Context, fc Context[T]) (T, error) {
	cfg := inv.cfg

	if !cfg.UseCache {
		return inv.callBackend(ctx, fc.Value)
	}
	if cfg.Cache == nil {
		inv.log.Warn(ctx, "cache requested but no cache is configured; fetching without it")
		return inv.callBackend(ctx, fc.Value)
	}
	if cfg.CacheKey == "" {
		inv.log.Warn(ctx, "cache requested but request data is not cacheable; fetching without it")
		return inv.callBackend(ctx, fc.Value)
	}

	if v, ok := inv.lookup(ctx); ok {
		return v, nil
	}

	flight, ok := inv.flightKey(fc.Value)
	if cfg.Flights == nil || !ok {
		return inv.decode(inv.fetchAndMerge(ctx, fc.Value))
	}

	res, err, shared := cfg.Flights.Do(flight, func() (any, error) {
		// Another flight may have filled the key since the first lookup.
		if raw, ok := cfg.Cache.Get(ctx, cfg.CacheKey); ok {
			return raw, nil
		}
		return inv.fetchAndMerge(ctx, fc.Value)
	})
	if err != nil && shared && ctx.Err() == nil && errors.Is(err, context.Canceled) {
		// The flight leader was cancelled, not this caller.
		inv.log.Debug(ctx, "shared fetch was cancelled; fetching directly")
		return inv.decode(inv.fetchAndMerge(ctx, fc.Value))
	}
	raw, _ := res.([]byte)
	return inv.decode(raw, err)
}

// flightKey scopes a shared backend call to the cache key and the encoded
// previous value. ok is false when previous cannot be encoded.
func (inv *Invocation[T]) flightKey(previous T) (string, bool) {
	raw, err := inv.cfg.Codec.Marshal(previous)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return inv.cfg.CacheKey + "#" + hex.EncodeToString(sum[:8]), true
}

// lookup reads the cache for the key. Undecodable entries count as a miss.
func (inv *Invocation[T]) lookup(ctx context.Context) (T, bool) {
	var zero T
	raw, ok := inv.cfg.Cache.Get(ctx, inv.cfg.CacheKey)
	if inv.cfg.Middleware != nil {
		inv.cfg.Middleware.CacheLookup(ctx, inv.meta, ok)
	}
	if !ok {
		return zero, false
	}
	var v T
	if err := inv.cfg.Codec.Unmarshal(raw, &v); err != nil {
		inv.log.Warn(ctx, "discarding undecodable cache entry", observe.Field{Key: "error", Value: err.Error()})
		return zero, false
	}
	inv.log.Debug(ctx, "cache hit")
	return v, true
}

// fetchAndMerge calls the backend and merges the encoded result into the
// cache, returning the merged bytes.
func (inv *Invocation[T]) fetchAndMerge(ctx context.Context, previous T) ([]byte, error) {
	v, err := inv.callBackend(ctx, previous)
	if err != nil {
		return nil, err
	}
	raw, err := inv.cfg.Codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("fetch: encode result for %s: %w", inv.meta.Name(), err)
	}
	merged, err := inv.cfg.Cache.MergeValue(ctx, inv.cfg.CacheKey, raw)
	if err != nil {
		return nil, fmt.Errorf("fetch: merge result for %s: %w", inv.meta.Name(), err)
	}
	return merged, nil
}

func (inv *Invocation[T]) decode(raw []byte, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if err := inv.cfg.Codec.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("fetch: decode merged value for %s: %w", inv.meta.Name(), err)
	}
	return v, nil
}

// callBackend runs the backend through the middleware and applies the
// NotAuthorized side effect.
func (inv *Invocation[T]) callBackend(ctx context.Context, previous T) (T, error) {
	var zero T
	if inv.cfg.DoFetch == nil {
		return zero, ErrNoBackend
	}

	exec := func(ctx context.Context, _ observe.FetchMeta, data any) (res any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = newPanicError(r)
			}
		}()
		return inv.cfg.DoFetch(ctx, data, previous)
	}
	if inv.cfg.Middleware != nil {
		exec = inv.cfg.Middleware.Wrap(exec)
	}

	res, err := exec(ctx, inv.meta, inv.cfg.Data)
	if err != nil {
		if auth.IsNotAuthorized(err) && inv.cfg.Expirer != nil {
			inv.log.Warn(ctx, "backend rejected credentials; expiring session")
			inv.cfg.Expirer.ExpireCredentials()
		}
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}
