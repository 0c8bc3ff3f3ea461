// Package fetch orchestrates asynchronous data fetches for independent
// subscribers.
//
// Each Subscriber owns a Machine that moves between Idle, Loading, Resolved
// and Rejected. Transitions are computed by the pure Transition function;
// the Machine runs the backend for every Loading instance and discards
// outcomes that arrive after the instance was superseded by a RESET or a new
// LOAD.
//
// An Invocation wraps a Backend with the cache protocol: a hit on the
// request's cache key short-circuits the backend, a miss merges the result
// into the shared cache.ValueCache, and concurrent misses on one key are
// coalesced through singleflight. Failures are never cached. A failure that
// auth.IsNotAuthorized recognizes expires the session's credentials.
//
// Basic usage:
//
//	env := fetch.NewEnv(cache.NewMemoryCache())
//	sub := fetch.NewSubscriber[User](ctx, env)
//	view := sub.Observe(map[string]any{"id": 1}, fetch.Config[User]{
//		AutoFetch: true,
//		UseCache:  true,
//		DebugName: "user",
//		DoFetch:   loadUser,
//	})
package fetch
