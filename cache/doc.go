// Package cache provides the shared value cache used by fetch subscribers.
//
// It provides SHA-256-based cache key derivation for request data, the
// ValueCache contract with merge-on-write semantics, pluggable merge
// strategies, and in-memory, Redis, SQLite and Firestore backends.
//
// Backends never invalidate entries on their own. Invalidation is always
// caller-driven (see MemoryCache.Delete and friends).
package cache
