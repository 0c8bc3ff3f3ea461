package cache

import (
	"context"
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey    = errors.New("cache: key is invalid")
	ErrKeyTooLong    = errors.New("cache: key exceeds max length")
	ErrMergeConflict = errors.New("cache: merge did not converge")
)

// ValueCache is the shared mapping from cache key to merged result.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use. Calls on
//   distinct keys are independent; concurrent merges on one key converge.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Get never errors; it returns (nil, false) on miss or backend failure.
type ValueCache interface {
	// Get retrieves the stored value. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// MergeValue combines value with any stored entry under key, stores the
	// result and returns it. The returned bytes are authoritative.
	MergeValue(ctx context.Context, key string, value []byte) ([]byte, error)
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
