package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MergeFunc combines the stored entry with a newly fetched value. existing is
// nil when nothing is stored under the key. The returned bytes replace the
// stored entry.
//
// Merging the same incoming value twice must give the same result as merging
// it once.
type MergeFunc func(existing, incoming []byte) ([]byte, error)

// ReplaceMerge is the default strategy: the incoming value wins.
func ReplaceMerge(_, incoming []byte) ([]byte, error) {
	return incoming, nil
}

// JSONMerge deep-merges JSON documents. Objects are merged key by key
// (incoming wins on scalar conflicts), arrays are unioned with existing
// elements first, and anything else is replaced by the incoming value.
func JSONMerge(existing, incoming []byte) ([]byte, error) {
	if len(existing) == 0 {
		return incoming, nil
	}

	oldVal, err := decodeJSON(existing)
	if err != nil {
		return nil, fmt.Errorf("cache: decode stored value: %w", err)
	}
	newVal, err := decodeJSON(incoming)
	if err != nil {
		return nil, fmt.Errorf("cache: decode incoming value: %w", err)
	}

	merged, err := mergeJSON(oldVal, newVal)
	if err != nil {
		return nil, err
	}
	return canonicalize(merged)
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func mergeJSON(oldVal, newVal any) (any, error) {
	switch n := newVal.(type) {
	case map[string]any:
		o, ok := oldVal.(map[string]any)
		if !ok {
			return n, nil
		}
		out := make(map[string]any, len(o)+len(n))
		for k, v := range o {
			out[k] = v
		}
		for k, v := range n {
			if prev, exists := out[k]; exists {
				m, err := mergeJSON(prev, v)
				if err != nil {
					return nil, err
				}
				out[k] = m
				continue
			}
			out[k] = v
		}
		return out, nil

	case []any:
		o, ok := oldVal.([]any)
		if !ok {
			return n, nil
		}
		return unionSlices(o, n)

	default:
		return newVal, nil
	}
}

func unionSlices(oldItems, newItems []any) ([]any, error) {
	seen := make(map[string]struct{}, len(oldItems)+len(newItems))
	out := make([]any, 0, len(oldItems)+len(newItems))

	add := func(item any) error {
		b, err := canonicalize(item)
		if err != nil {
			return err
		}
		if _, dup := seen[string(b)]; dup {
			return nil
		}
		seen[string(b)] = struct{}{}
		out = append(out, item)
		return nil
	}

	for _, item := range oldItems {
		if err := add(item); err != nil {
			return nil, err
		}
	}
	for _, item := range newItems {
		if err := add(item); err != nil {
			return nil, err
		}
	}
	return out, nil
}
