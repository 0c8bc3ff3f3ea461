package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
)

// Atom is a symbol-like request identifier. Atoms are cacheable and never
// collide with a plain string of the same text.
type Atom string

// Kind classifies cacheable request data.
type Kind string

const (
	KindObject Kind = "object"
	KindString Kind = "string"
	KindAtom   Kind = "atom"
)

// Keyer derives deterministic cache keys from request data.
//
// Contract:
// - Determinism: structurally equal inputs produce the same key, regardless of
//   map iteration order or whether the input is a struct or an equivalent map.
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Key never errors; unsupported shapes report ok=false.
type Keyer interface {
	// Key derives a cache key. Returns ("", false) when data is not cacheable.
	Key(data any) (string, bool)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct {
	// Namespace isolates families of subscribers sharing one cache.
	Namespace string
}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a deterministic cache key.
// Format: cache:[<namespace>:]<kind>:<hash>
// where hash is the first 32 characters of SHA-256(canonical JSON(data))
func (k *DefaultKeyer) Key(data any) (string, bool) {
	kind, ok := Classify(data)
	if !ok {
		return "", false
	}

	canonical, err := canonicalJSON(data)
	if err != nil {
		return "", false
	}

	hash := sha256.Sum256(canonical)
	hashStr := hex.EncodeToString(hash[:16])

	prefix := "cache:"
	if k.Namespace != "" {
		prefix += k.Namespace + ":"
	}
	return prefix + string(kind) + ":" + hashStr, true
}

// Classify reports the Kind of data, or ok=false when data is not a
// cacheable shape (numbers, booleans, nil, functions, channels, nil pointers).
func Classify(data any) (Kind, bool) {
	switch data.(type) {
	case nil:
		return "", false
	case Atom:
		return KindAtom, true
	case string:
		return KindString, true
	}

	rv := reflect.ValueOf(data)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return KindObject, true
	case reflect.String:
		return KindString, true
	default:
		return "", false
	}
}

// canonicalJSON encodes data, then rebuilds it from a generic decode so that
// struct field order and custom marshalers cannot change the result.
func canonicalJSON(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return canonicalize(generic)
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
