package fetch

import (
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/fetchops/auth"
	"github.com/jonwraymond/fetchops/cache"
	"github.com/jonwraymond/fetchops/observe"
)

// Env holds the handles shared by every subscriber of one application.
// The zero value is usable: a nil Cache disables caching, and nil handles
// fall back to defaults.
type Env struct {
	Cache   cache.ValueCache
	Keyer   cache.Keyer
	Expirer auth.Expirer
	Logger  observe.Logger

	// Middleware instruments backend calls and cache lookups. Optional.
	Middleware *observe.Middleware

	// Flights coalesces concurrent misses on the same key. Nil disables
	// coalescing.
	Flights *singleflight.Group

	Codec Codec
}

// NewEnv returns an Env backed by c with default handles and coalescing
// enabled.
func NewEnv(c cache.ValueCache) Env {
	return Env{
		Cache:   c,
		Flights: new(singleflight.Group),
	}.withDefaults()
}

func (e Env) withDefaults() Env {
	if e.Keyer == nil {
		e.Keyer = cache.NewDefaultKeyer()
	}
	if e.Logger == nil {
		if e.Middleware != nil {
			e.Logger = e.Middleware.Logger()
		} else {
			e.Logger = observe.NopLogger()
		}
	}
	if e.Codec == nil {
		e.Codec = JSONCodec{}
	}
	return e
}
