// Package resilience provides caller-side guards for fetch backends.
//
// The fetch core never retries and never times out on its own. Callers that
// want those protections wrap their backend before handing it to a
// subscriber:
//
//	exec := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 50})),
//	    resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 4})),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithTimeout(5*time.Second),
//	)
//
//	cfg := fetch.Config[User]{
//	    DoFetch: resilience.GuardBackend(exec, loadUser),
//	}
//
// There is no retry guard: a rejected fetch is surfaced to the
// subscriber as LastError and the host decides whether to fetch again.
//
// Context cancellation is not a backend failure. A subscriber that resets
// while loading cancels the in-flight context, and the circuit breaker does
// not count that against the backend.
package resilience
