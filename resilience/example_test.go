package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/fetchops/resilience"
)

func ExampleCircuitBreaker_State() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
	})
	ctx := context.Background()

	fmt.Println("Initial state:", cb.State())

	unavailable := errors.New("service unavailable")
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			return unavailable
		})
	}
	fmt.Println("After failures:", cb.State())

	cb.Reset()
	fmt.Println("After reset:", cb.State())
	// Output:
	// Initial state: closed
	// After failures: open
	// After reset: closed
}

func ExampleNewCircuitBreaker_withStateChange() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures: 1,
		OnStateChange: func(from, to resilience.State) {
			fmt.Printf("Circuit changed: %s -> %s\n", from, to)
		},
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("failure")
	})
	// Output:
	// Circuit changed: closed -> open
}

func ExampleRateLimiter_Execute() {
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 1, Burst: 2})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := rl.Execute(ctx, func(ctx context.Context) error { return nil })
		fmt.Printf("call %d: %v\n", i, err)
	}
	// Output:
	// call 1: <nil>
	// call 2: <nil>
	// call 3: resilience: rate limit exceeded
}

func ExampleBulkhead_Metrics() {
	b := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 3})
	ctx := context.Background()

	_ = b.Acquire(ctx)
	_ = b.Acquire(ctx)

	m := b.Metrics()
	fmt.Printf("Active: %d, Available: %d\n", m.Active, m.Available)

	b.Release()
	b.Release()
	// Output:
	// Active: 2, Available: 1
}

func ExampleExecuteWithTimeout() {
	err := resilience.ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	fmt.Println(errors.Is(err, resilience.ErrTimeout))
	// Output:
	// true
}

func ExampleGuardBackend() {
	loadGreeting := func(ctx context.Context, data any, previous string) (string, error) {
		return fmt.Sprintf("hello, %v", data), nil
	}

	exec := resilience.NewExecutor(
		resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 4})),
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
		resilience.WithTimeout(time.Second),
	)

	guarded := resilience.GuardBackend(exec, loadGreeting)
	greeting, err := guarded(context.Background(), "world", "")
	fmt.Println(greeting, err)
	// Output:
	// hello, world <nil>
}
