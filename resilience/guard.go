package resilience

import "context"

// GuardBackend wraps a fetch backend so every call runs through e. The
// parameter and result use the unnamed func type so fetch.Backend[T] values
// convert both ways without a cast.
//
// When a guard rejects the call or the timeout fires, the zero T is
// returned with the guard's error and the backend's late result, if any, is
// discarded.
func GuardBackend[T any](e *Executor, backend func(ctx context.Context, data any, previous T) (T, error)) func(ctx context.Context, data any, previous T) (T, error) {
	if e == nil {
		return backend
	}
	return func(ctx context.Context, data any, previous T) (T, error) {
		var result T
		err := e.Execute(ctx, func(ctx context.Context) error {
			v, err := backend(ctx, data, previous)
			if err != nil {
				return err
			}
			result = v
			return nil
		})
		if err != nil {
			var zero T
			return zero, err
		}
		return result, nil
	}
}
