package observe_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/fetchops/observe"
)

func ExampleNewObserver() {
	ctx := context.Background()
	obs, err := observe.NewObserver(ctx, observe.Config{
		ServiceName: "profile-fetcher",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1},
		Logging:     observe.LoggingConfig{Enabled: true, Level: "warn"},
	})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	mw, err := observe.MiddlewareFromObserver(obs)
	fmt.Println(mw != nil, err)
	// Output:
	// true <nil>
}

func ExampleNewObserver_zerolog() {
	var buf bytes.Buffer
	ctx := context.Background()
	obs, err := observe.NewObserver(ctx, observe.Config{
		ServiceName: "profile-fetcher",
		Output:      &buf,
		Logging:     observe.LoggingConfig{Enabled: true, Level: "info", Format: "zerolog"},
	})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	obs.Logger().Warn(ctx, "cache unavailable", observe.Field{Key: "fetch.name", Value: "orders"})
	fmt.Println(bytes.Contains(buf.Bytes(), []byte(`"level":"warn"`)))
	// Output:
	// true
}

func ExampleConfig_Validate() {
	cfg := observe.Config{
		ServiceName: "profile-fetcher",
		Logging:     observe.LoggingConfig{Enabled: true, Format: "xml"},
	}
	err := cfg.Validate()
	fmt.Println(errors.Is(err, observe.ErrInvalidLogFormat))

	cfg.ServiceName = ""
	fmt.Println(errors.Is(cfg.Validate(), observe.ErrMissingServiceName))
	// Output:
	// true
	// true
}

func ExampleFetchMeta_SpanName() {
	fmt.Println(observe.FetchMeta{DebugName: "user-profile"}.SpanName())
	fmt.Println(observe.FetchMeta{}.SpanName())
	// Output:
	// fetch.backend.user-profile
	// fetch.backend.anonymous
}

func ExampleNewLoggerWithWriter() {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("info", &buf)

	logger.Debug(context.Background(), "filtered out")
	logger.Info(context.Background(), "kept")

	fmt.Println("Lines written:", bytes.Count(buf.Bytes(), []byte("\n")))
	// Output:
	// Lines written: 1
}

func ExampleLogger_WithFetch() {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("info", &buf)

	scoped := logger.WithFetch(observe.FetchMeta{DebugName: "orders", CacheKey: "cache:atom:1f"})
	scoped.Info(context.Background(), "resolved", observe.Field{Key: "token", Value: "secret-value"})

	output := buf.String()
	fmt.Println("Contains fetch.name:", bytes.Contains([]byte(output), []byte(`"fetch.name":"orders"`)))
	fmt.Println("Token redacted:", !bytes.Contains([]byte(output), []byte("secret-value")))
	// Output:
	// Contains fetch.name: true
	// Token redacted: true
}

func ExampleMiddleware_Wrap() {
	mw := observe.NewMiddleware(nil, nil, nil)

	backend := func(ctx context.Context, meta observe.FetchMeta, data any) (any, error) {
		return fmt.Sprintf("profile for %v", data), nil
	}

	wrapped := mw.Wrap(backend)
	result, err := wrapped(context.Background(), observe.FetchMeta{DebugName: "users"}, "alice")
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(result)
	// Output:
	// profile for alice
}

func ExampleParseLogLevel() {
	fmt.Println(observe.ParseLogLevel("warn"))
	fmt.Println(observe.ParseLogLevel("unknown"))
	// Output:
	// warn
	// info
}
