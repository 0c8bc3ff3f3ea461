package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/fetchops/auth"
	"github.com/jonwraymond/fetchops/cache"
	"github.com/jonwraymond/fetchops/observe"
)

type logEntry struct {
	level string
	msg   string
}

// recordLogger captures log calls for assertions.
type recordLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
}

func newRecordLogger() *recordLogger {
	return &recordLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *recordLogger) add(level, msg string) {
	l.mu.Lock()
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg})
	l.mu.Unlock()
}

func (l *recordLogger) Info(_ context.Context, msg string, _ ...observe.Field)  { l.add("info", msg) }
func (l *recordLogger) Warn(_ context.Context, msg string, _ ...observe.Field)  { l.add("warn", msg) }
func (l *recordLogger) Error(_ context.Context, msg string, _ ...observe.Field) { l.add("error", msg) }
func (l *recordLogger) Debug(_ context.Context, msg string, _ ...observe.Field) { l.add("debug", msg) }
func (l *recordLogger) WithFetch(observe.FetchMeta) observe.Logger             { return l }

func (l *recordLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range *l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

type countingBackend struct {
	calls atomic.Int32
	value string
	err   error
}

func (b *countingBackend) fetch(context.Context, any, string) (string, error) {
	b.calls.Add(1)
	return b.value, b.err
}

const testKey = "cache:object:0123456789abcdef0123456789abcdef"

func TestInvocation_CacheHitSkipsBackend(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	if _, err := c.MergeValue(ctx, testKey, []byte(`"cached"`)); err != nil {
		t.Fatal(err)
	}

	backend := &countingBackend{value: "fresh"}
	inv := NewInvocation(InvocationConfig[string]{
		Cache:    c,
		CacheKey: testKey,
		DoFetch:  backend.fetch,
		UseCache: true,
	})

	got, err := inv.Invoke(ctx, Context[string]{})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "cached" {
		t.Errorf("Invoke() = %q, want cached", got)
	}
	if n := backend.calls.Load(); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
}

func TestInvocation_MissMergesIntoCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	backend := &countingBackend{value: "fresh"}
	inv := NewInvocation(InvocationConfig[string]{
		Cache:    c,
		CacheKey: testKey,
		DoFetch:  backend.fetch,
		UseCache: true,
		Flights:  new(singleflight.Group),
	})

	for i := 0; i < 3; i++ {
		got, err := inv.Invoke(ctx, Context[string]{})
		if err != nil || got != "fresh" {
			t.Fatalf("Invoke() = %q, %v", got, err)
		}
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
	raw, ok := c.Get(ctx, testKey)
	if !ok || string(raw) != `"fresh"` {
		t.Errorf("cached = %s, %v", raw, ok)
	}
}

func TestInvocation_ResolvesToMergedValue(t *testing.T) {
	type doc struct {
		Items []string `json:"items"`
	}
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.WithMerge(cache.JSONMerge))
	if _, err := c.MergeValue(ctx, testKey, []byte(`{"items":["a"]}`)); err != nil {
		t.Fatal(err)
	}

	// The key already holds an entry, so Invoke would hit; merge directly.
	inv := NewInvocation(InvocationConfig[doc]{
		Cache:    c,
		CacheKey: testKey,
		UseCache: true,
		DoFetch: func(context.Context, any, doc) (doc, error) {
			return doc{Items: []string{"b"}}, nil
		},
	})
	merged, err := inv.fetchAndMerge(ctx, doc{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := inv.decode(merged, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 2 || got.Items[0] != "a" || got.Items[1] != "b" {
		t.Errorf("merged = %+v, want [a b]", got.Items)
	}
}

func TestInvocation_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	boom := errors.New("boom")
	backend := &countingBackend{err: boom}
	inv := NewInvocation(InvocationConfig[string]{
		Cache:    c,
		CacheKey: testKey,
		DoFetch:  backend.fetch,
		UseCache: true,
		Flights:  new(singleflight.Group),
	})

	for i := 0; i < 2; i++ {
		if _, err := inv.Invoke(ctx, Context[string]{}); !errors.Is(err, boom) {
			t.Fatalf("Invoke() error = %v, want boom", err)
		}
	}
	if c.Len() != 0 {
		t.Errorf("cache holds %d entries after failures", c.Len())
	}
	if n := backend.calls.Load(); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}

func TestInvocation_NotAuthorizedExpiresOnce(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantExpires int32
	}{
		{"sentinel", auth.ErrNotAuthorized, 1},
		{"status 401", auth.NewStatusError(401, nil), 1},
		{"token expired", auth.ErrTokenExpired, 1},
		{"status 403", auth.NewStatusError(403, nil), 0},
		{"other failure", errors.New("boom"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var expires atomic.Int32
			inv := NewInvocation(InvocationConfig[string]{
				DoFetch: (&countingBackend{err: tt.err}).fetch,
				Expirer: auth.ExpirerFunc(func() { expires.Add(1) }),
			})

			_, err := inv.Invoke(context.Background(), Context[string]{})
			if !errors.Is(err, tt.err) {
				t.Errorf("Invoke() error = %v, want %v unchanged", err, tt.err)
			}
			if got := expires.Load(); got != tt.wantExpires {
				t.Errorf("expire calls = %d, want %d", got, tt.wantExpires)
			}
		})
	}
}

func TestInvocation_UncacheableDataSkipsCache(t *testing.T) {
	c := cache.NewMemoryCache()
	logger := newRecordLogger()
	backend := &countingBackend{value: "raw"}
	inv := NewInvocation(InvocationConfig[string]{
		Cache:    c,
		Data:     42,
		DoFetch:  backend.fetch,
		UseCache: true,
		Logger:   logger,
	})

	got, err := inv.Invoke(context.Background(), Context[string]{})
	if err != nil || got != "raw" {
		t.Fatalf("Invoke() = %q, %v", got, err)
	}
	if c.Len() != 0 {
		t.Error("uncacheable result was written to the cache")
	}
	if logger.count("warn") != 1 {
		t.Errorf("expected one warning, got %d", logger.count("warn"))
	}
}

func TestInvocation_NilCacheFallsBack(t *testing.T) {
	logger := newRecordLogger()
	inv := NewInvocation(InvocationConfig[string]{
		CacheKey: testKey,
		DoFetch:  (&countingBackend{value: "raw"}).fetch,
		UseCache: true,
		Logger:   logger,
	})

	got, err := inv.Invoke(context.Background(), Context[string]{})
	if err != nil || got != "raw" {
		t.Fatalf("Invoke() = %q, %v", got, err)
	}
	if logger.count("warn") != 1 {
		t.Errorf("expected one warning, got %d", logger.count("warn"))
	}
}

func TestInvocation_PassesDataAndPrevious(t *testing.T) {
	var gotData any
	var gotPrev int
	inv := NewInvocation(InvocationConfig[int]{
		Data: "request",
		DoFetch: func(_ context.Context, data any, previous int) (int, error) {
			gotData, gotPrev = data, previous
			return previous * 2, nil
		},
	})

	got, err := inv.Invoke(context.Background(), Context[int]{Value: 21})
	if err != nil || got != 42 {
		t.Fatalf("Invoke() = %d, %v", got, err)
	}
	if gotData != "request" || gotPrev != 21 {
		t.Errorf("backend saw data=%v previous=%d", gotData, gotPrev)
	}
}

func TestInvocation_NoBackend(t *testing.T) {
	inv := NewInvocation(InvocationConfig[string]{})
	if _, err := inv.Invoke(context.Background(), Context[string]{}); !errors.Is(err, ErrNoBackend) {
		t.Errorf("Invoke() error = %v, want ErrNoBackend", err)
	}
}

func TestInvocation_PanicIsRecovered(t *testing.T) {
	c := cache.NewMemoryCache()
	inv := NewInvocation(InvocationConfig[string]{
		Cache:    c,
		CacheKey: testKey,
		UseCache: true,
		Flights:  new(singleflight.Group),
		DoFetch: func(context.Context, any, string) (string, error) {
			panic(errors.New("nil map"))
		},
	})

	_, err := inv.Invoke(context.Background(), Context[string]{})
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Invoke() error = %v, want *PanicError", err)
	}
	if pe.Unwrap() == nil || pe.Unwrap().Error() != "nil map" {
		t.Errorf("Unwrap() = %v", pe.Unwrap())
	}
	if c.Len() != 0 {
		t.Error("panic result was cached")
	}
}

func TestInvocation_UndecodableEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	if _, err := c.MergeValue(ctx, testKey, []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	backend := &countingBackend{value: "fresh"}
	inv := NewInvocation(InvocationConfig[string]{
		Cache:    c,
		CacheKey: testKey,
		DoFetch:  backend.fetch,
		UseCache: true,
	})

	got, err := inv.Invoke(ctx, Context[string]{})
	if err != nil || got != "fresh" {
		t.Fatalf("Invoke() = %q, %v", got, err)
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
}

func TestInvocation_CoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	flights := new(singleflight.Group)
	release := make(chan struct{})
	var calls atomic.Int32

	backend := func(context.Context, any, string) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 10
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv := NewInvocation(InvocationConfig[string]{
				Cache:    c,
				CacheKey: testKey,
				DoFetch:  backend,
				UseCache: true,
				Flights:  flights,
			})
			v, err := inv.Invoke(ctx, Context[string]{})
			if err != nil {
				t.Errorf("Invoke() error = %v", err)
			}
			results <- v
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != "shared" {
			t.Errorf("result = %q, want shared", v)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
}

func TestInvocation_CoalescingKeepsEachPreviousValue(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	flights := new(singleflight.Group)

	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	var mu sync.Mutex
	seen := map[string]int{}

	backend := func(_ context.Context, _ any, previous string) (string, error) {
		mu.Lock()
		seen[previous]++
		mu.Unlock()
		started.Done()
		<-release
		return "fresh after " + previous, nil
	}

	invoke := func(previous string) {
		inv := NewInvocation(InvocationConfig[string]{
			Cache:    c,
			CacheKey: testKey,
			DoFetch:  backend,
			UseCache: true,
			Flights:  flights,
		})
		if _, err := inv.Invoke(ctx, Context[string]{Value: previous}); err != nil {
			t.Errorf("Invoke(%q) error = %v", previous, err)
		}
	}

	var wg sync.WaitGroup
	for _, previous := range []string{"", "P"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			invoke(previous)
		}()
	}

	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("a caller with a different previous value joined another flight")
	}
	close(release)
	wg.Wait()

	if seen[""] != 1 || seen["P"] != 1 {
		t.Errorf("backend previous values = %v, want one call each", seen)
	}
}

func TestInvocation_CancelledLeaderDoesNotFailFollowers(t *testing.T) {
	c := cache.NewMemoryCache()
	flights := new(singleflight.Group)
	started := make(chan struct{})
	var calls atomic.Int32

	backend := func(ctx context.Context, _ any, _ string) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	}
	newInv := func() *Invocation[string] {
		return NewInvocation(InvocationConfig[string]{
			Cache:    c,
			CacheKey: testKey,
			DoFetch:  backend,
			UseCache: true,
			Flights:  flights,
		})
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := newInv().Invoke(leaderCtx, Context[string]{})
		leaderErr <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := newInv().Invoke(context.Background(), Context[string]{})
		follower <- result{v, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader error = %v, want context.Canceled", err)
	}
	r := <-follower
	if r.err != nil || r.v != "ok" {
		t.Errorf("follower = %q, %v, want ok", r.v, r.err)
	}
}

func TestInvocation_Instrumented(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observe.NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	mw := observe.NewMiddleware(observe.NewTracer(tp.Tracer("test")), metrics, nil)

	inv := NewInvocation(InvocationConfig[string]{
		Cache:      cache.NewMemoryCache(),
		CacheKey:   testKey,
		DoFetch:    (&countingBackend{value: "v"}).fetch,
		UseCache:   true,
		DebugName:  "users",
		Middleware: mw,
	})
	for i := 0; i < 2; i++ {
		if _, err := inv.Invoke(context.Background(), Context[string]{}); err != nil {
			t.Fatal(err)
		}
	}

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 backend span, got %d", len(ended))
	}
	if ended[0].Name() != "fetch.backend.users" {
		t.Errorf("span name = %q", ended[0].Name())
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var lookups int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "fetch.cache.lookups" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				lookups += dp.Value
			}
		}
	}
	if lookups != 2 {
		t.Errorf("cache lookups = %d, want 2", lookups)
	}
}
