package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/services"
)

func testProviders() []config.Provider {
	return []config.Provider{
		{Name: "alpha", BaseURL: "http://127.0.0.1:0", APIKey: "k", Models: []string{"alpha-large"}, Tier: "premium", Enabled: true},
		{Name: "bravo", BaseURL: "http://127.0.0.1:0", APIKey: "k", Models: []string{"bravo-mid"}, Tier: "standard", Enabled: true},
		{Name: "charlie", BaseURL: "http://127.0.0.1:0", APIKey: "k", Models: []string{"charlie-fast"}, Tier: "fast", Enabled: true},
	}
}

func testSettings() Settings {
	return Settings{
		FailureThreshold:     5,
		SuccessRateThreshold: 0.5,
		CircuitBreak:         2 * time.Minute,
		RateLimitBreak:       5 * time.Minute,
		NoModelBreak:         30 * time.Minute,
	}
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRouter(t *testing.T, opts ...RouterOption) (*Router, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]RouterOption{WithClock(clock.Now)}, opts...)
	return NewRouter(testProviders(), testSettings(), 30, nil, opts...), clock
}

func TestSelectPrefersHighestTier(t *testing.T) {
	router, _ := newTestRouter(t)

	selection, ok := router.Select(PolicyForTask(TaskPlan), nil)
	if !ok {
		t.Fatal("no selection for plan task")
	}
	if selection.Provider != "alpha" || selection.Tier != TierPremium {
		t.Fatalf("selection = %+v, want premium alpha", selection)
	}
}

func TestSelectSkipsOpenCircuit(t *testing.T) {
	router, _ := newTestRouter(t)
	failure := errors.New("upstream exploded")
	for i := 0; i < 5; i++ {
		router.RecordFailure("alpha", failure)
	}

	selection, ok := router.Select(PolicyForTask(TaskPlan), nil)
	if !ok {
		t.Fatal("expected fallback selection")
	}
	if selection.Provider == "alpha" {
		t.Fatal("open-circuit provider was selected")
	}
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	router, _ := newTestRouter(t)
	failure := errors.New("upstream exploded")

	for i := 0; i < 4; i++ {
		router.RecordFailure("alpha", failure)
	}
	if status := snapshotFor(t, router, "alpha"); status.CircuitOpen {
		t.Fatal("circuit opened before the failure threshold")
	}

	router.RecordFailure("alpha", failure)
	status := snapshotFor(t, router, "alpha")
	if !status.CircuitOpen {
		t.Fatal("circuit did not open at five consecutive failures")
	}
	if status.Healthy {
		t.Fatal("open circuit still reports healthy")
	}
}

func TestCircuitRequiresLowSuccessRate(t *testing.T) {
	router, _ := newTestRouter(t)
	failure := errors.New("upstream exploded")

	// Enough successes keep the overall rate above 0.5, so five consecutive
	// failures alone must not trip the breaker.
	for i := 0; i < 10; i++ {
		router.RecordSuccess("alpha", 50*time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		router.RecordFailure("alpha", failure)
	}

	if status := snapshotFor(t, router, "alpha"); status.CircuitOpen {
		t.Fatalf("circuit opened with success rate %.2f", status.SuccessRate)
	}
}

func TestCircuitHalfOpensAfterBreak(t *testing.T) {
	router, clock := newTestRouter(t)
	failure := errors.New("upstream exploded")
	for i := 0; i < 5; i++ {
		router.RecordFailure("alpha", failure)
	}

	clock.Advance(time.Minute)
	if status := snapshotFor(t, router, "alpha"); status.Healthy {
		t.Fatal("circuit closed before the break elapsed")
	}

	clock.Advance(2 * time.Minute)
	if status := snapshotFor(t, router, "alpha"); !status.Healthy {
		t.Fatal("circuit still open after the break elapsed")
	}

	selection, ok := router.Select(PolicyForTask(TaskPlan), nil)
	if !ok || selection.Provider != "alpha" {
		t.Fatalf("recovered provider not selectable: %+v", selection)
	}
}

func TestHandleErrorRateLimitHonorsHint(t *testing.T) {
	router, clock := newTestRouter(t)
	err := &StatusError{Provider: "alpha", StatusCode: http.StatusTooManyRequests, RetryAfter: 90 * time.Second}

	router.HandleError("alpha", "alpha-large", err)
	if status := snapshotFor(t, router, "alpha"); !status.CircuitOpen {
		t.Fatal("rate limit did not open the circuit")
	}

	clock.Advance(91 * time.Second)
	if status := snapshotFor(t, router, "alpha"); !status.Healthy {
		t.Fatal("circuit ignored the retry-after hint")
	}
}

func TestHandleErrorPrunesUnavailableModel(t *testing.T) {
	router, _ := newTestRouter(t)

	router.HandleError("alpha", "alpha-large", errors.New("model alpha-large does not exist"))

	status := snapshotFor(t, router, "alpha")
	if len(status.Models) != 0 {
		t.Fatalf("models = %v, want pruned", status.Models)
	}
	// Last model pruned: provider sidelined for the no-model break.
	if status.Healthy {
		t.Fatal("provider with no models still healthy")
	}

	if selection, ok := router.Select(PolicyForTask(TaskPlan), nil); ok && selection.Provider == "alpha" {
		t.Fatal("provider without models was selected")
	}
}

type stubCompleter struct {
	payload string
	err     error
	calls   int
}

func (s *stubCompleter) CompleteJSON(context.Context, string, string, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.payload, nil
}

func TestGenerateFallsBackAcrossProviders(t *testing.T) {
	broken := &stubCompleter{err: errors.New("upstream exploded")}
	working := &stubCompleter{payload: `{"ok":true}`}
	router, _ := newTestRouter(t,
		WithCompleter("alpha", broken),
		WithCompleter("bravo", working),
	)

	payload, err := router.Generate(context.Background(), PolicyForTask(TaskPlan), "system", "user")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if payload != `{"ok":true}` {
		t.Fatalf("payload = %q", payload)
	}
	if broken.calls != 1 || working.calls != 1 {
		t.Fatalf("calls alpha=%d bravo=%d", broken.calls, working.calls)
	}
}

func TestGenerateStampsCorrelationID(t *testing.T) {
	var firstID, secondID string
	capture := &funcCompleter{fn: func(ctx context.Context) (string, error) {
		id, ok := services.RequestIDFromContext(ctx)
		if !ok {
			return "", errors.New("call context has no request id")
		}
		if firstID == "" {
			firstID = id
		} else {
			secondID = id
		}
		return `{"ok":true}`, nil
	}}
	router, _ := newTestRouter(t, WithCompleter("alpha", capture))

	if _, err := router.Generate(context.Background(), PolicyForTask(TaskPlan), "system", "first"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := router.Generate(context.Background(), PolicyForTask(TaskPlan), "system", "second"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if firstID == "" || secondID == "" {
		t.Fatal("provider calls were not stamped with correlation ids")
	}
	if firstID == secondID {
		t.Fatalf("correlation id %q reused across calls", firstID)
	}
}

type funcCompleter struct {
	fn func(ctx context.Context) (string, error)
}

func (f *funcCompleter) CompleteJSON(ctx context.Context, _, _, _ string) (string, error) {
	return f.fn(ctx)
}

func TestGenerateServesFromCache(t *testing.T) {
	working := &stubCompleter{payload: `{"ok":true}`}
	router, _ := newTestRouter(t, WithCompleter("alpha", working))

	ctx := context.Background()
	policy := PolicyForTask(TaskPlan)
	for i := 0; i < 3; i++ {
		if _, err := router.Generate(ctx, policy, "system", "user"); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
	}
	if working.calls != 1 {
		t.Fatalf("provider called %d times, want 1 with cache hits", working.calls)
	}
	if router.CacheSize() != 1 {
		t.Fatalf("cache size = %d", router.CacheSize())
	}
}

func TestGenerateReturnsLastErrorWhenAllFail(t *testing.T) {
	failing := errors.New("upstream exploded")
	router, _ := newTestRouter(t,
		WithCompleter("alpha", &stubCompleter{err: failing}),
		WithCompleter("bravo", &stubCompleter{err: failing}),
		WithCompleter("charlie", &stubCompleter{err: failing}),
	)

	_, err := router.Generate(context.Background(), PolicyForTask(TaskMusic), "system", "user")
	if !errors.Is(err, failing) {
		t.Fatalf("Generate() error = %v, want provider failure", err)
	}
}

func TestGenerateNoProvider(t *testing.T) {
	router := NewRouter(nil, testSettings(), 30, nil)
	_, err := router.Generate(context.Background(), PolicyForTask(TaskPlan), "system", "user")
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("Generate() error = %v, want ErrNoProvider", err)
	}
}

func snapshotFor(t *testing.T, router *Router, name string) Status {
	t.Helper()
	for _, status := range router.Snapshot() {
		if status.Name == name {
			return status
		}
	}
	t.Fatalf("provider %s not in snapshot", name)
	return Status{}
}

func TestRetryAfterHintParsing(t *testing.T) {
	cases := []struct {
		err  error
		want time.Duration
	}{
		{errors.New("rate limit: retry after 30 seconds"), 30 * time.Second},
		{errors.New("quota exhausted, try again in 2m"), 2 * time.Minute},
		{errors.New("slow down, retry in 500 ms"), 500 * time.Millisecond},
		{errors.New("rate limited"), 0},
		{&StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: time.Minute}, time.Minute},
	}
	for _, tc := range cases {
		if got := RetryAfterHint(tc.err); got != tc.want {
			t.Fatalf("RetryAfterHint(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !IsRateLimit(fmt.Errorf("wrapped: %w", &StatusError{StatusCode: http.StatusTooManyRequests})) {
		t.Fatal("429 status not classified as rate limit")
	}
	if IsRateLimit(errors.New("connection refused")) {
		t.Fatal("generic failure classified as rate limit")
	}
	if !IsModelUnavailable(errors.New("model foo-1 not found")) {
		t.Fatal("missing model not classified")
	}
	if IsModelUnavailable(errors.New("document not found")) {
		t.Fatal("non-model not-found misclassified")
	}
}
