package gatekeeper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/northbay/ragchat-gateway/internal/gateway/apierror"
	"github.com/northbay/ragchat-gateway/internal/gateway/ratelimit"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testPublicPaths = []string{"/health", "/v3/api-docs", "/swagger-ui", "/error"}

func newTestGatekeeper(t *testing.T, keys string, policy ratelimit.Policy) (*Gatekeeper, *ratelimit.MemoryStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store, err := ratelimit.NewMemoryStore(policy, ratelimit.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewMemoryStore() failed: %v", err)
	}
	gk := New(NewKeyRegistry(keys), store, Options{PublicPaths: testPublicPaths})
	return gk, store, clock
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})
}

func doRequest(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if key != "" {
		req.Header.Set("X-API-KEY", key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var defaultPolicy = ratelimit.Policy{Capacity: 100, RefillTokens: 100, RefillPeriod: time.Minute}

func TestEvaluate_PublicPathBypass(t *testing.T) {
	gk, store, _ := newTestGatekeeper(t, "k1", defaultPolicy)

	tests := []struct {
		name string
		path string
		key  string
	}{
		{name: "health without key", path: "/health"},
		{name: "health with invalid key", path: "/health", key: "bogus"},
		{name: "health with valid key", path: "/health", key: "k1"},
		{name: "docs prefix", path: "/v3/api-docs/swagger-config"},
		{name: "swagger prefix", path: "/swagger-ui/index.html", key: "k1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-KEY", tt.key)
			}
			dec := gk.Evaluate(req)
			if dec.Outcome != OutcomeBypassed {
				t.Errorf("Outcome = %v, want bypassed", dec.Outcome)
			}
		})
	}

	if store.Count() != 0 {
		t.Errorf("bypassed requests created %d buckets, want 0", store.Count())
	}
}

func TestEvaluate_FailClosedAuthentication(t *testing.T) {
	gk, store, _ := newTestGatekeeper(t, "k1,k2", defaultPolicy)

	tests := []struct {
		name      string
		setHeader bool
		key       string
	}{
		{name: "missing header"},
		{name: "empty header", setHeader: true, key: ""},
		{name: "unregistered key", setHeader: true, key: "k3"},
		{name: "padded key", setHeader: true, key: " k1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
			if tt.setHeader {
				req.Header.Set("X-API-KEY", tt.key)
			}
			dec := gk.Evaluate(req)
			if dec.Outcome != OutcomeUnauthenticated {
				t.Errorf("Outcome = %v, want unauthenticated", dec.Outcome)
			}
			if _, ok := store.Peek(tt.key); ok {
				t.Errorf("bucket created for rejected key %q", tt.key)
			}
		})
	}

	if store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", store.Count())
	}
}

func TestEvaluate_EmptyRegistryRejectsEverything(t *testing.T) {
	gk, store, _ := newTestGatekeeper(t, "", defaultPolicy)

	rr := doRequest(gk.Middleware(okHandler()), "/api/v1/sessions", "demo-key")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", store.Count())
	}
}

func TestMiddleware_AdmittedRequest(t *testing.T) {
	gk, store, _ := newTestGatekeeper(t, "k1", ratelimit.Policy{Capacity: 5, RefillTokens: 5, RefillPeriod: time.Minute})

	var seenKey string
	handler := gk.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey, _ = APIKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := doRequest(handler, "/api/v1/sessions", "k1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if seenKey != "k1" {
		t.Errorf("APIKeyFromContext() = %q, want k1", seenKey)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %s, want 5", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %s, want 4", got)
	}

	bucket, ok := store.Peek("k1")
	if !ok {
		t.Fatal("bucket for k1 should exist")
	}
	if bucket.Available() != 4 {
		t.Errorf("Available() = %d, want 4", bucket.Available())
	}
}

func TestMiddleware_UnauthenticatedResponse(t *testing.T) {
	gk, _, _ := newTestGatekeeper(t, "k1", defaultPolicy)

	called := false
	handler := gk.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := doRequest(handler, "/api/v1/sessions", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if called {
		t.Error("business handler must not run for rejected requests")
	}

	var body apierror.Response
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ErrorCode != apierror.CodeUnauthorized {
		t.Errorf("errorCode = %s, want %s", body.ErrorCode, apierror.CodeUnauthorized)
	}
	if body.Path != "/api/v1/sessions" {
		t.Errorf("path = %s", body.Path)
	}
}

func TestMiddleware_BucketMonotonicity(t *testing.T) {
	gk, store, _ := newTestGatekeeper(t, "k1", ratelimit.Policy{Capacity: 10, RefillTokens: 10, RefillPeriod: time.Hour})
	handler := gk.Middleware(okHandler())

	for i := 1; i <= 10; i++ {
		if rr := doRequest(handler, "/api/v1/sessions", "k1"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rr.Code)
		}
		bucket, _ := store.Peek("k1")
		if got := bucket.Available(); got != int64(10-i) {
			t.Errorf("after %d requests Available() = %d, want %d", i, got, 10-i)
		}
	}

	for i := 0; i < 3; i++ {
		rr := doRequest(handler, "/api/v1/sessions", "k1")
		if rr.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want 429", rr.Code)
		}
	}
	bucket, _ := store.Peek("k1")
	if bucket.Available() != 0 {
		t.Errorf("Available() = %d, want 0", bucket.Available())
	}
}

func TestMiddleware_Scenario(t *testing.T) {
	gk, _, clock := newTestGatekeeper(t, "k1", ratelimit.Policy{Capacity: 2, RefillTokens: 2, RefillPeriod: 60 * time.Second})
	handler := gk.Middleware(okHandler())

	for i := 1; i <= 2; i++ {
		if rr := doRequest(handler, "/api/v1/sessions", "k1"); rr.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, rr.Code)
		}
	}

	clock.Advance(10 * time.Second)
	rr := doRequest(handler, "/api/v1/sessions", "k1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("request 3: status = %d, want 429", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "50" {
		t.Errorf("Retry-After = %s, want 50", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %s, want 0", got)
	}

	clock.Advance(50 * time.Second)
	if rr := doRequest(handler, "/api/v1/sessions", "k1"); rr.Code != http.StatusOK {
		t.Errorf("request 4: status = %d, want 200", rr.Code)
	}
}

func TestMiddleware_KeysDoNotShareBuckets(t *testing.T) {
	gk, _, _ := newTestGatekeeper(t, "k1,k2", ratelimit.Policy{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Hour})
	handler := gk.Middleware(okHandler())

	doRequest(handler, "/api/v1/sessions", "k1")
	if rr := doRequest(handler, "/api/v1/sessions", "k1"); rr.Code != http.StatusTooManyRequests {
		t.Errorf("k1 second request: status = %d, want 429", rr.Code)
	}
	if rr := doRequest(handler, "/api/v1/sessions", "k2"); rr.Code != http.StatusOK {
		t.Errorf("k2 first request: status = %d, want 200", rr.Code)
	}
}

func TestMiddleware_CustomHeader(t *testing.T) {
	store, _ := ratelimit.NewMemoryStore(defaultPolicy)
	gk := New(NewKeyRegistry("k1"), store, Options{Header: "X-Custom-Key"})
	handler := gk.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("X-Custom-Key", "k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}

	if rr := doRequest(handler, "/api/v1/sessions", "k1"); rr.Code != http.StatusUnauthorized {
		t.Errorf("default header should be ignored: status = %d, want 401", rr.Code)
	}
}

type failingStore struct{}

func (failingStore) GetOrCreate(string) (*ratelimit.TokenBucket, error) {
	return nil, ratelimit.ErrEmptyKey
}

func TestMiddleware_StoreFailure(t *testing.T) {
	rec := &chanRecorder{events: make(chan recordedEvent, 1)}
	gk := New(NewKeyRegistry("k1"), failingStore{}, Options{Recorder: rec})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set("X-API-KEY", "k1")
	if dec := gk.Evaluate(req); dec.Outcome != OutcomeError || dec.Err == nil {
		t.Errorf("Evaluate() = %v (err %v), want error outcome", dec.Outcome, dec.Err)
	}

	rr := doRequest(gk.Middleware(okHandler()), "/api/v1/sessions", "k1")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "" {
		t.Error("store failures must not look like rate limiting")
	}

	select {
	case ev := <-rec.events:
		if ev.outcome != "error" {
			t.Errorf("recorded outcome = %s, want error", ev.outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the recorded outcome")
	}
}

type recordedEvent struct {
	outcome string
	path    string
}

type chanRecorder struct {
	events chan recordedEvent
}

func (c *chanRecorder) RecordAdmission(_ context.Context, outcome, _, path string, _ time.Time) error {
	c.events <- recordedEvent{outcome: outcome, path: path}
	return nil
}

func TestMiddleware_RecordsOutcomes(t *testing.T) {
	rec := &chanRecorder{events: make(chan recordedEvent, 10)}
	store, _ := ratelimit.NewMemoryStore(ratelimit.Policy{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Hour})
	gk := New(NewKeyRegistry("k1"), store, Options{PublicPaths: []string{"/health"}, Recorder: rec})
	handler := gk.Middleware(okHandler())

	doRequest(handler, "/health", "")
	doRequest(handler, "/api/v1/sessions", "")
	doRequest(handler, "/api/v1/sessions", "k1")
	doRequest(handler, "/api/v1/sessions", "k1")

	got := map[string]int{}
	for i := 0; i < 3; i++ {
		select {
		case ev := <-rec.events:
			got[ev.outcome]++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}

	want := map[string]int{"unauthenticated": 1, "admitted": 1, "rate_limited": 1}
	for outcome, n := range want {
		if got[outcome] != n {
			t.Errorf("recorded %s = %d, want %d", outcome, got[outcome], n)
		}
	}

	select {
	case ev := <-rec.events:
		t.Errorf("unexpected extra event %+v (bypassed requests are not recorded)", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeAdmitted:        "admitted",
		OutcomeBypassed:        "bypassed",
		OutcomeUnauthenticated: "unauthenticated",
		OutcomeRateLimited:     "rate_limited",
		OutcomeError:           "error",
		Outcome(42):            "unknown",
	}
	for outcome, want := range tests {
		if got := outcome.String(); got != want {
			t.Errorf("Outcome(%d).String() = %s, want %s", int(outcome), got, want)
		}
	}
}
