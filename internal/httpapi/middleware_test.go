package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterPerQueue(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 600, IPBurst: 100, QueuePerMinute: 1, QueueBurst: 2})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	hit := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := hit("/api/queues/q-1/snapshot"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := hit("/api/queues/q-1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := hit("/api/queues/q-2"); code != http.StatusOK {
		t.Fatalf("other queue: expected 200, got %d", code)
	}
}

func TestTokenLimiterRefills(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter := newTokenLimiter(60, 1)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("k") {
		t.Fatalf("first request should pass")
	}
	if limiter.allow("k") {
		t.Fatalf("second request should be limited")
	}
	now = now.Add(time.Second)
	if !limiter.allow("k") {
		t.Fatalf("request after refill should pass")
	}
}

func TestQueueIDFromPath(t *testing.T) {
	cases := map[string]string{
		"/api/queues/abc":               "abc",
		"/api/queues/abc/actions/serve": "abc",
		"/api/queues":                   "",
		"/api/guests/abc":               "",
	}
	for path, want := range cases {
		if got := queueIDFromPath(path); got != want {
			t.Fatalf("%s: expected %q, got %q", path, want, got)
		}
	}
}

func TestRouteAccess(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   access
	}{
		{http.MethodPost, "/api/queues", accessStaff},
		{http.MethodGet, "/api/queues", accessPublic},
		{http.MethodPost, "/api/queues/q-1/actions/close", accessStaff},
		{http.MethodPost, "/api/queues/q-1/enqueue", accessGuest},
		{http.MethodPost, "/api/checkin/TABLE-7", accessGuest},
		{http.MethodGet, "/api/queues/q-1/status", accessPublic},
		{http.MethodPost, "/api/guests", accessPublic},
		{http.MethodPut, "/api/checkin/TABLE-7", accessStaff},
		{http.MethodDelete, "/api/checkin/TABLE-7", accessStaff},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := routeAccess(req); got != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, got)
		}
	}
}

func TestLoggingMiddlewareKeepsStatus(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}
