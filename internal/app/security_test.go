package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPRateLimiterAllow(t *testing.T) {
	l := NewIPRateLimiter(2, 0)
	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow("k") {
		t.Fatalf("third request should be blocked")
	}
	if !l.Allow("other") {
		t.Fatalf("other keys have their own bucket")
	}
}

func TestIPRateLimiterWindowResetAndSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("first request per key should pass")
	}
	if l.Allow("a") {
		t.Fatal("second request in window should be blocked")
	}

	now = now.Add(2 * time.Minute)
	if !l.Allow("a") {
		t.Fatal("request after window should pass")
	}
	if got := l.size(); got != 1 {
		t.Fatalf("expected expired bucket to be swept, store size %d", got)
	}
}

func TestRateLimitMiddlewareReturnsEnvelope(t *testing.T) {
	l := NewIPRateLimiter(1, time.Minute)
	h := RateLimitMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login-password", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, w.Code)
		}
		if want == http.StatusTooManyRequests && w.Header().Get("Retry-After") != "60" {
			t.Fatalf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	for d, want := range map[time.Duration]int{0: 1, 400 * time.Millisecond: 1, time.Second: 1, 1500 * time.Millisecond: 2, time.Minute: 60} {
		if got := retryAfterSeconds(d); got != want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", d, got, want)
		}
	}
}

func TestCSRFTokenRoundTrip(t *testing.T) {
	w := httptest.NewRecorder()
	CSRFTokenHandler(false)(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf", nil))
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != csrfCookieName || cookies[0].Value == "" {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}

	next := CSRFMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(cookies[0])
	req.Header.Set(csrfHeaderName, cookies[0].Value)
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected token from handler to pass, got %d", rec.Code)
	}
}

func TestCSRFMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		method string
		cookie string
		header string
		bearer bool
		want   int
	}{
		{name: "matching token", method: http.MethodPost, cookie: "abc", header: "abc", want: http.StatusOK},
		{name: "missing token", method: http.MethodPost, want: http.StatusForbidden},
		{name: "mismatch", method: http.MethodPost, cookie: "abc", header: "xyz", want: http.StatusForbidden},
		{name: "safe method", method: http.MethodGet, want: http.StatusOK},
		{name: "bearer client", method: http.MethodPost, bearer: true, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := CSRFMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(tc.method, "/api/v1/questions/1/status", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tc.cookie})
			}
			if tc.header != "" {
				req.Header.Set(csrfHeaderName, tc.header)
			}
			if tc.bearer {
				req.Header.Set("Authorization", "Bearer token")
			}
			w := httptest.NewRecorder()
			next.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}
