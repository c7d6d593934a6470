package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type mockSessionService struct {
	authenticateFn func(ctx context.Context, identifier, password string) (*User, error)
	createFn       func(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error)
	getUserFn      func(ctx context.Context, token string) (*User, error)
	revokeFn       func(ctx context.Context, token string) error
}

func (m *mockSessionService) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	if m.authenticateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.authenticateFn(ctx, identifier, password)
}

func (m *mockSessionService) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	if m.createFn == nil {
		return "", time.Time{}, errors.New("not implemented")
	}
	return m.createFn(ctx, userID, ipAddress, userAgent)
}

func (m *mockSessionService) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if m.getUserFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getUserFn(ctx, token)
}

func (m *mockSessionService) RevokeSession(ctx context.Context, token string) error {
	if m.revokeFn == nil {
		return errors.New("not implemented")
	}
	return m.revokeFn(ctx, token)
}

func TestLoginPasswordSetsCookieAndReturnsToken(t *testing.T) {
	h := &Handler{svc: &mockSessionService{
		authenticateFn: func(ctx context.Context, identifier, password string) (*User, error) {
			if identifier != "admin" || password != "secret123" {
				t.Fatalf("unexpected credentials %q %q", identifier, password)
			}
			return &User{ID: 1, Username: "admin", Role: RoleAdmin}, nil
		},
		createFn: func(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
			if ipAddress != "10.0.0.9" {
				t.Fatalf("expected forwarded ip, got %q", ipAddress)
			}
			return "tok-1", time.Now().Add(time.Hour), nil
		},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"identifier":"admin","password":"secret123"}`))
	req.Header.Set("X-Forwarded-For", "10.0.0.9, 172.16.0.1")
	w := httptest.NewRecorder()

	middleware.RealIP(http.HandlerFunc(h.LoginPassword)).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookieName || cookies[0].Value != "tok-1" || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}
	var body struct {
		Data loginResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Token != "tok-1" || body.Data.User.Username != "admin" {
		t.Fatalf("unexpected body: %+v", body.Data)
	}
}

func TestLoginPasswordErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad credentials", ErrInvalidCredentials, http.StatusUnauthorized},
		{"locked", ErrRateLimited, http.StatusTooManyRequests},
		{"student", ErrForbidden, http.StatusForbidden},
		{"db down", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &Handler{svc: &mockSessionService{
				authenticateFn: func(ctx context.Context, identifier, password string) (*User, error) {
					return nil, tc.err
				},
			}}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"identifier":"x","password":"y"}`))
			w := httptest.NewRecorder()

			h.LoginPassword(w, req)

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	h := &Handler{svc: &mockSessionService{
		getUserFn: func(ctx context.Context, token string) (*User, error) {
			if token != "tok-2" {
				return nil, ErrUnauthorized
			}
			return &User{ID: 2, Role: RoleEditor}, nil
		},
	}}

	var seen *User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CurrentUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions", nil)
	req.Header.Set("Authorization", "Bearer tok-2")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale"})
	w := httptest.NewRecorder()

	h.RequireAuth(next).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if seen == nil || seen.ID != 2 {
		t.Fatalf("expected user in context, got %+v", seen)
	}
}

func TestRequireAuthRejectsMissingSession(t *testing.T) {
	h := &Handler{svc: &mockSessionService{
		getUserFn: func(ctx context.Context, token string) (*User, error) {
			return nil, ErrUnauthorized
		},
	}}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})
	w := httptest.NewRecorder()

	h.RequireAuth(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	h := &Handler{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := h.RequireRoles(RoleAdmin)

	tests := []struct {
		name string
		user *User
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"editor", &User{ID: 3, Role: RoleEditor}, http.StatusForbidden},
		{"admin", &User{ID: 1, Role: RoleAdmin}, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.user != nil {
				req = req.WithContext(ContextWithUser(req.Context(), tc.user))
			}
			w := httptest.NewRecorder()
			mw(next).ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	var revoked string
	h := &Handler{svc: &mockSessionService{
		revokeFn: func(ctx context.Context, token string) error {
			revoked = token
			return nil
		},
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok-3"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if revoked != "tok-3" {
		t.Fatalf("expected tok-3 revoked, got %q", revoked)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got %+v", cookies)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote, want string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"10.0.0.9", "10.0.0.9"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remote, got, tc.want)
		}
	}
}
