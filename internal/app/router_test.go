package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouterPublicAndGuardedRoutes(t *testing.T) {
	router := NewRouter(Config{AuthRateLimitPerMin: 60}, nil, Services{})

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{name: "healthz", method: http.MethodGet, target: "/healthz", wantStatus: http.StatusOK},
		{name: "search requires session", method: http.MethodGet, target: "/api/v1/questions?search=x", wantStatus: http.StatusUnauthorized},
		{name: "students require session", method: http.MethodGet, target: "/api/v1/students", wantStatus: http.StatusUnauthorized},
		{name: "me requires session", method: http.MethodGet, target: "/api/v1/auth/me", wantStatus: http.StatusUnauthorized},
		{name: "unknown route", method: http.MethodGet, target: "/nope", wantStatus: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d body=%s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestRouterUnauthorizedEnvelope(t *testing.T) {
	router := NewRouter(Config{}, nil, Services{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body struct {
		OK    bool `json:"ok"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		Meta struct {
			RequestID string `json:"request_id"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.OK || body.Error.Code != "unauthorized" || body.Meta.RequestID == "" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
}
