package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizedPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/questions/123/status", "/api/v1/questions/{id}/status"},
		{"/api/v1/imports/2f1c7a4e-9b0d-4c55-8f7e-0c3e7b2a9d11/approve", "/api/v1/imports/{uuid}/approve"},
		{"", "/"},
		{"/healthz", "/healthz"},
	}
	for _, tc := range tests {
		if got := normalizedPath(tc.in); got != tc.want {
			t.Fatalf("normalizedPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractQuestionID(t *testing.T) {
	if id := extractQuestionID("/api/v1/questions/456/status"); id != 456 {
		t.Fatalf("expected 456, got %d", id)
	}
	if id := extractQuestionID("/api/v1/questions/facets"); id != 0 {
		t.Fatalf("expected 0 for facets path, got %d", id)
	}
	if id := extractQuestionID("/api/v1/mock-tests/1"); id != 0 {
		t.Fatalf("expected 0 for non-question path, got %d", id)
	}
}

func TestSearchFilters(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"sort_by=id_desc&page=3&pageSize=50", nil},
		{"search=ratio&tags=algebra,geometry&difficulty=hard", []string{"search", "tags", "difficulty"}},
		{"difficulty=all&chapters=Cells", []string{"chapters"}},
		{"search=%20%20", nil},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, searchFilters(tc.raw)); diff != "" {
			t.Errorf("searchFilters(%q) mismatch (-want +got):\n%s", tc.raw, diff)
		}
	}
}

func TestMetricsHandlerCountsRequests(t *testing.T) {
	c := NewCollector(nil)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/questions/9", nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/questions?tags=algebra&page=2", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/questions", nil))

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	for _, want := range []string{
		`cbtadmin_http_request_duration_ms_count{method="GET",path="/api/v1/questions/{id}",status="204"} 2`,
		`cbtadmin_http_request_duration_ms_bucket{method="GET",path="/api/v1/questions/{id}",status="204",le="+Inf"} 2`,
		"cbtadmin_question_searches_total 2",
		"cbtadmin_question_searches_filtered_total 1",
		`cbtadmin_question_search_filter_total{filter="tags"} 1`,
		`cbtadmin_question_search_filter_total{filter="search"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q:\n%s", want, body)
		}
	}
}
