package query_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cbtadmin/internal/app/apiresp"
	"cbtadmin/internal/query"
)

func TestHTTPSearcher(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		apiresp.WriteOK(w, r, http.StatusOK, query.Page[item]{
			Items: []item{{ID: 7, Stem: "What is 50% of 80?"}},
			Total: 41,
		})
	}))
	defer srv.Close()

	s := query.NewHTTPSearcher[item](srv.URL+"/", "tok-123")
	page, err := s.Search(context.Background(), query.Params{
		Search:      "percent",
		BookSources: []string{"Book A"},
		Difficulty:  "easy",
		SortBy:      "id_asc",
		Page:        2,
		PageSize:    25,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotPath != query.SearchPath {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotQuery != "search=percent&book_sources=Book+A&difficulty=easy&page=2" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	want := query.Page[item]{Items: []item{{ID: 7, Stem: "What is 50% of 80?"}}, Total: 41}
	if diff := cmp.Diff(want, page); diff != "" {
		t.Fatalf("page (-want +got):\n%s", diff)
	}
}

func TestHTTPSearcherErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "session expired")
	}))
	defer srv.Close()

	_, err := query.NewHTTPSearcher[item](srv.URL, "").Search(context.Background(), query.Params{})
	var apiErr *apiresp.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apiresp.Error, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != "unauthorized" || apiErr.Message != "session expired" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}
