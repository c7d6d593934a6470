package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type mockSummaryService struct {
	summaryFn func(ctx context.Context) (*Summary, error)
}

func (m *mockSummaryService) Summary(ctx context.Context) (*Summary, error) {
	if m.summaryFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.summaryFn(ctx)
}

func TestSummaryHandler(t *testing.T) {
	want := Summary{
		QuestionsByStatus:    map[string]int{"draft": 3, "review": 1, "published": 10, "archived": 0},
		TotalQuestions:       14,
		OpenErrorReports:     2,
		PendingImportBatches: 1,
		ActiveStudents:       40,
		PublishedMockTests:   5,
	}
	h := &Handler{svc: &mockSummaryService{
		summaryFn: func(ctx context.Context) (*Summary, error) {
			s := want
			return &s, nil
		},
	}}
	w := httptest.NewRecorder()

	h.Summary(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/summary", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		OK   bool    `json:"ok"`
		Data Summary `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.OK {
		t.Fatal("expected ok envelope")
	}
	if diff := cmp.Diff(want, body.Data); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummaryHandlerError(t *testing.T) {
	h := &Handler{svc: &mockSummaryService{}}
	w := httptest.NewRecorder()

	h.Summary(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/summary", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
