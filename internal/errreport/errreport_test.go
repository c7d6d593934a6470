package errreport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cbtadmin/internal/auth"
	"cbtadmin/internal/listutil"

	"github.com/go-chi/chi/v5"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusOpen, StatusInvestigating, true},
		{StatusOpen, StatusDismissed, true},
		{StatusOpen, StatusResolved, false},
		{StatusInvestigating, StatusResolved, true},
		{StatusInvestigating, StatusDismissed, true},
		{StatusInvestigating, StatusOpen, false},
		{StatusResolved, StatusOpen, true},
		{StatusDismissed, StatusOpen, true},
		{StatusResolved, StatusDismissed, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTransitionValidatesBeforeQuery(t *testing.T) {
	s := NewService(nil)
	tests := []struct {
		name string
		in   TransitionInput
	}{
		{"unknown status", TransitionInput{ID: 1, Status: "closed"}},
		{"missing id", TransitionInput{Status: StatusOpen}},
		{"resolve without note", TransitionInput{ID: 1, Status: StatusResolved, Note: "  "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Transition(context.Background(), tc.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateValidatesBeforeQuery(t *testing.T) {
	s := NewService(nil)
	if _, err := s.Create(context.Background(), CreateInput{QuestionID: 1, Message: " "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	long := strings.Repeat("x", maxMessageLength+1)
	if _, err := s.Create(context.Background(), CreateInput{QuestionID: 1, Message: long}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for long message, got %v", err)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	s := NewService(nil)
	if _, err := s.List(context.Background(), ListFilter{Status: "bogus"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

type mockReportService struct {
	createFn     func(ctx context.Context, in CreateInput) (*Report, error)
	getFn        func(ctx context.Context, id int64) (*Report, error)
	listFn       func(ctx context.Context, f ListFilter) (*listutil.Page[Report], error)
	transitionFn func(ctx context.Context, in TransitionInput) (*Report, error)
}

func (m *mockReportService) Create(ctx context.Context, in CreateInput) (*Report, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, in)
}

func (m *mockReportService) Get(ctx context.Context, id int64) (*Report, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id)
}

func (m *mockReportService) List(ctx context.Context, f ListFilter) (*listutil.Page[Report], error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, f)
}

func (m *mockReportService) Transition(ctx context.Context, in TransitionInput) (*Report, error) {
	if m.transitionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.transitionFn(ctx, in)
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withEditor(r *http.Request) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: 4, Role: auth.RoleEditor}))
}

func TestCreateHandlerUsesCurrentUser(t *testing.T) {
	h := &Handler{svc: &mockReportService{
		createFn: func(ctx context.Context, in CreateInput) (*Report, error) {
			if in.ReporterID != 4 || in.QuestionID != 12 {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &Report{ID: 1, QuestionID: in.QuestionID, Status: StatusOpen}, nil
		},
	}}
	req := withEditor(httptest.NewRequest(http.MethodPost, "/api/v1/error-reports", strings.NewReader(`{"question_id":12,"message":"key is C"}`)))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
}

func TestCreateHandlerQuestionMissing(t *testing.T) {
	h := &Handler{svc: &mockReportService{
		createFn: func(ctx context.Context, in CreateInput) (*Report, error) {
			return nil, ErrQuestionNotFound
		},
	}}
	req := withEditor(httptest.NewRequest(http.MethodPost, "/api/v1/error-reports", strings.NewReader(`{"question_id":99,"message":"x"}`)))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListHandlerParsesFilter(t *testing.T) {
	h := &Handler{svc: &mockReportService{
		listFn: func(ctx context.Context, f ListFilter) (*listutil.Page[Report], error) {
			if f.Status != "open" || f.QuestionID != 12 || f.Page != 2 {
				t.Fatalf("unexpected filter: %+v", f)
			}
			page := listutil.NewPage[Report](nil, f.PageParams, 0)
			return &page, nil
		},
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/error-reports?status=open&question_id=12&page=2", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestListHandlerBadQuestionID(t *testing.T) {
	h := &Handler{svc: &mockReportService{}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/error-reports?question_id=abc", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTransitionHandlerConflict(t *testing.T) {
	h := &Handler{svc: &mockReportService{
		transitionFn: func(ctx context.Context, in TransitionInput) (*Report, error) {
			if in.ID != 3 || in.ActorID != 4 || in.Status != "resolved" || in.Note != "fixed key" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return nil, ErrInvalidTransition
		},
	}}
	req := withParam(withEditor(httptest.NewRequest(http.MethodPost, "/api/v1/error-reports/3/status",
		strings.NewReader(`{"status":"resolved","note":"fixed key"}`))), "id", "3")
	w := httptest.NewRecorder()

	h.Transition(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}
