package students

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cbtadmin/internal/auth"
	"cbtadmin/internal/listutil"

	"github.com/go-chi/chi/v5"
)

type mockStudentService struct {
	listFn      func(ctx context.Context, f ListFilter) (*listutil.Page[Student], error)
	getFn       func(ctx context.Context, id int64) (*Student, error)
	createFn    func(ctx context.Context, actorID int64, in CreateStudentInput) (*Student, error)
	setActiveFn func(ctx context.Context, actorID, id int64, active bool) (*Student, error)
	resetFn     func(ctx context.Context, actorID, id int64, password string) error
	importFn    func(ctx context.Context, actorID int64, r io.Reader) (*ImportStudentsReport, error)
	exportFn    func(ctx context.Context, f ListFilter) ([]byte, error)
}

func (m *mockStudentService) ListStudents(ctx context.Context, f ListFilter) (*listutil.Page[Student], error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, f)
}

func (m *mockStudentService) GetStudent(ctx context.Context, id int64) (*Student, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id)
}

func (m *mockStudentService) CreateStudent(ctx context.Context, actorID int64, in CreateStudentInput) (*Student, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, actorID, in)
}

func (m *mockStudentService) SetActive(ctx context.Context, actorID, id int64, active bool) (*Student, error) {
	if m.setActiveFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.setActiveFn(ctx, actorID, id, active)
}

func (m *mockStudentService) ResetPassword(ctx context.Context, actorID, id int64, password string) error {
	if m.resetFn == nil {
		return errors.New("not implemented")
	}
	return m.resetFn(ctx, actorID, id, password)
}

func (m *mockStudentService) ImportStudentsCSV(ctx context.Context, actorID int64, r io.Reader) (*ImportStudentsReport, error) {
	if m.importFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importFn(ctx, actorID, r)
}

func (m *mockStudentService) ExportStudentsExcel(ctx context.Context, f ListFilter) ([]byte, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(ctx, f)
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withAdmin(r *http.Request) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: 1, Role: auth.RoleAdmin}))
}

func TestListParsesFilter(t *testing.T) {
	h := &Handler{svc: &mockStudentService{
		listFn: func(ctx context.Context, f ListFilter) (*listutil.Page[Student], error) {
			if f.Search != "budi" || f.ClassName != "X-1" || !f.ActiveOnly || f.Page != 2 || f.PerPage != 50 {
				t.Fatalf("unexpected filter: %+v", f)
			}
			page := listutil.NewPage([]Student{{ID: 1}}, f.PageParams, 51)
			return &page, nil
		},
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/students?q=budi&class_name=X-1&active_only=true&page=2&per_page=50", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateUsernameTaken(t *testing.T) {
	h := &Handler{svc: &mockStudentService{
		createFn: func(ctx context.Context, actorID int64, in CreateStudentInput) (*Student, error) {
			if in.Username != "budi" || in.ClassName != "X-1" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return nil, ErrUsernameTaken
		},
	}}
	body := `{"username":"budi","password":"Password1","full_name":"Budi","school_name":"SMA 1","class_name":"X-1","grade_level":"10"}`
	req := withAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/students", strings.NewReader(body)))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestDeactivatePassesFalse(t *testing.T) {
	h := &Handler{svc: &mockStudentService{
		setActiveFn: func(ctx context.Context, actorID, id int64, active bool) (*Student, error) {
			if id != 8 || active {
				t.Fatalf("unexpected call id=%d active=%v", id, active)
			}
			return &Student{ID: id}, nil
		},
	}}
	req := withParam(withAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/students/8/deactivate", nil)), "id", "8")
	w := httptest.NewRecorder()

	h.Deactivate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestResetPasswordNotFound(t *testing.T) {
	h := &Handler{svc: &mockStudentService{
		resetFn: func(ctx context.Context, actorID, id int64, password string) error {
			return ErrStudentNotFound
		},
	}}
	req := withParam(withAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/students/8/password", strings.NewReader(`{"password":"Password1"}`))), "id", "8")
	w := httptest.NewRecorder()

	h.ResetPassword(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestImportCSVRequiresFile(t *testing.T) {
	h := &Handler{svc: &mockStudentService{}}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "x")
	_ = mw.Close()

	req := withAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/students/import", &buf))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	h.ImportCSV(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestImportCSVReport(t *testing.T) {
	h := &Handler{svc: &mockStudentService{
		importFn: func(ctx context.Context, actorID int64, r io.Reader) (*ImportStudentsReport, error) {
			raw, _ := io.ReadAll(r)
			if !strings.HasPrefix(string(raw), "full_name") {
				t.Fatalf("unexpected upload: %q", raw)
			}
			return &ImportStudentsReport{TotalRows: 1, SuccessRows: 1, Errors: []ImportRowError{}}, nil
		},
	}}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "students.csv")
	_, _ = part.Write([]byte("full_name,username\n"))
	_ = mw.Close()

	req := withAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/students/import", &buf))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	h.ImportCSV(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
