package mocktest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"cbtadmin/internal/app/apiresp"
	"cbtadmin/internal/auth"
	"cbtadmin/internal/listutil"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc mockTestService
}

type mockTestService interface {
	Create(ctx context.Context, actorID int64, in CreateInput) (*MockTest, error)
	List(ctx context.Context, f ListFilter) (*listutil.Page[MockTest], error)
	Get(ctx context.Context, id int64) (*Detail, error)
	SetQuestions(ctx context.Context, actorID, id int64, questionIDs []int64) (*Detail, error)
	Publish(ctx context.Context, actorID, id int64) (*MockTest, error)
	Archive(ctx context.Context, actorID, id int64) (*MockTest, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createMockTestRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes"`
}

type setQuestionsRequest struct {
	QuestionIDs []int64 `json:"question_ids"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	var req createMockTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	mt, err := h.svc.Create(r.Context(), user.ID, CreateInput(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: mt})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.List(r.Context(), ListFilter{ListParams: listutil.ParseListParams(q), Status: q.Get("status")})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: page})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := mockTestID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: detail})
}

func (h *Handler) SetQuestions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := mockTestID(w, r)
	if !ok {
		return
	}
	var req setQuestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	detail, err := h.svc.SetQuestions(r.Context(), user.ID, id, req.QuestionIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: detail})
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Publish)
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Archive)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actorID, id int64) (*MockTest, error)) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := mockTestID(w, r)
	if !ok {
		return
	}
	mt, err := fn(r.Context(), user.ID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: mt})
}

func mockTestID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid mock test id"})
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrQuestionNotUsable):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrMockTestNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: "mock test not found"})
	case errors.Is(err, ErrNotDraft), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNoQuestions):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
