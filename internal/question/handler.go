package question

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cbtadmin/internal/app/apiresp"
	"cbtadmin/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxImportBytes = 10 << 20

type Handler struct {
	svc questionService
}

type questionService interface {
	SearchQuestions(ctx context.Context, p SearchParams) (*SearchResult, error)
	CreateQuestion(ctx context.Context, in QuestionInput) (*Question, error)
	GetQuestion(ctx context.Context, id int64) (*Question, error)
	UpdateQuestion(ctx context.Context, id int64, in QuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, id int64) error
	TransitionStatus(ctx context.Context, id int64, to string) (*Question, error)
	MergeTags(ctx context.Context, from []string, into string) (int64, error)
	ListFacetValues(ctx context.Context) (*FacetValues, error)
	ExportQuestionsExcel(ctx context.Context, p SearchParams) ([]byte, error)
	StageImport(ctx context.Context, actorID int64, fileName string, r io.Reader) (*ImportBatch, error)
	ListImportBatches(ctx context.Context, status string, limit, offset int) ([]ImportBatch, error)
	GetImportBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error)
	ApproveImport(ctx context.Context, actorID int64, id uuid.UUID) (*ImportBatch, error)
	RejectImport(ctx context.Context, actorID int64, id uuid.UUID, note string) (*ImportBatch, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type questionRequest struct {
	Stem        string   `json:"stem"`
	Options     []Option `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
	BookSource  string   `json:"book_source"`
	Chapter     string   `json:"chapter"`
	Tags        []string `json:"tags"`
	Difficulty  string   `json:"difficulty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type mergeTagsRequest struct {
	From []string `json:"from"`
	Into string   `json:"into"`
}

type rejectImportRequest struct {
	Note string `json:"note"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	p := ParseSearchParams(r.URL.RawQuery)
	p.Status = strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))

	res, err := h.svc.SearchQuestions(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: res})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	in := req.input()
	in.CreatedBy = user.ID

	item, err := h.svc.CreateQuestion(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.GetQuestion(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.UpdateQuestion(r.Context(), id, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"id": id, "deleted": true}})
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.TransitionStatus(r.Context(), id, req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) MergeTags(w http.ResponseWriter, r *http.Request) {
	var req mergeTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	n, err := h.svc.MergeTags(r.Context(), req.From, req.Into)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{"into": strings.TrimSpace(req.Into), "updated": n}})
}

func (h *Handler) Facets(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListFacetValues(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: out})
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	p := ParseSearchParams(r.URL.RawQuery)
	p.Status = strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))

	content, err := h.svc.ExportQuestionsExcel(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	filename := "questions_" + time.Now().Format("20060102_150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// StageImport accepts either a multipart upload in the "file" field or a raw
// CSV request body.
func (h *Handler) StageImport(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	var src io.Reader = r.Body
	fileName := strings.TrimSpace(r.URL.Query().Get("file_name"))
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "file is required"})
			return
		}
		defer file.Close()
		src = file
		fileName = header.Filename
	}
	if fileName == "" {
		fileName = "upload.csv"
	}

	batch, err := h.svc.StageImport(r.Context(), user.ID, fileName, src)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: batch})
}

func (h *Handler) ListImports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, err := h.svc.ListImportBatches(r.Context(), q.Get("status"), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetImport(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.GetImportBatch(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) ApproveImport(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.ApproveImport(r.Context(), user.ID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) RejectImport(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	var req rejectImportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
			return
		}
	}
	item, err := h.svc.RejectImport(r.Context(), user.ID, id, req.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (req questionRequest) input() QuestionInput {
	return QuestionInput{
		Stem:        req.Stem,
		Options:     req.Options,
		Answer:      req.Answer,
		Explanation: req.Explanation,
		BookSource:  req.BookSource,
		Chapter:     req.Chapter,
		Tags:        req.Tags,
		Difficulty:  req.Difficulty,
	}
}

func questionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid question id"})
		return 0, false
	}
	return id, true
}

func batchID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid import batch id"})
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrBatchNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrBatchDecided):
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
