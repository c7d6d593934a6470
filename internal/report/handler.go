package report

import (
	"context"
	"log"
	"net/http"

	"cbtadmin/internal/app/apiresp"
)

type summaryService interface {
	Summary(ctx context.Context) (*Summary, error)
}

type Handler struct {
	svc summaryService
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context())
	if err != nil {
		log.Printf("report summary: %v", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sum)
}
