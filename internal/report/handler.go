package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"examforge/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type reportService interface {
	SummaryByExam(ctx context.Context, examID string) (*ExamSummary, error)
	ExportAttemptsExcel(ctx context.Context, examID string) ([]byte, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.SummaryByExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeReportError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportAttemptsExcel(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeReportError(w, r, err)
		return
	}

	filename := fmt.Sprintf("exam-attempts-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeReportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrExamNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "exam not found")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
