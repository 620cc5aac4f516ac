package attempt

import (
	"context"
	"errors"
	"net/http"

	"examforge/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

// RecordSource reads finalized attempts back out of storage.
type RecordSource interface {
	GetAttempt(ctx context.Context, id string) (*Record, error)
	ListByExam(ctx context.Context, examID string) ([]Record, error)
}

// RecordHandler serves the results surface: a single attempt by id and
// an exam's attempt history, newest first.
type RecordHandler struct {
	src RecordSource
}

func NewRecordHandler(src RecordSource) *RecordHandler {
	return &RecordHandler{src: src}
}

func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	out, err := h.src.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeRecordError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *RecordHandler) ListByExam(w http.ResponseWriter, r *http.Request) {
	items, err := h.src.ListByExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeRecordError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func writeRecordError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidRecord):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRecordNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal server error")
	}
}
