package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"examforge/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type examService interface {
	CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error)
	GetExam(ctx context.Context, id string) (*Exam, error)
	ListExams(ctx context.Context, publishedOnly bool) ([]Exam, error)
	UpdateExam(ctx context.Context, in UpdateExamInput) (*Exam, error)
	DeleteExam(ctx context.Context, id string) error
}

type Handler struct {
	svc examService
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

type examRequest struct {
	Name          string   `json:"name"`
	Qualification string   `json:"qualification"`
	Board         string   `json:"board"`
	Subject       string   `json:"subject"`
	Course        string   `json:"course"`
	Topic         string   `json:"topic"`
	SubTopic      string   `json:"sub_topic"`
	Difficulty    string   `json:"difficulty"`
	PDFURL        string   `json:"pdf_url"`
	Settings      Settings `json:"settings"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req examRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.CreateExam(r.Context(), CreateExamInput{
		Name:          req.Name,
		Qualification: req.Qualification,
		Board:         req.Board,
		Subject:       req.Subject,
		Course:        req.Course,
		Topic:         req.Topic,
		SubTopic:      req.SubTopic,
		Difficulty:    req.Difficulty,
		PDFURL:        req.PDFURL,
		Settings:      req.Settings,
	})
	if err != nil {
		writeExamError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeExamError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	publishedOnly := false
	if raw := r.URL.Query().Get("published"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "published must be a boolean")
			return
		}
		publishedOnly = v
	}

	items, err := h.svc.ListExams(r.Context(), publishedOnly)
	if err != nil {
		writeExamError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req examRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.UpdateExam(r.Context(), UpdateExamInput{
		ID:            chi.URLParam(r, "examID"),
		Name:          req.Name,
		Qualification: req.Qualification,
		Board:         req.Board,
		Subject:       req.Subject,
		Course:        req.Course,
		Topic:         req.Topic,
		SubTopic:      req.SubTopic,
		Difficulty:    req.Difficulty,
		PDFURL:        req.PDFURL,
		Settings:      req.Settings,
	})
	if err != nil {
		writeExamError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteExam(r.Context(), chi.URLParam(r, "examID")); err != nil {
		writeExamError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"deleted": true})
}

func writeExamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrExamNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal server error")
	}
}
