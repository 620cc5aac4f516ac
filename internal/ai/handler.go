package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"examforge/internal/app/apiresp"
)

type generator interface {
	GenerateQuestions(ctx context.Context, in GenerateInput) ([]GeneratedQuestion, error)
}

type Handler struct {
	svc generator
}

func NewHandler(svc generator) *Handler {
	return &Handler{svc: svc}
}

type generateRequest struct {
	NumMCQ     int    `json:"num_mcq"`
	NumFIB     int    `json:"num_fib"`
	NumOpen    int    `json:"num_open"`
	Subject    string `json:"subject"`
	Course     string `json:"course"`
	Topic      string `json:"topic"`
	SubTopic   string `json:"sub_topic"`
	Difficulty string `json:"difficulty"`
	PDFText    string `json:"pdf_text"`
	PDFURL     string `json:"pdf_url"`
}

func (h *Handler) GenerateQuestions(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.GenerateQuestions(r.Context(), GenerateInput{
		NumMCQ:     req.NumMCQ,
		NumFIB:     req.NumFIB,
		NumOpen:    req.NumOpen,
		Subject:    req.Subject,
		Course:     req.Course,
		Topic:      req.Topic,
		SubTopic:   req.SubTopic,
		Difficulty: req.Difficulty,
		PDFText:    req.PDFText,
		PDFURL:     req.PDFURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotConfigured):
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "ai is not configured")
		case errors.Is(err, ErrInvalidResponse):
			apiresp.WriteError(w, r, http.StatusBadGateway, "ai returned an unusable response")
		default:
			apiresp.WriteError(w, r, http.StatusBadGateway, "ai request failed")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}
