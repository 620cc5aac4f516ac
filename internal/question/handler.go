package question

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"examforge/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type questionService interface {
	CreateQuestion(ctx context.Context, examID string, in QuestionInput) (*Question, error)
	BulkInsert(ctx context.Context, examID string, inputs []QuestionInput) ([]Question, error)
	GetQuestion(ctx context.Context, id string) (*Question, error)
	ListByExam(ctx context.Context, examID string) ([]Question, error)
	UpdateQuestion(ctx context.Context, id string, in QuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, id string) error
	Reorder(ctx context.Context, examID string, ids []string) ([]Question, error)
}

type Handler struct {
	svc questionService
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

type questionRequest struct {
	Type            string   `json:"type"`
	QuestionText    string   `json:"question_text"`
	InstructionText string   `json:"instruction_text"`
	Marks           int      `json:"marks"`
	Options         []string `json:"options"`
	CorrectOption   *int     `json:"correct_option"`
	CorrectText     string   `json:"correct_text"`
	ModelAnswer     string   `json:"model_answer"`
	ImageURL        string   `json:"image_url"`
}

func (req questionRequest) input() QuestionInput {
	return QuestionInput{
		Type:            req.Type,
		QuestionText:    req.QuestionText,
		InstructionText: req.InstructionText,
		Marks:           req.Marks,
		Options:         req.Options,
		CorrectOption:   req.CorrectOption,
		CorrectText:     req.CorrectText,
		ModelAnswer:     req.ModelAnswer,
		ImageURL:        req.ImageURL,
	}
}

type reorderRequest struct {
	QuestionIDs []string `json:"question_ids"`
}

type bulkInsertRequest struct {
	Questions []questionRequest `json:"questions"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.CreateQuestion(r.Context(), chi.URLParam(r, "examID"), req.input())
	if err != nil {
		writeQuestionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) BulkCreate(w http.ResponseWriter, r *http.Request) {
	var req bulkInsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Questions) == 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "questions is required")
		return
	}

	inputs := make([]QuestionInput, 0, len(req.Questions))
	for _, q := range req.Questions {
		inputs = append(inputs, q.input())
	}

	out, err := h.svc.BulkInsert(r.Context(), chi.URLParam(r, "examID"), inputs)
	if err != nil {
		writeQuestionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) ListByExam(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListByExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeQuestionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetQuestion(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeQuestionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.UpdateQuestion(r.Context(), chi.URLParam(r, "questionID"), req.input())
	if err != nil {
		writeQuestionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteQuestion(r.Context(), chi.URLParam(r, "questionID")); err != nil {
		writeQuestionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.QuestionIDs) == 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "question_ids is required")
		return
	}

	out, err := h.svc.Reorder(r.Context(), chi.URLParam(r, "examID"), req.QuestionIDs)
	if err != nil {
		writeQuestionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func writeQuestionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrOrderMismatch):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrExamNotFound), errors.Is(err, ErrQuestionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal server error")
	}
}
