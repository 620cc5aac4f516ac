package exam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type mockExamService struct {
	createExamFn func(ctx context.Context, in CreateExamInput) (*Exam, error)
	getExamFn    func(ctx context.Context, id string) (*Exam, error)
	listExamsFn  func(ctx context.Context, publishedOnly bool) ([]Exam, error)
	updateExamFn func(ctx context.Context, in UpdateExamInput) (*Exam, error)
	deleteExamFn func(ctx context.Context, id string) error
}

func (m *mockExamService) CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error) {
	if m.createExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createExamFn(ctx, in)
}

func (m *mockExamService) GetExam(ctx context.Context, id string) (*Exam, error) {
	if m.getExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getExamFn(ctx, id)
}

func (m *mockExamService) ListExams(ctx context.Context, publishedOnly bool) ([]Exam, error) {
	if m.listExamsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listExamsFn(ctx, publishedOnly)
}

func (m *mockExamService) UpdateExam(ctx context.Context, in UpdateExamInput) (*Exam, error) {
	if m.updateExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateExamFn(ctx, in)
}

func (m *mockExamService) DeleteExam(ctx context.Context, id string) error {
	if m.deleteExamFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteExamFn(ctx, id)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func sampleExam() *Exam {
	return &Exam{
		ID:         "3b1f7c9e-1111-4222-8333-444455556666",
		Name:       "Algebra Basics",
		Subject:    "Mathematics",
		Difficulty: "Foundation",
		Settings:   Settings{TimerEnabled: true, TimerMinutes: 30, ReattemptsAllowed: 2, Published: true},
		CreatedAt:  time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestExamHandlerCreate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotInput CreateExamInput
		h := NewHandler(&mockExamService{
			createExamFn: func(_ context.Context, in CreateExamInput) (*Exam, error) {
				gotInput = in
				return sampleExam(), nil
			},
		})

		payload := `{"name":"Algebra Basics","subject":"Mathematics","difficulty":"Foundation","settings":{"timer_enabled":true,"timer_minutes":30,"reattempts_allowed":2,"published":true}}`
		req := httptest.NewRequest(http.MethodPost, "/api/exams", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		h.Create(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
		if gotInput.Name != "Algebra Basics" || !gotInput.Settings.TimerEnabled || gotInput.Settings.TimerMinutes != 30 {
			t.Fatalf("unexpected service input: %+v", gotInput)
		}
		body := decodeBody(t, rec)
		if body["ok"] != true {
			t.Fatalf("expected ok envelope, got %v", body)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		h := NewHandler(&mockExamService{})
		req := httptest.NewRequest(http.MethodPost, "/api/exams", bytes.NewBufferString(`{bad`))
		rec := httptest.NewRecorder()
		h.Create(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("invalid input maps to 400", func(t *testing.T) {
		h := NewHandler(&mockExamService{
			createExamFn: func(context.Context, CreateExamInput) (*Exam, error) {
				return nil, ErrInvalidInput
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/api/exams", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()
		h.Create(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestExamHandlerGet(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		h := NewHandler(&mockExamService{
			getExamFn: func(_ context.Context, id string) (*Exam, error) {
				if id != "exam-1" {
					t.Fatalf("unexpected id %q", id)
				}
				return sampleExam(), nil
			},
		})
		req := withChiParam(httptest.NewRequest(http.MethodGet, "/api/exams/exam-1", nil), "examID", "exam-1")
		rec := httptest.NewRecorder()
		h.Get(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		h := NewHandler(&mockExamService{
			getExamFn: func(context.Context, string) (*Exam, error) {
				return nil, ErrExamNotFound
			},
		})
		req := withChiParam(httptest.NewRequest(http.MethodGet, "/api/exams/missing", nil), "examID", "missing")
		rec := httptest.NewRecorder()
		h.Get(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestExamHandlerList(t *testing.T) {
	t.Run("published filter", func(t *testing.T) {
		var gotPublishedOnly bool
		h := NewHandler(&mockExamService{
			listExamsFn: func(_ context.Context, publishedOnly bool) ([]Exam, error) {
				gotPublishedOnly = publishedOnly
				return []Exam{*sampleExam()}, nil
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/api/exams?published=true", nil)
		rec := httptest.NewRecorder()
		h.List(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !gotPublishedOnly {
			t.Fatal("expected publishedOnly passed through")
		}
	})

	t.Run("bad published value", func(t *testing.T) {
		h := NewHandler(&mockExamService{})
		req := httptest.NewRequest(http.MethodGet, "/api/exams?published=maybe", nil)
		rec := httptest.NewRecorder()
		h.List(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestExamHandlerUpdate(t *testing.T) {
	h := NewHandler(&mockExamService{
		updateExamFn: func(_ context.Context, in UpdateExamInput) (*Exam, error) {
			if in.ID != "exam-1" {
				t.Fatalf("unexpected id %q", in.ID)
			}
			return sampleExam(), nil
		},
	})
	payload := `{"name":"Algebra Basics","subject":"Mathematics"}`
	req := withChiParam(httptest.NewRequest(http.MethodPut, "/api/exams/exam-1", bytes.NewBufferString(payload)), "examID", "exam-1")
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestExamHandlerDelete(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := NewHandler(&mockExamService{
			deleteExamFn: func(_ context.Context, id string) error {
				if id != "exam-1" {
					t.Fatalf("unexpected id %q", id)
				}
				return nil
			},
		})
		req := withChiParam(httptest.NewRequest(http.MethodDelete, "/api/exams/exam-1", nil), "examID", "exam-1")
		rec := httptest.NewRecorder()
		h.Delete(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		h := NewHandler(&mockExamService{
			deleteExamFn: func(context.Context, string) error { return ErrExamNotFound },
		})
		req := withChiParam(httptest.NewRequest(http.MethodDelete, "/api/exams/missing", nil), "examID", "missing")
		rec := httptest.NewRecorder()
		h.Delete(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}
