package attempt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"examforge/internal/exam"
	"examforge/internal/question"

	"github.com/go-chi/chi/v5"
)

func newTestHandler(t *testing.T, mutate func(deps *HandlerDeps, e *exam.Exam)) (*Handler, http.Handler) {
	t.Helper()
	bridge, _ := openTestBridge(t, filepath.Join(t.TempDir(), "handler.db"))

	e := &exam.Exam{ID: "exam-1", Name: "Sample Exam"}
	deps := HandlerDeps{
		Exams: &mockExamSource{getExamFn: func(_ context.Context, id string) (*exam.Exam, error) {
			if id != e.ID {
				return nil, exam.ErrExamNotFound
			}
			return e, nil
		}},
		Questions: &mockQuestionSource{listFn: func(_ context.Context, id string) ([]question.Question, error) {
			return sampleQuestions(id), nil
		}},
		Recorder: &mockRecorder{},
		Bridge:   bridge,
		Logger:   log.New(io.Discard, "", 0),
	}
	if mutate != nil {
		mutate(&deps, e)
	}

	h := NewHandler(deps, NewRegistry())
	r := chi.NewRouter()
	r.Post("/api/sessions", h.Start)
	r.Get("/api/sessions/{sessionID}", h.Get)
	r.Delete("/api/sessions/{sessionID}", h.Close)
	r.Put("/api/sessions/{sessionID}/answers/{questionID}", h.SaveAnswer)
	r.Post("/api/sessions/{sessionID}/questions/{questionID}/evaluate", h.Evaluate)
	r.Post("/api/sessions/{sessionID}/save", h.Save)
	r.Post("/api/sessions/{sessionID}/submit", h.Submit)
	return h, r
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	return rec, env
}

func startSession(t *testing.T, router http.Handler) string {
	t.Helper()
	rec, env := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]string{"exam_id": "exam-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: status %d body %s", rec.Code, rec.Body.String())
	}
	var view View
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.State != StateInProgress {
		t.Fatalf("expected in_progress, got %s", view.State)
	}
	if len(view.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(view.Questions))
	}
	return view.ID
}

func TestHandlerStart(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		_, router := newTestHandler(t, nil)
		startSession(t, router)
	})

	t.Run("unknown exam", func(t *testing.T) {
		_, router := newTestHandler(t, nil)
		rec, _ := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]string{"exam_id": "nope"})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("missing exam id", func(t *testing.T) {
		_, router := newTestHandler(t, nil)
		rec, _ := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]string{})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("reattempt limit", func(t *testing.T) {
		_, router := newTestHandler(t, func(deps *HandlerDeps, e *exam.Exam) {
			e.Settings.ReattemptsAllowed = 1
			deps.Recorder = &mockRecorder{countFn: func(context.Context, string) (int, error) { return 1, nil }}
		})
		rec, env := doJSON(t, router, http.MethodPost, "/api/sessions", map[string]string{"exam_id": "exam-1"})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if env.Error == nil || env.Error.Code != "conflict" {
			t.Fatalf("unexpected error payload: %+v", env.Error)
		}
	})
}

func TestHandlerGet(t *testing.T) {
	_, router := newTestHandler(t, nil)
	id := startSession(t, router)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/api/sessions/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlerAnswerAndEvaluate(t *testing.T) {
	_, router := newTestHandler(t, nil)
	id := startSession(t, router)

	rec, _ := doJSON(t, router, http.MethodPut, "/api/sessions/"+id+"/answers/q-mcq", map[string]any{"kind": "choice", "option": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("save answer: status %d", rec.Code)
	}

	rec, env := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/questions/q-mcq/evaluate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate: status %d body %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Status       string  `json:"status"`
		MarksAwarded float64 `json:"marks_awarded"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Status != "Correct" || result.MarksAwarded != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Evaluated answers are locked.
	rec, _ = doJSON(t, router, http.MethodPut, "/api/sessions/"+id+"/answers/q-mcq", map[string]any{"kind": "choice", "option": 0})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on locked question, got %d", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodPut, "/api/sessions/"+id+"/answers/q-fib", map[string]any{"kind": "wat"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on unknown kind, got %d", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/questions/q-fib/evaluate", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on empty answer, got %d", rec.Code)
	}
}

func TestHandlerSubmit(t *testing.T) {
	_, router := newTestHandler(t, nil)
	id := startSession(t, router)

	rec, _ := doJSON(t, router, http.MethodPut, "/api/sessions/"+id+"/answers/q-mcq", map[string]any{"kind": "choice", "option": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("save answer: status %d", rec.Code)
	}

	rec, env := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/submit", map[string]bool{"force": false})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 pending checkpoint, got %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "conflict" {
		t.Fatalf("unexpected error payload: %+v", env.Error)
	}

	rec, env = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/submit", map[string]bool{"force": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status %d body %s", rec.Code, rec.Body.String())
	}
	var record Record
	if err := json.Unmarshal(env.Data, &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.TotalMarks != 2 || record.MaxMarks != 8 {
		t.Fatalf("unexpected record: total %v max %d", record.TotalMarks, record.MaxMarks)
	}

	// The session leaves the registry on submit; the record is what
	// remains.
	rec, _ = doJSON(t, router, http.MethodGet, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("submitted session should be evicted, got %d", rec.Code)
	}
}

func TestHandlerSaveAndClose(t *testing.T) {
	_, router := newTestHandler(t, nil)
	id := startSession(t, router)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/save", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: status %d", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodDelete, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close: status %d", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("closed session should be gone, got %d", rec.Code)
	}
}

func TestHandlerSessionTimerVisible(t *testing.T) {
	_, router := newTestHandler(t, func(_ *HandlerDeps, e *exam.Exam) {
		e.Settings.TimerEnabled = true
		e.Settings.TimerMinutes = 30
	})
	id := startSession(t, router)

	_, env := doJSON(t, router, http.MethodGet, "/api/sessions/"+id, nil)
	var view View
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.RemainingSeconds == nil {
		t.Fatal("expected remaining_seconds with timer enabled")
	}
	if *view.RemainingSeconds <= 0 || *view.RemainingSeconds > 30*60 {
		t.Fatalf("unexpected remaining %d", *view.RemainingSeconds)
	}
}
