package attempt

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"examforge/internal/ai"
	"examforge/internal/exam"
	"examforge/internal/grading"
	"examforge/internal/question"
)

type mockExamSource struct {
	getExamFn func(ctx context.Context, id string) (*exam.Exam, error)
}

func (m *mockExamSource) GetExam(ctx context.Context, id string) (*exam.Exam, error) {
	return m.getExamFn(ctx, id)
}

type mockQuestionSource struct {
	listFn func(ctx context.Context, examID string) ([]question.Question, error)
}

func (m *mockQuestionSource) ListByExam(ctx context.Context, examID string) ([]question.Question, error) {
	return m.listFn(ctx, examID)
}

type mockGrader struct {
	mu      sync.Mutex
	calls   int
	gradeFn func(ctx context.Context, in ai.GradeInput) (ai.GradeResult, error)
}

func (m *mockGrader) GradeOpenEnded(ctx context.Context, in ai.GradeInput) (ai.GradeResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.gradeFn(ctx, in)
}

func (m *mockGrader) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRecorder struct {
	mu       sync.Mutex
	created  []Record
	createFn func(ctx context.Context, rec Record) (*Record, error)
	countFn  func(ctx context.Context, examID string) (int, error)
}

func (m *mockRecorder) CreateAttempt(ctx context.Context, rec Record) (*Record, error) {
	m.mu.Lock()
	m.created = append(m.created, rec)
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, rec)
	}
	out := rec
	out.ID = "attempt-1"
	out.SubmittedAt = time.Now()
	return &out, nil
}

func (m *mockRecorder) CountByExam(ctx context.Context, examID string) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, examID)
	}
	return 0, nil
}

// fakeClock advances only when the test says so.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func intPtr(v int) *int { return &v }

func sampleQuestions(examID string) []question.Question {
	return []question.Question{
		{
			ID:            "q-mcq",
			ExamID:        examID,
			OrderIndex:    0,
			Type:          grading.TypeMultipleChoice,
			QuestionText:  "Pick the even number.",
			Marks:         2,
			Options:       []string{"3", "4", "7"},
			CorrectOption: intPtr(1),
		},
		{
			ID:           "q-fib",
			ExamID:       examID,
			OrderIndex:   1,
			Type:         grading.TypeFillInBlank,
			QuestionText: "The capital of France is ___.",
			Marks:        1,
			CorrectText:  "Paris",
		},
		{
			ID:           "q-open",
			ExamID:       examID,
			OrderIndex:   2,
			Type:         grading.TypeOpenEnded,
			QuestionText: "Explain photosynthesis.",
			Marks:        5,
			ModelAnswer:  "Plants convert light energy into chemical energy.",
		},
	}
}

type sessionFixture struct {
	session  *Session
	bridge   *Bridge
	grader   *mockGrader
	recorder *mockRecorder
	clock    *fakeClock
}

func newTestSession(t *testing.T, mutate func(cfg *SessionConfig, e *exam.Exam)) *sessionFixture {
	t.Helper()
	bridge, _ := openTestBridge(t, filepath.Join(t.TempDir(), "session.db"))
	return newTestSessionWithBridge(t, bridge, mutate)
}

func newTestSessionWithBridge(t *testing.T, bridge *Bridge, mutate func(cfg *SessionConfig, e *exam.Exam)) *sessionFixture {
	t.Helper()

	examID := "exam-1"
	e := &exam.Exam{ID: examID, Name: "Sample Exam"}
	grader := &mockGrader{gradeFn: func(context.Context, ai.GradeInput) (ai.GradeResult, error) {
		return ai.GradeResult{}, errors.New("no grading expected")
	}}
	recorder := &mockRecorder{}
	clock := newFakeClock()

	cfg := SessionConfig{
		ExamID: examID,
		Exams: &mockExamSource{getExamFn: func(_ context.Context, id string) (*exam.Exam, error) {
			if id != examID {
				return nil, exam.ErrExamNotFound
			}
			return e, nil
		}},
		Questions: &mockQuestionSource{listFn: func(_ context.Context, id string) ([]question.Question, error) {
			return sampleQuestions(id), nil
		}},
		Grader:           grader,
		Recorder:         recorder,
		Bridge:           bridge,
		Logger:           log.New(io.Discard, "", 0),
		Clock:            clock.Now,
		TickInterval:     time.Hour,
		AutosaveInterval: time.Hour,
	}
	if mutate != nil {
		mutate(&cfg, e)
	}

	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return &sessionFixture{session: s, bridge: bridge, grader: grader, recorder: recorder, clock: clock}
}

func TestSessionGradesChoiceAndBlankLocally(t *testing.T) {
	fx := newTestSession(t, nil)
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := s.UpdateAnswer("q-mcq", grading.ChoiceAnswer(1)); err != nil {
		t.Fatalf("answer mcq: %v", err)
	}
	if err := s.UpdateAnswer("q-fib", grading.BlanksAnswer("  PARIS. ")); err != nil {
		t.Fatalf("answer fib: %v", err)
	}

	res, err := s.EvaluateQuestion(ctx, "q-mcq")
	if err != nil {
		t.Fatalf("evaluate mcq: %v", err)
	}
	if res.Status != grading.StatusCorrect || res.MarksAwarded != 2 {
		t.Fatalf("unexpected mcq result: %+v", res)
	}

	res, err = s.EvaluateQuestion(ctx, "q-fib")
	if err != nil {
		t.Fatalf("evaluate fib: %v", err)
	}
	if res.Status != grading.StatusCorrect || res.MarksAwarded != 1 {
		t.Fatalf("unexpected fib result: %+v", res)
	}

	if fx.grader.callCount() != 0 {
		t.Fatalf("expected no ai calls, got %d", fx.grader.callCount())
	}
}

func TestSessionEvaluatedQuestionIsImmutable(t *testing.T) {
	fx := newTestSession(t, nil)
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := s.UpdateAnswer("q-mcq", grading.ChoiceAnswer(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := s.EvaluateQuestion(ctx, "q-mcq"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if err := s.UpdateAnswer("q-mcq", grading.ChoiceAnswer(0)); !errors.Is(err, ErrQuestionLocked) {
		t.Fatalf("expected ErrQuestionLocked, got %v", err)
	}
	if _, err := s.EvaluateQuestion(ctx, "q-mcq"); !errors.Is(err, ErrQuestionLocked) {
		t.Fatalf("expected ErrQuestionLocked on re-evaluate, got %v", err)
	}
}

func TestSessionEmptyAndUnknownAnswers(t *testing.T) {
	fx := newTestSession(t, nil)
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := s.EvaluateQuestion(ctx, "q-mcq"); !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
	if err := s.UpdateAnswer("missing", grading.ChoiceAnswer(0)); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
	if err := s.UpdateAnswer("q-open", grading.TextAnswer("   ")); err != nil {
		t.Fatalf("blank answer should store: %v", err)
	}
	if _, err := s.EvaluateQuestion(ctx, "q-open"); !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer for whitespace text, got %v", err)
	}
}

func TestSessionSubmitSkipsAIForBlankOpenAnswer(t *testing.T) {
	fx := newTestSession(t, nil)
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := s.UpdateAnswer("q-mcq", grading.ChoiceAnswer(1)); err != nil {
		t.Fatalf("answer mcq: %v", err)
	}
	if err := s.UpdateAnswer("q-fib", grading.BlanksAnswer("paris")); err != nil {
		t.Fatalf("answer fib: %v", err)
	}

	rec, err := s.Submit(ctx, true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.TotalMarks != 3 {
		t.Fatalf("expected total 3, got %v", rec.TotalMarks)
	}
	if rec.MaxMarks != 8 {
		t.Fatalf("expected max 8, got %d", rec.MaxMarks)
	}
	if len(rec.AIFeedback) != 0 {
		t.Fatalf("expected no ai feedback entries, got %d", len(rec.AIFeedback))
	}
	if fx.grader.callCount() != 0 {
		t.Fatalf("blank open answer must not reach the ai, got %d calls", fx.grader.callCount())
	}

	if _, ok := fx.bridge.Load(ctx); ok {
		t.Fatal("saved attempt should be cleared after submission")
	}
	if state, _ := s.State(); state != StateSubmitted {
		t.Fatalf("expected submitted state, got %s", state)
	}
}

func TestSessionSubmitPendingCheckpoint(t *testing.T) {
	fx := newTestSession(t, nil)
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := s.UpdateAnswer("q-mcq", grading.ChoiceAnswer(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}

	_, err := s.Submit(ctx, false)
	var pending *PendingError
	if !errors.As(err, &pending) {
		t.Fatalf("expected PendingError, got %v", err)
	}
	if len(pending.QuestionIDs) != 1 || pending.QuestionIDs[0] != "q-mcq" {
		t.Fatalf("unexpected pending list: %v", pending.QuestionIDs)
	}
	if !errors.Is(err, ErrPendingEvaluations) {
		t.Fatal("PendingError should unwrap to ErrPendingEvaluations")
	}

	if _, err := s.Submit(ctx, true); err != nil {
		t.Fatalf("forced submit: %v", err)
	}
}

func TestSessionSubmitDefaultsOnAIFailure(t *testing.T) {
	fx := newTestSession(t, nil)
	fx.grader.gradeFn = func(context.Context, ai.GradeInput) (ai.GradeResult, error) {
		return ai.GradeResult{}, ai.ErrInvalidResponse
	}
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := s.UpdateAnswer("q-open", grading.TextAnswer("Plants eat sunlight.")); err != nil {
		t.Fatalf("answer: %v", err)
	}

	rec, err := s.Submit(ctx, true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(rec.AIFeedback) != 1 {
		t.Fatalf("expected one feedback entry, got %d", len(rec.AIFeedback))
	}
	fb := rec.AIFeedback[0]
	if fb.Status != grading.StatusIncorrect || fb.MarksAwarded != 0 {
		t.Fatalf("expected default feedback, got %+v", fb)
	}
	if fb.HowToImprove != "Unable to grade this question automatically." {
		t.Fatalf("unexpected default message %q", fb.HowToImprove)
	}
	if rec.TotalMarks != 0 {
		t.Fatalf("expected total 0, got %v", rec.TotalMarks)
	}
}

func TestSessionSubmitReusesCachedAIResult(t *testing.T) {
	fx := newTestSession(t, nil)
	fx.grader.gradeFn = func(context.Context, ai.GradeInput) (ai.GradeResult, error) {
		return ai.GradeResult{Status: grading.StatusPartiallyCorrect, HowToImprove: "Mention chlorophyll.", MarksAwarded: 3}, nil
	}
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := s.UpdateAnswer("q-open", grading.TextAnswer("Plants turn light into sugar.")); err != nil {
		t.Fatalf("answer: %v", err)
	}
	res, err := s.EvaluateQuestion(ctx, "q-open")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Status != grading.StatusPartiallyCorrect || res.MarksAwarded != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	rec, err := s.Submit(ctx, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if fx.grader.callCount() != 1 {
		t.Fatalf("expected cached result reuse, got %d ai calls", fx.grader.callCount())
	}
	if rec.TotalMarks != 3 {
		t.Fatalf("expected total 3, got %v", rec.TotalMarks)
	}
	if len(rec.AIFeedback) != 1 || rec.AIFeedback[0].MarksAwarded != 3 {
		t.Fatalf("unexpected feedback: %+v", rec.AIFeedback)
	}
}

func TestSessionSubmitFailureKeepsAttempt(t *testing.T) {
	fx := newTestSession(t, nil)
	fx.recorder.createFn = func(context.Context, Record) (*Record, error) {
		return nil, errors.New("db down")
	}
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.UpdateAnswer("q-mcq", grading.ChoiceAnswer(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}

	if _, err := s.Submit(ctx, true); err == nil {
		t.Fatal("expected submit error")
	}
	if state, _ := s.State(); state != StateInProgress {
		t.Fatalf("attempt should survive a failed write, state %s", state)
	}

	fx.recorder.createFn = nil
	if _, err := s.Submit(ctx, true); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
}

func TestSessionSubmitFailureRevertsInFlightEvaluation(t *testing.T) {
	fx := newTestSession(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	fx.grader.gradeFn = func(context.Context, ai.GradeInput) (ai.GradeResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return ai.GradeResult{Status: grading.StatusCorrect, HowToImprove: "Good detail.", MarksAwarded: 5}, nil
	}
	fx.recorder.createFn = func(context.Context, Record) (*Record, error) {
		return nil, errors.New("db down")
	}
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.UpdateAnswer("q-open", grading.TextAnswer("Plants convert light into sugar.")); err != nil {
		t.Fatalf("answer: %v", err)
	}

	evalErr := make(chan error, 1)
	go func() {
		_, err := s.EvaluateQuestion(ctx, "q-open")
		evalErr <- err
	}()
	<-started

	// Forced submit while the evaluation is parked in the AI call, then
	// the record write fails.
	if _, err := s.Submit(ctx, true); err == nil {
		t.Fatal("expected submit error")
	}
	if state, _ := s.State(); state != StateInProgress {
		t.Fatalf("attempt should survive a failed write, state %s", state)
	}

	close(release)
	if err := <-evalErr; !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("stale evaluation should be discarded, got %v", err)
	}

	for _, q := range s.View().Questions {
		if q.ID == "q-open" && q.State != QuestionAnswered {
			t.Fatalf("interrupted question should revert to answered, got %s", q.State)
		}
	}

	// The question is evaluable again.
	res, err := s.EvaluateQuestion(ctx, "q-open")
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if res.Status != grading.StatusCorrect || res.MarksAwarded != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSessionTimerExpiryForcesSubmit(t *testing.T) {
	fx := newTestSession(t, func(cfg *SessionConfig, e *exam.Exam) {
		e.Settings.TimerEnabled = true
		e.Settings.TimerMinutes = 1
	})
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := s.UpdateAnswer("q-mcq", grading.ChoiceAnswer(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}

	for i := 0; i < 60; i++ {
		fx.clock.Advance(time.Second)
		s.Tick(ctx)
	}

	state, _ := s.State()
	if state != StateSubmitted {
		t.Fatalf("expected auto-submit at zero, state %s", state)
	}
	fx.recorder.mu.Lock()
	defer fx.recorder.mu.Unlock()
	if len(fx.recorder.created) != 1 {
		t.Fatalf("expected one record, got %d", len(fx.recorder.created))
	}
	if got := fx.recorder.created[0].TimeTaken; got != 60 {
		t.Fatalf("expected time_taken 60, got %d", got)
	}
}

func TestSessionReattemptLimit(t *testing.T) {
	fx := newTestSession(t, func(cfg *SessionConfig, e *exam.Exam) {
		e.Settings.ReattemptsAllowed = 2
	})
	fx.recorder.countFn = func(context.Context, string) (int, error) { return 2, nil }

	err := fx.session.Load(context.Background())
	if !errors.Is(err, ErrReattemptLimit) {
		t.Fatalf("expected ErrReattemptLimit, got %v", err)
	}
	if state, loadErr := fx.session.State(); state != StateFailed || loadErr == nil {
		t.Fatalf("expected failed state with load error, got %s / %v", state, loadErr)
	}
}

func TestSessionResumesSavedAttempt(t *testing.T) {
	bridge, _ := openTestBridge(t, filepath.Join(t.TempDir(), "resume.db"))
	ctx := context.Background()

	first := newTestSessionWithBridge(t, bridge, nil)
	if err := first.session.Load(ctx); err != nil {
		t.Fatalf("load first: %v", err)
	}
	if err := first.session.UpdateAnswer("q-mcq", grading.ChoiceAnswer(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := first.session.SaveForLater(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := first.session.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := newTestSessionWithBridge(t, bridge, nil)
	second.clock.Advance(90 * time.Second)
	if err := second.session.Load(ctx); err != nil {
		t.Fatalf("load second: %v", err)
	}

	v := second.session.View()
	var restored *QuestionView
	for i := range v.Questions {
		if v.Questions[i].ID == "q-mcq" {
			restored = &v.Questions[i]
		}
	}
	if restored == nil || restored.Answer == nil || restored.Answer.Option != 1 {
		t.Fatalf("expected restored answer, got %+v", restored)
	}
	if restored.State != QuestionAnswered {
		t.Fatalf("restored answer should count as answered, got %s", restored.State)
	}

	// Elapsed time spans the interruption.
	rec, err := second.session.Submit(ctx, true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.TimeTaken != 90 {
		t.Fatalf("expected time_taken 90, got %d", rec.TimeTaken)
	}
}

func TestSessionResumeIgnoresOtherExamSnapshot(t *testing.T) {
	bridge, _ := openTestBridge(t, filepath.Join(t.TempDir(), "other.db"))
	ctx := context.Background()
	if err := bridge.Save(ctx, Snapshot{
		ExamID:    "some-other-exam",
		Answers:   map[string]grading.Answer{"q-mcq": grading.ChoiceAnswer(0)},
		StartTime: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	fx := newTestSessionWithBridge(t, bridge, nil)
	if err := fx.session.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	v := fx.session.View()
	for _, q := range v.Questions {
		if q.Answer != nil {
			t.Fatalf("expected fresh attempt, found answer on %s", q.ID)
		}
	}
}

func TestSessionLoadFailureIsTerminal(t *testing.T) {
	fx := newTestSession(t, func(cfg *SessionConfig, e *exam.Exam) {
		cfg.Exams = &mockExamSource{getExamFn: func(context.Context, string) (*exam.Exam, error) {
			return nil, exam.ErrExamNotFound
		}}
	})

	err := fx.session.Load(context.Background())
	if !errors.Is(err, exam.ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
	if state, _ := fx.session.State(); state != StateFailed {
		t.Fatalf("expected failed state, got %s", state)
	}
	if err := fx.session.UpdateAnswer("q-mcq", grading.ChoiceAnswer(0)); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestSessionSubmitIsIdempotent(t *testing.T) {
	fx := newTestSession(t, nil)
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	first, err := s.Submit(ctx, true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := s.Submit(ctx, true)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same record, got %q and %q", first.ID, second.ID)
	}
	fx.recorder.mu.Lock()
	defer fx.recorder.mu.Unlock()
	if len(fx.recorder.created) != 1 {
		t.Fatalf("expected one create call, got %d", len(fx.recorder.created))
	}
}

func TestSessionViewHidesAnswerKeyUntilEvaluated(t *testing.T) {
	fx := newTestSession(t, nil)
	s := fx.session
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	v := s.View()
	for _, q := range v.Questions {
		if q.Result != nil {
			t.Fatalf("question %s should have no result before evaluation", q.ID)
		}
	}

	if err := s.UpdateAnswer("q-mcq", grading.ChoiceAnswer(0)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := s.EvaluateQuestion(ctx, "q-mcq"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	v = s.View()
	for _, q := range v.Questions {
		if q.ID != "q-mcq" {
			continue
		}
		if q.Result == nil || q.Result.CorrectOption == nil || *q.Result.CorrectOption != 1 {
			t.Fatalf("evaluated result should reveal the correct option, got %+v", q.Result)
		}
		if q.Result.Status != grading.StatusIncorrect {
			t.Fatalf("expected incorrect, got %s", q.Result.Status)
		}
	}
}
