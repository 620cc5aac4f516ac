package attempt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"examforge/internal/ai"
	"examforge/internal/exam"
	"examforge/internal/grading"
	"examforge/internal/question"

	"github.com/google/uuid"
)

type State string

const (
	StateLoading    State = "loading"
	StateInProgress State = "in_progress"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateFailed     State = "failed"
)

type QuestionState string

const (
	QuestionUnanswered QuestionState = "unanswered"
	QuestionAnswered   QuestionState = "answered"
	QuestionEvaluating QuestionState = "evaluating"
	QuestionEvaluated  QuestionState = "evaluated"
)

var (
	ErrNotInProgress      = errors.New("attempt is not in progress")
	ErrUnknownQuestion    = errors.New("question not part of this attempt")
	ErrQuestionLocked     = errors.New("question already evaluated")
	ErrEvaluationInFlight = errors.New("evaluation already in progress")
	ErrEmptyAnswer        = errors.New("answer is empty")
	ErrAnswerShape        = errors.New("answer does not match the question type")
	ErrEvaluationFailed   = errors.New("evaluation failed")
	ErrPendingEvaluations = errors.New("answered questions still await evaluation")
	ErrReattemptLimit     = errors.New("reattempt limit reached for this exam")
)

// defaultAIFeedback replaces any failed or unusable AI grading outcome
// at final submission.
const defaultAIFeedback = "Unable to grade this question automatically."

// PendingError lists the answered-but-unevaluated questions blocking a
// plain submit. The caller may force past it.
type PendingError struct {
	QuestionIDs []string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%v: %s", ErrPendingEvaluations, strings.Join(e.QuestionIDs, ", "))
}

func (e *PendingError) Unwrap() error { return ErrPendingEvaluations }

type ExamSource interface {
	GetExam(ctx context.Context, id string) (*exam.Exam, error)
}

type QuestionSource interface {
	ListByExam(ctx context.Context, examID string) ([]question.Question, error)
}

type OpenEndedGrader interface {
	GradeOpenEnded(ctx context.Context, in ai.GradeInput) (ai.GradeResult, error)
}

type AttemptRecorder interface {
	CreateAttempt(ctx context.Context, rec Record) (*Record, error)
	CountByExam(ctx context.Context, examID string) (int, error)
}

type SessionConfig struct {
	ExamID    string
	Exams     ExamSource
	Questions QuestionSource
	Grader    OpenEndedGrader
	Recorder  AttemptRecorder
	Bridge    *Bridge
	Logger    *log.Logger

	// Overridable for tests.
	Clock            func() time.Time
	TickInterval     time.Duration
	AutosaveInterval time.Duration
}

// Session orchestrates one exam-taking run: loading, answer entry,
// per-question evaluation, the countdown timer, autosave, and final
// submission. Each session owns its store and its two tickers; nothing
// is shared between sessions except the bridge's save slot and the
// recorder.
type Session struct {
	ID string

	mu            sync.Mutex
	state         State
	loadErr       error
	examIDPending string
	exam          *exam.Exam
	questions []question.Question
	items     map[string]grading.Item

	store     *Store
	qstate    map[string]QuestionState
	results   map[string]grading.EvalResult
	aiResults map[string]ai.GradeResult

	// epoch increments whenever the active attempt changes identity.
	// Async continuations compare it before applying their outcome.
	epoch int

	timerEnabled bool
	remaining    int
	record       *Record
	done         chan struct{}
	closed       bool

	exams     ExamSource
	qsource   QuestionSource
	grader    OpenEndedGrader
	recorder  AttemptRecorder
	bridge    *Bridge
	logger    *log.Logger
	clock     func() time.Time
	tickEvery time.Duration
	saveEvery time.Duration
}

func NewSession(cfg SessionConfig) (*Session, error) {
	cfg.ExamID = strings.TrimSpace(cfg.ExamID)
	if cfg.ExamID == "" {
		return nil, errors.New("exam id is required")
	}
	if cfg.Exams == nil || cfg.Questions == nil || cfg.Recorder == nil || cfg.Bridge == nil {
		return nil, errors.New("exam, question, recorder and bridge dependencies are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = 30 * time.Second
	}

	store := NewStore()
	store.now = cfg.Clock

	s := &Session{
		ID:        uuid.NewString(),
		state:     StateLoading,
		store:     store,
		qstate:    make(map[string]QuestionState),
		results:   make(map[string]grading.EvalResult),
		aiResults: make(map[string]ai.GradeResult),
		epoch:     1,
		remaining: -1,
		done:      make(chan struct{}),
		exams:     cfg.Exams,
		qsource:   cfg.Questions,
		grader:    cfg.Grader,
		recorder:  cfg.Recorder,
		bridge:    cfg.Bridge,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		tickEvery: cfg.TickInterval,
		saveEvery: cfg.AutosaveInterval,
	}
	s.examIDPending = cfg.ExamID
	return s, nil
}

// Load fetches the exam and its questions concurrently, resumes a saved
// attempt when one matches, and starts the tickers. Any failure here is
// terminal for the session.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return fmt.Errorf("session already loaded (state %s)", s.state)
	}
	examID := s.examIDPending
	s.mu.Unlock()

	type examOut struct {
		exam *exam.Exam
		err  error
	}
	type questionsOut struct {
		questions []question.Question
		err       error
	}
	examCh := make(chan examOut, 1)
	questionCh := make(chan questionsOut, 1)
	go func() {
		e, err := s.exams.GetExam(ctx, examID)
		examCh <- examOut{exam: e, err: err}
	}()
	go func() {
		qs, err := s.qsource.ListByExam(ctx, examID)
		questionCh <- questionsOut{questions: qs, err: err}
	}()
	eo := <-examCh
	qo := <-questionCh

	if eo.err != nil {
		return s.failLoad(fmt.Errorf("load exam: %w", eo.err))
	}
	if qo.err != nil {
		return s.failLoad(fmt.Errorf("load questions: %w", qo.err))
	}

	if limit := eo.exam.Settings.ReattemptsAllowed; limit > 0 {
		count, err := s.recorder.CountByExam(ctx, examID)
		if err != nil {
			return s.failLoad(fmt.Errorf("count prior attempts: %w", err))
		}
		if count >= limit {
			return s.failLoad(ErrReattemptLimit)
		}
	}

	s.mu.Lock()
	s.exam = eo.exam
	s.questions = qo.questions
	s.items = make(map[string]grading.Item, len(qo.questions))
	for _, q := range qo.questions {
		s.items[q.ID] = q.Item()
		s.qstate[q.ID] = QuestionUnanswered
	}

	if snap, ok := s.bridge.Load(ctx); ok && snap.ExamID == examID {
		s.store.Restore(snap)
		for qid, ans := range snap.Answers {
			if _, known := s.items[qid]; known && !ans.Empty() {
				s.qstate[qid] = QuestionAnswered
			}
		}
	} else {
		s.store.Begin(examID)
	}
	s.epoch++

	if s.exam.Settings.TimerEnabled {
		s.timerEnabled = true
		total := s.exam.Settings.TimerMinutes * 60
		elapsed := int(s.store.Elapsed(s.clock()))
		s.remaining = total - elapsed
		if s.remaining < 0 {
			s.remaining = 0
		}
	}

	s.state = StateInProgress
	s.mu.Unlock()

	go s.runTicker(s.tickEvery, func() { s.Tick(context.Background()) })
	go s.runTicker(s.saveEvery, func() {
		if err := s.SaveForLater(context.Background()); err != nil {
			s.logger.Printf(`{"level":"warn","component":"attempt_session","session_id":%q,"msg":"autosave failed","error":%q}`, s.ID, err.Error())
		}
	})
	return nil
}

func (s *Session) failLoad(err error) error {
	s.mu.Lock()
	s.state = StateFailed
	s.loadErr = err
	s.mu.Unlock()
	s.stop()
	return err
}

func (s *Session) runTicker(every time.Duration, fn func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			fn()
		}
	}
}

func (s *Session) stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
}

// UpdateAnswer records the learner's current answer. Evaluated
// questions are immutable for the rest of the session.
func (s *Session) UpdateAnswer(questionID string, ans grading.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return ErrNotInProgress
	}
	if _, ok := s.items[questionID]; !ok {
		return ErrUnknownQuestion
	}
	switch s.qstate[questionID] {
	case QuestionEvaluated:
		return ErrQuestionLocked
	case QuestionEvaluating:
		return ErrEvaluationInFlight
	}

	s.store.UpdateAnswer(questionID, ans)
	if ans.Empty() {
		s.qstate[questionID] = QuestionUnanswered
	} else {
		s.qstate[questionID] = QuestionAnswered
	}
	return nil
}

// EvaluateQuestion grades one question on demand. Choice and blank
// questions resolve synchronously through the engine; open-ended ones
// go to the AI collaborator with the question held in Evaluating until
// the call returns. An AI failure reverts the question to Answered so
// the learner can retry.
func (s *Session) EvaluateQuestion(ctx context.Context, questionID string) (grading.EvalResult, error) {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return grading.EvalResult{}, ErrNotInProgress
	}
	item, ok := s.items[questionID]
	if !ok {
		s.mu.Unlock()
		return grading.EvalResult{}, ErrUnknownQuestion
	}
	switch s.qstate[questionID] {
	case QuestionEvaluated:
		s.mu.Unlock()
		return grading.EvalResult{}, ErrQuestionLocked
	case QuestionEvaluating:
		s.mu.Unlock()
		return grading.EvalResult{}, ErrEvaluationInFlight
	}
	ans, ok := s.store.Answer(questionID)
	if !ok || ans.Empty() {
		s.mu.Unlock()
		return grading.EvalResult{}, ErrEmptyAnswer
	}

	if item.Type != grading.TypeOpenEnded {
		res, ok := grading.Evaluate(item, ans)
		if !ok {
			s.mu.Unlock()
			return grading.EvalResult{}, ErrAnswerShape
		}
		s.results[questionID] = res
		s.qstate[questionID] = QuestionEvaluated
		s.mu.Unlock()
		return res, nil
	}

	if s.grader == nil || strings.TrimSpace(item.ModelAnswer) == "" {
		s.mu.Unlock()
		return grading.EvalResult{}, fmt.Errorf("%w: no model answer to grade against", ErrEvaluationFailed)
	}

	s.qstate[questionID] = QuestionEvaluating
	epoch := s.epoch
	s.mu.Unlock()

	graded, gradeErr := s.grader.GradeOpenEnded(ctx, ai.GradeInput{
		StudentAnswer: ans.FreeText(),
		ModelAnswer:   item.ModelAnswer,
		Marks:         item.Marks,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	// The attempt may have been reset or submitted while the call was
	// in flight; a stale result must not touch the new attempt.
	if s.epoch != epoch || s.state != StateInProgress {
		return grading.EvalResult{}, ErrNotInProgress
	}
	if gradeErr != nil {
		s.qstate[questionID] = QuestionAnswered
		return grading.EvalResult{}, fmt.Errorf("%w: %v", ErrEvaluationFailed, gradeErr)
	}

	res := grading.EvalResult{
		Status:       graded.Status,
		MarksAwarded: graded.MarksAwarded,
		Feedback:     graded.HowToImprove,
	}
	s.results[questionID] = res
	s.aiResults[questionID] = graded
	s.qstate[questionID] = QuestionEvaluated
	return res, nil
}

// Tick advances the countdown by one second. At zero the attempt is
// force-submitted with no confirmation.
func (s *Session) Tick(ctx context.Context) {
	s.mu.Lock()
	if !s.timerEnabled || s.state != StateInProgress {
		s.mu.Unlock()
		return
	}
	if s.remaining > 0 {
		s.remaining--
	}
	expired := s.remaining <= 0
	s.mu.Unlock()

	if expired {
		if _, err := s.Submit(ctx, true); err != nil {
			s.logger.Printf(`{"level":"error","component":"attempt_session","session_id":%q,"msg":"timer submit failed","error":%q}`, s.ID, err.Error())
		}
	}
}

// SaveForLater snapshots the attempt into the bridge. A no-op when no
// attempt is active.
func (s *Session) SaveForLater(ctx context.Context) error {
	snap, ok := s.store.Snapshot()
	if !ok {
		return nil
	}
	return s.bridge.Save(ctx, snap)
}

// Submit finalizes the attempt. Without force, answered questions that
// were never evaluated block it with a PendingError. The final score is
// recomputed from scratch; cached AI results are reused verbatim, and
// any AI failure degrades to default zero-mark feedback instead of
// blocking submission. The store and bridge are cleared only after the
// record is durably created.
func (s *Session) Submit(ctx context.Context, force bool) (*Record, error) {
	s.mu.Lock()
	if s.state == StateSubmitted {
		rec := s.record
		s.mu.Unlock()
		return rec, nil
	}
	if s.state != StateInProgress {
		s.mu.Unlock()
		return nil, ErrNotInProgress
	}

	if !force {
		pending := make([]string, 0)
		for _, q := range s.questions {
			switch s.qstate[q.ID] {
			case QuestionAnswered, QuestionEvaluating:
				pending = append(pending, q.ID)
			}
		}
		if len(pending) > 0 {
			sort.Strings(pending)
			s.mu.Unlock()
			return nil, &PendingError{QuestionIDs: pending}
		}
	}

	s.state = StateSubmitting
	s.epoch++
	examID, _ := s.store.ExamID()
	answers := s.store.Answers()
	items := make([]grading.Item, 0, len(s.questions))
	openItems := make([]grading.Item, 0)
	for _, q := range s.questions {
		item := s.items[q.ID]
		items = append(items, item)
		if item.Type == grading.TypeOpenEnded {
			openItems = append(openItems, item)
		}
	}
	cached := make(map[string]ai.GradeResult, len(s.aiResults))
	for k, v := range s.aiResults {
		cached[k] = v
	}
	s.mu.Unlock()

	total := grading.TotalMarks(items, answers)
	feedback := make([]AIFeedbackEntry, 0, len(openItems))
	for _, item := range openItems {
		ans, ok := answers[item.ID]
		if !ok || ans.Empty() {
			continue
		}

		if graded, ok := cached[item.ID]; ok {
			total += graded.MarksAwarded
			feedback = append(feedback, AIFeedbackEntry{
				QuestionID:   item.ID,
				Status:       graded.Status,
				HowToImprove: graded.HowToImprove,
				MarksAwarded: graded.MarksAwarded,
			})
			continue
		}

		entry := AIFeedbackEntry{
			QuestionID:   item.ID,
			Status:       grading.StatusIncorrect,
			HowToImprove: defaultAIFeedback,
		}
		if s.grader != nil && strings.TrimSpace(item.ModelAnswer) != "" {
			graded, err := s.grader.GradeOpenEnded(ctx, ai.GradeInput{
				StudentAnswer: ans.FreeText(),
				ModelAnswer:   item.ModelAnswer,
				Marks:         item.Marks,
			})
			if err != nil {
				s.logger.Printf(`{"level":"warn","component":"attempt_session","session_id":%q,"question_id":%q,"msg":"ai grading defaulted","error":%q}`, s.ID, item.ID, err.Error())
			} else {
				entry.Status = graded.Status
				entry.HowToImprove = graded.HowToImprove
				entry.MarksAwarded = graded.MarksAwarded
			}
		}
		total += entry.MarksAwarded
		feedback = append(feedback, entry)
	}

	rec := Record{
		ExamID:     examID,
		Answers:    answers,
		TotalMarks: total,
		MaxMarks:   grading.MaxMarks(items),
		AIFeedback: feedback,
		TimeTaken:  s.store.Elapsed(s.clock()),
	}

	created, err := s.recorder.CreateAttempt(ctx, rec)

	s.mu.Lock()
	if err != nil {
		// The attempt survives a failed write so the learner can retry.
		// An evaluation caught mid-flight by the submit goes back to
		// Answered here; its continuation already lost the epoch race.
		s.state = StateInProgress
		for qid, st := range s.qstate {
			if st == QuestionEvaluating {
				s.qstate[qid] = QuestionAnswered
			}
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("persist attempt: %w", err)
	}
	s.store.Clear()
	if clearErr := s.bridge.Clear(ctx); clearErr != nil {
		s.logger.Printf(`{"level":"warn","component":"attempt_session","session_id":%q,"msg":"clear saved attempt failed","error":%q}`, s.ID, clearErr.Error())
	}
	s.state = StateSubmitted
	s.record = created
	s.mu.Unlock()
	s.stop()
	return created, nil
}

// Close tears the session down: a still-active attempt is saved for
// later, then both tickers stop.
func (s *Session) Close(ctx context.Context) error {
	var saveErr error
	s.mu.Lock()
	inProgress := s.state == StateInProgress
	s.mu.Unlock()
	if inProgress {
		saveErr = s.SaveForLater(ctx)
	}
	s.stop()
	return saveErr
}

type QuestionView struct {
	ID              string               `json:"id"`
	OrderIndex      int                  `json:"order_index"`
	Type            grading.QuestionType `json:"type"`
	QuestionText    string               `json:"question_text"`
	InstructionText string               `json:"instruction_text,omitempty"`
	Marks           int                  `json:"marks"`
	Options         []string             `json:"options,omitempty"`
	ImageURL        string               `json:"image_url,omitempty"`
	State           QuestionState        `json:"state"`
	Answer          *grading.Answer      `json:"answer,omitempty"`
	Result          *grading.EvalResult  `json:"result,omitempty"`
}

type View struct {
	ID               string         `json:"id"`
	State            State          `json:"state"`
	Exam             *exam.Exam     `json:"exam,omitempty"`
	Questions        []QuestionView `json:"questions,omitempty"`
	RemainingSeconds *int           `json:"remaining_seconds,omitempty"`
	Record           *Record        `json:"record,omitempty"`
}

// View renders the session for the taker. Answer keys stay hidden until
// a question is evaluated, at which point the result reveals them.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{ID: s.ID, State: s.state, Record: s.record}
	if s.exam != nil {
		e := *s.exam
		v.Exam = &e
	}
	if s.timerEnabled {
		remaining := s.remaining
		v.RemainingSeconds = &remaining
	}
	for _, q := range s.questions {
		qv := QuestionView{
			ID:              q.ID,
			OrderIndex:      q.OrderIndex,
			Type:            q.Type,
			QuestionText:    q.QuestionText,
			InstructionText: q.InstructionText,
			Marks:           q.Marks,
			Options:         q.Options,
			ImageURL:        q.ImageURL,
			State:           s.qstate[q.ID],
		}
		if ans, ok := s.store.Answer(q.ID); ok {
			a := ans
			qv.Answer = &a
		}
		if res, ok := s.results[q.ID]; ok {
			r := res
			qv.Result = &r
		}
		v.Questions = append(v.Questions, qv)
	}
	return v
}

// State returns the lifecycle state and, for failed sessions, the load
// error.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.loadErr
}
