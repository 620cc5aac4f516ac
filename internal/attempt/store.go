package attempt

import (
	"sync"
	"time"

	"examforge/internal/grading"
)

// Snapshot is the serializable image of an in-progress attempt, produced
// by the store and persisted by the bridge.
type Snapshot struct {
	ExamID    string                    `json:"exam_id"`
	Answers   map[string]grading.Answer `json:"answers"`
	StartTime time.Time                 `json:"start_time"`
	SavedAt   time.Time                 `json:"saved_at"`
}

// Store holds the working answers of one exam-taking session. Each
// session owns its own store; nothing here is shared across sessions.
// At most one attempt is in progress at a time.
type Store struct {
	mu        sync.Mutex
	active    bool
	examID    string
	answers   map[string]grading.Answer
	startTime time.Time
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Begin starts a fresh attempt for the exam, discarding any attempt in
// progress. The start time is stamped here and never moves.
func (s *Store) Begin(examID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.examID = examID
	s.answers = make(map[string]grading.Answer)
	s.startTime = s.now()
}

// UpdateAnswer upserts the answer for a question. With no attempt in
// progress it is a silent no-op.
func (s *Store) UpdateAnswer(questionID string, ans grading.Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.answers[questionID] = ans
}

func (s *Store) Answer(questionID string) (grading.Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return grading.Answer{}, false
	}
	ans, ok := s.answers[questionID]
	return ans, ok
}

// Answers returns a copy of the current answer map.
func (s *Store) Answers() map[string]grading.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]grading.Answer, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

func (s *Store) ExamID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.examID, s.active
}

func (s *Store) StartTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime, s.active
}

// Elapsed returns whole seconds since the attempt started.
func (s *Store) Elapsed(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0
	}
	d := now.Sub(s.startTime)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.examID = ""
	s.answers = nil
	s.startTime = time.Time{}
}

// Snapshot captures the attempt for persistence. ok is false when no
// attempt is in progress.
func (s *Store) Snapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return Snapshot{}, false
	}
	answers := make(map[string]grading.Answer, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	return Snapshot{
		ExamID:    s.examID,
		Answers:   answers,
		StartTime: s.startTime,
		SavedAt:   s.now(),
	}, true
}

// Restore resumes an attempt from a saved snapshot, replacing whatever
// the store held. The original start time is kept so elapsed time spans
// the interruption.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.examID = snap.ExamID
	s.answers = make(map[string]grading.Answer, len(snap.Answers))
	for k, v := range snap.Answers {
		s.answers[k] = v
	}
	s.startTime = snap.StartTime
}
