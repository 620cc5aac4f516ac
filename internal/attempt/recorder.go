package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"examforge/internal/grading"

	"github.com/google/uuid"
)

var (
	ErrRecordNotFound = errors.New("attempt record not found")
	ErrInvalidRecord  = errors.New("invalid attempt record")
)

// AIFeedbackEntry is the persisted outcome of AI grading for one
// open-ended question.
type AIFeedbackEntry struct {
	QuestionID   string         `json:"question_id"`
	Status       grading.Status `json:"status"`
	HowToImprove string         `json:"how_to_improve"`
	MarksAwarded float64        `json:"marks_awarded"`
}

// Record is a finalized attempt. Immutable once created.
type Record struct {
	ID          string                    `json:"id"`
	ExamID      string                    `json:"exam_id"`
	Answers     map[string]grading.Answer `json:"answers"`
	TotalMarks  float64                   `json:"total_marks"`
	MaxMarks    int                       `json:"max_marks"`
	AIFeedback  []AIFeedbackEntry         `json:"ai_feedback,omitempty"`
	TimeTaken   int64                     `json:"time_taken"`
	SubmittedAt time.Time                 `json:"submitted_at"`
}

type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// CreateAttempt persists the record, assigning id and submitted_at.
func (r *Recorder) CreateAttempt(ctx context.Context, rec Record) (*Record, error) {
	rec.ExamID = strings.TrimSpace(rec.ExamID)
	if rec.ExamID == "" {
		return nil, fmt.Errorf("%w: exam_id is required", ErrInvalidRecord)
	}
	if rec.TimeTaken < 0 {
		return nil, fmt.Errorf("%w: time_taken cannot be negative", ErrInvalidRecord)
	}

	if rec.Answers == nil {
		rec.Answers = map[string]grading.Answer{}
	}
	answersRaw, err := json.Marshal(rec.Answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	if rec.AIFeedback == nil {
		rec.AIFeedback = []AIFeedbackEntry{}
	}
	feedbackRaw, err := json.Marshal(rec.AIFeedback)
	if err != nil {
		return nil, fmt.Errorf("marshal ai feedback: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attempts (id, exam_id, answers, total_marks, max_marks, ai_feedback, time_taken, submitted_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6::jsonb, $7, now())
		RETURNING id, exam_id, answers, total_marks, max_marks, ai_feedback, time_taken, submitted_at
	`, uuid.NewString(), rec.ExamID, answersRaw, rec.TotalMarks, rec.MaxMarks, feedbackRaw, rec.TimeTaken)

	out, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return out, nil
}

func (r *Recorder) GetAttempt(ctx context.Context, id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidRecord
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT id, exam_id, answers, total_marks, max_marks, ai_feedback, time_taken, submitted_at
		FROM attempts
		WHERE id = $1
	`, id)
	out, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("query attempt: %w", err)
	}
	return out, nil
}

func (r *Recorder) ListByExam(ctx context.Context, examID string) ([]Record, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" {
		return nil, ErrInvalidRecord
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, exam_id, answers, total_marks, max_marks, ai_feedback, time_taken, submitted_at
		FROM attempts
		WHERE exam_id = $1
		ORDER BY submitted_at DESC, id DESC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		item, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return items, nil
}

// CountByExam backs the reattempt limit check at session start.
func (r *Recorder) CountByExam(ctx context.Context, examID string) (int, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" {
		return 0, ErrInvalidRecord
	}
	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attempts WHERE exam_id = $1
	`, examID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var out Record
	var answersRaw []byte
	var feedbackRaw []byte
	if err := scanner.Scan(
		&out.ID,
		&out.ExamID,
		&answersRaw,
		&out.TotalMarks,
		&out.MaxMarks,
		&feedbackRaw,
		&out.TimeTaken,
		&out.SubmittedAt,
	); err != nil {
		return nil, err
	}
	if len(answersRaw) > 0 {
		if err := json.Unmarshal(answersRaw, &out.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	if len(feedbackRaw) > 0 {
		if err := json.Unmarshal(feedbackRaw, &out.AIFeedback); err != nil {
			return nil, fmt.Errorf("decode ai feedback: %w", err)
		}
	}
	return &out, nil
}
