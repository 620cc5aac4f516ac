package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrExamNotFound = errors.New("exam not found")
)

// Settings drives attempt behavior: the countdown timer, how many times
// a learner may retake the exam, and visibility to learners.
type Settings struct {
	TimerEnabled      bool `json:"timer_enabled"`
	TimerMinutes      int  `json:"timer_minutes"`
	ReattemptsAllowed int  `json:"reattempts_allowed"`
	Published         bool `json:"published"`
}

type Exam struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Qualification string    `json:"qualification"`
	Board         string    `json:"board"`
	Subject       string    `json:"subject"`
	Course        string    `json:"course"`
	Topic         string    `json:"topic"`
	SubTopic      string    `json:"sub_topic"`
	Difficulty    string    `json:"difficulty"`
	PDFURL        string    `json:"pdf_url,omitempty"`
	Settings      Settings  `json:"settings"`
	CreatedAt     time.Time `json:"created_at"`
}

type CreateExamInput struct {
	Name          string
	Qualification string
	Board         string
	Subject       string
	Course        string
	Topic         string
	SubTopic      string
	Difficulty    string
	PDFURL        string
	Settings      Settings
}

type UpdateExamInput struct {
	ID            string
	Name          string
	Qualification string
	Board         string
	Subject       string
	Course        string
	Topic         string
	SubTopic      string
	Difficulty    string
	PDFURL        string
	Settings      Settings
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func normalizeSettings(s Settings) (Settings, error) {
	if s.TimerEnabled && s.TimerMinutes <= 0 {
		return Settings{}, fmt.Errorf("%w: timer_minutes must be positive when the timer is enabled", ErrInvalidInput)
	}
	if !s.TimerEnabled {
		s.TimerMinutes = 0
	}
	if s.ReattemptsAllowed < 0 {
		return Settings{}, fmt.Errorf("%w: reattempts_allowed cannot be negative", ErrInvalidInput)
	}
	return s, nil
}

func trimExamFields(name, subject *string, rest ...*string) {
	*name = strings.TrimSpace(*name)
	*subject = strings.TrimSpace(*subject)
	for _, f := range rest {
		*f = strings.TrimSpace(*f)
	}
}

func (s *Service) CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error) {
	trimExamFields(&in.Name, &in.Subject, &in.Qualification, &in.Board, &in.Course, &in.Topic, &in.SubTopic, &in.Difficulty, &in.PDFURL)
	if in.Name == "" || in.Subject == "" {
		return nil, fmt.Errorf("%w: name and subject are required", ErrInvalidInput)
	}
	settings, err := normalizeSettings(in.Settings)
	if err != nil {
		return nil, err
	}

	settingsRaw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO exams (
			id, name, qualification, board, subject, course, topic, sub_topic,
			difficulty, pdf_url, settings, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11::jsonb, now()
		)
		RETURNING id, name, qualification, board, subject, course, topic, sub_topic,
			difficulty, pdf_url, settings, created_at
	`, uuid.NewString(), in.Name, in.Qualification, in.Board, in.Subject, in.Course, in.Topic, in.SubTopic, in.Difficulty, in.PDFURL, settingsRaw)

	out, err := scanExam(row)
	if err != nil {
		return nil, fmt.Errorf("insert exam: %w", err)
	}
	return out, nil
}

func (s *Service) GetExam(ctx context.Context, id string) (*Exam, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidInput
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, qualification, board, subject, course, topic, sub_topic,
			difficulty, pdf_url, settings, created_at
		FROM exams
		WHERE id = $1
	`, id)

	out, err := scanExam(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("query exam: %w", err)
	}
	return out, nil
}

// ListExams returns exams newest first. With publishedOnly set, drafts
// are hidden; that is the learner-facing view.
func (s *Service) ListExams(ctx context.Context, publishedOnly bool) ([]Exam, error) {
	query := `
		SELECT id, name, qualification, board, subject, course, topic, sub_topic,
			difficulty, pdf_url, settings, created_at
		FROM exams
	`
	if publishedOnly {
		query += ` WHERE (settings->>'published')::boolean = TRUE`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}
	defer rows.Close()

	items := make([]Exam, 0)
	for rows.Next() {
		item, err := scanExam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return items, nil
}

func (s *Service) UpdateExam(ctx context.Context, in UpdateExamInput) (*Exam, error) {
	in.ID = strings.TrimSpace(in.ID)
	trimExamFields(&in.Name, &in.Subject, &in.Qualification, &in.Board, &in.Course, &in.Topic, &in.SubTopic, &in.Difficulty, &in.PDFURL)
	if in.ID == "" || in.Name == "" || in.Subject == "" {
		return nil, fmt.Errorf("%w: id, name and subject are required", ErrInvalidInput)
	}
	settings, err := normalizeSettings(in.Settings)
	if err != nil {
		return nil, err
	}

	settingsRaw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE exams
		SET name = $2,
			qualification = $3,
			board = $4,
			subject = $5,
			course = $6,
			topic = $7,
			sub_topic = $8,
			difficulty = $9,
			pdf_url = NULLIF($10, ''),
			settings = $11::jsonb
		WHERE id = $1
		RETURNING id, name, qualification, board, subject, course, topic, sub_topic,
			difficulty, pdf_url, settings, created_at
	`, in.ID, in.Name, in.Qualification, in.Board, in.Subject, in.Course, in.Topic, in.SubTopic, in.Difficulty, in.PDFURL, settingsRaw)

	out, err := scanExam(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("update exam: %w", err)
	}
	return out, nil
}

// DeleteExam removes the exam and everything hanging off it. Questions
// go in the same transaction so no orphan rows survive.
func (s *Service) DeleteExam(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE exam_id = $1`, id); err != nil {
		return fmt.Errorf("delete exam questions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete exam affected rows: %w", err)
	}
	if affected == 0 {
		return ErrExamNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanExam(scanner interface{ Scan(dest ...any) error }) (*Exam, error) {
	var out Exam
	var pdfURL sql.NullString
	var settingsRaw []byte
	if err := scanner.Scan(
		&out.ID,
		&out.Name,
		&out.Qualification,
		&out.Board,
		&out.Subject,
		&out.Course,
		&out.Topic,
		&out.SubTopic,
		&out.Difficulty,
		&pdfURL,
		&settingsRaw,
		&out.CreatedAt,
	); err != nil {
		return nil, err
	}
	if pdfURL.Valid {
		out.PDFURL = pdfURL.String
	}
	if len(settingsRaw) > 0 {
		if err := json.Unmarshal(settingsRaw, &out.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	return &out, nil
}
