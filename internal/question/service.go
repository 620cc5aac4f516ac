package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"examforge/internal/grading"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrExamNotFound     = errors.New("exam not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrOrderMismatch    = errors.New("reorder must list every question of the exam exactly once")
)

const (
	minOptions = 2
	maxOptions = 6
	maxMarks   = 100
)

type Question struct {
	ID              string               `json:"id"`
	ExamID          string               `json:"exam_id"`
	OrderIndex      int                  `json:"order_index"`
	Type            grading.QuestionType `json:"type"`
	QuestionText    string               `json:"question_text"`
	InstructionText string               `json:"instruction_text,omitempty"`
	Marks           int                  `json:"marks"`
	Options         []string             `json:"options,omitempty"`
	CorrectOption   *int                 `json:"correct_option,omitempty"`
	CorrectText     string               `json:"correct_text,omitempty"`
	ModelAnswer     string               `json:"model_answer,omitempty"`
	ImageURL        string               `json:"image_url,omitempty"`
}

// Item converts the stored question into the grading engine's view.
func (q Question) Item() grading.Item {
	it := grading.Item{
		ID:          q.ID,
		Type:        q.Type,
		Marks:       q.Marks,
		Options:     q.Options,
		CorrectText: q.CorrectText,
		ModelAnswer: q.ModelAnswer,
	}
	if q.CorrectOption != nil {
		it.CorrectOption = *q.CorrectOption
	} else {
		it.CorrectOption = -1
	}
	return it
}

type QuestionInput struct {
	Type            string
	QuestionText    string
	InstructionText string
	Marks           int
	Options         []string
	CorrectOption   *int
	CorrectText     string
	ModelAnswer     string
	ImageURL        string
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// validateInput enforces the per-type shape: exactly the fields that
// belong to the question type, marks within 1..100.
func validateInput(in QuestionInput) (grading.QuestionType, error) {
	qType, ok := grading.ParseQuestionType(in.Type)
	if !ok {
		return "", fmt.Errorf("%w: type must be one of mcq, fib, open", ErrInvalidInput)
	}
	if strings.TrimSpace(in.QuestionText) == "" {
		return "", fmt.Errorf("%w: question_text is required", ErrInvalidInput)
	}
	if in.Marks < 1 || in.Marks > maxMarks {
		return "", fmt.Errorf("%w: marks must be between 1 and %d", ErrInvalidInput, maxMarks)
	}

	switch qType {
	case grading.TypeMultipleChoice:
		if len(in.Options) < minOptions || len(in.Options) > maxOptions {
			return "", fmt.Errorf("%w: mcq needs between %d and %d options", ErrInvalidInput, minOptions, maxOptions)
		}
		for i, opt := range in.Options {
			if strings.TrimSpace(opt) == "" {
				return "", fmt.Errorf("%w: options[%d] cannot be blank", ErrInvalidInput, i)
			}
		}
		if in.CorrectOption == nil || *in.CorrectOption < 0 || *in.CorrectOption >= len(in.Options) {
			return "", fmt.Errorf("%w: correct_option must index an option", ErrInvalidInput)
		}
	case grading.TypeFillInBlank:
		if len(in.Options) > 0 || in.CorrectOption != nil {
			return "", fmt.Errorf("%w: fib takes no options", ErrInvalidInput)
		}
		if strings.TrimSpace(in.CorrectText) == "" {
			return "", fmt.Errorf("%w: fib needs correct_text", ErrInvalidInput)
		}
	case grading.TypeOpenEnded:
		if len(in.Options) > 0 || in.CorrectOption != nil || strings.TrimSpace(in.CorrectText) != "" {
			return "", fmt.Errorf("%w: open takes only a model_answer", ErrInvalidInput)
		}
	}
	return qType, nil
}

func (s *Service) CreateQuestion(ctx context.Context, examID string, in QuestionInput) (*Question, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" {
		return nil, ErrInvalidInput
	}
	qType, err := validateInput(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureExam(ctx, tx, examID); err != nil {
		return nil, err
	}

	// New questions append after the current tail.
	var next int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(order_index) + 1, 0) FROM questions WHERE exam_id = $1
	`, examID).Scan(&next); err != nil {
		return nil, fmt.Errorf("next order index: %w", err)
	}

	out, err := insertQuestion(ctx, tx, examID, next, qType, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

// BulkInsert appends a batch in input order, used for AI-generated
// questions. All or nothing.
func (s *Service) BulkInsert(ctx context.Context, examID string, inputs []QuestionInput) ([]Question, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" || len(inputs) == 0 {
		return nil, ErrInvalidInput
	}
	types := make([]grading.QuestionType, len(inputs))
	for i, in := range inputs {
		qType, err := validateInput(in)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		types[i] = qType
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureExam(ctx, tx, examID); err != nil {
		return nil, err
	}

	var next int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(order_index) + 1, 0) FROM questions WHERE exam_id = $1
	`, examID).Scan(&next); err != nil {
		return nil, fmt.Errorf("next order index: %w", err)
	}

	out := make([]Question, 0, len(inputs))
	for i, in := range inputs {
		q, err := insertQuestion(ctx, tx, examID, next+i, types[i], in)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *Service) GetQuestion(ctx context.Context, id string) (*Question, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, exam_id, order_index, type, question_text, instruction_text,
			marks, options, correct_option, correct_text, model_answer, image_url
		FROM questions
		WHERE id = $1
	`, id)
	out, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("query question: %w", err)
	}
	return out, nil
}

func (s *Service) ListByExam(ctx context.Context, examID string) ([]Question, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" {
		return nil, ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exam_id, order_index, type, question_text, instruction_text,
			marks, options, correct_option, correct_text, model_answer, image_url
		FROM questions
		WHERE exam_id = $1
		ORDER BY order_index ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, id string, in QuestionInput) (*Question, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidInput
	}
	qType, err := validateInput(in)
	if err != nil {
		return nil, err
	}

	optionsRaw, err := marshalOptions(in.Options)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE questions
		SET type = $2,
			question_text = $3,
			instruction_text = NULLIF($4, ''),
			marks = $5,
			options = $6::jsonb,
			correct_option = $7,
			correct_text = NULLIF($8, ''),
			model_answer = NULLIF($9, ''),
			image_url = NULLIF($10, '')
		WHERE id = $1
		RETURNING id, exam_id, order_index, type, question_text, instruction_text,
			marks, options, correct_option, correct_text, model_answer, image_url
	`, id, string(qType), strings.TrimSpace(in.QuestionText), strings.TrimSpace(in.InstructionText),
		in.Marks, optionsRaw, nullIntPtr(in.CorrectOption), strings.TrimSpace(in.CorrectText),
		strings.TrimSpace(in.ModelAnswer), strings.TrimSpace(in.ImageURL))

	out, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("update question: %w", err)
	}
	return out, nil
}

// DeleteQuestion removes the question and closes the gap so order
// indexes stay contiguous and zero-based.
func (s *Service) DeleteQuestion(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var examID string
	var orderIndex int
	if err := tx.QueryRowContext(ctx, `
		DELETE FROM questions WHERE id = $1 RETURNING exam_id, order_index
	`, id).Scan(&examID, &orderIndex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("delete question: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE questions
		SET order_index = order_index - 1
		WHERE exam_id = $1 AND order_index > $2
	`, examID, orderIndex); err != nil {
		return fmt.Errorf("resequence questions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Reorder rewrites order indexes to match the given id sequence. The
// sequence must cover the exam's questions exactly.
func (s *Service) Reorder(ctx context.Context, examID string, ids []string) ([]Question, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" || len(ids) == 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM questions WHERE exam_id = $1 FOR UPDATE
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("lock questions: %w", err)
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var qid string
		if err := rows.Scan(&qid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan question id: %w", err)
		}
		existing[qid] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question ids: %w", err)
	}

	if len(existing) == 0 {
		return nil, ErrExamNotFound
	}
	if len(ids) != len(existing) {
		return nil, ErrOrderMismatch
	}
	seen := make(map[string]struct{}, len(ids))
	for _, qid := range ids {
		if _, ok := existing[qid]; !ok {
			return nil, ErrOrderMismatch
		}
		if _, dup := seen[qid]; dup {
			return nil, ErrOrderMismatch
		}
		seen[qid] = struct{}{}
	}

	// Two passes dodge any unique constraint on (exam_id, order_index).
	for i, qid := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE questions SET order_index = $2 WHERE id = $1
		`, qid, -(i + 1)); err != nil {
			return nil, fmt.Errorf("stage order index: %w", err)
		}
	}
	for i, qid := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE questions SET order_index = $2 WHERE id = $1
		`, qid, i); err != nil {
			return nil, fmt.Errorf("set order index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s.ListByExam(ctx, examID)
}

func ensureExam(ctx context.Context, tx *sql.Tx, examID string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM exams WHERE id = $1)
	`, examID).Scan(&exists); err != nil {
		return fmt.Errorf("check exam exists: %w", err)
	}
	if !exists {
		return ErrExamNotFound
	}
	return nil
}

func insertQuestion(ctx context.Context, tx *sql.Tx, examID string, orderIndex int, qType grading.QuestionType, in QuestionInput) (*Question, error) {
	optionsRaw, err := marshalOptions(in.Options)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO questions (
			id, exam_id, order_index, type, question_text, instruction_text,
			marks, options, correct_option, correct_text, model_answer, image_url
		) VALUES (
			$1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8::jsonb, $9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, '')
		)
		RETURNING id, exam_id, order_index, type, question_text, instruction_text,
			marks, options, correct_option, correct_text, model_answer, image_url
	`, uuid.NewString(), examID, orderIndex, string(qType), strings.TrimSpace(in.QuestionText),
		strings.TrimSpace(in.InstructionText), in.Marks, optionsRaw, nullIntPtr(in.CorrectOption),
		strings.TrimSpace(in.CorrectText), strings.TrimSpace(in.ModelAnswer), strings.TrimSpace(in.ImageURL))

	out, err := scanQuestion(row)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return out, nil
}

func marshalOptions(options []string) ([]byte, error) {
	if options == nil {
		options = []string{}
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	return raw, nil
}

func scanQuestion(scanner interface{ Scan(dest ...any) error }) (*Question, error) {
	var out Question
	var qType string
	var instruction sql.NullString
	var optionsRaw []byte
	var correctOption sql.NullInt64
	var correctText sql.NullString
	var modelAnswer sql.NullString
	var imageURL sql.NullString
	if err := scanner.Scan(
		&out.ID,
		&out.ExamID,
		&out.OrderIndex,
		&qType,
		&out.QuestionText,
		&instruction,
		&out.Marks,
		&optionsRaw,
		&correctOption,
		&correctText,
		&modelAnswer,
		&imageURL,
	); err != nil {
		return nil, err
	}
	out.Type = grading.QuestionType(qType)
	if instruction.Valid {
		out.InstructionText = instruction.String
	}
	if len(optionsRaw) > 0 {
		if err := json.Unmarshal(optionsRaw, &out.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(out.Options) == 0 {
		out.Options = nil
	}
	if correctOption.Valid {
		v := int(correctOption.Int64)
		out.CorrectOption = &v
	}
	if correctText.Valid {
		out.CorrectText = correctText.String
	}
	if modelAnswer.Valid {
		out.ModelAnswer = modelAnswer.String
	}
	if imageURL.Valid {
		out.ImageURL = imageURL.String
	}
	return &out, nil
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
