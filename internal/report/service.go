package report

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrExamNotFound = errors.New("exam not found")
)

// ExamSummary aggregates every recorded attempt of one exam.
type ExamSummary struct {
	ExamID             string  `json:"exam_id"`
	ExamName           string  `json:"exam_name"`
	Participants       int     `json:"participants"`
	AverageMarks       float64 `json:"average_marks"`
	HighestMarks       float64 `json:"highest_marks"`
	LowestMarks        float64 `json:"lowest_marks"`
	AverageTimeSeconds float64 `json:"average_time_seconds"`
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// SummaryByExam computes attempt statistics in the database. An exam
// with no attempts yields a summary of zeros, not an error.
func (s *Service) SummaryByExam(ctx context.Context, examID string) (*ExamSummary, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" {
		return nil, fmt.Errorf("%w: exam id is required", ErrInvalidInput)
	}

	out := ExamSummary{ExamID: examID}
	if err := s.db.QueryRowContext(ctx, `
		SELECT name FROM exams WHERE id = $1
	`, examID).Scan(&out.ExamName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("query exam: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(AVG(total_marks), 0),
			COALESCE(MAX(total_marks), 0),
			COALESCE(MIN(total_marks), 0),
			COALESCE(AVG(time_taken), 0)
		FROM attempts
		WHERE exam_id = $1
	`, examID).Scan(
		&out.Participants,
		&out.AverageMarks,
		&out.HighestMarks,
		&out.LowestMarks,
		&out.AverageTimeSeconds,
	); err != nil {
		return nil, fmt.Errorf("aggregate attempts: %w", err)
	}
	return &out, nil
}

type attemptRow struct {
	ID          string
	TotalMarks  float64
	MaxMarks    int
	TimeTaken   int64
	SubmittedAt sql.NullTime
}

// ExportAttemptsExcel renders every attempt of the exam as an xlsx
// workbook, newest first.
func (s *Service) ExportAttemptsExcel(ctx context.Context, examID string) ([]byte, error) {
	summary, err := s.SummaryByExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, total_marks, max_marks, time_taken, submitted_at
		FROM attempts
		WHERE exam_id = $1
		ORDER BY submitted_at DESC, id DESC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	items := make([]attemptRow, 0)
	for rows.Next() {
		var it attemptRow
		if err := rows.Scan(&it.ID, &it.TotalMarks, &it.MaxMarks, &it.TimeTaken, &it.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"attempt_id", "exam_name", "total_marks", "max_marks", "percentage", "time_taken_seconds", "submitted_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		percentage := 0.0
		if it.MaxMarks > 0 {
			percentage = it.TotalMarks / float64(it.MaxMarks) * 100
		}
		submitted := ""
		if it.SubmittedAt.Valid {
			submitted = it.SubmittedAt.Time.Format("2006-01-02 15:04:05")
		}
		values := []any{
			it.ID,
			summary.ExamName,
			it.TotalMarks,
			it.MaxMarks,
			fmt.Sprintf("%.1f", percentage),
			it.TimeTaken,
			submitted,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "G", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
