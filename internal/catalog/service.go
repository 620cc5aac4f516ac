package catalog

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrOptionNotFound = errors.New("catalog option not found")
)

// Kinds of dropdown data the exam builder offers. Every option belongs
// to exactly one kind.
const (
	KindQualification = "qualification"
	KindBoard         = "board"
	KindDifficulty    = "difficulty"
)

func validKind(kind string) bool {
	switch kind {
	case KindQualification, KindBoard, KindDifficulty:
		return true
	}
	return false
}

type Option struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Value    string `json:"value"`
	Position int    `json:"position"`
	IsActive bool   `json:"is_active"`
}

type CreateOptionInput struct {
	Kind     string
	Value    string
	Position int
}

type UpdateOptionInput struct {
	Value    string
	Position int
	IsActive bool
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) CreateOption(ctx context.Context, in CreateOptionInput) (*Option, error) {
	kind := strings.TrimSpace(strings.ToLower(in.Kind))
	value := strings.TrimSpace(in.Value)
	if !validKind(kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, in.Kind)
	}
	if value == "" {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidInput)
	}
	if in.Position < 0 {
		return nil, fmt.Errorf("%w: position cannot be negative", ErrInvalidInput)
	}

	var out Option
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO catalog_options (kind, value, position, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, now(), now())
		RETURNING id, kind, value, position, is_active
	`, kind, value, in.Position).Scan(&out.ID, &out.Kind, &out.Value, &out.Position, &out.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create catalog option: %w", err)
	}
	return &out, nil
}

// ListOptions returns the options of one kind in display order. Only
// active options are listed unless includeInactive is set.
func (s *Service) ListOptions(ctx context.Context, kind string, includeInactive bool) ([]Option, error) {
	kind = strings.TrimSpace(strings.ToLower(kind))
	if !validKind(kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}

	query := `
		SELECT id, kind, value, position, is_active
		FROM catalog_options
		WHERE kind = $1
	`
	if !includeInactive {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY position ASC, value ASC`

	rows, err := s.db.QueryContext(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("query catalog options: %w", err)
	}
	defer rows.Close()

	items := make([]Option, 0)
	for rows.Next() {
		var it Option
		if err := rows.Scan(&it.ID, &it.Kind, &it.Value, &it.Position, &it.IsActive); err != nil {
			return nil, fmt.Errorf("scan catalog option: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog options: %w", err)
	}
	return items, nil
}

func (s *Service) UpdateOption(ctx context.Context, id int64, in UpdateOptionInput) (*Option, error) {
	value := strings.TrimSpace(in.Value)
	if id <= 0 || value == "" {
		return nil, fmt.Errorf("%w: id and value are required", ErrInvalidInput)
	}
	if in.Position < 0 {
		return nil, fmt.Errorf("%w: position cannot be negative", ErrInvalidInput)
	}

	var out Option
	err := s.db.QueryRowContext(ctx, `
		UPDATE catalog_options
		SET value = $2,
			position = $3,
			is_active = $4,
			updated_at = now()
		WHERE id = $1
		RETURNING id, kind, value, position, is_active
	`, id, value, in.Position, in.IsActive).Scan(&out.ID, &out.Kind, &out.Value, &out.Position, &out.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOptionNotFound
		}
		return nil, fmt.Errorf("update catalog option: %w", err)
	}
	return &out, nil
}

// DeactivateOption hides the option from builder dropdowns without
// breaking exams that already reference its value.
func (s *Service) DeactivateOption(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE catalog_options
		SET is_active = FALSE, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate catalog option: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate catalog option: %w", err)
	}
	if affected == 0 {
		return ErrOptionNotFound
	}
	return nil
}

// ImportOptionsCSV bulk-loads options from a CSV with a kind,value and
// optional position column. Bad rows are reported and skipped; good
// rows land even when others fail.
func (s *Service) ImportOptionsCSV(ctx context.Context, r io.Reader) (*ImportReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"kind", "value"} {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column %s", ErrInvalidInput, col)
		}
	}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		report.TotalRows++

		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		position := 0
		if raw := get("position"); raw != "" {
			if _, err := fmt.Sscanf(raw, "%d", &position); err != nil {
				report.FailedRows++
				report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: "position must be a number"})
				continue
			}
		}

		if _, err := s.CreateOption(ctx, CreateOptionInput{
			Kind:     get("kind"),
			Value:    get("value"),
			Position: position,
		}); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		report.SuccessRows++
	}
	return report, nil
}
