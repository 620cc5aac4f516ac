package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"examforge/internal/grading"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotConfigured   = errors.New("ai client not configured")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidResponse = errors.New("invalid ai response")
)

const gradingPrompt = "You are a strict exam grader. Grade the student's answer against the model answer. " +
	"Respond with JSON only, no prose and no code fences: " +
	`{"status":"Correct"|"Partially Correct"|"Incorrect","howToImprove":"...","marksAwarded":<number>}. ` +
	"marksAwarded must be between 0 and the maximum marks given. howToImprove must never be empty."

const generatePrompt = "You are an exam author. Produce exam questions as a JSON array only, no prose and no code fences. " +
	`Each element: {"type":"mcq"|"fib"|"open","question_text":"...","marks":<1-100>,` +
	`"options":[...]/omitted,"correct_option":<index>/omitted,"correct_text":"..."/omitted,"model_answer":"..."/omitted}. ` +
	"mcq needs 2-6 options and a correct_option index. fib needs correct_text. open needs model_answer."

type ClientConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to an OpenAI-compatible chat completions endpoint for
// the two AI jobs: grading open-ended answers and drafting questions.
type Client struct {
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	validate *validator.Validate
}

func NewClient(cfg ClientConfig) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	return &Client{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    model,
		baseURL:  baseURL,
		client:   client,
		validate: validator.New(),
	}
}

type GradeInput struct {
	StudentAnswer string
	ModelAnswer   string
	Marks         int
}

type GradeResult struct {
	Status       grading.Status `json:"status" validate:"required"`
	HowToImprove string         `json:"howToImprove" validate:"required"`
	MarksAwarded float64        `json:"marksAwarded" validate:"gte=0"`
}

// GradeOpenEnded asks the model to grade one answer. The response is
// trusted only after validation: a known status, non-empty feedback,
// marks inside [0, Marks]. Anything else is ErrInvalidResponse; the
// caller substitutes its default feedback, values are never clamped.
func (c *Client) GradeOpenEnded(ctx context.Context, in GradeInput) (GradeResult, error) {
	if strings.TrimSpace(in.StudentAnswer) == "" || strings.TrimSpace(in.ModelAnswer) == "" {
		return GradeResult{}, fmt.Errorf("%w: student and model answers are required", ErrInvalidInput)
	}
	if in.Marks <= 0 {
		return GradeResult{}, fmt.Errorf("%w: marks must be positive", ErrInvalidInput)
	}

	user := fmt.Sprintf(
		"Maximum marks: %d\nModel answer:\n%s\n\nStudent answer:\n%s",
		in.Marks, in.ModelAnswer, in.StudentAnswer,
	)
	content, err := c.complete(ctx, gradingPrompt, user)
	if err != nil {
		return GradeResult{}, err
	}

	var out GradeResult
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil {
		return GradeResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := c.validate.Struct(out); err != nil {
		return GradeResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !out.Status.Valid() {
		return GradeResult{}, fmt.Errorf("%w: unknown status %q", ErrInvalidResponse, out.Status)
	}
	if strings.TrimSpace(out.HowToImprove) == "" {
		return GradeResult{}, fmt.Errorf("%w: empty howToImprove", ErrInvalidResponse)
	}
	if out.MarksAwarded > float64(in.Marks) {
		return GradeResult{}, fmt.Errorf("%w: marksAwarded %v exceeds maximum %d", ErrInvalidResponse, out.MarksAwarded, in.Marks)
	}
	return out, nil
}

type GenerateInput struct {
	NumMCQ     int
	NumFIB     int
	NumOpen    int
	Subject    string
	Course     string
	Topic      string
	SubTopic   string
	Difficulty string
	PDFText    string
	PDFURL     string
}

type GeneratedQuestion struct {
	Type          string   `json:"type" validate:"required,oneof=mcq fib open"`
	QuestionText  string   `json:"question_text" validate:"required"`
	Marks         int      `json:"marks" validate:"gte=1,lte=100"`
	Options       []string `json:"options,omitempty"`
	CorrectOption *int     `json:"correct_option,omitempty"`
	CorrectText   string   `json:"correct_text,omitempty"`
	ModelAnswer   string   `json:"model_answer,omitempty"`
}

// GenerateQuestions drafts a question batch for the exam builder. Each
// element is validated for type-appropriate fields before any of the
// batch is accepted.
func (c *Client) GenerateQuestions(ctx context.Context, in GenerateInput) ([]GeneratedQuestion, error) {
	total := in.NumMCQ + in.NumFIB + in.NumOpen
	if in.NumMCQ < 0 || in.NumFIB < 0 || in.NumOpen < 0 || total == 0 {
		return nil, fmt.Errorf("%w: question counts must be non-negative and sum to at least one", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Create %d multiple-choice, %d fill-in-blank and %d open-ended questions.\n", in.NumMCQ, in.NumFIB, in.NumOpen)
	fmt.Fprintf(&sb, "Subject: %s", in.Subject)
	for _, f := range []struct{ label, value string }{
		{"Course", in.Course},
		{"Topic", in.Topic},
		{"Sub-topic", in.SubTopic},
		{"Difficulty", in.Difficulty},
		{"Source material URL", in.PDFURL},
	} {
		if strings.TrimSpace(f.value) != "" {
			fmt.Fprintf(&sb, "\n%s: %s", f.label, f.value)
		}
	}
	if strings.TrimSpace(in.PDFText) != "" {
		fmt.Fprintf(&sb, "\n\nBase the questions on this material:\n%s", in.PDFText)
	}

	content, err := c.complete(ctx, generatePrompt, sb.String())
	if err != nil {
		return nil, err
	}

	var out []GeneratedQuestion
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(out) != total {
		return nil, fmt.Errorf("%w: expected %d questions, got %d", ErrInvalidResponse, total, len(out))
	}
	for i, q := range out {
		if err := c.validate.Struct(q); err != nil {
			return nil, fmt.Errorf("%w: question %d: %v", ErrInvalidResponse, i, err)
		}
		switch q.Type {
		case "mcq":
			if len(q.Options) < 2 || len(q.Options) > 6 {
				return nil, fmt.Errorf("%w: question %d: mcq needs 2-6 options", ErrInvalidResponse, i)
			}
			if q.CorrectOption == nil || *q.CorrectOption < 0 || *q.CorrectOption >= len(q.Options) {
				return nil, fmt.Errorf("%w: question %d: correct_option out of range", ErrInvalidResponse, i)
			}
		case "fib":
			if strings.TrimSpace(q.CorrectText) == "" {
				return nil, fmt.Errorf("%w: question %d: fib needs correct_text", ErrInvalidResponse, i)
			}
		case "open":
			if strings.TrimSpace(q.ModelAnswer) == "" {
				return nil, fmt.Errorf("%w: question %d: open needs model_answer", ErrInvalidResponse, i)
			}
		}
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	reqBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.2,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat completions status %d", resp.StatusCode)
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	content := strings.TrimSpace(out.firstContent())
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return content, nil
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (r chatCompletionResponse) firstContent() string {
	for _, c := range r.Choices {
		if strings.TrimSpace(c.Message.Content) != "" {
			return c.Message.Content
		}
	}
	return ""
}

// stripFences tolerates models that wrap JSON in markdown fences
// despite the prompt.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
