package grading

import (
	"fmt"
	"regexp"
	"strings"
)

type QuestionType string

const (
	TypeMultipleChoice QuestionType = "mcq"
	TypeFillInBlank    QuestionType = "fib"
	TypeOpenEnded      QuestionType = "open"
)

func ParseQuestionType(v string) (QuestionType, bool) {
	switch QuestionType(strings.TrimSpace(strings.ToLower(v))) {
	case TypeMultipleChoice:
		return TypeMultipleChoice, true
	case TypeFillInBlank:
		return TypeFillInBlank, true
	case TypeOpenEnded:
		return TypeOpenEnded, true
	default:
		return "", false
	}
}

type Status string

const (
	StatusCorrect          Status = "Correct"
	StatusPartiallyCorrect Status = "Partially Correct"
	StatusIncorrect        Status = "Incorrect"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCorrect, StatusPartiallyCorrect, StatusIncorrect:
		return true
	default:
		return false
	}
}

type AnswerKind string

const (
	AnswerChoice AnswerKind = "choice"
	AnswerBlanks AnswerKind = "blanks"
	AnswerText   AnswerKind = "text"
)

// Answer is the tagged union of learner responses: an option index for
// multiple choice, one string per blank for fill-in-blank, free text for
// open-ended. Exactly one variant is meaningful per Kind.
type Answer struct {
	Kind   AnswerKind `json:"kind"`
	Option int        `json:"option,omitempty"`
	Blanks []string   `json:"blanks,omitempty"`
	Text   string     `json:"text,omitempty"`
}

func ChoiceAnswer(option int) Answer {
	return Answer{Kind: AnswerChoice, Option: option}
}

func BlanksAnswer(parts ...string) Answer {
	return Answer{Kind: AnswerBlanks, Blanks: parts}
}

func TextAnswer(text string) Answer {
	return Answer{Kind: AnswerText, Text: text}
}

// Empty reports whether the answer carries no usable response. An empty
// answer never earns marks and never triggers an AI grading call.
func (a Answer) Empty() bool {
	switch a.Kind {
	case AnswerChoice:
		return a.Option < 0
	case AnswerBlanks:
		for _, p := range a.Blanks {
			if strings.TrimSpace(p) != "" {
				return false
			}
		}
		return true
	case AnswerText:
		return strings.TrimSpace(a.Text) == ""
	default:
		return true
	}
}

// FreeText flattens the answer for AI grading: blanks join with single
// spaces, a choice answer has no free-text form.
func (a Answer) FreeText() string {
	switch a.Kind {
	case AnswerText:
		return a.Text
	case AnswerBlanks:
		return strings.Join(a.Blanks, " ")
	default:
		return ""
	}
}

// Item is the minimal question view the engine needs. Callers convert
// their richer question records into this.
type Item struct {
	ID            string
	Type          QuestionType
	Marks         int
	Options       []string
	CorrectOption int
	CorrectText   string
	ModelAnswer   string
}

type MCQFeedback struct {
	IsCorrect         bool   `json:"is_correct"`
	Feedback          string `json:"feedback"`
	CorrectAnswer     int    `json:"correct_answer"`
	CorrectOptionText string `json:"correct_option_text"`
}

type FIBFeedback struct {
	IsCorrect     bool   `json:"is_correct"`
	Feedback      string `json:"feedback"`
	CorrectAnswer string `json:"correct_answer"`
}

// EvalResult is the session-scoped outcome of evaluating one question.
type EvalResult struct {
	Status        Status  `json:"status"`
	MarksAwarded  float64 `json:"marks_awarded"`
	Feedback      string  `json:"feedback"`
	CorrectOption *int    `json:"correct_option,omitempty"`
	CorrectText   string  `json:"correct_text,omitempty"`
}

var nonWordRe = regexp.MustCompile(`[^\w\s]`)

// Normalize prepares a free-text answer for comparison: surrounding
// whitespace trimmed, case folded, punctuation stripped.
func Normalize(s string) string {
	return nonWordRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

func GradeMultipleChoice(selected, correct int, options []string) MCQFeedback {
	correctText := ""
	if correct >= 0 && correct < len(options) {
		correctText = options[correct]
	}

	if selected == correct {
		return MCQFeedback{
			IsCorrect:         true,
			Feedback:          "Correct! Well done.",
			CorrectAnswer:     correct,
			CorrectOptionText: correctText,
		}
	}
	return MCQFeedback{
		IsCorrect:         false,
		Feedback:          fmt.Sprintf("Incorrect. The correct answer is: %s", correctText),
		CorrectAnswer:     correct,
		CorrectOptionText: correctText,
	}
}

// GradeFillInBlank joins per-blank parts with single spaces, normalizes
// both sides, and requires an exact match. No partial credit, no fuzzy
// matching: blanks test recall of exact terms. A question whose canonical
// answer normalizes to nothing never matches any input.
func GradeFillInBlank(parts []string, correct string) FIBFeedback {
	normalizedCorrect := Normalize(correct)
	normalizedStudent := Normalize(strings.Join(parts, " "))

	isCorrect := normalizedCorrect != "" && normalizedStudent == normalizedCorrect
	if isCorrect {
		return FIBFeedback{
			IsCorrect:     true,
			Feedback:      "Correct! Good work.",
			CorrectAnswer: correct,
		}
	}
	return FIBFeedback{
		IsCorrect:     false,
		Feedback:      fmt.Sprintf("Incorrect. The correct answer is: %s", correct),
		CorrectAnswer: correct,
	}
}

// blankParts adapts either answer shape a fill-in-blank question accepts.
func blankParts(a Answer) ([]string, bool) {
	switch a.Kind {
	case AnswerBlanks:
		return a.Blanks, true
	case AnswerText:
		return []string{a.Text}, true
	default:
		return nil, false
	}
}

// TotalMarks sums marks for every deterministically graded question whose
// answer is correct. Open-ended questions contribute nothing here; their
// marks are added from AI results during final submission. An unanswered
// question or an answer of the wrong shape contributes zero.
func TotalMarks(items []Item, answers map[string]Answer) float64 {
	total := 0.0
	for _, it := range items {
		ans, ok := answers[it.ID]
		if !ok || ans.Empty() {
			continue
		}

		switch it.Type {
		case TypeMultipleChoice:
			if ans.Kind != AnswerChoice {
				continue
			}
			if GradeMultipleChoice(ans.Option, it.CorrectOption, it.Options).IsCorrect {
				total += float64(it.Marks)
			}
		case TypeFillInBlank:
			parts, ok := blankParts(ans)
			if !ok {
				continue
			}
			if GradeFillInBlank(parts, it.CorrectText).IsCorrect {
				total += float64(it.Marks)
			}
		case TypeOpenEnded:
			// graded by the AI collaborator, folded in at submission
		}
	}
	return total
}

// MaxMarks sums every question's marks regardless of type.
func MaxMarks(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.Marks
	}
	return total
}

// Evaluate grades one deterministic question and shapes the result the
// way the session displays it. Open-ended questions are not evaluated
// locally.
func Evaluate(it Item, ans Answer) (EvalResult, bool) {
	switch it.Type {
	case TypeMultipleChoice:
		if ans.Kind != AnswerChoice {
			return EvalResult{}, false
		}
		res := GradeMultipleChoice(ans.Option, it.CorrectOption, it.Options)
		out := EvalResult{
			Status:      StatusIncorrect,
			Feedback:    res.Feedback,
			CorrectText: res.CorrectOptionText,
		}
		correct := res.CorrectAnswer
		out.CorrectOption = &correct
		if res.IsCorrect {
			out.Status = StatusCorrect
			out.MarksAwarded = float64(it.Marks)
		}
		return out, true
	case TypeFillInBlank:
		parts, ok := blankParts(ans)
		if !ok {
			return EvalResult{}, false
		}
		res := GradeFillInBlank(parts, it.CorrectText)
		out := EvalResult{
			Status:      StatusIncorrect,
			Feedback:    res.Feedback,
			CorrectText: res.CorrectAnswer,
		}
		if res.IsCorrect {
			out.Status = StatusCorrect
			out.MarksAwarded = float64(it.Marks)
		}
		return out, true
	default:
		return EvalResult{}, false
	}
}
