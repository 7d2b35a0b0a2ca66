package model

import (
	"fmt"
	"time"
)

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known difficulty levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// QuestionType identifies the variant of a Question.
type QuestionType string

const (
	TypeMCQ         QuestionType = "mcq"
	TypeTrueFalse   QuestionType = "trueFalse"
	TypeShortAnswer QuestionType = "shortAnswer"
)

// QuestionHeader holds the fields every question variant carries.
type QuestionHeader struct {
	ID            int
	Text          string
	CorrectAnswer string
	Difficulty    Difficulty
	Points        int
}

// Header returns the shared question fields.
func (h QuestionHeader) Header() QuestionHeader { return h }

// Question is one of MCQ, TrueFalse or ShortAnswer. The set is closed.
type Question interface {
	Header() QuestionHeader
	Type() QuestionType
	question()
}

// MCQ is a multiple-choice question with exactly four options.
// CorrectAnswer equals one of Options.
type MCQ struct {
	QuestionHeader
	Options [4]string
}

func (MCQ) Type() QuestionType { return TypeMCQ }
func (MCQ) question()          {}

// TrueFalse is a question whose CorrectAnswer is "True" or "False".
type TrueFalse struct {
	QuestionHeader
}

func (TrueFalse) Type() QuestionType { return TypeTrueFalse }
func (TrueFalse) question()          {}

// ShortAnswer is a free-text question graded by keyword overlap.
type ShortAnswer struct {
	QuestionHeader
}

func (ShortAnswer) Type() QuestionType { return TypeShortAnswer }
func (ShortAnswer) question()          {}

// Exam is an assembled, immutable set of questions.
type Exam struct {
	Title           string
	DurationSeconds int
	Questions       []Question
}

// TotalPoints sums the points of the exam's questions.
func (e *Exam) TotalPoints() int {
	total := 0
	for _, q := range e.Questions {
		total += q.Header().Points
	}
	return total
}

// Question returns the question with the given id.
func (e *Exam) Question(id int) (Question, bool) {
	for _, q := range e.Questions {
		if q.Header().ID == id {
			return q, true
		}
	}
	return nil, false
}

// NoteMCQ is a cached multiple-choice question from structured study notes.
type NoteMCQ struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// Flashcard is a cached question/answer pair from structured study notes.
type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// StudyNotes is the cached structured material used to build a fallback exam.
// Any of the lists may be empty.
type StudyNotes struct {
	Summary       string      `json:"summary,omitempty"`
	MCQs          []NoteMCQ   `json:"mcqs"`
	Flashcards    []Flashcard `json:"flashcards"`
	ExamQuestions []string    `json:"examQuestions"`
}

// Empty reports whether the notes carry no fallback material.
func (n StudyNotes) Empty() bool {
	return len(n.MCQs) == 0 && len(n.Flashcards) == 0 && len(n.ExamQuestions) == 0
}

// Resource is a study resource an exam is generated from.
type Resource struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResourceImport is used for loading resources and their notes from JSON.
type ResourceImport struct {
	ID      string     `json:"id" validate:"required"`
	Title   string     `json:"title" validate:"required"`
	Content string     `json:"content"`
	Notes   StudyNotes `json:"notes"`
}

// QuestionResult is the graded outcome of a single question.
type QuestionResult struct {
	ID            int          `json:"id"`
	Type          QuestionType `json:"type"`
	UserAnswer    string       `json:"user_answer"`
	CorrectAnswer string       `json:"correct_answer"`
	IsCorrect     bool         `json:"is_correct"`
	EarnedPoints  int          `json:"earned_points"`
	Points        int          `json:"points"`
}

// GradingResult is the outcome of grading one attempt.
type GradingResult struct {
	Breakdown      []QuestionResult `json:"breakdown"`
	Score          int              `json:"score"`
	TotalPoints    int              `json:"total_points"`
	Percentage     int              `json:"percentage"`
	Grade          string           `json:"grade"`
	ElapsedSeconds int              `json:"elapsed_seconds"`
}

// Phase is the Session Controller's current state.
type Phase string

const (
	PhaseSetup   Phase = "setup"
	PhaseActive  Phase = "active"
	PhaseGrading Phase = "grading"
	PhaseResults Phase = "results"
)

// Question mix requested from the content generator.
const (
	GenerateMCQCount         = 12
	GenerateTrueFalseCount   = 4
	GenerateShortAnswerCount = 4
)

// Duration limits for a configured exam, in minutes.
const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 300
)

// ExamConfig holds the per-session settings collected in Setup.
type ExamConfig struct {
	Difficulty      Difficulty `json:"difficulty"`
	DurationMinutes int        `json:"duration_minutes"`
}

// DurationSeconds returns the configured duration in seconds.
func (c ExamConfig) DurationSeconds() int {
	return c.DurationMinutes * 60
}

// Validate checks the configuration bounds.
func (c ExamConfig) Validate() error {
	if !c.Difficulty.Valid() {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidConfig, c.Difficulty)
	}
	if c.DurationMinutes < MinDurationMinutes || c.DurationMinutes > MaxDurationMinutes {
		return fmt.Errorf("%w: duration must be between %d and %d minutes, got %d",
			ErrInvalidConfig, MinDurationMinutes, MaxDurationMinutes, c.DurationMinutes)
	}
	return nil
}

// PointsFor returns the point band the generator is asked to use for a difficulty.
func PointsFor(d Difficulty) int {
	switch d {
	case DifficultyEasy:
		return 5
	case DifficultyHard:
		return 15
	default:
		return 10
	}
}

// GenerationRequest is what the content generator is asked to produce.
type GenerationRequest struct {
	ResourceTitle    string
	Context          string
	Difficulty       Difficulty
	DurationMinutes  int
	MCQCount         int
	TrueFalseCount   int
	ShortAnswerCount int
}
