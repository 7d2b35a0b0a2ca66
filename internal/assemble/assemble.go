// Package assemble turns content generator output into a playable exam,
// falling back to cached study notes when the output cannot be trusted.
package assemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examprep/internal/model"
)

// Source records where the questions of an assembled exam came from.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Fallback limits and fixed values.
const (
	fallbackMCQLimit          = 12
	fallbackFlashcardLimit    = 4
	fallbackExamQuestionLimit = 4
	fallbackPoints            = 5
	fallbackShortAnswer       = "Answer in your own words using the key terms from the study material."
)

var validate = validator.New()

// examDoc is the wire shape of generator output. totalPoints and duration are
// accepted but ignored.
type examDoc struct {
	Title       string        `json:"title"`
	TotalPoints float64       `json:"totalPoints"`
	Duration    float64       `json:"duration"`
	Questions   []questionDoc `json:"questions" validate:"required,min=1,dive"`
}

type questionDoc struct {
	ID            int      `json:"id" validate:"gte=0"`
	Type          string   `json:"type" validate:"required,oneof=mcq trueFalse shortAnswer"`
	Question      string   `json:"question" validate:"required"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer" validate:"required"`
	Difficulty    string   `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Points        int      `json:"points" validate:"gt=0"`
}

// Options carries caller-supplied exam settings that are never taken from the
// generator.
type Options struct {
	Title           string
	DurationSeconds int
	Difficulty      model.Difficulty
}

// Assemble parses and validates generator output. Any parse or validation
// failure, including a single malformed question, discards the whole document
// and builds the exam from notes instead. The returned exam has no questions
// when neither source yields any; callers must treat that as a generation
// failure.
func Assemble(output string, notes model.StudyNotes, opts Options) (model.Exam, Source) {
	exam := model.Exam{Title: opts.Title, DurationSeconds: opts.DurationSeconds}

	questions, title, err := parseGenerated(output)
	if err == nil {
		if title != "" {
			exam.Title = title
		}
		exam.Questions = questions
		return exam, SourceGenerated
	}

	slog.Warn("generator output unusable, building fallback exam", "error", err)
	exam.Questions = Fallback(notes, opts.Difficulty)
	return exam, SourceFallback
}

func parseGenerated(output string) ([]model.Question, string, error) {
	doc, err := decode(output)
	if err != nil {
		return nil, "", err
	}
	if err := validate.Struct(doc); err != nil {
		return nil, "", fmt.Errorf("validate exam: %w", err)
	}

	questions := make([]model.Question, 0, len(doc.Questions))
	seen := make(map[int]bool, len(doc.Questions))
	for i, qd := range doc.Questions {
		if seen[qd.ID] {
			return nil, "", fmt.Errorf("question %d: duplicate id %d", i, qd.ID)
		}
		seen[qd.ID] = true

		q, err := toQuestion(qd)
		if err != nil {
			return nil, "", fmt.Errorf("question %d: %w", i, err)
		}
		questions = append(questions, q)
	}
	return questions, strings.TrimSpace(doc.Title), nil
}

// decode parses the document directly, then retries once on the first
// balanced brace span if the JSON is wrapped in prose.
func decode(output string) (examDoc, error) {
	var doc examDoc
	err := json.Unmarshal([]byte(output), &doc)
	if err == nil {
		return doc, nil
	}

	span, ok := FirstObject(output)
	if !ok {
		return doc, fmt.Errorf("parse exam: %w", err)
	}
	doc = examDoc{}
	if err := json.Unmarshal([]byte(span), &doc); err != nil {
		return doc, fmt.Errorf("parse embedded exam: %w", err)
	}
	return doc, nil
}

// FirstObject returns the first balanced {...} span in s. Braces inside JSON
// string literals are ignored.
func FirstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var errBadOptions = errors.New("mcq needs exactly 4 options containing the correct answer")

func toQuestion(qd questionDoc) (model.Question, error) {
	difficulty := model.Difficulty(qd.Difficulty)
	if difficulty == "" {
		difficulty = model.DifficultyMedium
	}
	h := model.QuestionHeader{
		ID:            qd.ID,
		Text:          strings.TrimSpace(qd.Question),
		CorrectAnswer: strings.TrimSpace(qd.CorrectAnswer),
		Difficulty:    difficulty,
		Points:        qd.Points,
	}

	switch model.QuestionType(qd.Type) {
	case model.TypeMCQ:
		if len(qd.Options) != 4 {
			return nil, errBadOptions
		}
		q := model.MCQ{QuestionHeader: h}
		found := false
		for i, opt := range qd.Options {
			q.Options[i] = strings.TrimSpace(opt)
			if q.Options[i] == "" {
				return nil, errBadOptions
			}
			if q.Options[i] == h.CorrectAnswer {
				found = true
			}
		}
		if !found {
			return nil, errBadOptions
		}
		return q, nil
	case model.TypeTrueFalse:
		switch strings.ToLower(h.CorrectAnswer) {
		case "true":
			h.CorrectAnswer = "True"
		case "false":
			h.CorrectAnswer = "False"
		default:
			return nil, fmt.Errorf("trueFalse answer must be True or False, got %q", h.CorrectAnswer)
		}
		return model.TrueFalse{QuestionHeader: h}, nil
	case model.TypeShortAnswer:
		return model.ShortAnswer{QuestionHeader: h}, nil
	}
	return nil, fmt.Errorf("unknown question type %q", qd.Type)
}

// Fallback builds questions from cached notes: up to 12 well-formed MCQs,
// then up to 4 flashcards as True/False statements, then up to 4 sample exam
// questions as short answers. Blank flashcards and questions are skipped and
// do not count toward the limits. Every question is worth 5 points. Ids run
// from 1 in that order. The result is empty when the notes hold no usable material.
func Fallback(notes model.StudyNotes, difficulty model.Difficulty) []model.Question {
	if !difficulty.Valid() {
		difficulty = model.DifficultyMedium
	}
	var questions []model.Question
	next := func(text, answer string) model.QuestionHeader {
		return model.QuestionHeader{
			ID:            len(questions) + 1,
			Text:          text,
			CorrectAnswer: answer,
			Difficulty:    difficulty,
			Points:        fallbackPoints,
		}
	}

	mcqs := 0
	for _, n := range notes.MCQs {
		if mcqs == fallbackMCQLimit {
			break
		}
		q, ok := noteMCQ(n, next(n.Question, n.Answer))
		if !ok {
			continue
		}
		questions = append(questions, q)
		mcqs++
	}

	cards := 0
	for _, fc := range notes.Flashcards {
		if cards == fallbackFlashcardLimit {
			break
		}
		question, answer := strings.TrimSpace(fc.Question), strings.TrimSpace(fc.Answer)
		if question == "" || answer == "" {
			continue
		}
		text := fmt.Sprintf("True or False: %q is answered by %q.", question, answer)
		questions = append(questions, model.TrueFalse{QuestionHeader: next(text, "True")})
		cards++
	}

	asked := 0
	for _, eq := range notes.ExamQuestions {
		if asked == fallbackExamQuestionLimit {
			break
		}
		eq = strings.TrimSpace(eq)
		if eq == "" {
			continue
		}
		questions = append(questions, model.ShortAnswer{QuestionHeader: next(eq, fallbackShortAnswer)})
		asked++
	}
	return questions
}

func noteMCQ(n model.NoteMCQ, h model.QuestionHeader) (model.MCQ, bool) {
	if len(n.Options) != 4 || strings.TrimSpace(n.Answer) == "" {
		return model.MCQ{}, false
	}
	q := model.MCQ{QuestionHeader: h}
	found := false
	for i, opt := range n.Options {
		q.Options[i] = opt
		if opt == n.Answer {
			found = true
		}
	}
	return q, found
}
