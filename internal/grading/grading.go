// Package grading scores an exam attempt. Everything here is pure except the
// warning logged for questions that arrive without a correct answer.
package grading

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/pavelanni/examprep/internal/model"
)

// Short-answer credit thresholds on the keyword match ratio.
const (
	fullCreditRatio    = 0.6
	partialCreditRatio = 0.3
	minKeywordLength   = 4
)

// Grade scores every question in order and aggregates the result.
// answers maps question id to the submitted value; a missing key is unanswered.
func Grade(questions []model.Question, answers map[int]string, elapsedSeconds int) model.GradingResult {
	result := model.GradingResult{
		Breakdown:      make([]model.QuestionResult, 0, len(questions)),
		ElapsedSeconds: elapsedSeconds,
	}

	for _, q := range questions {
		qr := gradeQuestion(q, answers[q.Header().ID])
		result.Breakdown = append(result.Breakdown, qr)
		result.Score += qr.EarnedPoints
		result.TotalPoints += qr.Points
	}

	result.Percentage = Percentage(result.Score, result.TotalPoints)
	result.Grade = LetterGrade(result.Percentage)
	return result
}

func gradeQuestion(q model.Question, userAnswer string) model.QuestionResult {
	h := q.Header()
	qr := model.QuestionResult{
		ID:            h.ID,
		Type:          q.Type(),
		UserAnswer:    userAnswer,
		CorrectAnswer: h.CorrectAnswer,
		Points:        h.Points,
	}

	if strings.TrimSpace(h.CorrectAnswer) == "" {
		slog.Warn("question has no correct answer, scoring zero", "question_id", h.ID, "type", q.Type())
		return qr
	}

	switch q.(type) {
	case model.MCQ, model.TrueFalse:
		qr.IsCorrect = ExactMatch(userAnswer, h.CorrectAnswer)
		if qr.IsCorrect {
			qr.EarnedPoints = h.Points
		}
	case model.ShortAnswer:
		qr.EarnedPoints, qr.IsCorrect = shortAnswerCredit(MatchRatio(userAnswer, h.CorrectAnswer), userAnswer, h.Points)
	}
	return qr
}

// ExactMatch compares answers ignoring surrounding whitespace and case.
// An empty user answer never matches.
func ExactMatch(userAnswer, correctAnswer string) bool {
	u := normalize(userAnswer)
	if u == "" {
		return false
	}
	return u == normalize(correctAnswer)
}

// MatchRatio is the fraction of the reference keywords (words longer than
// three characters) that overlap, by substring in either direction, with a
// keyword of the user's answer. A reference without keywords yields 0.
func MatchRatio(userAnswer, correctAnswer string) float64 {
	correctWords := keywords(correctAnswer)
	if len(correctWords) == 0 {
		return 0
	}
	userWords := keywords(userAnswer)

	matches := 0
	for _, cw := range correctWords {
		for _, uw := range userWords {
			if strings.Contains(cw, uw) || strings.Contains(uw, cw) {
				matches++
				break
			}
		}
	}
	return float64(matches) / float64(len(correctWords))
}

func shortAnswerCredit(ratio float64, userAnswer string, points int) (int, bool) {
	if strings.TrimSpace(userAnswer) == "" {
		return 0, false
	}
	switch {
	case ratio >= fullCreditRatio:
		return points, true
	case ratio >= partialCreditRatio:
		return int(math.Round(float64(points) * 0.5)), false
	default:
		return 0, false
	}
}

// Percentage returns score/total as a rounded integer percentage, 0 when total is 0.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(score) / float64(total)))
}

// LetterGrade maps a percentage to a letter grade.
func LetterGrade(percentage int) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 80:
		return "A"
	case percentage >= 70:
		return "B"
	case percentage >= 60:
		return "C"
	case percentage >= 50:
		return "D"
	default:
		return "F"
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func keywords(s string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if len([]rune(w)) >= minKeywordLength {
			words = append(words, w)
		}
	}
	return words
}

// Local grades in-process. It satisfies the session controller's grader
// contract and never fails unless the context is already done.
type Local struct{}

// Grade implements the grader contract.
func (Local) Grade(ctx context.Context, questions []model.Question, answers map[int]string, elapsedSeconds int) (model.GradingResult, error) {
	if err := ctx.Err(); err != nil {
		return model.GradingResult{}, err
	}
	return Grade(questions, answers, elapsedSeconds), nil
}
