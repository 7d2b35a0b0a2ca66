package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examprep/internal/assemble"
	"github.com/pavelanni/examprep/internal/i18n"
	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/session"
)

var trueFalseOptions = []string{"True", "False"}

type questionView struct {
	ID         int                `json:"id"`
	Type       model.QuestionType `json:"type"`
	Text       string             `json:"text"`
	Options    []string           `json:"options,omitempty"`
	Difficulty model.Difficulty   `json:"difficulty"`
	Points     int                `json:"points"`
	// Only filled once the session has results.
	CorrectAnswer string `json:"correct_answer,omitempty"`
}

type examView struct {
	Title           string         `json:"title"`
	DurationSeconds int            `json:"duration_seconds"`
	TotalPoints     int            `json:"total_points"`
	Questions       []questionView `json:"questions"`
}

type stateView struct {
	ID               uuid.UUID            `json:"id"`
	ResourceID       string               `json:"resource_id"`
	Phase            model.Phase          `json:"phase"`
	Config           model.ExamConfig     `json:"config"`
	Generating       bool                 `json:"generating"`
	Exam             *examView            `json:"exam,omitempty"`
	Source           assemble.Source      `json:"source,omitempty"`
	Answers          map[string]string    `json:"answers"`
	Flagged          []int                `json:"flagged"`
	CurrentIndex     int                  `json:"current_index"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	Result           *model.GradingResult `json:"result,omitempty"`
	LastError        string               `json:"last_error,omitempty"`
	Notices          []string             `json:"notices,omitempty"`
}

func newStateView(ctx context.Context, id uuid.UUID, c *session.Controller) stateView {
	st := c.State()
	v := stateView{
		ID:               id,
		ResourceID:       c.ResourceID(),
		Phase:            st.Phase,
		Config:           st.Config,
		Generating:       st.Generating,
		Source:           st.Source,
		Answers:          make(map[string]string, len(st.Answers)),
		Flagged:          st.Flagged,
		CurrentIndex:     st.CurrentIndex,
		RemainingSeconds: st.RemainingSeconds,
		Result:           st.Result,
		LastError:        st.LastError,
	}
	for qid, a := range st.Answers {
		v.Answers[strconv.Itoa(qid)] = a
	}
	if !st.StartedAt.IsZero() {
		t := st.StartedAt
		v.StartedAt = &t
	}
	if st.Exam != nil {
		v.Exam = newExamView(st.Exam, st.Phase == model.PhaseResults)
	}

	if st.Source == assemble.SourceFallback {
		v.Notices = append(v.Notices, i18n.T(ctx, "FallbackNotice"))
	}
	if st.Phase == model.PhaseActive && st.Exam != nil {
		if n := len(st.Exam.Questions) - len(st.Answers); n > 0 {
			v.Notices = append(v.Notices, i18n.Tp(ctx, "Unanswered", n))
		}
	}
	return v
}

func newExamView(e *model.Exam, reveal bool) *examView {
	ev := &examView{
		Title:           e.Title,
		DurationSeconds: e.DurationSeconds,
		TotalPoints:     e.TotalPoints(),
		Questions:       make([]questionView, 0, len(e.Questions)),
	}
	for _, q := range e.Questions {
		h := q.Header()
		qv := questionView{
			ID:         h.ID,
			Type:       q.Type(),
			Text:       h.Text,
			Difficulty: h.Difficulty,
			Points:     h.Points,
		}
		switch q := q.(type) {
		case model.MCQ:
			qv.Options = q.Options[:]
		case model.TrueFalse:
			qv.Options = trueFalseOptions
		}
		if reveal {
			qv.CorrectAnswer = h.CorrectAnswer
		}
		ev.Questions = append(ev.Questions, qv)
	}
	return ev
}
