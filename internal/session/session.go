// Package session drives a single exam attempt through its phases:
// setup, active (timed answering), grading and results.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/examprep/internal/assemble"
	"github.com/pavelanni/examprep/internal/clock"
	"github.com/pavelanni/examprep/internal/model"
)

// Generator produces exam text for a study resource. The output may be
// malformed; errors are treated like unusable output.
type Generator interface {
	GenerateExam(ctx context.Context, req model.GenerationRequest) (string, error)
}

// ResourceStore loads study resources and their cached notes.
type ResourceStore interface {
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	GetNotes(ctx context.Context, resourceID string) (model.StudyNotes, error)
}

// Grader scores an attempt. A returned error leaves the session active with
// its answers intact.
type Grader interface {
	Grade(ctx context.Context, questions []model.Question, answers map[int]string, elapsedSeconds int) (model.GradingResult, error)
}

// Deps are the collaborators a Controller needs.
type Deps struct {
	Generator Generator
	Store     ResourceStore
	Grader    Grader
	Clock     clock.Clock
	// Now defaults to time.Now.
	Now func() time.Time
}

// State is a read-only snapshot of a session.
type State struct {
	Phase            model.Phase
	Config           model.ExamConfig
	Exam             *model.Exam
	Source           assemble.Source
	Answers          map[int]string
	Flagged          []int
	CurrentIndex     int
	RemainingSeconds int
	StartedAt        time.Time
	Result           *model.GradingResult
	Generating       bool
	LastError        string
}

type attempt struct {
	phase            model.Phase
	exam             *model.Exam
	source           assemble.Source
	answers          map[int]string
	flagged          map[int]struct{}
	currentIndex     int
	remainingSeconds int
	startedAt        time.Time
	gradingInFlight  bool
	result           *model.GradingResult
	lastError        string
}

func newAttempt() attempt {
	return attempt{
		phase:   model.PhaseSetup,
		answers: make(map[int]string),
		flagged: make(map[int]struct{}),
	}
}

// Controller owns one exam attempt. All methods are safe for concurrent use;
// clock callbacks and user actions are serialized on the same mutex.
//
// epoch identifies the live clock and the live attempt. It changes whenever
// the clock is invalidated or the attempt is replaced, so callbacks from an
// older clock or an abandoned generation are dropped.
type Controller struct {
	resourceID string
	deps       Deps
	log        *slog.Logger

	mu         sync.Mutex
	config     model.ExamConfig
	state      attempt
	generating bool
	timer      clock.Timer
	epoch      uint64
}

// New creates a controller in the setup phase for the given resource.
func New(resourceID string, cfg model.ExamConfig, deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	return &Controller{
		resourceID: resourceID,
		deps:       deps,
		log:        slog.With("resource_id", resourceID),
		config:     cfg,
		state:      newAttempt(),
	}
}

// Configure sets difficulty and duration. Only allowed in setup.
func (c *Controller) Configure(cfg model.ExamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.phase != model.PhaseSetup || c.generating {
		return fmt.Errorf("%w: configure in %s", model.ErrInvalidPhase, c.state.phase)
	}
	c.config = cfg
	return nil
}

// Start generates and assembles the exam, then starts the countdown.
// On a generation failure the session stays in setup.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state.phase != model.PhaseSetup {
		phase := c.state.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: start in %s", model.ErrInvalidPhase, phase)
	}
	if c.generating {
		c.mu.Unlock()
		return model.ErrGenerationInFlight
	}
	if err := c.config.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.generating = true
	cfg := c.config
	epoch := c.epoch
	c.mu.Unlock()

	exam, source, err := c.buildExam(ctx, cfg)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return fmt.Errorf("%w: session reset during generation", model.ErrInvalidPhase)
	}
	c.generating = false
	if err != nil {
		c.state.lastError = err.Error()
		c.mu.Unlock()
		c.log.Error("exam generation failed", "error", err)
		return err
	}

	c.state = newAttempt()
	c.state.phase = model.PhaseActive
	c.state.exam = &exam
	c.state.source = source
	c.state.remainingSeconds = exam.DurationSeconds
	c.state.startedAt = c.deps.Now()
	c.epoch++
	epoch = c.epoch
	c.mu.Unlock()

	c.log.Info("exam started",
		"source", source,
		"questions", len(exam.Questions),
		"total_points", exam.TotalPoints(),
		"duration_seconds", exam.DurationSeconds,
	)
	c.startClock(epoch, exam.DurationSeconds)
	return nil
}

func (c *Controller) buildExam(ctx context.Context, cfg model.ExamConfig) (model.Exam, assemble.Source, error) {
	res, err := c.deps.Store.GetResource(ctx, c.resourceID)
	if err != nil {
		return model.Exam{}, "", fmt.Errorf("%w: load resource: %w", model.ErrGenerationFailure, err)
	}

	notes, err := c.deps.Store.GetNotes(ctx, c.resourceID)
	if err != nil {
		c.log.Warn("cached notes unavailable", "error", err)
		notes = model.StudyNotes{}
	}

	var output string
	if c.deps.Generator != nil {
		output, err = c.deps.Generator.GenerateExam(ctx, model.GenerationRequest{
			ResourceTitle:    res.Title,
			Context:          res.Content,
			Difficulty:       cfg.Difficulty,
			DurationMinutes:  cfg.DurationMinutes,
			MCQCount:         model.GenerateMCQCount,
			TrueFalseCount:   model.GenerateTrueFalseCount,
			ShortAnswerCount: model.GenerateShortAnswerCount,
		})
		if err != nil {
			c.log.Warn("content generator failed", "error", err)
			output = ""
		}
	}

	exam, source := assemble.Assemble(output, notes, assemble.Options{
		Title:           strings.TrimSpace(res.Title + " Practice Exam"),
		DurationSeconds: cfg.DurationSeconds(),
		Difficulty:      cfg.Difficulty,
	})
	if len(exam.Questions) == 0 {
		return model.Exam{}, "", fmt.Errorf("%w: no usable generator output and no cached notes", model.ErrGenerationFailure)
	}
	return exam, source, nil
}

// startClock must be called without c.mu held: the clock delivers its first
// tick before returning.
func (c *Controller) startClock(epoch uint64, seconds int) {
	timer := c.deps.Clock.Start(seconds,
		func(remaining int) { c.handleTick(epoch, remaining) },
		func() { c.handleExpire(epoch) },
	)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		timer.Cancel()
		return
	}
	c.timer = timer
	c.mu.Unlock()
}

func (c *Controller) handleTick(epoch uint64, remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.state.phase != model.PhaseActive {
		c.log.Debug("dropping stale tick", "remaining", remaining)
		return
	}
	c.state.remainingSeconds = remaining
}

func (c *Controller) handleExpire(epoch uint64) {
	c.log.Info("time expired, submitting")
	if err := c.submit(context.Background(), epoch, true); err != nil {
		c.log.Error("auto-submit failed", "error", err)
	}
}

// SetAnswer records an answer. A blank value clears it.
func (c *Controller) SetAnswer(questionID int, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkQuestionLocked(questionID); err != nil {
		return err
	}
	if strings.TrimSpace(value) == "" {
		delete(c.state.answers, questionID)
		return nil
	}
	c.state.answers[questionID] = value
	return nil
}

// ToggleFlag flips the review flag on a question and reports the new value.
func (c *Controller) ToggleFlag(questionID int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkQuestionLocked(questionID); err != nil {
		return false, err
	}
	if _, ok := c.state.flagged[questionID]; ok {
		delete(c.state.flagged, questionID)
		return false, nil
	}
	c.state.flagged[questionID] = struct{}{}
	return true, nil
}

// Navigate moves the current question pointer. It has no effect on scoring.
func (c *Controller) Navigate(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.phase != model.PhaseActive {
		return fmt.Errorf("%w: navigate in %s", model.ErrInvalidPhase, c.state.phase)
	}
	if index < 0 || index >= len(c.state.exam.Questions) {
		return fmt.Errorf("%w: index %d", model.ErrUnknownQuestion, index)
	}
	c.state.currentIndex = index
	return nil
}

func (c *Controller) checkQuestionLocked(questionID int) error {
	if c.state.phase != model.PhaseActive {
		return fmt.Errorf("%w: answering in %s", model.ErrInvalidPhase, c.state.phase)
	}
	if _, ok := c.state.exam.Question(questionID); !ok {
		return fmt.Errorf("%w: id %d", model.ErrUnknownQuestion, questionID)
	}
	return nil
}

// Submit grades the attempt. Repeated or concurrent calls, including a race
// with expiry, grade only once; the extra calls return nil.
func (c *Controller) Submit(ctx context.Context) error {
	return c.submit(ctx, 0, false)
}

func (c *Controller) submit(ctx context.Context, epoch uint64, auto bool) error {
	c.mu.Lock()
	if auto && epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	switch {
	case c.state.phase == model.PhaseGrading, c.state.phase == model.PhaseResults:
		c.mu.Unlock()
		return nil
	case c.state.phase != model.PhaseActive:
		phase := c.state.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: submit in %s", model.ErrInvalidPhase, phase)
	case c.state.gradingInFlight:
		c.mu.Unlock()
		return nil
	}

	timer := c.timer
	c.timer = nil
	c.epoch++
	epoch = c.epoch

	c.state.gradingInFlight = true
	c.state.phase = model.PhaseGrading
	if auto {
		c.state.remainingSeconds = 0
	}
	questions := c.state.exam.Questions
	answers := make(map[int]string, len(c.state.answers))
	for id, v := range c.state.answers {
		answers[id] = v
	}
	elapsed := int(c.deps.Now().Sub(c.state.startedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	c.mu.Unlock()

	if timer != nil {
		timer.Cancel()
	}
	c.log.Info("grading", "auto", auto, "answered", len(answers), "elapsed_seconds", elapsed)

	result, err := c.deps.Grader.Grade(ctx, questions, answers, elapsed)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	c.state.gradingInFlight = false
	if err != nil {
		c.state.phase = model.PhaseActive
		c.state.lastError = err.Error()
		remaining := c.state.remainingSeconds
		c.epoch++
		epoch = c.epoch
		c.mu.Unlock()

		c.log.Warn("grading failed, answers kept", "error", err, "remaining_seconds", remaining)
		if remaining > 0 {
			c.startClock(epoch, remaining)
		}
		return fmt.Errorf("%w: %w", model.ErrGradingTransport, err)
	}
	c.state.phase = model.PhaseResults
	c.state.result = &result
	c.state.lastError = ""
	c.mu.Unlock()

	c.log.Info("exam graded",
		"score", result.Score,
		"total_points", result.TotalPoints,
		"percentage", result.Percentage,
		"grade", result.Grade,
	)
	return nil
}

// Retake discards the attempt and returns to a fresh setup. The configuration
// is kept. Not allowed while grading.
func (c *Controller) Retake() error {
	c.mu.Lock()
	if c.state.phase == model.PhaseGrading {
		c.mu.Unlock()
		return fmt.Errorf("%w: retake while grading", model.ErrInvalidPhase)
	}
	timer := c.resetLocked()
	c.mu.Unlock()

	if timer != nil {
		timer.Cancel()
	}
	c.log.Info("retake, session reset")
	return nil
}

// Close abandons the attempt in any phase and stops its clock.
func (c *Controller) Close() {
	c.mu.Lock()
	timer := c.resetLocked()
	c.mu.Unlock()

	if timer != nil {
		timer.Cancel()
	}
}

func (c *Controller) resetLocked() clock.Timer {
	timer := c.timer
	c.timer = nil
	c.epoch++
	c.generating = false
	c.state = newAttempt()
	return timer
}

// State returns a snapshot of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Phase:            c.state.phase,
		Config:           c.config,
		Exam:             c.state.exam,
		Source:           c.state.source,
		Answers:          make(map[int]string, len(c.state.answers)),
		Flagged:          make([]int, 0, len(c.state.flagged)),
		CurrentIndex:     c.state.currentIndex,
		RemainingSeconds: c.state.remainingSeconds,
		StartedAt:        c.state.startedAt,
		Generating:       c.generating,
		LastError:        c.state.lastError,
	}
	for id, v := range c.state.answers {
		s.Answers[id] = v
	}
	for id := range c.state.flagged {
		s.Flagged = append(s.Flagged, id)
	}
	sort.Ints(s.Flagged)
	if c.state.phase == model.PhaseResults && c.state.result != nil {
		r := *c.state.result
		s.Result = &r
	}
	return s
}

// ResourceID returns the resource the session was created for.
func (c *Controller) ResourceID() string {
	return c.resourceID
}
