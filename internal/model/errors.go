package model

import "errors"

var (
	// ErrGenerationFailure is returned when neither the generator nor the cached
	// notes produced a playable exam.
	ErrGenerationFailure = errors.New("exam generation failed")
	// ErrGenerationInFlight is returned when start is called while generation is running.
	ErrGenerationInFlight = errors.New("exam generation already in progress")
	// ErrGradingTransport indicates the grader failed; answers are preserved.
	ErrGradingTransport = errors.New("grading failed")
	// ErrInvalidPhase is returned for operations not allowed in the current phase.
	ErrInvalidPhase = errors.New("operation not allowed in current phase")
	// ErrUnknownQuestion indicates a question id or index outside the exam.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrInvalidConfig indicates an out-of-range exam configuration.
	ErrInvalidConfig = errors.New("invalid exam configuration")
	// ErrSessionNotFound is returned when a session id is not registered.
	ErrSessionNotFound = errors.New("session not found")
	// ErrResourceNotFound is returned when a study resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
)
