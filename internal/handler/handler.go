package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/session"
)

// ResourceLister lists the study resources exams can be built from.
type ResourceLister interface {
	ListResources(ctx context.Context) ([]model.Resource, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	resources ResourceLister
	sessions  *session.Registry
	validate  *validator.Validate
	checks    map[string]HealthCheck
}

// New creates a new Handler.
func New(resources ResourceLister, sessions *session.Registry) *Handler {
	return &Handler{
		resources: resources,
		sessions:  sessions,
		validate:  validator.New(),
		checks:    make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a named dependency check for /healthz.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/resources", h.handleListResources)
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleDeleteSession)
		r.Post("/configure", h.handleConfigure)
		r.Post("/start", h.handleStart)
		r.Put("/answers/{questionID}", h.handleAnswer)
		r.Post("/flags/{questionID}", h.handleFlag)
		r.Post("/navigate", h.handleNavigate)
		r.Post("/submit", h.handleSubmit)
		r.Post("/retake", h.handleRetake)
	})
}

type createSessionRequest struct {
	ResourceID string `json:"resource_id" validate:"required"`
}

// configureRequest is checked by model.ExamConfig.Validate, not by tags, so
// a zero or missing field reports InvalidConfig.
type configureRequest struct {
	Difficulty      string `json:"difficulty"`
	DurationMinutes int    `json:"duration_minutes"`
}

type answerRequest struct {
	Value *string `json:"value" validate:"required"`
}

type navigateRequest struct {
	Index *int `json:"index" validate:"required"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	writeJSON(w, status, map[string]any{
		"status":       http.StatusText(status),
		"sessions":     h.sessions.Len(),
		"dependencies": deps,
	})
}

func (h *Handler) handleListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.resources.ListResources(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if resources == nil {
		resources = []model.Resource{}
	}
	writeJSON(w, http.StatusOK, resources)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, c, err := h.sessions.Create(r.Context(), req.ResourceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newStateView(r.Context(), id, c))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newStateView(r.Context(), id, c))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Delete(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleConfigure(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	var req configureRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := c.Configure(model.ExamConfig{
		Difficulty:      model.Difficulty(req.Difficulty),
		DurationMinutes: req.DurationMinutes,
	})
	h.respond(w, r, id, c, err)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	// Generation outlives a dropped client connection.
	err := c.Start(context.WithoutCancel(r.Context()))
	h.respond(w, r, id, c, err)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	questionID, ok := questionParam(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, id, c, c.SetAnswer(questionID, *req.Value))
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	questionID, ok := questionParam(w, r)
	if !ok {
		return
	}
	_, err := c.ToggleFlag(questionID)
	h.respond(w, r, id, c, err)
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, id, c, c.Navigate(*req.Index))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, r, id, c, c.Submit(context.WithoutCancel(r.Context())))
}

func (h *Handler) handleRetake(w http.ResponseWriter, r *http.Request) {
	id, c, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, r, id, c, c.Retake())
}

// respond writes the session state on success and the mapped error otherwise.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, id uuid.UUID, c *session.Controller, err error) {
	if err != nil {
		writeErrorPhase(w, r, err, c.State().Phase)
		return
	}
	writeJSON(w, http.StatusOK, newStateView(r.Context(), id, c))
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (uuid.UUID, *session.Controller, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, model.ErrSessionNotFound)
		return uuid.Nil, nil, false
	}
	c, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, r, err)
		return uuid.Nil, nil, false
	}
	return id, c, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, badRequest{fmt.Errorf("decode body: %w", err)})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, r, badRequest{err})
		return false
	}
	return true
}

func questionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, r, badRequest{fmt.Errorf("question id: %w", err)})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// badRequest marks malformed or invalid request bodies.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }
