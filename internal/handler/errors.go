package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/examprep/internal/i18n"
	"github.com/pavelanni/examprep/internal/model"
)

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// statusFor maps domain errors to an HTTP status and a message ID.
func statusFor(err error) (int, string) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "BadRequest"
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, "SessionNotFound"
	case errors.Is(err, model.ErrResourceNotFound):
		return http.StatusNotFound, "ResourceNotFound"
	case errors.Is(err, model.ErrGenerationInFlight):
		return http.StatusConflict, "GenerationInFlight"
	case errors.Is(err, model.ErrInvalidPhase):
		return http.StatusConflict, "InvalidPhase"
	case errors.Is(err, model.ErrInvalidConfig):
		return http.StatusUnprocessableEntity, "InvalidConfig"
	case errors.Is(err, model.ErrUnknownQuestion):
		return http.StatusUnprocessableEntity, "UnknownQuestion"
	case errors.Is(err, model.ErrGenerationFailure):
		return http.StatusBadGateway, "GenerationFailed"
	case errors.Is(err, model.ErrGradingTransport):
		return http.StatusBadGateway, "GradingFailed"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorPhase(w, r, err, "")
}

// writeErrorPhase renders a localized error. The phase fills in the
// InvalidPhase message.
func writeErrorPhase(w http.ResponseWriter, r *http.Request, err error, phase model.Phase) {
	status, msgID := statusFor(err)
	resp := errorResponse{
		Error: i18n.Td(r.Context(), msgID, map[string]any{
			"Detail": err.Error(),
			"Phase":  phase,
		}),
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
