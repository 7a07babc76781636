package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"taskflow/internal/tracker"
	"taskflow/pkg/interfaces"
	"taskflow/pkg/types"
)

// ErrorResponse is the single error shape of the REST API
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sendError writes a consistent JSON error body
func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// sendJSON writes v with the given status
func sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrNotMember), errors.Is(err, tracker.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidID),
		errors.Is(err, types.ErrInvalidTitle),
		errors.Is(err, types.ErrInvalidStatus),
		errors.Is(err, types.ErrInvalidPriority),
		errors.Is(err, types.ErrEmptyComment),
		errors.Is(err, types.ErrInvalidName),
		errors.Is(err, types.ErrInvalidRole),
		errors.Is(err, tracker.ErrInvalidUser):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sendDomainError maps err and hides internal causes from the client
func (s *Server) sendDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", requestFields(r, err)...)
		message = "Internal error"
	}
	sendError(w, message, code)
}
