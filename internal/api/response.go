package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// MediaType is the content type of every API response.
const MediaType = "application/json; charset=utf-8"

// ErrorResponse is the envelope for error replies.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error code and the request id it belongs to.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes an OJSError in the error envelope.
func WriteError(w http.ResponseWriter, status int, ojsErr *core.OJSError) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:      ojsErr.Code,
		Message:   ojsErr.Message,
		Retryable: ojsErr.Retryable,
		Details:   ojsErr.Details,
		RequestID: w.Header().Get("X-Request-Id"),
	}})
}

// HandleError maps err to a status code and writes it. Errors that are not an
// OJSError are reported as internal errors without leaking their text.
func HandleError(w http.ResponseWriter, err error) {
	var ojsErr *core.OJSError
	if !errors.As(err, &ojsErr) {
		slog.Error("unhandled error", "error", err)
		WriteError(w, http.StatusInternalServerError, core.NewInternalError("internal server error"))
		return
	}
	WriteError(w, statusFor(ojsErr.Code), ojsErr)
}

func statusFor(code string) int {
	switch code {
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict, core.ErrCodeConcurrencyRejected, core.ErrCodeDuplicateRegistration:
		return http.StatusConflict
	case core.ErrCodeInvalidRequest, core.ErrCodeValidationError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
