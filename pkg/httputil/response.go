package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/pkg/logger"
	"github.com/utafrali/projecthub/pkg/validator"
)

// Response is the GraphQL-over-HTTP response envelope. Transport failures that
// happen before a query runs use the same shape so clients parse one format.
type Response struct {
	Data   any             `json:"data,omitempty"`
	Errors []ErrorResponse `json:"errors,omitempty"`
}

// ErrorResponse is one entry of the errors list.
type ErrorResponse struct {
	Message    string     `json:"message"`
	Extensions Extensions `json:"extensions"`
}

// Extensions carries the machine-readable part of an error.
type Extensions struct {
	Code      string            `json:"code"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a single-error response for err. AppErrors keep their
// code and status; validation errors report per-field messages; anything
// else is logged and reported as an opaque internal error. It prefers the
// request-scoped logger from context over the fallback logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() {
		l = fallback
	}

	requestID := logger.CorrelationIDFromContext(r.Context())

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, Response{Errors: []ErrorResponse{{
			Message:    "request validation failed",
			Extensions: Extensions{Code: apperrors.CodeInvalidInput, Fields: valErr.Fields(), RequestID: requestID},
		}}})
		return
	}

	appErr := apperrors.Public(err)
	if appErr.Status == http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, appErr.Status, Response{Errors: []ErrorResponse{{
		Message:    appErr.Message,
		Extensions: Extensions{Code: appErr.Code, RequestID: requestID},
	}}})
}
