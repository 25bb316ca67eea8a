package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInternal        = errors.New("internal error")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrServiceUnavail  = errors.New("service unavailable")
)

// Client-facing error codes. GraphQL responses carry them in extensions.code.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL"
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// AuthenticationFailed creates the single 401 error used for every credential,
// access-token and refresh-token failure. The message is fixed so callers
// cannot tell which check rejected them.
func AuthenticationFailed() *AppError {
	return &AppError{
		Code:    CodeUnauthenticated,
		Message: "authentication failed",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthenticated,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Conflict creates a 409 error for version or state conflicts.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// RateLimited creates a 429 error.
func RateLimited() *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: "too many requests",
		Status:  http.StatusTooManyRequests,
		Err:     ErrRateLimited,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Public converts any error into the AppError that may be shown to a client.
// AppErrors pass through unchanged; bare sentinels get their canonical code;
// anything else becomes an opaque internal error.
func Public(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return AuthenticationFailed()
	case errors.Is(err, ErrForbidden):
		return Forbidden("insufficient permissions")
	case errors.Is(err, ErrInvalidInput):
		return InvalidInput(err.Error())
	case errors.Is(err, ErrNotFound):
		return &AppError{Code: CodeNotFound, Message: "resource not found", Status: http.StatusNotFound, Err: err}
	case errors.Is(err, ErrAlreadyExists):
		return &AppError{Code: CodeAlreadyExists, Message: "resource already exists", Status: http.StatusConflict, Err: err}
	case errors.Is(err, ErrConflict):
		return Conflict("conflict")
	case errors.Is(err, ErrRateLimited):
		return RateLimited()
	default:
		return Internal(err)
	}
}

// FromCode rebuilds a client-side AppError from the code and message a server
// put in extensions.code. Unknown codes keep the code but carry no sentinel.
func FromCode(code, message string) *AppError {
	switch code {
	case CodeUnauthenticated:
		return AuthenticationFailed()
	case CodeForbidden:
		return Forbidden(message)
	case CodeInvalidInput:
		return InvalidInput(message)
	case CodeConflict:
		return Conflict(message)
	case CodeRateLimited:
		return RateLimited()
	case CodeNotFound:
		return &AppError{Code: code, Message: message, Status: http.StatusNotFound, Err: ErrNotFound}
	case CodeAlreadyExists:
		return &AppError{Code: code, Message: message, Status: http.StatusConflict, Err: ErrAlreadyExists}
	case CodeInternal:
		return &AppError{Code: code, Message: message, Status: http.StatusInternalServerError, Err: ErrInternal}
	default:
		return &AppError{Code: code, Message: message, Status: http.StatusInternalServerError}
	}
}
