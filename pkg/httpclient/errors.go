package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// errorEnvelope is the body ProjectHub handlers write outside GraphQL
// (rate limiter, recovery, health).
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// turns it into an error. A body carrying a ProjectHub error code becomes the
// matching AppError; otherwise the status decides.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", serviceName, resp.StatusCode, err)
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Code != "" {
		appErr := apperrors.FromCode(env.Error.Code, env.Error.Message)
		if appErr.Err == nil {
			// Unknown code: the status still says what kind of failure it was.
			return fromStatus(resp.StatusCode, env.Error.Code, env.Error.Message, serviceName)
		}
		return appErr
	}

	return fromStatus(resp.StatusCode, "", strings.TrimSpace(string(body)), serviceName)
}

func fromStatus(status int, code, message, serviceName string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	msg := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusUnauthorized:
		return apperrors.AuthenticationFailed()
	case status == http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimited()
	case status == http.StatusServiceUnavailable:
		return &apperrors.AppError{Code: code, Message: msg, Status: status, Err: apperrors.ErrServiceUnavail}
	case status >= 500:
		return fmt.Errorf("%s returned status %d: %s", serviceName, status, message)
	case status >= 400:
		return &apperrors.AppError{Code: code, Message: msg, Status: status, Err: apperrors.ErrInvalidInput}
	default:
		return fmt.Errorf("%s returned unexpected status %d: %s", serviceName, status, message)
	}
}
