package graphql

import (
	"context"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/pkg/logger"
)

// resolverError is what resolvers hand to graphql-go. Its message is the
// public one and extensions.code carries the AppError code.
type resolverError struct {
	app *apperrors.AppError
}

func (e *resolverError) Error() string { return e.app.Message }

func (e *resolverError) Unwrap() error { return e.app }

// Extensions is read by graphql-go when building the response.
func (e *resolverError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.app.Code}
}

// publicError converts err to its client-visible form. Internal errors are
// logged with their details, which never reach the client.
func publicError(ctx context.Context, fallback *slog.Logger, err error) error {
	app := apperrors.Public(err)
	if app.Status == http.StatusInternalServerError {
		l := logger.FromContext(ctx)
		if l == slog.Default() {
			l = fallback
		}
		l.ErrorContext(ctx, "graphql resolver failed", slog.String("error", err.Error()))
	}
	return &resolverError{app: app}
}
