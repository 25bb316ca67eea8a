package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/projecthub/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, carrying the
// correlation and trace IDs known so far. Mount it after RequestLogging and
// Tracing. The GraphQL context builder adds user_id and session_id once the
// caller is authenticated.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.NewContext(r.Context(), logger.WithContext(r.Context(), base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
