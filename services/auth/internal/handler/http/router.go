package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/pkg/health"
	"github.com/utafrali/projecthub/pkg/httputil"
	"github.com/utafrali/projecthub/pkg/middleware"
)

const serviceName = "auth"

// RouterConfig holds the HTTP-level settings of the router.
type RouterConfig struct {
	CORS      middleware.CORSConfig
	RateLimit middleware.RateLimitConfig
}

// NewRouter creates a chi router serving the GraphQL endpoint, health checks
// and metrics. authenticate attaches the caller's principal to the request
// context before graphql runs. The rate limiter's cleanup stops with ctx.
func NewRouter(
	ctx context.Context,
	graphql http.Handler,
	authenticate func(http.Handler) http.Handler,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger, "/health/live", "/health/ready", "/metrics"))
	r.Use(middleware.Tracing(serviceName, "/health/live", "/health/ready", "/metrics"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteError(w, req, apperrors.NotFound("route", req.URL.Path), logger)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteError(w, req, &apperrors.AppError{
			Code:    apperrors.CodeInvalidInput,
			Message: "method not allowed",
			Status:  http.StatusMethodNotAllowed,
			Err:     apperrors.ErrInvalidInput,
		}, logger)
	})

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(ctx, cfg.RateLimit, logger))
		r.Use(authenticate)

		// The handler answers non-POST methods itself with a GraphQL error body.
		r.Handle("/graphql", graphql)
	})

	return r
}
