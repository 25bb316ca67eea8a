package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricsRouter(service string, h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics(service))
	r.Post("/graphql", h)
	r.Get("/users/{id}", h)
	return r
}

func sampleCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, o.(prometheus.Metric).Write(m))
	return m.GetHistogram().GetSampleCount()
}

func TestPrometheusMetrics_CountsByRouteAndStatus(t *testing.T) {
	const svc = "metrics-count"
	status := http.StatusOK
	h := metricsRouter(svc, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) })

	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/graphql", nil))
	}
	status = http.StatusTooManyRequests
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/graphql", nil))

	assert.Equal(t, 3.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(svc, "POST", "/graphql", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(svc, "POST", "/graphql", "429")))
	assert.Equal(t, uint64(4), sampleCount(t, httpRequestDuration.WithLabelValues(svc, "POST", "/graphql")))
}

func TestPrometheusMetrics_LabelsByPatternNotPath(t *testing.T) {
	const svc = "metrics-pattern"
	h := metricsRouter(svc, func(w http.ResponseWriter, _ *http.Request) {})

	for _, id := range []string{"u-1", "u-2", "u-3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(svc, "GET", "/users/{id}", "200")))
}

func TestPrometheusMetrics_UnmatchedRoutesShareOneLabel(t *testing.T) {
	const svc = "metrics-unmatched"
	h := metricsRouter(svc, func(w http.ResponseWriter, _ *http.Request) {})

	for _, p := range []string{"/wp-admin", "/.env", "/admin"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(svc, "GET", unmatchedRoute, "404")))
}

func TestPrometheusMetrics_InFlight(t *testing.T) {
	const svc = "metrics-inflight"
	var during float64
	h := metricsRouter(svc, func(w http.ResponseWriter, _ *http.Request) {
		during = testutil.ToFloat64(httpRequestsInFlight.WithLabelValues(svc))
	})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/graphql", nil))

	assert.Equal(t, 1.0, during)
	assert.Equal(t, 0.0, testutil.ToFloat64(httpRequestsInFlight.WithLabelValues(svc)))
}

type flushHijackWriter struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (w *flushHijackWriter) Hijack() (c net.Conn, rw *bufio.ReadWriter, err error) {
	w.hijacked = true
	return nil, nil, nil
}

func TestStatusRecorder(t *testing.T) {
	t.Run("first status wins", func(t *testing.T) {
		rec := newStatusRecorder(httptest.NewRecorder())
		rec.WriteHeader(http.StatusUnauthorized)
		rec.WriteHeader(http.StatusOK)
		assert.Equal(t, http.StatusUnauthorized, rec.statusCode)
	})

	t.Run("write without header is 200", func(t *testing.T) {
		rec := newStatusRecorder(httptest.NewRecorder())
		n, err := rec.Write([]byte(`{"data":{}}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.statusCode)
		assert.Equal(t, n, rec.bytes)
	})

	t.Run("does not wrap itself", func(t *testing.T) {
		rec := newStatusRecorder(httptest.NewRecorder())
		assert.Same(t, rec, newStatusRecorder(rec))
	})

	t.Run("delegates flush and hijack", func(t *testing.T) {
		under := &flushHijackWriter{ResponseRecorder: httptest.NewRecorder()}
		rec := newStatusRecorder(under)
		rec.Flush()
		_, _, err := rec.Hijack()
		require.NoError(t, err)
		assert.True(t, under.Flushed)
		assert.True(t, under.hijacked)
	})

	t.Run("hijack unsupported", func(t *testing.T) {
		rec := newStatusRecorder(httptest.NewRecorder())
		_, _, err := rec.Hijack()
		assert.ErrorIs(t, err, http.ErrNotSupported)
	})
}
