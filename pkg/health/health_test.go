package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("dial tcp 10.0.0.7:6379: connection refused") }

func callHealth(t *testing.T, h http.HandlerFunc) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", down)

	code, resp := callHealth(t, h.LivenessHandler())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
	assert.Empty(t, resp.Checks, "liveness never runs dependency checks")
	assert.False(t, resp.Timestamp.IsZero())
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name        string
		postgres    Checker
		redis       Checker
		kafka       Checker
		wantCode    int
		wantOverall Status
	}{
		{"all up", up, up, up, http.StatusOK, StatusUp},
		{"broker down degrades", up, up, down, http.StatusOK, StatusDegraded},
		{"session store down", up, down, up, http.StatusServiceUnavailable, StatusDown},
		{"critical and non-critical down", down, up, down, http.StatusServiceUnavailable, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			h.RegisterCritical("postgres", tt.postgres)
			h.RegisterCritical("redis", tt.redis)
			h.RegisterNonCritical("kafka", tt.kafka)

			code, resp := callHealth(t, h.ReadinessHandler())

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantOverall, resp.Status)
			require.Len(t, resp.Checks, 3)
			assert.True(t, resp.Checks["redis"].Critical)
			assert.False(t, resp.Checks["kafka"].Critical)
			for name, res := range resp.Checks {
				if res.Status == StatusDown {
					assert.Contains(t, res.Error, "connection refused", name)
				} else {
					assert.Empty(t, res.Error, name)
				}
			}
		})
	}
}

func TestReadiness_NoChecksIsUp(t *testing.T) {
	code, resp := callHealth(t, NewHandler().ReadinessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
}

func TestReadiness_ReRegisterReplaces(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", down)
	h.RegisterNonCritical("postgres", down)

	code, resp := callHealth(t, h.ReadinessHandler())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 1)
}

func TestReadiness_RecordsDuration(t *testing.T) {
	h := NewHandler()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	calls := 0
	h.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 1500 * time.Microsecond)
	}
	h.RegisterCritical("postgres", up)

	_, resp := callHealth(t, h.ReadinessHandler())
	assert.InDelta(t, 1.5, resp.Checks["postgres"].DurationMS, 0.001)
}

func TestReadiness_SlowCheckHitsTimeout(t *testing.T) {
	h := NewHandler()
	h.SetTimeout(20 * time.Millisecond)
	h.RegisterCritical("postgres", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	start := time.Now()
	code, resp := callHealth(t, h.ReadinessHandler())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Checks["postgres"].Error)
}
