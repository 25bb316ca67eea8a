package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/pkg/logger"
	"github.com/utafrali/projecthub/pkg/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// --- WriteJSON ---

func TestWriteJSON_SetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, Response{Data: "hello"})

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteJSON_StatusCodes(t *testing.T) {
	codes := []int{http.StatusOK, http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusTeapot}
	for _, code := range codes {
		rec := httptest.NewRecorder()
		WriteJSON(rec, code, Response{})
		assert.Equal(t, code, rec.Code)
	}
}

func TestResponse_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Response{Data: map[string]int{"n": 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"n":1}}`, string(data))
}

// --- WriteError ---

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)

	WriteError(rec, req, apperrors.InvalidInput("query is required"), testLogger())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "INVALID_INPUT", resp.Errors[0].Extensions.Code)
	assert.Equal(t, "query is required", resp.Errors[0].Message)
}

func TestWriteError_AuthenticationFailed(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)

	WriteError(rec, req, fmt.Errorf("verify: %w", apperrors.ErrUnauthenticated), testLogger())

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "UNAUTHENTICATED", resp.Errors[0].Extensions.Code)
	assert.Equal(t, "authentication failed", resp.Errors[0].Message)
}

func TestWriteError_UnknownError_Returns500WithoutDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)

	WriteError(rec, req, errors.New("pq: relation users does not exist"), testLogger())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "INTERNAL", resp.Errors[0].Extensions.Code)
	assert.NotContains(t, resp.Errors[0].Message, "relation")
}

func TestWriteError_ValidationFields(t *testing.T) {
	type input struct {
		Query string `json:"query" validate:"required"`
	}
	verr := validator.Validate(input{})
	require.Error(t, verr)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	WriteError(rec, req, verr, testLogger())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "INVALID_INPUT", resp.Errors[0].Extensions.Code)
	assert.Equal(t, "is required", resp.Errors[0].Extensions.Fields["query"])
}

func TestWriteError_IncludesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx := logger.WithCorrelationID(context.Background(), "corr-123")
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil).WithContext(ctx)

	WriteError(rec, req, apperrors.ErrNotFound, testLogger())

	resp := decode(t, rec)
	assert.Equal(t, "corr-123", resp.Errors[0].Extensions.RequestID)
}

func TestWriteError_NoCorrelationID_OmitsRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)

	WriteError(rec, req, apperrors.ErrNotFound, testLogger())

	var raw struct {
		Errors []map[string]json.RawMessage `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	require.Len(t, raw.Errors, 1)

	var ext map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw.Errors[0]["extensions"], &ext))
	_, hasRequestID := ext["request_id"]
	assert.False(t, hasRequestID, "request_id should be omitted when correlation_id is not in context")
}
