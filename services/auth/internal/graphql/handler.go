package graphql

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	graphqlgo "github.com/graph-gophers/graphql-go"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/pkg/httputil"
	"github.com/utafrali/projecthub/pkg/validator"
)

//go:embed schema.graphql
var schemaSDL string

const (
	maxBodyBytes = 1 << 20
	maxDepth     = 8
)

// request is a GraphQL-over-HTTP POST body.
type request struct {
	Query         string                 `json:"query" validate:"required"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
	Extensions    map[string]interface{} `json:"extensions"`
}

// Handler serves POST /graphql.
type Handler struct {
	schema *graphqlgo.Schema
	logger *slog.Logger
}

// NewHandler parses the schema against the resolver.
func NewHandler(resolver *Resolver, logger *slog.Logger) (*Handler, error) {
	schema, err := graphqlgo.ParseSchema(schemaSDL, resolver,
		graphqlgo.MaxDepth(maxDepth),
	)
	if err != nil {
		return nil, fmt.Errorf("parse graphql schema: %w", err)
	}
	return &Handler{schema: schema, logger: logger}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httputil.WriteError(w, r, &apperrors.AppError{
			Code:    apperrors.CodeInvalidInput,
			Message: "graphql requests must use POST",
			Status:  http.StatusMethodNotAllowed,
			Err:     apperrors.ErrInvalidInput,
		}, h.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req request
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		var verr *validator.ValidationError
		if !errors.As(err, &verr) {
			err = apperrors.InvalidInput("request body must be a JSON GraphQL request")
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	jar := newCookieJar(r)
	ctx := withCookieJar(r.Context(), jar)
	resp := h.schema.Exec(ctx, req.Query, req.OperationName, req.Variables)

	jar.writeTo(w)

	body, err := json.Marshal(resp)
	if err != nil {
		httputil.WriteError(w, r, fmt.Errorf("marshal graphql response: %w", err), h.logger)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
