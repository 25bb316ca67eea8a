package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker/v2"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/pkg/httpclient"
)

const (
	apiName         = "auth-api"
	refreshCookie   = "refresh_token"
	maxResponseSize = 1 << 20
)

const (
	loginMutation = `mutation Login($email: String!, $password: String!) {
  login(email: $email, password: $password) {
    accessToken accessTokenExpiresAt refreshToken refreshTokenExpiresAt
    user { id email name role }
  }
}`
	refreshMutation = `mutation Refresh($token: String) {
  refreshToken(token: $token) {
    accessToken accessTokenExpiresAt refreshToken refreshTokenExpiresAt
  }
}`
	logoutMutation = `mutation Logout($everywhere: Boolean) {
  logout(everywhere: $everywhere) { success revoked }
}`
	meQuery = `query Me { me { id email name role } }`
)

// APIClient calls the auth service's GraphQL endpoint. Requests are never
// retried and pass through a circuit breaker so a dead server fails fast.
type APIClient struct {
	url     string
	breaker *httpclient.CircuitBreakerClient
	logger  *slog.Logger
}

// NewAPIClient creates a client for cfg.APIURL.
func NewAPIClient(cfg Config, logger *slog.Logger) *APIClient {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.APITimeout
	httpCfg.MaxRetries = 0

	return newAPIClient(cfg.APIURL, httpclient.New(httpCfg), logger)
}

func newAPIClient(url string, next httpclient.Doer, logger *slog.Logger) *APIClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &APIClient{
		url:     url,
		breaker: httpclient.NewCircuitBreakerClient(next, httpclient.DefaultBreakerConfig(apiName), logger),
		logger:  logger,
	}
}

// Login exchanges credentials for a session.
func (c *APIClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var data struct {
		Login struct {
			Tokens
			User User `json:"user"`
		} `json:"login"`
	}
	vars := map[string]any{"email": email, "password": password}
	if err := c.do(ctx, loginMutation, vars, nil, &data); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &LoginResult{User: data.Login.User, Tokens: data.Login.Tokens}, nil
}

// Refresh rotates refreshToken. It makes exactly one attempt.
func (c *APIClient) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	var data struct {
		RefreshToken Tokens `json:"refreshToken"`
	}
	vars := map[string]any{"token": refreshToken}
	if err := c.do(ctx, refreshMutation, vars, nil, &data); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return &data.RefreshToken, nil
}

// Logout ends the session on the server. The refresh token is sent as the
// refresh cookie so logout still works once the access token has expired.
func (c *APIClient) Logout(ctx context.Context, accessToken, refreshToken string) error {
	header := http.Header{}
	if accessToken != "" {
		header.Set("Authorization", "Bearer "+accessToken)
	}
	if refreshToken != "" {
		header.Set("Cookie", (&http.Cookie{Name: refreshCookie, Value: refreshToken}).String())
	}

	var data struct {
		Logout struct {
			Success bool `json:"success"`
		} `json:"logout"`
	}
	if err := c.do(ctx, logoutMutation, map[string]any{"everywhere": false}, header, &data); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Me returns the user the access token belongs to.
func (c *APIClient) Me(ctx context.Context, accessToken string) (*User, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	var data struct {
		Me *User `json:"me"`
	}
	if err := c.do(ctx, meQuery, nil, header, &data); err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	if data.Me == nil {
		return nil, apperrors.AuthenticationFailed()
	}
	return data.Me, nil
}

// BreakerState reports the circuit breaker state.
func (c *APIClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

func (c *APIClient) do(ctx context.Context, query string, vars map[string]any, header http.Header, out any) error {
	resp, err := c.breaker.PostJSON(ctx, c.url, graphqlRequest{Query: query, Variables: vars}, header)
	if err != nil {
		return fmt.Errorf("%s request: %w", apiName, err)
	}
	raw := resp.Body
	defer func() { _ = raw.Close() }()

	body, err := io.ReadAll(io.LimitReader(raw, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read %s response: %w", apiName, err)
	}

	var gql graphqlResponse
	decodeErr := json.Unmarshal(body, &gql)
	if decodeErr == nil && len(gql.Errors) > 0 {
		first := gql.Errors[0]
		return apperrors.FromCode(first.Extensions.Code, first.Message)
	}
	if resp.StatusCode != http.StatusOK {
		// Rate limiter and recovery answers use the plain error envelope.
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return httpclient.ParseResponseError(resp, apiName)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode %s response: %w", apiName, decodeErr)
	}
	if err := json.Unmarshal(gql.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", apiName, err)
	}
	return nil
}
