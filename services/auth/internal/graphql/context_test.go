package graphql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/pkg/logger"
	"github.com/utafrali/projecthub/services/auth/internal/auth"
	"github.com/utafrali/projecthub/services/auth/internal/domain"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJWT() *auth.JWTManager {
	m := auth.NewJWTManager("graphql-test-secret-0123456789abcdef", "projecthub-test", 15*time.Minute, 8*time.Hour)
	m.SetClock(func() time.Time { return testNow })
	return m
}

// userMap resolves users from memory; missing ids are not found.
type userMap map[string]*domain.User

func (m userMap) ResolveUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := m[id]
	if !ok || u.IsDeleted {
		return nil, apperrors.ErrNotFound
	}
	return u, nil
}

type failingResolver struct{}

func (failingResolver) ResolveUser(context.Context, string) (*domain.User, error) {
	return nil, errors.New("connection reset")
}

func member() *domain.User {
	return &domain.User{ID: "u-member", Email: "m@example.com", Name: "Mia", Role: domain.RoleMember, CreatedAt: testNow}
}

func admin() *domain.User {
	return &domain.User{ID: "u-admin", Email: "a@example.com", Name: "Ari", Role: domain.RoleAdmin, CreatedAt: testNow}
}

func bearer(t *testing.T, jwt *auth.JWTManager, u *domain.User, sessionID string) string {
	t.Helper()
	token, _, err := jwt.IssueAccessToken(u, sessionID)
	require.NoError(t, err)
	return "Bearer " + token
}

// captureContext runs the middleware and returns the context the next handler saw.
func captureContext(t *testing.T, b *ContextBuilder, authorization string) context.Context {
	t.Helper()
	var got context.Context
	h := b.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Context()
	}))

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, got)
	return got
}

func TestContextBuilder_ValidTokenAttachesPrincipal(t *testing.T) {
	jwt := newTestJWT()
	u := member()
	b := NewContextBuilder(jwt, userMap{u.ID: u}, discardLogger())

	ctx := captureContext(t, b, bearer(t, jwt, u, "sess-1"))

	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, u, p.User)
	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, u.ID, logger.UserIDFromContext(ctx))
	assert.Equal(t, "sess-1", logger.SessionIDFromContext(ctx))
}

func TestContextBuilder_AnonymousCases(t *testing.T) {
	jwt := newTestJWT()
	u := member()
	deleted := member()
	deleted.ID = "u-deleted"
	deleted.IsDeleted = true

	other := auth.NewJWTManager("some-other-secret-0123456789abcdef", "projecthub-test", time.Minute, time.Hour)
	expired := auth.NewJWTManager("graphql-test-secret-0123456789abcdef", "projecthub-test", time.Minute, time.Hour)
	expired.SetClock(func() time.Time { return testNow.Add(-time.Hour) })
	refresh, err := jwt.IssueRefreshToken(u.ID, "sess-1", testNow.Add(time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		users  UserResolver
	}{
		{"no header", "", userMap{u.ID: u}},
		{"wrong scheme", "Basic dXNlcjpwYXNz", userMap{u.ID: u}},
		{"garbage token", "Bearer not-a-token", userMap{u.ID: u}},
		{"foreign signature", bearer(t, other, u, "sess-1"), userMap{u.ID: u}},
		{"expired token", bearer(t, expired, u, "sess-1"), userMap{u.ID: u}},
		{"refresh token as access", "Bearer " + refresh, userMap{u.ID: u}},
		{"unknown user", bearer(t, jwt, u, "sess-1"), userMap{}},
		{"deleted user", bearer(t, jwt, deleted, "sess-1"), userMap{deleted.ID: deleted}},
		{"resolver error", bearer(t, jwt, u, "sess-1"), failingResolver{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewContextBuilder(jwt, tt.users, discardLogger())

			ctx := captureContext(t, b, tt.header)

			_, ok := PrincipalFromContext(ctx)
			assert.False(t, ok)
			assert.Empty(t, logger.UserIDFromContext(ctx))
		})
	}
}

func TestContextBuilder_UnknownRoleClaimIsAnonymous(t *testing.T) {
	jwt := newTestJWT()
	u := member()
	bogus := *u
	bogus.Role = domain.Role(99)
	b := NewContextBuilder(jwt, userMap{u.ID: u}, discardLogger())

	ctx := captureContext(t, b, bearer(t, jwt, &bogus, "sess-1"))

	_, ok := PrincipalFromContext(ctx)
	assert.False(t, ok)
}

func TestRequireAuth(t *testing.T) {
	_, err := RequireAuth(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrUnauthenticated))

	ctx := WithPrincipal(context.Background(), &Principal{User: member(), SessionID: "s"})
	p, err := RequireAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s", p.SessionID)
}

func TestRequirePermission(t *testing.T) {
	memberCtx := WithPrincipal(context.Background(), &Principal{User: member()})
	adminCtx := WithPrincipal(context.Background(), &Principal{User: admin()})

	_, err := RequirePermission(memberCtx, domain.PermViewProjects)
	assert.NoError(t, err)

	_, err = RequirePermission(memberCtx, domain.PermManageUsers)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	_, err = RequirePermission(adminCtx, domain.PermManageUsers)
	assert.NoError(t, err)

	_, err = RequirePermission(context.Background(), domain.PermViewProjects)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthenticated))
}
