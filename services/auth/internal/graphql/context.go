package graphql

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/pkg/logger"
	"github.com/utafrali/projecthub/pkg/middleware"
	"github.com/utafrali/projecthub/services/auth/internal/auth"
	"github.com/utafrali/projecthub/services/auth/internal/domain"
)

// Principal is the authenticated caller of a GraphQL request.
type Principal struct {
	User      *domain.User
	SessionID string
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the request principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// RequireAuth returns the principal or the generic authentication failure.
func RequireAuth(ctx context.Context) (*Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, apperrors.AuthenticationFailed()
	}
	return p, nil
}

// RequirePermission returns the principal when its role grants perm.
func RequirePermission(ctx context.Context, perm domain.Permission) (*Principal, error) {
	p, err := RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	if !p.User.Role.Can(perm) {
		return nil, apperrors.Forbidden("insufficient permissions")
	}
	return p, nil
}

// TokenVerifier verifies access tokens.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.AccessClaims, error)
}

// UserResolver loads non-deleted users by id.
type UserResolver interface {
	ResolveUser(ctx context.Context, userID string) (*domain.User, error)
}

// ContextBuilder turns the bearer token of a request into a Principal. A
// request that fails any step stays anonymous.
type ContextBuilder struct {
	tokens TokenVerifier
	users  UserResolver
	logger *slog.Logger
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(tokens TokenVerifier, users UserResolver, logger *slog.Logger) *ContextBuilder {
	return &ContextBuilder{tokens: tokens, users: users, logger: logger}
}

// Build resolves the principal for r. It returns nil for anonymous requests.
func (b *ContextBuilder) Build(ctx context.Context, r *http.Request) *Principal {
	token, ok := middleware.BearerToken(r)
	if !ok {
		return nil
	}

	claims, err := b.tokens.VerifyAccessToken(token)
	if err != nil {
		logger.WithContext(ctx, b.logger).DebugContext(ctx, "ignoring invalid access token")
		return nil
	}
	if _, err := domain.ParseRole(claims.Role); err != nil {
		logger.WithContext(ctx, b.logger).WarnContext(ctx, "access token carries unknown role",
			slog.String("user_id", claims.UserID),
			slog.String("role", claims.Role),
		)
		return nil
	}

	user, err := b.users.ResolveUser(ctx, claims.UserID)
	if err != nil {
		level := slog.LevelDebug
		if !errors.Is(err, apperrors.ErrNotFound) {
			level = slog.LevelError
		}
		logger.WithContext(ctx, b.logger).Log(ctx, level, "access token user not resolved",
			slog.String("user_id", claims.UserID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	return &Principal{User: user, SessionID: claims.SessionID}
}

// Middleware attaches the principal, if any, to the request context and
// re-enriches the request logger with user_id and session_id.
func (b *ContextBuilder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if p := b.Build(ctx, r); p != nil {
			ctx = WithPrincipal(ctx, p)
			ctx = logger.WithUserID(ctx, p.User.ID)
			ctx = logger.WithSessionID(ctx, p.SessionID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(
				slog.String("user_id", p.User.ID),
				slog.String("session_id", p.SessionID),
			))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
