package graphql

import (
	"context"
	"log/slog"
	"strings"

	graphqlgo "github.com/graph-gophers/graphql-go"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/services/auth/internal/domain"
	"github.com/utafrali/projecthub/services/auth/internal/service"
)

// AuthAPI is the part of service.AuthService the resolvers call.
type AuthAPI interface {
	Register(ctx context.Context, input service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, input service.LoginInput) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Logout(ctx context.Context, userID, sessionID string, everywhere bool) (int64, error)
	LogoutWithRefreshToken(ctx context.Context, refreshToken string) (int64, error)
	RevokeUserSessions(ctx context.Context, actor *domain.User, targetUserID string) (int64, error)
	DeactivateUser(ctx context.Context, actor *domain.User, targetUserID string) (int64, error)
	ActiveSessions(ctx context.Context, userID string) (int, error)
}

// Resolver is the root resolver for both Query and Mutation.
type Resolver struct {
	svc     AuthAPI
	cookies CookieConfig
	logger  *slog.Logger
}

// NewResolver creates the root resolver.
func NewResolver(svc AuthAPI, cookies CookieConfig, logger *slog.Logger) *Resolver {
	return &Resolver{svc: svc, cookies: cookies, logger: logger}
}

// --- Query ---

// Me returns the caller, or null for anonymous requests.
func (r *Resolver) Me(ctx context.Context) *userResolver {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil
	}
	return &userResolver{u: p.User}
}

// ActiveSessions counts the caller's live sessions.
func (r *Resolver) ActiveSessions(ctx context.Context) (int32, error) {
	p, err := RequirePermission(ctx, domain.PermViewProjects)
	if err != nil {
		return 0, r.fail(ctx, err)
	}
	n, err := r.svc.ActiveSessions(ctx, p.User.ID)
	if err != nil {
		return 0, r.fail(ctx, err)
	}
	return int32(n), nil
}

// --- Mutation ---

type registerArgs struct {
	Email    string
	Password string
	Name     string
}

// Register creates an account and logs it in.
func (r *Resolver) Register(ctx context.Context, args registerArgs) (*authPayloadResolver, error) {
	res, err := r.svc.Register(ctx, service.RegisterInput{
		Email:    args.Email,
		Password: args.Password,
		Name:     strings.TrimSpace(args.Name),
	})
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.cookies.setRefresh(ctx, res.Tokens.RefreshToken, res.Tokens.RefreshTokenExpiresAt)
	return &authPayloadResolver{res: res}, nil
}

type loginArgs struct {
	Email    string
	Password string
}

// Login verifies credentials and opens a session.
func (r *Resolver) Login(ctx context.Context, args loginArgs) (*authPayloadResolver, error) {
	res, err := r.svc.Login(ctx, service.LoginInput{Email: args.Email, Password: args.Password})
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.cookies.setRefresh(ctx, res.Tokens.RefreshToken, res.Tokens.RefreshTokenExpiresAt)
	return &authPayloadResolver{res: res}, nil
}

type refreshArgs struct {
	Token *string
}

// RefreshToken rotates a refresh token. Without an argument the refresh
// cookie is used.
func (r *Resolver) RefreshToken(ctx context.Context, args refreshArgs) (*tokenPayloadResolver, error) {
	token := r.cookies.incomingRefresh(ctx)
	if args.Token != nil && *args.Token != "" {
		token = *args.Token
	}
	if token == "" {
		return nil, r.fail(ctx, apperrors.AuthenticationFailed())
	}

	pair, err := r.svc.Refresh(ctx, token)
	if err != nil {
		r.cookies.clearRefresh(ctx)
		return nil, r.fail(ctx, err)
	}
	r.cookies.setRefresh(ctx, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	return &tokenPayloadResolver{pair: pair}, nil
}

type logoutArgs struct {
	Everywhere *bool
}

// Logout ends the caller's session, or all of them with everywhere. A caller
// without a valid access token can still end the session of its refresh cookie.
func (r *Resolver) Logout(ctx context.Context, args logoutArgs) (*logoutPayloadResolver, error) {
	defer r.cookies.clearRefresh(ctx)

	everywhere := args.Everywhere != nil && *args.Everywhere

	var (
		n   int64
		err error
	)
	if p, ok := PrincipalFromContext(ctx); ok {
		n, err = r.svc.Logout(ctx, p.User.ID, p.SessionID, everywhere)
	} else if token := r.cookies.incomingRefresh(ctx); token != "" && !everywhere {
		n, err = r.svc.LogoutWithRefreshToken(ctx, token)
	} else {
		err = apperrors.AuthenticationFailed()
	}
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &logoutPayloadResolver{revoked: n}, nil
}

type revokeArgs struct {
	UserID graphqlgo.ID
}

// RevokeUserSessions logs another user out everywhere. Admin only.
func (r *Resolver) RevokeUserSessions(ctx context.Context, args revokeArgs) (*logoutPayloadResolver, error) {
	p, err := RequirePermission(ctx, domain.PermManageUsers)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	n, err := r.svc.RevokeUserSessions(ctx, p.User, string(args.UserID))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &logoutPayloadResolver{revoked: n}, nil
}

// DeactivateUser soft-deletes another user and ends all of their sessions.
// Admin only.
func (r *Resolver) DeactivateUser(ctx context.Context, args revokeArgs) (*logoutPayloadResolver, error) {
	p, err := RequirePermission(ctx, domain.PermManageUsers)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	n, err := r.svc.DeactivateUser(ctx, p.User, string(args.UserID))
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return &logoutPayloadResolver{revoked: n}, nil
}

func (r *Resolver) fail(ctx context.Context, err error) error {
	return publicError(ctx, r.logger, err)
}

// --- Object resolvers ---

type userResolver struct {
	u *domain.User
}

func (r *userResolver) ID() graphqlgo.ID { return graphqlgo.ID(r.u.ID) }

func (r *userResolver) Email() string { return r.u.Email }

func (r *userResolver) Name() string { return r.u.Name }

// Role maps the domain role onto the GraphQL enum.
func (r *userResolver) Role() string { return strings.ToUpper(r.u.Role.String()) }

func (r *userResolver) CreatedAt() graphqlgo.Time { return graphqlgo.Time{Time: r.u.CreatedAt} }

type authPayloadResolver struct {
	res *service.AuthResult
}

func (r *authPayloadResolver) AccessToken() string { return r.res.Tokens.AccessToken }

func (r *authPayloadResolver) AccessTokenExpiresAt() graphqlgo.Time {
	return graphqlgo.Time{Time: r.res.Tokens.AccessTokenExpiresAt}
}

func (r *authPayloadResolver) RefreshToken() string { return r.res.Tokens.RefreshToken }

func (r *authPayloadResolver) RefreshTokenExpiresAt() graphqlgo.Time {
	return graphqlgo.Time{Time: r.res.Tokens.RefreshTokenExpiresAt}
}

func (r *authPayloadResolver) User() *userResolver { return &userResolver{u: r.res.User} }

type tokenPayloadResolver struct {
	pair *domain.TokenPair
}

func (r *tokenPayloadResolver) AccessToken() string { return r.pair.AccessToken }

func (r *tokenPayloadResolver) AccessTokenExpiresAt() graphqlgo.Time {
	return graphqlgo.Time{Time: r.pair.AccessTokenExpiresAt}
}

func (r *tokenPayloadResolver) RefreshToken() string { return r.pair.RefreshToken }

func (r *tokenPayloadResolver) RefreshTokenExpiresAt() graphqlgo.Time {
	return graphqlgo.Time{Time: r.pair.RefreshTokenExpiresAt}
}

type logoutPayloadResolver struct {
	revoked int64
}

// Success is true once the request was authorised; revoking zero records is
// still a successful logout.
func (r *logoutPayloadResolver) Success() bool { return true }

func (r *logoutPayloadResolver) Revoked() int32 { return int32(r.revoked) }
