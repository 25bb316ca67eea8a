package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/pkg/logger"
	"github.com/utafrali/projecthub/pkg/validator"
	"github.com/utafrali/projecthub/services/auth/internal/auth"
	"github.com/utafrali/projecthub/services/auth/internal/domain"
	"github.com/utafrali/projecthub/services/auth/internal/event"
	"github.com/utafrali/projecthub/services/auth/internal/repository"
)

// dummyPassword is hashed once at start-up. Logins for unknown emails compare
// against it so they cost the same as a wrong password.
const dummyPassword = "projecthub-timing-equaliser"

// EventPublisher publishes auth domain events.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishSessionCreated(ctx context.Context, rec *domain.RefreshToken, evicted int) error
	PublishSessionRotated(ctx context.Context, rec *domain.RefreshToken) error
	PublishSessionRevoked(ctx context.Context, userID, sessionID, reason string, count int64) error
	PublishReuseDetected(ctx context.Context, userID, sessionID string) error
}

// Options tunes the auth service.
type Options struct {
	MaxSessionsPerUser int
	BcryptCost         int
}

// AuthService implements credential verification and the refresh-token
// session lifecycle.
type AuthService struct {
	users     repository.UserRepository
	sessions  repository.SessionStore
	tokens    *auth.JWTManager
	events    EventPublisher
	logger    *slog.Logger
	opts      Options
	dummyHash []byte
	now       func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionStore,
	tokens *auth.JWTManager,
	events EventPublisher,
	logger *slog.Logger,
	opts Options,
) (*AuthService, error) {
	if opts.MaxSessionsPerUser < 1 {
		return nil, fmt.Errorf("max sessions per user must be at least 1, got %d", opts.MaxSessionsPerUser)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}

	return &AuthService{
		users:     users,
		sessions:  sessions,
		tokens:    tokens,
		events:    events,
		logger:    logger,
		opts:      opts,
		dummyHash: dummy,
		now:       time.Now,
	}, nil
}

// SetClock replaces the time source. Tests share one clock with the JWTManager.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72,password"`
	Name     string `json:"name" validate:"required,max=100"`
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User   *domain.User
	Tokens *domain.TokenPair
}

// Register creates a member account and logs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	input.Email = domain.NormalizeEmail(input.Email)
	if err := validator.Validate(input); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		PasswordHash: string(hashed),
		Name:         input.Name,
		Role:         domain.RoleMember,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	tokens, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.log(ctx).InfoContext(ctx, "user registered", slog.String("user_id", user.ID))
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Login verifies credentials and opens a new session. Every credential
// failure returns the same AuthenticationFailed error.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	email := domain.NormalizeEmail(input.Email)

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(input.Password))
		return nil, s.loginRejected(ctx, "unknown email")
	case err != nil:
		LoginAttempts.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, s.loginRejected(ctx, "password mismatch")
	}
	if user.IsDeleted {
		return nil, s.loginRejected(ctx, "deleted user")
	}

	tokens, err := s.startSession(ctx, user)
	if err != nil {
		LoginAttempts.WithLabelValues(outcomeError).Inc()
		return nil, err
	}
	LoginAttempts.WithLabelValues(outcomeSuccess).Inc()

	s.log(ctx).InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", tokens.SessionID),
	)
	return &AuthResult{User: user, Tokens: tokens}, nil
}

func (s *AuthService) loginRejected(ctx context.Context, reason string) error {
	LoginAttempts.WithLabelValues(outcomeInvalidCredentials).Inc()
	s.log(ctx).InfoContext(ctx, "login rejected", slog.String("reason", reason))
	return apperrors.AuthenticationFailed()
}

// startSession issues a fresh token pair in a new session and stores its
// refresh record, evicting the user's oldest sessions beyond the cap.
func (s *AuthService) startSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	now := s.now().UTC()
	sessionID := ulid.Make().String()
	expiresAt := now.Add(s.tokens.RefreshExpiry()).Truncate(time.Second)

	refresh, err := s.tokens.IssueRefreshToken(user.ID, sessionID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	access, accessExp, err := s.tokens.IssueAccessToken(user, sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	rec := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		SessionID: sessionID,
		TokenHash: auth.HashToken(refresh),
		ExpiresAt: expiresAt,
	}
	evicted, err := s.sessions.Create(ctx, rec, s.opts.MaxSessionsPerUser, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if evicted > 0 {
		SessionsEvicted.Add(float64(evicted))
		SessionsRevoked.WithLabelValues(event.RevokeReasonEviction).Add(float64(evicted))
		s.log(ctx).InfoContext(ctx, "evicted oldest sessions",
			slog.String("user_id", user.ID),
			slog.Int("evicted", evicted),
			slog.Int("max_sessions", s.opts.MaxSessionsPerUser),
		)
	}
	if err := s.events.PublishSessionCreated(ctx, rec, evicted); err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to publish session.created event",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	return &domain.TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: expiresAt,
		SessionID:             sessionID,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed. Replaying a consumed token revokes its whole session, unless the
// replay is a concurrent duplicate of a rotation whose new pair is still unused.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, s.refreshRejected(ctx, outcomeInvalidToken, "", "")
	}

	user, err := s.ResolveUser(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return nil, s.refreshRejected(ctx, outcomeUnknownUser, claims.UserID, claims.SessionID)
	case err != nil:
		RefreshAttempts.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("get user for refresh: %w", err)
	}

	now := s.now().UTC()
	newRefresh, err := s.tokens.IssueRefreshToken(user.ID, claims.SessionID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	next := &domain.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: auth.HashToken(newRefresh),
	}

	_, err = s.sessions.Rotate(ctx, auth.HashToken(refreshToken), next, now)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrTokenReused):
		s.reuseDetected(ctx, claims.UserID, claims.SessionID)
		return nil, apperrors.AuthenticationFailed()
	case errors.Is(err, repository.ErrTokenNotFound):
		return nil, s.refreshRejected(ctx, outcomeNotFound, claims.UserID, claims.SessionID)
	case errors.Is(err, repository.ErrTokenExpired):
		return nil, s.refreshRejected(ctx, outcomeExpired, claims.UserID, claims.SessionID)
	case errors.Is(err, repository.ErrTokenRevoked):
		return nil, s.refreshRejected(ctx, outcomeRevoked, claims.UserID, claims.SessionID)
	case errors.Is(err, repository.ErrTokenSuperseded):
		return nil, s.refreshRejected(ctx, outcomeSuperseded, claims.UserID, claims.SessionID)
	default:
		RefreshAttempts.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	access, accessExp, err := s.tokens.IssueAccessToken(user, next.SessionID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	RefreshAttempts.WithLabelValues(outcomeSuccess).Inc()

	if err := s.events.PublishSessionRotated(ctx, next); err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to publish session.rotated event",
			slog.String("session_id", next.SessionID),
			slog.String("error", err.Error()),
		)
	}
	s.log(ctx).DebugContext(ctx, "refresh token rotated",
		slog.String("user_id", user.ID),
		slog.String("session_id", next.SessionID),
	)

	return &domain.TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          newRefresh,
		RefreshTokenExpiresAt: next.ExpiresAt,
		SessionID:             next.SessionID,
	}, nil
}

func (s *AuthService) refreshRejected(ctx context.Context, outcome, userID, sessionID string) error {
	RefreshAttempts.WithLabelValues(outcome).Inc()
	s.log(ctx).InfoContext(ctx, "refresh rejected",
		slog.String("reason", outcome),
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
	return apperrors.AuthenticationFailed()
}

func (s *AuthService) reuseDetected(ctx context.Context, userID, sessionID string) {
	RefreshAttempts.WithLabelValues(outcomeReused).Inc()
	RefreshReuseDetected.Inc()
	SessionsRevoked.WithLabelValues(event.RevokeReasonReuse).Inc()

	s.log(ctx).WarnContext(ctx, "refresh token reuse detected, session revoked",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
	if err := s.events.PublishReuseDetected(ctx, userID, sessionID); err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to publish session.reuse_detected event",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// Logout revokes the caller's current session, or every session of the
// caller when everywhere is set. It returns the number of revoked records.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string, everywhere bool) (int64, error) {
	if everywhere {
		return s.revokeAll(ctx, userID, event.RevokeReasonLogoutAll)
	}

	n, err := s.sessions.RevokeSession(ctx, userID, sessionID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke session: %w", err)
	}
	s.revoked(ctx, userID, sessionID, event.RevokeReasonLogout, n)
	return n, nil
}

// LogoutWithRefreshToken revokes the session a refresh token belongs to.
// Clients whose access token already expired log out this way.
func (s *AuthService) LogoutWithRefreshToken(ctx context.Context, refreshToken string) (int64, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return 0, apperrors.AuthenticationFailed()
	}
	return s.Logout(ctx, claims.UserID, claims.SessionID, false)
}

// RevokeUserSessions revokes every session of another user. The actor needs
// the users:manage permission.
func (s *AuthService) RevokeUserSessions(ctx context.Context, actor *domain.User, targetUserID string) (int64, error) {
	if actor == nil {
		return 0, apperrors.AuthenticationFailed()
	}
	if !actor.Role.Can(domain.PermManageUsers) {
		return 0, apperrors.Forbidden("insufficient permissions")
	}
	if _, err := uuid.Parse(targetUserID); err != nil {
		return 0, apperrors.InvalidInput("userId must be a valid UUID")
	}

	n, err := s.revokeAll(ctx, targetUserID, event.RevokeReasonAdmin)
	if err != nil {
		return 0, err
	}
	s.log(ctx).InfoContext(ctx, "user sessions revoked by admin",
		slog.String("actor_id", actor.ID),
		slog.String("target_user_id", targetUserID),
		slog.Int64("revoked", n),
	)
	return n, nil
}

// DeactivateUser soft-deletes another user and revokes all of their sessions.
// Access tokens already issued stop resolving to a user at once; refresh
// tokens fail from then on. The actor needs the users:manage permission.
func (s *AuthService) DeactivateUser(ctx context.Context, actor *domain.User, targetUserID string) (int64, error) {
	if actor == nil {
		return 0, apperrors.AuthenticationFailed()
	}
	if !actor.Role.Can(domain.PermManageUsers) {
		return 0, apperrors.Forbidden("insufficient permissions")
	}
	if _, err := uuid.Parse(targetUserID); err != nil {
		return 0, apperrors.InvalidInput("userId must be a valid UUID")
	}
	if targetUserID == actor.ID {
		return 0, apperrors.InvalidInput("cannot deactivate your own account")
	}

	if err := s.users.SoftDelete(ctx, targetUserID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("deactivate user: %w", err)
	}

	n, err := s.revokeAll(ctx, targetUserID, event.RevokeReasonDeactivated)
	if err != nil {
		return 0, err
	}
	s.log(ctx).InfoContext(ctx, "user deactivated by admin",
		slog.String("actor_id", actor.ID),
		slog.String("target_user_id", targetUserID),
		slog.Int64("revoked", n),
	)
	return n, nil
}

func (s *AuthService) revokeAll(ctx context.Context, userID, reason string) (int64, error) {
	n, err := s.sessions.RevokeAll(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	s.revoked(ctx, userID, "", reason, n)
	return n, nil
}

func (s *AuthService) revoked(ctx context.Context, userID, sessionID, reason string, n int64) {
	SessionsRevoked.WithLabelValues(reason).Add(float64(n))
	if err := s.events.PublishSessionRevoked(ctx, userID, sessionID, reason, n); err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to publish session.revoked event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// ResolveUser returns the non-deleted user with the given id.
func (s *AuthService) ResolveUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if user.IsDeleted {
		return nil, apperrors.ErrNotFound
	}
	return user, nil
}

// ActiveSessions counts the user's live sessions.
func (s *AuthService) ActiveSessions(ctx context.Context, userID string) (int, error) {
	n, err := s.sessions.CountActive(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

// PurgeExpired removes session records that expired before now.
func (s *AuthService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	SessionsPurged.Add(float64(n))
	if n > 0 {
		s.log(ctx).InfoContext(ctx, "purged expired sessions", slog.Int64("deleted", n))
	}
	return n, nil
}

func (s *AuthService) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, s.logger)
}
