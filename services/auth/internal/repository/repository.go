package repository

import (
	"context"
	"errors"
	"time"

	"github.com/utafrali/projecthub/services/auth/internal/domain"
)

// Session store outcomes. Callers map all of them to one client-visible
// authentication failure; they stay distinct for logging and metrics.
var (
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenExpired  = errors.New("refresh token expired")
	ErrTokenRevoked  = errors.New("refresh token revoked")
	// ErrTokenReused means an already rotated token was presented again. The
	// store has revoked the token's whole session family by the time it is returned.
	ErrTokenReused = errors.New("refresh token reused")
	// ErrTokenSuperseded means the token lost a rotation race: it was rotated
	// less than RotationGrace ago and its replacement is still live. Nothing
	// is revoked.
	ErrTokenSuperseded = errors.New("refresh token superseded")
)

// RotationGrace is how long after a rotation a second presentation of the
// same token counts as a concurrent request rather than a replay, provided
// the replacement has not been used or revoked since.
const RotationGrace = 10 * time.Second

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a non-deleted user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a non-deleted user by their normalised email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// SoftDelete flags a user as deleted.
	SoftDelete(ctx context.Context, id string) error
}

// SessionStore persists hashed refresh-token records.
type SessionStore interface {
	// Create stores rec, first revoking the user's oldest live records so that
	// at most maxSessions remain live afterwards. It returns how many were evicted.
	Create(ctx context.Context, rec *domain.RefreshToken, maxSessions int, now time.Time) (int, error)

	// Rotate atomically consumes the live record with presentedHash and stores
	// next as its replacement. next inherits the consumed record's user,
	// session and expiry. It returns the consumed record. A token that was
	// already rotated yields ErrTokenSuperseded inside RotationGrace while its
	// replacement is live, and ErrTokenReused otherwise.
	Rotate(ctx context.Context, presentedHash string, next *domain.RefreshToken, now time.Time) (*domain.RefreshToken, error)

	// RevokeSession revokes every live record of one session.
	RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) (int64, error)

	// RevokeAll revokes every live record of the user.
	RevokeAll(ctx context.Context, userID string, now time.Time) (int64, error)

	// CountActive counts the user's live records.
	CountActive(ctx context.Context, userID string, now time.Time) (int, error)

	// DeleteExpired removes records that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
