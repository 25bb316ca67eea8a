package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/projecthub/pkg/database"
	apperrors "github.com/utafrali/projecthub/pkg/errors"
	"github.com/utafrali/projecthub/services/auth/internal/domain"
	"github.com/utafrali/projecthub/services/auth/internal/repository"
)

const (
	lockUserQuery = `SELECT id FROM users WHERE id = $1 FOR UPDATE`

	evictOldestQuery = `
		UPDATE refresh_tokens SET revoked = TRUE, updated_at = $2
		WHERE id IN (
			SELECT id FROM refresh_tokens
			WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
			ORDER BY created_at DESC, id DESC
			OFFSET $3
		)`

	insertTokenQuery = `
		INSERT INTO refresh_tokens (id, user_id, session_id, token_hash, expires_at, revoked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6)`

	consumeTokenQuery = `
		UPDATE refresh_tokens SET revoked = TRUE, updated_at = $2
		WHERE token_hash = $1 AND revoked = FALSE AND expires_at > $2
		RETURNING id, user_id, session_id, expires_at, created_at`

	linkReplacementQuery = `UPDATE refresh_tokens SET replaced_by = $1 WHERE id = $2`

	inspectTokenQuery = `
		SELECT t.id, t.user_id, t.session_id, t.revoked, t.replaced_by, t.expires_at, t.updated_at,
			n.revoked = FALSE AND n.replaced_by IS NULL AND n.expires_at > $2
		FROM refresh_tokens t
		LEFT JOIN refresh_tokens n ON n.id = t.replaced_by
		WHERE t.token_hash = $1`

	revokeFamilyQuery = `UPDATE refresh_tokens SET revoked = TRUE, updated_at = $2 WHERE session_id = $1 AND revoked = FALSE`
)

// SessionStore implements repository.SessionStore using PostgreSQL.
type SessionStore struct {
	db database.DB
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(db database.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts rec after revoking the user's oldest live records beyond
// maxSessions-1. The user row is locked for the duration so concurrent logins
// of one user cannot overshoot the cap. maxSessions <= 0 disables the cap.
func (s *SessionStore) Create(ctx context.Context, rec *domain.RefreshToken, maxSessions int, now time.Time) (evicted int, err error) {
	ctx, end := database.TraceQuery(ctx, "CreateSession", insertTokenQuery)
	defer func() { end(err) }()

	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, lockUserQuery, rec.UserID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("user", rec.UserID)
			}
			return fmt.Errorf("lock user: %w", err)
		}

		if maxSessions > 0 {
			ct, err := tx.Exec(ctx, evictOldestQuery, rec.UserID, now, maxSessions-1)
			if err != nil {
				return fmt.Errorf("evict oldest sessions: %w", err)
			}
			evicted = int(ct.RowsAffected())
		}

		if _, err := tx.Exec(ctx, insertTokenQuery,
			rec.ID, rec.UserID, rec.SessionID, rec.TokenHash, rec.ExpiresAt, now,
		); err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	rec.CreatedAt, rec.UpdatedAt = now, now
	return evicted, nil
}

// Rotate consumes the live record matching presentedHash and inserts next in
// the same transaction. The conditional UPDATE is the single point of
// consumption: of two concurrent rotations only one matches a row.
func (s *SessionStore) Rotate(ctx context.Context, presentedHash string, next *domain.RefreshToken, now time.Time) (_ *domain.RefreshToken, err error) {
	ctx, end := database.TraceQuery(ctx, "RotateSession", consumeTokenQuery)
	defer func() { end(ignoreOutcome(err)) }()

	var (
		consumed *domain.RefreshToken
		outcome  error
	)

	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var old domain.RefreshToken
		err := tx.QueryRow(ctx, consumeTokenQuery, presentedHash, now).Scan(
			&old.ID, &old.UserID, &old.SessionID, &old.ExpiresAt, &old.CreatedAt,
		)
		switch {
		case err == nil:
		case errors.Is(err, pgx.ErrNoRows):
			outcome, err = classifyUnusable(ctx, tx, presentedHash, now)
			return err
		default:
			return fmt.Errorf("consume refresh token: %w", err)
		}

		next.UserID = old.UserID
		next.SessionID = old.SessionID
		next.ExpiresAt = old.ExpiresAt
		if _, err := tx.Exec(ctx, insertTokenQuery,
			next.ID, next.UserID, next.SessionID, next.TokenHash, next.ExpiresAt, now,
		); err != nil {
			return fmt.Errorf("insert replacement token: %w", err)
		}
		if _, err := tx.Exec(ctx, linkReplacementQuery, next.ID, old.ID); err != nil {
			return fmt.Errorf("link replacement token: %w", err)
		}

		old.TokenHash = presentedHash
		old.Revoked = true
		old.ReplacedBy = next.ID
		old.UpdatedAt = now
		consumed = &old
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}

	next.CreatedAt, next.UpdatedAt = now, now
	return consumed, nil
}

// classifyUnusable explains why presentedHash could not be consumed. A token
// rotated less than RotationGrace ago whose replacement is still live lost a
// concurrent rotation and is only rejected. Any other already rotated token is
// a replay: its session family is revoked here, inside the caller's
// transaction, and ErrTokenReused is returned as the outcome.
func classifyUnusable(ctx context.Context, tx pgx.Tx, presentedHash string, now time.Time) (outcome, err error) {
	var (
		rec         domain.RefreshToken
		replacedBy  *string
		successorOK *bool
	)
	err = tx.QueryRow(ctx, inspectTokenQuery, presentedHash, now).Scan(
		&rec.ID, &rec.UserID, &rec.SessionID, &rec.Revoked, &replacedBy, &rec.ExpiresAt, &rec.UpdatedAt, &successorOK,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrTokenNotFound, nil
		}
		return nil, fmt.Errorf("inspect refresh token: %w", err)
	}

	switch {
	case rec.Revoked && replacedBy != nil:
		if successorOK != nil && *successorOK && now.Sub(rec.UpdatedAt) < repository.RotationGrace {
			return repository.ErrTokenSuperseded, nil
		}
		if _, err := tx.Exec(ctx, revokeFamilyQuery, rec.SessionID, now); err != nil {
			return nil, fmt.Errorf("revoke session family: %w", err)
		}
		return repository.ErrTokenReused, nil
	case rec.Revoked:
		return repository.ErrTokenRevoked, nil
	default:
		return repository.ErrTokenExpired, nil
	}
}

// RevokeSession revokes every live record of one session of the user.
func (s *SessionStore) RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) (_ int64, err error) {
	query := `UPDATE refresh_tokens SET revoked = TRUE, updated_at = $3 WHERE user_id = $1 AND session_id = $2 AND revoked = FALSE`

	ctx, end := database.TraceQuery(ctx, "RevokeSession", query)
	defer func() { end(err) }()

	ct, err := s.db.Exec(ctx, query, userID, sessionID, now)
	if err != nil {
		return 0, fmt.Errorf("revoke session: %w", err)
	}
	return ct.RowsAffected(), nil
}

// RevokeAll revokes every live record of the user.
func (s *SessionStore) RevokeAll(ctx context.Context, userID string, now time.Time) (_ int64, err error) {
	query := `UPDATE refresh_tokens SET revoked = TRUE, updated_at = $2 WHERE user_id = $1 AND revoked = FALSE`

	ctx, end := database.TraceQuery(ctx, "RevokeAllSessions", query)
	defer func() { end(err) }()

	ct, err := s.db.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

// CountActive counts the user's live records.
func (s *SessionStore) CountActive(ctx context.Context, userID string, now time.Time) (_ int, err error) {
	query := `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2`

	ctx, end := database.TraceQuery(ctx, "CountActiveSessions", query)
	defer func() { end(err) }()

	var n int
	if err = s.db.QueryRow(ctx, query, userID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

// DeleteExpired removes records that expired before the given time. Revoked
// but unexpired records are kept so replays of them are still recognised.
func (s *SessionStore) DeleteExpired(ctx context.Context, before time.Time) (_ int64, err error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	ctx, end := database.TraceQuery(ctx, "DeleteExpiredSessions", query)
	defer func() { end(err) }()

	ct, err := s.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ignoreOutcome keeps expected rotation rejections off the span error status.
func ignoreOutcome(err error) error {
	switch {
	case errors.Is(err, repository.ErrTokenNotFound),
		errors.Is(err, repository.ErrTokenExpired),
		errors.Is(err, repository.ErrTokenRevoked),
		errors.Is(err, repository.ErrTokenSuperseded):
		return nil
	}
	return err
}
