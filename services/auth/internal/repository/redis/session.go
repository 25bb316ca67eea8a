package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/projecthub/pkg/database"
	"github.com/utafrali/projecthub/services/auth/internal/domain"
	"github.com/utafrali/projecthub/services/auth/internal/repository"
)

// SessionStore implements repository.SessionStore on Redis. Every mutation is
// a single Lua script, so each one is atomic with respect to other clients.
type SessionStore struct {
	client redis.UniversalClient
}

// NewSessionStore creates a new Redis-backed session store.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{client: client}
}

func tokenKey(hash string) string       { return tokenKeyPrefix + hash }
func userKey(userID string) string      { return userKeyPrefix + userID }
func familyKey(sessionID string) string { return familyKeyPrefix + sessionID }

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Create stores rec and evicts the user's oldest live records beyond the cap.
func (s *SessionStore) Create(ctx context.Context, rec *domain.RefreshToken, maxSessions int, now time.Time) (_ int, err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "CreateSession", "EVALSHA create")
	defer func() { end(err) }()

	evicted, err := createScript.Run(ctx, s.client,
		[]string{userKey(rec.UserID), tokenKey(rec.TokenHash), familyKey(rec.SessionID)},
		millis(now), maxSessions, rec.ID, rec.UserID, rec.SessionID, millis(rec.ExpiresAt), rec.TokenHash, tokenKeyPrefix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis create session: %w", err)
	}

	rec.CreatedAt, rec.UpdatedAt = now, now
	return evicted, nil
}

// Rotate consumes the record for presentedHash and stores next in one script.
func (s *SessionStore) Rotate(ctx context.Context, presentedHash string, next *domain.RefreshToken, now time.Time) (_ *domain.RefreshToken, err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "RotateSession", "EVALSHA rotate")
	defer func() { end(err) }()

	res, err := rotateScript.Run(ctx, s.client,
		[]string{tokenKey(presentedHash)},
		millis(now), next.ID, next.TokenHash, presentedHash, tokenKeyPrefix, userKeyPrefix, familyKeyPrefix,
		repository.RotationGrace.Milliseconds(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis rotate session: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("redis rotate session: empty reply")
	}

	switch res[0] {
	case "ok":
	case "not_found":
		return nil, repository.ErrTokenNotFound
	case "expired":
		return nil, repository.ErrTokenExpired
	case "revoked":
		return nil, repository.ErrTokenRevoked
	case "reused":
		return nil, repository.ErrTokenReused
	case "superseded":
		return nil, repository.ErrTokenSuperseded
	default:
		return nil, fmt.Errorf("redis rotate session: unexpected reply %q", res[0])
	}

	if len(res) != 6 {
		return nil, fmt.Errorf("redis rotate session: malformed reply of %d fields", len(res))
	}
	expiresAt, err := fromMillis(res[4])
	if err != nil {
		return nil, fmt.Errorf("redis rotate session: %w", err)
	}
	createdAt, err := fromMillis(res[5])
	if err != nil {
		return nil, fmt.Errorf("redis rotate session: %w", err)
	}

	next.UserID = res[2]
	next.SessionID = res[3]
	next.ExpiresAt = expiresAt
	next.CreatedAt, next.UpdatedAt = now, now

	return &domain.RefreshToken{
		ID:         res[1],
		UserID:     res[2],
		SessionID:  res[3],
		TokenHash:  presentedHash,
		ExpiresAt:  expiresAt,
		Revoked:    true,
		ReplacedBy: next.ID,
		CreatedAt:  createdAt,
		UpdatedAt:  now,
	}, nil
}

// RevokeSession revokes every live record of one session of the user.
func (s *SessionStore) RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) (_ int64, err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "RevokeSession", "EVALSHA revoke_session")
	defer func() { end(err) }()

	n, err := revokeSessionScript.Run(ctx, s.client,
		[]string{familyKey(sessionID), userKey(userID)},
		millis(now), userID, tokenKeyPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis revoke session: %w", err)
	}
	return n, nil
}

// RevokeAll revokes every live record of the user.
func (s *SessionStore) RevokeAll(ctx context.Context, userID string, now time.Time) (_ int64, err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "RevokeAllSessions", "EVALSHA revoke_all")
	defer func() { end(err) }()

	n, err := revokeAllScript.Run(ctx, s.client, []string{userKey(userID)}, millis(now), tokenKeyPrefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis revoke all sessions: %w", err)
	}
	return n, nil
}

// CountActive counts the user's live records.
func (s *SessionStore) CountActive(ctx context.Context, userID string, now time.Time) (_ int, err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "CountActiveSessions", "EVALSHA count")
	defer func() { end(err) }()

	n, err := countScript.Run(ctx, s.client, []string{userKey(userID)}, millis(now), tokenKeyPrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("redis count active sessions: %w", err)
	}
	return n, nil
}

// DeleteExpired prunes dead members from every user's live set. Token and
// family keys carry their own expiry and need no sweeping.
func (s *SessionStore) DeleteExpired(ctx context.Context, before time.Time) (_ int64, err error) {
	ctx, end := database.TraceCommand(ctx, "redis", "DeleteExpiredSessions", "SCAN session:user:*")
	defer func() { end(err) }()

	var removed int64
	iter := s.client.Scan(ctx, 0, userKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := purgeScript.Run(ctx, s.client, []string{iter.Val()}, millis(before), tokenKeyPrefix).Int64()
		if err != nil {
			return removed, fmt.Errorf("redis purge %s: %w", iter.Val(), err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan user sets: %w", err)
	}
	return removed, nil
}

var _ repository.SessionStore = (*SessionStore)(nil)
