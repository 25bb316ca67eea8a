package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkgkafka "github.com/utafrali/projecthub/pkg/kafka"
	"github.com/utafrali/projecthub/pkg/logger"
	"github.com/utafrali/projecthub/services/auth/internal/domain"
)

// Kafka topics for auth domain events.
var (
	TopicUserRegistered       = pkgkafka.Topic("auth", "user.registered")
	TopicSessionCreated       = pkgkafka.Topic("auth", "session.created")
	TopicSessionRotated       = pkgkafka.Topic("auth", "session.rotated")
	TopicSessionRevoked       = pkgkafka.Topic("auth", "session.revoked")
	TopicSessionReuseDetected = pkgkafka.Topic("auth", "session.reuse_detected")
)

// Aggregate types.
const (
	AggregateTypeUser    = "user"
	AggregateTypeSession = "session"
)

// SourceAuthService identifies events originating from the auth service.
const SourceAuthService = "auth-service"

// Revocation reasons carried by session.revoked.
const (
	RevokeReasonLogout      = "logout"
	RevokeReasonLogoutAll   = "logout_all"
	RevokeReasonAdmin       = "admin"
	RevokeReasonEviction    = "eviction"
	RevokeReasonReuse       = "reuse"
	RevokeReasonDeactivated = "deactivated"
)

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// SessionData is the payload for session.created and session.rotated.
type SessionData struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Evicted   int       `json:"evicted,omitempty"`
}

// SessionRevokedData is the payload for session.revoked.
type SessionRevokedData struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
	Count     int64  `json:"count"`
}

// ReuseDetectedData is the payload for session.reuse_detected.
type ReuseDetectedData struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Publisher is the part of pkg/kafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Discard is a Publisher that drops every event. Used when Kafka is disabled.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, string, *pkgkafka.Event) error { return nil }

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
		now:    time.Now,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role.String(),
	}
	return p.publish(ctx, TopicUserRegistered, user.ID, AggregateTypeUser, data)
}

// PublishSessionCreated publishes a session.created event after a login.
func (p *Producer) PublishSessionCreated(ctx context.Context, rec *domain.RefreshToken, evicted int) error {
	data := SessionData{
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		ExpiresAt: rec.ExpiresAt,
		Evicted:   evicted,
	}
	return p.publish(ctx, TopicSessionCreated, rec.SessionID, AggregateTypeSession, data)
}

// PublishSessionRotated publishes a session.rotated event.
func (p *Producer) PublishSessionRotated(ctx context.Context, rec *domain.RefreshToken) error {
	data := SessionData{
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		ExpiresAt: rec.ExpiresAt,
	}
	return p.publish(ctx, TopicSessionRotated, rec.SessionID, AggregateTypeSession, data)
}

// PublishSessionRevoked publishes a session.revoked event. An empty sessionID
// means every session of the user.
func (p *Producer) PublishSessionRevoked(ctx context.Context, userID, sessionID, reason string, count int64) error {
	data := SessionRevokedData{
		UserID:    userID,
		SessionID: sessionID,
		Reason:    reason,
		Count:     count,
	}
	aggregateID, aggregateType := sessionID, AggregateTypeSession
	if sessionID == "" {
		aggregateID, aggregateType = userID, AggregateTypeUser
	}
	return p.publish(ctx, TopicSessionRevoked, aggregateID, aggregateType, data)
}

// PublishReuseDetected publishes a session.reuse_detected event.
func (p *Producer) PublishReuseDetected(ctx context.Context, userID, sessionID string) error {
	data := ReuseDetectedData{UserID: userID, SessionID: sessionID}
	return p.publish(ctx, TopicSessionReuseDetected, sessionID, AggregateTypeSession, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(p.now(), topic, pkgkafka.Aggregate{Type: aggregateType, ID: aggregateID}, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx))

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published auth event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
