package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Login outcomes.
const (
	outcomeSuccess            = "success"
	outcomeInvalidCredentials = "invalid_credentials"
	outcomeError              = "error"
)

// Refresh outcomes beyond success and error.
const (
	outcomeInvalidToken = "invalid_token"
	outcomeNotFound     = "not_found"
	outcomeExpired      = "expired"
	outcomeRevoked      = "revoked"
	outcomeReused       = "reused"
	outcomeSuperseded   = "superseded"
	outcomeUnknownUser  = "unknown_user"
)

var (
	// LoginAttempts counts login attempts by outcome.
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RefreshAttempts counts refresh-token exchanges by outcome.
	RefreshAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_attempts_total",
			Help: "Total number of refresh-token exchanges by outcome",
		},
		[]string{"outcome"},
	)

	// RefreshReuseDetected counts replays of already rotated refresh tokens.
	RefreshReuseDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_refresh_reuse_detected_total",
			Help: "Total number of rotated refresh tokens presented again",
		},
	)

	// SessionsEvicted counts sessions revoked to honour the per-user cap.
	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_evicted_total",
			Help: "Total number of sessions evicted by the per-user session cap",
		},
	)

	// SessionsRevoked counts revoked refresh-token records by reason.
	SessionsRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_revoked_total",
			Help: "Total number of refresh-token records revoked by reason",
		},
		[]string{"reason"},
	)

	// SessionsPurged counts records removed by the cleanup job.
	SessionsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_purged_total",
			Help: "Total number of expired session records removed by cleanup",
		},
	)
)
