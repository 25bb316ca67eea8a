package app

import (
	"context"
	"log/slog"
	"time"
)

// expiredPurger is the part of service.AuthService the janitor drives.
type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// runJanitor deletes expired refresh-token records every interval until ctx
// is cancelled. One pass runs immediately so a restart cleans up at once.
func runJanitor(ctx context.Context, purger expiredPurger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		passCtx, cancel := context.WithTimeout(ctx, interval)
		if _, err := purger.PurgeExpired(passCtx); err != nil && ctx.Err() == nil {
			logger.Error("session janitor pass failed", slog.String("error", err.Error()))
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
