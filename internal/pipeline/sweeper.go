package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/44xclub/voicesched/internal/store"
)

const sweepInterval = time.Minute

// StartExpirySweeper runs a background goroutine that periodically marks
// overdue capture sessions expired. Lazy read-time expiry remains
// authoritative; the sweeper just keeps stored rows from lingering in a
// non-terminal status forever.
func StartExpirySweeper(ctx context.Context, repo store.Repository) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("capture session expiry sweeper started", "interval", sweepInterval)

		for {
			select {
			case <-ticker.C:
				expired, err := repo.MarkSessionsExpired(ctx, time.Now())
				if err != nil {
					slog.Error("expiry sweep failed", "error", err)
					continue
				}
				if expired > 0 {
					slog.Info("expiry sweep marked sessions expired", "count", expired)
				}
			case <-ctx.Done():
				slog.Info("expiry sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
