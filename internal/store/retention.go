package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionWorkerInterval = 5 * time.Minute

// StartRetentionWorker runs a background goroutine that periodically deletes
// questions older than retention. Polls for an expired question then see
// "not found" instead of a stale answer.
func StartRetentionWorker(ctx context.Context, repo Repository, retention time.Duration) {
	startRetentionWorker(ctx, repo, retention, retentionWorkerInterval, time.Now)
}

func startRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, repo, now().Add(-retention))
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, repo Repository, cutoff time.Time) {
	deleted, err := repo.DeleteQuestionsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during sweep", "error", err)
			return
		}
		slog.Error("Retention worker failed to delete expired questions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker removed expired questions", "count", deleted, "cutoff", cutoff)
	}
}
