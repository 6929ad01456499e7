// Package retention periodically trims aged-out rows from the content
// index.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/blackmichael/feedgen/internal/store"
)

// Task runs ContentTruncate on a fixed interval, deleting rows whose
// updated_at is older than maxAge.
type Task struct {
	store    *store.Store
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

// New builds a retention Task.
func New(s *store.Store, interval, maxAge time.Duration, logger *slog.Logger) *Task {
	return &Task{store: s, interval: interval, maxAge: maxAge, logger: logger}
}

// Run blocks, truncating on every tick until ctx is cancelled.
func (t *Task) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runOnce()
		}
	}
}

func (t *Task) runOnce() {
	cutoff := time.Now().Add(-t.maxAge).Unix()
	deleted, err := t.store.ContentTruncate(cutoff)
	if err != nil {
		t.logger.Error("retention truncate failed", "error", err)
		return
	}
	if deleted > 0 {
		t.logger.Info("retention truncate complete", "deleted", deleted)
	}
}
