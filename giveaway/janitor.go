package giveaway

import (
	"context"
	"log/slog"
	"time"
)

// StartJanitor prunes aged-out chat lines every interval until ctx is done.
// Without it users who stop chatting keep their last lines in memory.
func StartJanitor(ctx context.Context, m *Machine, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("chat janitor started", slog.Duration("interval", interval), slog.String("component", "janitor"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users := m.Prune()
			slog.Debug("chat buffer pruned", slog.Int("users", users), slog.String("component", "janitor"))
		}
	}
}
