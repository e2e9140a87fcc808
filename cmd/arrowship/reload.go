package main

import (
	"context"
	"log/slog"

	"github.com/arrowship/arrowship/pkg/config"
)

// watchLevel applies log.level changes from the config file until ctx ends.
// Other settings need a restart.
func (g *globals) watchLevel(ctx context.Context, path string) {
	err := config.Watch(ctx, path, func(updated *config.Config) {
		if g.logLevel != "" {
			return
		}
		if err := g.setLevel(updated.Log.Level); err != nil {
			slog.Warn("arrowship: ignoring reloaded log level", "err", err)
			return
		}
		slog.Info("arrowship: log level reloaded", "level", updated.Log.Level)
	})
	if err != nil {
		slog.Error("arrowship: config watcher stopped", "err", err)
	}
}
