package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file at path whenever it is written or replaced
// and calls onChange with the result. It watches the parent directory, so
// saves that rename a new file over path keep being seen. It runs until ctx
// is cancelled.
//
// A reload that fails to parse or validate is logged and skipped; the last
// good config stays current. Changed settings that only take effect on
// restart are logged as a warning.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	current, err := Load(path)
	if err != nil {
		slog.Warn("config: initial load failed, watching anyway", "path", path, "err", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}
	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			if current != nil {
				if keys := RestartKeys(current, cfg); len(keys) > 0 {
					slog.Warn("config: changed settings take effect after a restart",
						"path", path, "keys", keys)
				}
			}
			current = cfg

			slog.Info("config: reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// RestartKeys lists the top-level keys that differ between old and updated
// and are only read at startup. Only log.level is applied live.
func RestartKeys(old, updated *Config) []string {
	var keys []string
	add := func(key string, changed bool) {
		if changed {
			keys = append(keys, key)
		}
	}
	add("endpoint", old.Endpoint != updated.Endpoint)
	add("table", old.Table != updated.Table)
	add("catalog_url", old.CatalogURL != updated.CatalogURL)
	add("credentials", old.Credentials != updated.Credentials)
	add("writer_disabled", old.WriterDisabled != updated.WriterDisabled)
	add("debug", old.Debug != updated.Debug)
	add("retry", old.Retry != updated.Retry)
	add("transport", old.Transport != updated.Transport)
	add("failure_rate", old.FailureRate != updated.FailureRate)
	return keys
}
