package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads path each time it is written and passes the result to
// onChange: the parsed config, or the load error. It runs until ctx is
// cancelled.
//
// Watch does not apply anything itself; serve reads its config once. It
// backs validate --watch, which re-checks a file while it is being edited.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(*Config, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	path = abs
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// watch the directory: an atomic save renames a new file over path,
	// which a watch on the old inode never sees
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	logger.Info("config_watch_started", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config_reload_failed", zap.String("path", path), zap.Error(err))
			} else {
				logger.Info("config_reloaded", zap.String("path", path), zap.Int("targets", len(cfg.Targets)))
			}
			onChange(cfg, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config_watch_error", zap.Error(err))
		}
	}
}
