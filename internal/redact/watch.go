package redact

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize allowlist watcher")

// Watch reloads the allowlist whenever its file is written or replaced,
// until ctx ends. It returns immediately when redaction is disabled or no
// allowlist path is configured.
//
// The parent directory is watched so editors that save by rename are seen.
func (r *Redactor) Watch(ctx context.Context) error {
	if !r.enabled || r.allowlistPath == "" {
		return nil
	}
	target, err := filepath.Abs(r.allowlistPath)
	if err != nil {
		return fmt.Errorf("resolving allowlist path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("allowlist reload failed, keeping previous rules",
					zap.String("path", target), zap.Error(err))
				continue
			}
			r.logger.Info("allowlist reloaded", zap.String("path", target))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("allowlist watcher error", zap.Error(err))
		}
	}
}
