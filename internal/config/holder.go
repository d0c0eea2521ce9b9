package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder provides atomic, hot-reloadable access to a RuntimeSnapshot, the
// way the teacher's ConfigHolder does for AppConfig: a fsnotify watch on
// the config file triggers Reload, and a failed reload keeps the prior
// snapshot in place rather than leaving the gateway half-configured.
type Holder struct {
	loader   *Loader
	logger   zerolog.Logger
	snapshot atomic.Pointer[RuntimeSnapshot]
	watcher  *fsnotify.Watcher
}

// NewHolder loads the initial configuration and returns a Holder exposing
// it. Call Watch to start hot-reloading on file changes.
func NewHolder(loader *Loader, logger zerolog.Logger) (*Holder, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}
	h := &Holder{loader: loader, logger: logger}
	snap := cfg.Snapshot()
	h.snapshot.Store(&snap)
	return h, nil
}

// Get returns the current RuntimeSnapshot (thread-safe, lock-free read).
func (h *Holder) Get() RuntimeSnapshot {
	return *h.snapshot.Load()
}

// Reload re-loads the configuration file and, if valid, atomically swaps
// the live snapshot. A parse or validation failure is logged and the
// prior snapshot is kept, matching spec.md's fail-closed reload policy.
func (h *Holder) Reload() {
	cfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping prior configuration")
		return
	}
	snap := cfg.Snapshot()
	h.snapshot.Store(&snap)
	h.logger.Info().Msg("configuration reloaded")
}

// Watch starts an fsnotify watch on the loader's config file's directory
// and calls Reload on every write/create/rename event targeting that
// file. It returns immediately; the watch goroutine runs until ctx is
// canceled or Close is called. A no-op if the loader has no config path.
func (h *Holder) Watch(ctx context.Context) error {
	if h.loader.configPath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	h.watcher = watcher

	dir := filepath.Dir(h.loader.configPath)
	target := filepath.Clean(h.loader.configPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					h.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn().Err(err).Msg("config watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if running.
func (h *Holder) Close() error {
	if h.watcher == nil {
		return nil
	}
	return h.watcher.Close()
}
