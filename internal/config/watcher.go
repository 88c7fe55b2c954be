package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 1500 * time.Millisecond

// Watcher reports when the config file on disk stops matching a loaded Config.
// Changes are not applied; the running hub keeps the config it started with.
type Watcher struct {
	path     string
	current  string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(fingerprint string)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long writes must settle before the file is hashed.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher watches the file cfg was loaded from. onChange receives the new
// on-disk fingerprint each time it differs from the last one seen.
func NewWatcher(cfg *Config, onChange func(fingerprint string), opts ...WatcherOption) (*Watcher, error) {
	if cfg == nil || cfg.SourcePath == "" {
		return nil, fmt.Errorf("config was not loaded from a file")
	}
	w := &Watcher{
		path:     cfg.SourcePath,
		current:  cfg.Fingerprint(),
		debounce: defaultWatchDebounce,
		logger:   slog.Default(),
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx is done. The parent directory is watched so editors that
// replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Debug("config watcher started", "path", w.path, "debounce", w.debounce)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.check()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) check() {
	fp, err := FileFingerprint(w.path)
	if err != nil {
		w.logger.Warn("config file unreadable", "path", w.path, "error", err)
		return
	}
	if fp == w.current {
		return
	}
	w.current = fp
	if w.onChange != nil {
		w.onChange(fp)
	}
}
