package config

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadFunc receives the freshly loaded configuration whenever the
// watched file changes.
type ReloadFunc func(Config)

// Watcher polls a configuration file and reloads it on modification.
// Polling keeps the dependency surface flat and is cheap at the
// intervals config files change at.
type Watcher struct {
	path     string
	interval time.Duration
	loader   *Loader
	onReload ReloadFunc
	logger   *zap.Logger

	mu      sync.Mutex
	lastMod time.Time
	cancel  context.CancelFunc
}

// NewWatcher creates a Watcher for path. interval defaults to 5s when
// non-positive.
func NewWatcher(path string, interval time.Duration, onReload ReloadFunc, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		loader:   NewLoader().WithConfigPath(path),
		onReload: onReload,
		logger:   logger.With(zap.String("component", "config_watcher")),
	}
}

// Start begins polling until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop halts polling. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	changed := info.ModTime().After(w.lastMod)
	if changed {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()

	if !changed {
		return
	}

	cfg, err := w.loader.Load()
	if err != nil {
		// Keep running with the previous configuration.
		w.logger.Error("config reload failed", zap.Error(err))
		return
	}

	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
