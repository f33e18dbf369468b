package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/internal/metrics"
)

// ReloadedEvent reports the outcome of one reload attempt
type ReloadedEvent struct {
	Timestamp time.Time
	Names     []string
	Error     error
}

// Watcher monitors a policy directory and atomically replaces the store
// contents when files change. A failed load or validation keeps the
// previous policy set serving.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	source   *FileSource
	store    Store
	logger   *zap.Logger
	metrics  metrics.Metrics
	debounce time.Duration

	mu            sync.RWMutex
	debounceTimer *time.Timer
	isWatching    bool

	eventChan chan ReloadedEvent
	stopChan  chan struct{}
}

// WatcherConfig configures a Watcher
type WatcherConfig struct {
	// Debounce collapses bursts of file events into one reload.
	// Defaults to 500ms.
	Debounce time.Duration
	Logger   *zap.Logger
	Metrics  metrics.Metrics
}

// NewWatcher creates a watcher that reloads dir into store via source
func NewWatcher(dir string, store Store, source *FileSource, cfg WatcherConfig) (*Watcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:   watcher,
		dir:       dir,
		source:    source,
		store:     store,
		logger:    logger,
		metrics:   m,
		debounce:  debounce,
		eventChan: make(chan ReloadedEvent, 10),
		stopChan:  make(chan struct{}),
	}, nil
}

// Watch starts watching the policy directory for changes
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.isWatching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.isWatching = false
		w.mu.Unlock()
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}

	w.logger.Info("starting policy file watcher",
		zap.String("path", w.dir),
		zap.Duration("debounce", w.debounce))

	go w.watchLoop(ctx)
	return nil
}

// watchLoop processes file system events with debouncing
func (w *Watcher) watchLoop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.isWatching = false
		w.mu.Unlock()
		w.logger.Info("policy file watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldProcessEvent(event) {
				w.handleEvent(event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// shouldProcessEvent keeps only events for policy file types
func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	switch filepath.Ext(event.Name) {
	case ".ini", ".yaml", ".yml":
		return true
	}
	return false
}

// handleEvent resets the debounce timer on every relevant event
func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.logger.Debug("policy file change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()))

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		w.Reload(context.Background())
	})
}

// Reload loads the directory and swaps the store contents. The swap is
// all-or-nothing: any load or validation error leaves the previous set
// in place.
func (w *Watcher) Reload(ctx context.Context) {
	w.logger.Info("reloading policies from disk", zap.String("path", w.dir))

	policies, err := w.source.All(ctx)
	if err == nil {
		err = w.store.Replace(ctx, policies)
	}
	if err != nil {
		w.logger.Error("policy reload failed, keeping previous set",
			zap.String("path", w.dir),
			zap.Error(err))
		w.metrics.RecordReload(false)
		w.emit(ReloadedEvent{Timestamp: time.Now(), Error: err})
		return
	}

	names := make([]string, 0, len(policies))
	for i := range policies {
		names = append(names, policies[i].Name)
	}

	w.logger.Info("policies reloaded",
		zap.Int("count", len(policies)),
		zap.Strings("policies", names))
	w.metrics.RecordReload(true)
	w.emit(ReloadedEvent{Timestamp: time.Now(), Names: names})
}

// emit delivers a reload event without ever blocking the reload path
func (w *Watcher) emit(ev ReloadedEvent) {
	select {
	case w.eventChan <- ev:
	default:
		w.logger.Debug("reload event dropped, channel full")
	}
}

// EventChan returns a channel for receiving reload events
func (w *Watcher) EventChan() <-chan ReloadedEvent {
	return w.eventChan
}

// IsWatching reports whether the watcher is currently active
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isWatching
}

// Stop stops watching for file changes
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isWatching {
		return nil
	}
	w.isWatching = false

	close(w.stopChan)
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("error closing watcher", zap.Error(err))
		return err
	}
	return nil
}
