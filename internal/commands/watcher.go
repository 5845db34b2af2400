package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tjfontaine/interactions-gateway/internal/responses"
)

// Watcher reloads the catalog whenever the file changes and publishes the
// new table to a registry. A catalog that fails to parse is logged and the
// previous table keeps serving.
type Watcher struct {
	path     string
	registry *responses.Registry
	logger   *slog.Logger
	onChange func(*responses.Table)
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the watcher's logger.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// OnChange registers a callback invoked after every successful reload.
func OnChange(fn func(*responses.Table)) WatcherOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// WithDebounce coalesces bursts of file events (truncate then write) into a
// single reload after d of quiet.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher for the catalog at path.
func NewWatcher(path string, registry *responses.Registry, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path cannot be empty")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		registry: registry,
		logger:   slog.Default(),
		debounce: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. The directory is watched rather than the file so
// that editors which replace the file on save are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.watcher = fw
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("watching command catalog for changes", slog.String("path", w.path))

	go w.loop(ctx, fw, w.done)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("command catalog watch stopped")
			return

		case <-timer.C:
			w.Reload()

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("command catalog watch error", slog.String("error", err.Error()))
		}
	}
}

// Reload parses the catalog now and swaps it in on success.
func (w *Watcher) Reload() error {
	table, err := Load(w.path)
	if err != nil {
		w.logger.Error("failed to reload command catalog",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return err
	}
	w.registry.Store(table)
	w.logger.Info("command catalog reloaded",
		slog.String("path", w.path),
		slog.Int("commands", table.Len()))
	if w.onChange != nil {
		w.onChange(table)
	}
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw, done := w.watcher, w.done
	w.watcher = nil
	w.mu.Unlock()

	if fw == nil {
		return nil
	}
	err := fw.Close()
	<-done
	return err
}
