// Package watch emits change notifications for configuration files.
//
// A Watcher observes a config directory via fsnotify and reports changes to
// files matching the configured base name. Rapid successive events (editor
// save sequences, atomic writes) are coalesced by a debounce timer so the
// callback fires once per burst. The merge and validation engines have no
// dependency on this package; callers typically wire the callback to the
// loader's cache invalidation.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/layercfg/layercfg/discover"
)

// EventType classifies a file change.
type EventType string

const (
	EventWrite  EventType = "write"
	EventCreate EventType = "create"
	EventRemove EventType = "remove"
	EventRename EventType = "rename"
)

// Event describes a coalesced change to one configuration file.
type Event struct {
	Type EventType
	Path string

	// IsBase is true when the changed file is a base file. Base files feed
	// every environment, so callers should invalidate all cached results.
	IsBase bool

	// Env is the environment of the changed overlay file, empty for base
	// files.
	Env string
}

// Callback receives coalesced change events. It runs on the watcher's timer
// goroutine; long work should be handed off.
type Callback func(Event)

// Config holds watcher configuration.
type Config struct {
	// Dir is the config directory to watch.
	Dir string

	// BaseName is the config file base name, matching the loader's. Files
	// not matching it are ignored. Default "config".
	BaseName string

	// Debounce is the coalescing window; events within it collapse into one
	// callback invocation carrying the latest event. Default 500ms.
	Debounce time.Duration

	// Logger defaults to a no-op logger.
	Logger zerolog.Logger
}

// Watcher watches a configuration directory and delivers debounced change
// events.
type Watcher struct {
	config   Config
	callback Callback
	logger   zerolog.Logger

	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{}
	startErr error

	mu            sync.Mutex
	debounceTimer *time.Timer
	pending       Event
}

// NewWatcher creates a watcher for the given directory. The callback must
// not be nil.
func NewWatcher(config Config, callback Callback) (*Watcher, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("Dir cannot be empty")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if config.BaseName == "" {
		config.BaseName = "config"
	}
	if config.Debounce == 0 {
		config.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		config:   config,
		callback: callback,
		logger:   config.Logger,
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the underlying watcher is fully
// initialized, so changes made after Start returns are never missed. The
// watch loop runs until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}

	if w.startErr != nil {
		return fmt.Errorf("failed to start file watcher: %w", w.startErr)
	}
	return nil
}

// signalReady closes the ready channel exactly once.
func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to create file watcher")
		w.startErr = err
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.Dir); err != nil {
		w.logger.Error().Err(err).Str("dir", w.config.Dir).Msg("failed to watch config directory")
		w.startErr = err
		return
	}

	w.logger.Debug().
		Str("dir", w.config.Dir).
		Dur("debounce", w.config.Debounce).
		Msg("watching config directory")
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.flushPending()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	env, _, ok := discover.ParseName(filepath.Base(event.Name), w.config.BaseName)
	if !ok {
		return
	}

	var kind EventType
	switch {
	case event.Op&fsnotify.Write == fsnotify.Write:
		kind = EventWrite
	case event.Op&fsnotify.Create == fsnotify.Create:
		kind = EventCreate
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		kind = EventRemove
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		kind = EventRename
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = Event{
		Type:   kind,
		Path:   event.Name,
		IsBase: env == "",
		Env:    env,
	}
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.Debounce, w.fireCallback)
}

func (w *Watcher) fireCallback() {
	w.mu.Lock()
	event := w.pending
	w.debounceTimer = nil
	w.mu.Unlock()

	w.logger.Debug().
		Str("path", event.Path).
		Str("type", string(event.Type)).
		Msg("config file changed")
	w.callback(event)
}

// flushPending delivers a pending debounced event immediately on shutdown
// instead of dropping it.
func (w *Watcher) flushPending() {
	w.mu.Lock()
	timer := w.debounceTimer
	w.debounceTimer = nil
	w.mu.Unlock()

	if timer != nil && timer.Stop() {
		w.fireCallback()
	}
}

// Stop stops the watcher and waits for the watch loop to exit. Returns an
// error if shutdown exceeds five seconds.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}

	select {
	case <-w.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}
