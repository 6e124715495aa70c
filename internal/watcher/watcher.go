package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/clipbridge/internal/indexer"
)

// Watcher reports debounced image changes in one folder.
type Watcher struct {
	opts      Options
	logger    *slog.Logger
	debouncer *Debouncer
	errors    chan error

	mu      sync.Mutex
	polling bool
}

// New creates a watcher. Nothing is watched until Run.
func New(opts Options, logger *slog.Logger) *Watcher {
	opts = opts.WithDefaults()
	if len(opts.Extensions) == 0 {
		opts.Extensions = indexer.DefaultExtensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		opts:      opts,
		logger:    logger,
		debouncer: NewDebouncer(opts.DebounceWindow),
		errors:    make(chan error, 10),
	}
}

// Batches returns debounced change batches. It is closed when Run returns.
func (w *Watcher) Batches() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watch errors. Sends never block; excess errors are dropped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Polling reports whether the watcher fell back to polling.
func (w *Watcher) Polling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.polling
}

func (w *Watcher) include(name string) bool {
	return indexer.IsImage(name, w.opts.Extensions)
}

// Run watches dir until ctx is done. It fails only when dir cannot be watched
// at all.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	defer w.debouncer.Stop()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", abs)
	}

	if !w.opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fsw.Add(abs); err == nil {
				return w.runNotify(ctx, fsw)
			}
			_ = fsw.Close()
		}
		w.logger.Warn("fsnotify unavailable, falling back to polling",
			slog.String("dir", abs), slog.String("error", err.Error()))
	}

	w.mu.Lock()
	w.polling = true
	w.mu.Unlock()
	return newPoller(abs, w.opts.PollInterval, w.include).run(ctx, w.debouncer.Add, w.reportError)
}

func (w *Watcher) runNotify(ctx context.Context, fsw *fsnotify.Watcher) error {
	defer func() { _ = fsw.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if fe, ok := w.convert(ev); ok {
				w.debouncer.Add(fe)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.reportError(err)
		}
	}
}

// convert maps an fsnotify event to an image event; chmod-only and
// non-image events are dropped.
func (w *Watcher) convert(ev fsnotify.Event) (FileEvent, bool) {
	name := filepath.Base(ev.Name)
	if !w.include(name) {
		return FileEvent{}, false
	}
	fe := FileEvent{Path: name, Timestamp: time.Now()}
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			return FileEvent{}, false
		}
		fe.Operation = OpCreate
	case ev.Has(fsnotify.Write):
		fe.Operation = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		fe.Operation = OpDelete
	default:
		return FileEvent{}, false
	}
	return fe, true
}

func (w *Watcher) reportError(err error) {
	w.logger.Debug("watch error", slog.String("error", err.Error()))
	select {
	case w.errors <- err:
	default:
	}
}
