// Package watcher indexes structured notes as they appear in a folder.
//
// New and changed *.json files are loaded and indexed once writes settle.
// Removed or renamed files are deleted from the index by their source id.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/normalize"
)

// ErrHandlerRequired is returned when no index handler is provided.
var ErrHandlerRequired = errors.New("index handler required")

const defaultDebounce = 500 * time.Millisecond

// Handler applies note changes to the index. *index.Indexer satisfies it.
type Handler interface {
	IndexDocument(ctx context.Context, raw *normalize.RawDocument) (core.Generation, error)
	Delete(ctx context.Context, recordIDs ...string) (core.Generation, error)
}

// Action is what the watcher does for a file event.
type Action int

const (
	ActionNone Action = iota
	ActionIndex
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionIndex:
		return "index"
	case ActionDelete:
		return "delete"
	}
	return "none"
}

// Event reports one applied change.
type Event struct {
	Path       string
	SourceID   string
	Action     Action
	Generation core.Generation
	Err        error
}

// Watcher watches one folder of structured notes.
type Watcher struct {
	dir         string
	handler     Handler
	debounce    time.Duration
	initialScan bool
	onEvent     func(Event)
	logger      *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before it is processed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithInitialScan indexes the notes already in the folder when Run starts.
func WithInitialScan(enabled bool) Option {
	return func(w *Watcher) {
		w.initialScan = enabled
	}
}

// WithEventHook calls fn after every applied change.
func WithEventHook(fn func(Event)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger.With("component", "watcher")
		}
	}
}

// New creates a watcher for dir.
func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	w := &Watcher{
		dir:      dir,
		handler:  handler,
		debounce: defaultDebounce,
		logger:   slog.Default().With("component", "watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watching folder", "dir", w.dir)

	if w.initialScan {
		w.scan(ctx)
	}

	pending := newDebouncer(w.debounce, ctx.Done())
	defer pending.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if action := classify(ev); action != ActionNone {
				pending.schedule(ev.Name, action)
			}

		case t := <-pending.ready:
			if action, ok := pending.take(t); ok {
				w.apply(ctx, t.path, action)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

// classify maps a file event to an action. Directories and non-note files
// are ignored; chmod events carry no content change.
func classify(ev fsnotify.Event) Action {
	if !normalize.IsNoteFile(ev.Name) {
		return ActionNone
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return ActionDelete
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			return ActionNone
		}
		return ActionIndex
	}
	return ActionNone
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("error scanning folder", "dir", w.dir, "err", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !normalize.IsNoteFile(e.Name()) {
			continue
		}
		w.apply(ctx, filepath.Join(w.dir, e.Name()), ActionIndex)
	}
}

func (w *Watcher) apply(ctx context.Context, path string, action Action) {
	ev := Event{Path: path, SourceID: normalize.SourceID(path), Action: action}

	switch action {
	case ActionIndex:
		doc, err := normalize.LoadFile(path)
		if err != nil {
			ev.Err = err
			break
		}
		ev.Generation, ev.Err = w.handler.IndexDocument(ctx, doc)
	case ActionDelete:
		ev.Generation, ev.Err = w.handler.Delete(ctx, ev.SourceID)
	}

	if ev.Err != nil {
		w.logger.Warn("failed to apply change", "path", path, "action", action, "err", ev.Err)
	} else {
		w.logger.Info("applied change", "id", ev.SourceID, "action", action, "generation", ev.Generation)
	}
	if w.onEvent != nil {
		w.onEvent(ev)
	}
}
