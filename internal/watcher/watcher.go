// Package watcher invalidates cached scope indexes when corpus files
// change on disk. The fingerprint check remains authoritative; the watcher
// only makes rebuilds happen sooner.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Invalidator drops cached indexes for one corpus.
type Invalidator interface {
	Invalidate(corpusID string)
}

// DefaultDebounce batches bursts of file events.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the corpus root with fsnotify and debounces
// invalidations per corpus.
type Watcher struct {
	root     string
	inv      Invalidator
	debounce time.Duration
	fsw      *fsnotify.Watcher
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// New creates a watcher over root; each immediate subdirectory of root is
// one corpus.
func New(root string, inv Invalidator, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     root,
		inv:      inv,
		debounce: debounce,
		fsw:      fsw,
		logger:   slog.Default(),
		pending:  make(map[string]bool),
	}, nil
}

// Run watches until the context is canceled. It returns the context error
// on cancelation and any watcher failure otherwise.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.logger.Info("watcher_started", slog.String("root", w.root))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch_error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New directories must be watched too.
	if event.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}

	corpus := w.corpusOf(event.Name)
	if corpus == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[corpus] = true
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	} else {
		w.timer.Reset(w.debounce)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]bool)
	w.timer = nil
	w.mu.Unlock()

	for corpus := range pending {
		w.inv.Invalidate(corpus)
		w.logger.Info("corpus_invalidated", slog.String("corpus", corpus))
	}
}

// corpusOf maps an event path to its corpus id: the first path element
// under the root. Events on the root itself carry no corpus.
func (w *Watcher) corpusOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return parts[0]
}
