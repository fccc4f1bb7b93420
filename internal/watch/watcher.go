// Package watch submits solve jobs for observation files dropped into an
// inbox directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"astrored/internal/fsutil"
	"astrored/internal/pipeline"
)

// DefaultSettle is how long a file must stay quiet before it is submitted.
const DefaultSettle = 500 * time.Millisecond

// Submitter accepts jobs. *pipeline.Pipeline satisfies it.
type Submitter interface {
	Submit(job pipeline.Job) (string, error)
}

// Watcher monitors one inbox directory.
type Watcher struct {
	inbox     string
	processed string
	settle    time.Duration
	submit    Submitter
	log       *slog.Logger

	watcher *fsnotify.Watcher
	ready   chan string
	done    chan struct{} // closed when Run returns
	stop    sync.Once

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher for inbox. When processed is not empty, files are
// moved there before their job is submitted.
func New(inbox, processed string, submit Submitter, log *slog.Logger) (*Watcher, error) {
	if inbox == "" {
		return nil, errors.New("watch: inbox directory is required")
	}
	if log == nil {
		log = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		inbox:     inbox,
		processed: processed,
		settle:    DefaultSettle,
		submit:    submit,
		log:       log.With("component", "watch"),
		watcher:   fw,
		ready:     make(chan string, 64),
		done:      make(chan struct{}),
		pending:   make(map[string]*time.Timer),
	}, nil
}

// SetSettle overrides the quiet period.
func (w *Watcher) SetSettle(d time.Duration) {
	w.settle = d
}

// Run watches until ctx is canceled. Files already present in the inbox
// are submitted first.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop.Do(func() { close(w.done) })
	defer w.watcher.Close()
	if err := os.MkdirAll(w.inbox, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	if w.processed != "" {
		if err := os.MkdirAll(w.processed, 0o755); err != nil {
			return fmt.Errorf("create processed dir: %w", err)
		}
	}
	if err := w.watcher.Add(w.inbox); err != nil {
		return fmt.Errorf("watch %s: %w", w.inbox, err)
	}
	w.log.Info("watching inbox", "dir", w.inbox)

	// only the top level is watched, so only the top level is scanned
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && fsutil.IsObservationFile(e.Name()) {
			w.handle(filepath.Join(w.inbox, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !fsutil.IsObservationFile(event.Name) {
				continue
			}
			w.schedule(event.Name)
		case path := <-w.ready:
			w.handle(path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

// schedule restarts the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.fire(path) })
}

// fire hands a settled path to Run. Once Run has returned the path is
// dropped.
func (w *Watcher) fire(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
	select {
	case w.ready <- path:
	case <-w.done:
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) handle(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	input := path
	if w.processed != "" {
		dst := filepath.Join(w.processed, filepath.Base(path))
		if err := move(path, dst); err != nil {
			w.log.Error("failed to move observation file", "path", path, "error", err)
			return
		}
		input = dst
	}
	id, err := w.submit.Submit(pipeline.Job{
		Type:      pipeline.JobSolve,
		Source:    "inbox",
		InputPath: input,
	})
	if err != nil {
		w.log.Error("failed to submit job", "path", input, "error", err)
		return
	}
	w.log.Info("submitted observation file", "path", input, "job", id)
}

// move renames src to dst, copying when they are on different devices.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := fsutil.CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
