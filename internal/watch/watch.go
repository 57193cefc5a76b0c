// Package watch submits a match job for every new frame that lands in a
// watched directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"asterism/internal/fsutil"
	"asterism/internal/pipeline"
)

// DefaultSettle is how long a file must stay quiet before it is matched.
const DefaultSettle = 500 * time.Millisecond

// Submitter queues jobs.
type Submitter interface {
	Submit(job pipeline.Job) error
}

// Options configure a Watcher.
type Options struct {
	// Reference is matched against every new frame.
	Reference string
	// OverlayDir, when set, receives one overlay PNG per frame.
	OverlayDir string
	// Settle debounces bursts of writes to the same file.
	Settle time.Duration
	// JobOptions are copied into each submitted job.
	JobOptions map[string]any
	// Existing also queues the frames already present at startup.
	Existing bool
	// SkipRAW ignores camera formats the configured loader cannot decode.
	SkipRAW bool
}

// Event records a frame that was handed to the pipeline.
type Event struct {
	Path  string    `json:"path"`
	JobID string    `json:"job_id"`
	Time  time.Time `json:"time"`
}

// Watcher monitors directories for new frames.
type Watcher struct {
	watcher *fsnotify.Watcher
	dirs    []string
	submit  Submitter
	opts    Options
	log     *slog.Logger
	ref     string

	mu        sync.Mutex
	pending   map[string]*time.Timer
	submitted map[string]bool
	events    chan Event
	closed    bool
}

// New creates a watcher over dirs.
func New(dirs []string, submit Submitter, opts Options, logger *slog.Logger) (*Watcher, error) {
	if opts.Reference == "" {
		return nil, errors.New("watch: reference frame is required")
	}
	if len(dirs) == 0 {
		return nil, errors.New("watch: no directories")
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	ref, err := filepath.Abs(opts.Reference)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:   fw,
		dirs:      dirs,
		submit:    submit,
		opts:      opts,
		log:       logger,
		ref:       ref,
		pending:   make(map[string]*time.Timer),
		submitted: make(map[string]bool),
		events:    make(chan Event, 100),
	}, nil
}

// Events reports submitted frames. It is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.shutdown()

	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.log.Info("watching directory", "dir", dir, "reference", w.opts.Reference)
	}
	if w.opts.Existing {
		if err := w.backfill(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.accepts(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) accepts(path string) bool {
	if w.opts.SkipRAW {
		return fsutil.IsNativeFile(path)
	}
	return fsutil.IsImageFile(path)
}

// backfill schedules the frames already sitting in the watched directories.
func (w *Watcher) backfill(ctx context.Context) error {
	for _, dir := range w.dirs {
		files, err := fsutil.ListImages(dir)
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}
		raw, native := fsutil.SeparateRAWAndProcessed(files)
		if w.opts.SkipRAW {
			if len(raw) > 0 {
				w.log.Warn("skipping RAW frames", "dir", dir, "count", len(raw))
			}
			files = native
		}
		for _, f := range files {
			w.schedule(ctx, f)
		}
		w.log.Info("existing frames queued", "dir", dir, "count", len(files))
	}
	return nil
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	abs, err := filepath.Abs(path)
	if err != nil || abs == w.ref {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.submitted[abs] {
		return
	}
	if t, ok := w.pending[abs]; ok {
		t.Reset(w.opts.Settle)
		return
	}
	w.pending[abs] = time.AfterFunc(w.opts.Settle, func() { w.fire(ctx, abs) })
}

func (w *Watcher) fire(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	job := w.job(path)
	err := w.submit.Submit(job)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if errors.Is(err, pipeline.ErrQueueFull) {
		w.log.Warn("queue full, retrying", "path", path)
		if t, ok := w.pending[path]; ok {
			t.Reset(w.opts.Settle)
		}
		return
	}
	delete(w.pending, path)
	if err != nil {
		w.log.Error("submit failed", "path", path, "error", err)
		return
	}
	w.submitted[path] = true
	w.log.Info("frame queued", "path", path, "job", job.ID)

	select {
	case w.events <- Event{Path: path, JobID: job.ID, Time: time.Now()}:
	default:
		w.log.Warn("event buffer full, dropping event", "path", path)
	}
}

func (w *Watcher) job(path string) pipeline.Job {
	opts := make(map[string]any, len(w.opts.JobOptions)+1)
	maps.Copy(opts, w.opts.JobOptions)
	opts["target"] = path

	job := pipeline.Job{
		ID:        pipeline.NewID("watch"),
		Type:      pipeline.JobMatch,
		InputPath: w.opts.Reference,
		Options:   opts,
	}
	if w.opts.OverlayDir != "" {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		job.Output = filepath.Join(w.opts.OverlayDir, base+"-overlay.png")
	}
	return job
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.closed = true
	close(w.events)
}
