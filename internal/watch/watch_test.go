package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asterism/internal/logging"
	"asterism/internal/pipeline"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	full int
}

func (r *recordingSubmitter) Submit(job pipeline.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full > 0 {
		r.full--
		return pipeline.ErrQueueFull
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingSubmitter) snapshot() []pipeline.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Job(nil), r.jobs...)
}

func startWatcher(t *testing.T, dir string, sub Submitter, opts Options) *Watcher {
	t.Helper()
	w, err := New([]string{dir}, sub, opts, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	return w
}

func waitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
		return Event{}
	}
}

func TestWatcherSubmitsNewFrames(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.png")
	require.NoError(t, os.WriteFile(ref, []byte("ref"), 0o644))

	sub := &recordingSubmitter{}
	w := startWatcher(t, dir, sub, Options{
		Reference:  ref,
		OverlayDir: "/tmp/overlays",
		Settle:     50 * time.Millisecond,
		JobOptions: map[string]any{"grid": 4},
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	require.NoError(t, os.WriteFile(ref, []byte("ref again"), 0o644))
	frame := filepath.Join(dir, "frame-002.png")
	require.NoError(t, os.WriteFile(frame, []byte("frame"), 0o644))

	ev := waitEvent(t, w)
	assert.Equal(t, frame, ev.Path)

	jobs := sub.snapshot()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, ev.JobID, job.ID)
	assert.Equal(t, pipeline.JobMatch, job.Type)
	assert.Equal(t, ref, job.InputPath)
	assert.Equal(t, "/tmp/overlays/frame-002-overlay.png", job.Output)
	assert.Equal(t, frame, job.Options["target"])
	assert.Equal(t, 4, job.Options["grid"])
}

func TestWatcherSubmitsOnce(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{}
	w := startWatcher(t, dir, sub, Options{Reference: filepath.Join(dir, "ref.png"), Settle: 50 * time.Millisecond})

	frame := filepath.Join(dir, "frame.jpg")
	require.NoError(t, os.WriteFile(frame, []byte("a"), 0o644))
	waitEvent(t, w)

	require.NoError(t, os.WriteFile(frame, []byte("ab"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, sub.snapshot(), 1)
}

func TestWatcherRetriesWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{full: 2}
	w := startWatcher(t, dir, sub, Options{Reference: filepath.Join(dir, "ref.png"), Settle: 20 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.tif"), []byte("x"), 0o644))
	waitEvent(t, w)
	assert.Len(t, sub.snapshot(), 1)
}

func TestNewRequiresReference(t *testing.T) {
	_, err := New([]string{t.TempDir()}, &recordingSubmitter{}, Options{}, logging.Discard())
	assert.Error(t, err)

	_, err = New(nil, &recordingSubmitter{}, Options{Reference: "ref.png"}, logging.Discard())
	assert.Error(t, err)
}

func TestWatcherQueuesExistingFrames(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.png")
	for _, name := range []string{"ref.png", "a.png", "b.nef", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	sub := &recordingSubmitter{}
	w := startWatcher(t, dir, sub, Options{
		Reference: ref,
		Settle:    20 * time.Millisecond,
		Existing:  true,
		SkipRAW:   true,
	})

	ev := waitEvent(t, w)
	assert.Equal(t, filepath.Join(dir, "a.png"), ev.Path)

	time.Sleep(150 * time.Millisecond)
	jobs := sub.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, filepath.Join(dir, "a.png"), jobs[0].Options["target"])
}
