package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"asterism/internal/config"
	"asterism/internal/logging"
	"asterism/internal/match"
	"asterism/internal/params"
	"asterism/internal/star"
	"asterism/internal/storage"
)

func TestPipelineRunsJobsAndRecordsResults(t *testing.T) {
	store, err := storage.New(storage.DriverPureGo, filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	defer store.Close()

	stub := &stubAligner{stars: []star.Star{{X: 4, Y: 5, R: 1, B: 230}}}
	p := New(context.Background(), 1, logging.Discard(), store, stub, Settings{Params: params.Default()})
	defer p.Stop()

	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "det-1", Type: JobDetect, InputPath: "frame.png"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case res := <-results:
		if res.Job.ID != "det-1" || res.Error != nil {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	rec, err := store.Job("det-1")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status = %s", rec.Status)
	}
	stars, err := store.Stars("det-1", FrameReference)
	if err != nil || len(stars) != 1 {
		t.Fatalf("stars: %v %+v", err, stars)
	}
}

func TestSubmitFailsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := NewWithProcessor(context.Background(), 1, logging.Discard(), nil, processorFunc(func(ctx context.Context, job Job) Result {
		<-block
		return Result{Job: job}
	}))
	defer p.Stop()
	defer close(block)

	var full bool
	for i := 0; i < 10; i++ {
		if err := p.Submit(Job{ID: "x", Type: JobDetect}); err == ErrQueueFull {
			full = true
			break
		}
	}
	if !full {
		t.Fatal("expected the queue to fill up")
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Matching.Policy = "best"
	cfg.Processing.MatchTimeoutSeconds = 30
	cfg.Detection.MaxStars = 200

	s := SettingsFromConfig(cfg)
	if s.Policy != match.BestMatch || s.MatchTimeout != 30*time.Second || s.MaxStars != 200 {
		t.Fatalf("unexpected settings %+v", s)
	}
	if s.Params != params.Default() {
		t.Fatalf("unexpected params %+v", s.Params)
	}
}

type processorFunc func(ctx context.Context, job Job) Result

func (f processorFunc) Process(ctx context.Context, job Job) Result { return f(ctx, job) }

func TestNewIDIsUnique(t *testing.T) {
	a, b := NewID("match"), NewID("match")
	if a == b {
		t.Fatalf("ids collide: %s", a)
	}
	if len(a) < len("match-20060102T150405-") {
		t.Fatalf("id too short: %s", a)
	}
}
