package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"asterism/internal/align"
	"asterism/internal/config"
	"asterism/internal/logging"
	"asterism/internal/match"
	"asterism/internal/params"
	"asterism/internal/storage"
)

// JobType enumerates supported job categories.
type JobType string

const (
	JobDetect JobType = "detect"
	JobMatch  JobType = "match"
)

// Job statuses recorded in storage.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// ErrQueueFull is returned by Submit when the job channel has no room.
var ErrQueueFull = errors.New("job queue is full")

// Job represents a single request. InputPath is the frame to detect or the
// reference frame of a match; Options["target"] names the other frame.
// Output, when set on a match, is where the overlay PNG is written.
type Job struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	InputPath string         `json:"input"`
	Output    string         `json:"output,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Result captures the outcome of a Job. Exactly one of Frame and Match is
// set for a job that got as far as loading its input.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
	Frame *align.FrameReport
	Match *align.MatchReport
}

// Status is the storage status for the result.
func (r Result) Status() string {
	switch {
	case r.Error != nil:
		return StatusFailed
	case r.Match != nil && r.Match.Partial:
		return StatusPartial
	default:
		return StatusCompleted
	}
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Settings are the defaults applied to jobs that do not override them.
type Settings struct {
	Params       params.Params
	Policy       match.Policy
	MaxStars     int
	MatchWorkers int
	MatchTimeout time.Duration
}

// SettingsFromConfig maps the config file sections onto job defaults.
func SettingsFromConfig(cfg *config.Config) Settings {
	policy, err := match.ParsePolicy(cfg.Matching.Policy)
	if err != nil {
		policy = match.FirstMatch
	}
	return Settings{
		Params:       cfg.Params(),
		Policy:       policy,
		MaxStars:     cfg.Detection.MaxStars,
		MatchWorkers: cfg.Processing.MatchWorkers,
		MatchTimeout: time.Duration(cfg.Processing.MatchTimeoutSeconds) * time.Second,
	}
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a Pipeline with the given concurrency, routing jobs to svc.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, svc Aligner, settings Settings) *Pipeline {
	return NewWithProcessor(ctx, concurrency, logger, store, ProcessorWithMetrics(newRouter(logger, store, svc, settings)))
}

// NewWithProcessor creates a Pipeline around an arbitrary Processor.
func NewWithProcessor(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		log:       logger,
		jobs:      make(chan Job, concurrency*2),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
		processor: proc,
	}

	p.startOnce.Do(func() {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if p.store != nil {
		optsJSON, _ := json.Marshal(job.Options)
		if err := p.store.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      StatusQueued,
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			OptionsJSON: string(optsJSON),
		}); err != nil {
			p.log.Warn("failed to record queued job", "job", job.ID, "error", err)
		}
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()

			logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, job.Options)

			if p.store != nil {
				_ = p.store.RecordJobStart(job.ID)
			}
			res := p.processor.Process(ctx, job)
			duration := time.Since(start)

			if res.Error != nil {
				logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
					"input":   job.InputPath,
					"output":  job.Output,
					"options": job.Options,
					"worker":  id,
				})
			} else {
				logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
			}
			if p.store != nil {
				if err := p.store.RecordJobResult(job.ID, res.Status(), res.Meta, errString(res.Error)); err != nil {
					p.log.Warn("failed to record job result", "job", job.ID, "error", err)
				}
			}

			p.broadcast(res)
		}
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}

// NewID returns a job id such as "match-20250101T120000-1b4e28ba".
func NewID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%s", prefix, ts, uuid.NewString()[:8])
}
