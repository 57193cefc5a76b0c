package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"asterism/internal/align"
	"asterism/internal/logging"
	"asterism/internal/match"
	"asterism/internal/storage"
)

// Aligner runs detection and matching on files.
type Aligner interface {
	DetectFile(ctx context.Context, req align.DetectRequest) (align.FrameReport, error)
	MatchFiles(ctx context.Context, req align.MatchRequest) (align.MatchReport, error)
}

// Frame labels used when persisting stars.
const (
	FrameReference = "reference"
	FrameTarget    = "target"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log      *slog.Logger
	store    *storage.Store
	svc      Aligner
	defaults Settings
}

func newRouter(logger *slog.Logger, store *storage.Store, svc Aligner, defaults Settings) *router {
	return &router{log: logger, store: store, svc: svc, defaults: defaults}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobDetect:
		return r.handleDetect(ctx, job)
	case JobMatch:
		return r.handleMatch(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleDetect(ctx context.Context, job Job) Result {
	req := align.DetectRequest{
		Path:      job.InputPath,
		Threshold: getIntOption(job.Options, "threshold", r.defaults.Params.Threshold),
		MaxStars:  getIntOption(job.Options, "maxStars", r.defaults.MaxStars),
	}
	rep, err := r.svc.DetectFile(ctx, req)
	res := Result{Job: job, Error: err, Frame: &rep, Meta: rep.Meta()}
	if err != nil {
		return res
	}
	if err := r.store.RecordStars(job.ID, FrameReference, rep.Stars); err != nil {
		r.log.Warn("failed to store stars", "job", job.ID, "error", err)
	}
	return res
}

func (r *router) handleMatch(ctx context.Context, job Job) Result {
	target := getStringOption(job.Options, "target", "")
	if target == "" {
		return Result{Job: job, Error: errors.New("match job needs a target frame")}
	}

	p := r.defaults.Params
	p.Threshold = getIntOption(job.Options, "threshold", p.Threshold)
	p.GridCells = getIntOption(job.Options, "grid", p.GridCells)
	p.Tolerance = getFloat64Option(job.Options, "tolerance", p.Tolerance)

	policy := r.defaults.Policy
	if s := getStringOption(job.Options, "policy", ""); s != "" {
		parsed, err := match.ParsePolicy(s)
		if err != nil {
			return Result{Job: job, Error: err}
		}
		policy = parsed
	}

	timeout := r.defaults.MatchTimeout
	if secs := getFloat64Option(job.Options, "timeoutSeconds", 0); secs > 0 {
		timeout = secondsToDuration(secs)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := align.MatchRequest{
		Reference: job.InputPath,
		Target:    target,
		Params:    p,
		Policy:    policy,
		MaxStars:  getIntOption(job.Options, "maxStars", r.defaults.MaxStars),
		Workers:   getIntOption(job.Options, "workers", r.defaults.MatchWorkers),
		Overlay:   job.Output,
		Progress:  logging.ProgressLogger(r.log, job.ID),
	}

	rep, err := r.svc.MatchFiles(ctx, req)
	res := Result{Job: job, Match: &rep, Meta: rep.Meta()}

	// A match cut short by its own deadline still has a usable answer.
	if err != nil && !(rep.Partial && align.IsTimeout(err)) {
		res.Error = err
		return res
	}

	logging.LogProcessingStep(r.log, job.ID, "features", "built", map[string]any{
		"reference": rep.FeaturesA,
		"target":    rep.FeaturesB,
	})
	logging.LogProcessingStep(r.log, job.ID, "match", "done", map[string]any{
		"matches": len(rep.Correspondences),
		"partial": rep.Partial,
	})

	if err := r.store.RecordStars(job.ID, FrameReference, rep.Reference.Stars); err != nil {
		r.log.Warn("failed to store stars", "job", job.ID, "error", err)
	}
	if err := r.store.RecordStars(job.ID, FrameTarget, rep.Target.Stars); err != nil {
		r.log.Warn("failed to store stars", "job", job.ID, "error", err)
	}
	if err := r.store.RecordCorrespondences(job.ID, rep.Correspondences); err != nil {
		r.log.Warn("failed to store correspondences", "job", job.ID, "error", err)
	}
	return res
}

// Helper functions to safely extract typed options from job.Options map.
// Numbers decoded from JSON arrive as float64, flags as int.

func getFloat64Option(options map[string]any, key string, def float64) float64 {
	switch val := options[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return def
}

func getIntOption(options map[string]any, key string, def int) int {
	switch val := options[key].(type) {
	case int:
		return val
	case float64:
		return int(val)
	}
	return def
}

func getStringOption(options map[string]any, key, def string) string {
	if val, ok := options[key].(string); ok {
		return val
	}
	return def
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
