package pipeline

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	jobTypeLabel = "job_type"
	statusLabel  = "status"
	frameLabel   = "frame"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asterism_jobs_processed",
		Help: "The number of jobs processed, by outcome.",
	}, []string{
		jobTypeLabel,
		statusLabel,
	})

	jobLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "asterism_job_duration_seconds",
		Help:    "The time to process a job.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{
		jobTypeLabel,
	})

	starsDetected = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "asterism_stars_detected",
		Help:    "The number of stars kept per frame.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{
		frameLabel,
	})

	correspondencesFound = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asterism_correspondences",
		Help:    "The number of matched asterisms per match job.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// ProcessorWithMetrics records job outcomes and latency around p.
func ProcessorWithMetrics(p Processor) Processor {
	return &processorWithMetrics{Processor: p}
}

type processorWithMetrics struct {
	Processor
}

func (p *processorWithMetrics) Process(ctx context.Context, job Job) Result {
	start := time.Now()
	res := p.Processor.Process(ctx, job)

	jobLatency.With(prometheus.Labels{
		jobTypeLabel: string(job.Type),
	}).Observe(time.Since(start).Seconds())

	jobsProcessed.With(prometheus.Labels{
		jobTypeLabel: string(job.Type),
		statusLabel:  res.Status(),
	}).Inc()

	if res.Error != nil {
		return res
	}
	if res.Frame != nil {
		starsDetected.With(prometheus.Labels{frameLabel: FrameReference}).Observe(float64(len(res.Frame.Stars)))
	}
	if res.Match != nil {
		starsDetected.With(prometheus.Labels{frameLabel: FrameReference}).Observe(float64(len(res.Match.Reference.Stars)))
		starsDetected.With(prometheus.Labels{frameLabel: FrameTarget}).Observe(float64(len(res.Match.Target.Stars)))
		correspondencesFound.Observe(float64(len(res.Match.Correspondences)))
	}
	return res
}
