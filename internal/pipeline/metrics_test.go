package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asterism/internal/align"
	"asterism/internal/match"
)

func TestProcessorWithMetricsCountsOutcomes(t *testing.T) {
	count := func(status string) float64 {
		return counterValue(t, "asterism_jobs_processed", map[string]string{
			jobTypeLabel: string(JobMatch),
			statusLabel:  status,
		})
	}
	beforeCompleted := count(StatusCompleted)
	beforePartial := count(StatusPartial)
	beforeFailed := count(StatusFailed)

	outcomes := []Result{
		{Match: &align.MatchReport{Correspondences: make([]match.Correspondence, 2)}},
		{Match: &align.MatchReport{Partial: true}},
		{Error: errors.New("boom")},
	}
	i := 0
	p := ProcessorWithMetrics(processorFunc(func(ctx context.Context, job Job) Result {
		res := outcomes[i]
		i++
		res.Job = job
		return res
	}))

	for range outcomes {
		res := p.Process(context.Background(), Job{ID: "m", Type: JobMatch})
		assert.Equal(t, "m", res.Job.ID)
	}

	assert.Equal(t, beforeCompleted+1, count(StatusCompleted))
	assert.Equal(t, beforePartial+1, count(StatusPartial))
	assert.Equal(t, beforeFailed+1, count(StatusFailed))
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}
