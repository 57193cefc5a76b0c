package align

import (
	"time"

	"asterism/internal/match"
	"asterism/internal/params"
	"asterism/internal/star"
	"asterism/internal/transform"
)

// DetectRequest carries inputs for a single-frame detection.
type DetectRequest struct {
	Path      string
	Threshold int
	MaxStars  int
}

// FrameReport describes one detected frame.
type FrameReport struct {
	Path     string      `json:"path"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	Stars    []star.Star `json:"stars"`
	MeanLuma float64     `json:"mean_luma"`
	Blobs    int         `json:"blobs"`
	Rejected int         `json:"rejected"`
}

// MatchRequest carries inputs for aligning Target against Reference.
type MatchRequest struct {
	Reference string
	Target    string
	Params    params.Params
	Policy    match.Policy
	MaxStars  int
	Workers   int
	// Overlay, when set, is the path of a PNG showing the matched quads.
	Overlay  string
	Progress func(done, total int)
}

// MatchReport captures results and metrics of a match run.
type MatchReport struct {
	Reference       FrameReport            `json:"reference"`
	Target          FrameReport            `json:"target"`
	Correspondences []match.Correspondence `json:"correspondences"`
	FeaturesA       int                    `json:"features_a"`
	FeaturesB       int                    `json:"features_b"`
	Partial         bool                   `json:"partial"`
	Transform       *transform.Transform   `json:"transform,omitempty"`
	Overlay         string                 `json:"overlay,omitempty"`
	ProcessingTime  time.Duration          `json:"processing_time"`
	Warnings        []string               `json:"warnings,omitempty"`
}

// Meta flattens the report into the key/value form stored with job results.
func (r MatchReport) Meta() map[string]any {
	m := map[string]any{
		"reference":       r.Reference.Path,
		"target":          r.Target.Path,
		"stars_reference": len(r.Reference.Stars),
		"stars_target":    len(r.Target.Stars),
		"features_a":      r.FeaturesA,
		"features_b":      r.FeaturesB,
		"matches":         len(r.Correspondences),
		"partial":         r.Partial,
		"duration_ms":     r.ProcessingTime.Milliseconds(),
	}
	if r.Transform != nil {
		m["dx"] = r.Transform.Translation[0]
		m["dy"] = r.Transform.Translation[1]
		m["rotation"] = r.Transform.Rotation
		m["scale"] = r.Transform.Scale
		m["rmse"] = r.Transform.RMSE
	}
	if r.Overlay != "" {
		m["overlay"] = r.Overlay
	}
	if len(r.Warnings) > 0 {
		m["warnings"] = r.Warnings
	}
	return m
}

// Meta flattens the report into the key/value form stored with job results.
func (r FrameReport) Meta() map[string]any {
	return map[string]any{
		"path":      r.Path,
		"width":     r.Width,
		"height":    r.Height,
		"stars":     len(r.Stars),
		"mean_luma": r.MeanLuma,
		"blobs":     r.Blobs,
		"rejected":  r.Rejected,
	}
}
