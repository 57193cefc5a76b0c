// Package align runs detection and matching on image files. It is the layer
// shared by the CLI, the job pipeline, the gRPC service and the watcher.
package align

import (
	"context"
	"errors"
	"fmt"
	"time"

	"asterism/internal/detect"
	"asterism/internal/match"
	"asterism/internal/overlay"
	"asterism/internal/raster"
	"asterism/internal/transform"
)

// Service loads frames through Loader.
type Service struct {
	Loader raster.Loader
}

// New returns a Service using the named loader (see raster.NewLoader).
func New(loader string) (*Service, error) {
	l, err := raster.NewLoader(loader)
	if err != nil {
		return nil, err
	}
	return &Service{Loader: l}, nil
}

// DetectFile loads a frame and detects its stars. A frame that is too bright
// for the threshold yields its report together with an error wrapping
// detect.ErrInsufficientSignal.
func (s *Service) DetectFile(ctx context.Context, req DetectRequest) (FrameReport, error) {
	rep := FrameReport{Path: req.Path}
	r, err := s.Loader.Load(req.Path)
	if err != nil {
		return rep, fmt.Errorf("load %s: %w", req.Path, err)
	}
	rep.Width, rep.Height = r.Width, r.Height

	res, err := detect.Detect(ctx, r, detect.Options{Threshold: req.Threshold, MaxStars: req.MaxStars})
	if err != nil {
		return rep, err
	}
	rep.Stars = res.Stars
	rep.MeanLuma = res.MeanLuma
	rep.Blobs = res.Blobs
	rep.Rejected = res.Rejected
	if res.InsufficientSignal {
		return rep, fmt.Errorf("%s: %w (mean luma %.1f, threshold %d)", req.Path, detect.ErrInsufficientSignal, res.MeanLuma, req.Threshold)
	}
	return rep, nil
}

// MatchFiles detects both frames and matches them. Both frames are always
// re-detected with the request's threshold.
//
// When the context ends during matching the partial report is returned with
// Partial set, alongside the context error.
func (s *Service) MatchFiles(ctx context.Context, req MatchRequest) (MatchReport, error) {
	start := time.Now()
	rep := MatchReport{}
	if err := req.Params.Validate(); err != nil {
		return rep, err
	}

	var err error
	rep.Reference, err = s.DetectFile(ctx, DetectRequest{Path: req.Reference, Threshold: req.Params.Threshold, MaxStars: req.MaxStars})
	if err != nil {
		return rep, err
	}
	rep.Target, err = s.DetectFile(ctx, DetectRequest{Path: req.Target, Threshold: req.Params.Threshold, MaxStars: req.MaxStars})
	if err != nil {
		return rep, err
	}

	res, err := match.Stars(ctx,
		match.Frame{Stars: rep.Reference.Stars, Width: float64(rep.Reference.Width), Height: float64(rep.Reference.Height)},
		match.Frame{Stars: rep.Target.Stars, Width: float64(rep.Target.Width), Height: float64(rep.Target.Height)},
		req.Params.GridCells,
		match.Options{
			Tolerance: req.Params.Tolerance,
			Policy:    req.Policy,
			Workers:   req.Workers,
			Progress:  req.Progress,
		})
	rep.Correspondences = res.Correspondences
	rep.FeaturesA = res.FeaturesA
	rep.FeaturesB = res.FeaturesB
	rep.Partial = res.Partial
	if err != nil && !res.Partial {
		return rep, err
	}
	matchErr := err

	if len(rep.Correspondences) == 0 {
		rep.Warnings = append(rep.Warnings, "no matching asterisms found")
	} else if t, err := transform.Estimate(rep.Correspondences); err == nil {
		rep.Transform = &t
	}
	if rep.Partial {
		rep.Warnings = append(rep.Warnings, "matching stopped early: "+matchErr.Error())
	}

	if req.Overlay != "" {
		err := overlay.RenderFile(req.Overlay,
			overlay.Panel{Title: "reference", Stars: rep.Reference.Stars, Width: float64(rep.Reference.Width), Height: float64(rep.Reference.Height)},
			overlay.Panel{Title: "target", Stars: rep.Target.Stars, Width: float64(rep.Target.Width), Height: float64(rep.Target.Height)},
			rep.Correspondences)
		if err != nil {
			rep.Warnings = append(rep.Warnings, "overlay: "+err.Error())
		} else {
			rep.Overlay = req.Overlay
		}
	}

	rep.ProcessingTime = time.Since(start)
	return rep, matchErr
}

// IsTimeout reports whether err is a match run hitting its time limit. The
// partial report returned with it is still usable.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
