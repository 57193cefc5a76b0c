package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"asterism/internal/align"
	"asterism/internal/config"
	"asterism/internal/detect"
	"asterism/internal/grpcserver"
	"asterism/internal/pipeline"
	"asterism/internal/server"
	"asterism/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serveOptions struct {
	httpAddr string
	grpcAddr string
}

type serverFunc func(ctx context.Context, r *Root, opts serveOptions) error

// defaultServe runs the HTTP server and, when an address is given, the
// gRPC service until ctx is cancelled.
func defaultServe(ctx context.Context, r *Root, opts serveOptions) error {
	var grpcSrv *grpcserver.AlignServer
	if opts.grpcAddr != "" {
		if r.aligner == nil {
			return errors.New("grpc: no aligner configured")
		}
		grpcSrv = grpcserver.NewAlignServer(r.aligner, pipeline.SettingsFromConfig(r.cfg), r.store, r.log)
		if c := r.cfg.Server; c.TLSCertPath != "" {
			if err := grpcSrv.UseTLS(c.TLSCertPath, c.TLSKeyPath); err != nil {
				return err
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.NewServer(opts.httpAddr, r.store, r.pipeline, r.log).Start(ctx)
	})
	if grpcSrv != nil {
		g.Go(func() error {
			return grpcSrv.Start(ctx, opts.grpcAddr)
		})
	}
	return g.Wait()
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	aligner  pipeline.Aligner
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, svc pipeline.Aligner, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		aligner:  svc,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
	}
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// explain adds the user-facing hint for errors the user can fix.
func explain(w io.Writer, err error) error {
	if errors.Is(err, detect.ErrInsufficientSignal) {
		fmt.Fprintln(w, "hint: use a higher brightness threshold")
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printFrame(w io.Writer, rep *align.FrameReport) {
	fmt.Fprintf(w, "%s: %d stars (%dx%d, mean luma %.1f, %d blobs, %d rejected)\n",
		rep.Path, len(rep.Stars), rep.Width, rep.Height, rep.MeanLuma, rep.Blobs, rep.Rejected)
	for i, s := range rep.Stars {
		fmt.Fprintf(w, "  %3d  x=%8.2f y=%8.2f r=%5.2f b=%6.1f\n", i, s.X, s.Y, s.R, s.B)
	}
}

func printMatch(w io.Writer, rep *align.MatchReport) {
	fmt.Fprintf(w, "reference: %s (%d stars, %d features)\n", rep.Reference.Path, len(rep.Reference.Stars), rep.FeaturesA)
	fmt.Fprintf(w, "target:    %s (%d stars, %d features)\n", rep.Target.Path, len(rep.Target.Stars), rep.FeaturesB)
	fmt.Fprintf(w, "matches:   %d\n", len(rep.Correspondences))
	if t := rep.Transform; t != nil {
		fmt.Fprintf(w, "transform: dx=%.2f dy=%.2f rotation=%.3f° scale=%.4f rmse=%.3f\n",
			t.Translation[0], t.Translation[1], t.Rotation*180/math.Pi, t.Scale, t.RMSE)
	}
	if rep.Overlay != "" {
		fmt.Fprintf(w, "overlay:   %s\n", rep.Overlay)
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "warning:   %s\n", warn)
	}
}
