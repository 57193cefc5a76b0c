package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"asterism/internal/config"
	"asterism/internal/pipeline"
	"asterism/internal/raster"
	"asterism/internal/storage"
	"asterism/internal/watch"
)

// Version is the reported build version.
var Version = "0.3.0-dev"

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, svc pipeline.Aligner) *cobra.Command {
	return newRootCmd(NewRoot(pipe, svc, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "asterism",
		Short: "Asterism aligns star-field frames",
		Long: `Asterism detects stars in astronomical frames and matches 4-star
asterisms between a reference and a target frame to recover their alignment.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newDetectCmd(root))
	rootCmd.AddCommand(newMatchCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// matchFlags are the per-job overrides shared by match and watch.
type matchFlags struct {
	threshold int
	grid      int
	tolerance float64
	policy    string
	workers   int
	maxStars  int
	timeout   time.Duration
}

func (f *matchFlags) register(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().IntVar(&f.threshold, "threshold", cfg.Detection.Threshold, "brightness threshold (0-255)")
	cmd.Flags().IntVar(&f.grid, "grid", cfg.Matching.GridCells, "grid cells per side")
	cmd.Flags().Float64Var(&f.tolerance, "tolerance", cfg.Matching.Tolerance, "relative match tolerance")
	cmd.Flags().StringVar(&f.policy, "policy", cfg.Matching.Policy, "match policy (first|best)")
	cmd.Flags().IntVar(&f.workers, "workers", cfg.Processing.MatchWorkers, "match workers (0 = all CPUs)")
	cmd.Flags().IntVar(&f.maxStars, "max-stars", cfg.Detection.MaxStars, "keep only the brightest N stars (0 = all)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", time.Duration(cfg.Processing.MatchTimeoutSeconds)*time.Second, "match time limit (0 = none)")
}

// options returns only the flags the user set so config defaults apply
// for the rest.
func (f *matchFlags) options(cmd *cobra.Command) map[string]any {
	opts := map[string]any{"source": "cli"}
	changed := cmd.Flags().Changed
	if changed("threshold") {
		opts["threshold"] = f.threshold
	}
	if changed("grid") {
		opts["grid"] = f.grid
	}
	if changed("tolerance") {
		opts["tolerance"] = f.tolerance
	}
	if changed("policy") {
		opts["policy"] = f.policy
	}
	if changed("workers") {
		opts["workers"] = f.workers
	}
	if changed("max-stars") {
		opts["maxStars"] = f.maxStars
	}
	if changed("timeout") {
		opts["timeoutSeconds"] = f.timeout.Seconds()
	}
	return opts
}

func newDetectCmd(root *Root) *cobra.Command {
	var (
		threshold int
		maxStars  int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "detect <frame>",
		Short: "Detect stars in a frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{"source": "cli"}
			if cmd.Flags().Changed("threshold") {
				opts["threshold"] = threshold
			}
			if cmd.Flags().Changed("max-stars") {
				opts["maxStars"] = maxStars
			}
			job := pipeline.Job{
				ID:        pipeline.NewID("detect"),
				Type:      pipeline.JobDetect,
				InputPath: args[0],
				Options:   opts,
			}

			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return explain(cmd.ErrOrStderr(), err)
			}
			if res.Frame == nil {
				return fmt.Errorf("detect %s: no report", args[0])
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res.Frame)
			}
			printFrame(cmd.OutOrStdout(), res.Frame)
			return nil
		},
	}

	cmd.Flags().IntVar(&threshold, "threshold", root.cfg.Detection.Threshold, "brightness threshold (0-255)")
	cmd.Flags().IntVar(&maxStars, "max-stars", root.cfg.Detection.MaxStars, "keep only the brightest N stars (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	return cmd
}

func newMatchCmd(root *Root) *cobra.Command {
	var (
		flags  matchFlags
		plot   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "match <reference> <target>",
		Short: "Match asterisms between two frames",
		Long: `Detect stars in both frames, build 4-star features and report every
pair of similar asterisms along with the transform they imply.

Examples:
  asterism match ref.png frame-002.png
  asterism match ref.png frame-002.png --grid 6 --tolerance 0.05 --policy best
  asterism match ref.png frame-002.png --plot overlay.png --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options(cmd)
			opts["target"] = args[1]
			job := pipeline.Job{
				ID:        pipeline.NewID("match"),
				Type:      pipeline.JobMatch,
				InputPath: args[0],
				Output:    plot,
				Options:   opts,
			}

			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return explain(cmd.ErrOrStderr(), err)
			}
			if res.Match == nil {
				return fmt.Errorf("match %s: no report", args[0])
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res.Match)
			}
			printMatch(cmd.OutOrStdout(), res.Match)
			return nil
		},
	}

	flags.register(cmd, root.cfg)
	cmd.Flags().StringVar(&plot, "plot", "", "write an overlay PNG of the matched asterisms")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		flags   matchFlags
		plotDir  string
		settle   time.Duration
		existing bool
	)

	cmd := &cobra.Command{
		Use:   "watch <reference> <dir> [dir...]",
		Short: "Match every new frame written to a directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := watch.New(args[1:], root.pipeline, watch.Options{
				Reference:  args[0],
				OverlayDir: plotDir,
				Settle:     settle,
				JobOptions: flags.options(cmd),
				Existing:   existing,
				SkipRAW:    root.skipRAW(),
			}, root.log)
			if err != nil {
				return err
			}

			results, unsubscribe := root.pipeline.Subscribe()
			defer unsubscribe()

			out := cmd.OutOrStdout()
			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()

			events := w.Events()
			for {
				select {
				case err := <-done:
					return err
				case ev, ok := <-events:
					if !ok {
						events = nil
						continue
					}
					fmt.Fprintf(out, "queued %s (%s)\n", ev.Path, ev.JobID)
				case res, ok := <-results:
					if !ok {
						return errors.New("pipeline stopped")
					}
					if res.Job.Type != pipeline.JobMatch {
						continue
					}
					if res.Error != nil {
						fmt.Fprintf(out, "%s: %v\n", res.Job.ID, res.Error)
						continue
					}
					fmt.Fprintf(out, "%s: %d matches", res.Job.ID, len(res.Match.Correspondences))
					if t := res.Match.Transform; t != nil {
						fmt.Fprintf(out, " dx=%.2f dy=%.2f", t.Translation[0], t.Translation[1])
					}
					fmt.Fprintln(out)
				}
			}
		},
	}

	flags.register(cmd, root.cfg)
	cmd.Flags().StringVar(&plotDir, "plot-dir", "", "directory for per-frame overlay PNGs")
	cmd.Flags().DurationVar(&settle, "settle", watch.DefaultSettle, "quiet period before a new file is matched")
	cmd.Flags().BoolVar(&existing, "existing", false, "also match frames already in the directories")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		Long: `Start an HTTP server that queues detect and match jobs and streams their
results. With --grpc, also serve the Aligner gRPC service.

Examples:
  asterism serve --addr :8080
  asterism serve --addr :8080 --grpc :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root.log.Info("starting server", "addr", opts.httpAddr, "grpc", opts.grpcAddr)
			return root.serveFn(ctx, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.httpAddr, "addr", root.cfg.Server.HTTPAddr, "server address (host:port)")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc", root.cfg.Server.GRPCAddr, "gRPC address (empty = disabled)")

	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tINPUT\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.JobType, j.Status, j.InputPath, j.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print jobs as JSON")

	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Asterism v" + Version)
		},
	}
}

// skipRAW reports whether the local loader cannot decode camera formats.
// A remote server decides for itself.
func (r *Root) skipRAW() bool {
	if r.cfg.Remote.Address != "" {
		return false
	}
	return r.cfg.Detection.Loader == "native" || !raster.MagickAvailable()
}
