package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"asterism/internal/config"
	"asterism/internal/raster"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate asterism configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow(cmd)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				root.log.Error("configuration validation", "status", "invalid", "error", err)
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func (r *Root) configShow(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	c := r.cfg
	fmt.Fprintf(out, "Config file: %s\n", config.Path())
	fmt.Fprintf(out, "\nDetection:\n")
	fmt.Fprintf(out, "  Threshold: %d\n", c.Detection.Threshold)
	fmt.Fprintf(out, "  Max stars: %d\n", c.Detection.MaxStars)
	fmt.Fprintf(out, "  Loader: %s (imagemagick available: %t)\n", c.Detection.Loader, raster.MagickAvailable())
	fmt.Fprintf(out, "\nMatching:\n")
	fmt.Fprintf(out, "  Grid cells: %d\n", c.Matching.GridCells)
	fmt.Fprintf(out, "  Tolerance: %g\n", c.Matching.Tolerance)
	fmt.Fprintf(out, "  Policy: %s\n", c.Matching.Policy)
	fmt.Fprintf(out, "\nProcessing:\n")
	fmt.Fprintf(out, "  Parallel jobs: %d\n", c.Processing.ParallelJobs)
	fmt.Fprintf(out, "  Match workers: %d (GOMAXPROCS %d)\n", c.Processing.MatchWorkers, runtime.GOMAXPROCS(0))
	fmt.Fprintf(out, "  Match timeout: %ds\n", c.Processing.MatchTimeoutSeconds)
	fmt.Fprintf(out, "\nPaths:\n")
	fmt.Fprintf(out, "  Database: %s (%s)\n", c.Paths.DatabasePath, c.Paths.DatabaseDriver)
	fmt.Fprintf(out, "  Default output: %s\n", c.Paths.DefaultOutput)
	fmt.Fprintf(out, "\nLogging:\n")
	fmt.Fprintf(out, "  Level: %s\n", c.Logging.Level)
	fmt.Fprintf(out, "  Format: %s\n", c.Logging.Format)
	fmt.Fprintf(out, "  Log directory: %s (file output %t)\n", c.Logging.LogDir, c.Logging.FileOutput)
	fmt.Fprintf(out, "\nServer:\n")
	fmt.Fprintf(out, "  HTTP: %s\n", c.Server.HTTPAddr)
	fmt.Fprintf(out, "  gRPC: %s\n", c.Server.GRPCAddr)
	return nil
}
