package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"asterism/internal/align"
	"asterism/internal/cli"
	"asterism/internal/config"
	"asterism/internal/logging"
	"asterism/internal/pipeline"
	"asterism/internal/remote"
	"asterism/internal/storage"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return err
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		// Console only; the log directory is not writable.
		log = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		log.Warn("file logging disabled", "log_dir", cfg.Logging.LogDir, "error", err)
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		log.Error("database path", "error", err)
		return err
	}
	store, err := storage.New(cfg.Paths.DatabaseDriver, dbPath)
	if err != nil {
		// Jobs still run without history.
		log.Warn("storage unavailable, job history disabled", "path", dbPath, "error", err)
		store = nil
	}
	defer store.Close()

	svc, closeSvc, err := newAligner(cfg, log)
	if err != nil {
		return err
	}
	defer closeSvc()

	ctx := context.Background()
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, log, store, svc, pipeline.SettingsFromConfig(cfg))
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, log, store, pipe, svc).ExecuteContext(ctx)
}

// newAligner processes frames locally unless a remote service is configured.
func newAligner(cfg *config.Config, log *slog.Logger) (pipeline.Aligner, func(), error) {
	if cfg.Remote.Address != "" {
		client, err := remote.Dial(cfg.Remote)
		if err != nil {
			log.Error("remote aligner", "address", cfg.Remote.Address, "error", err)
			return nil, nil, err
		}
		log.Debug("using remote aligner", "address", cfg.Remote.Address)
		return client, func() { client.Close() }, nil
	}

	svc, err := align.New(cfg.Detection.Loader)
	if err != nil {
		log.Error("frame loader", "loader", cfg.Detection.Loader, "error", err)
		return nil, nil, err
	}
	return svc, func() {}, nil
}
