package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"astrored/internal/archive"
	"astrored/internal/cli"
	"astrored/internal/config"
	"astrored/internal/logging"
	"astrored/internal/metrics"
	"astrored/internal/pipeline"
	"astrored/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		logger.Error("failed to open job store", "path", cfg.Paths.DatabasePath, "error", err)
		return 1
	}
	defer store.Close()

	rec := metrics.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pipe *pipeline.Pipeline
		src  *archive.Archive
	)
	newPipeline := func(ctx context.Context) (*pipeline.Pipeline, error) {
		if cfg.Paths.ArchivePath != "" {
			a, err := archive.Open(cfg.Paths.ArchivePath)
			if err != nil {
				logger.Warn("observation archive unavailable", "path", cfg.Paths.ArchivePath, "error", err)
			} else {
				src = a
			}
		}
		p, err := pipeline.New(ctx, pipeline.Options{
			Workers:      cfg.Processing.ParallelJobs,
			QueueSize:    cfg.Processing.QueueSize,
			Logger:       logger,
			Store:        store,
			Metrics:      rec,
			NewProcessor: pipeline.SolverFactory(cfg, logger, rec, src),
		})
		if err != nil {
			return nil, err
		}
		pipe = p
		return p, nil
	}

	cmd := cli.NewRootCmd(cfg, logger, store, rec, newPipeline)
	err = cmd.ExecuteContext(ctx)
	if pipe != nil {
		pipe.Stop()
	}
	if src != nil {
		src.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
