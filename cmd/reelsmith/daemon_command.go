package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/daemon"
	"reelsmith/internal/iteration"
	"reelsmith/internal/logging"
	"reelsmith/internal/media/ffmpeg"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/plan"
	"reelsmith/internal/providers"
	"reelsmith/internal/queue"
	"reelsmith/internal/render"
	"reelsmith/internal/workflow"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background editing daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd, ctx)
		},
	}
}

func runDaemonProcess(cmd *cobra.Command, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	artifactStore, err := artifacts.Open(cfg)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer artifactStore.Close()

	router := providers.NewRouter(
		cfg.Providers,
		providers.SettingsFromConfig(cfg.Routing),
		cfg.Routing.RequestTimeoutSeconds,
		logger,
	)

	engine, err := pipeline.NewEngine(
		pipeline.BuildStages(router, cfg),
		iteration.Params{
			MinConfidence:        cfg.Pipeline.MinConfidence,
			MaxIterations:        cfg.Pipeline.MaxIterations,
			ImprovementThreshold: cfg.Pipeline.ImprovementThreshold,
		},
		plan.Limits{
			MinSegmentSeconds:        cfg.Render.MinSegmentSeconds,
			MaxOverlayChars:          cfg.Render.MaxOverlayChars,
			MaxAudioVolume:           cfg.Render.MaxAudioVolume,
			DurationToleranceSeconds: cfg.Render.DurationToleranceSeconds,
		},
		pipeline.WithCheckpointer(artifactStore),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	runner := ffmpeg.NewCLI(ffmpeg.WithBinary(cfg.Render.FFmpegBinary))
	if err := runner.Available(); err != nil {
		logger.Warn("ffmpeg not found, rendering will fail", logging.Error(err))
	}
	orchestrator := render.NewOrchestrator(runner, cfg, logger)

	manager := workflow.NewManager(cfg, store, artifactStore, engine, orchestrator, runner, nil, logger)
	d, err := daemon.New(cfg, store, logger, manager)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Daemon running, log file %s\n", d.LogPath())

	<-signalCtx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down")
	d.Stop()
	return nil
}
