package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/build"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/config"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/executor"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/matrix"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/monitor"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/presenter"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/scheduler"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/service"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/storage"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/workspace"
)

const eventsFlushTimeout = 5 * time.Second

func newSolveCmd(v *viper.Viper, cfgFile *string, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Print the configuration matrix and build every combination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *cfgFile)
			if err != nil {
				return err
			}
			return runSolve(cmd.Context(), cfg, stdout, stderr)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceP("board", "b", nil, "limit the matrix to these boards (repeatable)")
	flags.Bool("continue-on-error", false, "keep building after a failed combination")
	flags.Bool("ci-safe", true, "restrict variables to their CI-safe values")
	flags.Bool("short", false, "abbreviate names and values in the matrix")
	flags.Bool("dry-run", false, "print the matrix without building")
	flags.Int("executors", 0, "number of parallel builds (default one per CPU)")
	flags.Int("jobs", 1, "jobs per pooled build")
	bindFlags(v, flags, map[string]string{
		"board":             "boards",
		"continue-on-error": "continue_on_error",
		"ci-safe":           "ci_safe",
		"short":             "short",
		"dry-run":           "dry_run",
		"executors":         "executors",
		"jobs":              "build.jobs",
	})

	return cmd
}

func loadCatalog(path string) (*matrix.Catalog, error) {
	if path == "" {
		return matrix.Default()
	}
	return matrix.Load(path)
}

func runSolve(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	catalog, err := loadCatalog(cfg.MatrixFile)
	if err != nil {
		return err
	}
	problem, err := catalog.Problem(matrix.Options{Boards: cfg.Boards, CISafe: cfg.CISafe})
	if err != nil {
		return err
	}
	solutions := problem.Solve()
	if len(solutions) == 0 {
		logger.Warn("No valid configuration", zap.Strings("boards", cfg.Boards))
		return nil
	}

	if err := presenter.Render(stdout, solutions, catalog, presenter.Options{Short: cfg.Short}); err != nil {
		return fmt.Errorf("failed to print matrix: %w", err)
	}
	fmt.Fprintf(stdout, "Testing %d combinations\n", len(solutions))
	if cfg.DryRun {
		return nil
	}

	return runBuilds(ctx, cfg, catalog, solutions, stdout, stderr, logger)
}

func runBuilds(ctx context.Context, cfg *config.Config, catalog *matrix.Catalog, solutions []model.Solution, stdout, stderr io.Writer, logger *zap.Logger) error {
	projectDir, err := filepath.Abs(cfg.ProjectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve project dir: %w", err)
	}

	fs := afero.NewOsFs()
	sources, err := workspace.ListSources(fs, projectDir)
	if err != nil {
		return err
	}
	provisioner, err := workspace.NewProvisioner(fs, workspace.ProvisionerConfig{Root: projectDir}, logger)
	if err != nil {
		return err
	}

	var docker *executor.DockerLauncher
	if cfg.Docker.Image != "" {
		cli, err := executor.NewDockerClient()
		if err != nil {
			return err
		}
		defer cli.Close()
		docker = executor.NewDockerLauncher(cli, cfg.Docker.Image, logger)
	}
	launcher := build.NewLauncher(fs, build.LauncherConfig{Tool: cfg.Build.Tool, ProjectDir: projectDir}, docker, logger)
	reporter := monitor.NewReporter(stdout, stderr, catalog, logger)
	resources := executor.NewResourceManager(logger)

	ledger, err := storage.NewBuildLedger(logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	executors := resources.Executors(cfg.Executors, len(solutions))
	pool := scheduler.NewPool(scheduler.Config{
		ProjectDir:      projectDir,
		Executors:       executors,
		Jobs:            cfg.Build.Jobs,
		PrimingJobs:     cfg.Build.PrimingJobs,
		PollInterval:    cfg.Scheduler.PollInterval,
		DrainTimeout:    cfg.Scheduler.DrainTimeout,
		ContinueOnError: cfg.ContinueOnError,
	}, fs, provisioner, launcher, reporter, resources, logger)
	pool.SetOutput(stdout)
	pool.AddListener(ledger)

	var events *service.EventPublisher
	if cfg.Events.NATSURL != "" {
		nc, js, err := service.Connect(cfg.Events.NATSURL)
		if err != nil {
			logger.Warn("Build events disabled", zap.String("url", cfg.Events.NATSURL), zap.Error(err))
		} else {
			defer nc.Close()
			events, err = service.NewEventPublisher(js, cfg.Events.SubjectPrefix, logger)
			if err != nil {
				return err
			}
			pool.AddListener(events)
		}
	}

	progress, err := monitor.NewProgressMonitor(cfg.Monitor.ProgressSchedule, pool, resources, logger)
	if err != nil {
		return err
	}
	progress.Start()
	defer progress.Stop()

	runErr := pool.Run(ctx, solutions, sources)

	// ctx may already be canceled; the summary is read back regardless
	failures, err := ledger.Failures(context.Background(), pool.RunID())
	if err != nil {
		logger.Error("Failed to read build failures", zap.Error(err))
	}
	if events != nil {
		events.RunFinished(pool.RunID(), pool.Progress())
		flushCtx, cancel := context.WithTimeout(context.Background(), eventsFlushTimeout)
		if err := events.Flush(flushCtx); err != nil {
			logger.Warn("Some build events were not delivered", zap.Error(err))
		}
		cancel()
	}
	if runErr == nil || cfg.ContinueOnError {
		reporter.Summary(pool.Progress(), failures)
	}
	return runErr
}
