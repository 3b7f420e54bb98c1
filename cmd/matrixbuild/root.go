package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/config"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/scheduler"
)

// ExitInterrupted is the exit code after SIGINT or SIGTERM
const ExitInterrupted = 130

// Execute runs the command line and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(config.New(), stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil && code == 1 {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return code
}

func exitCode(err error) int {
	var buildErr *scheduler.BuildError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, scheduler.ErrInterrupted):
		return ExitInterrupted
	case errors.As(err, &buildErr):
		return buildErr.ExitCode()
	default:
		return 1
	}
}

func newRootCmd(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "matrixbuild",
		Short: "Build every valid firmware configuration",
		Long: `matrixbuild enumerates the valid combinations of boards and firmware
features, prints them as a matrix and compiles each one with PlatformIO
on a pool of isolated workspaces sharing a primed build cache.

Settings come from flags, MATRIXBUILD_* environment variables and an
optional matrixbuild.yaml in the project directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is matrixbuild.yaml in the project directory)")
	flags.String("project-dir", ".", "firmware project to build")
	flags.String("matrix", "", "matrix definition file (default is the built-in matrix)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("nats-url", "", "NATS server for build events (events are off when empty)")
	bindFlags(v, flags, map[string]string{
		"project-dir": "project_dir",
		"matrix":      "matrix_file",
		"log-level":   "log_level",
		"nats-url":    "events.nats_url",
	})

	root.AddCommand(newSolveCmd(v, &cfgFile, stdout, stderr))
	root.AddCommand(newWatchCmd(v, &cfgFile, stdout))
	return root
}

// bindFlags binds each flag to its config key so flags override the config
// file and environment
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}
