package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/config"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/service"
)

var errNoNATSURL = errors.New("no NATS server configured (set --nats-url or events.nats_url)")

func newWatchCmd(v *viper.Viper, cfgFile *string, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the build events of matrix runs",
		Long: `watch prints the build events retained on the NATS server, then follows
new ones until interrupted. Runs publish events when started with
--nats-url or events.nats_url.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *cfgFile)
			if err != nil {
				return err
			}
			if cfg.Events.NATSURL == "" {
				return errNoNATSURL
			}

			logger, err := config.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			nc, js, err := service.Connect(cfg.Events.NATSURL)
			if err != nil {
				return err
			}
			defer nc.Close()

			events, err := service.NewEventPublisher(js, cfg.Events.SubjectPrefix, logger)
			if err != nil {
				return err
			}
			return events.Subscribe(cmd.Context(), func(e service.Event) {
				printEvent(stdout, e)
			})
		},
	}
}

func printEvent(w io.Writer, e service.Event) {
	switch {
	case e.Type == service.EventBuildStarted && e.Build != nil:
		fmt.Fprintf(w, "[%s] %s started on executor %d: %s\n",
			e.RunID, e.Build.Board, e.Build.Executor, e.Build.Solution.Key())
	case e.Type == service.EventBuildFinished && e.Build != nil:
		fmt.Fprintf(w, "[%s] %s %s on executor %d (exit %d)\n",
			e.RunID, e.Build.Board, e.Build.Status, e.Build.Executor, e.Build.ExitCode)
	case e.Type == service.EventRunFinished && e.Progress != nil:
		fmt.Fprintf(w, "[%s] run finished: built %d, failed %d of %d\n",
			e.RunID, e.Progress.Built, e.Progress.Failed, e.Progress.Total)
	default:
		fmt.Fprintf(w, "[%s] %s\n", e.RunID, e.Type)
	}
}
