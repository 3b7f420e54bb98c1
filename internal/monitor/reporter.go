// Package monitor prints failed builds and the end-of-run summary, and logs
// periodic progress while a run is in flight.
package monitor

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/presenter"
)

// Reporter writes human-facing build diagnostics
type Reporter struct {
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
	labels presenter.Labeler
}

// NewReporter creates a new reporter
func NewReporter(stdout, stderr io.Writer, labels presenter.Labeler, logger *zap.Logger) *Reporter {
	return &Reporter{
		logger: logger.Named("reporter"),
		stdout: stdout,
		stderr: stderr,
		labels: labels,
	}
}

// Report prints the configuration, generated header and captured output of a
// failed build.
func (r *Reporter) Report(failure *model.BuildFailure) {
	fmt.Fprintf(r.stderr, "Error for the following configuration (%s):\n", failure.Dir)

	if failure.Result != nil {
		solutions := []model.Solution{failure.Result.Solution}
		if err := presenter.Render(r.stdout, solutions, r.labels, presenter.Options{}); err != nil {
			r.logger.Error("Failed to render configuration", zap.Error(err))
		}
	}

	fmt.Fprintf(r.stdout, "%s:\n", failure.ConfigPath)
	fmt.Fprintln(r.stdout, string(failure.Config))

	if len(failure.Stdout) > 0 {
		fmt.Fprintln(r.stdout, string(failure.Stdout))
	}
	if len(failure.Stderr) > 0 {
		fmt.Fprintln(r.stderr, string(failure.Stderr))
	}
}

// Summary prints the outcome of a run. Failed builds are listed in the
// order they started.
func (r *Reporter) Summary(progress model.Progress, failures []*model.BuildResult) {
	if len(failures) > 0 {
		fmt.Fprintf(r.stderr, "%d build(s) failed:\n", len(failures))
		for _, f := range failures {
			fmt.Fprintf(r.stderr, "  [executor %d] %s exited with %d: %s\n", f.Executor, f.Board, f.ExitCode, f.Solution.Key())
		}
	}

	skipped := progress.Total - progress.Started
	fmt.Fprintf(r.stdout, "Done! built %d, failed %d, skipped %d of %d\n",
		progress.Built, progress.Failed, skipped, progress.Total)
}
