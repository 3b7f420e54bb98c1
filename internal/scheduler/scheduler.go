package scheduler

import (
	"context"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/build"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/executor"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/workspace"
)

// Launcher starts builds
type Launcher interface {
	// Launch writes the configuration for req and starts building it
	Launch(ctx context.Context, req build.Request) (executor.Process, error)

	// ConfigPath returns where the configuration for req is written
	ConfigPath(req build.Request) string
}

// Provisioner creates the workspaces builds run in
type Provisioner interface {
	// Create makes n workspaces linking every source
	Create(n int, sources []string) ([]*workspace.Workspace, error)

	// CopyCaches copies the named cache directories of src into dsts
	CopyCaches(src *workspace.Workspace, dsts []*workspace.Workspace, names []string) error
}

// Reporter prints failed builds
type Reporter interface {
	Report(failure *model.BuildFailure)
}

// Listener is told about build lifecycle changes. Calls come from the
// scheduling goroutine and must not block for long.
type Listener interface {
	BuildStarted(ctx context.Context, result *model.BuildResult)
	BuildFinished(ctx context.Context, result *model.BuildResult)
}
