package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/executor"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

const (
	// DefaultTool is the PlatformIO command line
	DefaultTool = "pio"

	// BuildFlagsEnv makes the firmware include the generated header
	BuildFlagsEnv = "PLATFORMIO_BUILD_FLAGS=-DMATRIX_LOCAL_CONFIG=1"
)

// Request describes one build of one solution
type Request struct {
	Dir    string // Workspace directory
	Board  string
	Flags  []model.Assignment
	Jobs   int
	Attach bool // Leave output on the terminal instead of capturing it
}

// LauncherConfig defines how builds are invoked
type LauncherConfig struct {
	Tool       string
	ProjectDir string // Bind-mounted next to the workspace for containerised builds
}

// Launcher starts builds, either as local processes or, when a Docker
// launcher is set, inside containers.
type Launcher struct {
	logger *zap.Logger
	fs     afero.Fs
	config LauncherConfig
	docker *executor.DockerLauncher
}

// NewLauncher creates a new launcher. docker may be nil.
func NewLauncher(fs afero.Fs, config LauncherConfig, docker *executor.DockerLauncher, logger *zap.Logger) *Launcher {
	if config.Tool == "" {
		config.Tool = DefaultTool
	}
	return &Launcher{
		logger: logger.Named("launcher"),
		fs:     fs,
		config: config,
		docker: docker,
	}
}

// Args returns the build tool arguments for req
func (l *Launcher) Args(req Request) ([]string, error) {
	dir, err := filepath.Abs(req.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	jobs := req.Jobs
	if jobs < 1 {
		jobs = 1
	}
	return []string{
		"run",
		"--project-dir=" + dir,
		"--environment=" + req.Board,
		fmt.Sprintf("--jobs=%d", jobs),
	}, nil
}

// ConfigPath returns where the configuration header of req is written
func (l *Launcher) ConfigPath(req Request) string {
	return filepath.Join(req.Dir, model.ConfigFileName)
}

// Launch writes the configuration header for req and starts the build tool
func (l *Launcher) Launch(ctx context.Context, req Request) (executor.Process, error) {
	if _, err := WriteConfig(l.fs, req.Dir, req.Flags); err != nil {
		return nil, err
	}

	args, err := l.Args(req)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Executing build",
		zap.String("board", req.Board),
		zap.String("dir", req.Dir),
		zap.Strings("args", args))

	if l.docker != nil {
		return l.launchContainer(ctx, req, args)
	}

	cmd := exec.Command(l.config.Tool, args...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), BuildFlagsEnv)

	p, err := executor.StartLocal(cmd, req.Attach)
	if err != nil {
		return nil, fmt.Errorf("failed to launch build: %w", err)
	}
	return p, nil
}

func (l *Launcher) launchContainer(ctx context.Context, req Request, args []string) (executor.Process, error) {
	dir, err := filepath.Abs(req.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	// Workspace symlinks point into the project, so both are mounted at their host paths
	binds := []string{dir + ":" + dir}
	if l.config.ProjectDir != "" {
		project, err := filepath.Abs(l.config.ProjectDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project path: %w", err)
		}
		binds = append(binds, project+":"+project)
	}

	p, err := l.docker.Start(ctx, executor.ContainerSpec{
		Cmd:     append([]string{l.config.Tool}, args...),
		Env:     []string{BuildFlagsEnv},
		WorkDir: dir,
		Binds:   binds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch build container: %w", err)
	}
	return p, nil
}
