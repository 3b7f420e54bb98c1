package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// ContainerAPI is the part of the Docker client used to run builds
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// NewDockerClient creates a Docker client configured from the environment
func NewDockerClient() (*client.Client, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return docker, nil
}

// ContainerSpec describes one containerised build
type ContainerSpec struct {
	Cmd     []string
	Env     []string
	WorkDir string
	Binds   []string // host:container bind mounts
}

// DockerLauncher runs builds inside containers of one image
type DockerLauncher struct {
	logger *zap.Logger
	docker ContainerAPI
	image  string
}

// NewDockerLauncher creates a launcher for image
func NewDockerLauncher(docker ContainerAPI, image string, logger *zap.Logger) *DockerLauncher {
	return &DockerLauncher{
		logger: logger.Named("docker"),
		docker: docker,
		image:  image,
	}
}

// Start creates and starts a container for spec
func (d *DockerLauncher) Start(ctx context.Context, spec ContainerSpec) (*DockerProcess, error) {
	created, err := d.docker.ContainerCreate(ctx,
		&container.Config{
			Image:      d.image,
			Cmd:        spec.Cmd,
			Env:        spec.Env,
			WorkingDir: spec.WorkDir,
		},
		&container.HostConfig{
			Binds: spec.Binds,
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	p := &DockerProcess{
		logger: d.logger.With(zap.String("container_id", created.ID)),
		docker: d.docker,
		id:     created.ID,
		done:   make(chan struct{}),
	}

	// Subscribe before starting so a fast exit is not missed. The wait
	// outlives ctx; cancellation goes through Kill.
	statusCh, errCh := d.docker.ContainerWait(context.Background(), created.ID, container.WaitConditionNextExit)

	if err := d.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		p.remove()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}
	go p.wait(statusCh, errCh)

	d.logger.Debug("Container started",
		zap.String("container_id", created.ID),
		zap.Strings("cmd", spec.Cmd))
	return p, nil
}

// DockerProcess is a build running in a container. The daemon buffers the
// container output, so draining is never needed.
type DockerProcess struct {
	logger *zap.Logger
	docker ContainerAPI
	id     string

	done     chan struct{}
	exitCode int
	waitErr  error

	outputOnce     sync.Once
	stdout, stderr []byte
	outputErr      error
}

func (p *DockerProcess) wait(statusCh <-chan container.WaitResponse, errCh <-chan error) {
	defer close(p.done)
	select {
	case status := <-statusCh:
		p.exitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			p.waitErr = errors.New(status.Error.Message)
		}
	case err := <-errCh:
		p.exitCode = -1
		p.waitErr = err
	}
	if p.waitErr != nil {
		p.logger.Error("Failed to wait for container", zap.Error(p.waitErr))
	}
}

func (p *DockerProcess) Poll() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *DockerProcess) Wait() int {
	<-p.done
	return p.exitCode
}

func (p *DockerProcess) ExitCode() (int, error) {
	if !p.Poll() {
		return 0, ErrNotExited
	}
	return p.exitCode, nil
}

func (p *DockerProcess) Drain(time.Duration) {}

func (p *DockerProcess) Output() ([]byte, []byte, error) {
	if !p.Poll() {
		return nil, nil, ErrNotExited
	}
	p.outputOnce.Do(func() {
		reader, err := p.docker.ContainerLogs(context.Background(), p.id, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
		})
		if err != nil {
			p.outputErr = fmt.Errorf("failed to get container logs: %w", err)
			return
		}
		defer reader.Close()
		p.stdout, p.stderr, p.outputErr = demuxLogs(reader)
	})
	return p.stdout, p.stderr, p.outputErr
}

func (p *DockerProcess) Kill() error {
	if p.Poll() {
		return nil
	}
	if err := p.docker.ContainerKill(context.Background(), p.id, "SIGKILL"); err != nil {
		return fmt.Errorf("failed to kill container %s: %w", p.id, err)
	}
	return nil
}

// Close removes the container
func (p *DockerProcess) Close() error {
	return p.remove()
}

func (p *DockerProcess) remove() error {
	err := p.docker.ContainerRemove(context.Background(), p.id, container.RemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", p.id, err)
	}
	return nil
}

func demuxLogs(r io.Reader) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, r); err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("failed to read container logs: %w", err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
