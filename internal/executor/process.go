package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process is a handle on one running build
type Process interface {
	// Poll reports whether the build has exited, without blocking
	Poll() bool

	// Wait blocks until the build exits and returns its exit code
	Wait() int

	// ExitCode returns the exit code once Poll has reported an exit
	ExitCode() (int, error)

	// Drain moves pending output into the capture buffers for at most timeout
	Drain(timeout time.Duration)

	// Output returns everything the build wrote once it has exited
	Output() (stdout, stderr []byte, err error)

	// Kill stops the build
	Kill() error

	// Close releases resources held for the build
	Close() error
}

// LocalProcess is a build running as a child process of this one
type LocalProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int

	stdout *capture
	stderr *capture

	outputOnce sync.Once
}

// StartLocal starts cmd. When attach is set the child writes straight to this
// process's stdout and stderr; otherwise both streams are captured.
func StartLocal(cmd *exec.Cmd, attach bool) (*LocalProcess, error) {
	p := &LocalProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	var writers []*os.File
	if attach {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		outR, outW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		errR, errW, err := os.Pipe()
		if err != nil {
			outR.Close()
			outW.Close()
			return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
		}
		cmd.Stdout = outW
		cmd.Stderr = errW
		writers = []*os.File{outW, errW}
		p.stdout = newCapture(outR)
		p.stderr = newCapture(errR)
	}

	err := cmd.Start()
	// The child holds its own copies of the write ends
	for _, w := range writers {
		w.Close()
	}
	if err != nil {
		if p.stdout != nil {
			p.stdout.r.Close()
			p.stderr.r.Close()
		}
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	if p.stdout != nil {
		go p.stdout.read()
		go p.stderr.read()
	}
	go p.wait()

	return p, nil
}

func (p *LocalProcess) wait() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
	}
	close(p.done)
}

func (p *LocalProcess) Poll() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *LocalProcess) Wait() int {
	<-p.done
	return p.exitCode
}

func (p *LocalProcess) ExitCode() (int, error) {
	if !p.Poll() {
		return 0, ErrNotExited
	}
	return p.exitCode, nil
}

func (p *LocalProcess) Drain(timeout time.Duration) {
	if p.stdout == nil {
		return
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	drainPair(p.stdout, p.stderr, deadline.C)
}

func (p *LocalProcess) Output() ([]byte, []byte, error) {
	if !p.Poll() {
		return nil, nil, ErrNotExited
	}
	if p.stdout == nil {
		return nil, nil, nil
	}
	p.outputOnce.Do(func() {
		drainPair(p.stdout, p.stderr, nil)
	})
	return p.stdout.buf.Bytes(), p.stderr.buf.Bytes(), nil
}

func (p *LocalProcess) Kill() error {
	if p.Poll() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

func (p *LocalProcess) Close() error {
	if p.stdout != nil {
		p.stdout.close()
		p.stderr.close()
	}
	return nil
}
