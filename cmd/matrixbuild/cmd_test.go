package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/matrix"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/scheduler"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/service"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/testutil"
)

type cliFixture struct {
	project string
	config  string
	matrix  string
	tool    *testutil.FakeBuildTool
}

func newCLIFixture(t *testing.T, matrixYAML string) *cliFixture {
	t.Helper()

	f := &cliFixture{
		project: t.TempDir(),
		tool:    testutil.NewFakeBuildTool(t),
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.project, "platformio.ini"), []byte("[env:esp32]\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(f.project, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.project, "src", "main.cpp"), []byte("int main() {}\n"), 0o644))

	dir := t.TempDir()
	f.matrix = filepath.Join(dir, "matrix.yaml")
	require.NoError(t, os.WriteFile(f.matrix, []byte(matrixYAML), 0o644))

	f.config = filepath.Join(dir, "matrixbuild.yaml")
	cfg := fmt.Sprintf(`executors: 1
log_level: warn
build:
  tool: %s
  priming_jobs: 2
scheduler:
  poll_interval: 10ms
  drain_timeout: 10ms
`, f.tool.Path)
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))
	return f
}

func (f *cliFixture) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	args = append([]string{"solve", "--config", f.config, "--project-dir", f.project, "--matrix", f.matrix}, args...)
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestSolveDryRun(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"solve", "-b", "esp32", "--dry-run", "--project-dir", t.TempDir()}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "BOARD")
	assert.Contains(t, stdout.String(), "esp32")
	assert.Contains(t, stdout.String(), "Testing 6 combinations\n")
	assert.NotContains(t, stdout.String(), "First run to fill cache")
}

func TestSolveUnknownBoard(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"solve", "-b", "nope", "--dry-run", "--project-dir", t.TempDir()}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Error:")
	assert.Contains(t, stderr.String(), "nope")
	assert.Empty(t, stdout.String())
}

func TestSolveBuildsEveryCombination(t *testing.T) {
	f := newCLIFixture(t, `boards: [esp32]
variables:
  - name: FEATURE
    kind: boolean
    values: ["0", "1"]
`)

	code, stdout, stderr := f.run(t)
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, "Testing 2 combinations\n")
	assert.Contains(t, stdout, "First run to fill cache\n")
	assert.Contains(t, stdout, "[2/2] Building")
	assert.Contains(t, stdout, "Done!")

	calls := f.tool.Calls(t)
	require.Len(t, calls, 2)
	assert.Equal(t, 2, calls[0].Jobs)
	assert.False(t, calls[0].Cached)
	assert.Equal(t, 1, calls[1].Jobs)
	assert.True(t, calls[1].Cached)

	_, err := os.Stat(filepath.Join(f.project, ".pio", "build", "matrix"))
	assert.True(t, os.IsNotExist(err))
}

func TestSolveExitsWithBuildCode(t *testing.T) {
	f := newCLIFixture(t, `boards: [esp32]
variables:
  - name: EXIT_CODE
    values: ["0", "3"]
`)

	code, stdout, stderr := f.run(t)

	assert.Equal(t, 3, code)
	assert.Contains(t, stderr, "Error for the following configuration")
	assert.Contains(t, stderr, "compilation terminated for esp32")
	assert.Contains(t, stdout, "#define EXIT_CODE 3")
	assert.NotContains(t, stderr, "Error: ")
}

func TestSolveDryRunWithCatalogFile(t *testing.T) {
	f := newCLIFixture(t, `boards: [esp32, ramps]
variables:
  - name: FEATURE
    values: ["A", "B"]
board_support:
  ramps:
    FEATURE: ["A"]
`)

	code, stdout, stderr := f.run(t, "--dry-run")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Testing 3 combinations\n")
	assert.Empty(t, f.tool.Calls(t))
}

// lockedBuffer is written from the NATS delivery goroutine
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchPrintsEvents(t *testing.T) {
	s, _, js := testutil.StartJetStream(t)

	publisher, err := service.NewEventPublisher(js, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	result := &model.BuildResult{
		RunID:    "run-1",
		Executor: 1,
		Board:    "esp32",
		Solution: model.Solution{{Name: model.BoardVariable, Value: "esp32"}, {Name: "USE_GPS", Value: "1"}},
		Status:   model.BuildStatusRunning,
	}
	publisher.BuildStarted(context.Background(), result)
	result.Status = model.BuildStatusFailed
	result.ExitCode = 2
	publisher.BuildFinished(context.Background(), result)
	publisher.RunFinished("run-1", model.Progress{Total: 3, Started: 3, Built: 2, Failed: 1})
	require.NoError(t, publisher.Flush(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var stdout lockedBuffer
	var stderr bytes.Buffer
	code := run(ctx, []string{"watch", "--nats-url", s.ClientURL(), "--project-dir", t.TempDir(), "--log-level", "warn"}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "[run-1] esp32 started on executor 1: BOARD=esp32;USE_GPS=1\n"+
		"[run-1] esp32 failed on executor 1 (exit 2)\n"+
		"[run-1] run finished: built 2, failed 1 of 3\n", stdout.String())
}

func TestWatchRequiresServer(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"watch", "--project-dir", t.TempDir()}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "no NATS server configured")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: 0},
		{name: "interrupted", err: fmt.Errorf("run: %w", scheduler.ErrInterrupted), want: ExitInterrupted},
		{name: "build failure", err: &scheduler.BuildError{Code: 4}, want: 4},
		{name: "build killed by signal", err: &scheduler.BuildError{Code: -9}, want: 1},
		{name: "invalid matrix", err: matrix.ErrInvalidCatalog, want: 1},
		{name: "other", err: errors.New("boom"), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
