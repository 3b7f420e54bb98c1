package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeToolScript stands in for the PlatformIO CLI. It reads the generated
// header from the project dir and exits with the EXIT_CODE define (0 when
// absent), sleeping for BUILD_SLEEP seconds first. Every call is appended to
// the log as "<environment> <jobs> <cached> <project dir>", where cached
// reports whether .pio/primed existed before the build.
const fakeToolScript = `#!/bin/sh
for arg in "$@"; do
  case "$arg" in
    --project-dir=*) dir="${arg#--project-dir=}" ;;
    --environment=*) env="${arg#--environment=}" ;;
    --jobs=*) jobs="${arg#--jobs=}" ;;
  esac
done
cfg="$dir/Configuration_local_matrix.hpp"
if [ "$PLATFORMIO_BUILD_FLAGS" != "-DMATRIX_LOCAL_CONFIG=1" ]; then
  echo "missing PLATFORMIO_BUILD_FLAGS" >&2
  exit 90
fi
if [ ! -f "$cfg" ]; then
  echo "missing $cfg" >&2
  exit 91
fi
cached=no
[ -f "$dir/.pio/primed" ] && cached=yes
echo "$env $jobs $cached $dir" >> "%s"
echo "Processing $env"
pause=$(sed -n 's/^#define BUILD_SLEEP //p' "$cfg")
[ -n "$pause" ] && sleep "$pause"
mkdir -p "$dir/.pio/build/$env"
touch "$dir/.pio/primed"
code=$(sed -n 's/^#define EXIT_CODE //p' "$cfg")
if [ -n "$code" ] && [ "$code" != "0" ]; then
  echo "compilation terminated for $env" >&2
fi
exit ${code:-0}
`

// FakeBuildTool is a generated build tool script and its call log
type FakeBuildTool struct {
	Path    string
	LogPath string
}

// ToolCall is one recorded invocation of a FakeBuildTool
type ToolCall struct {
	Environment string
	Jobs        int
	Cached      bool
	Dir         string
}

// NewFakeBuildTool writes a fake build tool into a temporary directory
func NewFakeBuildTool(t *testing.T) *FakeBuildTool {
	t.Helper()

	dir := t.TempDir()
	tool := &FakeBuildTool{
		Path:    filepath.Join(dir, "pio"),
		LogPath: filepath.Join(dir, "calls.log"),
	}
	script := strings.Replace(fakeToolScript, "%s", tool.LogPath, 1)
	require.NoError(t, os.WriteFile(tool.Path, []byte(script), 0o755))
	return tool
}

// Calls returns the recorded invocations in order
func (f *FakeBuildTool) Calls(t *testing.T) []ToolCall {
	t.Helper()

	data, err := os.ReadFile(f.LogPath)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	var calls []ToolCall
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		fields := strings.SplitN(line, " ", 4)
		require.Len(t, fields, 4, "malformed call %q", line)
		jobs, err := strconv.Atoi(fields[1])
		require.NoError(t, err)
		calls = append(calls, ToolCall{
			Environment: fields[0],
			Jobs:        jobs,
			Cached:      fields[2] == "yes",
			Dir:         fields[3],
		})
	}
	return calls
}
