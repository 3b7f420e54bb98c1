package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/testutil"
)

func TestRenderConfig(t *testing.T) {
	tests := []struct {
		name  string
		flags []model.Assignment
		want  string
	}{
		{
			name: "no flags",
			want: "#pragma once\n\n",
		},
		{
			name: "flags in order",
			flags: []model.Assignment{
				{Name: "RA_STEPPER_TYPE", Value: "STEPPER_TYPE_ENABLED"},
				{Name: "USE_GPS", Value: "0"},
				{Name: "DEBUG_LEVEL", Value: "DEBUG_NONE"},
			},
			want: "#pragma once\n\n" +
				"#define RA_STEPPER_TYPE STEPPER_TYPE_ENABLED\n" +
				"#define USE_GPS 0\n" +
				"#define DEBUG_LEVEL DEBUG_NONE\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(RenderConfig(tt.flags)))
		})
	}
}

func TestWriteConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/ws", 0o755))

	path, err := WriteConfig(fs, "/ws", []model.Assignment{{Name: "USE_GPS", Value: "1"}})
	require.NoError(t, err)
	assert.Equal(t, "/ws/Configuration_local_matrix.hpp", path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "#pragma once\n\n#define USE_GPS 1\n", string(data))
}

func TestWriteConfigReadOnly(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	_, err := WriteConfig(fs, "/ws", nil)
	assert.Error(t, err)
}

func TestLauncherArgs(t *testing.T) {
	l := NewLauncher(afero.NewMemMapFs(), LauncherConfig{}, nil, zaptest.NewLogger(t))
	args, err := l.Args(Request{Dir: "/tmp/ws", Board: "esp32", Jobs: 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "--project-dir=/tmp/ws", "--environment=esp32", "--jobs=1"}, args)
	assert.Equal(t, DefaultTool, l.config.Tool)
}

func TestLauncherLaunch(t *testing.T) {
	tool := testutil.NewFakeBuildTool(t)
	dir := t.TempDir()
	l := NewLauncher(afero.NewOsFs(), LauncherConfig{Tool: tool.Path}, nil, zaptest.NewLogger(t))

	tests := []struct {
		name  string
		flags []model.Assignment
		code  int
	}{
		{name: "success", flags: []model.Assignment{{Name: "USE_GPS", Value: "0"}}, code: 0},
		{name: "failure", flags: []model.Assignment{{Name: "EXIT_CODE", Value: "7"}}, code: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := l.Launch(context.Background(), Request{Dir: dir, Board: "ramps", Flags: tt.flags, Jobs: 4})
			require.NoError(t, err)
			defer p.Close()

			deadline := time.Now().Add(10 * time.Second)
			for !p.Poll() {
				require.True(t, time.Now().Before(deadline))
				p.Drain(10 * time.Millisecond)
			}

			code, err := p.ExitCode()
			require.NoError(t, err)
			assert.Equal(t, tt.code, code)

			stdout, _, err := p.Output()
			require.NoError(t, err)
			assert.Contains(t, string(stdout), "Processing ramps")

			data, err := os.ReadFile(filepath.Join(dir, model.ConfigFileName))
			require.NoError(t, err)
			assert.Equal(t, string(RenderConfig(tt.flags)), string(data))
		})
	}

	calls := tool.Calls(t)
	require.Len(t, calls, 2)
	assert.Equal(t, "ramps", calls[0].Environment)
	assert.Equal(t, 4, calls[0].Jobs)
	assert.Equal(t, dir, calls[0].Dir)
}
