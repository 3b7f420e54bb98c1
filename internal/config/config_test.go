package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := New()
	v.Set("project_dir", t.TempDir())

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.True(t, cfg.CISafe)
	assert.False(t, cfg.ContinueOnError)
	assert.Empty(t, cfg.Boards)
	assert.Equal(t, "pio", cfg.Build.Tool)
	assert.Equal(t, 1, cfg.Build.Jobs)
	assert.Equal(t, 200*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Scheduler.DrainTimeout)
	assert.Equal(t, "@every 30s", cfg.Monitor.ProgressSchedule)
	assert.Equal(t, "matrixbuild", cfg.Events.SubjectPrefix)
	assert.Empty(t, cfg.Docker.Image)
}

func TestLoadProjectFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "matrixbuild.yaml"), []byte(`
boards: [esp32, ramps]
continue_on_error: true
executors: 3
build:
  tool: /opt/pio/bin/pio
scheduler:
  poll_interval: 50ms
`), 0o644))

	v := New()
	v.Set("project_dir", dir)

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"esp32", "ramps"}, cfg.Boards)
	assert.True(t, cfg.ContinueOnError)
	assert.Equal(t, 3, cfg.Executors)
	assert.Equal(t, "/opt/pio/bin/pio", cfg.Build.Tool)
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.PollInterval)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("MATRIXBUILD_EXECUTORS", "5")
	t.Setenv("MATRIXBUILD_DOCKER_IMAGE", "platformio/platformio-core:6")
	t.Setenv("MATRIXBUILD_EVENTS_NATS_URL", "nats://127.0.0.1:4222")

	v := New()
	v.Set("project_dir", t.TempDir())

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Executors)
	assert.Equal(t, "platformio/platformio-core:6", cfg.Docker.Image)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Events.NATSURL)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ProjectDir: ".",
			LogLevel:   "info",
			Build:      BuildConfig{Tool: "pio", Jobs: 1},
			Scheduler:  SchedulerConfig{PollInterval: time.Second, DrainTimeout: time.Second},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty project dir", mutate: func(c *Config) { c.ProjectDir = "" }},
		{name: "negative executors", mutate: func(c *Config) { c.Executors = -1 }},
		{name: "empty tool", mutate: func(c *Config) { c.Build.Tool = "" }},
		{name: "zero jobs", mutate: func(c *Config) { c.Build.Jobs = 0 }},
		{name: "negative priming jobs", mutate: func(c *Config) { c.Build.PrimingJobs = -2 }},
		{name: "zero poll interval", mutate: func(c *Config) { c.Scheduler.PollInterval = 0 }},
		{name: "zero drain timeout", mutate: func(c *Config) { c.Scheduler.DrainTimeout = 0 }},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = NewLogger("chatty")
	assert.Error(t, err)
}
