// Package config loads matrixbuild settings from defaults, an optional YAML
// file, MATRIXBUILD_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvPrefix  = "MATRIXBUILD"
	ConfigName = "matrixbuild"
)

// ErrInvalidConfig is returned when a setting is out of range
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of a run
type Config struct {
	ProjectDir      string          `mapstructure:"project_dir"`
	MatrixFile      string          `mapstructure:"matrix_file"`
	Boards          []string        `mapstructure:"boards"`
	CISafe          bool            `mapstructure:"ci_safe"`
	Short           bool            `mapstructure:"short"`
	DryRun          bool            `mapstructure:"dry_run"`
	ContinueOnError bool            `mapstructure:"continue_on_error"`
	Executors       int             `mapstructure:"executors"`
	LogLevel        string          `mapstructure:"log_level"`
	Build           BuildConfig     `mapstructure:"build"`
	Scheduler       SchedulerConfig `mapstructure:"scheduler"`
	Monitor         MonitorConfig   `mapstructure:"monitor"`
	Docker          DockerConfig    `mapstructure:"docker"`
	Events          EventsConfig    `mapstructure:"events"`
}

// BuildConfig configures the build tool invocation
type BuildConfig struct {
	Tool        string `mapstructure:"tool"`
	Jobs        int    `mapstructure:"jobs"`
	PrimingJobs int    `mapstructure:"priming_jobs"` // 0 means one per CPU
}

// SchedulerConfig configures the pool loop
type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// MonitorConfig configures progress logging
type MonitorConfig struct {
	ProgressSchedule string `mapstructure:"progress_schedule"`
}

// DockerConfig enables containerised builds when Image is set
type DockerConfig struct {
	Image string `mapstructure:"image"`
}

// EventsConfig enables build events when NATSURL is set
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// New returns a viper instance with defaults and environment binding set up
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("project_dir", ".")
	v.SetDefault("matrix_file", "")
	v.SetDefault("boards", []string{})
	v.SetDefault("ci_safe", true)
	v.SetDefault("short", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("continue_on_error", false)
	v.SetDefault("executors", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("build.tool", "pio")
	v.SetDefault("build.jobs", 1)
	v.SetDefault("build.priming_jobs", 0)
	v.SetDefault("scheduler.poll_interval", 200*time.Millisecond)
	v.SetDefault("scheduler.drain_timeout", 100*time.Millisecond)
	v.SetDefault("monitor.progress_schedule", "@every 30s")
	v.SetDefault("docker.image", "")
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "matrixbuild")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional config file and decodes v. An explicit file must
// exist; otherwise matrixbuild.yaml is searched for in the project directory,
// its config/ subdirectory and the working directory.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		projectDir := v.GetString("project_dir")
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(projectDir)
		v.AddConfigPath(filepath.Join(projectDir, "config"))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch {
	case c.ProjectDir == "":
		return fmt.Errorf("%w: project_dir must be set", ErrInvalidConfig)
	case c.Executors < 0:
		return fmt.Errorf("%w: executors must not be negative", ErrInvalidConfig)
	case c.Build.Tool == "":
		return fmt.Errorf("%w: build.tool must be set", ErrInvalidConfig)
	case c.Build.Jobs < 1:
		return fmt.Errorf("%w: build.jobs must be at least 1", ErrInvalidConfig)
	case c.Build.PrimingJobs < 0:
		return fmt.Errorf("%w: build.priming_jobs must not be negative", ErrInvalidConfig)
	case c.Scheduler.PollInterval <= 0:
		return fmt.Errorf("%w: scheduler.poll_interval must be positive", ErrInvalidConfig)
	case c.Scheduler.DrainTimeout <= 0:
		return fmt.Errorf("%w: scheduler.drain_timeout must be positive", ErrInvalidConfig)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// NewLogger builds a development logger writing to stderr at level
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
