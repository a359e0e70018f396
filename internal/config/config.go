// Package config holds the coordinator configuration, loaded through viper
// from a YAML file plus CCC_-prefixed environment overrides. Every key has a
// registered default so a missing config file is always a valid setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete coordinator configuration.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Session      SessionConfig      `mapstructure:"session"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// OrchestratorConfig controls workflow execution and aggregate bookkeeping.
type OrchestratorConfig struct {
	// MaxParallelSessions bounds how many worker processes run concurrently
	// during workflow execution (default: 3).
	MaxParallelSessions int `mapstructure:"max_parallel_sessions"`
	// WorkflowTimeoutMinutes is the workflow-level ceiling in parallel mode.
	// Tasks unfinished at the ceiling are reported as timed out without
	// being killed. 0 disables the ceiling (default: 0).
	WorkflowTimeoutMinutes int `mapstructure:"workflow_timeout_minutes"`
	// MaxNotifications caps the orchestrator state's notification log;
	// older entries are dropped first (default: 100).
	MaxNotifications int `mapstructure:"max_notifications"`
	// MaxEvents caps the orchestrator state's important-event log
	// (default: 50).
	MaxEvents int `mapstructure:"max_events"`
}

// SessionConfig controls individual session behavior.
type SessionConfig struct {
	// TimeoutSeconds is the per-session runtime limit before the worker is
	// terminated and the session fails with a timeout error (default: 1800).
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// PollIntervalSeconds is the supervision loop interval: timeout checks,
	// workspace rescans, and state persistence happen once per tick
	// (default: 5).
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// GracePeriodSeconds is how long termination waits after a graceful
	// stop request before force-killing the worker (default: 5).
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
	// MaxRetries is the per-session retry budget for failed attempts
	// (default: 3).
	MaxRetries int `mapstructure:"max_retries"`
	// CleanRetryWorkspace removes files produced by a failed attempt before
	// retrying. When false (default) the retried attempt sees them.
	CleanRetryWorkspace bool `mapstructure:"clean_retry_workspace"`
}

// WorkerConfig describes how the external worker process is invoked.
type WorkerConfig struct {
	// Command is the worker executable (default: "claude").
	Command string `mapstructure:"command"`
	// Args are passed before the task prompt.
	Args []string `mapstructure:"args"`
	// SkipPermissions adds the worker's permission-bypass flag
	// (default: true, matching unattended operation).
	SkipPermissions bool `mapstructure:"skip_permissions"`
	// Env is extra environment variables for every worker process.
	Env map[string]string `mapstructure:"env"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Enabled turns file logging on (default: true).
	Enabled bool `mapstructure:"enabled"`
	// Level is one of "debug", "info", "warn", "error" (default: "info").
	Level string `mapstructure:"level"`
}

// Default returns a Config with default values for every field.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxParallelSessions:    3,
			WorkflowTimeoutMinutes: 0,
			MaxNotifications:       100,
			MaxEvents:              50,
		},
		Session: SessionConfig{
			TimeoutSeconds:      1800,
			PollIntervalSeconds: 5,
			GracePeriodSeconds:  5,
			MaxRetries:          3,
			CleanRetryWorkspace: false,
		},
		Worker: WorkerConfig{
			Command:         "claude",
			Args:            []string{"--print"},
			SkipPermissions: true,
			Env:             map[string]string{},
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// Timeout returns the per-session timeout as a duration.
func (c *SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the supervision tick interval as a duration.
func (c *SessionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GracePeriod returns the termination grace period as a duration.
func (c *SessionConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// WorkflowTimeout returns the workflow ceiling as a duration (0 = disabled).
func (c *OrchestratorConfig) WorkflowTimeout() time.Duration {
	return time.Duration(c.WorkflowTimeoutMinutes) * time.Minute
}

// SetDefaults registers every configuration key's default value with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("orchestrator.max_parallel_sessions", defaults.Orchestrator.MaxParallelSessions)
	viper.SetDefault("orchestrator.workflow_timeout_minutes", defaults.Orchestrator.WorkflowTimeoutMinutes)
	viper.SetDefault("orchestrator.max_notifications", defaults.Orchestrator.MaxNotifications)
	viper.SetDefault("orchestrator.max_events", defaults.Orchestrator.MaxEvents)

	viper.SetDefault("session.timeout_seconds", defaults.Session.TimeoutSeconds)
	viper.SetDefault("session.poll_interval_seconds", defaults.Session.PollIntervalSeconds)
	viper.SetDefault("session.grace_period_seconds", defaults.Session.GracePeriodSeconds)
	viper.SetDefault("session.max_retries", defaults.Session.MaxRetries)
	viper.SetDefault("session.clean_retry_workspace", defaults.Session.CleanRetryWorkspace)

	viper.SetDefault("worker.command", defaults.Worker.Command)
	viper.SetDefault("worker.args", defaults.Worker.Args)
	viper.SetDefault("worker.skip_permissions", defaults.Worker.SkipPermissions)
	viper.SetDefault("worker.env", defaults.Worker.Env)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Init configures viper to read {workspace}/.ccc.yaml (then $HOME/.ccc.yaml)
// with CCC_-prefixed environment overrides, and registers defaults. A
// missing config file is not an error.
func Init(workspace string) error {
	SetDefaults()

	viper.SetConfigName(".ccc")
	viper.SetConfigType("yaml")
	if workspace != "" {
		viper.AddConfigPath(workspace)
	}
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}

	viper.SetEnvPrefix("CCC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// Load unmarshals the current viper state into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxParallelSessions < 1 {
		return fmt.Errorf("orchestrator.max_parallel_sessions must be >= 1, got %d",
			c.Orchestrator.MaxParallelSessions)
	}
	if c.Orchestrator.WorkflowTimeoutMinutes < 0 {
		return fmt.Errorf("orchestrator.workflow_timeout_minutes must be >= 0, got %d",
			c.Orchestrator.WorkflowTimeoutMinutes)
	}
	if c.Session.TimeoutSeconds < 1 {
		return fmt.Errorf("session.timeout_seconds must be >= 1, got %d",
			c.Session.TimeoutSeconds)
	}
	if c.Session.PollIntervalSeconds < 1 {
		return fmt.Errorf("session.poll_interval_seconds must be >= 1, got %d",
			c.Session.PollIntervalSeconds)
	}
	if c.Session.GracePeriodSeconds < 0 {
		return fmt.Errorf("session.grace_period_seconds must be >= 0, got %d",
			c.Session.GracePeriodSeconds)
	}
	if c.Session.MaxRetries < 0 {
		return fmt.Errorf("session.max_retries must be >= 0, got %d",
			c.Session.MaxRetries)
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command must not be empty")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error; got %q",
			c.Logging.Level)
	}
	return nil
}

// SessionsDir returns the directory under a workspace root that holds the
// per-session workspace directories.
func SessionsDir(root string) string {
	return filepath.Join(root, "sessions")
}

// StateFile returns the path of the orchestrator state snapshot under a
// workspace root.
func StateFile(root string) string {
	return filepath.Join(root, "orchestrator_state.json")
}
