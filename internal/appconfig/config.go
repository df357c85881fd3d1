// Package appconfig resolves the daemon's ambient configuration:
// environment variables layered over built-in defaults.
package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix recognised by the core.
const EnvPrefix = "CLUD"

// Config is the resolved set of daemon tunables.
type Config struct {
	DaemonPort    int    `mapstructure:"daemon_port"`
	ConfigDir     string `mapstructure:"config_dir"`
	NoBrowser     bool   `mapstructure:"no_browser"`

	MaxInstances              int `mapstructure:"max_instances"`
	IdleTimeoutSeconds        int `mapstructure:"idle_timeout_seconds"`
	SweepIntervalSeconds      int `mapstructure:"sweep_interval_seconds"`
	TerminateGraceSeconds     int `mapstructure:"terminate_grace_seconds"`
	StaleThresholdSeconds     int `mapstructure:"stale_threshold_seconds"`
	StaleScanIntervalSeconds  int `mapstructure:"stale_scan_interval_seconds"`
	RetentionWindowHours      int `mapstructure:"retention_window_hours"`
	ShutdownGraceSeconds      int `mapstructure:"shutdown_grace_seconds"`
	CronRetryAttempts         int `mapstructure:"cron_retry_attempts"`
	CronRetryBaseSeconds      int `mapstructure:"cron_retry_base_seconds"`
	PerSessionRingBytes       int `mapstructure:"per_session_ring_bytes"`
	SubscriberChannelCapacity int `mapstructure:"subscriber_channel_capacity"`
	EnsureDaemonMaxWaitSeconds int `mapstructure:"ensure_daemon_max_wait_seconds"`

	// AgentCommand is the fixed command line used to spawn one
	// Instance's subprocess, set once at pool construction. Defaults to
	// a stub echo command suitable for tests; real deployments override
	// it to the wrapped coding-assistant CLI.
	AgentCommand []string `mapstructure:"agent_command"`
}

func defaultConfigDir() string {
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "clud")
}

// Load resolves Config from environment variables (CLUD_*) layered
// over defaults. It never fails on missing environment variables; the
// only error path is a malformed numeric override.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("daemon_port", 7565)
	v.SetDefault("config_dir", defaultConfigDir())
	v.SetDefault("no_browser", false)
	v.SetDefault("max_instances", 100)
	v.SetDefault("idle_timeout_seconds", 1800)
	v.SetDefault("sweep_interval_seconds", 60)
	v.SetDefault("terminate_grace_seconds", 5)
	v.SetDefault("stale_threshold_seconds", 60)
	v.SetDefault("stale_scan_interval_seconds", 30)
	v.SetDefault("retention_window_hours", 24)
	v.SetDefault("shutdown_grace_seconds", 10)
	v.SetDefault("cron_retry_attempts", 3)
	v.SetDefault("cron_retry_base_seconds", 2)
	v.SetDefault("per_session_ring_bytes", 1<<20)
	v.SetDefault("subscriber_channel_capacity", 64)
	v.SetDefault("ensure_daemon_max_wait_seconds", 10)
	v.SetDefault("agent_command", []string{"cat"})

	// Explicit bindings: viper's automatic env only covers Get(key), not
	// Unmarshal target fields unless each key is bound or read directly.
	for _, key := range []string{
		"daemon_port", "config_dir", "no_browser", "max_instances",
		"idle_timeout_seconds", "sweep_interval_seconds",
		"terminate_grace_seconds", "stale_threshold_seconds",
		"stale_scan_interval_seconds", "retention_window_hours",
		"shutdown_grace_seconds", "cron_retry_attempts",
		"cron_retry_base_seconds", "per_session_ring_bytes",
		"subscriber_channel_capacity", "ensure_daemon_max_wait_seconds",
	} {
		_ = v.BindEnv(key)
	}
	// CLUD_DAEMON_PORT and CLUD_NO_BROWSER are documented env var names;
	// bind them verbatim in addition to the generic prefix binding above
	// so they always work.
	_ = v.BindEnv("daemon_port", EnvPrefix+"_DAEMON_PORT")
	_ = v.BindEnv("no_browser", EnvPrefix+"_NO_BROWSER")
	_ = v.BindEnv("config_dir", EnvPrefix+"_CONFIG_DIR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
func (c *Config) TerminateGrace() time.Duration {
	return time.Duration(c.TerminateGraceSeconds) * time.Second
}
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdSeconds) * time.Second
}
func (c *Config) StaleScanInterval() time.Duration {
	return time.Duration(c.StaleScanIntervalSeconds) * time.Second
}
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionWindowHours) * time.Hour
}
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}
func (c *Config) CronRetryBase() time.Duration {
	return time.Duration(c.CronRetryBaseSeconds) * time.Second
}
func (c *Config) EnsureDaemonMaxWait() time.Duration {
	return time.Duration(c.EnsureDaemonMaxWaitSeconds) * time.Second
}

// PidFile returns the path to the daemon's PID file.
func (c *Config) PidFile() string {
	return filepath.Join(c.ConfigDir, "daemon.pid")
}

// LogFile returns the path to the daemon's rotated log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.ConfigDir, "logs", "daemon.log")
}

// CronLogDir returns the directory for one cron task's per-execution logs.
func (c *Config) CronLogDir(taskID string) string {
	return filepath.Join(c.ConfigDir, "logs", "cron", taskID)
}
