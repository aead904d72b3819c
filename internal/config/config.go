// Package config loads process configuration from defaults, an optional
// config file, a .env file and VIBECHECK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bonesco/vibe-checker/pkg/monitor"
	"github.com/bonesco/vibe-checker/pkg/scheduler"
)

// EnvPrefix prefixes every environment variable, e.g. VIBECHECK_DATABASE_URL.
const EnvPrefix = "VIBECHECK"

// Config is the full process configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"` // SQLite path or DSN, or a PostgreSQL URL
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogLevel     string `mapstructure:"log_level"` // gorm logger: silent, error, warn, info
}

type SchedulerConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	MisfireGrace      time.Duration `mapstructure:"misfire_grace"`
	DispatchTimeout   time.Duration `mapstructure:"dispatch_timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	TenantRatePerSec  float64       `mapstructure:"tenant_rate_per_sec"`
}

type MonitorConfig struct {
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	EnableReminders   bool          `mapstructure:"enable_reminders"`
	ReminderDelay     time.Duration `mapstructure:"reminder_delay"`
	ExpiryGrace       time.Duration `mapstructure:"expiry_grace"`
	StalePendingAfter time.Duration `mapstructure:"stale_pending_after"`
	RetentionDays     int           `mapstructure:"retention_days"`
}

type DispatchConfig struct {
	WebhookURL      string `mapstructure:"webhook_url"`
	AlertWebhookURL string `mapstructure:"alert_webhook_url"` // defaults to WebhookURL
	AuthToken       string `mapstructure:"auth_token"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// SetDefaults registers a default for every key. Keys without a default
// are not read from the environment.
func SetDefaults(v *viper.Viper) {
	sched := scheduler.DefaultConfig()
	mon := monitor.DefaultConfig()

	v.SetDefault("database.url", "vibecheck.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.log_level", "silent")

	v.SetDefault("scheduler.tick_interval", sched.TickInterval)
	v.SetDefault("scheduler.misfire_grace", sched.MisfireGrace)
	v.SetDefault("scheduler.dispatch_timeout", sched.DispatchTimeout)
	v.SetDefault("scheduler.concurrency", sched.Concurrency)
	v.SetDefault("scheduler.max_attempts", sched.Retry.MaxAttempts)
	v.SetDefault("scheduler.initial_backoff", sched.Retry.InitialBackoff)
	v.SetDefault("scheduler.backoff_multiplier", sched.Retry.BackoffMultiplier)
	v.SetDefault("scheduler.max_backoff", sched.Retry.MaxBackoff)
	v.SetDefault("scheduler.tenant_rate_per_sec", 1.0)

	v.SetDefault("monitor.scan_interval", mon.ScanInterval)
	v.SetDefault("monitor.enable_reminders", mon.EnableReminders)
	v.SetDefault("monitor.reminder_delay", mon.ReminderDelay)
	v.SetDefault("monitor.expiry_grace", mon.ExpiryGrace)
	v.SetDefault("monitor.stale_pending_after", mon.StalePendingAfter)
	v.SetDefault("monitor.retention_days", mon.RetentionDays)

	v.SetDefault("dispatch.webhook_url", "")
	v.SetDefault("dispatch.alert_webhook_url", "")
	v.SetDefault("dispatch.auth_token", "")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration. configFile may be empty. envFiles are loaded
// into the process environment first; with none given, ./.env is tried.
// A missing .env file is not an error, but a missing configFile is.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := NewViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithViper unmarshals configuration from v without validating it.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Dispatch.WebhookURL = strings.TrimSpace(cfg.Dispatch.WebhookURL)
	if cfg.Dispatch.AlertWebhookURL == "" {
		cfg.Dispatch.AlertWebhookURL = cfg.Dispatch.WebhookURL
	}
	return &cfg, nil
}

// SchedulerConfig converts to the scheduler's configuration.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		TickInterval:    c.Scheduler.TickInterval,
		MisfireGrace:    c.Scheduler.MisfireGrace,
		DispatchTimeout: c.Scheduler.DispatchTimeout,
		Concurrency:     c.Scheduler.Concurrency,
		Retry: scheduler.RetryConfig{
			MaxAttempts:       c.Scheduler.MaxAttempts,
			InitialBackoff:    c.Scheduler.InitialBackoff,
			MaxBackoff:        c.Scheduler.MaxBackoff,
			BackoffMultiplier: c.Scheduler.BackoffMultiplier,
		},
	}
}

// MonitorConfig converts to the monitor's configuration.
func (c *Config) MonitorConfig() monitor.Config {
	def := monitor.DefaultConfig()
	return monitor.Config{
		ScanInterval:      c.Monitor.ScanInterval,
		ReminderDelay:     c.Monitor.ReminderDelay,
		ExpiryGrace:       c.Monitor.ExpiryGrace,
		EnableReminders:   c.Monitor.EnableReminders,
		StalePendingAfter: c.Monitor.StalePendingAfter,
		RetentionDays:     c.Monitor.RetentionDays,
		BatchSize:         def.BatchSize,
		DispatchTimeout:   c.Scheduler.DispatchTimeout,
	}
}

// NewLogger builds the process logger.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SlogLevel maps Level to a slog level. Unknown names mean info.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
