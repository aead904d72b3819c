package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return &core.ConfigError{Field: "database.url", Reason: "is required"}
	}
	if c.Database.MaxOpenConns < 0 {
		return &core.ConfigError{Field: "database.max_open_conns", Reason: "must be >= 0"}
	}
	switch strings.ToLower(c.Database.LogLevel) {
	case "", "silent", "error", "warn", "info":
	default:
		return &core.ConfigError{Field: "database.log_level", Reason: "must be silent, error, warn or info"}
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"scheduler.tick_interval", c.Scheduler.TickInterval},
		{"scheduler.misfire_grace", c.Scheduler.MisfireGrace},
		{"scheduler.dispatch_timeout", c.Scheduler.DispatchTimeout},
		{"scheduler.initial_backoff", c.Scheduler.InitialBackoff},
		{"scheduler.max_backoff", c.Scheduler.MaxBackoff},
		{"monitor.scan_interval", c.Monitor.ScanInterval},
		{"monitor.reminder_delay", c.Monitor.ReminderDelay},
		{"monitor.expiry_grace", c.Monitor.ExpiryGrace},
		{"monitor.stale_pending_after", c.Monitor.StalePendingAfter},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return &core.ConfigError{Field: d.key, Reason: "must be a positive duration"}
		}
	}

	if c.Scheduler.MisfireGrace < c.Scheduler.TickInterval {
		return &core.ConfigError{Field: "scheduler.misfire_grace", Reason: "must not be shorter than scheduler.tick_interval"}
	}
	if c.Scheduler.Concurrency < 1 {
		return &core.ConfigError{Field: "scheduler.concurrency", Reason: "must be >= 1"}
	}
	if c.Scheduler.MaxAttempts < 1 {
		return &core.ConfigError{Field: "scheduler.max_attempts", Reason: "must be >= 1"}
	}
	if c.Scheduler.BackoffMultiplier < 1 {
		return &core.ConfigError{Field: "scheduler.backoff_multiplier", Reason: "must be >= 1"}
	}
	if c.Scheduler.InitialBackoff > c.Scheduler.MaxBackoff {
		return &core.ConfigError{Field: "scheduler.initial_backoff", Reason: "must not exceed scheduler.max_backoff"}
	}
	if c.Scheduler.TenantRatePerSec < 0 {
		return &core.ConfigError{Field: "scheduler.tenant_rate_per_sec", Reason: "must be >= 0"}
	}
	if c.Monitor.RetentionDays < 0 {
		return &core.ConfigError{Field: "monitor.retention_days", Reason: "must be >= 0 (0 keeps everything)"}
	}

	for key, raw := range map[string]string{
		"dispatch.webhook_url":       c.Dispatch.WebhookURL,
		"dispatch.alert_webhook_url": c.Dispatch.AlertWebhookURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &core.ConfigError{Field: key, Reason: "must be an http(s) URL"}
		}
	}

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return &core.ConfigError{Field: "http.addr", Reason: "is required"}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return &core.ConfigError{Field: "log.format", Reason: "must be text or json"}
	}
	return nil
}
