package scheduler

import (
	"log/slog"
	"time"

	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/security"
)

// Option configures a Scheduler.
type Option interface {
	apply(*Scheduler)
}

type optionFunc func(*Scheduler)

func (f optionFunc) apply(s *Scheduler) { f(s) }

// Config holds scheduler configuration.
type Config struct {
	TickInterval    time.Duration
	MisfireGrace    time.Duration
	DispatchTimeout time.Duration
	Concurrency     int // tenants dispatched in parallel per tick
	Retry           RetryConfig
}

// clampGrace raises MisfireGrace to at least TickInterval. Ticks are not
// aligned to slots, so a shorter grace lets a slot fall between two ticks.
func (c *Config) clampGrace() {
	if c.MisfireGrace < c.TickInterval {
		c.MisfireGrace = c.TickInterval
	}
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:    60 * time.Second,
		MisfireGrace:    15 * time.Minute,
		DispatchTimeout: 10 * time.Second,
		Concurrency:     8,
		Retry:           DefaultRetryConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return optionFunc(func(s *Scheduler) {
		def := DefaultConfig()
		if cfg.TickInterval <= 0 {
			cfg.TickInterval = def.TickInterval
		}
		if cfg.MisfireGrace <= 0 {
			cfg.MisfireGrace = def.MisfireGrace
		}
		if cfg.DispatchTimeout <= 0 {
			cfg.DispatchTimeout = def.DispatchTimeout
		}
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = def.Concurrency
		}
		if cfg.Retry.MaxAttempts <= 0 {
			cfg.Retry = def.Retry
		}
		cfg.Concurrency = security.ClampConcurrency(cfg.Concurrency)
		cfg.Retry.MaxAttempts = security.ClampAttempts(cfg.Retry.MaxAttempts)
		cfg.clampGrace()
		s.config = cfg
	})
}

// TickInterval sets how often Start runs a tick.
func TickInterval(d time.Duration) Option {
	return optionFunc(func(s *Scheduler) {
		if d > 0 {
			s.config.TickInterval = d
		}
	})
}

// MisfireGrace sets how late a slot may still be fired. Older slots are
// skipped, and of several missed slots only the latest fires. The grace is
// never shorter than the tick interval.
func MisfireGrace(d time.Duration) Option {
	return optionFunc(func(s *Scheduler) {
		if d > 0 {
			s.config.MisfireGrace = d
		}
	})
}

// Concurrency sets how many tenants are dispatched in parallel.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) Option {
	return optionFunc(func(s *Scheduler) {
		s.config.Concurrency = security.ClampConcurrency(n)
	})
}

// Retry sets the dispatch retry policy.
func Retry(cfg RetryConfig) Option {
	return optionFunc(func(s *Scheduler) {
		cfg.MaxAttempts = security.ClampAttempts(cfg.MaxAttempts)
		s.config.Retry = cfg
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	})
}

// WithClock sets the clock used by Start.
func WithClock(c core.Clock) Option {
	return optionFunc(func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	})
}

// WithNotifier sets who is told about instances that failed to dispatch.
func WithNotifier(n core.Notifier) Option {
	return optionFunc(func(s *Scheduler) {
		s.notifier = n
	})
}
