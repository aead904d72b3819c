package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/internal/periodic"
)

// Config holds monitor configuration.
type Config struct {
	ScanInterval time.Duration
	// ReminderDelay is how long after dispatch an unanswered instance is reminded.
	ReminderDelay time.Duration
	// ExpiryGrace is added to ReminderDelay to get the expiry window.
	ExpiryGrace     time.Duration
	EnableReminders bool
	// StalePendingAfter is how long after its claim a pending instance is
	// considered abandoned.
	StalePendingAfter time.Duration
	// RetentionDays of zero keeps terminal instances forever.
	RetentionDays   int
	BatchSize       int
	DispatchTimeout time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		ScanInterval:      60 * time.Second,
		ReminderDelay:     4 * time.Hour,
		ExpiryGrace:       20 * time.Hour,
		EnableReminders:   true,
		StalePendingAfter: time.Hour,
		RetentionDays:     90,
		BatchSize:         500,
		DispatchTimeout:   10 * time.Second,
	}
}

// ExpiryWindow is the time after dispatch at which an instance expires.
func (c Config) ExpiryWindow() time.Duration {
	return c.ReminderDelay + c.ExpiryGrace
}

// ScanReport summarizes one scan.
type ScanReport struct {
	Reminded         int
	ReminderFailures int
	Expired          int
	Abandoned        int // pending instances failed as stale
	Purged           int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithConfig sets the configuration. Zero durations keep their defaults.
func WithConfig(cfg Config) Option {
	return func(m *Monitor) {
		def := DefaultConfig()
		if cfg.ScanInterval <= 0 {
			cfg.ScanInterval = def.ScanInterval
		}
		if cfg.ReminderDelay <= 0 {
			cfg.ReminderDelay = def.ReminderDelay
		}
		if cfg.ExpiryGrace <= 0 {
			cfg.ExpiryGrace = def.ExpiryGrace
		}
		if cfg.StalePendingAfter <= 0 {
			cfg.StalePendingAfter = def.StalePendingAfter
		}
		if cfg.BatchSize <= 0 {
			cfg.BatchSize = def.BatchSize
		}
		if cfg.DispatchTimeout <= 0 {
			cfg.DispatchTimeout = def.DispatchTimeout
		}
		if cfg.RetentionDays < 0 {
			cfg.RetentionDays = 0
		}
		m.config = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the clock used by Start.
func WithClock(c core.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithNotifier sets who is told about abandoned instances.
func WithNotifier(n core.Notifier) Option {
	return func(m *Monitor) {
		m.notifier = n
	}
}

// Monitor scans dispatched instances for reminders and expiry.
type Monitor struct {
	store      core.Store
	dispatcher core.Dispatcher
	notifier   core.Notifier
	config     Config
	logger     *slog.Logger
	clock      core.Clock
}

// New creates a monitor. Reminders go out through dispatcher.
func New(store core.Store, dispatcher core.Dispatcher, opts ...Option) *Monitor {
	m := &Monitor{
		store:      store,
		dispatcher: dispatcher,
		config:     DefaultConfig(),
		logger:     slog.Default(),
		clock:      core.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config {
	return m.config
}

// Start scans every ScanInterval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info("monitor started",
		"interval", m.config.ScanInterval,
		"reminder_delay", m.config.ReminderDelay,
		"expiry_window", m.config.ExpiryWindow(),
		"reminders", m.config.EnableReminders)
	return periodic.Run(ctx, m.config.ScanInterval, m.logger, func(ctx context.Context) {
		report, err := m.Scan(ctx, m.clock.Now())
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("scan failed", "error", err)
		}
		if report != (ScanReport{}) {
			m.logger.Info("scan finished",
				"reminded", report.Reminded,
				"reminder_failures", report.ReminderFailures,
				"expired", report.Expired,
				"abandoned", report.Abandoned,
				"purged", report.Purged)
		}
	})
}

// Scan runs one pass at now. Expiry runs before reminders so an instance
// that is already past its window is not reminded first.
func (m *Monitor) Scan(ctx context.Context, now time.Time) (ScanReport, error) {
	var (
		report ScanReport
		errs   []error
	)

	expired, err := m.expire(ctx, now)
	report.Expired = expired
	if err != nil {
		errs = append(errs, err)
	}

	if m.config.EnableReminders {
		sent, failed, err := m.remind(ctx, now)
		report.Reminded, report.ReminderFailures = sent, failed
		if err != nil {
			errs = append(errs, err)
		}
	}

	abandoned, err := m.failStale(ctx, now)
	report.Abandoned = abandoned
	if err != nil {
		errs = append(errs, err)
	}

	if m.config.RetentionDays > 0 {
		cutoff := now.Add(-time.Duration(m.config.RetentionDays) * 24 * time.Hour)
		purged, err := m.store.PurgeBefore(ctx, cutoff)
		report.Purged = purged
		if err != nil {
			errs = append(errs, fmt.Errorf("purge: %w", err))
		}
	}

	return report, errors.Join(errs...)
}

// expire moves instances dispatched before the expiry window to expired.
// An instance completed in the meantime is left alone by the store.
func (m *Monitor) expire(ctx context.Context, now time.Time) (int, error) {
	due, err := m.store.ListExpiryDue(ctx, now.Add(-m.config.ExpiryWindow()), m.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expiry due: %w", err)
	}

	expired := 0
	for _, inst := range due {
		changed, err := m.store.TransitionStatus(ctx, inst.ID, core.StatusDispatched, core.StatusExpired, now)
		if err != nil {
			return expired, fmt.Errorf("expire instance %s: %w", inst.ID, err)
		}
		if !changed {
			continue
		}
		expired++
		m.logger.Info("instance expired", "tenant", inst.TenantID, "instance", inst.ID, "slot", inst.ScheduledFireTime)
	}
	return expired, nil
}

// remind sends one reminder per unanswered instance. The reminder is
// claimed before it is sent, so a failed send is never repeated.
func (m *Monitor) remind(ctx context.Context, now time.Time) (int, int, error) {
	due, err := m.store.ListReminderDue(ctx, now.Add(-m.config.ReminderDelay), m.config.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("list reminder due: %w", err)
	}

	sent, failed := 0, 0
	for _, inst := range due {
		claimed, err := m.store.ClaimReminder(ctx, inst.ID)
		if err != nil {
			return sent, failed, fmt.Errorf("claim reminder %s: %w", inst.ID, err)
		}
		if !claimed {
			continue
		}

		msg := core.Message{
			Purpose:        core.PurposeReminder,
			TenantID:       inst.TenantID,
			InstanceID:     inst.ID,
			CorrelationKey: inst.CorrelationKey,
			ScheduledFor:   inst.ScheduledFireTime,
		}
		sendCtx, cancel := context.WithTimeout(ctx, m.config.DispatchTimeout)
		_, err = m.dispatcher.Send(sendCtx, inst.TargetRef, inst.Kind, msg)
		cancel()
		if err != nil {
			failed++
			m.logger.Warn("reminder failed", "tenant", inst.TenantID, "instance", inst.ID, "error", err)
			continue
		}
		sent++
		m.logger.Debug("reminder sent", "tenant", inst.TenantID, "instance", inst.ID)
	}
	return sent, failed, nil
}

// failStale fails pending instances whose dispatch never finished, for
// example because the scheduler stopped mid-retry.
func (m *Monitor) failStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := m.store.ListStalePending(ctx, now.Add(-m.config.StalePendingAfter), m.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale pending: %w", err)
	}

	abandoned := 0
	for _, inst := range stale {
		changed, err := m.store.TransitionStatus(ctx, inst.ID, core.StatusPending, core.StatusFailed, now)
		if err != nil {
			return abandoned, fmt.Errorf("fail stale instance %s: %w", inst.ID, err)
		}
		if !changed {
			continue
		}
		abandoned++
		m.logger.Error("pending instance abandoned", "tenant", inst.TenantID, "instance", inst.ID, "slot", inst.ScheduledFireTime)

		if m.notifier != nil {
			alert := core.Alert{
				TenantID:     inst.TenantID,
				DefinitionID: inst.JobDefinitionID,
				InstanceID:   inst.ID,
				Slot:         inst.ScheduledFireTime,
				Attempts:     inst.Attempts,
				Err:          errors.New("dispatch interrupted before completion"),
			}
			if err := m.notifier.NotifyAdmins(ctx, alert); err != nil {
				m.logger.Warn("failed to notify admins", "tenant", inst.TenantID, "instance", inst.ID, "error", err)
			}
		}
	}
	return abandoned, nil
}
