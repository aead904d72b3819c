// Package vibecheck schedules recurring standup and feedback prompts for
// tenants, records the answers, and expires prompts nobody answered.
//
// The root package re-exports the types most callers need and wires the
// subpackages together:
//
//	store, err := vibecheck.Open("vibecheck.db")
//	...
//	sched := vibecheck.NewScheduler(store, dispatcher)
//	corr := vibecheck.NewCorrelator(store)
//	mon := vibecheck.NewMonitor(store, dispatcher)
//
// Any number of replicas may run a scheduler and monitor against the same
// database; slot claims and status transitions are conditional writes.
package vibecheck

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/logger"

	"github.com/bonesco/vibe-checker/pkg/admin"
	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/correlator"
	"github.com/bonesco/vibe-checker/pkg/monitor"
	"github.com/bonesco/vibe-checker/pkg/recurrence"
	"github.com/bonesco/vibe-checker/pkg/scheduler"
	"github.com/bonesco/vibe-checker/pkg/storage"
)

// Re-export core types.
type (
	Tenant         = core.Tenant
	JobKind        = core.JobKind
	JobDefinition  = core.JobDefinition
	JobInstance    = core.JobInstance
	InstanceStatus = core.InstanceStatus
	ResponseRecord = core.ResponseRecord
	Field          = core.Field
	Fields         = core.Fields
	Message        = core.Message
	Delivery       = core.Delivery
	Alert          = core.Alert

	Store          = core.Store
	Dispatcher     = core.Dispatcher
	DispatcherFunc = core.DispatcherFunc
	Notifier       = core.Notifier
	TenantRegistry = core.TenantRegistry
	Clock          = core.Clock
)

// Re-export component types.
type (
	Scheduler  = scheduler.Scheduler
	Correlator = correlator.Correlator
	Submission = correlator.Submission
	Monitor    = monitor.Monitor
	Admin      = admin.Service
	Storage    = storage.GormStorage
)

// Job kinds.
const (
	KindStandup  = core.KindStandup
	KindFeedback = core.KindFeedback
)

// Instance statuses.
const (
	StatusPending    = core.StatusPending
	StatusDispatched = core.StatusDispatched
	StatusCompleted  = core.StatusCompleted
	StatusExpired    = core.StatusExpired
	StatusFailed     = core.StatusFailed
)

// Re-export sentinel errors.
var (
	ErrNotFound          = core.ErrNotFound
	ErrAlreadySubmitted  = core.ErrAlreadySubmitted
	ErrClaimConflict     = core.ErrClaimConflict
	ErrInvalidTransition = core.ErrInvalidTransition
	ErrForbidden         = core.ErrForbidden
	ErrUnknownTenant     = core.ErrUnknownTenant
	ErrUnknownDefinition = core.ErrUnknownDefinition
)

// Open connects to dsn, a Postgres URL or a SQLite path, and migrates the
// schema.
func Open(dsn string) (*Storage, error) {
	store, err := storage.Open(dsn, logger.Silent)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// NewScheduler creates a scheduler that claims due slots in store and sends
// prompts through dispatcher.
func NewScheduler(store Store, dispatcher Dispatcher, opts ...scheduler.Option) *Scheduler {
	return scheduler.New(store, dispatcher, opts...)
}

// NewCorrelator creates a correlator that records submissions in store.
func NewCorrelator(store Store, opts ...correlator.Option) *Correlator {
	return correlator.New(store, opts...)
}

// NewMonitor creates a monitor that reminds and expires unanswered prompts.
func NewMonitor(store Store, dispatcher Dispatcher, opts ...monitor.Option) *Monitor {
	return monitor.New(store, dispatcher, opts...)
}

// NewAdmin creates the definition management service.
func NewAdmin(store Store, registry TenantRegistry, opts ...admin.Option) *Admin {
	return admin.New(store, registry, opts...)
}

// NextFire returns the first fire time of def strictly after after.
func NextFire(def *JobDefinition, after time.Time) (time.Time, error) {
	return recurrence.NextFire(def, after)
}

// Transient marks a delivery failure worth retrying.
func Transient(detail string, err error) error {
	return core.Transient(detail, err)
}

// Permanent marks a delivery failure that retrying cannot fix.
func Permanent(detail string, err error) error {
	return core.Permanent(detail, err)
}
