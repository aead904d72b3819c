package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/recurrence"
	"github.com/bonesco/vibe-checker/pkg/security"
)

// Schedule defaults applied when a request leaves them empty.
const (
	DefaultStandupRecurrence  = "daily"
	DefaultStandupTimeOfDay   = "09:00"
	DefaultFeedbackRecurrence = "weekly:5"
	DefaultFeedbackTimeOfDay  = "15:00"
)

// CreateRequest describes a new definition.
type CreateRequest struct {
	TenantID   string
	Kind       core.JobKind
	Recurrence string // empty uses the kind's default
	TimeOfDay  string // empty uses the kind's default
	Timezone   string // empty uses the tenant's timezone
	TargetRef  string
}

// ScheduledJob is a definition together with its next fire time. NextFire
// is zero for paused and removed definitions.
type ScheduledJob struct {
	Definition *core.JobDefinition
	NextFire   time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for pause, resume and creation times.
func WithClock(c core.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// Service applies admin actions to job definitions.
type Service struct {
	store    core.Store
	registry core.TenantRegistry
	logger   *slog.Logger
	clock    core.Clock
}

// New creates a Service.
func New(store core.Store, registry core.TenantRegistry, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
		clock:    core.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) authorize(ctx context.Context, tenantID, userID string) error {
	ok, err := s.registry.IsAdmin(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrForbidden
	}
	return nil
}

// owned loads a definition and checks it belongs to tenantID.
func (s *Service) owned(ctx context.Context, tenantID, defID string) (*core.JobDefinition, error) {
	def, err := s.store.GetDefinition(ctx, defID)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	if def == nil || def.TenantID != tenantID {
		return nil, core.ErrUnknownDefinition
	}
	return def, nil
}

// Create validates req and stores the definition. Slots are generated only
// after the creation instant.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*core.JobDefinition, error) {
	if err := s.authorize(ctx, req.TenantID, userID); err != nil {
		return nil, err
	}

	def, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("create definition: %w", err)
	}

	s.logger.Info("definition created",
		"tenant", def.TenantID,
		"definition", def.ID,
		"kind", def.Kind,
		"recurrence", def.Recurrence,
		"time_of_day", def.TimeOfDay,
		"timezone", def.Timezone,
		"by", userID)
	return def, nil
}

func (s *Service) build(ctx context.Context, req CreateRequest) (*core.JobDefinition, error) {
	if !req.Kind.Valid() {
		return nil, &core.ConfigError{Field: "kind", Reason: fmt.Sprintf("%q is not standup or feedback", req.Kind)}
	}
	if err := security.ValidateTargetRef(req.TargetRef); err != nil {
		return nil, err
	}

	recur, tod := strings.TrimSpace(req.Recurrence), strings.TrimSpace(req.TimeOfDay)
	if recur == "" {
		recur = DefaultStandupRecurrence
		if req.Kind == core.KindFeedback {
			recur = DefaultFeedbackRecurrence
		}
	}
	if tod == "" {
		tod = DefaultStandupTimeOfDay
		if req.Kind == core.KindFeedback {
			tod = DefaultFeedbackTimeOfDay
		}
	}

	rule, err := recurrence.ParseRule(recur)
	if err != nil {
		return nil, err
	}
	at, err := recurrence.ParseTimeOfDay(tod)
	if err != nil {
		return nil, err
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz, err = s.registry.ResolveTimezone(ctx, req.TenantID)
		if err != nil {
			return nil, fmt.Errorf("resolve tenant timezone: %w", err)
		}
	}
	if _, err := recurrence.LoadLocation(tz); err != nil {
		return nil, err
	}

	return &core.JobDefinition{
		TenantID:     req.TenantID,
		Kind:         req.Kind,
		Recurrence:   rule.String(),
		TimeOfDay:    at.String(),
		Timezone:     tz,
		TargetRef:    req.TargetRef,
		ScheduleFrom: s.clock.Now(),
	}, nil
}

// Pause stops new instances from being generated. Existing instances are
// untouched.
func (s *Service) Pause(ctx context.Context, tenantID, userID, defID string) error {
	if err := s.authorize(ctx, tenantID, userID); err != nil {
		return err
	}
	if _, err := s.owned(ctx, tenantID, defID); err != nil {
		return err
	}
	if err := s.store.SetPaused(ctx, defID, true, s.clock.Now()); err != nil {
		return err
	}
	s.logger.Info("definition paused", "tenant", tenantID, "definition", defID, "by", userID)
	return nil
}

// Resume restarts slot generation from now. Slots that fell inside the pause
// are not generated. Resuming an unpaused definition is a no-op.
func (s *Service) Resume(ctx context.Context, tenantID, userID, defID string) error {
	if err := s.authorize(ctx, tenantID, userID); err != nil {
		return err
	}
	def, err := s.owned(ctx, tenantID, defID)
	if err != nil {
		return err
	}
	if def.RemovedAt != nil {
		return core.ErrUnknownDefinition
	}
	if !def.Paused {
		return nil
	}
	if err := s.store.SetPaused(ctx, defID, false, s.clock.Now()); err != nil {
		return err
	}
	s.logger.Info("definition resumed", "tenant", tenantID, "definition", defID, "by", userID)
	return nil
}

// Remove deletes a definition, or soft-disables it when it has instances.
// It reports whether the row was deleted.
func (s *Service) Remove(ctx context.Context, tenantID, userID, defID string) (bool, error) {
	if err := s.authorize(ctx, tenantID, userID); err != nil {
		return false, err
	}
	if _, err := s.owned(ctx, tenantID, defID); err != nil {
		return false, err
	}
	deleted, err := s.store.RemoveDefinition(ctx, defID, s.clock.Now())
	if err != nil {
		return false, err
	}
	s.logger.Info("definition removed", "tenant", tenantID, "definition", defID, "deleted", deleted, "by", userID)
	return deleted, nil
}

// List returns the tenant's definitions that have not been removed, with
// their next fire time.
func (s *Service) List(ctx context.Context, tenantID, userID string) ([]ScheduledJob, error) {
	if err := s.authorize(ctx, tenantID, userID); err != nil {
		return nil, err
	}
	defs, err := s.store.ListDefinitions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}

	now := s.clock.Now()
	jobs := make([]ScheduledJob, 0, len(defs))
	for _, def := range defs {
		if def.RemovedAt != nil {
			continue
		}
		job := ScheduledJob{Definition: def}
		if def.Active() {
			after := now
			if def.ScheduleFrom.After(after) {
				after = def.ScheduleFrom
			}
			next, err := recurrence.NextFire(def, after)
			if err != nil {
				s.logger.Warn("definition has an invalid schedule", "definition", def.ID, "error", err)
			} else {
				job.NextFire = next
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
