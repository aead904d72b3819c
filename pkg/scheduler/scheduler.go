package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/internal/periodic"
	"github.com/bonesco/vibe-checker/pkg/recurrence"
)

// correlationNamespace seeds correlation keys so they are stable across
// replicas and restarts.
var correlationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:vibecheck:instance"))

// CorrelationKey derives the key that links a response to the instance for
// slot. The same definition and slot always give the same key.
func CorrelationKey(definitionID string, slot time.Time) string {
	name := definitionID + "|" + slot.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(correlationNamespace, []byte(name)).String()
}

// DueSlot is a slot a definition should fire for.
type DueSlot struct {
	Definition *core.JobDefinition
	Slot       time.Time
}

// TickReport summarizes one tick.
type TickReport struct {
	Claimed    int // slots this scheduler won
	Conflicts  int // slots another scheduler won first
	Dispatched int
	Failed     int
	Skipped    int // definitions whose schedule could not be compiled
}

// Scheduler claims due slots and dispatches their prompts.
type Scheduler struct {
	store      core.Store
	dispatcher core.Dispatcher
	notifier   core.Notifier
	config     Config
	logger     *slog.Logger
	clock      core.Clock
	sleep      sleepFunc
}

// New creates a scheduler.
func New(store core.Store, dispatcher core.Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		config:     DefaultConfig(),
		logger:     slog.Default(),
		clock:      core.SystemClock{},
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	s.config.clampGrace()
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// Start ticks every TickInterval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.config.TickInterval, "misfire_grace", s.config.MisfireGrace)
	return periodic.Run(ctx, s.config.TickInterval, s.logger, func(ctx context.Context) {
		report, err := s.Tick(ctx, s.clock.Now())
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("tick failed", "error", err)
		}
		if report.Claimed > 0 || report.Failed > 0 {
			s.logger.Info("tick finished",
				"claimed", report.Claimed,
				"conflicts", report.Conflicts,
				"dispatched", report.Dispatched,
				"failed", report.Failed,
				"skipped", report.Skipped)
		}
	})
}

// FindDue returns the slot each active definition should fire for at now.
//
// A definition's window starts at the latest of its ScheduleFrom, its last
// claimed slot and now minus the misfire grace, and ends at now. Only the
// latest slot in the window is returned, so missed slots coalesce into one
// and nothing older than the grace is ever backfilled.
func (s *Scheduler) FindDue(ctx context.Context, now time.Time) ([]DueSlot, int, error) {
	defs, err := s.store.ActiveDefinitions(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list active definitions: %w", err)
	}
	if len(defs) == 0 {
		return nil, 0, nil
	}

	ids := make([]string, len(defs))
	for i, def := range defs {
		ids[i] = def.ID
	}
	horizon := now.Add(-s.config.MisfireGrace)
	latest, err := s.store.LatestSlots(ctx, ids, horizon)
	if err != nil {
		return nil, 0, fmt.Errorf("load latest slots: %w", err)
	}

	var due []DueSlot
	skipped := 0
	for _, def := range defs {
		sched, err := recurrence.Compile(def)
		if err != nil {
			s.logger.Error("skipping definition with invalid schedule",
				"tenant", def.TenantID, "definition", def.ID, "error", err)
			skipped++
			continue
		}

		from := def.ScheduleFrom
		if horizon.After(from) {
			from = horizon
		}
		if last, ok := latest[def.ID]; ok && last.After(from) {
			from = last
		}
		if slot, ok := sched.Latest(from, now); ok {
			due = append(due, DueSlot{Definition: def, Slot: slot})
		}
	}
	return due, skipped, nil
}

// Tick claims and dispatches every slot due at now. Tenants are processed
// in parallel, up to Concurrency at a time; one tenant's slots go out in
// order. Storage errors are joined into the returned error.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	due, skipped, err := s.FindDue(ctx, now)
	report := TickReport{Skipped: skipped}
	if err != nil {
		return report, err
	}

	byTenant := make(map[string][]DueSlot)
	var tenants []string
	for _, d := range due {
		if _, ok := byTenant[d.Definition.TenantID]; !ok {
			tenants = append(tenants, d.Definition.TenantID)
		}
		byTenant[d.Definition.TenantID] = append(byTenant[d.Definition.TenantID], d)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, tenant := range tenants {
		slots := byTenant[tenant]
		g.Go(func() error {
			for _, d := range slots {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				out, err := s.fire(gctx, d, now)
				mu.Lock()
				report.add(out)
				if err != nil {
					errs = append(errs, err)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeConflict
	outcomeDispatched
	outcomeFailed
	outcomeClaimed // claimed but neither dispatched nor failed
)

func (r *TickReport) add(o outcome) {
	switch o {
	case outcomeConflict:
		r.Conflicts++
	case outcomeDispatched:
		r.Claimed++
		r.Dispatched++
	case outcomeFailed:
		r.Claimed++
		r.Failed++
	case outcomeClaimed:
		r.Claimed++
	}
}

// fire claims one slot at now and dispatches it if the claim is won.
func (s *Scheduler) fire(ctx context.Context, d DueSlot, now time.Time) (outcome, error) {
	def := d.Definition
	inst := &core.JobInstance{
		JobDefinitionID:   def.ID,
		ScheduledFireTime: d.Slot,
		CorrelationKey:    CorrelationKey(def.ID, d.Slot),
		Status:            core.StatusPending,
		TenantID:          def.TenantID,
		Kind:              def.Kind,
		TargetRef:         def.TargetRef,
		ClaimedAt:         now,
	}

	if err := s.store.ClaimInstance(ctx, inst); err != nil {
		if errors.Is(err, core.ErrClaimConflict) {
			s.logger.Debug("slot already claimed",
				"tenant", def.TenantID, "definition", def.ID, "slot", d.Slot)
			return outcomeConflict, nil
		}
		return outcomeNone, fmt.Errorf("claim slot %s of %s: %w", d.Slot.UTC().Format(time.RFC3339), def.ID, err)
	}

	return s.dispatch(ctx, inst)
}

// dispatch sends the prompt for a claimed instance with retries and records
// the result.
func (s *Scheduler) dispatch(ctx context.Context, inst *core.JobInstance) (outcome, error) {
	msg := core.Message{
		Purpose:        core.PurposePrompt,
		TenantID:       inst.TenantID,
		InstanceID:     inst.ID,
		CorrelationKey: inst.CorrelationKey,
		ScheduledFor:   inst.ScheduledFireTime,
	}

	var delivery core.Delivery
	attempts, sendErr := retryWithBackoff(ctx, s.config.Retry, s.sleep, func(attempt int) error {
		sendCtx, cancel := context.WithTimeout(ctx, s.config.DispatchTimeout)
		defer cancel()

		d, err := s.dispatcher.Send(sendCtx, inst.TargetRef, inst.Kind, msg)
		if err != nil {
			s.logger.Warn("dispatch attempt failed",
				"tenant", inst.TenantID,
				"instance", inst.ID,
				"attempt", attempt,
				"error", err)
			if rerr := s.store.RecordAttempt(ctx, inst.ID, attempt, err.Error()); rerr != nil {
				s.logger.Warn("failed to record attempt", "instance", inst.ID, "error", rerr)
			}
			return err
		}
		delivery = d
		return nil
	})

	if sendErr == nil {
		at := delivery.SentAt
		if at.IsZero() {
			at = s.clock.Now()
		}
		if err := s.store.MarkDispatched(ctx, inst.ID, delivery.MessageID, at); err != nil {
			return outcomeClaimed, fmt.Errorf("mark instance %s dispatched: %w", inst.ID, err)
		}
		s.logger.Debug("instance dispatched",
			"tenant", inst.TenantID, "instance", inst.ID, "attempts", attempts)
		return outcomeDispatched, nil
	}

	if ctx.Err() != nil {
		// Left pending; the monitor fails it once it goes stale.
		return outcomeClaimed, ctx.Err()
	}

	if err := s.store.MarkFailed(ctx, inst.ID, sendErr.Error()); err != nil {
		return outcomeClaimed, fmt.Errorf("mark instance %s failed: %w", inst.ID, err)
	}
	s.logger.Error("dispatch failed",
		"tenant", inst.TenantID,
		"definition", inst.JobDefinitionID,
		"instance", inst.ID,
		"attempts", attempts,
		"permanent", core.IsPermanent(sendErr),
		"error", sendErr)

	if s.notifier != nil {
		alert := core.Alert{
			TenantID:     inst.TenantID,
			DefinitionID: inst.JobDefinitionID,
			InstanceID:   inst.ID,
			Slot:         inst.ScheduledFireTime,
			Attempts:     attempts,
			Err:          sendErr,
		}
		if err := s.notifier.NotifyAdmins(ctx, alert); err != nil {
			s.logger.Warn("failed to notify admins", "tenant", inst.TenantID, "instance", inst.ID, "error", err)
		}
	}
	return outcomeFailed, nil
}
