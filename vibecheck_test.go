package vibecheck_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vibecheck "github.com/bonesco/vibe-checker"
	"github.com/bonesco/vibe-checker/pkg/admin"
	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/correlator"
	"github.com/bonesco/vibe-checker/pkg/monitor"
	"github.com/bonesco/vibe-checker/pkg/scheduler"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// outbox is an in-process dispatcher that records every message.
type outbox struct {
	mu   sync.Mutex
	sent []vibecheck.Message
}

func (o *outbox) Send(_ context.Context, _ string, _ vibecheck.JobKind, msg vibecheck.Message) (vibecheck.Delivery, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return vibecheck.Delivery{MessageID: "m-" + msg.InstanceID, SentAt: msg.ScheduledFor.Add(5 * time.Second)}, nil
}

func (o *outbox) purposes() []core.Purpose {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]core.Purpose, len(o.sent))
	for i, m := range o.sent {
		out[i] = m.Purpose
	}
	return out
}

func (o *outbox) last() vibecheck.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[len(o.sent)-1]
}

func openStore(t *testing.T) *vibecheck.Storage {
	t.Helper()
	store, err := vibecheck.Open(":memory:")
	require.NoError(t, err)
	sqlDB, err := store.DB().DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return store
}

func at(day, hour, minute, sec int) time.Time {
	return time.Date(2024, 3, day, hour, minute, sec, 0, time.UTC)
}

func TestLifecycle_AnswerReminderExpiry(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.CreateTenant(ctx, &vibecheck.Tenant{
		ID:           "acme",
		Timezone:     "UTC",
		AdminUserIDs: []string{"U_ADMIN"},
	}))

	// Monday 2024-03-11, an hour before the first slot.
	clock := core.ClockFunc(func() time.Time { return at(11, 8, 0, 0) })
	adm := vibecheck.NewAdmin(store, store, admin.WithLogger(quiet), admin.WithClock(clock))
	def, err := adm.Create(ctx, "U_ADMIN", admin.CreateRequest{
		TenantID:  "acme",
		Kind:      vibecheck.KindStandup,
		TargetRef: "U123",
	})
	require.NoError(t, err)

	next, err := vibecheck.NextFire(def, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, at(11, 9, 0, 0), next)

	box := &outbox{}
	newScheduler := func() *vibecheck.Scheduler {
		return vibecheck.NewScheduler(store, box, scheduler.WithLogger(quiet))
	}
	corr := vibecheck.NewCorrelator(store, correlator.WithLogger(quiet))
	mon := vibecheck.NewMonitor(store, box, monitor.WithLogger(quiet))

	// Two replicas tick the first slot at once; exactly one prompt goes out.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports []scheduler.TickReport
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := newScheduler().Tick(ctx, at(11, 9, 0, 30))
			assert.NoError(t, err)
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, reports[0].Dispatched+reports[1].Dispatched)
	require.Equal(t, []core.Purpose{core.PurposePrompt}, box.purposes())

	first := box.last()
	rec, err := corr.Submit(ctx, vibecheck.Submission{
		CorrelationKey: first.CorrelationKey,
		SubmittedBy:    "U123",
		SubmittedAt:    at(11, 9, 30, 5),
		Fields: vibecheck.Fields{
			{Name: "working_on", Value: "invoices"},
			{Name: "blockers", Value: "none"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, rec.ResponseLatency)

	_, err = corr.Resolve(ctx, first.CorrelationKey)
	assert.ErrorIs(t, err, vibecheck.ErrAlreadySubmitted)

	// Tuesday's prompt goes unanswered.
	r, err := newScheduler().Tick(ctx, at(12, 9, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Dispatched)
	second := box.last()
	assert.NotEqual(t, first.CorrelationKey, second.CorrelationKey)

	scan, err := mon.Scan(ctx, at(12, 13, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, scan.Reminded)
	assert.Zero(t, scan.Expired)
	assert.Equal(t, core.PurposeReminder, box.last().Purpose)
	assert.Equal(t, second.CorrelationKey, box.last().CorrelationKey)

	scan, err = mon.Scan(ctx, at(13, 9, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, scan.Expired, "only the unanswered instance expires")
	assert.Zero(t, scan.Reminded)

	_, err = corr.Submit(ctx, vibecheck.Submission{
		CorrelationKey: second.CorrelationKey,
		Fields: vibecheck.Fields{
			{Name: "working_on", Value: "late"},
			{Name: "blockers", Value: "none"},
		},
	})
	assert.ErrorIs(t, err, vibecheck.ErrNotFound)

	insts, err := store.ListInstances(ctx, def.ID, 10)
	require.NoError(t, err)
	statuses := map[time.Time]vibecheck.InstanceStatus{}
	for _, inst := range insts {
		statuses[inst.ScheduledFireTime.UTC()] = inst.Status
	}
	assert.Equal(t, map[time.Time]vibecheck.InstanceStatus{
		at(11, 9, 0, 0): vibecheck.StatusCompleted,
		at(12, 9, 0, 0): vibecheck.StatusExpired,
	}, statuses)
}

func TestLifecycle_PausedDefinitionSkipsSlots(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.CreateTenant(ctx, &vibecheck.Tenant{
		ID:           "acme",
		Timezone:     "Europe/Berlin",
		AdminUserIDs: []string{"U_ADMIN"},
	}))

	now := at(11, 7, 0, 0)
	adm := vibecheck.NewAdmin(store, store,
		admin.WithLogger(quiet),
		admin.WithClock(core.ClockFunc(func() time.Time { return now })))
	def, err := adm.Create(ctx, "U_ADMIN", admin.CreateRequest{
		TenantID:  "acme",
		Kind:      vibecheck.KindStandup,
		TargetRef: "U123",
	})
	require.NoError(t, err)
	require.NoError(t, adm.Pause(ctx, "acme", "U_ADMIN", def.ID))

	box := &outbox{}
	sched := vibecheck.NewScheduler(store, box, scheduler.WithLogger(quiet))

	// 09:00 Berlin is 08:00 UTC in March.
	r, err := sched.Tick(ctx, at(11, 8, 0, 30))
	require.NoError(t, err)
	assert.Zero(t, r.Claimed)

	now = at(11, 8, 5, 0)
	require.NoError(t, adm.Resume(ctx, "acme", "U_ADMIN", def.ID))

	r, err = sched.Tick(ctx, at(11, 8, 6, 0))
	require.NoError(t, err)
	assert.Zero(t, r.Claimed, "the slot missed while paused is not backfilled")

	r, err = sched.Tick(ctx, at(12, 8, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Dispatched)
	assert.Equal(t, at(12, 8, 0, 0), box.last().ScheduledFor.UTC())
}

func TestDeliveryErrorHelpers(t *testing.T) {
	assert.True(t, core.IsTransient(vibecheck.Transient("429", nil)))
	assert.True(t, core.IsPermanent(vibecheck.Permanent("channel_not_found", nil)))
}
