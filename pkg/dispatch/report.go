package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// DefaultReportTimeout bounds one report send, including the wait for the
// tenant's turn in a TenantLimiter.
const DefaultReportTimeout = 10 * time.Second

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithReportTimeout sets how long one report may take.
func WithReportTimeout(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Reporter posts a summary of each completed feedback response to the
// tenant's report channel. Register Reporter.OnCompleted as a correlator
// completion hook.
type Reporter struct {
	dispatcher core.Dispatcher
	tenants    TenantLookup
	logger     *slog.Logger
	timeout    time.Duration
}

// NewReporter creates a Reporter. A nil logger uses slog.Default.
func NewReporter(d core.Dispatcher, tenants TenantLookup, logger *slog.Logger, opts ...ReporterOption) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{dispatcher: d, tenants: tenants, logger: logger, timeout: DefaultReportTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnCompleted sends the report. Failures are logged and never affect the
// recorded response.
func (r *Reporter) OnCompleted(ctx context.Context, inst *core.JobInstance, rec *core.ResponseRecord) {
	if rec.Kind != core.KindFeedback {
		return
	}
	tenant, err := r.tenants.GetTenant(ctx, inst.TenantID)
	if err != nil || tenant == nil {
		r.logger.Warn("report skipped: tenant not loaded", "tenant", inst.TenantID, "instance", inst.ID, "error", err)
		return
	}
	if tenant.ReportChannel == "" {
		return
	}

	msg := core.Message{
		Purpose:      core.PurposeReport,
		TenantID:     inst.TenantID,
		InstanceID:   inst.ID,
		ScheduledFor: inst.ScheduledFireTime,
		Text:         Summary(rec),
		Fields:       rec.Values(),
	}
	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	_, err = r.dispatcher.Send(sendCtx, tenant.ReportChannel, rec.Kind, msg)
	cancel()
	if err != nil {
		r.logger.Warn("report failed", "tenant", inst.TenantID, "instance", inst.ID, "error", err)
		return
	}
	r.logger.Debug("report sent", "tenant", inst.TenantID, "instance", inst.ID, "channel", tenant.ReportChannel)
}

// Summary renders a one-line feedback summary.
func Summary(rec *core.ResponseRecord) string {
	var b strings.Builder
	who := rec.SubmittedBy
	if who == "" {
		who = "someone"
	}
	fmt.Fprintf(&b, "Feedback from %s", who)

	values := rec.Values()
	if n, ok := values.Rating("feeling_rating"); ok {
		fmt.Fprintf(&b, ": feeling %d/5", n)
	}
	if n, ok := values.Rating("satisfaction_rating"); ok {
		fmt.Fprintf(&b, ", satisfaction %d/5", n)
	}
	switch {
	case rec.NeedsAttention():
		b.WriteString(" (needs attention)")
	case rec.IsPositive():
		b.WriteString(" (positive)")
	}
	return b.String()
}
