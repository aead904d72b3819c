package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// TenantLookup loads tenants. *storage.GormStorage implements it.
type TenantLookup interface {
	GetTenant(ctx context.Context, tenantID string) (*core.Tenant, error)
}

// AdminNotifier sends dispatch failure alerts to every admin of the
// affected tenant through a Dispatcher.
type AdminNotifier struct {
	dispatcher core.Dispatcher
	tenants    TenantLookup
	logger     *slog.Logger
}

// NewAdminNotifier creates an AdminNotifier. A nil logger uses slog.Default.
func NewAdminNotifier(d core.Dispatcher, tenants TenantLookup, logger *slog.Logger) *AdminNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminNotifier{dispatcher: d, tenants: tenants, logger: logger}
}

// NotifyAdmins implements core.Notifier.
func (n *AdminNotifier) NotifyAdmins(ctx context.Context, alert core.Alert) error {
	tenant, err := n.tenants.GetTenant(ctx, alert.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	if tenant == nil {
		return core.ErrUnknownTenant
	}
	if len(tenant.AdminUserIDs) == 0 {
		n.logger.Warn("no admins to alert", "tenant", alert.TenantID, "instance", alert.InstanceID)
		return nil
	}

	msg := core.Message{
		Purpose:      core.PurposeAlert,
		TenantID:     alert.TenantID,
		InstanceID:   alert.InstanceID,
		ScheduledFor: alert.Slot,
		Text:         AlertText(alert),
	}
	var errs []error
	for _, admin := range tenant.AdminUserIDs {
		if _, err := n.dispatcher.Send(ctx, admin, "", msg); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", admin, err))
		}
	}
	return errors.Join(errs...)
}

// AlertText renders the human-readable body of an alert.
func AlertText(a core.Alert) string {
	text := fmt.Sprintf("Could not deliver the prompt scheduled for %s (definition %s) after %d attempt(s)",
		a.Slot.UTC().Format("2006-01-02 15:04 MST"), a.DefinitionID, a.Attempts)
	if a.Err != nil {
		text += ": " + a.Err.Error()
	}
	return text
}

var _ core.Notifier = (*AdminNotifier)(nil)
