package core

import (
	"context"
	"time"
)

// Purpose tells a Dispatcher why a message is being sent.
type Purpose string

const (
	PurposePrompt   Purpose = "prompt"
	PurposeReminder Purpose = "reminder"
	PurposeAlert    Purpose = "alert"
	PurposeReport   Purpose = "report"
)

// Message is the payload handed to a Dispatcher. Rendering it into a
// transport-specific prompt is the Dispatcher's job.
type Message struct {
	Purpose        Purpose   `json:"purpose"`
	TenantID       string    `json:"tenant_id"`
	InstanceID     string    `json:"instance_id,omitempty"`
	CorrelationKey string    `json:"correlation_key,omitempty"`
	ScheduledFor   time.Time `json:"scheduled_for,omitempty"`
	Text           string    `json:"text,omitempty"`
	Fields         Fields    `json:"fields,omitempty"`
}

// Delivery is a Dispatcher's receipt for a sent message.
type Delivery struct {
	MessageID string
	SentAt    time.Time
}

// Dispatcher sends a message to a user or channel. Failures must be
// *DeliveryError values so callers can tell transient from permanent.
type Dispatcher interface {
	Send(ctx context.Context, target string, kind JobKind, msg Message) (Delivery, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, target string, kind JobKind, msg Message) (Delivery, error)

func (f DispatcherFunc) Send(ctx context.Context, target string, kind JobKind, msg Message) (Delivery, error) {
	return f(ctx, target, kind, msg)
}

// TenantRegistry resolves per-tenant settings owned outside the scheduler.
type TenantRegistry interface {
	ResolveTimezone(ctx context.Context, tenantID string) (string, error)
	IsAdmin(ctx context.Context, tenantID, userID string) (bool, error)
}

// Alert describes a dispatch that could not be completed.
type Alert struct {
	TenantID     string
	DefinitionID string
	InstanceID   string
	Slot         time.Time
	Attempts     int
	Err          error
}

// Notifier surfaces permanent dispatch failures to tenant admins.
type Notifier interface {
	NotifyAdmins(ctx context.Context, alert Alert) error
}
