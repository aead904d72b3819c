package core

import (
	"context"
	"time"
)

// Store defines the persistence layer. It is the only stateful component;
// every cross-replica guarantee is expressed as a conditional write here.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Tenants
	CreateTenant(ctx context.Context, tenant *Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)

	// Definitions
	CreateDefinition(ctx context.Context, def *JobDefinition) error
	GetDefinition(ctx context.Context, id string) (*JobDefinition, error)
	ListDefinitions(ctx context.Context, tenantID string) ([]*JobDefinition, error)
	// ActiveDefinitions returns unpaused, unremoved definitions of enabled tenants.
	ActiveDefinitions(ctx context.Context) ([]*JobDefinition, error)
	SetPaused(ctx context.Context, id string, paused bool, at time.Time) error
	// RemoveDefinition deletes a definition without instances and soft-disables
	// one that has them. It reports whether the row was deleted.
	RemoveDefinition(ctx context.Context, id string, at time.Time) (bool, error)

	// Claiming
	// LatestSlots maps definition id to its most recent scheduled fire time
	// at or after since. Definitions without such a slot are absent.
	LatestSlots(ctx context.Context, definitionIDs []string, since time.Time) (map[string]time.Time, error)
	// ClaimInstance inserts a pending instance. A *ClaimConflictError is
	// returned when the (definition, slot) pair already exists.
	ClaimInstance(ctx context.Context, inst *JobInstance) error
	RecordAttempt(ctx context.Context, instanceID string, attempts int, errMsg string) error
	MarkDispatched(ctx context.Context, instanceID string, messageID string, at time.Time) error
	MarkFailed(ctx context.Context, instanceID string, errMsg string) error

	// Correlation
	GetInstance(ctx context.Context, id string) (*JobInstance, error)
	FindByCorrelationKey(ctx context.Context, key string) (*JobInstance, error)
	// CompleteInstance writes the record and moves the instance from
	// dispatched to completed in one transaction.
	CompleteInstance(ctx context.Context, rec *ResponseRecord, at time.Time) error
	GetResponse(ctx context.Context, instanceID string) (*ResponseRecord, error)

	// Monitoring
	// TransitionStatus moves an instance from one status to another only if
	// it is still in the from status. It reports whether the row changed.
	TransitionStatus(ctx context.Context, instanceID string, from, to InstanceStatus, at time.Time) (bool, error)
	ListReminderDue(ctx context.Context, dispatchedBefore time.Time, limit int) ([]*JobInstance, error)
	ClaimReminder(ctx context.Context, instanceID string) (bool, error)
	ListExpiryDue(ctx context.Context, dispatchedBefore time.Time, limit int) ([]*JobInstance, error)
	// ListStalePending returns instances still pending that were claimed at
	// or before the cutoff; their dispatch was interrupted.
	ListStalePending(ctx context.Context, claimedBefore time.Time, limit int) ([]*JobInstance, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Queries
	ListInstances(ctx context.Context, definitionID string, limit int) ([]*JobInstance, error)
}
