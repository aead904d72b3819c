package core

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// JobKind selects the prompt a definition sends and the response schema it expects.
type JobKind string

const (
	KindStandup  JobKind = "standup"
	KindFeedback JobKind = "feedback"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	return k == KindStandup || k == KindFeedback
}

// Tenant is the isolation boundary that owns job definitions.
type Tenant struct {
	ID            string                      `gorm:"primaryKey;size:64"`
	Timezone      string                      `gorm:"size:64;not null;default:'UTC'"`
	AdminUserIDs  datatypes.JSONSlice[string] `gorm:"type:json"`
	ReportChannel string                      `gorm:"size:64"` // Receives completed feedback summaries
	Disabled      bool                        `gorm:"default:false"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime"`
	UpdatedAt     time.Time                   `gorm:"autoUpdateTime"`
}

// HasAdmin reports whether userID is listed as an admin of the tenant.
func (t *Tenant) HasAdmin(userID string) bool {
	for _, id := range t.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// JobDefinition is a tenant-owned recurring schedule.
type JobDefinition struct {
	ID         string  `gorm:"primaryKey;size:36"`
	TenantID   string  `gorm:"index;size:64;not null"`
	Kind       JobKind `gorm:"size:20;not null"`
	Recurrence string  `gorm:"size:20;not null"` // "daily" or "weekly:N" (N = 0..6, Sunday = 0)
	TimeOfDay  string  `gorm:"size:5;not null"`  // local wall-clock time, "HH:MM"
	Timezone   string  `gorm:"size:64;not null"` // IANA name
	TargetRef  string  `gorm:"size:255;not null"`
	Paused     bool    `gorm:"index;default:false"`
	PausedAt   *time.Time
	// ScheduleFrom is the instant slot generation starts after. It is set on
	// creation and moved forward on resume so paused slots are never backfilled.
	ScheduleFrom time.Time  `gorm:"not null"`
	RemovedAt    *time.Time `gorm:"index"`
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`
}

// Active reports whether the definition may generate new instances.
func (d *JobDefinition) Active() bool {
	return !d.Paused && d.RemovedAt == nil
}

// InstanceStatus is the lifecycle state of a JobInstance.
type InstanceStatus string

const (
	StatusPending    InstanceStatus = "pending"
	StatusDispatched InstanceStatus = "dispatched"
	StatusCompleted  InstanceStatus = "completed"
	StatusExpired    InstanceStatus = "expired"
	StatusFailed     InstanceStatus = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s InstanceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusFailed
}

// CanTransition reports whether from -> to is an allowed status transition.
func CanTransition(from, to InstanceStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusDispatched || to == StatusFailed
	case StatusDispatched:
		return to == StatusCompleted || to == StatusExpired
	default:
		return false
	}
}

// JobInstance is one concrete scheduled occurrence of a JobDefinition.
//
// The (JobDefinitionID, ScheduledFireTime) pair is unique; inserting a second
// row for the same slot is how concurrent schedulers learn they lost a claim.
type JobInstance struct {
	ID                string         `gorm:"primaryKey;size:36"`
	JobDefinitionID   string         `gorm:"size:36;not null;uniqueIndex:idx_instance_slot,priority:1"`
	ScheduledFireTime time.Time      `gorm:"not null;uniqueIndex:idx_instance_slot,priority:2"`
	DispatchedAt      *time.Time     `gorm:"index"`
	CorrelationKey    string         `gorm:"size:36;not null;uniqueIndex"`
	Status            InstanceStatus `gorm:"index;size:20;not null;default:'pending'"`
	ReminderSent      bool           `gorm:"default:false"`

	// Snapshot of the definition at claim time
	TenantID  string  `gorm:"index;size:64;not null"`
	Kind      JobKind `gorm:"size:20;not null"`
	TargetRef string  `gorm:"size:255;not null"`

	// ClaimedAt comes from the claiming scheduler's clock, so staleness is
	// judged on the same clock as the monitor's scans.
	ClaimedAt time.Time `gorm:"index"`

	Attempts    int    `gorm:"default:0"` // failed sends so far
	MessageID   string `gorm:"size:255"`
	LastError   string `gorm:"type:text"`
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Field is one named value of a submission.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Fields is an ordered mapping of field name to value.
type Fields []Field

// Get returns the value stored under name.
func (f Fields) Get(name string) (string, bool) {
	for _, fld := range f {
		if fld.Name == name {
			return fld.Value, true
		}
	}
	return "", false
}

// Rating returns the integer value stored under name.
func (f Fields) Rating(name string) (int, bool) {
	v, ok := f.Get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ResponseRecord is the single accepted submission for a completed instance.
type ResponseRecord struct {
	InstanceID      string                     `gorm:"primaryKey;size:36"`
	Kind            JobKind                    `gorm:"size:20;not null"`
	Fields          datatypes.JSONType[Fields] `gorm:"type:json"`
	SubmittedBy     string                     `gorm:"size:255"`
	SubmittedAt     time.Time                  `gorm:"index;not null"`
	ResponseLatency time.Duration              `gorm:"not null"`
	CreatedAt       time.Time                  `gorm:"autoCreateTime"`
}

// Values returns the recorded fields.
func (r *ResponseRecord) Values() Fields {
	return r.Fields.Data()
}

// HasBlockers reports whether a non-blank blockers answer was given.
// Answers such as "none" still count; interpreting them is left to readers.
func (r *ResponseRecord) HasBlockers() bool {
	v, _ := r.Values().Get("blockers")
	return strings.TrimSpace(v) != ""
}

// IsPositive reports whether both feedback ratings are 4 or higher.
func (r *ResponseRecord) IsPositive() bool {
	if r.Kind != KindFeedback {
		return false
	}
	feeling, ok1 := r.Values().Rating("feeling_rating")
	satisfaction, ok2 := r.Values().Rating("satisfaction_rating")
	return ok1 && ok2 && feeling >= 4 && satisfaction >= 4
}

// NeedsAttention reports whether feedback carries a low rating or blockers.
func (r *ResponseRecord) NeedsAttention() bool {
	if r.Kind != KindFeedback {
		return false
	}
	if feeling, ok := r.Values().Rating("feeling_rating"); ok && feeling <= 2 {
		return true
	}
	if satisfaction, ok := r.Values().Rating("satisfaction_rating"); ok && satisfaction <= 2 {
		return true
	}
	return r.HasBlockers()
}
