package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/security"
)

// inChunk bounds IN (...) lists to stay under SQLite's variable limit.
const inChunk = 500

// GormStorage implements core.Store and core.TenantRegistry using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
// The db should be opened with TranslateError enabled (see Open) so that
// slot collisions surface as claim conflicts.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying connection.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Tenant{},
		&core.JobDefinition{},
		&core.JobInstance{},
		&core.ResponseRecord{},
	)
}

// CreateTenant registers a tenant.
func (s *GormStorage) CreateTenant(ctx context.Context, tenant *core.Tenant) error {
	if err := security.ValidateTenantID(tenant.ID); err != nil {
		return err
	}
	if tenant.Timezone == "" {
		tenant.Timezone = "UTC"
	}
	err := s.db.WithContext(ctx).Create(tenant).Error
	if isDuplicate(err) {
		return &core.ConfigError{Field: "tenant_id", Reason: "tenant " + tenant.ID + " already exists"}
	}
	return err
}

// GetTenant retrieves a tenant by ID. It returns nil, nil when none exists.
func (s *GormStorage) GetTenant(ctx context.Context, tenantID string) (*core.Tenant, error) {
	var tenant core.Tenant
	err := s.db.WithContext(ctx).First(&tenant, "id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// ResolveTimezone returns the tenant's default IANA timezone.
func (s *GormStorage) ResolveTimezone(ctx context.Context, tenantID string) (string, error) {
	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if tenant == nil {
		return "", core.ErrUnknownTenant
	}
	return tenant.Timezone, nil
}

// IsAdmin reports whether userID administers the tenant.
func (s *GormStorage) IsAdmin(ctx context.Context, tenantID, userID string) (bool, error) {
	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if tenant == nil {
		return false, core.ErrUnknownTenant
	}
	return tenant.HasAdmin(userID), nil
}

// CreateDefinition stores a new job definition.
func (s *GormStorage) CreateDefinition(ctx context.Context, def *core.JobDefinition) error {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if def.ScheduleFrom.IsZero() {
		def.ScheduleFrom = time.Now()
	}
	def.ScheduleFrom = def.ScheduleFrom.UTC()
	return s.db.WithContext(ctx).Create(def).Error
}

// GetDefinition retrieves a definition by ID. It returns nil, nil when none exists.
func (s *GormStorage) GetDefinition(ctx context.Context, id string) (*core.JobDefinition, error) {
	var def core.JobDefinition
	err := s.db.WithContext(ctx).First(&def, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ListDefinitions returns a tenant's definitions, including paused and
// removed ones, oldest first.
func (s *GormStorage) ListDefinitions(ctx context.Context, tenantID string) ([]*core.JobDefinition, error) {
	var defs []*core.JobDefinition
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC, id ASC").
		Find(&defs).Error
	return defs, err
}

// ActiveDefinitions returns every definition that may generate instances.
func (s *GormStorage) ActiveDefinitions(ctx context.Context) ([]*core.JobDefinition, error) {
	disabled := s.db.Model(&core.Tenant{}).Select("id").Where("disabled = ?", true)

	var defs []*core.JobDefinition
	err := s.db.WithContext(ctx).
		Where("paused = ? AND removed_at IS NULL", false).
		Where("tenant_id NOT IN (?)", disabled).
		Order("tenant_id ASC, id ASC").
		Find(&defs).Error
	return defs, err
}

// SetPaused pauses or resumes a definition. Resuming moves ScheduleFrom to
// at, so slots that fell inside the pause are never generated.
func (s *GormStorage) SetPaused(ctx context.Context, id string, paused bool, at time.Time) error {
	at = at.UTC()
	updates := map[string]any{"paused": paused}
	if paused {
		updates["paused_at"] = at
	} else {
		updates["paused_at"] = nil
		updates["schedule_from"] = at
	}

	result := s.db.WithContext(ctx).
		Model(&core.JobDefinition{}).
		Where("id = ? AND removed_at IS NULL", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrUnknownDefinition
	}
	return nil
}

// RemoveDefinition deletes a definition that never produced an instance.
// Otherwise it sets removed_at so its history stays queryable.
func (s *GormStorage) RemoveDefinition(ctx context.Context, id string, at time.Time) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var def core.JobDefinition
		if err := tx.First(&def, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrUnknownDefinition
			}
			return err
		}

		var count int64
		if err := tx.Model(&core.JobInstance{}).Where("job_definition_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			deleted = true
			return tx.Delete(&core.JobDefinition{}, "id = ?", id).Error
		}
		if def.RemovedAt != nil {
			return nil
		}
		return tx.Model(&core.JobDefinition{}).
			Where("id = ?", id).
			Update("removed_at", at.UTC()).Error
	})
	return deleted, err
}

// LatestSlots maps each definition to its newest claimed slot at or after since.
func (s *GormStorage) LatestSlots(ctx context.Context, definitionIDs []string, since time.Time) (map[string]time.Time, error) {
	latest := make(map[string]time.Time, len(definitionIDs))
	for start := 0; start < len(definitionIDs); start += inChunk {
		end := min(start+inChunk, len(definitionIDs))

		var rows []*core.JobInstance
		err := s.db.WithContext(ctx).
			Select("job_definition_id", "scheduled_fire_time").
			Where("job_definition_id IN ? AND scheduled_fire_time >= ?", definitionIDs[start:end], since.UTC()).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if cur, ok := latest[r.JobDefinitionID]; !ok || r.ScheduledFireTime.After(cur) {
				latest[r.JobDefinitionID] = r.ScheduledFireTime
			}
		}
	}
	return latest, nil
}

// ClaimInstance inserts a pending instance for a slot. Losing the race to
// another scheduler yields a *core.ClaimConflictError. A zero ClaimedAt is
// set to the current time.
func (s *GormStorage) ClaimInstance(ctx context.Context, inst *core.JobInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.Status == "" {
		inst.Status = core.StatusPending
	}
	if inst.ClaimedAt.IsZero() {
		inst.ClaimedAt = time.Now()
	}
	inst.ScheduledFireTime = inst.ScheduledFireTime.UTC()
	inst.ClaimedAt = inst.ClaimedAt.UTC()

	err := s.db.WithContext(ctx).Create(inst).Error
	if isDuplicate(err) {
		return &core.ClaimConflictError{DefinitionID: inst.JobDefinitionID, Slot: inst.ScheduledFireTime}
	}
	return err
}

// RecordAttempt stores the attempt count and last error of a pending instance.
func (s *GormStorage) RecordAttempt(ctx context.Context, instanceID string, attempts int, errMsg string) error {
	return s.db.WithContext(ctx).
		Model(&core.JobInstance{}).
		Where("id = ? AND status = ?", instanceID, core.StatusPending).
		Updates(map[string]any{
			"attempts":   attempts,
			"last_error": security.SanitizeErrorMessage(errMsg),
		}).Error
}

// MarkDispatched moves a pending instance to dispatched.
func (s *GormStorage) MarkDispatched(ctx context.Context, instanceID string, messageID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&core.JobInstance{}).
		Where("id = ? AND status = ?", instanceID, core.StatusPending).
		Updates(map[string]any{
			"status":        core.StatusDispatched,
			"dispatched_at": at.UTC(),
			"message_id":    messageID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrInvalidTransition
	}
	return nil
}

// MarkFailed moves a pending instance to failed.
func (s *GormStorage) MarkFailed(ctx context.Context, instanceID string, errMsg string) error {
	result := s.db.WithContext(ctx).
		Model(&core.JobInstance{}).
		Where("id = ? AND status = ?", instanceID, core.StatusPending).
		Updates(map[string]any{
			"status":     core.StatusFailed,
			"last_error": security.SanitizeErrorMessage(errMsg),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrInvalidTransition
	}
	return nil
}

// GetInstance retrieves an instance by ID. It returns nil, nil when none exists.
func (s *GormStorage) GetInstance(ctx context.Context, id string) (*core.JobInstance, error) {
	return s.firstInstance(ctx, "id = ?", id)
}

// FindByCorrelationKey retrieves an instance by its correlation key.
// It returns nil, nil when none exists.
func (s *GormStorage) FindByCorrelationKey(ctx context.Context, key string) (*core.JobInstance, error) {
	return s.firstInstance(ctx, "correlation_key = ?", key)
}

func (s *GormStorage) firstInstance(ctx context.Context, query string, arg any) (*core.JobInstance, error) {
	var inst core.JobInstance
	err := s.db.WithContext(ctx).First(&inst, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// CompleteInstance records a response and completes its instance atomically.
// Exactly one of several concurrent callers succeeds; the others get
// core.ErrAlreadySubmitted. An instance that is not dispatched yields
// core.ErrNotFound.
func (s *GormStorage) CompleteInstance(ctx context.Context, rec *core.ResponseRecord, at time.Time) error {
	at = at.UTC()
	rec.SubmittedAt = rec.SubmittedAt.UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.JobInstance{}).
			Where("id = ? AND status = ?", rec.InstanceID, core.StatusDispatched).
			Updates(map[string]any{
				"status":       core.StatusCompleted,
				"completed_at": at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var inst core.JobInstance
			err := tx.Select("status").First(&inst, "id = ?", rec.InstanceID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrNotFound
			}
			if err != nil {
				return err
			}
			if inst.Status == core.StatusCompleted {
				return core.ErrAlreadySubmitted
			}
			return core.ErrNotFound
		}

		if err := tx.Create(rec).Error; err != nil {
			if isDuplicate(err) {
				return core.ErrAlreadySubmitted
			}
			return err
		}
		return nil
	})
}

// GetResponse retrieves the response of an instance. It returns nil, nil
// when none was recorded.
func (s *GormStorage) GetResponse(ctx context.Context, instanceID string) (*core.ResponseRecord, error) {
	var rec core.ResponseRecord
	err := s.db.WithContext(ctx).First(&rec, "instance_id = ?", instanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// TransitionStatus moves an instance from one status to another only if it
// is still in the from status.
func (s *GormStorage) TransitionStatus(ctx context.Context, instanceID string, from, to core.InstanceStatus, at time.Time) (bool, error) {
	if !core.CanTransition(from, to) {
		return false, core.ErrInvalidTransition
	}

	updates := map[string]any{"status": to}
	switch to {
	case core.StatusDispatched:
		updates["dispatched_at"] = at.UTC()
	case core.StatusCompleted, core.StatusExpired:
		updates["completed_at"] = at.UTC()
	}

	result := s.db.WithContext(ctx).
		Model(&core.JobInstance{}).
		Where("id = ? AND status = ?", instanceID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListReminderDue returns dispatched instances that were sent at or before
// the cutoff and have not been reminded yet.
func (s *GormStorage) ListReminderDue(ctx context.Context, dispatchedBefore time.Time, limit int) ([]*core.JobInstance, error) {
	var insts []*core.JobInstance
	query := s.db.WithContext(ctx).
		Where("status = ? AND reminder_sent = ? AND dispatched_at <= ?", core.StatusDispatched, false, dispatchedBefore.UTC()).
		Order("dispatched_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&insts).Error
	return insts, err
}

// ClaimReminder marks an instance as reminded. Only the first caller gets true.
func (s *GormStorage) ClaimReminder(ctx context.Context, instanceID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&core.JobInstance{}).
		Where("id = ? AND status = ? AND reminder_sent = ?", instanceID, core.StatusDispatched, false).
		Update("reminder_sent", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListExpiryDue returns dispatched instances sent at or before the cutoff.
func (s *GormStorage) ListExpiryDue(ctx context.Context, dispatchedBefore time.Time, limit int) ([]*core.JobInstance, error) {
	var insts []*core.JobInstance
	query := s.db.WithContext(ctx).
		Where("status = ? AND dispatched_at <= ?", core.StatusDispatched, dispatchedBefore.UTC()).
		Order("dispatched_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&insts).Error
	return insts, err
}

// ListStalePending returns pending instances claimed at or before the cutoff.
func (s *GormStorage) ListStalePending(ctx context.Context, claimedBefore time.Time, limit int) ([]*core.JobInstance, error) {
	var insts []*core.JobInstance
	query := s.db.WithContext(ctx).
		Where("status = ? AND claimed_at <= ?", core.StatusPending, claimedBefore.UTC()).
		Order("claimed_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&insts).Error
	return insts, err
}

// PurgeBefore deletes terminal instances scheduled before cutoff together
// with their responses. It returns the number of instances removed.
func (s *GormStorage) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	terminal := []core.InstanceStatus{core.StatusCompleted, core.StatusExpired, core.StatusFailed}
	var purged int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&core.JobInstance{}).
			Select("id").
			Where("status IN ? AND scheduled_fire_time < ?", terminal, cutoff.UTC())

		if err := tx.Where("instance_id IN (?)", old).Delete(&core.ResponseRecord{}).Error; err != nil {
			return err
		}

		result := tx.Where("status IN ? AND scheduled_fire_time < ?", terminal, cutoff.UTC()).
			Delete(&core.JobInstance{})
		if result.Error != nil {
			return result.Error
		}
		purged = result.RowsAffected
		return nil
	})
	return purged, err
}

// ListInstances returns a definition's instances, newest slot first.
func (s *GormStorage) ListInstances(ctx context.Context, definitionID string, limit int) ([]*core.JobInstance, error) {
	var insts []*core.JobInstance
	query := s.db.WithContext(ctx).
		Where("job_definition_id = ?", definitionID).
		Order("scheduled_fire_time DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&insts).Error
	return insts, err
}

// isDuplicate reports whether err is a unique constraint violation.
// Open enables TranslateError; the string checks cover connections that
// were opened without it.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

var (
	_ core.Store          = (*GormStorage)(nil)
	_ core.TenantRegistry = (*GormStorage)(nil)
)
