package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// newTestStorage opens a migrated store for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance.
// PostgreSQL connections are pool-limited and closed on test cleanup to
// avoid exceeding max_connections.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = ":memory:"
	}

	var opts []PoolOption
	if IsPostgresDSN(dsn) {
		opts = append(opts, MaxOpenConns(4), MaxIdleConns(1))
	}
	s, err := Open(dsn, logger.Silent, opts...)
	require.NoError(t, err, "open test db")
	require.NoError(t, s.Migrate(context.Background()))

	sqlDB, err := s.DB().DB()
	require.NoError(t, err)
	if IsPostgresDSN(dsn) {
		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(s)
		t.Cleanup(func() { cleanupPostgresDB(s) })
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return s
}

// cleanupPostgresDB deletes all rows so tests are isolated without
// requiring a fresh database per test.
func cleanupPostgresDB(s *GormStorage) {
	for _, tbl := range []string{"response_records", "job_instances", "job_definitions", "tenants"} {
		s.DB().Exec("DELETE FROM " + tbl)
	}
}

var testEpoch = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func seedTenant(t *testing.T, s *GormStorage, id string, admins ...string) *core.Tenant {
	t.Helper()
	tenant := &core.Tenant{ID: id, Timezone: "America/New_York", AdminUserIDs: admins}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func seedDefinition(t *testing.T, s *GormStorage, tenantID string) *core.JobDefinition {
	t.Helper()
	def := &core.JobDefinition{
		TenantID:     tenantID,
		Kind:         core.KindStandup,
		Recurrence:   "daily",
		TimeOfDay:    "09:00",
		Timezone:     "America/New_York",
		TargetRef:    "#team",
		ScheduleFrom: testEpoch,
	}
	require.NoError(t, s.CreateDefinition(context.Background(), def))
	return def
}

func seedInstance(t *testing.T, s *GormStorage, def *core.JobDefinition, slot time.Time) *core.JobInstance {
	t.Helper()
	inst := &core.JobInstance{
		JobDefinitionID:   def.ID,
		ScheduledFireTime: slot,
		CorrelationKey:    def.ID[:8] + "-" + slot.UTC().Format("20060102T1504"),
		TenantID:          def.TenantID,
		Kind:              def.Kind,
		TargetRef:         def.TargetRef,
		ClaimedAt:         slot,
	}
	require.NoError(t, s.ClaimInstance(context.Background(), inst))
	return inst
}

func seedDispatched(t *testing.T, s *GormStorage, def *core.JobDefinition, slot, at time.Time) *core.JobInstance {
	t.Helper()
	inst := seedInstance(t, s, def, slot)
	require.NoError(t, s.MarkDispatched(context.Background(), inst.ID, "msg-"+inst.ID[:8], at))
	return inst
}
