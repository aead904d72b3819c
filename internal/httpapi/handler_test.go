package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/bonesco/vibe-checker/pkg/admin"
	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/correlator"
	"github.com/bonesco/vibe-checker/pkg/storage"
)

var (
	quiet      = slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatched = time.Date(2024, 3, 11, 13, 0, 2, 0, time.UTC)
	now        = dispatched.Add(45 * time.Minute)
)

type apiFixture struct {
	store *storage.GormStorage
	e     *echo.Echo
}

func newAPIFixture(t *testing.T, health HealthFunc) *apiFixture {
	t.Helper()
	store, err := storage.Open(":memory:", logger.Silent)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	sqlDB, err := store.DB().DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, store.CreateTenant(context.Background(), &core.Tenant{
		ID:           "acme",
		Timezone:     "America/New_York",
		AdminUserIDs: []string{"U_ADMIN"},
	}))

	clock := core.ClockFunc(func() time.Time { return now })
	c := correlator.New(store, correlator.WithLogger(quiet), correlator.WithClock(clock))
	svc := admin.New(store, store, admin.WithLogger(quiet), admin.WithClock(clock))
	return &apiFixture{store: store, e: NewRouter(NewHandler(c, svc, health), quiet)}
}

// dispatched seeds a dispatched standup instance and returns its key.
func (f *apiFixture) dispatched(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	def := &core.JobDefinition{
		TenantID: "acme", Kind: core.KindStandup, Recurrence: "daily",
		TimeOfDay: "09:00", Timezone: "America/New_York", TargetRef: "#team",
	}
	require.NoError(t, f.store.CreateDefinition(ctx, def))
	inst := &core.JobInstance{
		JobDefinitionID:   def.ID,
		ScheduledFireTime: dispatched.Add(-2 * time.Second),
		CorrelationKey:    "key-" + def.ID[:8],
		TenantID:          "acme",
		Kind:              core.KindStandup,
		TargetRef:         "#team",
	}
	require.NoError(t, f.store.ClaimInstance(ctx, inst))
	require.NoError(t, f.store.MarkDispatched(ctx, inst.ID, "m-1", dispatched))
	return inst.CorrelationKey
}

func (f *apiFixture) do(t *testing.T, method, path, user, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func errorFields(body map[string]any) []string {
	e, _ := body["error"].(map[string]any)
	details, _ := e["details"].([]any)
	var fields []string
	for _, d := range details {
		m, _ := d.(map[string]any)
		f, _ := m["field"].(string)
		fields = append(fields, f)
	}
	return fields
}

func TestSubmit(t *testing.T) {
	f := newAPIFixture(t, nil)
	key := f.dispatched(t)

	rec, body := f.do(t, http.MethodPost, "/v1/submissions", "", `{
		"correlation_key": "`+key+`",
		"submitted_by": "U123",
		"fields": [
			{"name": "working_on", "value": "billing export"},
			{"name": "blockers", "value": "none"}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := body["data"].(map[string]any)
	assert.Equal(t, "standup", data["kind"])
	assert.Equal(t, float64(45*60), data["response_latency_seconds"])

	rec, body = f.do(t, http.MethodPost, "/v1/submissions", "", `{
		"correlation_key": "`+key+`",
		"fields": [{"name": "working_on", "value": "again"}, {"name": "blockers", "value": "none"}]
	}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_submitted", errorCode(body))
}

func TestSubmit_MissingRequiredField(t *testing.T) {
	f := newAPIFixture(t, nil)
	key := f.dispatched(t)

	rec, body := f.do(t, http.MethodPost, "/v1/submissions", "", `{
		"correlation_key": "`+key+`",
		"fields": [{"name": "working_on", "value": "billing export"}]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(body))
	assert.Equal(t, []string{"blockers"}, errorFields(body))
}

func TestSubmit_MalformedRequests(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, body := f.do(t, http.MethodPost, "/v1/submissions", "", `{"fields": [{"name": "blockers"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"correlation_key"}, errorFields(body))

	rec, _ = f.do(t, http.MethodPost, "/v1/submissions", "", `{"correlation_key": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/v1/submissions", "", `{"correlation_key": "forged", "fields": [{"name": "blockers", "value": "x"}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(body))
}

func TestDefinitions_RequireAdmin(t *testing.T) {
	f := newAPIFixture(t, nil)
	payload := `{"kind": "standup", "target_ref": "#team"}`

	rec, body := f.do(t, http.MethodPost, "/v1/tenants/acme/definitions", "", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(body))

	rec, body = f.do(t, http.MethodPost, "/v1/tenants/acme/definitions", "U_SOMEONE", payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(body))

	rec, _ = f.do(t, http.MethodGet, "/v1/tenants/initech/definitions", "U_ADMIN", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDefinitions_Lifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, body := f.do(t, http.MethodPost, "/v1/tenants/acme/definitions", "U_ADMIN",
		`{"kind": "standup", "recurrence": "monday_only", "time_of_day": "9:30", "target_ref": "#team"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := body["data"].(map[string]any)
	id := created["id"].(string)
	assert.Equal(t, "weekly:1", created["recurrence"])
	assert.Equal(t, "09:30", created["time_of_day"])
	assert.Equal(t, "America/New_York", created["timezone"])

	rec, body = f.do(t, http.MethodGet, "/v1/tenants/acme/definitions", "U_ADMIN", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["data"].([]any)
	require.Len(t, list, 1)
	// Monday 2024-03-18 09:30 EDT
	assert.Equal(t, "2024-03-18T13:30:00Z", list[0].(map[string]any)["next_fire"])

	base := "/v1/tenants/acme/definitions/" + id
	rec, _ = f.do(t, http.MethodPost, base+"/pause", "U_ADMIN", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, body = f.do(t, http.MethodGet, "/v1/tenants/acme/definitions", "U_ADMIN", "")
	paused := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, true, paused["paused"])
	assert.NotContains(t, paused, "next_fire")

	rec, _ = f.do(t, http.MethodPost, base+"/resume", "U_ADMIN", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = f.do(t, http.MethodDelete, base, "U_ADMIN", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"deleted": true}, body["data"])

	rec, body = f.do(t, http.MethodPost, base+"/pause", "U_ADMIN", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(body))
}

func TestCreateDefinition_Invalid(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, body := f.do(t, http.MethodPost, "/v1/tenants/acme/definitions", "U_ADMIN",
		`{"kind": "standup", "time_of_day": "25:00", "target_ref": "#team"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_definition", errorCode(body))
	assert.Equal(t, []string{"time_of_day"}, errorFields(body))

	rec, body = f.do(t, http.MethodPost, "/v1/tenants/acme/definitions", "U_ADMIN",
		`{"kind": "retro"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(body))
	assert.ElementsMatch(t, []string{"kind", "target_ref"}, errorFields(body))
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec, body := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, body["data"])

	down := newAPIFixture(t, func(context.Context) error { return errors.New("database is locked") })
	rec, body = down.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", errorCode(body))
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.NotFoundHandler(), time.Second, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
