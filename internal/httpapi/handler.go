package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bonesco/vibe-checker/pkg/admin"
	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/correlator"
)

// Submitter records responses. *correlator.Correlator implements it.
type Submitter interface {
	Submit(ctx context.Context, sub correlator.Submission) (*core.ResponseRecord, error)
}

// Admin mutates job definitions. *admin.Service implements it.
type Admin interface {
	Create(ctx context.Context, userID string, req admin.CreateRequest) (*core.JobDefinition, error)
	Pause(ctx context.Context, tenantID, userID, defID string) error
	Resume(ctx context.Context, tenantID, userID, defID string) error
	Remove(ctx context.Context, tenantID, userID, defID string) (bool, error)
	List(ctx context.Context, tenantID, userID string) ([]admin.ScheduledJob, error)
}

// HealthFunc reports whether the service can serve requests.
type HealthFunc func(ctx context.Context) error

// Handler serves the submission and admin endpoints.
type Handler struct {
	submitter Submitter
	admin     Admin
	health    HealthFunc
}

// NewHandler creates a Handler. health may be nil.
func NewHandler(submitter Submitter, adm Admin, health HealthFunc) *Handler {
	return &Handler{submitter: submitter, admin: adm, health: health}
}

type fieldInput struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

type submissionRequest struct {
	CorrelationKey string       `json:"correlation_key" validate:"required,max=64"`
	SubmittedBy    string       `json:"submitted_by" validate:"max=255"`
	Fields         []fieldInput `json:"fields" validate:"required,min=1,max=20,dive"`
}

type submissionResponse struct {
	InstanceID             string       `json:"instance_id"`
	Kind                   core.JobKind `json:"kind"`
	SubmittedAt            time.Time    `json:"submitted_at"`
	ResponseLatencySeconds float64      `json:"response_latency_seconds"`
	Fields                 core.Fields  `json:"fields"`
}

// Submit handles POST /v1/submissions.
func (h *Handler) Submit(c echo.Context) error {
	var req submissionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	fields := make(core.Fields, 0, len(req.Fields))
	for _, f := range req.Fields {
		fields = append(fields, core.Field{Name: f.Name, Value: f.Value})
	}
	rec, err := h.submitter.Submit(c.Request().Context(), correlator.Submission{
		CorrelationKey: req.CorrelationKey,
		SubmittedBy:    req.SubmittedBy,
		Fields:         fields,
	})
	if err != nil {
		return err
	}

	return JSON(c, http.StatusCreated, submissionResponse{
		InstanceID:             rec.InstanceID,
		Kind:                   rec.Kind,
		SubmittedAt:            rec.SubmittedAt.UTC(),
		ResponseLatencySeconds: rec.ResponseLatency.Seconds(),
		Fields:                 rec.Values(),
	})
}

type createDefinitionRequest struct {
	Kind       core.JobKind `json:"kind" validate:"required,oneof=standup feedback"`
	Recurrence string       `json:"recurrence" validate:"omitempty,max=20"`
	TimeOfDay  string       `json:"time_of_day" validate:"omitempty,max=5"`
	Timezone   string       `json:"timezone" validate:"omitempty,max=64"`
	TargetRef  string       `json:"target_ref" validate:"required,max=255"`
}

type definitionView struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenant_id"`
	Kind       core.JobKind `json:"kind"`
	Recurrence string       `json:"recurrence"`
	TimeOfDay  string       `json:"time_of_day"`
	Timezone   string       `json:"timezone"`
	TargetRef  string       `json:"target_ref"`
	Paused     bool         `json:"paused"`
	NextFire   *time.Time   `json:"next_fire,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

func newDefinitionView(def *core.JobDefinition, next time.Time) definitionView {
	v := definitionView{
		ID:         def.ID,
		TenantID:   def.TenantID,
		Kind:       def.Kind,
		Recurrence: def.Recurrence,
		TimeOfDay:  def.TimeOfDay,
		Timezone:   def.Timezone,
		TargetRef:  def.TargetRef,
		Paused:     def.Paused,
		CreatedAt:  def.CreatedAt.UTC(),
	}
	if !next.IsZero() {
		n := next.UTC()
		v.NextFire = &n
	}
	return v
}

// CreateDefinition handles POST /v1/tenants/:tenant/definitions.
func (h *Handler) CreateDefinition(c echo.Context) error {
	var req createDefinitionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	def, err := h.admin.Create(c.Request().Context(), UserID(c), admin.CreateRequest{
		TenantID:   c.Param("tenant"),
		Kind:       req.Kind,
		Recurrence: req.Recurrence,
		TimeOfDay:  req.TimeOfDay,
		Timezone:   req.Timezone,
		TargetRef:  req.TargetRef,
	})
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, newDefinitionView(def, time.Time{}))
}

// ListDefinitions handles GET /v1/tenants/:tenant/definitions.
func (h *Handler) ListDefinitions(c echo.Context) error {
	jobs, err := h.admin.List(c.Request().Context(), c.Param("tenant"), UserID(c))
	if err != nil {
		return err
	}
	views := make([]definitionView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, newDefinitionView(j.Definition, j.NextFire))
	}
	return JSON(c, http.StatusOK, views)
}

// PauseDefinition handles POST /v1/tenants/:tenant/definitions/:id/pause.
func (h *Handler) PauseDefinition(c echo.Context) error {
	if err := h.admin.Pause(c.Request().Context(), c.Param("tenant"), UserID(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ResumeDefinition handles POST /v1/tenants/:tenant/definitions/:id/resume.
func (h *Handler) ResumeDefinition(c echo.Context) error {
	if err := h.admin.Resume(c.Request().Context(), c.Param("tenant"), UserID(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveDefinition handles DELETE /v1/tenants/:tenant/definitions/:id.
func (h *Handler) RemoveDefinition(c echo.Context) error {
	deleted, err := h.admin.Remove(c.Request().Context(), c.Param("tenant"), UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]bool{"deleted": deleted})
}

// Health handles GET /healthz.
func (h *Handler) Health(c echo.Context) error {
	if h.health != nil {
		if err := h.health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, Envelope{Error: &APIError{
				Code:    "unavailable",
				Message: err.Error(),
			}})
		}
	}
	return JSON(c, http.StatusOK, map[string]string{"status": "ok"})
}
