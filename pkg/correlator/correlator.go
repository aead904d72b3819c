package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// Submission is a user's answer to a prompt.
type Submission struct {
	CorrelationKey string
	SubmittedBy    string
	Fields         core.Fields
	// SubmittedAt defaults to the correlator's clock when zero.
	SubmittedAt time.Time
}

// CompletionHook runs after a response has been recorded.
type CompletionHook func(ctx context.Context, inst *core.JobInstance, rec *core.ResponseRecord)

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Correlator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used for submissions without a timestamp.
func WithClock(clock core.Clock) Option {
	return func(c *Correlator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSchema replaces the schema of one kind.
func WithSchema(s Schema) Option {
	return func(c *Correlator) {
		c.schemas[s.Kind] = s
	}
}

// Correlator resolves and records submissions.
type Correlator struct {
	store   core.Store
	schemas map[core.JobKind]Schema
	logger  *slog.Logger
	clock   core.Clock

	mu          sync.RWMutex
	onCompleted []CompletionHook
}

// New creates a correlator backed by store.
func New(store core.Store, opts ...Option) *Correlator {
	c := &Correlator{
		store:   store,
		schemas: DefaultSchemas(),
		logger:  slog.Default(),
		clock:   core.SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnCompleted registers a hook called after each recorded response.
func (c *Correlator) OnCompleted(fn CompletionHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCompleted = append(c.onCompleted, fn)
}

func (c *Correlator) callCompletedHooks(ctx context.Context, inst *core.JobInstance, rec *core.ResponseRecord) {
	c.mu.RLock()
	hooks := make([]CompletionHook, len(c.onCompleted))
	copy(hooks, c.onCompleted)
	c.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, inst, rec)
	}
}

// Schema returns the schema used for kind.
func (c *Correlator) Schema(kind core.JobKind) (Schema, bool) {
	s, ok := c.schemas[kind]
	return s, ok
}

// Resolve returns the dispatched instance for key. A completed instance
// yields core.ErrAlreadySubmitted; a missing, pending, expired or failed
// one yields core.ErrNotFound.
func (c *Correlator) Resolve(ctx context.Context, key string) (*core.JobInstance, error) {
	if key == "" {
		return nil, core.ErrNotFound
	}
	inst, err := c.store.FindByCorrelationKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find instance: %w", err)
	}
	if inst == nil {
		return nil, core.ErrNotFound
	}
	switch inst.Status {
	case core.StatusDispatched:
		return inst, nil
	case core.StatusCompleted:
		return nil, core.ErrAlreadySubmitted
	default:
		return nil, core.ErrNotFound
	}
}

// ValidateAndExtract checks fields against the schema of kind.
func (c *Correlator) ValidateAndExtract(kind core.JobKind, fields core.Fields) (core.Fields, error) {
	schema, ok := c.schemas[kind]
	if !ok {
		return nil, &core.InvariantError{Detail: "no response schema for kind " + string(kind)}
	}
	return schema.Validate(fields)
}

// Submit records sub against its instance. Exactly one submission per
// instance succeeds; later ones get core.ErrAlreadySubmitted and leave the
// first record untouched. Nothing is written unless every field is valid.
func (c *Correlator) Submit(ctx context.Context, sub Submission) (*core.ResponseRecord, error) {
	inst, err := c.Resolve(ctx, sub.CorrelationKey)
	if err != nil {
		return nil, err
	}

	fields, err := c.ValidateAndExtract(inst.Kind, sub.Fields)
	if err != nil {
		return nil, err
	}

	submittedAt := sub.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = c.clock.Now()
	}
	if inst.DispatchedAt == nil {
		return nil, &core.InvariantError{Detail: "dispatched instance " + inst.ID + " has no dispatch time"}
	}
	latency := submittedAt.Sub(*inst.DispatchedAt)
	if latency < 0 {
		return nil, &core.InvariantError{
			Detail: fmt.Sprintf("response to instance %s submitted %s before its dispatch", inst.ID, -latency),
		}
	}

	rec := &core.ResponseRecord{
		InstanceID:      inst.ID,
		Kind:            inst.Kind,
		Fields:          datatypes.NewJSONType(fields),
		SubmittedBy:     sub.SubmittedBy,
		SubmittedAt:     submittedAt,
		ResponseLatency: latency,
	}
	if err := c.store.CompleteInstance(ctx, rec, submittedAt); err != nil {
		if errors.Is(err, core.ErrAlreadySubmitted) || errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("complete instance %s: %w", inst.ID, err)
	}

	inst.Status = core.StatusCompleted
	inst.CompletedAt = &submittedAt
	c.logger.Info("response recorded",
		"tenant", inst.TenantID,
		"instance", inst.ID,
		"kind", inst.Kind,
		"latency", latency)

	c.callCompletedHooks(ctx, inst, rec)
	return rec, nil
}
