package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClaimConflictError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("claim: %w", &ClaimConflictError{
		DefinitionID: "def-1",
		Slot:         time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC),
	})

	assert.ErrorIs(t, err, ErrClaimConflict)
	assert.Contains(t, err.Error(), "def-1")
	assert.Contains(t, err.Error(), "2024-03-10T13:00:00Z")
}

func TestDeliveryError_Classification(t *testing.T) {
	cause := errors.New("connection reset")

	transient := Transient("post failed", cause)
	permanent := Permanent("target gone", nil)

	assert.False(t, IsPermanent(transient))
	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsPermanent(cause), "unclassified errors are retried")
	assert.True(t, IsTransient(transient))
	assert.True(t, IsTransient(cause))
	assert.False(t, IsTransient(permanent))
	assert.False(t, IsTransient(nil))
	assert.ErrorIs(t, transient, cause)
	assert.Contains(t, transient.Error(), "transient")
	assert.Contains(t, permanent.Error(), "target gone")
}

func TestValidationError_ListsEveryField(t *testing.T) {
	err := &ValidationError{Problems: []FieldProblem{
		{Field: "working_on", Reason: "required"},
		{Field: "blockers", Reason: "required"},
	}}

	assert.Equal(t, []string{"working_on", "blockers"}, err.Fields())
	assert.Contains(t, err.Error(), "working_on: required")
	assert.Contains(t, err.Error(), "blockers: required")
}

func TestConfigError_Message(t *testing.T) {
	err := &ConfigError{Field: "time_of_day", Reason: "hour out of range"}
	assert.Equal(t, "vibecheck: invalid time_of_day: hour out of range", err.Error())
}

func TestInvariantError_Message(t *testing.T) {
	err := &InvariantError{Detail: "negative latency"}
	assert.Contains(t, err.Error(), "negative latency")
}
