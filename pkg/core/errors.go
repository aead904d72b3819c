package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors
var (
	ErrNotFound          = errors.New("vibecheck: no dispatched instance matches the correlation key")
	ErrAlreadySubmitted  = errors.New("vibecheck: a response was already recorded for this instance")
	ErrClaimConflict     = errors.New("vibecheck: slot already claimed")
	ErrInvalidTransition = errors.New("vibecheck: invalid status transition")
	ErrForbidden         = errors.New("vibecheck: user is not a tenant admin")
	ErrUnknownTenant     = errors.New("vibecheck: unknown tenant")
	ErrUnknownDefinition = errors.New("vibecheck: unknown job definition")
)

// ConfigError rejects a malformed definition at creation time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("vibecheck: invalid %s: %s", e.Field, e.Reason)
}

// ClaimConflictError reports that another scheduler already owns the slot.
// It is expected under concurrent replicas and is not a failure.
type ClaimConflictError struct {
	DefinitionID string
	Slot         time.Time
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("vibecheck: slot %s of definition %s already claimed",
		e.Slot.UTC().Format(time.RFC3339), e.DefinitionID)
}

func (e *ClaimConflictError) Is(target error) bool {
	return target == ErrClaimConflict
}

// DeliveryClass tells the scheduler whether a failed send is worth retrying.
type DeliveryClass string

const (
	DeliveryTransient DeliveryClass = "transient"
	DeliveryPermanent DeliveryClass = "permanent"
)

// DeliveryError is returned by a Dispatcher when a message could not be sent.
type DeliveryError struct {
	Class  DeliveryClass
	Detail string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vibecheck: %s delivery error: %s: %v", e.Class, e.Detail, e.Err)
	}
	return fmt.Sprintf("vibecheck: %s delivery error: %s", e.Class, e.Detail)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Transient builds a retryable DeliveryError.
func Transient(detail string, err error) error {
	return &DeliveryError{Class: DeliveryTransient, Detail: detail, Err: err}
}

// Permanent builds a DeliveryError that fails the instance without retry.
func Permanent(detail string, err error) error {
	return &DeliveryError{Class: DeliveryPermanent, Detail: detail, Err: err}
}

// IsPermanent reports whether err is a permanent DeliveryError.
// Errors that are not DeliveryErrors are treated as transient.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Class == DeliveryPermanent
}

// IsTransient reports whether err is worth retrying: any error that is not
// a permanent DeliveryError.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// FieldProblem describes one missing or malformed submission field.
type FieldProblem struct {
	Field  string
	Reason string
}

// ValidationError lists every problem found in a submission.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Reason)
	}
	return "vibecheck: invalid submission: " + strings.Join(parts, "; ")
}

// Fields returns the names of the offending fields in report order.
func (e *ValidationError) Fields() []string {
	names := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		names = append(names, p.Field)
	}
	return names
}

// InvariantError signals state that should be impossible, such as a
// response recorded before its prompt was sent.
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string {
	return "vibecheck: invariant violated: " + e.Detail
}
