package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// RequestValidator wraps go-playground/validator for echo.
type RequestValidator struct {
	validator *validator.Validate
}

// NewRequestValidator creates a RequestValidator that reports JSON field names.
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validator: v}
}

// Validate validates a struct using its validate tags. Every failing field
// is reported as a *core.ValidationError.
func (v *RequestValidator) Validate(i any) error {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &core.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Problems = append(verr.Problems, core.FieldProblem{
			Field:  fieldPath(fe),
			Reason: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
		})
	}
	return verr
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}
