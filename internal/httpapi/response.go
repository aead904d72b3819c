package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// Envelope is the standard API response wrapper.
type Envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError represents an error in the API response.
type APIError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes a JSON response with the standard envelope.
func JSON(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Data: data})
}

// ErrorHandler returns the echo error handler. Unexpected errors are logged.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, apiErr := mapError(err)
		if status == http.StatusInternalServerError {
			logger.Error("unhandled error", "path", c.Request().URL.Path, "error", err)
		}
		if jsonErr := c.JSON(status, Envelope{Error: &apiErr}); jsonErr != nil {
			logger.Error("failed to send error response", "error", jsonErr)
		}
	}
}

func mapError(err error) (int, APIError) {
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, _ := echoErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, APIError{Code: http.StatusText(echoErr.Code), Message: msg}
	}

	var (
		verr *core.ValidationError
		cerr *core.ConfigError
		ierr *core.InvariantError
	)
	switch {
	case errors.As(err, &verr):
		details := make([]FieldError, 0, len(verr.Problems))
		for _, p := range verr.Problems {
			details = append(details, FieldError{Field: p.Field, Message: p.Reason})
		}
		return http.StatusBadRequest, APIError{
			Code:    "validation_error",
			Message: "Validation failed",
			Details: details,
		}
	case errors.As(err, &cerr):
		return http.StatusBadRequest, APIError{
			Code:    "invalid_definition",
			Message: "The job definition is invalid",
			Details: []FieldError{{Field: cerr.Field, Message: cerr.Reason}},
		}
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "No open prompt matches this correlation key",
		}
	case errors.Is(err, core.ErrAlreadySubmitted):
		return http.StatusConflict, APIError{
			Code:    "already_submitted",
			Message: "A response was already recorded for this prompt",
		}
	case errors.Is(err, core.ErrUnknownTenant), errors.Is(err, core.ErrUnknownDefinition):
		return http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "The requested resource was not found",
		}
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, APIError{
			Code:    "unauthorized",
			Message: "A user id is required",
		}
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden, APIError{
			Code:    "forbidden",
			Message: "You do not have permission to perform this action",
		}
	case errors.As(err, &ierr):
		return http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "The response could not be recorded",
		}
	default:
		return http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "An unexpected error occurred",
		}
	}
}
