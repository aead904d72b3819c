package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// Security limits and configuration
const (
	// MaxTenantIDLength is the maximum length for tenant ids
	MaxTenantIDLength = 64

	// MaxTargetRefLength is the maximum length for a dispatch target reference
	MaxTargetRefLength = 255

	// MaxFieldValueLength is the maximum length of one submitted field value
	MaxFieldValueLength = 3000

	// MaxDispatchAttempts is the hard limit for dispatch attempts per instance
	MaxDispatchAttempts = 10

	// MaxConcurrency is the hard limit for concurrent tenant dispatches
	MaxConcurrency = 256

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// validIdentifier matches alphanumeric, hyphens, underscores, dots and colons
var validIdentifier = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.:]*$`)

// validTargetRef additionally allows the '#' and '@' prefixes of channel and user handles
var validTargetRef = regexp.MustCompile(`^[#@]?[a-zA-Z0-9][a-zA-Z0-9_\-\.:/@]*$`)

// ValidateTenantID validates a tenant id
func ValidateTenantID(id string) error {
	if id == "" || len(id) > MaxTenantIDLength || !validIdentifier.MatchString(id) {
		return &core.ConfigError{Field: "tenant_id", Reason: "must be 1-64 identifier characters"}
	}
	return nil
}

// ValidateTargetRef validates a user or channel reference
func ValidateTargetRef(ref string) error {
	if ref == "" {
		return &core.ConfigError{Field: "target_ref", Reason: "is required"}
	}
	if len(ref) > MaxTargetRefLength {
		return &core.ConfigError{Field: "target_ref", Reason: "is too long"}
	}
	if !validTargetRef.MatchString(ref) {
		return &core.ConfigError{Field: "target_ref", Reason: "contains invalid characters"}
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	return sanitize(msg, MaxErrorMessageLength)
}

// SanitizeFieldValue trims, strips control characters and truncates a submitted value
func SanitizeFieldValue(v string) string {
	return strings.TrimSpace(sanitize(v, MaxFieldValueLength))
}

func sanitize(msg string, limit int) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > limit {
		runes := []rune(result)
		result = string(runes[:limit-3]) + "..."
	}

	return result
}

// ClampAttempts ensures the dispatch attempt count is within limits
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxDispatchAttempts {
		return MaxDispatchAttempts
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
