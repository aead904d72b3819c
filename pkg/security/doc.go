// Package security provides validation, sanitization, and limits for vibecheck.
//
// This package includes:
//   - Input validation for tenant ids, target references and user ids
//   - Error message and field value sanitization before storage
//   - Clamping functions to enforce safe limits on attempts and concurrency
//
// Most users should import the root package github.com/bonesco/vibe-checker
// which re-exports these functions.
package security
