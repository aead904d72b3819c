// Package core provides the fundamental types and interfaces for vibecheck.
//
// This package contains:
//   - Tenant, JobDefinition, JobInstance and ResponseRecord data models with GORM annotations
//   - the instance status machine
//   - Store, Clock, Dispatcher, TenantRegistry and Notifier contracts
//   - the error taxonomy shared by every component
//
// Most users should import the root package github.com/bonesco/vibe-checker
// instead of this package directly.
package core
