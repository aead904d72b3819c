// Package dispatch provides Dispatcher and Notifier implementations.
//
// Webhook posts each message as JSON to an HTTP endpoint that owns the
// actual chat transport. TenantLimiter wraps any Dispatcher so sends for one
// tenant are serialized and rate limited. AdminNotifier turns dispatch
// failures into alert messages for tenant admins, and Reporter posts
// feedback summaries to a tenant's report channel.
package dispatch
