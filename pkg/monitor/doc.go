// Package monitor follows up on dispatched instances.
//
// Each scan expires instances left unanswered past the expiry window,
// sends at most one reminder per instance after the reminder delay, fails
// pending instances whose dispatch was interrupted, and purges old
// terminal instances when a retention period is configured.
package monitor
