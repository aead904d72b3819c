// Package recurrence computes fire times for job definitions.
//
// This package includes:
//   - Rule for the supported patterns: Daily() and Weekly(day)
//   - TimeOfDay for the local wall-clock time a definition fires at
//   - Schedule, which combines both with an IANA location
//   - NextFire(), the pure next-occurrence function used by the scheduler
//
// Fire times are anchored to local wall-clock time, not to a fixed UTC
// offset, so a 09:00 America/New_York schedule fires at 09:00 local time on
// both sides of a daylight-saving transition.
package recurrence
