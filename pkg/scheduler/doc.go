// Package scheduler turns active job definitions into dispatched instances.
//
// Each tick computes the due slot of every active definition, claims it
// through the store's unique (definition, slot) index and sends the prompt
// with bounded retries. Any number of replicas may tick concurrently; the
// claim decides which one dispatches.
package scheduler
