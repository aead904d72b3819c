// Package correlator matches inbound submissions to dispatched instances.
//
// A submission is resolved by correlation key, validated in one pass
// against the schema of the instance's kind, and recorded together with
// the instance's transition to completed. Late, duplicate and forged
// submissions are rejected without touching stored state.
package correlator
