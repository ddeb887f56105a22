// Package usage meters per-feature consumption against the limits snapshotted
// on a subscription.
//
// CanUse and Remaining are pure checks. Meter.Consume performs the
// check-and-increment as a single guarded update in the store, and
// Meter.Reset zeroes the counters at the start of a new period; the reset is
// triggered externally, e.g. by the billingctl reset-usage command.
package usage
