// Package billing computes billing-cycle boundaries and prorated charges for
// plan changes.
//
// Billing dates use calendar arithmetic (one month, one year). Proration uses
// fixed 30 and 365 day cycles, so an upgrade made halfway through February is
// priced as if 15 of 30 days had elapsed. All functions are pure.
package billing
