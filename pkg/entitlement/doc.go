// Package entitlement answers whether a user may use a feature right now.
//
// Checker.Validate loads the user's subscription, creating a free one on
// first contact, and evaluates it in order: the subscription must be usable,
// the plan must grant the feature and the requested units must fit in the
// remaining quota. Each failure is a distinct error type carrying what the
// caller needs to act on it: the recommended plan, the quota and its reset
// date.
package entitlement
