// Package subscription holds the Subscription entity of the billing engine,
// its error kinds and the persistence contracts every store implements.
//
// A user owns exactly one Subscription, created lazily on the free plan and
// never deleted. The entity snapshots the plan's FeatureSet at activation,
// keeps per-feature usage counters, an append-only invoice history and the
// charges still awaiting gateway confirmation.
//
// # Concurrency
//
// Writes go through Mutator, which re-reads the record, applies a pure
// mutation to a copy and writes it back with an optimistic version check,
// retrying a bounded number of times on ErrVersionConflict. An optional
// Locker serialises writers of the same user, locally (MemoryLocker) or
// across instances (see pkg/redis).
//
// Usage counters bypass Mutator: Store.IncrementUsage is a single guarded
// conditional update, so concurrent consumers can never push a counter over
// its limit.
//
// # Errors
//
// Every error wraps one kind: ErrValidation, ErrConflict, ErrPayment,
// ErrNotFound, ErrEntitlement or ErrInternal. Use errors.Is with the kind or
// the specific sentinel, errors.As with FeatureNotEntitledError,
// QuotaExceededError and PaymentError for structured details, or KindOf to
// classify.
//
// # Time
//
// Expiry is lazy. Settle moves ended trials and periods to expired when a
// record is read or mutated; sweeps persist the same transitions in bulk
// using DueAt, which Touch keeps current.
package subscription
