// Package statemachine provides immutable, generic transition tables.
//
// A Table maps (state, event) pairs to target states, with optional guards
// that veto a transition by returning an error. Tables hold no current
// state: callers resolve a transition against a state they loaded, e.g. the
// status of a persisted record, and then write the result themselves. One
// Table therefore serves any number of records concurrently.
//
// # Usage
//
//	type Status string
//	type Event string
//
//	table := statemachine.NewBuilder[Status, Event, *Order]().
//		From("draft", "held").When("submit").To("submitted").Guard(hasItems).Add().
//		From("submitted").When("approve").To("approved").Add().
//		MustBuild()
//
//	next, err := table.Resolve(ctx, order.Status, "submit", order)
//
// # Guards
//
// Guards receive the source state, the event and caller data. Candidates for
// the same state and event are tried in registration order and the first one
// whose guards all pass wins:
//
//	hasItems := func(ctx context.Context, from Status, ev Event, o *Order) error {
//		if len(o.Items) == 0 {
//			return ErrEmptyOrder
//		}
//		return nil
//	}
//
// # Error Handling
//
// Resolve returns *NoTransitionError when the pair is not registered and
// *TransitionRejectedError when guards vetoed every candidate. The latter
// unwraps to the first guard error, so errors.Is works against the caller's
// own sentinels:
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* ... */ }
//	if errors.Is(err, ErrEmptyOrder) { /* ... */ }
package statemachine
