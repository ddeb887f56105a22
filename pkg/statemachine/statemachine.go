package statemachine

import (
	"context"
	"errors"
)

// Guard vetoes a transition by returning an error. The error is reported to
// the caller inside TransitionRejectedError.
type Guard[S, E comparable, D any] func(ctx context.Context, from S, event E, data D) error

// Transition defines a state change triggered by an event.
type Transition[S, E comparable, D any] struct {
	From   S
	To     S
	Event  E
	Guards []Guard[S, E, D] // all must pass
}

// Table is an immutable set of transitions. It holds no current state: the
// caller passes the state it loaded, which makes one Table usable for any
// number of records and safe for concurrent use.
type Table[S, E comparable, D any] struct {
	// [from][event] -> candidates in registration order
	transitions map[S]map[E][]Transition[S, E, D]
}

// Resolve returns the target state for event fired from state from.
// Candidates are tried in registration order and the first one whose guards
// all pass wins. Returns NoTransitionError when nothing is registered and
// TransitionRejectedError, wrapping the first guard error, when every
// candidate was vetoed.
func (t *Table[S, E, D]) Resolve(ctx context.Context, from S, event E, data D) (S, error) {
	candidates := t.transitions[from][event]
	if len(candidates) == 0 {
		var zero S
		return zero, newNoTransitionError(from, event)
	}

	var firstErr error
	for _, tr := range candidates {
		err := runGuards(ctx, tr, data)
		if err == nil {
			return tr.To, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	var zero S
	return zero, newTransitionRejectedError(from, event, firstErr)
}

// Can reports whether Resolve would succeed.
func (t *Table[S, E, D]) Can(ctx context.Context, from S, event E, data D) bool {
	_, err := t.Resolve(ctx, from, event, data)
	return err == nil
}

// Events returns the events registered for state from, guards not evaluated.
func (t *Table[S, E, D]) Events(from S) []E {
	events := make([]E, 0, len(t.transitions[from]))
	for ev := range t.transitions[from] {
		events = append(events, ev)
	}
	return events
}

func (t *Table[S, E, D]) add(tr Transition[S, E, D]) {
	if t.transitions[tr.From] == nil {
		t.transitions[tr.From] = make(map[E][]Transition[S, E, D])
	}
	t.transitions[tr.From][tr.Event] = append(t.transitions[tr.From][tr.Event], tr)
}

func runGuards[S, E comparable, D any](ctx context.Context, tr Transition[S, E, D], data D) error {
	for _, guard := range tr.Guards {
		if guard == nil {
			continue
		}
		if err := guard(ctx, tr.From, tr.Event, data); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrCancelled, err)
	}
	return nil
}
