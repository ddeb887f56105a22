package subscription

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMutateRetries bounds how often a mutation is re-run after losing a
// version race.
const DefaultMutateRetries = 5

// Mutator applies read-modify-write changes with optimistic concurrency.
// Each attempt re-reads the record, applies fn to a copy and writes it only if
// nobody else wrote in between. fn must be a pure function of its argument:
// it may run more than once.
type Mutator struct {
	store   Store
	locker  Locker
	retries int
}

// NewMutator creates a Mutator. locker may be nil.
func NewMutator(store Store, locker Locker, retries int) *Mutator {
	if retries <= 0 {
		retries = DefaultMutateRetries
	}
	return &Mutator{store: store, locker: locker, retries: retries}
}

// Store returns the underlying store.
func (m *Mutator) Store() Store {
	return m.store
}

// Mutate applies fn to the user's subscription. If fn returns ErrUnchanged
// nothing is written and the current record is returned. Any other error
// from fn aborts without writing.
func (m *Mutator) Mutate(ctx context.Context, userID string, fn func(*Subscription) error) (*Subscription, error) {
	return m.Upsert(ctx, userID, nil, fn)
}

// Upsert is Mutate that starts from init() when the user has no
// subscription yet. A nil init makes a missing record an error.
func (m *Mutator) Upsert(ctx context.Context, userID string, init func() *Subscription, fn func(*Subscription) error) (*Subscription, error) {
	for range m.retries {
		s, err := m.attempt(ctx, userID, init, fn)
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrAlreadyExists) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return s, err
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrVersionConflict, m.retries)
}

func (m *Mutator) attempt(ctx context.Context, userID string, init func() *Subscription, fn func(*Subscription) error) (*Subscription, error) {
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, userID)
		if err != nil {
			return nil, Internal("lock subscription", err)
		}
		defer unlock()
	}

	current, err := m.store.Get(ctx, userID)
	insert := false
	switch {
	case errors.Is(err, ErrSubscriptionNotFound) && init != nil:
		current = init()
		insert = true
	case err != nil:
		return nil, err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrUnchanged) {
			if insert {
				// nothing to keep, but the caller still expects a record
				if err := m.store.Insert(ctx, current); err != nil {
					return nil, err
				}
			}
			return current, nil
		}
		return nil, err
	}

	if insert {
		err = m.store.Insert(ctx, next)
	} else {
		err = m.store.Update(ctx, next)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}
