package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrIncompleteTransition = errors.New("transition needs a source state, an event and a target state")
	ErrCancelled            = errors.New("transition evaluation cancelled")
)

// NoTransitionError indicates no transition is registered for the
// state/event combination.
type NoTransitionError struct {
	StateName string
	EventName string
}

func (e *NoTransitionError) Error() string {
	return fmt.Sprintf("no transition available from state '%s' for event '%s'", e.StateName, e.EventName)
}

func newNoTransitionError(state, event any) *NoTransitionError {
	return &NoTransitionError{StateName: fmt.Sprint(state), EventName: fmt.Sprint(event)}
}

// TransitionRejectedError indicates every candidate transition was vetoed.
// Err is the first guard's error.
type TransitionRejectedError struct {
	StateName string
	EventName string
	Err       error
}

func (e *TransitionRejectedError) Error() string {
	return fmt.Sprintf("transition from state '%s' for event '%s' was rejected: %v", e.StateName, e.EventName, e.Err)
}

func (e *TransitionRejectedError) Unwrap() error {
	return e.Err
}

func newTransitionRejectedError(state, event any, err error) *TransitionRejectedError {
	return &TransitionRejectedError{StateName: fmt.Sprint(state), EventName: fmt.Sprint(event), Err: err}
}

func IsNoTransitionAvailableError(err error) bool {
	var e *NoTransitionError
	return errors.As(err, &e)
}

func IsTransitionRejectedError(err error) bool {
	var e *TransitionRejectedError
	return errors.As(err, &e)
}
