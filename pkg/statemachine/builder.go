package statemachine

import "fmt"

// Builder provides a fluent API for building a Table.
//
//	b := statemachine.NewBuilder[Status, Event, *Order]()
//	b.From(Draft, Held).When(Submit).To(Submitted).Guard(hasItems).Add()
//	table, err := b.Build()
type Builder[S, E comparable, D any] struct {
	table *Table[S, E, D]
	from  []S
	event E
	to    S
	hasTo bool
	hasEv bool
	guard []Guard[S, E, D]
	err   error
}

// NewBuilder creates an empty builder.
func NewBuilder[S, E comparable, D any]() *Builder[S, E, D] {
	return &Builder[S, E, D]{
		table: &Table[S, E, D]{transitions: make(map[S]map[E][]Transition[S, E, D])},
	}
}

// From starts a transition definition. Several states may share it.
func (b *Builder[S, E, D]) From(states ...S) *Builder[S, E, D] {
	b.reset()
	b.from = states
	return b
}

// When sets the triggering event.
func (b *Builder[S, E, D]) When(event E) *Builder[S, E, D] {
	b.event, b.hasEv = event, true
	return b
}

// To sets the target state.
func (b *Builder[S, E, D]) To(state S) *Builder[S, E, D] {
	b.to, b.hasTo = state, true
	return b
}

// Guard appends guards to the current definition. Nil guards are skipped.
func (b *Builder[S, E, D]) Guard(guards ...Guard[S, E, D]) *Builder[S, E, D] {
	for _, g := range guards {
		if g != nil {
			b.guard = append(b.guard, g)
		}
	}
	return b
}

// Add registers the current definition once per source state. The first
// incomplete definition is reported by Build.
func (b *Builder[S, E, D]) Add() *Builder[S, E, D] {
	if b.err == nil {
		if len(b.from) == 0 || !b.hasEv || !b.hasTo {
			b.err = fmt.Errorf("%w: from=%v event=%v to=%v", ErrIncompleteTransition, b.from, b.event, b.to)
		} else {
			for _, from := range b.from {
				b.table.add(Transition[S, E, D]{
					From:   from,
					To:     b.to,
					Event:  b.event,
					Guards: append([]Guard[S, E, D](nil), b.guard...),
				})
			}
		}
	}
	b.reset()
	return b
}

// Build returns the table, or the first definition error.
func (b *Builder[S, E, D]) Build() (*Table[S, E, D], error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.table, nil
}

// MustBuild is like Build but panics on an invalid definition.
func (b *Builder[S, E, D]) MustBuild() *Table[S, E, D] {
	t, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build state machine: %v", err))
	}
	return t
}

func (b *Builder[S, E, D]) reset() {
	var (
		zeroS S
		zeroE E
	)
	b.from, b.event, b.to, b.guard = nil, zeroE, zeroS, nil
	b.hasEv, b.hasTo = false, false
}
