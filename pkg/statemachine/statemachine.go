package statemachine

import (
	"context"
)

// Guard evaluates whether a transition should be allowed based on runtime conditions.
type Guard[S comparable] func(ctx context.Context, from, to S, data any) bool

// Transition defines an allowed edge between two states, with optional guards.
type Transition[S comparable] struct {
	From   S
	To     S
	Guards []Guard[S] // All must pass for transition to proceed
}

// Table is an immutable set of allowed transitions. It holds no current state:
// callers keep the state on their own records and ask the table whether a
// move is legal.
type Table[S comparable] struct {
	edges  map[S]map[S][]Guard[S]
	states []S
}

// CanTransition reports whether an edge from -> to is defined and all of its
// guards pass.
func (t *Table[S]) CanTransition(ctx context.Context, from, to S, data any) bool {
	return t.Validate(ctx, from, to, data) == nil
}

// Validate returns nil when the move is allowed. Otherwise it returns a
// *TransitionError describing why.
func (t *Table[S]) Validate(ctx context.Context, from, to S, data any) error {
	targets, ok := t.edges[from]
	if !ok {
		return newTransitionError(from, to, ErrNoTransitionAvailable)
	}
	guards, ok := targets[to]
	if !ok {
		return newTransitionError(from, to, ErrNoTransitionAvailable)
	}
	for _, guard := range guards {
		if guard != nil && !guard(ctx, from, to, data) {
			return newTransitionError(from, to, ErrTransitionRejected)
		}
	}
	return nil
}

// Targets returns every state reachable from the given one, in declaration order.
func (t *Table[S]) Targets(from S) []S {
	var out []S
	for _, s := range t.states {
		if _, ok := t.edges[from][s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// States returns every state that appears in the table, in declaration order.
func (t *Table[S]) States() []S {
	out := make([]S, len(t.states))
	copy(out, t.states)
	return out
}

// Terminal reports whether no transition leaves the state.
func (t *Table[S]) Terminal(s S) bool {
	return len(t.edges[s]) == 0
}

func (t *Table[S]) addTransition(from, to S, guards []Guard[S]) error {
	if from == to {
		return newTransitionError(from, to, ErrSelfTransition)
	}
	if _, ok := t.edges[from]; !ok {
		t.edges[from] = make(map[S][]Guard[S])
	}
	if _, exists := t.edges[from][to]; exists {
		return newTransitionError(from, to, ErrDuplicateTransition)
	}
	t.edges[from][to] = guards
	t.remember(from)
	t.remember(to)
	return nil
}

func (t *Table[S]) remember(s S) {
	for _, known := range t.states {
		if known == s {
			return
		}
	}
	t.states = append(t.states, s)
}
