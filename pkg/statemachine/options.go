package statemachine

import (
	"fmt"
)

// Option configures a transition table during construction.
type Option[S comparable] func(*Table[S]) error

// TransitionOption configures a single transition.
type TransitionOption[S comparable] func(*transitionConfig[S])

type transitionConfig[S comparable] struct {
	guards []Guard[S]
}

// New builds a transition table from the given options.
func New[S comparable](opts ...Option[S]) (*Table[S], error) {
	t := &Table[S]{
		edges: make(map[S]map[S][]Guard[S]),
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// MustNew is like New but panics when an option fails to apply.
func MustNew[S comparable](opts ...Option[S]) *Table[S] {
	t, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create transition table: %v", err))
	}
	return t
}

// WithTransition adds a single edge.
func WithTransition[S comparable](from, to S, opts ...TransitionOption[S]) Option[S] {
	return func(t *Table[S]) error {
		cfg := &transitionConfig[S]{}
		for _, opt := range opts {
			opt(cfg)
		}
		return t.addTransition(from, to, cfg.guards)
	}
}

// WithFanIn adds an edge from each of the given sources to one target.
func WithFanIn[S comparable](to S, from ...S) Option[S] {
	return func(t *Table[S]) error {
		for _, src := range from {
			if err := t.addTransition(src, to, nil); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithTransitions adds multiple transitions at once.
func WithTransitions[S comparable](transitions []Transition[S]) Option[S] {
	return func(t *Table[S]) error {
		for i, tr := range transitions {
			if err := t.addTransition(tr.From, tr.To, tr.Guards); err != nil {
				return fmt.Errorf("failed to add transition[%d]: %w", i, err)
			}
		}
		return nil
	}
}

// WithGuard adds a guard to a transition.
func WithGuard[S comparable](guard Guard[S]) TransitionOption[S] {
	return func(cfg *transitionConfig[S]) {
		if guard != nil {
			cfg.guards = append(cfg.guards, guard)
		}
	}
}
