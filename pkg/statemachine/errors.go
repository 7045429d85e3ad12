package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrNoTransitionAvailable = errors.New("no transition available")
	ErrTransitionRejected    = errors.New("transition rejected by guards")
	ErrSelfTransition        = errors.New("self transitions are implicit no-ops and cannot be declared")
	ErrDuplicateTransition   = errors.New("transition already declared")
)

// TransitionError describes a rejected or undeclared move between two states.
type TransitionError struct {
	From   string
	To     string
	Reason error
}

func newTransitionError[S comparable](from, to S, reason error) *TransitionError {
	return &TransitionError{
		From:   fmt.Sprint(from),
		To:     fmt.Sprint(to),
		Reason: reason,
	}
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition from '%s' to '%s': %v", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return e.Reason
}

func IsNoTransitionAvailableError(err error) bool {
	return errors.Is(err, ErrNoTransitionAvailable)
}

func IsTransitionRejectedError(err error) bool {
	return errors.Is(err, ErrTransitionRejected)
}
