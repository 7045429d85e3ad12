// Package statemachine provides a generic transition table for finite-state
// models whose current state lives on a persisted record rather than in
// memory.
//
// A Table answers one question: may a record move from state A to state B?
// Edges are declared once at construction with functional options and the
// table is read-only afterwards, so a single table can be shared by any
// number of goroutines.
//
// # Usage
//
//	type Status string
//
//	const (
//	    Draft     Status = "draft"
//	    Published Status = "published"
//	    Archived  Status = "archived"
//	)
//
//	table := statemachine.MustNew(
//	    statemachine.WithTransition(Draft, Published),
//	    statemachine.WithFanIn(Archived, Draft, Published),
//	)
//
//	if err := table.Validate(ctx, doc.Status, Archived, nil); err != nil {
//	    return err
//	}
//
// Self transitions cannot be declared. Callers treat "target equals current"
// as a no-op before consulting the table.
//
// # Error Handling
//
// Validate returns a *TransitionError that wraps ErrNoTransitionAvailable
// when the edge is not declared and ErrTransitionRejected when a guard
// vetoed it:
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* ... */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* ... */ }
package statemachine
