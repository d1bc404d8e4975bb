package api

import (
	"errors"
	"fmt"
)

// ErrCriticUnavailable reports that a critic could not produce a verdict at
// all (as opposed to producing a verdict with errors). The refinement loop
// handles it locally with its fail-open policy; it is not surfaced as a
// top-level failure.
var ErrCriticUnavailable = errors.New("critic unavailable")

// ErrSuperstepLimit is returned by Invoke when a run exceeds the engine's
// superstep ceiling. Compiled graphs reject unguarded cycles, so hitting
// this limit means a guarded router never routed away from its cycle.
var ErrSuperstepLimit = errors.New("superstep limit exceeded")

// StructuralError reports a malformed graph at compile time: a router target
// that is not a declared node, a node unreachable from the start marker, a
// missing start edge, or a cycle without a counter guard. Structural errors
// are fatal and never retried.
type StructuralError struct {
	Graph string
	Node  string
	Msg   string
}

func (e *StructuralError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("graph %q: node %q: %s", e.Graph, e.Node, e.Msg)
	}
	return fmt.Sprintf("graph %q: %s", e.Graph, e.Msg)
}

// TaskError reports that a node's task function failed. The engine recovers
// nothing on behalf of task functions; the error propagates to the caller of
// Invoke and the run fails atomically.
type TaskError struct {
	Node string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("node %q: task failed: %v", e.Node, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// RoutingError reports that a router returned a target outside its declared
// target set, or no target at all. It indicates a programming defect and is
// surfaced immediately.
type RoutingError struct {
	Node   string
	Target string
}

func (e *RoutingError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("node %q: router returned no targets", e.Node)
	}
	return fmt.Sprintf("node %q: router returned undeclared target %q", e.Node, e.Target)
}

// MissingFieldError reports a read of a state field that no ancestor in the
// graph wrote and that was not supplied in the initial state. Missing fields
// are never silently defaulted.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("state field %q was never written", e.Field)
}
