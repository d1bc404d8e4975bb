package api

import (
	"context"
)

// Reserved node names marking graph entry and exit. Edges from Start define
// the entry frontier; edges to End terminate a path.
const (
	Start = "__start__"
	End   = "__end__"
)

// TaskFunc is a node's unit of work: a function of the current state that
// returns a partial state update containing only the fields it wrote.
//
// Task functions must be pure with respect to the state (read via the state
// argument, write via the returned update) and safely re-invocable: the
// refinement loop calls the same generation task repeatedly. They may block
// on external calls; the engine never holds a lock across an execution.
type TaskFunc func(ctx context.Context, s State) (State, error)

// RouterFunc computes the successor set of a routing node from the state
// observed after the node's own update has been merged. Returning more than
// one name fans out to concurrent branches. Every returned name must appear
// in the edge's declared target set; anything else is a RoutingError.
type RouterFunc func(s State) []string

// PredicateFunc evaluates a boolean condition over the state. Used by
// builder conveniences that wrap a two-way RouterFunc.
type PredicateFunc func(s State) bool

// NodeDefinition declares a named unit of work.
type NodeDefinition struct {
	Name string
	Task TaskFunc
}

// EdgeDefinition declares a static edge. Successor activation order follows
// edge declaration order.
type EdgeDefinition struct {
	From string
	To   string
}

// LoopGuard bounds a conditional edge that closes a cycle. The counter field
// must be declared Overwrite in the schema and be incremented by a node
// inside the cycle; Limit is the retry ceiling the router enforces. The
// compiler rejects back-edges whose conditional edge carries no guard.
type LoopGuard struct {
	CounterField string
	Limit        int
}

// ConditionalEdge declares a computed edge: after From's update is merged,
// Router picks one or more of the declared Targets. Targets maps the
// router's symbolic return values to node names.
type ConditionalEdge struct {
	From    string
	Router  RouterFunc
	Targets map[string]string
	Guard   *LoopGuard
}

// GraphDefinition is the declarative description handed to Engine.Compile.
// Definitions are plain data; all validation happens at compile time.
type GraphDefinition struct {
	Name         string
	Schema       *Schema
	Nodes        []NodeDefinition
	Edges        []EdgeDefinition
	Conditionals []ConditionalEdge
}

// Snapshot is one element of a streamed invocation: the merged state after a
// superstep, with the names of the nodes that executed in it.
type Snapshot struct {
	Superstep int
	Nodes     []string
	State     State
}

// Graph is a compiled, immutable workflow. It is safe to share across
// concurrent invocations; each Invoke gets its own state instance.
type Graph interface {
	// Name returns the graph's name.
	Name() string

	// Invoke runs the graph against an initial state and returns the final
	// state, or the first fatal error. A failed invocation returns no
	// partial state.
	Invoke(ctx context.Context, initial State) (State, error)

	// InvokeStream runs the graph and emits a Snapshot after every
	// superstep. The channel is closed when the run finishes; the final
	// state and error are then available from the returned WaitFunc.
	InvokeStream(ctx context.Context, initial State) (<-chan Snapshot, WaitFunc)
}

// WaitFunc blocks until a streamed invocation finishes and returns its final
// state and error. It must not be called before the snapshot channel is
// drained or abandoned.
type WaitFunc func() (State, error)

// Engine compiles graph definitions and tracks their runs.
type Engine interface {
	// Compile validates a definition and freezes it into an executable
	// Graph. Compilation is the expensive step; compile once, invoke per
	// input.
	Compile(def GraphDefinition) (Graph, error)

	// GetRun looks up a recorded run by ID. Only available when the engine
	// was constructed with a run store.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns recorded runs matching the filter.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
}
