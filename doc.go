// Package weft provides a typed state-graph orchestration engine for Go.
//
// Weft executes a directed graph of named tasks over a shared, schema-typed
// state. Edges can be static or computed at runtime, several nodes can fire
// concurrently from one predecessor, and concurrent results are merged back
// deterministically. It runs fully in-process and integrates cleanly into
// existing codebases.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. GraphBuilder
//  3. TaskFunc
//  4. RouterFunc
//  5. RefineLoop
//
// # Engine
//
// The Engine compiles graph definitions into immutable, executable graphs
// and records their runs. Compilation is the expensive step: node and edge
// wiring is validated once (undeclared router targets, unreachable nodes,
// unguarded cycles all fail compilation), then the compiled graph is invoked
// per input.
//
// Engines can record runs into different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// A compiled graph is safe to share across concurrent invocations; every
// invocation gets its own state instance.
//
// # State
//
// State is a bag of fields declared in a per-graph schema. Each field
// carries a merge policy: Overwrite (a later write replaces the value) or
// Accumulate (writes combine by ordered concatenation, so concurrent
// branches can each append without clobbering one another). Task functions
// return partial updates; the engine merges them in declared edge order, so
// results are reproducible regardless of goroutine scheduling.
//
// # GraphBuilder
//
// GraphBuilder provides the declarative API used to define graphs:
//
//	def := weft.NewGraph("publish").
//	    Field("draft", weft.Overwrite).
//	    Field("reviews", weft.Accumulate).
//	    Node("write", writeDraft).
//	    Node("review", reviewDraft).
//	    StartAt("write").
//	    Edge("write", "review").
//	    Edge("review", weft.End).
//	    Definition()
//
//	graph, err := engine.Compile(def)
//	final, err := graph.Invoke(ctx, weft.State{"draft": ""})
//
// Routing nodes use Route (or RouteGuarded for bounded cycles) with a
// router function that picks one or more declared successors from the
// post-update state. Returning several names fans out to concurrent
// branches; a node with several predecessors waits for all of them (join).
//
// # RefineLoop
//
// RefineLoop is a reusable generate/critique/accept pattern bounded by
// a retry ceiling. A generation task produces an artifact, an injected
// Critic reviews it, and a guarded router either accepts or loops back with
// the accumulated critique as extra generation context. If the critic
// cannot produce a verdict at all, the loop accepts the current attempt
// rather than looping blind (fail-open).
//
// # Observability
//
// An Observer receives run and node lifecycle events. LoggingObserver logs
// through log/slog, BasicMetrics keeps atomic counters, and
// CompositeObserver fans out to several observers at once. InvokeStream
// yields the merged state after every superstep for callers that want
// progress visibility.
package weft
