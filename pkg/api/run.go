package api

// RunStatus is the lifecycle state of one graph invocation.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Run is the record of one graph invocation. When the engine is constructed
// with a run store, a Run is persisted when Invoke starts, a step record is
// appended after every superstep merge, and the Run is updated on
// completion or failure.
type Run struct {
	ID        string
	Graph     string
	Status    RunStatus
	Supersteps int

	// Final holds the merged final state for completed runs; nil otherwise.
	Final State

	// Err holds the terminal error for failed runs; nil otherwise.
	Err error
}

// RunFilter selects runs for Engine.ListRuns. Zero-valued fields match
// everything.
type RunFilter struct {
	Graph  string
	Status RunStatus
}
