package persistence

import (
	"context"
	"errors"

	"github.com/weftlabs/weft/pkg/api"
)

// ErrRunNotFound is returned by GetRun when no run exists with the given ID.
var ErrRunNotFound = errors.New("run not found")

// StepRecord is one persisted superstep: which nodes executed and the merged
// state after their updates were applied.
type StepRecord struct {
	RunID     string
	Superstep int
	Nodes     []string
	State     api.State
}

// RunStore persists run records and per-superstep snapshots.
//
// Implementations must be safe for concurrent use; the engine shares one
// store across concurrent invocations.
type RunStore interface {
	// SaveRun persists a new run record.
	SaveRun(ctx context.Context, run *api.Run) error

	// UpdateRun replaces the stored record for run.ID.
	UpdateRun(ctx context.Context, run *api.Run) error

	// AppendStep records the merged state after one superstep.
	AppendStep(ctx context.Context, runID string, superstep int, nodes []string, state api.State) error

	// GetRun looks up a run by ID. Returns ErrRunNotFound if absent.
	GetRun(ctx context.Context, id string) (*api.Run, error)

	// ListRuns returns runs matching the filter, oldest first.
	ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.Run, error)

	// ListSteps returns a run's recorded supersteps in order.
	ListSteps(ctx context.Context, runID string) ([]StepRecord, error)
}

func matchesFilter(run *api.Run, filter api.RunFilter) bool {
	if filter.Graph != "" && run.Graph != filter.Graph {
		return false
	}
	if filter.Status != "" && run.Status != filter.Status {
		return false
	}
	return true
}
