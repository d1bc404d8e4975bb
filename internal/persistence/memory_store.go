package persistence

import (
	"context"
	"sync"

	"github.com/weftlabs/weft/pkg/api"
)

// InMemoryStore is a RunStore backed by process memory. It is non-durable
// and intended for tests and single-shot tooling.
type InMemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*api.Run
	order []string
	steps map[string][]StepRecord
}

var _ RunStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:  make(map[string]*api.Run),
		steps: make(map[string][]StepRecord),
	}
}

func (s *InMemoryStore) SaveRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *InMemoryStore) UpdateRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return ErrRunNotFound
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *InMemoryStore) AppendStep(ctx context.Context, runID string, superstep int, nodes []string, state api.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[runID] = append(s.steps[runID], StepRecord{
		RunID:     runID,
		Superstep: superstep,
		Nodes:     append([]string(nil), nodes...),
		State:     state.Clone(),
	})
	return nil
}

func (s *InMemoryStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return copyRun(run), nil
}

func (s *InMemoryStore) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*api.Run
	for _, id := range s.order {
		run := s.runs[id]
		if matchesFilter(run, filter) {
			out = append(out, copyRun(run))
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StepRecord(nil), s.steps[runID]...), nil
}

func copyRun(run *api.Run) *api.Run {
	out := *run
	if run.Final != nil {
		out.Final = run.Final.Clone()
	}
	return &out
}
