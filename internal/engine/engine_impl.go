package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/persistence"
	"github.com/weftlabs/weft/pkg/api"
)

const defaultMaxSupersteps = 1000

// engineImpl is a synchronous, in-process engine implementation.
type engineImpl struct {
	store          persistence.RunStore
	observer       api.Observer
	maxConcurrency int
	maxSupersteps  int
}

var _ api.Engine = (*engineImpl)(nil)

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	// Store records runs and per-superstep snapshots. Nil disables
	// recording (GetRun / ListRuns then fail).
	Store persistence.RunStore

	// Observer receives run and node lifecycle events.
	Observer api.Observer

	// MaxConcurrency caps the number of frontier nodes executing at once.
	// Zero means one worker per frontier node.
	MaxConcurrency int

	// MaxSupersteps bounds a single invocation. Zero means the default.
	MaxSupersteps int
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	maxSteps := cfg.MaxSupersteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSupersteps
	}
	return &engineImpl{
		store:          cfg.Store,
		observer:       obs,
		maxConcurrency: cfg.MaxConcurrency,
		maxSupersteps:  maxSteps,
	}
}

// NewInMemoryEngine returns an Engine that records runs in memory.
func NewInMemoryEngine() api.Engine {
	return NewEngineWithConfig(Config{Store: persistence.NewInMemoryStore()})
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{Store: persistence.NewInMemoryStore(), Observer: obs})
}

func (e *engineImpl) Compile(def api.GraphDefinition) (api.Graph, error) {
	return e.compile(def)
}

func (e *engineImpl) GetRun(ctx context.Context, id string) (*api.Run, error) {
	if e.store == nil {
		return nil, errors.New("engine has no run store configured")
	}
	run, err := e.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrRunNotFound) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}
	return run, nil
}

func (e *engineImpl) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.Run, error) {
	if e.store == nil {
		return nil, errors.New("engine has no run store configured")
	}
	return e.store.ListRuns(ctx, filter)
}

// Invoke runs the compiled graph to completion. The whole call fails
// atomically: on any fatal error no partial state is returned, and the run
// record carries the first fatal cause.
func (g *compiledGraph) Invoke(ctx context.Context, initial api.State) (api.State, error) {
	return g.invoke(ctx, initial, nil)
}

// InvokeStream runs the graph and emits a snapshot after every superstep.
func (g *compiledGraph) InvokeStream(ctx context.Context, initial api.State) (<-chan api.Snapshot, api.WaitFunc) {
	snapshots := make(chan api.Snapshot)
	type outcome struct {
		final api.State
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer close(snapshots)
		final, err := g.invoke(ctx, initial, snapshots)
		done <- outcome{final: final, err: err}
	}()

	return snapshots, func() (api.State, error) {
		out := <-done
		return out.final, out.err
	}
}

func (g *compiledGraph) invoke(ctx context.Context, initial api.State, stream chan<- api.Snapshot) (api.State, error) {
	run := &api.Run{
		ID:     uuid.NewString(),
		Graph:  g.name,
		Status: api.RunRunning,
	}
	g.eng.observer.OnRunStart(ctx, run)

	if g.eng.store != nil {
		if err := g.eng.store.SaveRun(ctx, run); err != nil {
			return g.failRun(ctx, run, err)
		}
	}

	final, err := g.execute(ctx, run, initial, stream)
	if err != nil {
		return g.failRun(ctx, run, err)
	}

	run.Status = api.RunCompleted
	run.Final = final
	if g.eng.store != nil {
		if err := g.eng.store.UpdateRun(ctx, run); err != nil {
			return g.failRun(ctx, run, err)
		}
	}
	g.eng.observer.OnRunCompleted(ctx, run)
	return final, nil
}

func (g *compiledGraph) failRun(ctx context.Context, run *api.Run, cause error) (api.State, error) {
	run.Status = api.RunFailed
	run.Err = cause
	run.Final = nil
	if g.eng.store != nil {
		// Best effort: the caller gets the original cause either way.
		_ = g.eng.store.UpdateRun(ctx, run)
	}
	g.eng.observer.OnRunFailed(ctx, run, cause)
	return nil, cause
}
