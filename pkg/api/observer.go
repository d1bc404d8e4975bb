package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay graph execution.
type Observer interface {
	// OnRunStart is called once when an invocation begins, before the first
	// superstep executes.
	OnRunStart(ctx context.Context, run *Run)

	// OnRunCompleted is called when an invocation reaches RunCompleted.
	OnRunCompleted(ctx context.Context, run *Run)

	// OnRunFailed is called when an invocation fails with a terminal error.
	OnRunFailed(ctx context.Context, run *Run, err error)

	// OnNodeStart is called before a node's task function executes.
	// superstep is the 0-based superstep index within the run.
	OnNodeStart(ctx context.Context, run *Run, node string, superstep int)

	// OnNodeCompleted is called after a node's task function returns, for
	// both successes and failures (err != nil).
	OnNodeCompleted(ctx context.Context, run *Run, node string, superstep int, err error, duration time.Duration)

	// OnRouteResolved is called after a routing node's router picks its
	// successors.
	OnRouteResolved(ctx context.Context, run *Run, node string, targets []string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *Run)                 {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run *Run)             {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *Run, err error)     {}
func (NoopObserver) OnNodeStart(ctx context.Context, run *Run, node string, superstep int) {
}
func (NoopObserver) OnNodeCompleted(ctx context.Context, run *Run, node string, superstep int, err error, d time.Duration) {
}
func (NoopObserver) OnRouteResolved(ctx context.Context, run *Run, node string, targets []string) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, run *Run, node string, superstep int) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, run, node, superstep)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, run *Run, node string, superstep int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, run, node, superstep, err, d)
	}
}

func (c *CompositeObserver) OnRouteResolved(ctx context.Context, run *Run, node string, targets []string) {
	for _, o := range c.observers {
		o.OnRouteResolved(ctx, run, node, targets)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / node lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("graph", run.Graph),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("graph", run.Graph),
		slog.String("run_id", run.ID),
		slog.Int("supersteps", run.Supersteps),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("graph", run.Graph),
		slog.String("run_id", run.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, run *Run, node string, superstep int) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("graph", run.Graph),
		slog.String("run_id", run.ID),
		slog.String("node", node),
		slog.Int("superstep", superstep),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, run *Run, node string, superstep int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_completed",
		slog.String("graph", run.Graph),
		slog.String("run_id", run.ID),
		slog.String("node", node),
		slog.Int("superstep", superstep),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRouteResolved(ctx context.Context, run *Run, node string, targets []string) {
	o.Logger.DebugContext(ctx, "route_resolved",
		slog.String("graph", run.Graph),
		slog.String("run_id", run.ID),
		slog.String("node", node),
		slog.Any("targets", targets),
	)
}

// BasicMetrics collects simple counters and aggregate node durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	nodesCompleted    atomic.Int64
	totalNodeDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsInFlight  int64

	NodesCompleted  int64
	AvgNodeDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *Run) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run *Run) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *Run, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, run *Run, node string, superstep int, err error, d time.Duration) {
	// Only count successful nodes for average duration.
	if err == nil {
		m.nodesCompleted.Add(1)
		m.totalNodeDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	nodes := m.nodesCompleted.Load()
	totalNs := m.totalNodeDuration.Load()

	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(totalNs / nodes)
	}

	return BasicMetricsSnapshot{
		RunsStarted:   started,
		RunsCompleted: completed,
		RunsFailed:    failed,
		RunsInFlight:  started - completed - failed,
		NodesCompleted:  nodes,
		AvgNodeDuration: avg,
	}
}
