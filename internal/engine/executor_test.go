package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/persistence"
	"github.com/weftlabs/weft/pkg/api"
)

func write(field string, value any) api.TaskFunc {
	return func(ctx context.Context, s api.State) (api.State, error) {
		return api.State{field: value}, nil
	}
}

func appendLog(name string, delay time.Duration) api.TaskFunc {
	return func(ctx context.Context, s api.State) (api.State, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		return api.State{"log": []string{name}}, nil
	}
}

func TestInvoke_Linear(t *testing.T) {
	schema := api.NewSchema().
		Field("in", api.Overwrite).
		Field("out", api.Overwrite)

	def := api.GraphDefinition{
		Name:   "linear",
		Schema: schema,
		Nodes: []api.NodeDefinition{
			{Name: "double", Task: func(ctx context.Context, s api.State) (api.State, error) {
				n, err := api.Get[int](s, "in")
				if err != nil {
					return nil, err
				}
				return api.State{"out": n * 2}, nil
			}},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "double"},
			{From: "double", To: api.End},
		},
	}

	g, err := testEngine().Compile(def)
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), api.State{"in": 21})
	require.NoError(t, err)
	require.Equal(t, 42, final["out"])
}

func TestInvoke_UndeclaredInitialField(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "initial",
		Schema: api.NewSchema(),
		Nodes:  []api.NodeDefinition{{Name: "a", Task: noopTask}},
		Edges:  []api.EdgeDefinition{{From: api.Start, To: "a"}},
	}
	g, err := testEngine().Compile(def)
	require.NoError(t, err)

	_, err = g.Invoke(context.Background(), api.State{"surprise": 1})
	var structural *api.StructuralError
	require.ErrorAs(t, err, &structural)
}

// fanOutDef builds start -> {a, b, c} -> join, with per-branch delays chosen
// so completion order is the reverse of declaration order.
func fanOutDef(t *testing.T) api.GraphDefinition {
	t.Helper()
	schema := api.NewSchema().Field("log", api.Accumulate)
	return api.GraphDefinition{
		Name:   "fan-out",
		Schema: schema,
		Nodes: []api.NodeDefinition{
			{Name: "a", Task: appendLog("a", 30*time.Millisecond)},
			{Name: "b", Task: appendLog("b", 10*time.Millisecond)},
			{Name: "c", Task: appendLog("c", 0)},
			{Name: "join", Task: appendLog("join", 0)},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "a"},
			{From: api.Start, To: "b"},
			{From: api.Start, To: "c"},
			{From: "a", To: "join"},
			{From: "b", To: "join"},
			{From: "c", To: "join"},
			{From: "join", To: api.End},
		},
	}
}

func TestInvoke_DeterministicMergeOrder(t *testing.T) {
	g, err := testEngine().Compile(fanOutDef(t))
	require.NoError(t, err)

	// The slowest branch is declared first. Merge order must follow
	// declaration, not completion, on every run.
	for i := 0; i < 10; i++ {
		final, err := g.Invoke(context.Background(), api.State{})
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c", "join"}, final["log"], "run %d", i)
	}
}

func TestInvoke_JoinWaitsForSlowBranch(t *testing.T) {
	schema := api.NewSchema().
		Field("fast", api.Overwrite).
		Field("slow", api.Overwrite).
		Field("both", api.Overwrite)

	def := api.GraphDefinition{
		Name:   "join",
		Schema: schema,
		Nodes: []api.NodeDefinition{
			{Name: "fast", Task: write("fast", "f")},
			{Name: "slow", Task: func(ctx context.Context, s api.State) (api.State, error) {
				time.Sleep(50 * time.Millisecond)
				return api.State{"slow": "s"}, nil
			}},
			{Name: "merge", Task: func(ctx context.Context, s api.State) (api.State, error) {
				fast, err := api.Get[string](s, "fast")
				if err != nil {
					return nil, err
				}
				slow, err := api.Get[string](s, "slow")
				if err != nil {
					return nil, err
				}
				return api.State{"both": fast + slow}, nil
			}},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "fast"},
			{From: api.Start, To: "slow"},
			{From: "fast", To: "merge"},
			{From: "slow", To: "merge"},
			{From: "merge", To: api.End},
		},
	}

	g, err := testEngine().Compile(def)
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), api.State{})
	require.NoError(t, err)
	require.Equal(t, "fs", final["both"], "join must observe both contributions")
}

// A join must also wait for predecessors that are not pending yet but still
// reachable from a pending node.
func TestInvoke_JoinWaitsForDownstreamPredecessor(t *testing.T) {
	schema := api.NewSchema().Field("log", api.Accumulate)
	def := api.GraphDefinition{
		Name:   "diamond",
		Schema: schema,
		Nodes: []api.NodeDefinition{
			{Name: "a", Task: appendLog("a", 0)},
			{Name: "b", Task: appendLog("b", 0)},
			{Name: "c", Task: appendLog("c", 0)},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "a"},
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "c"},
			{From: "c", To: api.End},
		},
	}

	g, err := testEngine().Compile(def)
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), api.State{})
	require.NoError(t, err)
	// c runs once, after b, never before.
	require.Equal(t, []string{"a", "b", "c"}, final["log"])
}

func TestInvoke_FanOutCancellation(t *testing.T) {
	schema := api.NewSchema().Field("log", api.Accumulate)
	boom := errors.New("boom")

	def := api.GraphDefinition{
		Name:   "cancel",
		Schema: schema,
		Nodes: []api.NodeDefinition{
			{Name: "bad", Task: func(ctx context.Context, s api.State) (api.State, error) {
				return nil, boom
			}},
			{Name: "slow1", Task: appendLog("slow1", 100*time.Millisecond)},
			{Name: "slow2", Task: appendLog("slow2", 100*time.Millisecond)},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "bad"},
			{From: api.Start, To: "slow1"},
			{From: api.Start, To: "slow2"},
			{From: "bad", To: api.End},
			{From: "slow1", To: api.End},
			{From: "slow2", To: api.End},
		},
	}

	g, err := testEngine().Compile(def)
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), api.State{})
	var taskErr *api.TaskError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, "bad", taskErr.Node)
	require.ErrorIs(t, err, boom)
	require.Nil(t, final, "failed invoke must not return partial state")
}

func TestInvoke_ConditionalWidth(t *testing.T) {
	for _, tc := range []struct {
		name     string
		adaptive bool
		want     []string
	}{
		{"adaptive fans out to three", true, []string{"classify", "join", "one", "three", "two"}},
		{"non-adaptive runs one branch", false, []string{"classify", "join", "one"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var mu sync.Mutex
			var dispatched []string
			record := func(name string) api.TaskFunc {
				return func(ctx context.Context, s api.State) (api.State, error) {
					mu.Lock()
					dispatched = append(dispatched, name)
					mu.Unlock()
					return api.State{}, nil
				}
			}

			schema := api.NewSchema().Field("adaptive", api.Overwrite)
			def := api.GraphDefinition{
				Name:   "width",
				Schema: schema,
				Nodes: []api.NodeDefinition{
					{Name: "classify", Task: record("classify")},
					{Name: "one", Task: record("one")},
					{Name: "two", Task: record("two")},
					{Name: "three", Task: record("three")},
					{Name: "join", Task: record("join")},
				},
				Edges: []api.EdgeDefinition{
					{From: api.Start, To: "classify"},
					{From: "one", To: "join"},
					{From: "two", To: "join"},
					{From: "three", To: "join"},
					{From: "join", To: api.End},
				},
				Conditionals: []api.ConditionalEdge{{
					From: "classify",
					Router: func(s api.State) []string {
						if api.GetOr(s, "adaptive", false) {
							return []string{"one", "two", "three"}
						}
						return []string{"one"}
					},
					Targets: map[string]string{"one": "one", "two": "two", "three": "three"},
				}},
			}

			g, err := testEngine().Compile(def)
			require.NoError(t, err)

			_, err = g.Invoke(context.Background(), api.State{"adaptive": tc.adaptive})
			require.NoError(t, err)

			mu.Lock()
			got := append([]string(nil), dispatched...)
			mu.Unlock()
			sort.Strings(got)
			require.Equal(t, tc.want, got)
		})
	}
}

// Routers must observe the state written by the routing node itself in the
// same superstep.
func TestInvoke_RouterSeesPostUpdateState(t *testing.T) {
	schema := api.NewSchema().
		Field("decision", api.Overwrite).
		Field("picked", api.Overwrite)

	def := api.GraphDefinition{
		Name:   "post-update",
		Schema: schema,
		Nodes: []api.NodeDefinition{
			{Name: "decide", Task: write("decision", "right")},
			{Name: "left", Task: write("picked", "left")},
			{Name: "right", Task: write("picked", "right")},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "decide"},
			{From: "left", To: api.End},
			{From: "right", To: api.End},
		},
		Conditionals: []api.ConditionalEdge{{
			From: "decide",
			Router: func(s api.State) []string {
				return []string{api.GetOr(s, "decision", "left")}
			},
			Targets: map[string]string{"left": "left", "right": "right"},
		}},
	}

	g, err := testEngine().Compile(def)
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), api.State{})
	require.NoError(t, err)
	require.Equal(t, "right", final["picked"])
}

func TestInvoke_RoutingErrors(t *testing.T) {
	build := func(router api.RouterFunc) api.GraphDefinition {
		return api.GraphDefinition{
			Name:   "routing",
			Schema: api.NewSchema(),
			Nodes: []api.NodeDefinition{
				{Name: "a", Task: noopTask},
				{Name: "b", Task: noopTask},
			},
			Edges: []api.EdgeDefinition{
				{From: api.Start, To: "a"},
				{From: "b", To: api.End},
			},
			Conditionals: []api.ConditionalEdge{{
				From:    "a",
				Router:  router,
				Targets: map[string]string{"b": "b", "done": api.End},
			}},
		}
	}

	g, err := testEngine().Compile(build(func(s api.State) []string { return []string{"ghost"} }))
	require.NoError(t, err)
	_, err = g.Invoke(context.Background(), api.State{})
	var routing *api.RoutingError
	require.ErrorAs(t, err, &routing)
	require.Equal(t, "ghost", routing.Target)

	g, err = testEngine().Compile(build(func(s api.State) []string { return nil }))
	require.NoError(t, err)
	_, err = g.Invoke(context.Background(), api.State{})
	require.ErrorAs(t, err, &routing)
}

func TestInvoke_SuperstepLimit(t *testing.T) {
	schema := api.NewSchema().Field("tries", api.Overwrite)
	def := api.GraphDefinition{
		Name:   "runaway",
		Schema: schema,
		Nodes: []api.NodeDefinition{
			{Name: "work", Task: func(ctx context.Context, s api.State) (api.State, error) {
				return api.State{"tries": api.GetOr(s, "tries", 0) + 1}, nil
			}},
		},
		Edges: []api.EdgeDefinition{{From: api.Start, To: "work"}},
		Conditionals: []api.ConditionalEdge{{
			From: "work",
			// A router that never honors its guard's ceiling.
			Router:  func(s api.State) []string { return []string{"retry"} },
			Targets: map[string]string{"retry": "work", "done": api.End},
			Guard:   &api.LoopGuard{CounterField: "tries", Limit: 3},
		}},
	}

	eng := NewEngineWithConfig(Config{MaxSupersteps: 5})
	g, err := eng.Compile(def)
	require.NoError(t, err)

	_, err = g.Invoke(context.Background(), api.State{})
	require.ErrorIs(t, err, api.ErrSuperstepLimit)
}

func TestInvoke_ContextCancelled(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "ctx",
		Schema: api.NewSchema(),
		Nodes: []api.NodeDefinition{
			{Name: "a", Task: noopTask},
			{Name: "b", Task: noopTask},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: api.End},
		},
	}
	g, err := testEngine().Compile(def)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Invoke(ctx, api.State{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestInvokeStream_EmitsSnapshots(t *testing.T) {
	schema := api.NewSchema().Field("log", api.Accumulate)
	def := api.GraphDefinition{
		Name:   "stream",
		Schema: schema,
		Nodes: []api.NodeDefinition{
			{Name: "first", Task: appendLog("first", 0)},
			{Name: "second", Task: appendLog("second", 0)},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "first"},
			{From: "first", To: "second"},
			{From: "second", To: api.End},
		},
	}

	g, err := testEngine().Compile(def)
	require.NoError(t, err)

	snapshots, wait := g.InvokeStream(context.Background(), api.State{})
	var got []api.Snapshot
	for snap := range snapshots {
		got = append(got, snap)
	}
	final, err := wait()
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.Equal(t, 0, got[0].Superstep)
	require.Equal(t, []string{"first"}, got[0].Nodes)
	require.Equal(t, []string{"first"}, got[0].State["log"])
	require.Equal(t, 1, got[1].Superstep)
	require.Equal(t, []string{"second"}, got[1].Nodes)
	require.Equal(t, []string{"first", "second"}, final["log"])
}

func TestInvoke_RecordsRuns(t *testing.T) {
	store := persistence.NewInMemoryStore()
	eng := NewEngineWithConfig(Config{Store: store})

	g, err := eng.Compile(fanOutDef(t))
	require.NoError(t, err)

	ctx := context.Background()
	final, err := g.Invoke(ctx, api.State{})
	require.NoError(t, err)

	runs, err := eng.ListRuns(ctx, api.RunFilter{Graph: "fan-out", Status: api.RunCompleted})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, 2, runs[0].Supersteps, "fan-out frontier plus join")
	require.Equal(t, final["log"], runs[0].Final["log"])

	got, err := eng.GetRun(ctx, runs[0].ID)
	require.NoError(t, err)
	require.Equal(t, api.RunCompleted, got.Status)

	steps, err := store.ListSteps(ctx, runs[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, []string{"a", "b", "c"}, steps[0].Nodes)
	require.Equal(t, []string{"join"}, steps[1].Nodes)
}

func TestInvoke_RecordsFailure(t *testing.T) {
	store := persistence.NewInMemoryStore()
	eng := NewEngineWithConfig(Config{Store: store})

	boom := errors.New("boom")
	def := api.GraphDefinition{
		Name:   "fails",
		Schema: api.NewSchema(),
		Nodes: []api.NodeDefinition{
			{Name: "bad", Task: func(ctx context.Context, s api.State) (api.State, error) {
				return nil, boom
			}},
		},
		Edges: []api.EdgeDefinition{{From: api.Start, To: "bad"}},
	}

	g, err := eng.Compile(def)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = g.Invoke(ctx, api.State{})
	require.ErrorIs(t, err, boom)

	runs, err := eng.ListRuns(ctx, api.RunFilter{Status: api.RunFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Nil(t, runs[0].Final)
	require.Error(t, runs[0].Err)
}

func TestInvoke_ConcurrentInvocationsIsolated(t *testing.T) {
	g, err := testEngine().Compile(fanOutDef(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			final, err := g.Invoke(context.Background(), api.State{})
			if err != nil {
				t.Error(err)
				return
			}
			log, _ := final["log"].([]string)
			if len(log) != 4 {
				t.Errorf("unexpected log: %v", log)
			}
		}()
	}
	wg.Wait()
}
