package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/api"
)

func noopTask(ctx context.Context, s api.State) (api.State, error) {
	return api.State{}, nil
}

func testEngine() api.Engine {
	return NewEngineWithConfig(Config{})
}

func requireStructural(t *testing.T, err error, contains string) {
	t.Helper()
	require.Error(t, err)
	var structural *api.StructuralError
	require.ErrorAs(t, err, &structural)
	require.Contains(t, structural.Error(), contains)
}

func TestCompile_MissingStartEdge(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "no-start",
		Schema: api.NewSchema(),
		Nodes:  []api.NodeDefinition{{Name: "a", Task: noopTask}},
		Edges:  []api.EdgeDefinition{{From: "a", To: api.End}},
	}
	_, err := testEngine().Compile(def)
	requireStructural(t, err, "no start edge")
}

func TestCompile_UndeclaredRouterTarget(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "bad-target",
		Schema: api.NewSchema(),
		Nodes:  []api.NodeDefinition{{Name: "a", Task: noopTask}},
		Edges:  []api.EdgeDefinition{{From: api.Start, To: "a"}},
		Conditionals: []api.ConditionalEdge{{
			From:    "a",
			Router:  func(s api.State) []string { return []string{"go"} },
			Targets: map[string]string{"go": "ghost"},
		}},
	}
	_, err := testEngine().Compile(def)
	requireStructural(t, err, `undeclared node "ghost"`)
}

func TestCompile_UnreachableNode(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "island",
		Schema: api.NewSchema(),
		Nodes: []api.NodeDefinition{
			{Name: "a", Task: noopTask},
			{Name: "island", Task: noopTask},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "a"},
			{From: "a", To: api.End},
			{From: "island", To: api.End},
		},
	}
	_, err := testEngine().Compile(def)
	requireStructural(t, err, "unreachable")
}

func TestCompile_UnguardedCycleRejected(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "plain-cycle",
		Schema: api.NewSchema(),
		Nodes: []api.NodeDefinition{
			{Name: "a", Task: noopTask},
			{Name: "b", Task: noopTask},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}
	_, err := testEngine().Compile(def)
	requireStructural(t, err, "cycle")
}

func TestCompile_UnguardedConditionalCycleRejected(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "routed-cycle",
		Schema: api.NewSchema(),
		Nodes: []api.NodeDefinition{
			{Name: "a", Task: noopTask},
			{Name: "b", Task: noopTask},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "a"},
			{From: "a", To: "b"},
		},
		Conditionals: []api.ConditionalEdge{{
			From:    "b",
			Router:  func(s api.State) []string { return []string{"again"} },
			Targets: map[string]string{"again": "a", "done": api.End},
			// no guard
		}},
	}
	_, err := testEngine().Compile(def)
	requireStructural(t, err, "cycle")
}

func TestCompile_GuardedCycleAccepted(t *testing.T) {
	schema := api.NewSchema().Field("tries", api.Overwrite)
	def := api.GraphDefinition{
		Name:   "guarded-cycle",
		Schema: schema,
		Nodes: []api.NodeDefinition{
			{Name: "work", Task: noopTask},
			{Name: "check", Task: noopTask},
		},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "work"},
			{From: "work", To: "check"},
		},
		Conditionals: []api.ConditionalEdge{{
			From:    "check",
			Router:  func(s api.State) []string { return []string{"done"} },
			Targets: map[string]string{"retry": "work", "done": api.End},
			Guard:   &api.LoopGuard{CounterField: "tries", Limit: 3},
		}},
	}
	g, err := testEngine().Compile(def)
	require.NoError(t, err)
	require.Equal(t, "guarded-cycle", g.Name())
}

func TestCompile_GuardCounterMustBeDeclaredOverwrite(t *testing.T) {
	build := func(schema *api.Schema) api.GraphDefinition {
		return api.GraphDefinition{
			Name:   "guard-fields",
			Schema: schema,
			Nodes:  []api.NodeDefinition{{Name: "a", Task: noopTask}},
			Edges:  []api.EdgeDefinition{{From: api.Start, To: "a"}},
			Conditionals: []api.ConditionalEdge{{
				From:    "a",
				Router:  func(s api.State) []string { return []string{"done"} },
				Targets: map[string]string{"retry": "a", "done": api.End},
				Guard:   &api.LoopGuard{CounterField: "tries", Limit: 3},
			}},
		}
	}

	_, err := testEngine().Compile(build(api.NewSchema()))
	requireStructural(t, err, "not declared")

	_, err = testEngine().Compile(build(api.NewSchema().Field("tries", api.Accumulate)))
	requireStructural(t, err, "overwrite")
}

func TestCompile_DuplicateNode(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "dup",
		Schema: api.NewSchema(),
		Nodes: []api.NodeDefinition{
			{Name: "a", Task: noopTask},
			{Name: "a", Task: noopTask},
		},
		Edges: []api.EdgeDefinition{{From: api.Start, To: "a"}},
	}
	_, err := testEngine().Compile(def)
	requireStructural(t, err, "duplicate")
}

func TestCompile_ReservedNodeName(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "reserved",
		Schema: api.NewSchema(),
		Nodes:  []api.NodeDefinition{{Name: api.End, Task: noopTask}},
		Edges:  []api.EdgeDefinition{{From: api.Start, To: api.End}},
	}
	_, err := testEngine().Compile(def)
	requireStructural(t, err, "reserved")
}

func TestCompile_NilTask(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "niltask",
		Schema: api.NewSchema(),
		Nodes:  []api.NodeDefinition{{Name: "a"}},
		Edges:  []api.EdgeDefinition{{From: api.Start, To: "a"}},
	}
	_, err := testEngine().Compile(def)
	requireStructural(t, err, "nil task")
}

func TestCompile_EdgeToUnknownNode(t *testing.T) {
	def := api.GraphDefinition{
		Name:   "dangling",
		Schema: api.NewSchema(),
		Nodes:  []api.NodeDefinition{{Name: "a", Task: noopTask}},
		Edges: []api.EdgeDefinition{
			{From: api.Start, To: "a"},
			{From: "a", To: "ghost"},
		},
	}
	_, err := testEngine().Compile(def)
	requireStructural(t, err, "unknown")
}
