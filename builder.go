package weft

import (
	"fmt"

	"github.com/weftlabs/weft/pkg/api"
)

// GraphBuilder provides a fluent API for defining graphs:
//
//	def := weft.NewGraph("triage").
//	    Field("ticket", weft.Overwrite).
//	    Field("labels", weft.Accumulate).
//	    Node("classify", classify).
//	    Node("escalate", escalate).
//	    Node("archive", archive).
//	    StartAt("classify").
//	    Branch("classify", isUrgent, "escalate", "archive").
//	    Edge("escalate", weft.End).
//	    Edge("archive", weft.End).
//	    Definition()
//
//	graph, err := engine.Compile(def)
type GraphBuilder struct {
	def api.GraphDefinition
}

// NewGraph creates a new graph builder with the given name.
func NewGraph(name string) *GraphBuilder {
	return &GraphBuilder{
		def: api.GraphDefinition{
			Name:   name,
			Schema: api.NewSchema(),
		},
	}
}

// Name returns the graph name.
func (b *GraphBuilder) Name() string {
	return b.def.Name
}

// Field declares a state field with the given merge policy.
func (b *GraphBuilder) Field(name string, policy MergePolicy) *GraphBuilder {
	if name == "" {
		panic("weft: field name must not be empty")
	}
	b.def.Schema.Field(name, policy)
	return b
}

// Node adds a named task node to the graph.
func (b *GraphBuilder) Node(name string, task TaskFunc) *GraphBuilder {
	if name == "" {
		panic("weft: node name must not be empty")
	}
	if task == nil {
		panic(fmt.Sprintf("weft: node %q has nil task function", name))
	}
	b.def.Nodes = append(b.def.Nodes, api.NodeDefinition{Name: name, Task: task})
	return b
}

// StartAt adds entry edges from the start marker to the given nodes.
// Declaration order is activation order.
func (b *GraphBuilder) StartAt(nodes ...string) *GraphBuilder {
	for _, n := range nodes {
		b.Edge(api.Start, n)
	}
	return b
}

// Edge adds a static edge. Use weft.End as the target to terminate a path.
func (b *GraphBuilder) Edge(from, to string) *GraphBuilder {
	if from == "" || to == "" {
		panic("weft: edge endpoints must not be empty")
	}
	b.def.Edges = append(b.def.Edges, api.EdgeDefinition{From: from, To: to})
	return b
}

// Route adds a conditional edge: after from's update is merged, router picks
// one or more of the declared targets. targets maps the router's symbolic
// return values to node names.
func (b *GraphBuilder) Route(from string, router RouterFunc, targets map[string]string) *GraphBuilder {
	return b.route(from, router, targets, nil)
}

// RouteGuarded adds a conditional edge that is allowed to close a cycle.
// counterField must be an Overwrite field that a node inside the cycle
// increments; limit is the ceiling after which the router must route away.
func (b *GraphBuilder) RouteGuarded(from string, router RouterFunc, targets map[string]string, counterField string, limit int) *GraphBuilder {
	return b.route(from, router, targets, &api.LoopGuard{CounterField: counterField, Limit: limit})
}

// Branch is a two-way convenience over Route: route to ifTrue when pred
// holds on the post-update state, otherwise ifFalse.
func (b *GraphBuilder) Branch(from string, pred PredicateFunc, ifTrue, ifFalse string) *GraphBuilder {
	if pred == nil {
		panic(fmt.Sprintf("weft: branch on %q has nil predicate", from))
	}
	router := func(s State) []string {
		if pred(s) {
			return []string{"true"}
		}
		return []string{"false"}
	}
	return b.route(from, router, map[string]string{"true": ifTrue, "false": ifFalse}, nil)
}

func (b *GraphBuilder) route(from string, router RouterFunc, targets map[string]string, guard *api.LoopGuard) *GraphBuilder {
	if from == "" {
		panic("weft: route source must not be empty")
	}
	if router == nil {
		panic(fmt.Sprintf("weft: route on %q has nil router", from))
	}
	b.def.Conditionals = append(b.def.Conditionals, api.ConditionalEdge{
		From:    from,
		Router:  router,
		Targets: targets,
		Guard:   guard,
	})
	return b
}

// Definition returns the underlying GraphDefinition.
// Typically used when interacting with lower-level APIs.
func (b *GraphBuilder) Definition() GraphDefinition {
	return b.def
}

// Compile compiles the built graph with the given engine.
func (b *GraphBuilder) Compile(eng Engine) (Graph, error) {
	return eng.Compile(b.def)
}

// MustCompile is like Compile but panics on error.
// Useful for initialization in main().
func (b *GraphBuilder) MustCompile(eng Engine) Graph {
	g, err := b.Compile(eng)
	if err != nil {
		panic(err)
	}
	return g
}
