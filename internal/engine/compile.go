package engine

import (
	"fmt"

	"github.com/weftlabs/weft/pkg/api"
)

// node is the compiled form of a graph node: its task, its static successors
// in declared order, its conditional edge (if any), and the sources of all
// edges that can activate it.
type node struct {
	name     string
	task     api.TaskFunc
	static   []string
	cond     *api.ConditionalEdge
	incoming []string
}

func (n *node) routing() bool { return n.cond != nil }

// compile validates a definition and freezes it. All structural defects are
// reported here so that Invoke never has to re-check graph shape.
func (e *engineImpl) compile(def api.GraphDefinition) (*compiledGraph, error) {
	fail := func(nodeName, msg string) error {
		return &api.StructuralError{Graph: def.Name, Node: nodeName, Msg: msg}
	}

	if def.Name == "" {
		return nil, fail("", "graph name is required")
	}
	if def.Schema == nil {
		return nil, fail("", "schema is required")
	}
	if len(def.Nodes) == 0 {
		return nil, fail("", "graph must have at least one node")
	}

	nodes := make(map[string]*node, len(def.Nodes))
	for _, nd := range def.Nodes {
		if nd.Name == "" {
			return nil, fail("", "node name must not be empty")
		}
		if nd.Name == api.Start || nd.Name == api.End {
			return nil, fail(nd.Name, "node name is reserved")
		}
		if nd.Task == nil {
			return nil, fail(nd.Name, "node has nil task function")
		}
		if _, dup := nodes[nd.Name]; dup {
			return nil, fail(nd.Name, "duplicate node name")
		}
		nodes[nd.Name] = &node{name: nd.Name, task: nd.Task}
	}

	var entry []string
	for _, ed := range def.Edges {
		if ed.From == api.End {
			return nil, fail(ed.From, "edges cannot leave the end marker")
		}
		if ed.To == api.Start {
			return nil, fail(ed.To, "edges cannot enter the start marker")
		}
		if ed.From != api.Start {
			if _, ok := nodes[ed.From]; !ok {
				return nil, fail(ed.From, "edge references unknown source node")
			}
		}
		if ed.To != api.End {
			if _, ok := nodes[ed.To]; !ok {
				return nil, fail(ed.To, "edge references unknown target node")
			}
		}
		switch {
		case ed.From == api.Start:
			entry = append(entry, ed.To)
		default:
			src := nodes[ed.From]
			src.static = append(src.static, ed.To)
			if ed.To != api.End {
				nodes[ed.To].incoming = append(nodes[ed.To].incoming, ed.From)
			}
		}
	}
	if len(entry) == 0 {
		return nil, fail("", "no start edge defined")
	}

	for i := range def.Conditionals {
		ce := def.Conditionals[i]
		src, ok := nodes[ce.From]
		if !ok {
			return nil, fail(ce.From, "conditional edge references unknown source node")
		}
		if src.cond != nil {
			return nil, fail(ce.From, "node already has a conditional edge")
		}
		if ce.Router == nil {
			return nil, fail(ce.From, "conditional edge has nil router")
		}
		if len(ce.Targets) == 0 {
			return nil, fail(ce.From, "conditional edge declares no targets")
		}
		for label, target := range ce.Targets {
			if target == api.Start {
				return nil, fail(ce.From, "conditional target cannot be the start marker")
			}
			if target == api.End {
				continue
			}
			if _, ok := nodes[target]; !ok {
				return nil, fail(ce.From, fmt.Sprintf("router label %q maps to undeclared node %q", label, target))
			}
			nodes[target].incoming = append(nodes[target].incoming, ce.From)
		}
		if ce.Guard != nil {
			if ce.Guard.Limit <= 0 {
				return nil, fail(ce.From, "loop guard limit must be positive")
			}
			policy, declared := def.Schema.Policy(ce.Guard.CounterField)
			if !declared {
				return nil, fail(ce.From, fmt.Sprintf("loop guard counter field %q is not declared in the schema", ce.Guard.CounterField))
			}
			if policy != api.Overwrite {
				return nil, fail(ce.From, fmt.Sprintf("loop guard counter field %q must use the overwrite policy", ce.Guard.CounterField))
			}
		}
		src.cond = &def.Conditionals[i]
	}

	g := &compiledGraph{
		name:   def.Name,
		schema: def.Schema,
		nodes:  nodes,
		entry:  entry,
		eng:    e,
	}

	if err := g.checkReachability(); err != nil {
		return nil, err
	}
	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// successors returns every node the given node can activate, static and
// conditional, in declared order. The end marker is excluded.
func (g *compiledGraph) successors(name string) []string {
	n := g.nodes[name]
	var out []string
	for _, t := range n.static {
		if t != api.End {
			out = append(out, t)
		}
	}
	if n.cond != nil {
		for _, t := range n.cond.Targets {
			if t != api.End {
				out = append(out, t)
			}
		}
	}
	return out
}

func (g *compiledGraph) checkReachability() error {
	seen := make(map[string]bool, len(g.nodes))
	stack := append([]string(nil), g.entry...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == api.End || seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, g.successors(cur)...)
	}
	for name := range g.nodes {
		if !seen[name] {
			return &api.StructuralError{Graph: g.name, Node: name, Msg: "node is unreachable from start"}
		}
	}
	return nil
}

// checkCycles rejects every cycle that is not closed by a guarded
// conditional edge. A back-edge is legal only when its source is a routing
// node whose conditional edge declares a LoopGuard, so that the router
// consults a bounded counter and eventually routes away. Plain cycles become
// compile-time failures instead of runtime hangs.
func (g *compiledGraph) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = grey
		n := g.nodes[name]
		check := func(target string, guarded bool) error {
			if target == api.End {
				return nil
			}
			switch color[target] {
			case grey:
				if !guarded {
					return &api.StructuralError{
						Graph: g.name,
						Node:  name,
						Msg:   fmt.Sprintf("cycle through %q is not closed by a guarded routing node", target),
					}
				}
				return nil
			case white:
				return visit(target)
			default:
				return nil
			}
		}
		for _, t := range n.static {
			if err := check(t, false); err != nil {
				return err
			}
		}
		if n.cond != nil {
			guarded := n.cond.Guard != nil
			for _, t := range n.cond.Targets {
				if err := check(t, guarded); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	for _, name := range g.entry {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
