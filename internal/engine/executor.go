package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weftlabs/weft/pkg/api"
)

// compiledGraph is an immutable, executable graph. It is safe to share
// across concurrent invocations; every invocation owns its state instance.
type compiledGraph struct {
	name   string
	schema *api.Schema
	nodes  map[string]*node
	entry  []string
	eng    *engineImpl
}

var _ api.Graph = (*compiledGraph)(nil)

func (g *compiledGraph) Name() string { return g.name }

// invocation carries the per-run execution state of one Invoke call.
type invocation struct {
	g    *compiledGraph
	run  *api.Run
	obs  api.Observer

	// pending holds activated-but-not-yet-executed nodes in activation
	// order. Activation order derives from declared edge order, which is
	// what makes merge order reproducible.
	pending []string
	inPending map[string]bool

	state     api.State
	superstep int
	stream    chan<- api.Snapshot
}

func (g *compiledGraph) execute(ctx context.Context, run *api.Run, initial api.State, stream chan<- api.Snapshot) (api.State, error) {
	for field := range initial {
		if _, ok := g.schema.Policy(field); !ok {
			return nil, &api.StructuralError{Graph: g.name, Msg: fmt.Sprintf("initial state field %q is not declared in the schema", field)}
		}
	}

	inv := &invocation{
		g:         g,
		run:       run,
		obs:       g.eng.observer,
		inPending: make(map[string]bool),
		state:     initial.Clone(),
		stream:    stream,
	}
	for _, name := range g.entry {
		inv.activate(name)
	}

	for len(inv.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if inv.superstep >= g.eng.maxSupersteps {
			return nil, fmt.Errorf("graph %q: %w after %d supersteps", g.name, api.ErrSuperstepLimit, inv.superstep)
		}

		frontier := inv.selectReady()
		if len(frontier) == 0 {
			return nil, &api.StructuralError{Graph: g.name, Msg: "traversal stalled: pending nodes all wait on each other"}
		}
		inv.consume(frontier)

		updates, err := inv.dispatch(ctx, frontier)
		if err != nil {
			return nil, err
		}

		// Merge in frontier order, never completion order, so overwrite
		// winners and accumulate ordering are reproducible across runs.
		for i, name := range frontier {
			merged, err := g.schema.Merge(inv.state, updates[i])
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", name, err)
			}
			inv.state = merged
		}

		if g.eng.store != nil {
			if err := g.eng.store.AppendStep(ctx, run.ID, inv.superstep, frontier, inv.state); err != nil {
				return nil, fmt.Errorf("record superstep %d: %w", inv.superstep, err)
			}
		}
		if inv.stream != nil {
			snap := api.Snapshot{Superstep: inv.superstep, Nodes: frontier, State: inv.state.Clone()}
			select {
			case inv.stream <- snap:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// Routers observe the post-update state: every update from this
		// superstep is merged before any successor is resolved.
		for _, name := range frontier {
			if err := inv.resolveSuccessors(ctx, name); err != nil {
				return nil, err
			}
		}
		inv.superstep++
	}
	run.Supersteps = inv.superstep
	return inv.state, nil
}

// activate marks a node ready-pending. Activating a node that is already
// pending is a join contribution, not a second execution.
func (inv *invocation) activate(name string) {
	if inv.inPending[name] {
		return
	}
	inv.inPending[name] = true
	inv.pending = append(inv.pending, name)
}

func (inv *invocation) consume(frontier []string) {
	for _, name := range frontier {
		delete(inv.inPending, name)
	}
	remaining := inv.pending[:0]
	for _, name := range inv.pending {
		if inv.inPending[name] {
			remaining = append(remaining, name)
		}
	}
	inv.pending = remaining
}

// selectReady returns the pending nodes whose joins are satisfied: a pending
// node runs only when none of its incoming edges can still fire, that is,
// when no other pending node is (or can still reach) one of its
// predecessors. This keeps a join from executing before a slower branch has
// contributed, and from being re-triggered by branches that were never
// activated.
func (inv *invocation) selectReady() []string {
	var ready []string
	for _, candidate := range inv.pending {
		if inv.upstreamLive(candidate) {
			continue
		}
		ready = append(ready, candidate)
	}
	return ready
}

func (inv *invocation) upstreamLive(candidate string) bool {
	others := make([]string, 0, len(inv.pending)-1)
	for _, p := range inv.pending {
		if p != candidate {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return false
	}
	for _, src := range inv.g.nodes[candidate].incoming {
		if inv.g.canReach(others, src, candidate) {
			return true
		}
	}
	return false
}

// canReach reports whether target is one of starts, or reachable from any of
// them without passing through avoid. Paths through avoid are excluded so a
// node is never blocked by predecessors that are only reachable through the
// node itself (guarded loops re-enter this way).
func (g *compiledGraph) canReach(starts []string, target, avoid string) bool {
	seen := map[string]bool{avoid: true}
	stack := make([]string, 0, len(starts))
	for _, s := range starts {
		if s == target {
			return true
		}
		if !seen[s] {
			seen[s] = true
			stack = append(stack, s)
		}
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.successors(cur) {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// dispatch executes every frontier node against the same pre-superstep
// state and returns their partial updates indexed by frontier position.
// Nodes run on up to maxConcurrency workers; on the first task failure the
// run context is cancelled so siblings that have not started are skipped,
// in-flight siblings finish on their own, and the first fatal error is the
// one surfaced.
func (inv *invocation) dispatch(parent context.Context, frontier []string) ([]api.State, error) {
	updates := make([]api.State, len(frontier))
	if len(frontier) == 1 {
		update, err := inv.runNode(parent, frontier[0])
		if err != nil {
			return nil, err
		}
		updates[0] = update
		return updates, nil
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	workers := inv.g.eng.maxConcurrency
	if workers <= 0 || workers > len(frontier) {
		workers = len(frontier)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	work := make(chan int)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				// A sibling already failed: skip anything not yet started.
				if ctx.Err() != nil {
					continue
				}
				update, err := inv.runNode(ctx, frontier[i])
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
					continue
				}
				updates[i] = update
			}
		}()
	}
	for i := range frontier {
		work <- i
	}
	close(work)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return updates, nil
}

func (inv *invocation) runNode(ctx context.Context, name string) (api.State, error) {
	n := inv.g.nodes[name]
	inv.obs.OnNodeStart(ctx, inv.run, name, inv.superstep)
	started := time.Now()
	update, err := n.task(ctx, inv.state)
	inv.obs.OnNodeCompleted(ctx, inv.run, name, inv.superstep, err, time.Since(started))
	if err != nil {
		return nil, &api.TaskError{Node: name, Err: err}
	}
	if update == nil {
		update = api.State{}
	}
	return update, nil
}

// resolveSuccessors activates the node's static successors and, for routing
// nodes, the targets its router picks from the post-update state.
func (inv *invocation) resolveSuccessors(ctx context.Context, name string) error {
	n := inv.g.nodes[name]
	for _, target := range n.static {
		if target != api.End {
			inv.activate(target)
		}
	}
	if n.cond == nil {
		return nil
	}

	labels := n.cond.Router(inv.state)
	if len(labels) == 0 {
		return &api.RoutingError{Node: name}
	}
	targets := make([]string, 0, len(labels))
	for _, label := range labels {
		target, ok := n.cond.Targets[label]
		if !ok {
			return &api.RoutingError{Node: name, Target: label}
		}
		targets = append(targets, target)
	}
	inv.obs.OnRouteResolved(ctx, inv.run, name, targets)
	for _, target := range targets {
		if target != api.End {
			inv.activate(target)
		}
	}
	return nil
}
