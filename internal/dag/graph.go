package dag

import (
	"sync"
	"sync/atomic"

	"github.com/vk/distforge/internal/recipe"
	"github.com/vk/distforge/internal/registry"
)

// Status is the execution state of a node in the graph.
type Status int32

const (
	// StatusPending indicates the node is waiting for its dependencies.
	StatusPending Status = iota
	// StatusRunning indicates a worker is executing the node's stages.
	StatusRunning
	// StatusSucceeded indicates all stages completed and the artifact was
	// recorded in the store.
	StatusSucceeded
	// StatusUpToDate indicates the store already holds this
	// (name, version, revision) and no stage was executed.
	StatusUpToDate
	// StatusFailed indicates a stage returned a non-zero exit or a source
	// fetch failed.
	StatusFailed
	// StatusSkipped indicates a dependency (direct or transitive) failed,
	// so this node was never executed.
	StatusSkipped
)

// String returns the human-readable status name used in reports and logs.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusUpToDate:
		return "up to date"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is a final outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusUpToDate, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Node is a single recipe's position in the dependency graph, together with
// the execution state the sequencer tracks for it.
type Node struct {
	// Name is the recipe name; it is also the node's unique ID.
	Name string
	// Recipe is the parsed recipe definition this node executes.
	Recipe *recipe.Recipe
	// Deps holds the nodes this node depends on (predecessors).
	Deps map[string]*Node
	// Dependents holds the nodes that depend on this node (successors).
	Dependents map[string]*Node

	// Err stores the failure or skip reason once the node reaches a
	// terminal failure state. Written once, by the worker or by Skip.
	Err error

	// depCount counts unmet dependencies; the node is ready at zero.
	depCount atomic.Int32
	// status is the node's current execution state, managed atomically.
	status atomic.Int32
	// skipOnce guarantees a node is marked skipped and accounted exactly once.
	skipOnce sync.Once
}

// DepCount atomically returns the number of unmet dependencies.
func (n *Node) DepCount() int32 {
	return n.depCount.Load()
}

// DecrementDepCount atomically decrements the dependency counter and
// returns the new value. A return of zero means the node became ready.
func (n *Node) DecrementDepCount() int32 {
	return n.depCount.Add(-1)
}

// SetStatus atomically sets the node's execution state.
func (n *Node) SetStatus(s Status) {
	n.status.Store(int32(s))
}

// Status atomically retrieves the node's execution state.
func (n *Node) Status() Status {
	return Status(n.status.Load())
}

// Skip marks the node as skipped with the given reason and decrements the
// WaitGroup exactly once. It returns true if this call was the one that
// performed the skip, which tells the caller to continue the downstream walk.
func (n *Node) Skip(err error, wg *sync.WaitGroup) bool {
	var wasSkipped bool
	n.skipOnce.Do(func() {
		n.SetStatus(StatusSkipped)
		n.Err = err
		wg.Done()
		wasSkipped = true
	})
	return wasSkipped
}

// Graph is the dependency graph restricted to one resolved build order.
type Graph struct {
	// Nodes holds every node in the graph, keyed by recipe name.
	Nodes map[string]*Node
	// Order is the topological order the graph was built from. Reports are
	// rendered in this order.
	Order []string
}

// Build constructs the execution graph for a resolved order. The order must
// come from Resolve, so every dependency of every listed recipe is present;
// a dangling reference here is an internal error and is still reported as
// an UnknownDependencyError.
func Build(reg *registry.Registry, order []string, sourceStage bool) (*Graph, error) {
	g := &Graph{
		Nodes: make(map[string]*Node, len(order)),
		Order: append([]string{}, order...),
	}

	for _, name := range order {
		rcp, ok := reg.Get(name)
		if !ok {
			return nil, &UnknownDependencyError{Recipe: name, Dependency: name}
		}
		g.Nodes[name] = &Node{
			Name:       name,
			Recipe:     rcp,
			Deps:       make(map[string]*Node),
			Dependents: make(map[string]*Node),
		}
	}

	for _, name := range order {
		node := g.Nodes[name]
		for _, dep := range node.Recipe.BuildDeps(sourceStage) {
			depNode, ok := g.Nodes[dep]
			if !ok {
				return nil, &UnknownDependencyError{Recipe: name, Dependency: dep}
			}
			node.Deps[dep] = depNode
			depNode.Dependents[name] = node
		}
	}

	for _, node := range g.Nodes {
		node.depCount.Store(int32(len(node.Deps)))
	}

	return g, nil
}

// Roots returns the nodes with no unmet dependencies, in topological order.
func (g *Graph) Roots() []*Node {
	var roots []*Node
	for _, name := range g.Order {
		if n := g.Nodes[name]; n.DepCount() == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}
