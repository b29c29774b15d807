package dag

import (
	"context"
	"slices"

	"github.com/vk/distforge/internal/ctxlog"
	"github.com/vk/distforge/internal/registry"
)

// Resolve computes the build order for the given targets: the transitive
// closure of each target's dependencies, topologically sorted so that every
// recipe appears after all of the recipes it depends on. An empty target
// list resolves the whole registry.
//
// The sort is a depth-first postorder. Dependencies are visited in their
// declaration order and targets in registry load order, so the result is
// stable for a given registry regardless of map iteration order.
//
// When sourceStage is true, source_hostdeps/source_imagedeps/source_deps
// contribute edges in addition to the regular three lists.
func Resolve(ctx context.Context, reg *registry.Registry, targets []string, sourceStage bool) ([]string, error) {
	logger := ctxlog.FromContext(ctx)

	if len(targets) == 0 {
		targets = reg.Names()
	}
	logger.Debug("Resolving build order.", "targets", targets, "source_stage", sourceStage)

	r := &resolver{
		reg:         reg,
		sourceStage: sourceStage,
		visiting:    make(map[string]bool),
		visited:     make(map[string]bool),
	}

	for _, target := range targets {
		if _, ok := reg.Get(target); !ok {
			return nil, &UnknownDependencyError{Recipe: target, Dependency: target}
		}
		if err := r.visit(target); err != nil {
			return nil, err
		}
	}

	logger.Debug("Build order resolved.", "recipe_count", len(r.order))
	return r.order, nil
}

type resolver struct {
	reg         *registry.Registry
	sourceStage bool

	// visiting marks the recipes on the current DFS stack; hitting one of
	// them again means the graph has a cycle. stack mirrors it in order so
	// the cycle can be named in the error.
	visiting map[string]bool
	visited  map[string]bool
	stack    []string
	order    []string
}

func (r *resolver) visit(name string) error {
	if r.visited[name] {
		return nil
	}
	if r.visiting[name] {
		return &CycleError{Path: r.cyclePath(name)}
	}

	rcp, ok := r.reg.Get(name)
	if !ok {
		// The caller is the last entry on the DFS stack.
		from := name
		if len(r.stack) > 0 {
			from = r.stack[len(r.stack)-1]
		}
		return &UnknownDependencyError{Recipe: from, Dependency: name}
	}

	r.visiting[name] = true
	r.stack = append(r.stack, name)

	for _, dep := range rcp.BuildDeps(r.sourceStage) {
		if err := r.visit(dep); err != nil {
			return err
		}
	}

	r.stack = r.stack[:len(r.stack)-1]
	delete(r.visiting, name)
	r.visited[name] = true
	r.order = append(r.order, name)
	return nil
}

// cyclePath slices the DFS stack from the first occurrence of name and
// closes the loop for a readable error message.
func (r *resolver) cyclePath(name string) []string {
	start := slices.Index(r.stack, name)
	if start < 0 {
		return []string{name, name}
	}
	path := append([]string{}, r.stack[start:]...)
	return append(path, name)
}
