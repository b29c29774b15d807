package dag

import (
	"fmt"
	"strings"
)

// UnknownDependencyError reports a dependency name that does not resolve to
// any recipe in the registry. It is fatal to resolving the affected recipe
// and all of its dependents.
type UnknownDependencyError struct {
	// Recipe is the recipe that declared the dependency.
	Recipe string
	// Dependency is the name that could not be resolved.
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("recipe %q depends on unknown recipe %q", e.Recipe, e.Dependency)
}

// CycleError reports a dependency cycle reachable from the resolve target.
// Path names the recipes on the cycle, starting and ending at the same name.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}
