// Package recipe defines the Recipe record and the parser for the
// shell-variable recipe file convention: `key=value` assignments for
// identity, source and dependency metadata, plus regenerate()/build()/
// package() shell function bodies that the orchestrator treats as opaque
// subprocess contracts.
package recipe
