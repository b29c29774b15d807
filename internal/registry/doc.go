// Package registry loads recipe files from disk into an ordered, name-keyed
// collection. It is the leaf component of the orchestrator: the resolver and
// the executor both operate on a loaded registry and never touch recipe
// files themselves.
package registry
