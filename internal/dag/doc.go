// Package dag resolves recipe dependencies into a topological build order
// and materializes the resolved closure as an execution graph with
// per-node dependency counters for the concurrent sequencer.
package dag
