// Package executor is the build sequencer: it walks the resolved dependency
// graph with a bounded worker pool, runs each recipe's lifecycle stages in
// strict order inside an exclusive staging directory, records artifacts in
// the store, and tolerates partial failure by skipping only the failed
// recipe's dependents.
package executor
