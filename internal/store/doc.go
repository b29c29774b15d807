// Package store tracks built packages by (name, version, revision) together
// with their installed-file manifests. The sequencer consults it to skip
// recipes whose identity is unchanged, which makes re-runs of an unchanged
// tree perform zero stage executions.
package store
