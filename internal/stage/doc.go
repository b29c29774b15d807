// Package stage is the subprocess boundary of the orchestrator: it runs
// recipe lifecycle bodies (regenerate, build, package) as shell processes
// with an explicit, injected environment, and handles cancellation with a
// SIGTERM-then-SIGKILL escalation.
package stage
