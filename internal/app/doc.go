// Package app wires the orchestrator together: it owns the logger, the
// loaded recipe registry and build profile, and drives one run from
// resolution through sequencing to the final report.
package app
