package report

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/vk/distforge/internal/dag"
)

// Entry is one recipe's outcome in a build report.
type Entry struct {
	Name     string
	Status   dag.Status
	Reason   string
	Duration time.Duration
}

// Report enumerates every recipe of a run with its final outcome, in
// resolved build order. This is the user-visible failure-propagation
// surface: failed recipes carry their reason, skipped recipes name the
// dependency that failed.
type Report struct {
	BuildID string
	Entries []Entry
}

// Counts tallies the report by outcome.
type Counts struct {
	Succeeded int
	UpToDate  int
	Failed    int
	Skipped   int
}

// Counts returns the outcome tallies for the report.
func (r *Report) Counts() Counts {
	var c Counts
	for _, e := range r.Entries {
		switch e.Status {
		case dag.StatusSucceeded:
			c.Succeeded++
		case dag.StatusUpToDate:
			c.UpToDate++
		case dag.StatusFailed:
			c.Failed++
		case dag.StatusSkipped:
			c.Skipped++
		}
	}
	return c
}

// HasFailures reports whether any recipe failed or was skipped.
func (r *Report) HasFailures() bool {
	c := r.Counts()
	return c.Failed > 0 || c.Skipped > 0
}

var (
	okColor   = color.New(color.FgGreen)
	dimColor  = color.New(color.Faint)
	failColor = color.New(color.FgRed, color.Bold)
	skipColor = color.New(color.FgYellow)
)

// Render writes the human-readable report.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "Build report (%s):\n", r.BuildID)
	for _, e := range r.Entries {
		switch e.Status {
		case dag.StatusSucceeded:
			okColor.Fprintf(w, "  ok      %s", e.Name)
			fmt.Fprintf(w, " (%s)\n", e.Duration.Round(time.Millisecond))
		case dag.StatusUpToDate:
			dimColor.Fprintf(w, "  ok      %s (up to date)\n", e.Name)
		case dag.StatusFailed:
			failColor.Fprintf(w, "  FAIL    %s", e.Name)
			fmt.Fprintf(w, ": %s\n", e.Reason)
		case dag.StatusSkipped:
			skipColor.Fprintf(w, "  skip    %s", e.Name)
			fmt.Fprintf(w, ": %s\n", e.Reason)
		default:
			fmt.Fprintf(w, "  ?       %s (%s)\n", e.Name, e.Status)
		}
	}

	c := r.Counts()
	fmt.Fprintf(w, "Summary: %d built, %d up to date, %d failed, %d skipped\n",
		c.Succeeded, c.UpToDate, c.Failed, c.Skipped)
}
