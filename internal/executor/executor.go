package executor

import (
	"context"
	"sync"
	"time"

	"github.com/vk/distforge/internal/ctxlog"
	"github.com/vk/distforge/internal/dag"
	"github.com/vk/distforge/internal/fetch"
	"github.com/vk/distforge/internal/profile"
	"github.com/vk/distforge/internal/report"
	"github.com/vk/distforge/internal/stage"
	"github.com/vk/distforge/internal/store"
)

// Config carries everything an Executor needs for one run.
type Config struct {
	Graph   *dag.Graph
	Store   *store.Store
	Fetcher *fetch.Fetcher
	Runner  *stage.Runner
	Profile *profile.Profile

	// BaseDir is the working area; per-recipe build and staging directories
	// live under it.
	BaseDir string
	// Workers bounds how many recipes build concurrently. Stages within one
	// recipe are always strictly sequential.
	Workers int
	// SourceStage restricts the run to regenerate stages, with source_*
	// dependency edges already folded into the graph by the resolver.
	SourceStage bool
	// BuildID identifies this run in logs and store records.
	BuildID string
}

// Executor walks the dependency graph with a bounded worker pool. A recipe
// becomes ready when all of its dependencies have completed their package
// stage; a failure skips the failed recipe's dependents but leaves
// independent subtrees running to completion.
type Executor struct {
	cfg Config

	wg        sync.WaitGroup
	durations sync.Map // recipe name -> time.Duration
}

// New creates an executor for a built graph.
func New(cfg Config) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Executor{cfg: cfg}
}

// Run executes the graph and returns the build report. The returned report
// is complete even when recipes failed; the caller decides the process exit
// from report.HasFailures. Cancelling ctx stops dispatch, terminates
// in-flight stages and marks everything unfinished as skipped.
func (e *Executor) Run(ctx context.Context) *report.Report {
	logger := ctxlog.FromContext(ctx)
	nodes := e.cfg.Graph.Nodes

	readyChan := make(chan *dag.Node, len(nodes))
	roots := e.cfg.Graph.Roots()
	logger.Debug("Executor starting.", "nodes", len(nodes), "roots", len(roots), "workers", e.cfg.Workers)
	for _, n := range roots {
		readyChan <- n
	}

	e.wg.Add(len(nodes))
	for i := 0; i < e.cfg.Workers; i++ {
		go e.worker(ctx, readyChan, i)
	}

	e.wg.Wait()
	close(readyChan)
	logger.Debug("Executor finished, all nodes accounted for.")

	return e.buildReport()
}

// buildReport snapshots every node's terminal state in resolved order.
func (e *Executor) buildReport() *report.Report {
	rep := &report.Report{BuildID: e.cfg.BuildID}
	for _, name := range e.cfg.Graph.Order {
		n := e.cfg.Graph.Nodes[name]
		entry := report.Entry{Name: name, Status: n.Status()}
		if n.Err != nil {
			entry.Reason = n.Err.Error()
		}
		if d, ok := e.durations.Load(name); ok {
			entry.Duration = d.(time.Duration)
		}
		rep.Entries = append(rep.Entries, entry)
	}
	return rep
}
