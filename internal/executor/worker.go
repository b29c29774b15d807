package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/distforge/internal/ctxlog"
	"github.com/vk/distforge/internal/dag"
)

// worker is the processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *dag.Node, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for n := range readyChan {
		// A node can land in the ready queue after an upstream failure
		// already skipped it: its last healthy dependency decrements the
		// counter to zero. Skip accounting already happened, so just drop it.
		if n.Status() == dag.StatusSkipped {
			continue
		}

		if ctx.Err() != nil {
			if n.Skip(ctx.Err(), &e.wg) {
				e.skipDependents(ctx, n)
			}
			continue
		}

		workerLogger := logger.With("workerID", workerID, "recipe", n.Name)
		workerLogger.Debug("Worker picked up recipe.")
		n.SetStatus(dag.StatusRunning)

		start := time.Now()
		status, err := e.executeNode(ctx, n)
		e.durations.Store(n.Name, time.Since(start))

		if err != nil {
			workerLogger.Error("Recipe failed.", "error", err)
			n.Err = err
			n.SetStatus(dag.StatusFailed)
			// Only the failed subtree stops; siblings keep building, so no
			// cancellation here.
			e.skipDependents(ctx, n)
			e.wg.Done()
			continue
		}

		n.SetStatus(status)
		workerLogger.Debug("Recipe finished.", "status", status.String())

		for _, dependent := range n.Dependents {
			if dependent.DecrementDepCount() == 0 {
				workerLogger.Debug("Unlocking dependent recipe.", "dependent", dependent.Name)
				readyChan <- dependent
			}
		}

		e.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// skipDependents recursively marks all downstream recipes as skipped. Each
// node is accounted exactly once via its skip-once guard, so diamonds in
// the graph do not double-count against the WaitGroup.
func (e *Executor) skipDependents(ctx context.Context, n *dag.Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range n.Dependents {
		err := fmt.Errorf("dependency %q failed", n.Name)
		if dependent.Skip(err, &e.wg) {
			logger.Warn("Skipping recipe due to upstream failure.", "recipe", dependent.Name, "dependency", n.Name)
			e.skipDependents(ctx, dependent)
		}
	}
}
