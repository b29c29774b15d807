package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vk/distforge/internal/ctxlog"
	"github.com/vk/distforge/internal/dag"
	"github.com/vk/distforge/internal/executor"
	"github.com/vk/distforge/internal/fetch"
	"github.com/vk/distforge/internal/stage"
	"github.com/vk/distforge/internal/store"
)

// Run executes the main application logic: resolve the build order, then
// either print the plan or sequence the build and render the report.
func (a *App) Run(ctx context.Context) error {
	buildID := uuid.NewString()
	logger := a.logger.With("build_id", buildID)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("App.Run method started.")

	order, err := dag.Resolve(ctx, a.registry, a.config.Targets, a.config.SourceStage)
	if err != nil {
		return fmt.Errorf("failed to resolve build order: %w", err)
	}
	logger.Debug("Build order resolved.", "recipe_count", len(order))

	if a.config.Plan {
		for _, name := range order {
			fmt.Fprintln(a.outW, name)
		}
		return nil
	}

	graph, err := dag.Build(a.registry, order, a.config.SourceStage)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}

	st, err := store.Open(ctx, filepath.Join(a.config.BaseDir, "store"))
	if err != nil {
		return err
	}
	defer st.Close()

	fetcher, err := fetch.New(filepath.Join(a.config.BaseDir, "sources"))
	if err != nil {
		return err
	}

	logger.Info("Starting build.", "recipes", len(order), "workers", a.config.Workers, "profile", a.profile.Name)
	exec := executor.New(executor.Config{
		Graph:       graph,
		Store:       st,
		Fetcher:     fetcher,
		Runner:      stage.NewRunner(a.outW),
		Profile:     a.profile,
		BaseDir:     a.config.BaseDir,
		Workers:     a.config.Workers,
		SourceStage: a.config.SourceStage,
		BuildID:     buildID,
	})
	rep := exec.Run(ctx)

	rep.Render(a.outW)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("build cancelled: %w", err)
	}
	if rep.HasFailures() {
		c := rep.Counts()
		return fmt.Errorf("build failed: %d recipes failed, %d skipped", c.Failed, c.Skipped)
	}
	logger.Info("Build finished.")
	return nil
}
