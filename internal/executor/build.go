package executor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/vk/distforge/internal/ctxlog"
	"github.com/vk/distforge/internal/dag"
	"github.com/vk/distforge/internal/recipe"
	"github.com/vk/distforge/internal/stage"
	"github.com/vk/distforge/internal/store"
)

// executeNode runs one recipe through its lifecycle: up-to-date check,
// staging directory acquisition, source fetch and unpack, then the strictly
// ordered regenerate -> build -> package stages, finishing with a store
// record. It returns the terminal success status or an error.
func (e *Executor) executeNode(ctx context.Context, n *dag.Node) (dag.Status, error) {
	rcp := n.Recipe
	logger := ctxlog.FromContext(ctx).With("recipe", rcp.Name, "id", rcp.ID())

	if e.cfg.SourceStage {
		if _, ok := rcp.StageBody(recipe.StageRegenerate); !ok {
			logger.Debug("Recipe has no regenerate stage, nothing to do.")
			return dag.StatusUpToDate, nil
		}
		if !e.cfg.Store.NeedsRegenerate(rcp) {
			logger.Debug("Regenerate already ran for this identity.")
			return dag.StatusUpToDate, nil
		}
	} else if e.cfg.Store.UpToDate(rcp) {
		logger.Debug("Recipe already built at this identity.")
		return dag.StatusUpToDate, nil
	}

	staging, err := e.acquireStaging(ctx, rcp)
	if err != nil {
		return 0, err
	}
	defer staging.release(ctx)

	if rcp.TarballURL != "" {
		tarball, err := e.cfg.Fetcher.Fetch(ctx, rcp.SourceURL(), rcp.TarballBLAKE2B)
		if err != nil {
			return 0, err
		}
		logger.Debug("Unpacking source tarball.", "tarball", tarball)
		if err := stage.Unpack(ctx, tarball, staging.sourceDir); err != nil {
			return 0, err
		}
	}

	env := stage.Env{
		WorkDir:     staging.workDir,
		SourceDir:   staging.sourceDir,
		DestDir:     staging.destDir,
		Prefix:      e.cfg.Profile.Prefix,
		SysrootDir:  e.sysrootDir(),
		BaseDir:     e.cfg.BaseDir,
		Triplet:     e.cfg.Profile.Triplet,
		Parallelism: e.cfg.Profile.Parallelism,
		Extra:       e.cfg.Profile.Env,
	}

	// The staging area was just rebuilt from pristine sources, so any prior
	// regenerate outputs are gone; the stage runs whenever the recipe defines
	// it. The store's regenerate marker only short-circuits source-stage runs,
	// whose sole observable effect is the marker itself.
	regenerated := false
	if _, ok := rcp.StageBody(recipe.StageRegenerate); ok {
		logger.Info("Regenerating build scripts.")
		if err := e.cfg.Runner.Run(ctx, rcp, recipe.StageRegenerate, env); err != nil {
			return 0, err
		}
		regenerated = true
	}

	if e.cfg.SourceStage {
		if err := e.recordSourceStage(rcp, regenerated); err != nil {
			return 0, err
		}
		return dag.StatusSucceeded, nil
	}

	logger.Info("Building.")
	if err := e.cfg.Runner.Run(ctx, rcp, recipe.StageBuild, env); err != nil {
		return 0, err
	}

	logger.Info("Packaging.")
	if err := e.cfg.Runner.Run(ctx, rcp, recipe.StagePackage, env); err != nil {
		return 0, err
	}

	manifest, err := collectManifest(staging.destDir)
	if err != nil {
		return 0, fmt.Errorf("collecting manifest for %s: %w", rcp.Name, err)
	}

	// A cancelled run must never record a partially completed package.
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	rec := &store.Record{
		Name:        rcp.Name,
		Version:     rcp.Version,
		Revision:    rcp.Revision,
		BuildID:     e.cfg.BuildID,
		BuiltAt:     time.Now().UTC(),
		Packaged:    true,
		Regenerated: regenerated,
		Files:       manifest,
	}
	if err := e.cfg.Store.Record(rec); err != nil {
		return 0, err
	}

	logger.Info("Recipe packaged.", "files", len(manifest))
	return dag.StatusSucceeded, nil
}

// recordSourceStage persists the regenerate marker without claiming the
// package was built.
func (e *Executor) recordSourceStage(rcp *recipe.Recipe, regenerated bool) error {
	rec := &store.Record{
		Name:        rcp.Name,
		Version:     rcp.Version,
		Revision:    rcp.Revision,
		BuildID:     e.cfg.BuildID,
		BuiltAt:     time.Now().UTC(),
		Regenerated: regenerated,
	}
	if prev, ok := e.cfg.Store.Latest(rcp.Name); ok && prev.Matches(rcp) {
		rec.Packaged = prev.Packaged
		rec.Files = prev.Files
		rec.Regenerated = rec.Regenerated || prev.Regenerated
	}
	return e.cfg.Store.Record(rec)
}

func (e *Executor) sysrootDir() string {
	dir := e.cfg.Profile.SysrootDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.cfg.BaseDir, dir)
	}
	return dir
}

// staging is one recipe's scoped working-directory acquisition: a fresh
// build directory, a fresh destination directory, and an exclusive lock so
// no two concurrent builds ever write the same recipe's staging area.
type staging struct {
	name      string
	workDir   string
	sourceDir string
	destDir   string
	lock      *flock.Flock
}

// acquireStaging prepares the staging area for a recipe. The directories
// are recreated from scratch each time: stale build state from an aborted
// run must never leak into a new build.
func (e *Executor) acquireStaging(ctx context.Context, rcp *recipe.Recipe) (*staging, error) {
	workDir := filepath.Join(e.cfg.BaseDir, "builds", rcp.Name)
	destDir := filepath.Join(e.cfg.BaseDir, "dest", rcp.Name)

	if err := os.MkdirAll(filepath.Dir(workDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating build area: %w", err)
	}

	lock := flock.New(filepath.Join(filepath.Dir(workDir), "."+rcp.Name+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking staging dir for %s: %w", rcp.Name, err)
	}
	if !locked {
		return nil, fmt.Errorf("staging dir for %s is locked by another build", rcp.Name)
	}

	for _, dir := range []string{workDir, destDir} {
		if err := os.RemoveAll(dir); err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("clearing %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	s := &staging{
		name:      rcp.Name,
		workDir:   workDir,
		sourceDir: filepath.Join(workDir, "source"),
		destDir:   destDir,
		lock:      lock,
	}
	if err := os.MkdirAll(s.sourceDir, 0o755); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("creating %s: %w", s.sourceDir, err)
	}
	return s, nil
}

// release runs on every exit path of executeNode, success or not.
func (s *staging) release(ctx context.Context) {
	if err := s.lock.Unlock(); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to release staging lock.", "recipe", s.name, "error", err)
	}
}

// collectManifest walks the destination directory and returns the installed
// file paths relative to it, in lexical order.
func collectManifest(destDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(destDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(destDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
