package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/distforge/internal/dag"
	"github.com/vk/distforge/internal/fetch"
	"github.com/vk/distforge/internal/profile"
	"github.com/vk/distforge/internal/recipe"
	"github.com/vk/distforge/internal/registry"
	"github.com/vk/distforge/internal/report"
	"github.com/vk/distforge/internal/stage"
	"github.com/vk/distforge/internal/store"
)

// testRecipe builds a recipe whose build stage installs a marker file and
// appends a line to ${base_dir}/stage-log, so tests can count real stage
// executions across runs.
func testRecipe(name string, deps ...string) *recipe.Recipe {
	return &recipe.Recipe{
		Name:     name,
		Version:  "1.0",
		Revision: 1,
		Deps:     deps,
		Build:    `echo "` + name + `" >> "${base_dir}/stage-log"` + "\n" + `touch "${dest_dir}/usr-bin-` + name + `"`,
		Package:  "true",
	}
}

// harness wires a registry, store and executor together against a temp dir.
type harness struct {
	baseDir string
	reg     *registry.Registry
	store   *store.Store
}

func newHarness(t *testing.T, recipes ...*recipe.Recipe) *harness {
	t.Helper()

	reg := registry.New()
	for _, r := range recipes {
		require.NoError(t, reg.Add(r))
	}

	baseDir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(baseDir, "store"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &harness{baseDir: baseDir, reg: reg, store: st}
}

func (h *harness) run(t *testing.T, ctx context.Context) *report.Report {
	t.Helper()
	return h.runMode(t, ctx, false)
}

func (h *harness) runMode(t *testing.T, ctx context.Context, sourceStage bool) *report.Report {
	t.Helper()

	order, err := dag.Resolve(ctx, h.reg, nil, sourceStage)
	require.NoError(t, err)
	graph, err := dag.Build(h.reg, order, sourceStage)
	require.NoError(t, err)

	fetcher, err := fetch.New(filepath.Join(h.baseDir, "sources"))
	require.NoError(t, err)

	prof := profile.Default()
	prof.Parallelism = 2

	exec := New(Config{
		Graph:       graph,
		Store:       h.store,
		Fetcher:     fetcher,
		Runner:      stage.NewRunner(io.Discard),
		Profile:     prof,
		BaseDir:     h.baseDir,
		Workers:     3,
		SourceStage: sourceStage,
		BuildID:     "test-run",
	})
	return exec.Run(ctx)
}

// stageLog returns one entry per executed build stage, in execution order.
func (h *harness) stageLog(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.baseDir, "stage-log"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func statusOf(rep *report.Report, name string) dag.Status {
	for _, e := range rep.Entries {
		if e.Name == name {
			return e.Status
		}
	}
	return dag.StatusPending
}

func reasonOf(rep *report.Report, name string) string {
	for _, e := range rep.Entries {
		if e.Name == name {
			return e.Reason
		}
	}
	return ""
}

func TestRun_Diamond(t *testing.T) {
	h := newHarness(t,
		testRecipe("zlib"),
		testRecipe("openssl", "zlib"),
		testRecipe("curl", "zlib"),
		testRecipe("git", "openssl", "curl"),
	)

	rep := h.run(t, context.Background())

	for _, name := range []string{"zlib", "openssl", "curl", "git"} {
		assert.Equal(t, dag.StatusSucceeded, statusOf(rep, name), name)
	}
	assert.False(t, rep.HasFailures())

	// Every build ran exactly once and zlib ran before its dependents.
	log := h.stageLog(t)
	require.Len(t, log, 4)
	assert.Equal(t, "zlib", log[0])
	assert.Equal(t, "git", log[3])

	// The store holds a packaged record with the installed manifest.
	rec, ok := h.store.Latest("zlib")
	require.True(t, ok)
	assert.True(t, rec.Packaged)
	assert.Equal(t, []string{"usr-bin-zlib"}, rec.Files)
	assert.Equal(t, "test-run", rec.BuildID)
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t,
		testRecipe("zlib"),
		testRecipe("curl", "zlib"),
	)

	first := h.run(t, context.Background())
	require.False(t, first.HasFailures())
	require.Len(t, h.stageLog(t), 2)

	second := h.run(t, context.Background())
	assert.False(t, second.HasFailures())
	assert.Equal(t, dag.StatusUpToDate, statusOf(second, "zlib"))
	assert.Equal(t, dag.StatusUpToDate, statusOf(second, "curl"))

	// No stage ran on the second pass.
	assert.Len(t, h.stageLog(t), 2)
}

func TestRun_RevisionBumpRebuilds(t *testing.T) {
	zlib := testRecipe("zlib")
	h := newHarness(t, zlib)

	require.False(t, h.run(t, context.Background()).HasFailures())
	require.Len(t, h.stageLog(t), 1)

	zlib.Revision = 2
	rep := h.run(t, context.Background())
	assert.Equal(t, dag.StatusSucceeded, statusOf(rep, "zlib"))
	assert.Len(t, h.stageLog(t), 2)

	rec, ok := h.store.Latest("zlib")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Revision)
}

func TestRun_FailureSkipsDependentsOnly(t *testing.T) {
	broken := testRecipe("binutils")
	broken.Build = "exit 1"

	h := newHarness(t,
		broken,
		testRecipe("gcc", "binutils"),
		testRecipe("gdb", "binutils"),
		testRecipe("toolchain", "gcc", "gdb"),
		testRecipe("zlib"), // independent of the broken subtree
	)

	rep := h.run(t, context.Background())

	assert.Equal(t, dag.StatusFailed, statusOf(rep, "binutils"))
	assert.Equal(t, dag.StatusSkipped, statusOf(rep, "gcc"))
	assert.Equal(t, dag.StatusSkipped, statusOf(rep, "gdb"))
	assert.Equal(t, dag.StatusSkipped, statusOf(rep, "toolchain"))
	assert.Equal(t, dag.StatusSucceeded, statusOf(rep, "zlib"))

	assert.Contains(t, reasonOf(rep, "binutils"), "exit code 1")
	assert.Contains(t, reasonOf(rep, "gcc"), `dependency "binutils" failed`)

	assert.True(t, rep.HasFailures())
	counts := rep.Counts()
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 3, counts.Skipped)
	assert.Equal(t, 1, counts.Succeeded)

	// Nothing from the failed subtree reaches the store.
	_, ok := h.store.Latest("binutils")
	assert.False(t, ok)
	_, ok = h.store.Latest("gcc")
	assert.False(t, ok)
	_, ok = h.store.Latest("zlib")
	assert.True(t, ok)
}

func TestRun_FailedPackageStageRecordsNothing(t *testing.T) {
	broken := testRecipe("zlib")
	broken.Package = "exit 7"

	h := newHarness(t, broken)
	rep := h.run(t, context.Background())

	assert.Equal(t, dag.StatusFailed, statusOf(rep, "zlib"))
	assert.Contains(t, reasonOf(rep, "zlib"), "package stage failed")

	_, ok := h.store.Latest("zlib")
	assert.False(t, ok, "a failed package stage must not produce a record")
}

func TestRun_FullBuildRegeneratesAfterSourceStageRun(t *testing.T) {
	// The build stage depends on a file only regenerate produces. Staging
	// directories are rebuilt from pristine sources on every run, so a full
	// build after a regenerate-only run must rerun regenerate even though the
	// store already carries the marker.
	rcp := testRecipe("pkgconf")
	rcp.Regenerate = `echo regen >> "${base_dir}/stage-log"` + "\n" + `touch "${source_dir}/configure"`
	rcp.Build = `test -f "${source_dir}/configure"` + "\n" + rcp.Build

	h := newHarness(t, rcp)

	src := h.runMode(t, context.Background(), true)
	require.False(t, src.HasFailures())
	assert.Equal(t, dag.StatusSucceeded, statusOf(src, "pkgconf"))
	assert.Equal(t, []string{"regen"}, h.stageLog(t))

	rec, ok := h.store.Latest("pkgconf")
	require.True(t, ok)
	assert.True(t, rec.Regenerated)
	assert.False(t, rec.Packaged)

	t.Run("second regenerate-only run is a no-op", func(t *testing.T) {
		again := h.runMode(t, context.Background(), true)
		assert.Equal(t, dag.StatusUpToDate, statusOf(again, "pkgconf"))
		assert.Equal(t, []string{"regen"}, h.stageLog(t))
	})

	full := h.run(t, context.Background())
	require.False(t, full.HasFailures())
	assert.Equal(t, dag.StatusSucceeded, statusOf(full, "pkgconf"))
	assert.Equal(t, []string{"regen", "regen", "pkgconf"}, h.stageLog(t))
}

func TestRun_CancelledContextSkipsEverything(t *testing.T) {
	h := newHarness(t,
		testRecipe("zlib"),
		testRecipe("curl", "zlib"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := h.run(t, ctx)
	assert.Equal(t, dag.StatusSkipped, statusOf(rep, "zlib"))
	assert.Equal(t, dag.StatusSkipped, statusOf(rep, "curl"))
	assert.Empty(t, h.stageLog(t))
}
