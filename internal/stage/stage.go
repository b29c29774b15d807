package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/vk/distforge/internal/ctxlog"
	"github.com/vk/distforge/internal/recipe"
)

// Error reports a lifecycle stage whose shell body exited non-zero. It is
// fatal to the recipe and all of its dependents; independent subtrees keep
// building.
type Error struct {
	Recipe   string
	Stage    recipe.Stage
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("recipe %q: %s stage failed with exit code %d", e.Recipe, e.Stage, e.ExitCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Env is the immutable build-context record passed into every stage
// invocation. The orchestrator binds these as environment variables; stage
// bodies consume them as ${source_dir}, ${dest_dir} and so on. There is no
// ambient global state beyond this record.
type Env struct {
	// WorkDir is the scoped build directory the stage runs in.
	WorkDir string

	SourceDir   string
	DestDir     string
	Prefix      string
	SysrootDir  string
	BaseDir     string
	Triplet     string
	Parallelism int

	// Extra carries profile-level additions such as CFLAGS.
	Extra map[string]string
}

// environ renders the bindings on top of the parent process environment.
func (e Env) environ() []string {
	env := append(os.Environ(),
		"source_dir="+e.SourceDir,
		"dest_dir="+e.DestDir,
		"prefix="+e.Prefix,
		"sysroot_dir="+e.SysrootDir,
		"base_dir="+e.BaseDir,
		"parallelism="+strconv.Itoa(e.Parallelism),
		"OS_TRIPLET="+e.Triplet,
	)
	for k, v := range e.Extra {
		env = append(env, k+"="+v)
	}
	return env
}

// Runner executes stage bodies as shell subprocesses. The contract with a
// stage body is: given a prepared working directory and environment, exit 0
// and (for package stages) populate ${dest_dir}.
type Runner struct {
	// Shell is the interpreter for stage bodies. Defaults to bash.
	Shell string
	// Grace is how long a cancelled stage gets between SIGTERM and SIGKILL.
	Grace time.Duration
	// Out receives combined stage stdout/stderr.
	Out io.Writer
}

// NewRunner returns a runner with the standard shell and grace period.
func NewRunner(out io.Writer) *Runner {
	return &Runner{
		Shell: "bash",
		Grace: 10 * time.Second,
		Out:   out,
	}
}

// Run executes one lifecycle stage of a recipe. Cancellation of ctx sends
// SIGTERM to the stage's process group and escalates to SIGKILL after the
// grace period, so an aborted orchestrator never leaves orphaned builds.
func (r *Runner) Run(ctx context.Context, rcp *recipe.Recipe, st recipe.Stage, env Env) error {
	logger := ctxlog.FromContext(ctx).With("recipe", rcp.Name, "stage", st.String())

	body, ok := rcp.StageBody(st)
	if !ok {
		return fmt.Errorf("recipe %q has no %s stage", rcp.Name, st)
	}

	cmd := exec.CommandContext(ctx, r.Shell, "-ec", body)
	cmd.Dir = env.WorkDir
	cmd.Env = env.environ()
	cmd.Stdout = r.Out
	cmd.Stderr = r.Out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the whole process group, which covers
		// make/ninja children spawned by the stage body.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = r.Grace

	logger.Debug("Running stage subprocess.", "workdir", env.WorkDir)
	start := time.Now()
	err := cmd.Run()
	logger.Debug("Stage subprocess finished.", "duration", time.Since(start), "error", err)

	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Error{Recipe: rcp.Name, Stage: st, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return &Error{Recipe: rcp.Name, Stage: st, ExitCode: -1, Err: err}
}

// Unpack extracts a source tarball into dir, stripping the archive's
// top-level directory. Extraction is delegated to tar(1) so every
// compression format the host supports works without special-casing.
func Unpack(ctx context.Context, archive, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating source dir %s: %w", dir, err)
	}
	cmd := exec.CommandContext(ctx, "tar", "-xf", archive, "-C", dir, "--strip-components=1")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("unpacking %s: %w: %s", archive, err, out)
	}
	return nil
}
