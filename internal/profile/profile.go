package profile

import (
	"context"
	"fmt"
	"runtime"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/distforge/internal/ctxlog"
)

// Profile is the build environment contract handed to every stage
// invocation: install prefix, target triplet, sysroot location and the
// parallel job count forwarded to wrapped build tools via ${parallelism}.
// It is immutable once loaded; stages receive it by value.
type Profile struct {
	Name string

	Prefix      string
	Triplet     string
	SysrootDir  string
	Parallelism int
	Env         map[string]string
}

// hclRoot is the top-level structure of a profile file for decoding.
type hclRoot struct {
	Profiles []*hclProfile `hcl:"profile,block"`
}

type hclProfile struct {
	Name        string            `hcl:"name,label"`
	Prefix      *string           `hcl:"prefix"`
	Triplet     *string           `hcl:"triplet"`
	SysrootDir  *string           `hcl:"sysroot_dir"`
	Parallelism *int              `hcl:"parallelism"`
	Env         map[string]string `hcl:"env,optional"`
}

// Default returns the profile used when no profile file is given: a
// host-arch triplet, /usr prefix and one build job per CPU.
func Default() *Profile {
	return &Profile{
		Name:        "default",
		Prefix:      "/usr",
		Triplet:     fmt.Sprintf("%s-distforge-mlibc", runtime.GOARCH),
		SysrootDir:  "sysroot",
		Parallelism: runtime.NumCPU(),
		Env:         map[string]string{},
	}
}

// Load parses an HCL profile file and returns the profile with the given
// name. Profile expressions may reference `arch` and `num_cpus`, which are
// bound to the host values at load time.
func Load(ctx context.Context, path, name string) (*Profile, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading build profile.", "path", path, "profile", name)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse profile file %s: %w", path, diags)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"arch":     cty.StringVal(runtime.GOARCH),
			"num_cpus": cty.NumberIntVal(int64(runtime.NumCPU())),
		},
	}

	var root hclRoot
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode profile file %s: %w", path, diags)
	}

	for _, block := range root.Profiles {
		if block.Name != name {
			continue
		}
		p := Default()
		p.Name = block.Name
		if block.Prefix != nil {
			p.Prefix = *block.Prefix
		}
		if block.Triplet != nil {
			p.Triplet = *block.Triplet
		}
		if block.SysrootDir != nil {
			p.SysrootDir = *block.SysrootDir
		}
		if block.Parallelism != nil {
			if *block.Parallelism < 1 {
				return nil, fmt.Errorf("profile %q: parallelism must be at least 1", name)
			}
			p.Parallelism = *block.Parallelism
		}
		if block.Env != nil {
			p.Env = block.Env
		}
		logger.Debug("Profile loaded.", "profile", p.Name, "triplet", p.Triplet, "parallelism", p.Parallelism)
		return p, nil
	}

	return nil, fmt.Errorf("profile %q not found in %s", name, path)
}
