package recipe

import (
	"fmt"
	"strings"
)

// Stage identifies one of the three lifecycle stages of a recipe.
type Stage int

const (
	// StageRegenerate re-runs the upstream project's build-script bootstrap
	// (autotools, meson). Optional.
	StageRegenerate Stage = iota
	// StageBuild configures and compiles the package. Required.
	StageBuild
	// StagePackage installs the build result into the staging destination
	// directory. Required.
	StagePackage
)

// String returns the stage name as it appears in recipe files.
func (s Stage) String() string {
	switch s {
	case StageRegenerate:
		return "regenerate"
	case StageBuild:
		return "build"
	case StagePackage:
		return "package"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Recipe is a single named, versioned build definition parsed from a recipe
// file. (Name, Version, Revision) is the true identity of a recipe's output
// for caching purposes; Revision bumps force rebuilds without version bumps.
type Recipe struct {
	// Name uniquely identifies the recipe across the registry.
	Name string
	// Version is the upstream version string.
	Version string
	// Revision is a monotonic per-(name, version) counter. Defaults to 1.
	Revision int

	// TarballURL points at the upstream source archive. Empty for meta or
	// vendored recipes that carry no upstream source.
	TarballURL string
	// TarballBLAKE2B is the hex BLAKE2b-512 digest of the tarball. Required
	// whenever TarballURL is set; fetching fails closed on mismatch.
	TarballBLAKE2B string

	// SourceHostDeps are tools needed on the build machine only to
	// regenerate the upstream build scripts.
	SourceHostDeps []string
	// SourceImageDeps are packages needed inside the target image only to
	// regenerate the upstream build scripts.
	SourceImageDeps []string
	// HostDeps are tools needed on the build machine to build this recipe.
	HostDeps []string
	// ImageDeps are packages needed inside the target image while this
	// recipe builds.
	ImageDeps []string
	// Deps are runtime dependencies of the built artifact.
	Deps []string
	// SourceDeps are source-level runtime dependencies.
	SourceDeps []string

	// Regenerate, Build and Package hold the opaque shell bodies of the
	// lifecycle stages. Regenerate may be empty.
	Regenerate string
	Build      string
	Package    string

	// File is the path of the recipe file this definition came from.
	File string
	// Line is the line at which the definition starts within File.
	Line int
}

// StageBody returns the shell body for the given stage and whether the
// recipe defines it at all.
func (r *Recipe) StageBody(s Stage) (string, bool) {
	switch s {
	case StageRegenerate:
		return r.Regenerate, r.Regenerate != ""
	case StageBuild:
		return r.Build, r.Build != ""
	case StagePackage:
		return r.Package, r.Package != ""
	}
	return "", false
}

// BuildDeps returns the recipe names that must be packaged before this
// recipe may build, in declaration order with duplicates removed. When
// sourceStage is true the source_* lists are included as well, which is
// required for source-stage-only (regenerate) builds.
func (r *Recipe) BuildDeps(sourceStage bool) []string {
	lists := [][]string{r.HostDeps, r.ImageDeps, r.Deps}
	if sourceStage {
		lists = append(lists, r.SourceHostDeps, r.SourceImageDeps, r.SourceDeps)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, dep := range list {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			out = append(out, dep)
		}
	}
	return out
}

// ID returns the (name, version, revision) identity string used for logging
// and store records.
func (r *Recipe) ID() string {
	return fmt.Sprintf("%s-%s-r%d", r.Name, r.Version, r.Revision)
}

// SourceURL expands the ${name} and ${version} references of the tarball
// URL template. Returns an empty string for recipes without a tarball.
func (r *Recipe) SourceURL() string {
	if r.TarballURL == "" {
		return ""
	}
	return strings.NewReplacer(
		"${name}", r.Name,
		"${version}", r.Version,
	).Replace(r.TarballURL)
}
