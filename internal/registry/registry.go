package registry

import (
	"context"
	"fmt"

	"github.com/vk/distforge/internal/ctxlog"
	"github.com/vk/distforge/internal/fsutil"
	"github.com/vk/distforge/internal/recipe"
)

// Registry holds every recipe known to a run, keyed by name. It preserves
// load order so that dependency resolution is reproducible across runs.
type Registry struct {
	recipes map[string]*recipe.Recipe
	order   []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{recipes: make(map[string]*recipe.Recipe)}
}

// Load finds and parses every recipe file under recipesPath into a registry.
// A malformed file or a duplicate recipe name fails the load with a
// recipe.ParseError.
func Load(ctx context.Context, recipesPath string) (*Registry, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Registry loading recipes from path.", "path", recipesPath)

	files, err := fsutil.FindRecipeFiles(recipesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find recipe files in %s: %w", recipesPath, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no recipe files found in %s", recipesPath)
	}
	logger.Debug("Found recipe files to load.", "count", len(files))

	reg := New()
	for _, file := range files {
		recipes, err := recipe.ParseFile(file)
		if err != nil {
			return nil, err
		}
		for _, r := range recipes {
			if err := reg.Add(r); err != nil {
				return nil, err
			}
		}
		logger.Debug("Loaded recipe file.", "file", file, "recipes", len(recipes))
	}

	logger.Info("Registry loaded.", "recipe_count", reg.Len())
	return reg, nil
}

// Add inserts a recipe into the registry. Duplicate names are a load error
// because Name is the unique key of the whole registry.
func (reg *Registry) Add(r *recipe.Recipe) error {
	if existing, ok := reg.recipes[r.Name]; ok {
		return &recipe.ParseError{
			File: r.File,
			Line: r.Line,
			Msg:  fmt.Sprintf("duplicate recipe name %q (first defined in %s)", r.Name, existing.File),
		}
	}
	reg.recipes[r.Name] = r
	reg.order = append(reg.order, r.Name)
	return nil
}

// Get returns the recipe with the given name, if present.
func (reg *Registry) Get(name string) (*recipe.Recipe, bool) {
	r, ok := reg.recipes[name]
	return r, ok
}

// Names returns all recipe names in registry load order.
func (reg *Registry) Names() []string {
	out := make([]string, len(reg.order))
	copy(out, reg.order)
	return out
}

// Len returns the number of recipes in the registry.
func (reg *Registry) Len() int {
	return len(reg.order)
}
