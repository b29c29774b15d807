package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/distforge/internal/ctxlog"
	"github.com/vk/distforge/internal/profile"
	"github.com/vk/distforge/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	profile  *profile.Profile
	config   *Config
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger, a loaded recipe
// registry and the selected build profile. Failures to load either are
// fatal startup errors and panic; the entrypoint recovers them into a clean
// exit message.
func NewApp(outW io.Writer, appConfig *Config) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg, err := registry.Load(ctx, appConfig.RecipesPath)
	if err != nil {
		panic(fmt.Errorf("failed to load recipe registry: %w", err))
	}
	logger.Debug("Recipe registry loaded.", "recipe_count", reg.Len())

	prof := profile.Default()
	if appConfig.ProfilePath != "" {
		prof, err = profile.Load(ctx, appConfig.ProfilePath, appConfig.ProfileName)
		if err != nil {
			panic(fmt.Errorf("failed to load build profile: %w", err))
		}
	}
	logger.Debug("Build profile selected.", "profile", prof.Name)

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		profile:  prof,
		config:   appConfig,
	}
}

// Registry returns the application's recipe registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Profile returns the application's build profile. This is primarily for testing.
func (a *App) Profile() *profile.Profile {
	return a.profile
}
