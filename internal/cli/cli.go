package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/distforge/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("distforge", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
distforge - A dependency-resolving recipe build orchestrator.

Usage:
  distforge [options] [RECIPES_PATH]

Arguments:
  RECIPES_PATH
    Path to a directory containing recipe files.

Options:
`)
		flagSet.PrintDefaults()
	}

	recipesFlag := flagSet.String("recipes", "", "Path to the recipes directory.")
	rFlag := flagSet.String("r", "", "Path to the recipes directory (shorthand).")
	var targets stringList
	flagSet.Var(&targets, "target", "Recipe to build, with its dependency closure. Repeatable; empty builds everything.")
	flagSet.Var(&targets, "t", "Recipe to build (shorthand). Repeatable.")
	profileFlag := flagSet.String("profile", "", "Path to an HCL build profile file. Empty uses built-in defaults.")
	profileNameFlag := flagSet.String("profile-name", "default", "Name of the profile block to use.")
	baseDirFlag := flagSet.String("base-dir", ".distforge", "Working area for builds, staging, sources and the artifact store.")
	workersFlag := flagSet.Int("workers", 4, "Number of recipes built concurrently.")
	planFlag := flagSet.Bool("plan", false, "Print the resolved build order and exit without building.")
	sourceStageFlag := flagSet.Bool("source-stage", false, "Run only regenerate stages, resolving source_* dependencies.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *recipesFlag != "" {
		path = *recipesFlag
	} else if *rFlag != "" {
		path = *rFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Recipes path determined.", "path", path)

	if path == "" {
		slog.Debug("No recipes path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if *workersFlag < 1 {
		return nil, false, &ExitError{Code: 2, Message: "invalid workers: must be at least 1"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		RecipesPath: path,
		Targets:     targets,
		ProfilePath: *profileFlag,
		ProfileName: *profileNameFlag,
		BaseDir:     *baseDirFlag,
		Workers:     *workersFlag,
		Plan:        *planFlag,
		SourceStage: *sourceStageFlag,
		LogFormat:   logFormat,
		LogLevel:    logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
