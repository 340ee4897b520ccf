// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/appbundle/appbundle/internal/config"
	"github.com/appbundle/appbundle/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	verbose    bool
	configPath string
}

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "appbundle",
		Short: "Bundle applications into standalone artifacts",
		Long: TitleStyle.Render("appbundle") + SubtitleStyle.Render(" - Bundle applications into standalone artifacts") + `

appbundle resolves an application from a CUE package, hands it to a
bundler function from another package, builds the resulting plan in a
local content-addressed store and links the output into the current
directory.

` + SubtitleStyle.Render("Examples:") + `
  appbundle bundle                       Bundle the default app of ./
  appbundle bundle .#hello               Bundle the 'hello' app
  appbundle bundle .#hello --bundler ./bundlers#toTarball
  appbundle store gc                     Delete unreferenced store entries
  appbundle config show                  Show current configuration`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			verbose := flags.verbose
			if !verbose {
				// A broken config file is reported by the command that needs it.
				if cfg, err := app.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: flags.configPath}); err == nil {
					verbose = cfg.UI.Verbose
				}
			}
			slog.SetDefault(newLogger(app.stderr, verbose))
			cmd.SetContext(contextWithVerbose(contextWithConfigPath(cmd.Context(), flags.configPath), verbose))
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/appbundle/config.cue)")

	rootCmd.AddCommand(newBundleCommand(app))
	rootCmd.AddCommand(newStoreCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version != "dev" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev (built from source)"
}

// Execute runs the CLI and exits the process. It is called by main.main().
func Execute() {
	os.Exit(Run())
}

// Run runs the CLI with os.Args and returns the process exit code.
func Run() int {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		return 1
	}

	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		return 1
	}
	return 0
}

// formatErrorForDisplay formats an error for user display. ActionableErrors
// use their own formatting, which includes the error chain in verbose mode.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// handleServiceError renders a ServiceError with its issue help and turns it
// into an ExitError so the command exits non-zero without a usage dump.
func handleServiceError(cmd *cobra.Command, app *App, err error) error {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return err
	}

	style := config.ColorSchemeAuto.GlamourStyle()
	if cfg, loadErr := app.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: configPathFromContext(cmd.Context())}); loadErr == nil {
		style = cfg.UI.ColorScheme.GlamourStyle()
	}

	fmt.Fprintln(app.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(svcErr.Err, verboseFromContext(cmd.Context())))
	renderServiceError(app.stderr, svcErr, style)
	cmd.SilenceErrors = true
	return &ExitError{Code: 1, Err: err}
}
