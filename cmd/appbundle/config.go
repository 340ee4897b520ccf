// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/appbundle/appbundle/internal/config"
	"github.com/appbundle/appbundle/internal/issue"
)

// newConfigCommand creates the `appbundle config` command tree.
// Subcommands that read configuration use the App's ConfigProvider.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage appbundle configuration",
		Long: `Manage appbundle configuration.

Configuration is stored in:
  - Linux: ~/.config/appbundle/config.cue
  - macOS: ~/Library/Application Support/appbundle/config.cue
  - Windows: %APPDATA%\appbundle\config.cue

Every key can be overridden with an APPBUNDLE_ environment variable, e.g.
APPBUNDLE_STORE_DIR or APPBUNDLE_UI_VERBOSE.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := showConfig(cmd.Context(), app); err != nil {
				return handleServiceError(cmd, app, err)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: configPathFromContext(cmd.Context())})
			if err != nil {
				return handleServiceError(cmd, app, newServiceError(err, issue.ConfigLoadFailedId, ""))
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	opts := config.LoadOptions{ConfigFilePath: configPathFromContext(ctx)}
	cfg, err := app.Config.Load(ctx, opts)
	if err != nil {
		return newServiceError(err, issue.ConfigLoadFailedId, "")
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	out := app.stdout

	fmt.Fprintln(out, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(out)

	if path, pathErr := config.FilePath(opts); pathErr == nil && path != "" {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("store_dir"), valueStyle.Render(cfg.StoreDir))
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("cache_dir"), valueStyle.Render(cfg.CacheDir))
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("default_bundler"), valueStyle.Render(cfg.DefaultBundler))
	system := cfg.System
	if system == "" {
		system = SubtitleStyle.Render("(host)")
	} else {
		system = valueStyle.Render(system)
	}
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("system"), system)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", keyStyle.Render("registry"))
	if len(cfg.Registry) == 0 {
		fmt.Fprintf(out, "  %s\n", SubtitleStyle.Render("(none configured)"))
	} else {
		keys := make([]string, 0, len(cfg.Registry))
		for k := range cfg.Registry {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s -> %s\n", k, valueStyle.Render(cfg.Registry[k]))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", keyStyle.Render("ui"))
	fmt.Fprintf(out, "  color_scheme: %s\n", valueStyle.Render(string(cfg.UI.ColorScheme)))
	fmt.Fprintf(out, "  verbose: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.UI.Verbose)))

	return nil
}

func initConfig(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	path, err := config.CreateDefaultConfig(cfgDir)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func showConfigPath(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
	fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
	return nil
}
