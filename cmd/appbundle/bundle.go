// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newBundleCommand creates the `appbundle bundle` command.
func newBundleCommand(app *App) *cobra.Command {
	var (
		bundler string
		outLink string
	)

	cmd := &cobra.Command{
		Use:   "bundle [installable]",
		Short: "Bundle an application into a standalone artifact",
		Long: `Bundle an application into a standalone artifact.

The installable has the form <ref>[#attr] and defaults to ".", the package in
the current directory. Without an attribute the package's defaultApp for the
current system is used; otherwise apps.<system>.<attr> and then <attr> are
tried.

The bundler is a package reference with an optional #entry. Entries are
looked up under bundlers.<system>. The entry defaults to defaultBundler and
the package defaults to the configured default_bundler.

On success a symlink to the bundle is created in the current directory,
named after the application's program unless --out-link is given.

` + SubtitleStyle.Render("Examples:") + `
  appbundle bundle
  appbundle bundle .#hello
  appbundle bundle github:owner/apps#hello --bundler ./bundlers#toArx
  appbundle bundle .#hello -o result`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			installable := "."
			if len(args) == 1 {
				installable = args[0]
			}

			res, err := app.Bundles.Bundle(cmd.Context(), BundleRequest{
				Installable: installable,
				Bundler:     bundler,
				OutLink:     outLink,
				ConfigPath:  configPathFromContext(cmd.Context()),
			})
			if err != nil {
				return handleServiceError(cmd, app, err)
			}

			fmt.Fprintf(app.stdout, "%s Bundled %s with %s\n", SuccessStyle.Render("✓"), res.App.Program, CmdStyle.Render(res.Bundler.String()))
			fmt.Fprintf(app.stdout, "%s -> %s\n", res.Link, res.Output)
			if verboseFromContext(cmd.Context()) {
				fmt.Fprintf(app.stdout, "%s %s\n", VerboseStyle.Render("plan:"), res.Plan)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bundler, "bundler", "", "bundler to use, as <ref>[#entry] (default is the configured default_bundler)")
	cmd.Flags().StringVarP(&outLink, "out-link", "o", "", "path of the output symlink (default is the program name)")

	return cmd
}
