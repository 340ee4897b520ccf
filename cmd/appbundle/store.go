// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStoreCommand creates the `appbundle store` command tree.
func newStoreCommand(app *App) *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and maintain the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	storeCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the store location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := app.Stores.Open(cmd.Context(), configPathFromContext(cmd.Context()))
			if err != nil {
				return handleServiceError(cmd, app, err)
			}
			fmt.Fprintln(app.stdout, st.Dir())
			return nil
		},
	})

	storeCmd.AddCommand(&cobra.Command{
		Use:   "roots",
		Short: "List output links that keep store entries alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := app.Stores.Open(cmd.Context(), configPathFromContext(cmd.Context()))
			if err != nil {
				return handleServiceError(cmd, app, err)
			}
			roots, stale, err := st.Roots()
			if err != nil {
				return err
			}
			for _, r := range roots {
				fmt.Fprintln(app.stdout, r)
			}
			if len(stale) > 0 {
				fmt.Fprintf(app.stderr, "%s %d stale root(s), run %s to prune\n",
					WarningStyle.Render("!"), len(stale), CmdStyle.Render("appbundle store gc"))
			}
			return nil
		},
	})

	storeCmd.AddCommand(&cobra.Command{
		Use:   "gc",
		Short: "Delete store entries no output link refers to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := app.Stores.Open(cmd.Context(), configPathFromContext(cmd.Context()))
			if err != nil {
				return handleServiceError(cmd, app, err)
			}
			res, err := st.CollectGarbage(cmd.Context())
			if err != nil {
				return fmt.Errorf("garbage collection failed: %w", err)
			}
			for _, p := range res.Deleted {
				fmt.Fprintf(app.stdout, "deleted %s\n", p)
			}
			fmt.Fprintf(app.stdout, "%s %d deleted, %d root(s), %d stale root(s) pruned\n",
				SuccessStyle.Render("✓"), len(res.Deleted), len(res.Roots), len(res.StaleRoots))
			return nil
		},
	})

	return storeCmd
}
