package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func configCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change saved settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show saved settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			v := app.Settings.View()
			out := cmd.OutOrStdout()
			key := "(not set)"
			if v.APIKeySet {
				key = v.APIKeyHint
			}
			folder := v.WatchFolder
			if folder == "" {
				folder = "(not set)"
			}
			fmt.Fprintf(out, "API key:      %s\n", key)
			fmt.Fprintf(out, "Watch folder: %s\n", folder)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-key <api-key>",
		Short: "Save the API key used for the remote model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Settings.SetAPIKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ API key saved (%s)\n", app.Settings.View().APIKeyHint)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-folder <path>",
		Short: `Save the folder to watch ("" stops watching)`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Settings.SetWatchFolder(cmd.Context(), args[0]); err != nil {
				return err
			}
			if folder := app.Settings.WatchFolder(); folder != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Watching %s\n", folder)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Watching stopped")
			}
			return nil
		},
	})
	return cmd
}
