package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/auditsync/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			switch {
			case len(args) == 1:
				path = args[0]
			case opts.ConfigFile != "":
				path = opts.ConfigFile
			}
			if err := config.Init(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; set api.token before the first sync\n", path)
			return nil
		},
	})
	return cmd
}
