package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigFile string
}

// NewRootCommand creates the auditsync command tree. Running the root
// command performs a sync.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	syncOpts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "auditsync",
		Short: "Incrementally export inspection records to files and SQL",
		Long: "auditsync discovers audits and actions modified since the last successful run, " +
			"exports them to the configured formats and advances a durable cursor.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, syncOpts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "configuration file (default ./config.yaml)")

	flags := cmd.Flags()
	flags.StringSlice("format", nil, "export formats (json, csv, excel, pdf, docx, media, actions, web-report-link, sql, actions-sql)")
	flags.Int("chunks", 0, "records retrieved per batch")
	flags.String("status-addr", "", "serve /healthz and /status on this address")
	flags.String("log-file", "", "rotated log file")
	flags.BoolVar(&syncOpts.Loop, "loop", false, "keep syncing every sync_delay seconds until interrupted")

	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewCursorCommand(opts))

	return cmd
}
