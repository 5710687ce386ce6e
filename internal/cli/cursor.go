package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/rpattn/auditsync/internal/config"
	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/syncstate"
)

// NewCursorCommand creates the cursor command group.
func NewCursorCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or rewind the sync cursors",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [stream]",
		Short: "Print the cursor of each stream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(opts)
			if err != nil {
				return err
			}
			streams := []domain.Stream{domain.StreamAudits, domain.StreamActions}
			if len(args) == 1 {
				stream, err := parseStream(args[0])
				if err != nil {
					return err
				}
				streams = []domain.Stream{stream}
			}
			for _, stream := range streams {
				ts, err := store.Cursor(stream)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", stream, syncstate.FormatCursor(ts))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <stream> <time>",
		Short: "Overwrite a cursor, e.g. to re-export everything since \"2 weeks ago\"",
		Long: "Sets the cursor of a stream. The time may be RFC 3339 (2024-01-31T00:00:00Z), " +
			"a date (2024-01-31) or a phrase such as \"2 weeks ago\" or \"last monday\".",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, err := parseStream(args[0])
			if err != nil {
				return err
			}
			ts, err := parseTime(strings.Join(args[1:], " "), time.Now())
			if err != nil {
				return err
			}
			store, err := openStore(opts)
			if err != nil {
				return err
			}
			if err := store.SetCursor(stream, ts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s cursor set to %s\n", stream, syncstate.FormatCursor(ts))
			return nil
		},
	})
	return cmd
}

func openStore(opts *RootOptions) (*syncstate.Store, error) {
	cfg, err := config.Load(opts.ConfigFile, nil)
	if err != nil {
		return nil, err
	}
	return syncstate.New(cfg.Export.StateDir, cfg.ConfigName), nil
}

// parseTime accepts the cursor layout, RFC 3339, a bare date, or natural
// language relative to now.
func parseTime(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if ts, err := syncstate.ParseCursor(text); err == nil {
		return ts, nil
	}
	if ts, err := time.ParseInLocation(time.DateOnly, text, time.UTC); err == nil {
		return ts, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", text)
	}
	return result.Time.UTC(), nil
}
