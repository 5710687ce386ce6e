package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/auditsync/internal/config"
	"github.com/rpattn/auditsync/internal/db"
	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/export"
	"github.com/rpattn/auditsync/internal/logging"
	"github.com/rpattn/auditsync/internal/pipeline"
	"github.com/rpattn/auditsync/internal/provider"
	"github.com/rpattn/auditsync/internal/repository"
	"github.com/rpattn/auditsync/internal/status"
	"github.com/rpattn/auditsync/internal/syncstate"
)

// SyncOptions holds flags of the sync run that are not configuration keys.
type SyncOptions struct {
	Loop bool
}

func runSync(cmd *cobra.Command, opts *RootOptions, syncOpts *SyncOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.ConfigFile, cmd.Flags())
	if err != nil {
		return err
	}
	logs, err := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logs.Close()
	logger := logs.For("auditsync")

	err = startSync(ctx, cfg, logs, syncOpts)
	if ctx.Err() != nil && !export.IsFatal(err) {
		logger.Println("interrupted, state saved up to the last completed batch")
		return nil
	}
	return err
}

func startSync(ctx context.Context, cfg config.Config, logs *logging.Logs, syncOpts *SyncOptions) error {
	logger := logs.For("auditsync")
	if err := cfg.RequireAPI(); err != nil {
		return err
	}
	formats, err := export.ParseFormats(cfg.Export.Formats)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	streams := export.Streams(formats)

	client := provider.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
	store := syncstate.New(cfg.Export.StateDir, cfg.ConfigName)

	deps := export.Deps{
		Dir:            cfg.Export.Path,
		FilenameItemID: cfg.Export.FilenameItemID,
		Preferences:    cfg.Export.Preferences,
		Provider:       client,
		Logger:         logs.For("export"),

		SkipInactiveItems: !cfg.Export.ExportInactiveItems,
		CSVNaming:         cfg.Export.CSVNaming,
		ConfigName:        cfg.ConfigName,
	}
	if needsDatabase(formats) {
		conn, err := db.NewConnection(ctx, cfg.Database.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer conn.Close()

		repoOpts := []repository.Option{
			repository.WithTableCreation(repository.TableCreationFor(cfg.Database.AllowTableCreation)),
			repository.WithPrompter(repository.NewTerminalPrompter()),
			repository.WithLogger(logs.For("sql")),
		}
		deps.AuditRows = repository.NewRowRepository(conn,
			repository.AuditTable(cfg.Database.Table, repository.KeyModeFor(cfg.Database.MergeRows)), repoOpts...)
		deps.ActionRows = repository.NewRowRepository(conn,
			repository.ActionTable(cfg.Database.ActionsTable, repository.KeyModeFor(cfg.Database.ActionsMergeRows)), repoOpts...)

		for _, f := range formats {
			var repo repository.RowRepository
			switch f {
			case export.FormatSQL:
				repo = deps.AuditRows
			case export.FormatActionsSQL:
				repo = deps.ActionRows
			default:
				continue
			}
			if err := repo.EnsureTable(ctx); err != nil {
				return err
			}
		}
	}

	sinks, err := export.New(formats, deps)
	if err != nil {
		return err
	}

	tracker := status.NewTracker(store.ConfigName(), time.Now())
	if cfg.Status.Addr != "" {
		statusLogger := logs.For("status")
		go func() {
			if err := status.Serve(ctx, cfg.Status.Addr, tracker, statusLogger); err != nil {
				statusLogger.Printf("status server failed: %v", err)
			}
		}()
	}

	settings := pipeline.Settings{
		ChunkSize:          cfg.Export.ChunkSize,
		Workers:            cfg.Export.Workers,
		MediaSyncOffset:    cfg.Export.MediaSyncOffset,
		DedupWarnThreshold: cfg.Export.DedupWarnThreshold,
		Filters: pipeline.Filters{
			TemplateIDs: cfg.Export.TemplateIDs,
			Completed:   cfg.Export.Completed,
			Archived:    cfg.Export.Archived,
		},
	}
	syncLogger := logs.For("sync")
	dispatcher := pipeline.NewDispatcher(sinks, store, syncLogger)
	runner := pipeline.NewRunner(settings, store, client, dispatcher,
		pipeline.WithActions(client),
		pipeline.WithReporter(tracker),
		pipeline.WithLogger(syncLogger),
	)

	logger.Printf("config %q: exporting %v to %s", cfg.ConfigName, formats, cfg.Export.Path)
	if syncOpts.Loop {
		return runner.Loop(ctx, streams, cfg.Export.SyncDelay)
	}
	return runner.Run(ctx, streams)
}

func needsDatabase(formats []export.Format) bool {
	for _, f := range formats {
		if f == export.FormatSQL || f == export.FormatActionsSQL {
			return true
		}
	}
	return false
}

func parseStream(value string) (domain.Stream, error) {
	switch domain.Stream(value) {
	case domain.StreamAudits, domain.StreamActions:
		return domain.Stream(value), nil
	}
	return "", fmt.Errorf("unknown stream %q (want audits or actions)", value)
}
