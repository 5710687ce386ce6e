package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/rpattn/auditsync/internal/db"
	"github.com/rpattn/auditsync/internal/export"
	"github.com/rpattn/auditsync/internal/provider"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
config_name: north
api:
  token: abc
export:
  formats: [csv, sql]
  archived: both
  completed: false
  chunk_size: 250
  media_sync_offset: 30
  preferences:
    - template_1:pref_1
database:
  type: mysql
  merge_rows: true
  allow_table_creation: false
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if cfg.ConfigName != "north" || cfg.API.Token != "abc" {
		t.Fatalf("unexpected identity %+v", cfg)
	}
	if len(cfg.Export.Formats) != 2 || cfg.Export.Formats[1] != "sql" {
		t.Fatalf("unexpected formats %v", cfg.Export.Formats)
	}
	if cfg.Export.Archived != provider.FilterBoth || cfg.Export.Completed != provider.FilterFalse {
		t.Fatalf("unexpected filters %q %q", cfg.Export.Archived, cfg.Export.Completed)
	}
	if cfg.Export.ChunkSize != 250 || cfg.Export.MediaSyncOffset != 30*time.Second {
		t.Fatalf("unexpected chunking %+v", cfg.Export)
	}
	if cfg.Export.SyncDelay != 900*time.Second {
		t.Fatalf("expected default sync delay, got %s", cfg.Export.SyncDelay)
	}
	if cfg.Export.Preferences["template_1"] != "pref_1" {
		t.Fatalf("unexpected preferences %v", cfg.Export.Preferences)
	}
	if cfg.Database.Dialect != db.MySQL || cfg.Database.Port != 3306 || !cfg.Database.MergeRows {
		t.Fatalf("unexpected database %+v", cfg.Database)
	}
	if cfg.Database.AllowTableCreation == nil || *cfg.Database.AllowTableCreation {
		t.Fatalf("expected allow_table_creation=false, got %v", cfg.Database.AllowTableCreation)
	}
}

func TestLoad_EnvironmentAndFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "export:\n  chunk_size: 50\n  formats: [json]\n")
	t.Setenv("AUDITSYNC_API_TOKEN", "from-env")
	t.Setenv("AUDITSYNC_EXPORT_CHUNK_SIZE", "75")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringSlice("format", nil, "")
	flags.Int("chunks", 0, "")
	if err := flags.Parse([]string{"--format", "csv,pdf"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.API.Token != "from-env" {
		t.Fatalf("expected token from env, got %q", cfg.API.Token)
	}
	if cfg.Export.ChunkSize != 75 {
		t.Fatalf("expected env chunk size, got %d", cfg.Export.ChunkSize)
	}
	if len(cfg.Export.Formats) != 2 || cfg.Export.Formats[0] != "csv" || cfg.Export.Formats[1] != "pdf" {
		t.Fatalf("expected formats from flag, got %v", cfg.Export.Formats)
	}
	if cfg.Database.AllowTableCreation != nil {
		t.Fatalf("allow_table_creation should be unset")
	}
}

func TestLoad_InactiveItemsAndCSVNaming(t *testing.T) {
	cfg, err := Load(writeConfig(t, "export:\n  export_inactive_items: false\n  use_real_template_name: single_file\n"), nil)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.Export.ExportInactiveItems {
		t.Fatalf("expected inactive items to be skipped")
	}
	if cfg.Export.CSVNaming != export.CSVSingleFile {
		t.Fatalf("expected single file naming, got %v", cfg.Export.CSVNaming)
	}

	merged, err := Load(writeConfig(t, "export:\n  export_inactive_items: false\n  use_real_template_name: true\ndatabase:\n  merge_rows: true\n"), nil)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if !merged.Export.ExportInactiveItems {
		t.Fatalf("merge_rows must turn inactive item export on")
	}
	if merged.Export.CSVNaming != export.CSVByTemplateName {
		t.Fatalf("expected template name naming, got %v", merged.Export.CSVNaming)
	}

	def := Default()
	if !def.Export.ExportInactiveItems || def.Export.CSVNaming != export.CSVByTemplateID {
		t.Fatalf("unexpected defaults %+v", def.Export)
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"chunk size": "export:\n  chunk_size: 0\n",
		"filter":     "export:\n  archived: sometimes\n",
		"dialect":    "database:\n  type: oracle\n",
		"preference": "export:\n  preferences: [nocolon]\n",
		"name":       "config_name: ../escape\n",
		"naming":     "export:\n  use_real_template_name: sometimes\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body), nil)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestInit_WritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Init(path); err != nil {
		t.Fatalf("init returned error: %v", err)
	}
	if err := Init(path); !errors.Is(err, ErrConfigExists) {
		t.Fatalf("expected ErrConfigExists on second init, got %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load of generated config failed: %v", err)
	}
	def := Default()
	if cfg.Export.ChunkSize != def.Export.ChunkSize || cfg.Export.Completed != provider.FilterTrue ||
		cfg.Database.Table != "iauditor_data" || cfg.Database.AllowTableCreation != nil {
		t.Fatalf("generated config does not match defaults: %+v", cfg)
	}
	if err := cfg.RequireAPI(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected missing token to be reported, got %v", err)
	}
}
