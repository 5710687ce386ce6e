package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by Init when the target file already exists.
var ErrConfigExists = errors.New("config file already exists")

type apiDocument struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

type exportDocument struct {
	Path               string   `yaml:"path"`
	Formats            []string `yaml:"formats"`
	TemplateIDs        []string `yaml:"template_ids"`
	FilenameItemID     string   `yaml:"filename_item_id"`
	Preferences        []string `yaml:"preferences"`
	Archived           string   `yaml:"archived"`
	Completed          string   `yaml:"completed"`
	SyncDelay          int      `yaml:"sync_delay"`
	MediaSyncOffset    int      `yaml:"media_sync_offset"`
	ChunkSize          int      `yaml:"chunk_size"`
	Workers            int      `yaml:"workers"`
	DedupWarnThreshold int      `yaml:"dedup_warn_threshold"`
	StateDir           string   `yaml:"state_dir"`

	ExportInactiveItems bool   `yaml:"export_inactive_items"`
	UseRealTemplateName string `yaml:"use_real_template_name"`
}

type databaseDocument struct {
	Type               string `yaml:"type"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Server             string `yaml:"server"`
	Port               int    `yaml:"port"`
	Name               string `yaml:"name"`
	Schema             string `yaml:"schema"`
	Table              string `yaml:"table"`
	ActionsTable       string `yaml:"actions_table"`
	DSN                string `yaml:"dsn"`
	MergeRows          bool   `yaml:"merge_rows"`
	ActionsMergeRows   bool   `yaml:"actions_merge_rows"`
	AllowTableCreation *bool  `yaml:"allow_table_creation"`
}

type logDocument struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type document struct {
	ConfigName string           `yaml:"config_name"`
	API        apiDocument      `yaml:"api"`
	Export     exportDocument   `yaml:"export"`
	Database   databaseDocument `yaml:"database"`
	Log        logDocument      `yaml:"log"`
	Status     struct {
		Addr string `yaml:"addr"`
	} `yaml:"status"`
}

// Default returns the built-in configuration, ignoring files and the
// environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := fromViper(v)
	if err != nil {
		panic(fmt.Sprintf("built-in defaults are invalid: %v", err))
	}
	return cfg
}

// Init writes a default configuration file to path. An existing file is
// never overwritten.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	cfg := Default()
	doc := document{ConfigName: cfg.ConfigName}
	doc.API = apiDocument{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout.String()}
	doc.Export = exportDocument{
		Path:               cfg.Export.Path,
		Formats:            cfg.Export.Formats,
		TemplateIDs:        []string{},
		Preferences:        []string{},
		Archived:           string(cfg.Export.Archived),
		Completed:          string(cfg.Export.Completed),
		SyncDelay:          int(cfg.Export.SyncDelay.Seconds()),
		MediaSyncOffset:    int(cfg.Export.MediaSyncOffset.Seconds()),
		ChunkSize:          cfg.Export.ChunkSize,
		Workers:            cfg.Export.Workers,
		DedupWarnThreshold: cfg.Export.DedupWarnThreshold,
		StateDir:           cfg.Export.StateDir,

		ExportInactiveItems: cfg.Export.ExportInactiveItems,
		UseRealTemplateName: "false",
	}
	doc.Database = databaseDocument{
		Type:         string(cfg.Database.Dialect),
		User:         cfg.Database.User,
		Server:       cfg.Database.Host,
		Port:         cfg.Database.Port,
		Name:         cfg.Database.DBName,
		Table:        cfg.Database.Table,
		ActionsTable: cfg.Database.ActionsTable,
	}
	doc.Log = logDocument{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
