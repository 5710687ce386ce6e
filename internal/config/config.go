package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/auditsync/internal/db"
	"github.com/rpattn/auditsync/internal/export"
	"github.com/rpattn/auditsync/internal/provider"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is built once per run and passed to every component.
type Config struct {
	ConfigName string
	// File is the configuration file that was read, if any.
	File string

	API      APIConfig
	Export   ExportConfig
	Database DatabaseConfig
	Log      LogConfig
	Status   StatusConfig
}

// APIConfig holds provider credentials.
type APIConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// ExportConfig drives discovery and the sinks.
type ExportConfig struct {
	Path               string
	Formats            []string
	TemplateIDs        []string
	FilenameItemID     string
	Preferences        map[string]string
	Archived           provider.Filter
	Completed          provider.Filter
	SyncDelay          time.Duration
	MediaSyncOffset    time.Duration
	ChunkSize          int
	Workers            int
	DedupWarnThreshold int
	StateDir           string

	// ExportInactiveItems keeps items hidden by template logic in CSV and
	// SQL rows. Always on when database.merge_rows is set.
	ExportInactiveItems bool
	CSVNaming           export.CSVNaming
}

// DatabaseConfig holds the connection plus table settings.
type DatabaseConfig struct {
	db.Config
	Table            string
	ActionsTable     string
	MergeRows        bool
	ActionsMergeRows bool
	// AllowTableCreation is nil when unset, which means ask.
	AllowTableCreation *bool
}

// LogConfig controls the rotated log file.
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// StatusConfig controls the optional status server.
type StatusConfig struct {
	Addr string
}

// Validate checks settings every command relies on.
func (c Config) Validate() error {
	var problems []string
	if strings.ContainsAny(c.ConfigName, `/\`) {
		problems = append(problems, "config_name must not contain path separators")
	}
	if c.Export.ChunkSize <= 0 {
		problems = append(problems, "export.chunk_size must be positive")
	}
	if c.Export.Workers <= 0 {
		problems = append(problems, "export.workers must be positive")
	}
	if c.Export.SyncDelay <= 0 {
		problems = append(problems, "export.sync_delay must be positive")
	}
	if c.Export.MediaSyncOffset < 0 {
		problems = append(problems, "export.media_sync_offset must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// RequireAPI checks the settings needed to talk to the provider.
func (c Config) RequireAPI() error {
	if strings.TrimSpace(c.API.Token) == "" {
		return fmt.Errorf("%w: api.token is required", ErrInvalid)
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("%w: api.base_url is required", ErrInvalid)
	}
	return nil
}

// ParseFilter accepts a bool or one of "true", "false", "both".
func ParseFilter(value any) (provider.Filter, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case bool:
		if v {
			return provider.FilterTrue, nil
		}
		return provider.FilterFalse, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return provider.FilterTrue, nil
		case "false", "no":
			return provider.FilterFalse, nil
		case "both", "":
			return provider.FilterBoth, nil
		}
	}
	return "", fmt.Errorf("%w: expected true, false or both, got %v", ErrInvalid, value)
}

// ParsePreferences splits "template_id:preference_id" entries.
func ParsePreferences(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		templateID, preferenceID, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || templateID == "" || preferenceID == "" {
			return nil, fmt.Errorf("%w: preference %q is not template_id:preference_id", ErrInvalid, entry)
		}
		out[templateID] = preferenceID
	}
	return out, nil
}

// ParseCSVNaming maps use_real_template_name: false names CSV files by
// template ID, true by "<template name> - <template id>", and single_file
// writes one file per configuration.
func ParseCSVNaming(value any) (export.CSVNaming, error) {
	switch v := value.(type) {
	case nil:
		return export.CSVByTemplateID, nil
	case bool:
		if v {
			return export.CSVByTemplateName, nil
		}
		return export.CSVByTemplateID, nil
	case string:
		v = strings.ToLower(strings.TrimSpace(v))
		switch {
		case v == "" || v == "false":
			return export.CSVByTemplateID, nil
		case v == "true":
			return export.CSVByTemplateName, nil
		case strings.HasPrefix(v, "single_file"):
			return export.CSVSingleFile, nil
		}
	}
	return 0, fmt.Errorf("%w: use_real_template_name must be true, false or single_file, got %v", ErrInvalid, value)
}
