package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rpattn/auditsync/internal/db"
)

// flagKeys maps CLI flags onto configuration keys.
var flagKeys = map[string]string{
	"format":      "export.formats",
	"chunks":      "export.chunk_size",
	"status-addr": "status.addr",
	"log-file":    "log.file",
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()

	v.SetDefault("config_name", "default")
	v.SetDefault("api.base_url", "https://api.safetyculture.io")
	v.SetDefault("api.timeout", "60s")
	v.SetDefault("export.path", "./exports")
	v.SetDefault("export.formats", []string{"csv"})
	v.SetDefault("export.template_ids", []string{})
	v.SetDefault("export.preferences", []string{})
	v.SetDefault("export.export_inactive_items", true)
	v.SetDefault("export.use_real_template_name", false)
	v.SetDefault("export.archived", "false")
	v.SetDefault("export.completed", "true")
	v.SetDefault("export.sync_delay", 900)
	v.SetDefault("export.media_sync_offset", 600)
	v.SetDefault("export.chunk_size", 100)
	v.SetDefault("export.workers", 10)
	v.SetDefault("export.dedup_warn_threshold", 1000)
	v.SetDefault("export.state_dir", ".")
	v.SetDefault("database.type", string(dbDefaults.Dialect))
	v.SetDefault("database.server", dbDefaults.Host)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.name", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.table", "iauditor_data")
	v.SetDefault("database.actions_table", "iauditor_actions_data")
	v.SetDefault("log.file", "logs/auditsync.log")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads configuration from configFile (or ./config.yaml when empty),
// environment variables prefixed AUDITSYNC_, and any changed flags in
// flags. A missing explicit file is an error; a missing default file is not.
func Load(configFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AUDITSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // allow environment overrides
	// AutomaticEnv only covers keys viper already knows about.
	_ = v.BindEnv("api.token")
	_ = v.BindEnv("database.password")
	_ = v.BindEnv("database.dsn")
	_ = v.BindEnv("database.allow_table_creation")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		ConfigName: strings.TrimSpace(v.GetString("config_name")),
		File:       v.ConfigFileUsed(),
	}

	cfg.API = APIConfig{
		Token:   strings.TrimSpace(v.GetString("api.token")),
		BaseURL: v.GetString("api.base_url"),
		Timeout: v.GetDuration("api.timeout"),
	}

	archived, err := ParseFilter(v.Get("export.archived"))
	if err != nil {
		return Config{}, fmt.Errorf("export.archived: %w", err)
	}
	completed, err := ParseFilter(v.Get("export.completed"))
	if err != nil {
		return Config{}, fmt.Errorf("export.completed: %w", err)
	}
	preferences, err := ParsePreferences(v.GetStringSlice("export.preferences"))
	if err != nil {
		return Config{}, err
	}
	csvNaming, err := ParseCSVNaming(v.Get("export.use_real_template_name"))
	if err != nil {
		return Config{}, err
	}
	cfg.Export = ExportConfig{
		Path:                v.GetString("export.path"),
		Formats:             splitList(v.GetStringSlice("export.formats")),
		TemplateIDs:         splitList(v.GetStringSlice("export.template_ids")),
		FilenameItemID:      strings.TrimSpace(v.GetString("export.filename_item_id")),
		Preferences:         preferences,
		ExportInactiveItems: v.GetBool("export.export_inactive_items"),
		CSVNaming:           csvNaming,
		Archived:            archived,
		Completed:           completed,
		SyncDelay:           time.Duration(v.GetInt("export.sync_delay")) * time.Second,
		MediaSyncOffset:     time.Duration(v.GetInt("export.media_sync_offset")) * time.Second,
		ChunkSize:           v.GetInt("export.chunk_size"),
		Workers:             v.GetInt("export.workers"),
		DedupWarnThreshold:  v.GetInt("export.dedup_warn_threshold"),
		StateDir:            v.GetString("export.state_dir"),
	}

	dialect, err := db.ParseDialect(v.GetString("database.type"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: database.type: %v", ErrInvalid, err)
	}
	port := v.GetInt("database.port")
	if port == 0 {
		port = dialect.DefaultPort()
	}
	cfg.Database = DatabaseConfig{
		Config: db.Config{
			Dialect:  dialect,
			Host:     v.GetString("database.server"),
			Port:     port,
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.name"),
			Schema:   v.GetString("database.schema"),
			SSLMode:  v.GetString("database.sslmode"),
			DSN:      v.GetString("database.dsn"),
		},
		Table:            v.GetString("database.table"),
		ActionsTable:     v.GetString("database.actions_table"),
		MergeRows:        v.GetBool("database.merge_rows"),
		ActionsMergeRows: v.GetBool("database.actions_merge_rows"),
	}
	if cfg.Database.MergeRows {
		// Merged rows must see items turning inactive.
		cfg.Export.ExportInactiveItems = true
	}
	if v.IsSet("database.allow_table_creation") && strings.TrimSpace(v.GetString("database.allow_table_creation")) != "" {
		allow := v.GetBool("database.allow_table_creation")
		cfg.Database.AllowTableCreation = &allow
	}

	cfg.Log = LogConfig{
		File:       v.GetString("log.file"),
		MaxSizeMB:  v.GetInt("log.max_size_mb"),
		MaxBackups: v.GetInt("log.max_backups"),
		MaxAgeDays: v.GetInt("log.max_age_days"),
	}
	cfg.Status = StatusConfig{Addr: v.GetString("status.addr")}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitList flattens comma separated entries ("csv,sql") and trims blanks.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
