package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/provtrack/repostore/internal/config"
	"github.com/provtrack/repostore/internal/repostore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "REPOSTORE"

// resolveConfigPath honors, in order, an explicit --config flag, the
// REPOSTORE_CONFIG_PATH environment variable and the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath
}

// loadConfig reads the config file and overlays REPOSTORE_* environment
// variables. The result is validated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := resolveConfigPath(cmd)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg := &config.Config{
		Owner:          v.GetString("owner"),
		Repo:           v.GetString("repo"),
		Branch:         v.GetString("branch"),
		Token:          v.GetString("token"),
		APIURL:         v.GetString("api_url"),
		DataPath:       v.GetString("data_path"),
		UploadsPath:    v.GetString("uploads_path"),
		BackupsPath:    v.GetString("backups_path"),
		CacheDir:       v.GetString("cache_dir"),
		InlineCeiling:  v.GetInt64("inline_ceiling"),
		RemoteCeiling:  v.GetInt64("remote_ceiling"),
		ArchiveBackups: v.GetBool("archive_backups"),
		HTTPAddr:       v.GetString("http_addr"),
		HTTPToken:      v.GetString("http_token"),
		Path:           path,
	}
	// an explicit empty list allows every extension, so keep unset as nil
	if v.IsSet("allowed_extensions") {
		cfg.AllowedExtensions = v.GetStringSlice("allowed_extensions")
	}
	if v.IsSet("collections") {
		cfg.Collections = v.GetStringSlice("collections")
	}

	var err error
	if cfg.RequestTimeout, err = config.ParseDuration(v.Get("request_timeout")); err != nil {
		return nil, fmt.Errorf("request_timeout: %w", err)
	}
	if cfg.BackupInterval, err = config.ParseDuration(v.Get("backup_interval")); err != nil {
		return nil, fmt.Errorf("backup_interval: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w (run `repostore config set`)", err)
	}
	return cfg, nil
}

func openStore(cmd *cobra.Command, opts ...repostore.Option) (*repostore.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return repostore.Open(cfg, opts...)
}
