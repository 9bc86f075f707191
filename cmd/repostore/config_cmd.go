package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/provtrack/repostore/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the repository coordinates and local settings",
	}
	configCmd.AddCommand(newConfigSetCmd(), newConfigShowCmd(), newConfigPathCmd())
	return configCmd
}

func newConfigSetCmd() *cobra.Command {
	var (
		cfg     config.Config
		timeout time.Duration
		backup  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update the config file",
		Long:  "Create or update the config file. Only the flags given are changed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)

			current, err := config.Load(path)
			if errors.Is(err, os.ErrNotExist) {
				current = config.Default()
			} else if err != nil {
				return err
			}
			current.Path = path

			flags := cmd.Flags()
			set := func(name string, apply func()) {
				if flags.Changed(name) {
					apply()
				}
			}
			set("owner", func() { current.Owner = cfg.Owner })
			set("repo", func() { current.Repo = cfg.Repo })
			set("branch", func() { current.Branch = cfg.Branch })
			set("token", func() { current.Token = cfg.Token })
			set("api-url", func() { current.APIURL = cfg.APIURL })
			set("data-path", func() { current.DataPath = cfg.DataPath })
			set("uploads-path", func() { current.UploadsPath = cfg.UploadsPath })
			set("backups-path", func() { current.BackupsPath = cfg.BackupsPath })
			set("cache-dir", func() { current.CacheDir = cfg.CacheDir })
			set("inline-ceiling", func() { current.InlineCeiling = cfg.InlineCeiling })
			set("remote-ceiling", func() { current.RemoteCeiling = cfg.RemoteCeiling })
			set("allowed-extensions", func() { current.AllowedExtensions = cfg.AllowedExtensions })
			set("request-timeout", func() { current.RequestTimeout = config.Duration(timeout) })
			set("backup-interval", func() { current.BackupInterval = config.Duration(backup) })
			set("archive-backups", func() { current.ArchiveBackups = cfg.ArchiveBackups })
			set("collections", func() { current.Collections = cfg.Collections })
			set("http-addr", func() { current.HTTPAddr = cfg.HTTPAddr })
			set("http-token", func() { current.HTTPToken = cfg.HTTPToken })

			if err := current.Validate(); err != nil {
				return err
			}
			if err := current.Save(path); err != nil {
				return err
			}
			slog.Info("config saved", "path", path, "repo", current.Owner+"/"+current.Repo)
			return printJSON(cmd, current.Redacted())
		},
	}

	f := cmd.Flags()
	f.SortFlags = false
	f.StringVar(&cfg.Owner, "owner", "", "repository owner")
	f.StringVar(&cfg.Repo, "repo", "", "repository name")
	f.StringVar(&cfg.Branch, "branch", config.DefaultBranch, "branch holding the data")
	f.StringVar(&cfg.Token, "token", "", "access token with contents read/write permission")
	f.StringVar(&cfg.APIURL, "api-url", config.DefaultAPIURL, "contents API base URL")
	f.StringVar(&cfg.DataPath, "data-path", config.DefaultDataPath, "repository folder for collections")
	f.StringVar(&cfg.UploadsPath, "uploads-path", config.DefaultUploadsPath, "repository folder for file blobs")
	f.StringVar(&cfg.BackupsPath, "backups-path", config.DefaultBackupsPath, "repository folder for archive backups")
	f.StringVar(&cfg.CacheDir, "cache-dir", config.DefaultCacheDir, "local cache directory")
	f.Int64Var(&cfg.InlineCeiling, "inline-ceiling", 0, "largest file stored inline, in bytes (0 = default)")
	f.Int64Var(&cfg.RemoteCeiling, "remote-ceiling", 0, "largest file accepted, in bytes (0 = default)")
	f.StringSliceVar(&cfg.AllowedExtensions, "allowed-extensions", nil, "accepted file extensions (empty = any)")
	f.DurationVar(&timeout, "request-timeout", config.DefaultRequestTimeout, "timeout of a single API request")
	f.DurationVar(&backup, "backup-interval", config.DefaultBackupInterval, "period of automatic backups in hybrid mode (0 = off)")
	f.BoolVar(&cfg.ArchiveBackups, "archive-backups", false, "also keep a timestamped copy of every backup")
	f.StringSliceVar(&cfg.Collections, "collections", nil, "collection names or globs included in bulk backups")
	f.StringVar(&cfg.HTTPAddr, "http-addr", config.DefaultHTTPAddr, "control plane listen address")
	f.StringVar(&cfg.HTTPToken, "http-token", "", "control plane bearer token")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd, cfg.Redacted())
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath(cmd))
			return err
		},
	}
}
