package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/provtrack/repostore/internal/controlplane"
	"github.com/provtrack/repostore/internal/repostore"
	"github.com/provtrack/repostore/internal/version"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newDaemonCmd() *cobra.Command {
	var (
		addr      string
		authToken string
		rateLimit string
	)

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Serve the store over the local control plane and run periodic backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			slog.Info("repostore", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("http-token") {
				cfg.HTTPToken = authToken
			}

			store, err := repostore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			server, err := controlplane.New(&controlplane.Config{
				Addr:      cfg.HTTPAddr,
				AuthToken: cfg.HTTPToken,
				RateLimit: rateLimit,
				MaxUpload: store.Policy().RemoteCeiling(),
			}, store)
			if err != nil {
				return err
			}

			slog.Info("daemon start", "repo", cfg.Owner+"/"+cfg.Repo, "mode", store.SyncMode(), "config", cfg.Path)
			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.Go(func() error { return server.Start(ctx) })
			eg.Go(func() error { return store.Run(ctx) })

			defer slog.Info("Bye!")
			if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon", "error", err)
				return err
			}
			return nil
		},
	}

	daemonCmd.Flags().StringVarP(&addr, "http-addr", "a", "", "address to bind the control plane (overrides http_addr)")
	daemonCmd.Flags().StringVarP(&authToken, "http-token", "t", "", "bearer token for the control plane (overrides http_token)")
	daemonCmd.Flags().StringVar(&rateLimit, "rate-limit", "", `control plane rate limit, e.g. "20-S"`)
	return daemonCmd
}
